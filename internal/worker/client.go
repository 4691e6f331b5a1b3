package worker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Timeouts for worker API calls.
const (
	searchTimeout  = 3 * time.Second
	batchTimeout   = 5 * time.Second
	sessionTimeout = 2 * time.Second
	contextTimeout = 2 * time.Second
)

// Endpoint resolves the worker origin. *Manager satisfies it.
type Endpoint interface {
	BaseURL() string
}

// StatusError reports a non-2xx answer from the worker.
type StatusError struct {
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("worker %s: status %d", e.Path, e.StatusCode)
}

// TextResult is a worker payload shaped as {"content":[{"type":"text","text":...}]}.
type TextResult struct {
	// Text is content[0].text, empty when the payload carries none.
	Text string
	Body []byte
}

// Pretty returns the body as indented JSON, or as-is when it is not JSON.
func (r *TextResult) Pretty() string {
	return prettyJSON(r.Body)
}

// SearchParams are the query parameters of GET /api/search. Nil and empty fields are omitted.
type SearchParams struct {
	Limit     *int
	Offset    *int
	Query     string
	Type      string
	ObsType   string
	Project   string
	DateStart string
	DateEnd   string
	OrderBy   string
}

// Values encodes the non-empty parameters.
func (p SearchParams) Values() url.Values {
	v := url.Values{}
	setString(v, "query", p.Query)
	setInt(v, "limit", p.Limit)
	setInt(v, "offset", p.Offset)
	setString(v, "type", p.Type)
	setString(v, "obs_type", p.ObsType)
	setString(v, "project", p.Project)
	setString(v, "dateStart", p.DateStart)
	setString(v, "dateEnd", p.DateEnd)
	setString(v, "orderBy", p.OrderBy)
	return v
}

// TimelineParams are the query parameters of GET /api/timeline.
type TimelineParams struct {
	Anchor      *int64
	DepthBefore *int
	DepthAfter  *int
	Query       string
	Project     string
}

// Values encodes the non-empty parameters.
func (p TimelineParams) Values() url.Values {
	v := url.Values{}
	if p.Anchor != nil {
		v.Set("anchor", strconv.FormatInt(*p.Anchor, 10))
	}
	setString(v, "query", p.Query)
	setInt(v, "depth_before", p.DepthBefore)
	setInt(v, "depth_after", p.DepthAfter)
	setString(v, "project", p.Project)
	return v
}

// BatchRequest is the body of POST /api/observations/batch.
type BatchRequest struct {
	Limit   *int    `json:"limit,omitempty"`
	OrderBy string  `json:"orderBy,omitempty"`
	Project string  `json:"project,omitempty"`
	IDs     []int64 `json:"ids"`
}

// SaveMemoryRequest is the body of POST /api/memory/save.
type SaveMemoryRequest struct {
	Text    string `json:"text"`
	Title   string `json:"title,omitempty"`
	Project string `json:"project,omitempty"`
}

// SaveMemoryResponse carries the worker's confirmation message, if any.
type SaveMemoryResponse struct {
	Message string
	Body    []byte
}

// InitSessionRequest is the body of POST /api/sessions/init.
type InitSessionRequest struct {
	ContentSessionID string `json:"contentSessionId"`
	Project          string `json:"project"`
	Prompt           string `json:"prompt"`
}

// SummarizeRequest is the body of POST /api/sessions/summarize.
type SummarizeRequest struct {
	ContentSessionID     string `json:"contentSessionId"`
	LastAssistantMessage string `json:"last_assistant_message"`
}

// ToolResponse is the recorded outcome of a tool call.
type ToolResponse struct {
	Metadata any    `json:"metadata,omitempty"`
	Title    string `json:"title"`
	Output   string `json:"output"`
}

// ObservationEvent is the body of POST /api/sessions/observations.
type ObservationEvent struct {
	ToolInput        any          `json:"tool_input"`
	ToolResponse     ToolResponse `json:"tool_response"`
	ContentSessionID string       `json:"contentSessionId"`
	ToolName         string       `json:"tool_name"`
	Cwd              string       `json:"cwd"`
}

// Client calls the worker HTTP API. The base URL is resolved on every call.
type Client struct {
	endpoint Endpoint
	hc       *http.Client
}

// NewClient creates a client. A nil hc uses http.DefaultClient.
func NewClient(endpoint Endpoint, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{endpoint: endpoint, hc: hc}
}

// Search queries the worker's search endpoint.
func (c *Client) Search(ctx context.Context, p SearchParams) (*TextResult, error) {
	return c.SearchRaw(ctx, p.Values().Encode())
}

// SearchRaw queries the search endpoint with an already encoded query string.
func (c *Client) SearchRaw(ctx context.Context, rawQuery string) (*TextResult, error) {
	return c.getText(ctx, "/api/search", rawQuery, searchTimeout)
}

// Timeline fetches chronological context around an anchor or query.
func (c *Client) Timeline(ctx context.Context, p TimelineParams) (*TextResult, error) {
	return c.getText(ctx, "/api/timeline", p.Values().Encode(), searchTimeout)
}

// GetObservations fetches full observation records. The raw JSON body is returned.
func (c *Client) GetObservations(ctx context.Context, req BatchRequest) ([]byte, error) {
	if req.IDs == nil {
		req.IDs = []int64{}
	}
	resp, err := c.post(ctx, "/api/observations/batch", req, batchTimeout)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// SaveMemory stores a manual memory.
func (c *Client) SaveMemory(ctx context.Context, req SaveMemoryRequest) (*SaveMemoryResponse, error) {
	resp, err := c.post(ctx, "/api/memory/save", req, batchTimeout)
	if err != nil {
		return nil, err
	}

	out := &SaveMemoryResponse{Body: resp.Body}
	var body map[string]any
	if resp.DecodeJSON(&body) == nil {
		if msg, ok := body["message"].(string); ok {
			out.Message = msg
		}
	}
	return out, nil
}

// InitSession announces a user prompt.
func (c *Client) InitSession(ctx context.Context, req InitSessionRequest) error {
	_, err := c.post(ctx, "/api/sessions/init", req, sessionTimeout)
	return err
}

// CompleteSession marks a session as finished.
func (c *Client) CompleteSession(ctx context.Context, sessionID string) error {
	body := map[string]string{"contentSessionId": sessionID}
	_, err := c.post(ctx, "/api/sessions/complete", body, sessionTimeout)
	return err
}

// SummarizeSession asks the worker to summarize before compaction.
func (c *Client) SummarizeSession(ctx context.Context, req SummarizeRequest) error {
	_, err := c.post(ctx, "/api/sessions/summarize", req, sessionTimeout)
	return err
}

// RecordObservation relays one tool execution.
func (c *Client) RecordObservation(ctx context.Context, ev ObservationEvent) error {
	if ev.ToolInput == nil {
		ev.ToolInput = map[string]any{}
	}
	_, err := c.post(ctx, "/api/sessions/observations", ev, sessionTimeout)
	return err
}

// ContextInject returns the context block prepared for project, trimmed.
func (c *Client) ContextInject(ctx context.Context, project string) (string, error) {
	q := url.Values{}
	q.Set("projects", project)
	resp, err := c.get(ctx, "/api/context/inject", q.Encode(), contextTimeout)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(resp.Body)), nil
}

func (c *Client) getText(ctx context.Context, path, rawQuery string, timeout time.Duration) (*TextResult, error) {
	resp, err := c.get(ctx, path, rawQuery, timeout)
	if err != nil {
		return nil, err
	}
	return &TextResult{Text: ExtractText(resp.Body), Body: resp.Body}, nil
}

func (c *Client) get(ctx context.Context, path, rawQuery string, timeout time.Duration) (*Response, error) {
	u := c.endpoint.BaseURL() + path
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return c.do(ctx, path, Request{URL: u, Timeout: timeout})
}

func (c *Client) post(ctx context.Context, path string, body any, timeout time.Duration) (*Response, error) {
	return c.do(ctx, path, Request{
		Method:  http.MethodPost,
		URL:     c.endpoint.BaseURL() + path,
		Body:    body,
		Timeout: timeout,
	})
}

func (c *Client) do(ctx context.Context, path string, req Request) (*Response, error) {
	resp, err := Do(ctx, c.hc, req)
	if err != nil {
		return nil, fmt.Errorf("worker %s: %w", path, err)
	}
	if !resp.OK() {
		return nil, &StatusError{Path: path, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// ExtractText returns content[0].text from a worker payload, or "" when absent.
func ExtractText(body []byte) string {
	var payload struct {
		Content []struct {
			Text any `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Content) == 0 {
		return ""
	}
	text, _ := payload.Content[0].Text.(string)
	return text
}

func prettyJSON(body []byte) string {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(body)
	}
	return string(out)
}

func setString(v url.Values, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}

func setInt(v url.Values, key string, value *int) {
	if value != nil {
		v.Set(key, strconv.Itoa(*value))
	}
}
