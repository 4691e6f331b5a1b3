package worker

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticEndpoint string

func (e staticEndpoint) BaseURL() string { return string(e) }

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   map[string]any
}

// recordingWorker answers every request with handler and keeps what it saw.
type recordingWorker struct {
	srv      *httptest.Server
	requests []recordedRequest
	mu       sync.Mutex
}

func newRecordingWorker(t *testing.T, handler http.HandlerFunc) *recordingWorker {
	rw := &recordingWorker{}
	rw.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery}
		if b, _ := io.ReadAll(r.Body); len(b) > 0 {
			_ = json.Unmarshal(b, &rec.Body)
		}
		rw.mu.Lock()
		rw.requests = append(rw.requests, rec)
		rw.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(rw.srv.Close)
	return rw
}

func (rw *recordingWorker) Last() recordedRequest {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.requests[len(rw.requests)-1]
}

func (rw *recordingWorker) Client() *Client {
	return NewClient(staticEndpoint(rw.srv.URL), rw.srv.Client())
}

func textPayload(text string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{
			"content": []map[string]any{{"type": "text", "text": text}},
		})
	}
}

func intPtr(v int) *int { return &v }

func TestClient_Search(t *testing.T) {
	rw := newRecordingWorker(t, textPayload("Found 2 results"))

	res, err := rw.Client().Search(context.Background(), SearchParams{
		Query:   "auth bug",
		Limit:   intPtr(5),
		Offset:  intPtr(0),
		ObsType: "bugfix",
		Project: "api",
	})
	require.NoError(t, err)
	assert.Equal(t, "Found 2 results", res.Text)

	last := rw.Last()
	assert.Equal(t, "/api/search", last.Path)
	assert.Equal(t, "limit=5&obs_type=bugfix&offset=0&project=api&query=auth+bug", last.Query)
}

func TestClient_SearchStatusError(t *testing.T) {
	rw := newRecordingWorker(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := rw.Client().Search(context.Background(), SearchParams{Query: "x"})

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "/api/search", se.Path)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
}

func TestClient_SearchWithoutText(t *testing.T) {
	rw := newRecordingWorker(t, func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{"results": []int{1}})
	})

	res, err := rw.Client().Search(context.Background(), SearchParams{})
	require.NoError(t, err)
	assert.Empty(t, res.Text)
	assert.Equal(t, "{\n  \"results\": [\n    1\n  ]\n}", res.Pretty())
	assert.Empty(t, rw.Last().Query)
}

func TestClient_Timeline(t *testing.T) {
	rw := newRecordingWorker(t, textPayload("timeline"))
	anchor := int64(42)

	res, err := rw.Client().Timeline(context.Background(), TimelineParams{
		Anchor:      &anchor,
		DepthBefore: intPtr(3),
		Project:     "api",
	})
	require.NoError(t, err)
	assert.Equal(t, "timeline", res.Text)
	assert.Equal(t, "/api/timeline", rw.Last().Path)
	assert.Equal(t, "anchor=42&depth_before=3&project=api", rw.Last().Query)
}

func TestClient_GetObservations(t *testing.T) {
	rw := newRecordingWorker(t, func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, []map[string]any{{"id": 1}})
	})

	body, err := rw.Client().GetObservations(context.Background(), BatchRequest{IDs: []int64{1, 2}, OrderBy: "date_asc"})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":1}]`, string(body))

	last := rw.Last()
	assert.Equal(t, http.MethodPost, last.Method)
	assert.Equal(t, "/api/observations/batch", last.Path)
	assert.Equal(t, []any{float64(1), float64(2)}, last.Body["ids"])
	assert.Equal(t, "date_asc", last.Body["orderBy"])
	assert.NotContains(t, last.Body, "limit")
}

func TestClient_SaveMemory(t *testing.T) {
	t.Run("message", func(t *testing.T) {
		rw := newRecordingWorker(t, func(w http.ResponseWriter, r *http.Request) {
			writeTestJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Saved #7"})
		})

		res, err := rw.Client().SaveMemory(context.Background(), SaveMemoryRequest{Text: "remember", Project: "api"})
		require.NoError(t, err)
		assert.Equal(t, "Saved #7", res.Message)
		assert.Equal(t, map[string]any{"text": "remember", "project": "api"}, rw.Last().Body)
	})

	t.Run("no message", func(t *testing.T) {
		rw := newRecordingWorker(t, func(w http.ResponseWriter, r *http.Request) {
			writeTestJSON(w, http.StatusOK, map[string]any{"id": 7})
		})

		res, err := rw.Client().SaveMemory(context.Background(), SaveMemoryRequest{Text: "remember"})
		require.NoError(t, err)
		assert.Empty(t, res.Message)
		assert.JSONEq(t, `{"id":7}`, string(res.Body))
	})
}

func TestClient_SessionRelays(t *testing.T) {
	rw := newRecordingWorker(t, func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{"status": "queued"})
	})
	c := rw.Client()
	ctx := context.Background()

	require.NoError(t, c.InitSession(ctx, InitSessionRequest{ContentSessionID: "s1", Project: "api", Prompt: "hi"}))
	assert.Equal(t, "/api/sessions/init", rw.Last().Path)
	assert.Equal(t, map[string]any{"contentSessionId": "s1", "project": "api", "prompt": "hi"}, rw.Last().Body)

	require.NoError(t, c.SummarizeSession(ctx, SummarizeRequest{ContentSessionID: "s1", LastAssistantMessage: "done"}))
	assert.Equal(t, "/api/sessions/summarize", rw.Last().Path)
	assert.Equal(t, "done", rw.Last().Body["last_assistant_message"])

	require.NoError(t, c.RecordObservation(ctx, ObservationEvent{
		ContentSessionID: "s1",
		ToolName:         "bash",
		ToolResponse:     ToolResponse{Title: "ls", Output: "a b"},
		Cwd:              "/work/api",
	}))
	last := rw.Last()
	assert.Equal(t, "/api/sessions/observations", last.Path)
	assert.Equal(t, "bash", last.Body["tool_name"])
	assert.Equal(t, map[string]any{}, last.Body["tool_input"])
	assert.Equal(t, map[string]any{"title": "ls", "output": "a b"}, last.Body["tool_response"])

	require.NoError(t, c.CompleteSession(ctx, "s1"))
	assert.Equal(t, "/api/sessions/complete", rw.Last().Path)
	assert.Equal(t, map[string]any{"contentSessionId": "s1"}, rw.Last().Body)
}

func TestClient_ContextInject(t *testing.T) {
	rw := newRecordingWorker(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("\n  # Recent work\n- fixed login\n\n"))
	})

	text, err := rw.Client().ContextInject(context.Background(), "my project")
	require.NoError(t, err)
	assert.Equal(t, "# Recent work\n- fixed login", text)
	assert.Equal(t, "/api/context/inject", rw.Last().Path)
	assert.Equal(t, "projects=my+project", rw.Last().Query)
}

func TestClient_FollowsEndpoint(t *testing.T) {
	first := newRecordingWorker(t, textPayload("first"))
	second := newRecordingWorker(t, textPayload("second"))

	ep := &switchingEndpoint{url: first.srv.URL}
	c := NewClient(ep, nil)

	res, err := c.Search(context.Background(), SearchParams{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, "first", res.Text)

	ep.Set(second.srv.URL)
	res, err = c.Search(context.Background(), SearchParams{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, "second", res.Text)
}

type switchingEndpoint struct {
	url string
	mu  sync.Mutex
}

func (e *switchingEndpoint) BaseURL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.url
}

func (e *switchingEndpoint) Set(u string) {
	e.mu.Lock()
	e.url = u
	e.mu.Unlock()
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "text content", body: `{"content":[{"type":"text","text":"hello"}]}`, want: "hello"},
		{name: "empty content", body: `{"content":[]}`, want: ""},
		{name: "non-string text", body: `{"content":[{"text":5}]}`, want: ""},
		{name: "not json", body: `<html>`, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractText([]byte(tt.body)))
		})
	}
}

func TestStatusErrorMessage(t *testing.T) {
	err := &StatusError{Path: "/api/search", StatusCode: 503}
	assert.True(t, strings.Contains(err.Error(), "503"))
}
