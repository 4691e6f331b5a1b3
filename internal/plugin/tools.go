package plugin

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/claude-mem-bridge/internal/search"
	"github.com/thebtf/claude-mem-bridge/internal/worker"
)

// Tool names.
const (
	ToolWorkflow        = "__IMPORTANT"
	ToolSearch          = "search"
	ToolTimeline        = "timeline"
	ToolGetObservations = "get_observations"
	ToolSaveMemory      = "save_memory"
)

// Replies used when the worker call fails.
const (
	SearchFailed          = "Search failed."
	TimelineFailed        = "Timeline failed."
	GetObservationsFailed = "get_observations failed."
	SaveMemoryFailed      = "save_memory failed."
)

// ToolSpec names and describes a tool.
type ToolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Tools lists the memory tools in presentation order.
func Tools() []ToolSpec {
	return []ToolSpec{
		{Name: ToolWorkflow, Description: "3-layer workflow documentation for memory search tools."},
		{Name: ToolSearch, Description: "Step 1: Search memory index. Returns compact results with IDs."},
		{Name: ToolTimeline, Description: "Step 2: Get chronological context around an anchor observation or query."},
		{Name: ToolGetObservations, Description: "Step 3: Fetch full details for filtered observation IDs."},
		{Name: ToolSaveMemory, Description: "Manually save an important memory for future reference."},
	}
}

var workflowText = strings.Join([]string{
	"3-LAYER WORKFLOW (ALWAYS FOLLOW):",
	"1. search(query) → Get index with IDs (~50-100 tokens/result)",
	"2. timeline(anchor=ID) → Get context around interesting results",
	"3. get_observations([IDs]) → Fetch full details ONLY for filtered IDs",
	"NEVER fetch full details without filtering first. 10x token savings.",
}, "\n")

// SearchArgs are the arguments of the search tool.
type SearchArgs struct {
	Limit     *int   `json:"limit,omitempty"`
	Offset    *int   `json:"offset,omitempty"`
	Query     string `json:"query,omitempty"`
	Type      string `json:"type,omitempty"`
	ObsType   string `json:"obs_type,omitempty"`
	Project   string `json:"project,omitempty"`
	DateStart string `json:"dateStart,omitempty"`
	DateEnd   string `json:"dateEnd,omitempty"`
	OrderBy   string `json:"orderBy,omitempty"`
}

// TimelineArgs are the arguments of the timeline tool.
type TimelineArgs struct {
	Anchor      *int64 `json:"anchor,omitempty"`
	DepthBefore *int   `json:"depth_before,omitempty"`
	DepthAfter  *int   `json:"depth_after,omitempty"`
	Query       string `json:"query,omitempty"`
	Project     string `json:"project,omitempty"`
}

// BatchArgs are the arguments of the get_observations tool.
type BatchArgs struct {
	Limit   *int    `json:"limit,omitempty"`
	OrderBy string  `json:"orderBy,omitempty"`
	Project string  `json:"project,omitempty"`
	IDs     []int64 `json:"ids"`
}

// SaveArgs are the arguments of the save_memory tool.
type SaveArgs struct {
	Text    string `json:"text"`
	Title   string `json:"title,omitempty"`
	Project string `json:"project,omitempty"`
}

// Workflow documents how the tools are meant to be combined.
func (p *Plugin) Workflow() string {
	return workflowText
}

// Search asks the worker first and falls back to the local index when the worker
// fails or reports nothing useful. It always returns text.
func (p *Plugin) Search(ctx context.Context, args SearchArgs) string {
	p.worker.EnsureStarted(ctx, toolStartTimeout)

	res, err := p.client.Search(ctx, worker.SearchParams{
		Query:     args.Query,
		Limit:     args.Limit,
		Offset:    args.Offset,
		Type:      args.Type,
		ObsType:   args.ObsType,
		Project:   args.Project,
		DateStart: args.DateStart,
		DateEnd:   args.DateEnd,
		OrderBy:   args.OrderBy,
	})

	text := ""
	if err != nil {
		log.Warn().Err(err).Str("query", args.Query).Msg("Worker search failed")
	} else {
		text = res.Text
	}

	if (err != nil || search.ShouldFallback(text)) && args.Query != "" {
		if out := p.searchLocal(ctx, args); out != "" {
			return out
		}
	}

	if err != nil {
		return SearchFailed
	}
	if text != "" {
		return text
	}
	return res.Pretty()
}

func (p *Plugin) searchLocal(ctx context.Context, args SearchArgs) string {
	if p.local == nil {
		return ""
	}
	limit := search.DefaultLimit
	if args.Limit != nil {
		limit = *args.Limit
	}
	out, err := p.local.Search(ctx, args.Query, limit, args.Project)
	if err != nil {
		log.Warn().Err(err).Str("query", args.Query).Msg("Local search failed")
		return ""
	}
	return out
}

// Timeline returns chronological context from the worker.
func (p *Plugin) Timeline(ctx context.Context, args TimelineArgs) string {
	p.worker.EnsureStarted(ctx, toolStartTimeout)

	res, err := p.client.Timeline(ctx, worker.TimelineParams{
		Anchor:      args.Anchor,
		DepthBefore: args.DepthBefore,
		DepthAfter:  args.DepthAfter,
		Query:       args.Query,
		Project:     args.Project,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Worker timeline failed")
		return TimelineFailed
	}
	if res.Text != "" {
		return res.Text
	}
	return res.Pretty()
}

// GetObservations returns full observation records as indented JSON.
func (p *Plugin) GetObservations(ctx context.Context, args BatchArgs) string {
	p.worker.EnsureStarted(ctx, toolStartTimeout)

	body, err := p.client.GetObservations(ctx, worker.BatchRequest{
		IDs:     args.IDs,
		OrderBy: args.OrderBy,
		Limit:   args.Limit,
		Project: args.Project,
	})
	if err != nil {
		log.Warn().Err(err).Ints64("ids", args.IDs).Msg("Worker batch fetch failed")
		return GetObservationsFailed
	}
	return (&worker.TextResult{Body: body}).Pretty()
}

// SaveMemory stores a memory and returns the worker's confirmation.
func (p *Plugin) SaveMemory(ctx context.Context, args SaveArgs) string {
	p.worker.EnsureStarted(ctx, toolStartTimeout)

	res, err := p.client.SaveMemory(ctx, worker.SaveMemoryRequest{
		Text:    args.Text,
		Title:   args.Title,
		Project: args.Project,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Worker save failed")
		return SaveMemoryFailed
	}
	if res.Message != "" {
		return res.Message
	}
	return (&worker.TextResult{Body: res.Body}).Pretty()
}
