// Package plugin implements the host-facing side of the bridge: session
// events are relayed to the worker and the memory tools are answered from it,
// with the local index as a fallback for search.
package plugin

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/claude-mem-bridge/internal/config"
	"github.com/thebtf/claude-mem-bridge/internal/privacy"
	"github.com/thebtf/claude-mem-bridge/internal/worker"
)

// Startup budgets for the different entry points.
const (
	sessionStartTimeout = 3 * time.Second
	toolStartTimeout    = 3 * time.Second
	contextStartTimeout = 10 * time.Second
	contextReadyTimeout = 10 * time.Second
)

// mediaPrompt replaces prompts that carry no text.
const mediaPrompt = "[media prompt]"

// Event types the plugin reacts to.
const (
	EventSessionCreated     = "session.created"
	EventSessionDeleted     = "session.deleted"
	EventMessageUpdated     = "message.updated"
	EventMessagePartUpdated = "message.part.updated"
)

// Lifecycle is the part of the worker manager the plugin needs.
type Lifecycle interface {
	EnsureStarted(ctx context.Context, timeout time.Duration) int
	WaitUntilReady(ctx context.Context, timeout time.Duration) bool
	BaseURL() string
}

// LocalSearcher answers searches from the local index.
type LocalSearcher interface {
	Search(ctx context.Context, query string, limit int, project string) (string, error)
}

// Part is a piece of a chat message.
type Part struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	SessionID string `json:"sessionID,omitempty"`
	MessageID string `json:"messageID,omitempty"`
}

// EventInfo describes the session or message an event refers to.
type EventInfo struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID,omitempty"`
	Role      string `json:"role,omitempty"`
}

// Event is a host event.
type Event struct {
	Properties struct {
		Info *EventInfo `json:"info,omitempty"`
		Part *Part      `json:"part,omitempty"`
	} `json:"properties"`
	Type string `json:"type"`
}

// ToolResult is the outcome of a host tool call.
type ToolResult struct {
	Metadata any    `json:"metadata,omitempty"`
	Title    string `json:"title"`
	Output   string `json:"output"`
}

// Options configures a Plugin.
type Options struct {
	Worker Lifecycle
	// Client defaults to a worker.Client over Worker.
	Client *worker.Client
	Local  LocalSearcher
	// Directory is the host's working directory; its base name is the project.
	Directory     string
	ExcludedTools []string
	SessionCap    int
}

// Plugin reacts to host events and serves the memory tools.
type Plugin struct {
	worker    Lifecycle
	client    *worker.Client
	local     LocalSearcher
	sessions  *Sessions
	excluded  atomic.Pointer[map[string]struct{}]
	directory string
	project   string
}

// New creates a plugin.
func New(opts Options) (*Plugin, error) {
	if opts.Worker == nil {
		return nil, errors.New("plugin: worker lifecycle is required")
	}

	sessions, err := NewSessions(opts.SessionCap)
	if err != nil {
		return nil, err
	}

	client := opts.Client
	if client == nil {
		client = worker.NewClient(opts.Worker, nil)
	}

	excluded := opts.ExcludedTools
	if excluded == nil {
		excluded = config.DefaultExcludedTools
	}

	p := &Plugin{
		worker:    opts.Worker,
		client:    client,
		local:     opts.Local,
		sessions:  sessions,
		directory: opts.Directory,
		project:   ProjectName(opts.Directory),
	}
	p.SetExcludedTools(excluded)
	return p, nil
}

// ProjectName derives the project from a working directory.
func ProjectName(dir string) string {
	dir = strings.TrimRight(dir, `/\`)
	if dir == "" {
		return config.DefaultProjectName
	}
	base := filepath.Base(dir)
	if base == "." || base == string(filepath.Separator) || base == "" {
		return config.DefaultProjectName
	}
	return base
}

// Project returns the project name used for relays.
func (p *Plugin) Project() string { return p.project }

// Sessions exposes the session registry.
func (p *Plugin) Sessions() *Sessions { return p.sessions }

// SetExcludedTools replaces the set of tools that are never recorded.
func (p *Plugin) SetExcludedTools(names []string) {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	p.excluded.Store(&set)
}

func (p *Plugin) isExcluded(tool string) bool {
	if tool == "" {
		return true
	}
	_, ok := (*p.excluded.Load())[tool]
	return ok
}

// HandleEvent dispatches a host event.
func (p *Plugin) HandleEvent(ctx context.Context, ev Event) {
	info := ev.Properties.Info

	switch ev.Type {
	case EventSessionCreated:
		id := ""
		if info != nil {
			id = info.ID
		}
		p.OnSessionCreated(ctx, id)
	case EventSessionDeleted:
		if info != nil {
			p.OnSessionDeleted(ctx, info.ID)
		}
	case EventMessageUpdated:
		if info != nil {
			p.OnMessageUpdated(info.SessionID, info.ID, info.Role)
		}
	case EventMessagePartUpdated:
		if part := ev.Properties.Part; part != nil && part.Type == "text" {
			p.OnMessagePartUpdated(part.SessionID, part.MessageID, part.Text)
		}
	}
}

// OnSessionCreated clears any stale state for the session and makes sure the worker is up.
func (p *Plugin) OnSessionCreated(ctx context.Context, sessionID string) {
	if sessionID != "" {
		p.sessions.Reset(sessionID)
	}
	p.worker.EnsureStarted(ctx, sessionStartTimeout)
}

// OnSessionDeleted tells the worker the session is complete and forgets it.
func (p *Plugin) OnSessionDeleted(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}
	if err := p.client.CompleteSession(ctx, sessionID); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("Failed to complete session")
	}
	p.sessions.Evict(sessionID)
}

// OnMessageUpdated remembers which role authored a message.
func (p *Plugin) OnMessageUpdated(sessionID, messageID, role string) {
	if sessionID == "" {
		return
	}
	p.sessions.Get(sessionID).SetRole(messageID, role)
}

// OnMessagePartUpdated tracks the latest assistant text for compaction summaries.
func (p *Plugin) OnMessagePartUpdated(sessionID, messageID, text string) {
	if sessionID == "" {
		return
	}
	if sess, ok := p.sessions.Peek(sessionID); ok {
		sess.SetPartText(messageID, text)
	}
}

// OnChatMessage relays a user prompt to the worker.
func (p *Plugin) OnChatMessage(ctx context.Context, sessionID string, parts []Part) {
	prompt := privacy.Sanitize(TextFromParts(parts))
	if strings.TrimSpace(prompt) == "" {
		prompt = mediaPrompt
	}

	err := p.client.InitSession(ctx, worker.InitSessionRequest{
		ContentSessionID: sessionID,
		Project:          p.project,
		Prompt:           prompt,
	})
	if err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("Failed to relay prompt")
	}
}

// SystemContext returns the memory context block for a session, once.
// Later calls for the same session return "".
func (p *Plugin) SystemContext(ctx context.Context, sessionID string) string {
	if sessionID == "" {
		return ""
	}
	if !p.sessions.Get(sessionID).ClaimInjection() {
		return ""
	}

	p.worker.EnsureStarted(ctx, contextStartTimeout)
	if !p.worker.WaitUntilReady(ctx, contextReadyTimeout) {
		log.Debug().Str("session", sessionID).Msg("Worker not ready, fetching context anyway")
	}

	text, err := p.client.ContextInject(ctx, p.project)
	if err != nil {
		log.Warn().Err(err).Str("project", p.project).Msg("Failed to fetch context")
		return ""
	}
	if text == "" {
		return ""
	}
	return "<claude-mem-context>\n" + text + "\n</claude-mem-context>"
}

// OnSessionCompacting asks the worker to summarize with the last assistant text.
func (p *Plugin) OnSessionCompacting(ctx context.Context, sessionID string) {
	last := ""
	if sess, ok := p.sessions.Peek(sessionID); ok {
		last = sess.LastAssistantText()
	}

	err := p.client.SummarizeSession(ctx, worker.SummarizeRequest{
		ContentSessionID:     sessionID,
		LastAssistantMessage: privacy.Sanitize(last),
	})
	if err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("Failed to request summary")
	}
}

// OnToolBefore remembers the arguments of a tool call until it completes.
func (p *Plugin) OnToolBefore(sessionID, callID, tool string, args any) {
	if p.isExcluded(tool) {
		return
	}
	p.sessions.Get(sessionID).PutToolArgs(callID, args)
}

// OnToolAfter relays a finished tool call as an observation.
func (p *Plugin) OnToolAfter(ctx context.Context, sessionID, callID, tool string, result ToolResult) {
	if p.isExcluded(tool) {
		return
	}

	var args any = map[string]any{}
	if sess, ok := p.sessions.Peek(sessionID); ok {
		if a, found := sess.TakeToolArgs(callID); found && a != nil {
			args = a
		}
	}

	if privacy.AnySecrets(result.Title, result.Output) {
		log.Debug().Str("tool", tool).Msg("Redacting secrets from tool output")
	}

	err := p.client.RecordObservation(ctx, worker.ObservationEvent{
		ContentSessionID: sessionID,
		ToolName:         tool,
		ToolInput:        privacy.SanitizeValue(args),
		ToolResponse: worker.ToolResponse{
			Title:    privacy.Sanitize(result.Title),
			Output:   privacy.Sanitize(result.Output),
			Metadata: privacy.SanitizeValue(result.Metadata),
		},
		Cwd: p.directory,
	})
	if err != nil {
		log.Warn().Err(err).Str("tool", tool).Str("session", sessionID).Msg("Failed to record observation")
	}
}

// TextFromParts joins the text parts of a message with newlines.
func TextFromParts(parts []Part) string {
	var texts []string
	for _, part := range parts {
		if part.Type == "text" && part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}
