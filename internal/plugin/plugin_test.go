package plugin

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectName(t *testing.T) {
	tests := []struct {
		dir      string
		expected string
	}{
		{dir: "/work/billing-api", expected: "billing-api"},
		{dir: "/work/billing-api/", expected: "billing-api"},
		{dir: "", expected: "claude-mem"},
		{dir: "/", expected: "claude-mem"},
		{dir: ".", expected: "claude-mem"},
	}

	for _, tt := range tests {
		t.Run(tt.dir, func(t *testing.T) {
			assert.Equal(t, tt.expected, ProjectName(tt.dir))
		})
	}
}

func TestNew_RequiresWorker(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestSessionCreated_ResetsStateAndStartsWorker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.True(t, f.plugin.Sessions().Get("s1").ClaimInjection())

	f.plugin.HandleEvent(ctx, sessionEvent(EventSessionCreated, "s1"))

	sess, ok := f.plugin.Sessions().Peek("s1")
	require.True(t, ok)
	assert.False(t, sess.Injected())
	assert.Equal(t, []time.Duration{3 * time.Second}, f.lifecycle.EnsureCalls())
}

func TestSessionDeleted_CompletesAndEvicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.plugin.Sessions().Get("s1")

	f.plugin.HandleEvent(ctx, sessionEvent(EventSessionDeleted, "s1"))

	calls := f.worker.Calls("/api/sessions/complete")
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{"contentSessionId": "s1"}, calls[0].Body)
	_, ok := f.plugin.Sessions().Peek("s1")
	assert.False(t, ok)
}

func TestSessionDeleted_EvictsEvenWhenWorkerFails(t *testing.T) {
	f := newFixture(t)
	f.worker.Handle("/api/sessions/complete", statusHandler(http.StatusInternalServerError))
	f.plugin.Sessions().Get("s1")

	f.plugin.OnSessionDeleted(context.Background(), "s1")

	assert.Zero(t, f.plugin.Sessions().Len())
}

func TestSessionDeleted_IgnoresMissingID(t *testing.T) {
	f := newFixture(t)
	f.plugin.HandleEvent(context.Background(), Event{Type: EventSessionDeleted})
	assert.Empty(t, f.worker.Calls("/api/sessions/complete"))
}

func TestCompacting_SendsLastAssistantText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.plugin.HandleEvent(ctx, messageEvent("s1", "m-user", "user"))
	f.plugin.HandleEvent(ctx, messageEvent("s1", "m-asst", "assistant"))
	f.plugin.HandleEvent(ctx, partEvent("s1", "m-asst", "text", "first draft"))
	f.plugin.HandleEvent(ctx, partEvent("s1", "m-asst", "text", "final answer"))
	f.plugin.HandleEvent(ctx, partEvent("s1", "m-user", "text", "user text is ignored"))
	f.plugin.HandleEvent(ctx, partEvent("s1", "m-asst", "tool", "non-text parts are ignored"))

	f.plugin.OnSessionCompacting(ctx, "s1")

	calls := f.worker.Calls("/api/sessions/summarize")
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{
		"contentSessionId":       "s1",
		"last_assistant_message": "final answer",
	}, calls[0].Body)
}

func TestCompacting_UnknownSessionSendsEmptyText(t *testing.T) {
	f := newFixture(t)

	f.plugin.OnSessionCompacting(context.Background(), "unknown")

	calls := f.worker.Calls("/api/sessions/summarize")
	require.Len(t, calls, 1)
	assert.Equal(t, "", calls[0].Body["last_assistant_message"])
}

func TestChatMessage(t *testing.T) {
	tests := []struct {
		name     string
		parts    []Part
		expected string
	}{
		{
			name:     "joins text parts",
			parts:    []Part{{Type: "text", Text: "fix the"}, {Type: "file"}, {Type: "text", Text: "login bug"}},
			expected: "fix the\nlogin bug",
		},
		{
			name:     "media only",
			parts:    []Part{{Type: "file"}},
			expected: "[media prompt]",
		},
		{
			name:     "whitespace only",
			parts:    []Part{{Type: "text", Text: "  \n "}},
			expected: "[media prompt]",
		},
		{
			name:     "private blocks stripped",
			parts:    []Part{{Type: "text", Text: "deploy <private>with password hunter2</private>now"}},
			expected: "deploy now",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			f.plugin.OnChatMessage(context.Background(), "s1", tt.parts)

			calls := f.worker.Calls("/api/sessions/init")
			require.Len(t, calls, 1)
			assert.Equal(t, map[string]any{
				"contentSessionId": "s1",
				"project":          "billing-api",
				"prompt":           tt.expected,
			}, calls[0].Body)
		})
	}
}

func TestSystemContext_InjectsOncePerSession(t *testing.T) {
	f := newFixture(t)
	f.worker.Handle("/api/context/inject", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("\n# Recent\n- fixed login\n"))
	})
	ctx := context.Background()

	block := f.plugin.SystemContext(ctx, "s1")

	assert.Equal(t, "<claude-mem-context>\n# Recent\n- fixed login\n</claude-mem-context>", block)
	assert.Empty(t, f.plugin.SystemContext(ctx, "s1"))
	assert.NotEmpty(t, f.plugin.SystemContext(ctx, "s2"))

	calls := f.worker.Calls("/api/context/inject")
	require.Len(t, calls, 2)
	assert.Equal(t, "projects=billing-api", calls[0].Query)
	assert.Equal(t, 10*time.Second, f.lifecycle.EnsureCalls()[0])
}

func TestSystemContext_EmptyOrFailed(t *testing.T) {
	t.Run("blank context", func(t *testing.T) {
		f := newFixture(t)
		f.worker.Handle("/api/context/inject", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("   \n"))
		})
		assert.Empty(t, f.plugin.SystemContext(context.Background(), "s1"))
	})

	t.Run("worker error still marks the session", func(t *testing.T) {
		f := newFixture(t)
		f.worker.Handle("/api/context/inject", statusHandler(http.StatusServiceUnavailable))
		ctx := context.Background()

		assert.Empty(t, f.plugin.SystemContext(ctx, "s1"))
		assert.Empty(t, f.plugin.SystemContext(ctx, "s1"))
		assert.Len(t, f.worker.Calls("/api/context/inject"), 1)
	})

	t.Run("no session id", func(t *testing.T) {
		f := newFixture(t)
		assert.Empty(t, f.plugin.SystemContext(context.Background(), ""))
		assert.Empty(t, f.worker.Calls("/api/context/inject"))
	})
}

func TestToolHooks_RelayObservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.plugin.OnToolBefore("s1", "c1", "bash", map[string]any{"command": "ls"})
	f.plugin.OnToolAfter(ctx, "s1", "c1", "bash", ToolResult{Title: "ls", Output: "a\nb", Metadata: map[string]any{"exit": 0.0}})

	calls := f.worker.Calls("/api/sessions/observations")
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{
		"contentSessionId": "s1",
		"tool_name":        "bash",
		"tool_input":       map[string]any{"command": "ls"},
		"tool_response": map[string]any{
			"title":    "ls",
			"output":   "a\nb",
			"metadata": map[string]any{"exit": 0.0},
		},
		"cwd": "/work/billing-api",
	}, calls[0].Body)

	// Arguments are consumed by the first completion.
	f.plugin.OnToolAfter(ctx, "s1", "c1", "bash", ToolResult{Output: "again"})
	calls = f.worker.Calls("/api/sessions/observations")
	require.Len(t, calls, 2)
	assert.Equal(t, map[string]any{}, calls[1].Body["tool_input"])
}

func TestToolHooks_ExcludedToolsNeverRelayed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, tool := range []string{"TodoWrite", "search", "save_memory", "__IMPORTANT", ""} {
		f.plugin.OnToolBefore("s1", "c-"+tool, tool, map[string]any{"x": 1})
		f.plugin.OnToolAfter(ctx, "s1", "c-"+tool, tool, ToolResult{Output: "out"})
	}

	assert.Empty(t, f.worker.Calls("/api/sessions/observations"))
}

func TestToolHooks_ExcludedSetCanChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.plugin.SetExcludedTools([]string{"bash"})
	f.plugin.OnToolAfter(ctx, "s1", "c1", "bash", ToolResult{Output: "x"})
	f.plugin.OnToolAfter(ctx, "s1", "c2", "TodoWrite", ToolResult{Output: "y"})

	calls := f.worker.Calls("/api/sessions/observations")
	require.Len(t, calls, 1)
	assert.Equal(t, "TodoWrite", calls[0].Body["tool_name"])
}

func TestToolHooks_Sanitized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.plugin.OnToolBefore("s1", "c1", "bash", map[string]any{"command": "export API_KEY=abc123def456ghi789jkl012mno345"})
	f.plugin.OnToolAfter(ctx, "s1", "c1", "bash", ToolResult{
		Title:  "env",
		Output: "ok <private>personal notes</private>done",
	})

	calls := f.worker.Calls("/api/sessions/observations")
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{"command": "export API_KEY=[REDACTED]"}, calls[0].Body["tool_input"])
	resp := calls[0].Body["tool_response"].(map[string]any)
	assert.Equal(t, "ok done", resp["output"])
}

func TestSessions_Bounded(t *testing.T) {
	s, err := NewSessions(2)
	require.NoError(t, err)

	s.Get("a")
	s.Get("b")
	s.Get("a")
	s.Get("c")

	assert.Equal(t, 2, s.Len())
	_, ok := s.Peek("b")
	assert.False(t, ok, "least recently used session is dropped")
	_, ok = s.Peek("a")
	assert.True(t, ok)
}

func TestSession_RoleMapIsBounded(t *testing.T) {
	sess := newSession("s")
	for i := 0; i < maxTrackedMessages+10; i++ {
		sess.SetRole(string(rune('a'+i%26))+string(rune(i)), "user")
	}
	assert.LessOrEqual(t, len(sess.roles), maxTrackedMessages)

	sess.SetRole("m", "system")
	_, ok := sess.roles["m"]
	assert.False(t, ok)
}

func sessionEvent(typ, id string) Event {
	var ev Event
	ev.Type = typ
	ev.Properties.Info = &EventInfo{ID: id}
	return ev
}

func messageEvent(sessionID, messageID, role string) Event {
	var ev Event
	ev.Type = EventMessageUpdated
	ev.Properties.Info = &EventInfo{ID: messageID, SessionID: sessionID, Role: role}
	return ev
}

func partEvent(sessionID, messageID, typ, text string) Event {
	var ev Event
	ev.Type = EventMessagePartUpdated
	ev.Properties.Part = &Part{Type: typ, Text: text, SessionID: sessionID, MessageID: messageID}
	return ev
}
