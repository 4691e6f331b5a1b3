package plugin

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Bridge methods.
const (
	MethodEvent             = "event"
	MethodChatMessage       = "chat.message"
	MethodSystemTransform   = "system.transform"
	MethodSessionCompacting = "session.compacting"
	MethodToolBefore        = "tool.before"
	MethodToolAfter         = "tool.after"
	MethodToolCall          = "tool.call"
	MethodTools             = "tools"
)

const (
	maxLineBytes       = 16 << 20
	maxConcurrentTools = 8
)

// Envelope is one request line. Requests without an id get no reply.
type Envelope struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Reply is one response line.
type Reply struct {
	Result any             `json:"result,omitempty"`
	ID     json.RawMessage `json:"id,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type chatMessageParams struct {
	SessionID string `json:"sessionID"`
	Parts     []Part `json:"parts"`
}

type sessionParams struct {
	SessionID string `json:"sessionID"`
}

type toolHookParams struct {
	Args      any    `json:"args,omitempty"`
	Metadata  any    `json:"metadata,omitempty"`
	Tool      string `json:"tool"`
	SessionID string `json:"sessionID"`
	CallID    string `json:"callID"`
	Title     string `json:"title,omitempty"`
	Output    string `json:"output,omitempty"`
}

type toolCallParams struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// SystemResult is the reply to system.transform.
type SystemResult struct {
	System []string `json:"system"`
}

// TextReply is the reply to tool.call.
type TextReply struct {
	Text string `json:"text"`
}

type ack struct {
	OK bool `json:"ok"`
}

// Bridge serves a Plugin over newline-delimited JSON so a host-side shim can
// forward hooks to a long-lived process. Hooks run in arrival order; tool calls
// run concurrently.
type Bridge struct {
	plugin *Plugin
	out    *json.Encoder
	mu     sync.Mutex
}

// NewBridge creates a bridge for p.
func NewBridge(p *Plugin) *Bridge {
	return &Bridge{plugin: p}
}

// Serve reads requests from r until EOF or ctx is done and writes replies to w.
func (b *Bridge) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	b.out = json.NewEncoder(w)

	var tools errgroup.Group
	tools.SetLimit(maxConcurrentTools)
	defer func() { _ = tools.Wait() }()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			log.Warn().Err(err).Msg("Malformed bridge request")
			b.reply(Reply{Error: "malformed request: " + err.Error()})
			continue
		}

		if env.Method == MethodToolCall {
			tools.Go(func() error {
				b.dispatch(ctx, env)
				return nil
			})
			continue
		}
		b.dispatch(ctx, env)
	}

	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read bridge input: %w", err)
	}
	return nil
}

func (b *Bridge) dispatch(ctx context.Context, env Envelope) {
	result, err := b.handle(ctx, env)
	if len(env.ID) == 0 {
		if err != nil {
			log.Warn().Err(err).Str("method", env.Method).Msg("Bridge notification failed")
		}
		return
	}

	rep := Reply{ID: env.ID, Result: result}
	if err != nil {
		rep.Result = nil
		rep.Error = err.Error()
	}
	b.reply(rep)
}

func (b *Bridge) handle(ctx context.Context, env Envelope) (any, error) {
	p := b.plugin

	switch env.Method {
	case MethodEvent:
		var ev Event
		if err := decodeParams(env.Params, &ev); err != nil {
			return nil, err
		}
		p.HandleEvent(ctx, ev)
		return ack{OK: true}, nil

	case MethodChatMessage:
		var params chatMessageParams
		if err := decodeParams(env.Params, &params); err != nil {
			return nil, err
		}
		p.OnChatMessage(ctx, params.SessionID, params.Parts)
		return ack{OK: true}, nil

	case MethodSystemTransform:
		var params sessionParams
		if err := decodeParams(env.Params, &params); err != nil {
			return nil, err
		}
		res := SystemResult{System: []string{}}
		if block := p.SystemContext(ctx, params.SessionID); block != "" {
			res.System = append(res.System, block)
		}
		return res, nil

	case MethodSessionCompacting:
		var params sessionParams
		if err := decodeParams(env.Params, &params); err != nil {
			return nil, err
		}
		p.OnSessionCompacting(ctx, params.SessionID)
		return ack{OK: true}, nil

	case MethodToolBefore:
		var params toolHookParams
		if err := decodeParams(env.Params, &params); err != nil {
			return nil, err
		}
		p.OnToolBefore(params.SessionID, params.CallID, params.Tool, params.Args)
		return ack{OK: true}, nil

	case MethodToolAfter:
		var params toolHookParams
		if err := decodeParams(env.Params, &params); err != nil {
			return nil, err
		}
		p.OnToolAfter(ctx, params.SessionID, params.CallID, params.Tool, ToolResult{
			Title:    params.Title,
			Output:   params.Output,
			Metadata: params.Metadata,
		})
		return ack{OK: true}, nil

	case MethodToolCall:
		var params toolCallParams
		if err := decodeParams(env.Params, &params); err != nil {
			return nil, err
		}
		text, err := p.CallTool(ctx, params.Name, params.Args)
		if err != nil {
			return nil, err
		}
		return TextReply{Text: text}, nil

	case MethodTools:
		return Tools(), nil

	default:
		return nil, fmt.Errorf("unknown method %q", env.Method)
	}
}

// CallTool runs a tool by name with JSON arguments.
func (p *Plugin) CallTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	switch name {
	case ToolWorkflow:
		return p.Workflow(), nil
	case ToolSearch:
		var a SearchArgs
		if err := decodeParams(args, &a); err != nil {
			return "", err
		}
		return p.Search(ctx, a), nil
	case ToolTimeline:
		var a TimelineArgs
		if err := decodeParams(args, &a); err != nil {
			return "", err
		}
		return p.Timeline(ctx, a), nil
	case ToolGetObservations:
		var a BatchArgs
		if err := decodeParams(args, &a); err != nil {
			return "", err
		}
		return p.GetObservations(ctx, a), nil
	case ToolSaveMemory:
		var a SaveArgs
		if err := decodeParams(args, &a); err != nil {
			return "", err
		}
		if a.Text == "" {
			return "", errors.New("save_memory: text is required")
		}
		return p.SaveMemory(ctx, a), nil
	default:
		return "", fmt.Errorf("unknown tool %q", name)
	}
}

func (b *Bridge) reply(rep Reply) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.out.Encode(rep); err != nil {
		log.Error().Err(err).Msg("Failed to write bridge reply")
	}
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}
