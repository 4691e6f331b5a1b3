package plugin

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

// DefaultSessionCap bounds how many sessions are tracked at once.
const DefaultSessionCap = 256

// maxTrackedMessages bounds the per-session message role map.
const maxTrackedMessages = 512

// Session holds the state the plugin keeps for one host session.
type Session struct {
	roles             map[string]string
	toolArgs          map[string]any
	ID                string
	lastAssistantText string
	mu                sync.Mutex
	injected          bool
}

func newSession(id string) *Session {
	return &Session{
		ID:       id,
		roles:    make(map[string]string),
		toolArgs: make(map[string]any),
	}
}

// ClaimInjection returns true exactly once per session.
func (s *Session) ClaimInjection() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.injected {
		return false
	}
	s.injected = true
	return true
}

// Injected reports whether context was already injected.
func (s *Session) Injected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.injected
}

// SetRole records the role of a message. Only user and assistant are kept.
func (s *Session) SetRole(messageID, role string) {
	if messageID == "" || (role != "user" && role != "assistant") {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[messageID]; !ok && len(s.roles) >= maxTrackedMessages {
		s.roles = make(map[string]string)
	}
	s.roles[messageID] = role
}

// SetPartText keeps text as the last assistant text when messageID belongs to the assistant.
func (s *Session) SetPartText(messageID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roles[messageID] != "assistant" {
		return
	}
	s.lastAssistantText = text
}

// LastAssistantText returns the most recent assistant text part.
func (s *Session) LastAssistantText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAssistantText
}

// PutToolArgs remembers the arguments of an in-flight tool call.
func (s *Session) PutToolArgs(callID string, args any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolArgs[callID] = args
}

// TakeToolArgs returns and forgets the arguments of a tool call.
func (s *Session) TakeToolArgs(callID string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	args, ok := s.toolArgs[callID]
	delete(s.toolArgs, callID)
	return args, ok
}

// Sessions is a bounded registry of sessions keyed by id.
// The least recently used session is dropped when the cap is reached.
type Sessions struct {
	cache *lru.Cache[string, *Session]
	mu    sync.Mutex
}

// NewSessions creates a registry holding at most size sessions.
func NewSessions(size int) (*Sessions, error) {
	if size <= 0 {
		size = DefaultSessionCap
	}
	cache, err := lru.NewWithEvict(size, func(id string, _ *Session) {
		log.Debug().Str("session", id).Msg("Session dropped from registry")
	})
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}
	return &Sessions{cache: cache}, nil
}

// Get returns the session for id, creating it when absent.
func (s *Sessions) Get(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.cache.Get(id); ok {
		return sess
	}
	sess := newSession(id)
	s.cache.Add(id, sess)
	return sess
}

// Peek returns the session for id without creating it or touching its recency.
func (s *Sessions) Peek(id string) (*Session, bool) {
	return s.cache.Peek(id)
}

// Reset replaces any state held for id with a fresh session.
func (s *Sessions) Reset(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := newSession(id)
	s.cache.Add(id, sess)
	return sess
}

// Evict forgets id.
func (s *Sessions) Evict(id string) {
	s.cache.Remove(id)
}

// Len returns the number of tracked sessions.
func (s *Sessions) Len() int {
	return s.cache.Len()
}
