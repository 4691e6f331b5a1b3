package plugin

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

type workerCall struct {
	Body  map[string]any
	Path  string
	Query string
}

// fakeWorker is an httptest worker that records calls and answers per path.
type fakeWorker struct {
	srv    *httptest.Server
	routes map[string]http.HandlerFunc
	calls  []workerCall
	mu     sync.Mutex
}

func newFakeWorker(t *testing.T) *fakeWorker {
	fw := &fakeWorker{routes: make(map[string]http.HandlerFunc)}
	fw.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := workerCall{Path: r.URL.Path, Query: r.URL.RawQuery}
		if b, _ := io.ReadAll(r.Body); len(b) > 0 {
			_ = json.Unmarshal(b, &call.Body)
		}

		fw.mu.Lock()
		fw.calls = append(fw.calls, call)
		h := fw.routes[r.URL.Path]
		fw.mu.Unlock()

		if h == nil {
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
			return
		}
		h(w, r)
	}))
	t.Cleanup(fw.srv.Close)
	return fw
}

func (fw *fakeWorker) Handle(path string, h http.HandlerFunc) {
	fw.mu.Lock()
	fw.routes[path] = h
	fw.mu.Unlock()
}

func (fw *fakeWorker) Calls(path string) []workerCall {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	var out []workerCall
	for _, c := range fw.calls {
		if c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

func (fw *fakeWorker) BaseURL() string { return fw.srv.URL }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func textHandler(text string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"content": []map[string]any{{"type": "text", "text": text}}})
	}
}

func statusHandler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}
}

// fakeLifecycle points at a fake worker and records startup calls.
type fakeLifecycle struct {
	endpoint interface{ BaseURL() string }
	ensure   []time.Duration
	ready    []time.Duration
	mu       sync.Mutex
}

func (f *fakeLifecycle) EnsureStarted(_ context.Context, timeout time.Duration) int {
	f.mu.Lock()
	f.ensure = append(f.ensure, timeout)
	f.mu.Unlock()
	return 37777
}

func (f *fakeLifecycle) WaitUntilReady(_ context.Context, timeout time.Duration) bool {
	f.mu.Lock()
	f.ready = append(f.ready, timeout)
	f.mu.Unlock()
	return true
}

func (f *fakeLifecycle) BaseURL() string { return f.endpoint.BaseURL() }

func (f *fakeLifecycle) EnsureCalls() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.ensure...)
}

type localCall struct {
	Query   string
	Project string
	Limit   int
}

type fakeLocal struct {
	err   error
	out   string
	calls []localCall
	mu    sync.Mutex
}

func (f *fakeLocal) Search(_ context.Context, query string, limit int, project string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, localCall{Query: query, Limit: limit, Project: project})
	return f.out, f.err
}

func (f *fakeLocal) Calls() []localCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]localCall(nil), f.calls...)
}

type fixture struct {
	plugin    *Plugin
	worker    *fakeWorker
	lifecycle *fakeLifecycle
	local     *fakeLocal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fw := newFakeWorker(t)
	lc := &fakeLifecycle{endpoint: fw}
	local := &fakeLocal{}

	p, err := New(Options{
		Worker:    lc,
		Local:     local,
		Directory: "/work/billing-api",
	})
	require.NoError(t, err)

	return &fixture{plugin: p, worker: fw, lifecycle: lc, local: local}
}
