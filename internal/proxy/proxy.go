// Package proxy serves the worker's HTTP API on a second port, answering
// searches from the local index when the worker comes up empty.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/claude-mem-bridge/internal/search"
	"github.com/thebtf/claude-mem-bridge/internal/worker"
)

const shutdownTimeout = 5 * time.Second

// LocalSearcher answers searches from the on-disk index.
type LocalSearcher interface {
	Search(ctx context.Context, query string, limit int, project string) (string, error)
}

// Options configures a Server.
type Options struct {
	// Worker resolves the upstream base URL on every request.
	Worker worker.Endpoint
	// HTTPClient is used for upstream searches. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	Local      LocalSearcher
	Addr       string
	// Rate and Burst size the shared token bucket. Zero values pick the defaults.
	Rate  float64
	Burst int
}

// Server is the search proxy.
type Server struct {
	router  *chi.Mux
	worker  worker.Endpoint
	client  *worker.Client
	local   LocalSearcher
	reverse *httputil.ReverseProxy
	limiter *RateLimiter
	addr    string
}

type errorBody struct {
	Error string `json:"error"`
}

type textContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type textPayload struct {
	Content []textContent `json:"content"`
}

// New creates a proxy server.
func New(opts Options) (*Server, error) {
	if opts.Worker == nil {
		return nil, errors.New("proxy: worker endpoint is required")
	}
	if opts.Local == nil {
		return nil, errors.New("proxy: local searcher is required")
	}
	if opts.Rate <= 0 {
		opts.Rate = DefaultRate
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}

	s := &Server{
		router:  chi.NewRouter(),
		worker:  opts.Worker,
		client:  worker.NewClient(opts.Worker, opts.HTTPClient),
		local:   opts.Local,
		limiter: NewRateLimiter(opts.Rate, opts.Burst),
		addr:    opts.Addr,
	}
	s.reverse = &httputil.ReverseProxy{
		Rewrite:      s.rewrite,
		ErrorHandler: proxyError,
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(RequestID)
	s.router.Use(AccessLog)
	s.router.Use(middleware.Recoverer)
	s.router.Use(CORS)
	s.router.Use(RateLimitMiddleware(s.limiter))
	s.router.Use(MaxBodySize(DefaultMaxBodyBytes))
}

func (s *Server) setupRoutes() {
	s.router.Get("/api/search", s.handleSearch)
	s.router.NotFound(s.reverse.ServeHTTP)
	s.router.MethodNotAllowed(s.reverse.ServeHTTP)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Limiter returns the shared rate limiter.
func (s *Server) Limiter() *RateLimiter {
	return s.limiter
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Proxy shutdown failed")
			}
		case <-done:
		}
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("Search proxy listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	query := strings.TrimSpace(params.Get("query"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "Missing query parameter")
		return
	}

	res, err := s.client.SearchRaw(r.Context(), r.URL.RawQuery)
	if err == nil && !search.ShouldFallback(res.Text) {
		writeRaw(w, http.StatusOK, res.Body)
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("query", query).Msg("Upstream search failed, searching locally")
	}

	limit := search.DefaultLimit
	if v, convErr := strconv.Atoi(params.Get("limit")); convErr == nil {
		limit = v
	}

	text, err := s.local.Search(r.Context(), query, limit, params.Get("project"))
	if err != nil {
		log.Warn().Err(err).Msg("Local search failed")
	}
	if text == "" {
		text = search.NoResults(query)
	}

	writeJSON(w, http.StatusOK, textPayload{Content: []textContent{{Type: "text", Text: text}}})
}

func (s *Server) rewrite(pr *httputil.ProxyRequest) {
	target, err := url.Parse(s.worker.BaseURL())
	if err != nil {
		// Leaves the outbound URL unroutable so the error handler answers 502.
		log.Error().Err(err).Msg("Invalid worker base URL")
		target = &url.URL{Scheme: "http", Host: "invalid."}
	}
	pr.SetURL(target)
	pr.Out.Host = pr.In.Host
	pr.SetXForwarded()
}

func proxyError(w http.ResponseWriter, r *http.Request, err error) {
	log.Warn().Err(err).Str("path", r.URL.Path).Msg("Proxy error")
	writeError(w, http.StatusBadGateway, "Proxy error: "+err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeRaw(w, status, body)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
