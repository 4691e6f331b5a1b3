// Package search provides two-phase text search over the local observation index.
package search

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/thebtf/claude-mem-bridge/pkg/models"
)

// Search configuration constants.
const (
	// DefaultLimit is used by callers that have no explicit limit.
	DefaultLimit = 20
	minLimit     = 1
	maxLimit     = 100

	latencyHistogramCap = 1000
	slowQueryThreshold  = 100 * time.Millisecond
	queryLogTruncateLen = 50
)

// ErrIndexUnavailable is returned when the engine has no index to query.
var ErrIndexUnavailable = errors.New("search index not initialized")

// Index is the read side the engine needs from the text index.
type Index interface {
	SearchRanked(ctx context.Context, match, project string, limit int) ([]models.ObservationSummary, error)
	SearchSubstring(ctx context.Context, needle, project string, limit int) ([]models.ObservationSummary, error)
}

// Metrics tracks search statistics.
type Metrics struct {
	latencyHistogram   []int64
	TotalSearches      int64
	RankedHits         int64
	SubstringFallbacks int64
	RankedErrors       int64
	CoalescedRequests  int64
	TotalLatencyNs     int64
	histogramMu        sync.Mutex
}

// GetStats returns the current search statistics.
func (m *Metrics) GetStats() map[string]any {
	total := atomic.LoadInt64(&m.TotalSearches)
	latency := atomic.LoadInt64(&m.TotalLatencyNs)

	avgLatencyMs := float64(0)
	if total > 0 {
		avgLatencyMs = float64(latency) / float64(total) / 1e6
	}

	m.histogramMu.Lock()
	samples := len(m.latencyHistogram)
	m.histogramMu.Unlock()

	return map[string]any{
		"total_searches":      total,
		"ranked_hits":         atomic.LoadInt64(&m.RankedHits),
		"substring_fallbacks": atomic.LoadInt64(&m.SubstringFallbacks),
		"ranked_errors":       atomic.LoadInt64(&m.RankedErrors),
		"coalesced_requests":  atomic.LoadInt64(&m.CoalescedRequests),
		"avg_latency_ms":      avgLatencyMs,
		"latency_samples":     samples,
	}
}

func (m *Metrics) observe(d time.Duration) {
	atomic.AddInt64(&m.TotalSearches, 1)
	atomic.AddInt64(&m.TotalLatencyNs, d.Nanoseconds())

	m.histogramMu.Lock()
	if len(m.latencyHistogram) < latencyHistogramCap {
		m.latencyHistogram = append(m.latencyHistogram, d.Nanoseconds())
	}
	m.histogramMu.Unlock()
}

// Engine runs ranked search first and falls back to a substring scan when it finds nothing.
type Engine struct {
	index       Index
	metrics     *Metrics
	searchGroup singleflight.Group
}

// NewEngine creates an engine over the given index.
func NewEngine(index Index) *Engine {
	return &Engine{index: index, metrics: &Metrics{}}
}

// Metrics returns the engine's statistics.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// ClampLimit bounds a requested result count to [1, 100].
func ClampLimit(limit int) int {
	if limit < minLimit {
		return minLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// QuotePhrase wraps text as a single FTS5 phrase, doubling embedded quotes,
// so user input can never be parsed as query syntax.
func QuotePhrase(text string) string {
	return `"` + strings.ReplaceAll(text, `"`, `""`) + `"`
}

// Search returns a formatted listing of observations matching query.
// Ranked-phase failures count as zero rows; a substring-phase failure means
// the index itself is unusable and is returned.
func (e *Engine) Search(ctx context.Context, query string, limit int, project string) (string, error) {
	if e == nil || e.index == nil {
		return "", ErrIndexUnavailable
	}

	limit = ClampLimit(limit)
	key := project + "\x00" + strconv.Itoa(limit) + "\x00" + query

	v, err, shared := e.searchGroup.Do(key, func() (any, error) {
		rows, err := e.rows(ctx, query, limit, project)
		if err != nil {
			return nil, err
		}
		return Format(query, rows), nil
	})
	if shared {
		atomic.AddInt64(&e.metrics.CoalescedRequests, 1)
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (e *Engine) rows(ctx context.Context, query string, limit int, project string) ([]models.ObservationSummary, error) {
	start := time.Now()
	defer func() {
		d := time.Since(start)
		e.metrics.observe(d)
		if d > slowQueryThreshold {
			log.Warn().
				Str("query", truncate(query, queryLogTruncateLen)).
				Dur("latency", d).
				Msg("Slow search query")
		}
	}()

	rows, err := e.index.SearchRanked(ctx, QuotePhrase(query), project, limit)
	if err != nil {
		atomic.AddInt64(&e.metrics.RankedErrors, 1)
		log.Debug().Err(err).Str("query", truncate(query, queryLogTruncateLen)).Msg("Ranked search failed, using substring scan")
		rows = nil
	}
	if len(rows) > 0 {
		atomic.AddInt64(&e.metrics.RankedHits, 1)
		return rows, nil
	}

	atomic.AddInt64(&e.metrics.SubstringFallbacks, 1)
	rows, err = e.index.SearchSubstring(ctx, query, project, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
