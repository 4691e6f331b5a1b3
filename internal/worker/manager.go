// Package worker discovers, starts and talks to the claude-mem worker process.
package worker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/thebtf/claude-mem-bridge/internal/config"
)

const (
	// DefaultProbeTimeout bounds each health, version and readiness request.
	DefaultProbeTimeout = 800 * time.Millisecond

	// DefaultDialTimeout bounds the TCP connect used to detect a foreign listener.
	DefaultDialTimeout = 500 * time.Millisecond

	// DefaultReadinessInterval is the pause between readiness polls.
	DefaultReadinessInterval = 250 * time.Millisecond

	// DefaultSpawnDebounce is the minimum gap between two spawn attempts.
	DefaultSpawnDebounce = 2 * time.Second

	// DefaultKillGrace is the wait after freeing the preferred port on first discovery.
	DefaultKillGrace = 1 * time.Second

	// DefaultRetryDelay is the base pause between passes when port fallback is off.
	// Pass n waits n times this long.
	DefaultRetryDelay = 2 * time.Second

	// DefaultRetryKillGrace is the wait after freeing the port during a retry pass.
	DefaultRetryKillGrace = 1500 * time.Millisecond

	// DefaultStartupTimeout applies when EnsureStarted is given no timeout.
	DefaultStartupTimeout = 10 * time.Second

	fallbackDisabledPasses = 5
)

// Delays groups every pause and timeout the manager uses.
type Delays struct {
	Probe             time.Duration
	Dial              time.Duration
	ReadinessInterval time.Duration
	SpawnDebounce     time.Duration
	KillGrace         time.Duration
	Retry             time.Duration
	RetryKillGrace    time.Duration
}

// DefaultDelays returns the production timings.
func DefaultDelays() Delays {
	return Delays{
		Probe:             DefaultProbeTimeout,
		Dial:              DefaultDialTimeout,
		ReadinessInterval: DefaultReadinessInterval,
		SpawnDebounce:     DefaultSpawnDebounce,
		KillGrace:         DefaultKillGrace,
		Retry:             DefaultRetryDelay,
		RetryKillGrace:    DefaultRetryKillGrace,
	}
}

// Options configures a Manager.
type Options struct {
	Spawner       Spawner
	HTTPClient    *http.Client
	MeterProvider metric.MeterProvider
	Host          string
	Killers       []PortKiller
	Delays        Delays
	// StartupTimeout is used when EnsureStarted receives a non-positive timeout.
	StartupTimeout time.Duration
	PreferredPort  int
	// FallbackPorts is the number of candidate ports, preferred port included.
	FallbackPorts int
	PortFallback  bool
}

// OptionsFromConfig builds manager options with the platform killers and a process spawner.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Host:           cfg.WorkerHost,
		PreferredPort:  cfg.WorkerPort,
		PortFallback:   cfg.PortFallback,
		FallbackPorts:  cfg.FallbackPorts,
		StartupTimeout: time.Duration(cfg.StartupTimeoutMs) * time.Millisecond,
		Spawner:        NewProcessSpawner(cfg.WorkerCommand),
		Killers:        DefaultKillers(),
		Delays:         DefaultDelays(),
	}
}

type portState int

const (
	portFree portState = iota
	portCompatible
	portForeign
)

func (s portState) String() string {
	switch s {
	case portCompatible:
		return "compatible"
	case portForeign:
		return "foreign"
	default:
		return "free"
	}
}

// Manager keeps a single compatible worker reachable.
// activePort and lastStartAttempt change only inside EnsureStarted.
type Manager struct {
	lastStartAttempt time.Time
	hc               *http.Client
	metrics          *lifecycleMetrics
	now              func() time.Time
	sleep            func(ctx context.Context, d time.Duration) error
	group            singleflight.Group
	opts             Options
	activePort       int
	mu               sync.Mutex
}

// NewManager creates a manager. Zero-valued options fall back to defaults.
func NewManager(opts Options) *Manager {
	if opts.Host == "" {
		opts.Host = config.DefaultWorkerHost
	}
	if opts.PreferredPort <= 0 {
		opts.PreferredPort = config.DefaultWorkerPort
	}
	if opts.FallbackPorts <= 0 {
		opts.FallbackPorts = config.DefaultFallbackPortCount
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = DefaultStartupTimeout
	}
	if opts.Delays == (Delays{}) {
		opts.Delays = DefaultDelays()
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}

	return &Manager{
		opts:    opts,
		hc:      hc,
		metrics: newLifecycleMetrics(opts.MeterProvider),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Port returns the active port, or the preferred port when none is known.
func (m *Manager) Port() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activePort != 0 {
		return m.activePort
	}
	return m.opts.PreferredPort
}

// BaseURL returns the origin of the assumed worker. It performs no I/O.
func (m *Manager) BaseURL() string {
	return m.originFor(m.Port())
}

// HTTPClient returns the client used for worker calls.
func (m *Manager) HTTPClient() *http.Client {
	return m.hc
}

// EnsureStarted returns a port on which a compatible worker answers, starting one if needed.
// It never fails: when discovery is exhausted it assumes the preferred port.
// timeout bounds the readiness wait after each spawn. Concurrent callers share one
// discovery run; a caller whose ctx ends early gets the current Port().
func (m *Manager) EnsureStarted(ctx context.Context, timeout time.Duration) int {
	if timeout <= 0 {
		timeout = m.opts.StartupTimeout
	}

	ch := m.group.DoChan("ensure", func() (any, error) {
		return m.ensureStarted(context.WithoutCancel(ctx), timeout), nil
	})

	select {
	case res := <-ch:
		return res.Val.(int)
	case <-ctx.Done():
		return m.Port()
	}
}

// WaitUntilReady polls the readiness endpoint of Port() until it answers 2xx or timeout elapses.
// It does not change the active port.
func (m *Manager) WaitUntilReady(ctx context.Context, timeout time.Duration) bool {
	return m.waitForReadiness(ctx, m.Port(), timeout)
}

func (m *Manager) ensureStarted(ctx context.Context, timeout time.Duration) int {
	if port := m.recordedPort(); port != 0 {
		if m.isCompatible(ctx, port) {
			return port
		}
		log.Info().Int("port", port).Msg("Recorded worker stopped answering, rediscovering")
		m.setActivePort(0)
	}

	preferred := m.opts.PreferredPort

	if m.probe(ctx, preferred) == portForeign {
		log.Warn().Int("port", preferred).Msg("Worker port is held by another service, attempting to free it")
		if m.freePort(ctx, preferred) {
			_ = m.sleep(ctx, m.opts.Delays.KillGrace)
		}
	}

	if m.isCompatible(ctx, preferred) {
		return m.adopt(ctx, preferred)
	}

	candidates := m.candidates()
	passes := 1
	if !m.opts.PortFallback {
		passes = fallbackDisabledPasses
	}

	for pass := 0; pass < passes; pass++ {
		if pass > 0 {
			log.Info().Int("pass", pass).Int("of", passes-1).Int("port", preferred).Msg("Retrying worker discovery")
			_ = m.sleep(ctx, m.opts.Delays.Retry*time.Duration(pass))

			if m.probe(ctx, preferred) == portForeign {
				m.freePort(ctx, preferred)
				_ = m.sleep(ctx, m.opts.Delays.RetryKillGrace)
			}
		}

		for _, port := range candidates {
			switch m.probe(ctx, port) {
			case portCompatible:
				return m.adopt(ctx, port)
			case portForeign:
				log.Debug().Int("port", port).Msg("Port occupied by another service, skipping")
				continue
			}

			if !m.trySpawn(ctx, port) {
				continue
			}

			started := m.now()
			if m.waitForReadiness(ctx, port, timeout) {
				m.metrics.ready(ctx, m.now().Sub(started).Seconds())
				return m.adopt(ctx, port)
			}
			log.Warn().Int("port", port).Dur("timeout", timeout).Msg("Spawned worker did not become ready")
		}
	}

	log.Warn().Int("port", preferred).Msg("Worker discovery exhausted, assuming preferred port")
	m.metrics.giveUp(ctx)
	m.setActivePort(preferred)
	return preferred
}

// candidates lists the ports to try in order.
func (m *Manager) candidates() []int {
	if !m.opts.PortFallback {
		return []int{m.opts.PreferredPort}
	}
	ports := make([]int, 0, m.opts.FallbackPorts)
	for i := 0; i < m.opts.FallbackPorts; i++ {
		p := m.opts.PreferredPort + i
		if p > 65535 {
			break
		}
		ports = append(ports, p)
	}
	return ports
}

func (m *Manager) adopt(ctx context.Context, port int) int {
	m.setActivePort(port)
	m.metrics.adopt(ctx, port)
	log.Info().Int("port", port).Msg("Using worker")
	return port
}

// probe classifies a port. Anything that accepts a connection but fails the
// compatibility check is foreign.
func (m *Manager) probe(ctx context.Context, port int) portState {
	if m.isCompatible(ctx, port) {
		return portCompatible
	}
	if m.accepting(ctx, port) {
		return portForeign
	}
	return portFree
}

// isCompatible runs the two-step check: /api/health must report status "ok",
// then /api/version must carry a string version.
func (m *Manager) isCompatible(ctx context.Context, port int) bool {
	resp, err := Do(ctx, m.hc, Request{URL: m.originFor(port) + "/api/health", Timeout: m.opts.Delays.Probe})
	if err != nil || !resp.OK() {
		return false
	}
	var health map[string]any
	if resp.DecodeJSON(&health) != nil || health["status"] != "ok" {
		return false
	}

	resp, err = Do(ctx, m.hc, Request{URL: m.originFor(port) + "/api/version", Timeout: m.opts.Delays.Probe})
	if err != nil || !resp.OK() {
		return false
	}
	var version map[string]any
	if resp.DecodeJSON(&version) != nil {
		return false
	}
	_, ok := version["version"].(string)
	return ok
}

func (m *Manager) accepting(ctx context.Context, port int) bool {
	d := net.Dialer{Timeout: m.opts.Delays.Dial}
	conn, err := d.DialContext(ctx, "tcp", m.addrFor(port))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (m *Manager) freePort(ctx context.Context, port int) bool {
	name, ok := FreePort(ctx, m.opts.Killers, port)
	if !ok {
		log.Warn().Int("port", port).Msg("Could not free worker port")
		return false
	}
	m.metrics.kill(ctx, name)
	return true
}

// trySpawn launches a worker unless one was launched within the debounce window.
func (m *Manager) trySpawn(ctx context.Context, port int) bool {
	m.mu.Lock()
	now := m.now()
	if !m.lastStartAttempt.IsZero() && now.Sub(m.lastStartAttempt) < m.opts.Delays.SpawnDebounce {
		m.mu.Unlock()
		log.Debug().Int("port", port).Msg("Spawn suppressed by debounce")
		return false
	}
	m.lastStartAttempt = now
	m.mu.Unlock()

	if m.opts.Spawner == nil {
		return false
	}
	if err := m.opts.Spawner.Start(ctx, m.opts.Host, port); err != nil {
		log.Error().Err(err).Int("port", port).Msg("Failed to start worker")
		return false
	}
	m.metrics.spawn(ctx, port)
	return true
}

func (m *Manager) waitForReadiness(ctx context.Context, port int, timeout time.Duration) bool {
	url := m.originFor(port) + "/api/readiness"
	deadline := m.now().Add(timeout)

	for m.now().Before(deadline) {
		resp, err := Do(ctx, m.hc, Request{URL: url, Timeout: m.opts.Delays.Probe})
		if err == nil && resp.OK() {
			return true
		}
		if m.sleep(ctx, m.opts.Delays.ReadinessInterval) != nil {
			return false
		}
	}
	return false
}

func (m *Manager) recordedPort() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activePort
}

func (m *Manager) setActivePort(port int) {
	m.mu.Lock()
	m.activePort = port
	m.mu.Unlock()
}

func (m *Manager) addrFor(port int) string {
	return net.JoinHostPort(m.opts.Host, strconv.Itoa(port))
}

func (m *Manager) originFor(port int) string {
	return fmt.Sprintf("http://%s", m.addrFor(port))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
