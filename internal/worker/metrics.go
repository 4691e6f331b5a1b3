package worker

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/thebtf/claude-mem-bridge/internal/worker"

// lifecycleMetrics counts lifecycle events. Counters are no-ops unless
// the host process installs a meter provider.
type lifecycleMetrics struct {
	spawns       metric.Int64Counter
	kills        metric.Int64Counter
	adoptions    metric.Int64Counter
	optimistic   metric.Int64Counter
	readyLatency metric.Float64Histogram
}

func newLifecycleMetrics(mp metric.MeterProvider) *lifecycleMetrics {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	m := mp.Meter(meterName)

	lm := &lifecycleMetrics{}
	// Instrument creation only fails on invalid names; fall back to no-op instruments.
	lm.spawns, _ = m.Int64Counter("worker.spawns", metric.WithDescription("Worker processes launched"))
	lm.kills, _ = m.Int64Counter("worker.kills", metric.WithDescription("Foreign port owners terminated"))
	lm.adoptions, _ = m.Int64Counter("worker.adoptions", metric.WithDescription("Compatible workers adopted"))
	lm.optimistic, _ = m.Int64Counter("worker.optimistic_fallbacks", metric.WithDescription("Discovery gave up and assumed the preferred port"))
	lm.readyLatency, _ = m.Float64Histogram("worker.ready_seconds", metric.WithDescription("Time from spawn to readiness"), metric.WithUnit("s"))
	return lm
}

func (lm *lifecycleMetrics) spawn(ctx context.Context, port int) {
	if lm.spawns != nil {
		lm.spawns.Add(ctx, 1, metric.WithAttributes(attribute.Int("port", port)))
	}
}

func (lm *lifecycleMetrics) kill(ctx context.Context, strategy string) {
	if lm.kills != nil {
		lm.kills.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", strategy)))
	}
}

func (lm *lifecycleMetrics) adopt(ctx context.Context, port int) {
	if lm.adoptions != nil {
		lm.adoptions.Add(ctx, 1, metric.WithAttributes(attribute.Int("port", port)))
	}
}

func (lm *lifecycleMetrics) giveUp(ctx context.Context) {
	if lm.optimistic != nil {
		lm.optimistic.Add(ctx, 1)
	}
}

func (lm *lifecycleMetrics) ready(ctx context.Context, seconds float64) {
	if lm.readyLatency != nil {
		lm.readyLatency.Record(ctx, seconds)
	}
}
