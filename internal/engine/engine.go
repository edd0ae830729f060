// Package engine drives the evaluation passes that connect the window
// aggregator to the correlator, the dispatcher, and the snapshot publisher.
package engine

import (
	"context"
	"sync"
	"time"

	"velocity/internal/dispatch"
	"velocity/internal/evaluate"
	"velocity/internal/incident"
	"velocity/internal/logger"
	"velocity/internal/metrics"
	"velocity/internal/snapshot"
	"velocity/internal/telemetry"
	"velocity/pkg/models"
)

// Engine runs a fixed-interval evaluation pass over every known route.
type Engine struct {
	agg        *telemetry.Aggregator
	slo        evaluate.SLO
	owners     map[string]models.RouteOwner
	correlator *incident.Correlator
	dispatcher *dispatch.Dispatcher
	publisher  *snapshot.Publisher
	interval   time.Duration

	mu         sync.RWMutex
	lastAlarms []models.Alarm
	now        func() time.Time
}

// New creates an engine. correlator, dispatcher, and publisher may each be
// nil when the corresponding collaborator is disabled.
func New(agg *telemetry.Aggregator, slo evaluate.SLO, owners map[string]models.RouteOwner,
	correlator *incident.Correlator, dispatcher *dispatch.Dispatcher, publisher *snapshot.Publisher,
	interval time.Duration) *Engine {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if owners == nil {
		owners = map[string]models.RouteOwner{}
	}
	return &Engine{
		agg:        agg,
		slo:        slo,
		owners:     owners,
		correlator: correlator,
		dispatcher: dispatcher,
		publisher:  publisher,
		interval:   interval,
		now:        time.Now,
	}
}

// Run evaluates on a fixed interval until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	logger.Infof("Evaluation loop started (interval=%s)", e.interval)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.pass(ctx)
		}
	}
}

// pass runs one evaluation over every route. Failures in any collaborator
// are logged and never propagate; telemetry evaluation is fire-and-forget
// relative to the request paths producing the samples.
func (e *Engine) pass(ctx context.Context) {
	start := e.now()
	now := start

	var alarms []models.Alarm
	trends := make(map[string][]models.TrendBucket)
	for _, route := range e.agg.Routes() {
		sum := e.agg.Summarize(route, telemetry.WindowShort)
		trend := e.agg.Trend(route)
		trends[route] = trend
		alarms = append(alarms, evaluate.Evaluate(now, route, sum, trend, e.slo, e.owners)...)
	}

	for _, a := range alarms {
		metrics.AlarmsFired.WithLabelValues(a.Kind, a.Severity).Inc()
		if e.correlator != nil {
			e.correlator.Enqueue(a)
		}
	}
	if e.dispatcher != nil {
		e.dispatcher.DispatchAlarms(alarms)
	}

	e.mu.Lock()
	e.lastAlarms = alarms
	e.mu.Unlock()

	if e.publisher != nil {
		if err := e.publisher.PublishPass(ctx, e.agg.Snapshot(), trends, alarms); err != nil {
			logger.Warnf("Failed to publish snapshot: %v", err)
		}
	}

	metrics.EvalPassDuration.Observe(e.now().Sub(start).Seconds())
}

// LastAlarms returns the alarms of the latest completed evaluation pass.
func (e *Engine) LastAlarms() []models.Alarm {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.Alarm, len(e.lastAlarms))
	copy(out, e.lastAlarms)
	return out
}
