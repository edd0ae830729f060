package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"velocity/internal/dispatch"
	"velocity/internal/evaluate"
	"velocity/internal/incident"
	"velocity/internal/output/webhook"
	"velocity/internal/telemetry"
	"velocity/pkg/models"
)

type captureStore struct {
	mu     sync.Mutex
	alarms []models.Alarm
}

func (c *captureStore) RecordAlarm(ctx context.Context, alarm models.Alarm, now time.Time) (*models.Incident, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alarms = append(c.alarms, alarm)
	return &models.Incident{IncidentKey: alarm.Key()}, nil
}

type capturePoster struct {
	mu    sync.Mutex
	posts []webhook.Message
}

func (c *capturePoster) Post(url string, msg webhook.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posts = append(c.posts, msg)
	return nil
}

func TestPassFeedsCorrelatorDispatcherAndReadSurface(t *testing.T) {
	agg := telemetry.NewAggregator()
	for i := 0; i < 10; i++ {
		agg.Record("GET /api/tasks", 50, i >= 5) // 50% errors
	}

	store := &captureStore{}
	correlator := incident.NewCorrelator(store, 8)
	correlator.Start()

	poster := &capturePoster{}
	dispatcher := dispatch.NewDispatcher(dispatch.Config{DefaultWebhookURL: "https://hooks.example/default"}, poster)

	slo := evaluate.SLO{Default: evaluate.Targets{P95MS: 100000, ErrPct: 100}}
	eng := New(agg, slo, nil, correlator, dispatcher, nil, time.Second)

	eng.pass(context.Background())
	correlator.Close()

	alarms := eng.LastAlarms()
	if len(alarms) != 1 || alarms[0].Kind != models.KindErrorRate {
		t.Fatalf("expected one error_rate alarm, got %+v", alarms)
	}
	if alarms[0].Severity != models.SeverityCritical {
		t.Fatalf("expected critical at 50%% errors, got %s", alarms[0].Severity)
	}

	store.mu.Lock()
	recorded := len(store.alarms)
	store.mu.Unlock()
	if recorded != 1 {
		t.Fatalf("expected the alarm in the incident store, got %d", recorded)
	}

	poster.mu.Lock()
	posted := len(poster.posts)
	poster.mu.Unlock()
	if posted != 1 {
		t.Fatalf("expected one webhook message, got %d", posted)
	}
}

func TestPassWithQuietRoutesProducesNoAlarms(t *testing.T) {
	agg := telemetry.NewAggregator()
	agg.Record("GET /api/tasks", 10, true)

	eng := New(agg, evaluate.SLO{Default: evaluate.Targets{P95MS: 100000, ErrPct: 100}}, nil, nil, nil, nil, time.Second)
	eng.pass(context.Background())

	if alarms := eng.LastAlarms(); len(alarms) != 0 {
		t.Fatalf("expected no alarms, got %+v", alarms)
	}
}
