package incident

import (
	"context"
	"sync"
	"time"

	"velocity/internal/logger"
	"velocity/internal/metrics"
	"velocity/pkg/models"
)

// AlarmStore persists one alarm into its incident row.
type AlarmStore interface {
	RecordAlarm(ctx context.Context, alarm models.Alarm, now time.Time) (*models.Incident, error)
}

// Correlator feeds alarms into the store through a bounded queue consumed
// by a single worker, so a slow or failing database never blocks the
// telemetry path. The hot path only enqueues; a full queue drops the alarm
// with a log line. Incident recording is best-effort by design.
type Correlator struct {
	store AlarmStore
	queue chan models.Alarm
	wg    sync.WaitGroup
	once  sync.Once
	now   func() time.Time
}

// NewCorrelator creates a correlator with the given queue capacity.
func NewCorrelator(store AlarmStore, queueSize int) *Correlator {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Correlator{
		store: store,
		queue: make(chan models.Alarm, queueSize),
		now:   time.Now,
	}
}

// Start launches the queue worker.
func (c *Correlator) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for alarm := range c.queue {
			c.record(alarm)
		}
	}()
}

// Enqueue hands an alarm to the worker without blocking. Returns false when
// the queue is full and the alarm was dropped.
func (c *Correlator) Enqueue(alarm models.Alarm) bool {
	select {
	case c.queue <- alarm:
		return true
	default:
		metrics.IncidentQueueDrops.Inc()
		logger.Warnf("Incident queue full, dropping alarm %s", alarm.Key())
		return false
	}
}

// Close drains the queue and stops the worker.
func (c *Correlator) Close() {
	c.once.Do(func() {
		close(c.queue)
	})
	c.wg.Wait()
}

func (c *Correlator) record(alarm models.Alarm) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := c.store.RecordAlarm(ctx, alarm, c.now()); err != nil {
		metrics.IncidentWriteErrors.Inc()
		logger.Errorf("Failed to record incident for %s: %v", alarm.Key(), err)
		return
	}
	metrics.IncidentsUpserted.Inc()
}
