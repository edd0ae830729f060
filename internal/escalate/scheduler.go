// Package escalate advances unacknowledged incidents through severity
// levels under SLA, snooze, and canary gates on a periodic tick.
package escalate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"velocity/internal/logger"
	"velocity/internal/metrics"
	"velocity/pkg/models"
)

// Config controls the scheduler gates.
type Config struct {
	TickInterval time.Duration
	MaxLevel     int
	Snooze       time.Duration
	CanaryPct    int
	DryRun       bool
	WarnSLA      time.Duration
	CritSLA      time.Duration
}

// Store is the persisted incident state the scheduler reads and writes.
type Store interface {
	OpenCandidates(ctx context.Context, snoozeCutoff time.Time, maxLevel int) ([]models.Incident, error)
	BumpEscalation(ctx context.Context, inc models.Incident, fromLevel int, eventHash string, now time.Time) (bool, error)
}

// Notifier delivers escalation pages. Delivery is best-effort; the level
// bump is authoritative even if the page never arrives.
type Notifier interface {
	NotifyEscalation(inc models.Incident, newLevel int)
}

// Scheduler runs the periodic escalation tick.
type Scheduler struct {
	cfg      Config
	store    Store
	notifier Notifier

	tickMu sync.Mutex
	now    func() time.Time
}

// NewScheduler creates a scheduler.
func NewScheduler(cfg Config, store Store, notifier Notifier) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 60 * time.Second
	}
	if cfg.MaxLevel <= 0 {
		cfg.MaxLevel = 7
	}
	if cfg.Snooze <= 0 {
		cfg.Snooze = 30 * time.Minute
	}
	if cfg.WarnSLA <= 0 {
		cfg.WarnSLA = 15 * time.Minute
	}
	if cfg.CritSLA <= 0 {
		cfg.CritSLA = 5 * time.Minute
	}
	return &Scheduler{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		now:      time.Now,
	}
}

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	logger.Infof("Escalation scheduler started (tick=%s max_level=%d snooze=%s canary=%d%% dry_run=%v)",
		s.cfg.TickInterval, s.cfg.MaxLevel, s.cfg.Snooze, s.cfg.CanaryPct, s.cfg.DryRun)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one scan. A tick still running when the next interval fires
// causes the overlapping tick to be skipped; the event-hash constraint in
// the store is the last line of defense if two processes overlap anyway.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.tickMu.TryLock() {
		logger.Warnf("Escalation tick still running, skipping overlapping tick")
		return
	}
	defer s.tickMu.Unlock()

	start := s.now()
	if err := s.runTick(ctx); err != nil {
		logger.Errorf("Escalation tick aborted: %v", err)
	}

	elapsed := s.now().Sub(start)
	metrics.TickDuration.Observe(elapsed.Seconds())
	if budget := s.cfg.TickInterval * 4 / 5; elapsed > budget {
		logger.Warnf("Escalation tick took %s, over the %s soft budget", elapsed, budget)
	}
}

func (s *Scheduler) runTick(ctx context.Context) error {
	now := s.now()
	candidates, err := s.store.OpenCandidates(ctx, now.Add(-s.cfg.Snooze), s.cfg.MaxLevel)
	if err != nil {
		// Nothing was written; the next tick re-evaluates the same set.
		return fmt.Errorf("failed to load candidates: %w", err)
	}

	for i := range candidates {
		inc := candidates[i]
		if !s.ShouldEscalate(inc, now) {
			continue
		}
		newLevel := inc.EscalationLevel + 1

		if s.cfg.DryRun {
			logger.Infof("DRY RUN: would escalate %s to level %d (severity=%s age=%s)",
				inc.IncidentKey, newLevel, inc.Severity, now.Sub(inc.FirstSeen).Truncate(time.Second))
			metrics.EscalationDryRuns.Inc()
			continue
		}

		ok, err := s.store.BumpEscalation(ctx, inc, inc.EscalationLevel, EventHash(inc.IncidentKey, newLevel), now)
		if err != nil {
			logger.Errorf("Failed to escalate %s: %v", inc.IncidentKey, err)
			continue
		}
		if !ok {
			logger.Debugf("Escalation of %s to level %d already recorded, skipping", inc.IncidentKey, newLevel)
			metrics.EscalationCollisions.Inc()
			continue
		}

		metrics.Escalations.Inc()
		logger.Infof("Escalated %s to level %d (severity=%s)", inc.IncidentKey, newLevel, inc.Severity)
		if s.notifier != nil {
			s.notifier.NotifyEscalation(inc, newLevel)
		}
	}
	return nil
}

// ShouldEscalate applies every gate to one candidate at the given instant.
func (s *Scheduler) ShouldEscalate(inc models.Incident, now time.Time) bool {
	if inc.Status != models.StatusOpen || inc.AcknowledgedAt != nil {
		return false
	}
	if inc.EscalationLevel >= s.cfg.MaxLevel {
		return false
	}
	if inc.EscalatedAt != nil && now.Sub(*inc.EscalatedAt) < s.cfg.Snooze {
		return false
	}
	// Level N+1 is due at (N+1) x SLA after first sight, so repeated pages
	// space out as the incident matures.
	sla := s.slaFor(inc.Severity)
	if now.Sub(inc.FirstSeen) < sla*time.Duration(inc.EscalationLevel+1) {
		return false
	}
	return InCanary(inc.IncidentKey, s.cfg.CanaryPct)
}

func (s *Scheduler) slaFor(severity string) time.Duration {
	if severity == models.SeverityCritical {
		return s.cfg.CritSLA
	}
	return s.cfg.WarnSLA
}

// InCanary reports whether an incident key falls inside the rollout
// percentage. The bucket is a stable hash of the key, so the same key lands
// in the same bucket on every call and across restarts.
func InCanary(key string, pct int) bool {
	if pct >= 100 {
		return true
	}
	if pct <= 0 {
		return false
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32()%100) < pct
}

// EventHash derives the stable per-level idempotency hash for an
// escalation event.
func EventHash(key string, level int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", key, level)))
	return hex.EncodeToString(sum[:])[:32]
}
