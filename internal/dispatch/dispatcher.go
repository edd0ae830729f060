// Package dispatch turns critical alarms and escalations into outbound
// webhook messages, with dedup suppression and per-destination batching.
package dispatch

import (
	"fmt"
	"sync"
	"time"

	"velocity/internal/logger"
	"velocity/internal/metrics"
	"velocity/internal/output/webhook"
	"velocity/pkg/models"
)

// Poster posts a block message to a webhook URL.
type Poster interface {
	Post(url string, msg webhook.Message) error
}

// Config controls dispatch behavior.
type Config struct {
	DefaultWebhookURL string
	SuppressWindow    time.Duration
}

// Dispatcher deduplicates and batches critical alarms. A (kind, route) key
// that has been sent is suppressed until the window lapses, no matter how
// often the underlying evaluation re-fires.
type Dispatcher struct {
	cfg    Config
	writer Poster

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg Config, writer Poster) *Dispatcher {
	if cfg.SuppressWindow <= 0 {
		cfg.SuppressWindow = 5 * time.Minute
	}
	return &Dispatcher{
		cfg:      cfg,
		writer:   writer,
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
}

// DispatchAlarms delivers the critical alarms of one evaluation pass.
// Alarms without a per-route webhook override are batched into a single
// message to the default webhook; override alarms go individually to their
// own destination. One destination failing never blocks the others.
// Suppression is recorded only after a successful delivery, so a failed
// POST leaves the key eligible on the next pass.
func (d *Dispatcher) DispatchAlarms(alarms []models.Alarm) {
	var batch []models.Alarm
	var batchKeys []string
	for _, a := range alarms {
		if a.Severity != models.SeverityCritical {
			continue
		}
		key := a.Kind + "::" + a.Route
		if d.suppressed(key) {
			metrics.DispatchSuppressed.Inc()
			continue
		}
		if a.Owner != nil && a.Owner.SlackWebhook != "" {
			if d.post(a.Owner.SlackWebhook, alarmMessage([]models.Alarm{a})) {
				d.markSent(key)
			}
			continue
		}
		batch = append(batch, a)
		batchKeys = append(batchKeys, key)
	}

	if len(batch) > 0 {
		if d.cfg.DefaultWebhookURL == "" {
			logger.Warnf("No default webhook configured, dropping %d critical alarm(s)", len(batch))
			return
		}
		if d.post(d.cfg.DefaultWebhookURL, alarmMessage(batch)) {
			d.markSent(batchKeys...)
		}
	}
}

// NotifyEscalation delivers one escalation page. Escalations bypass the
// suppression window; the scheduler's snooze gate already paces them.
func (d *Dispatcher) NotifyEscalation(inc models.Incident, newLevel int) {
	url := d.cfg.DefaultWebhookURL
	if inc.Owner != nil && inc.Owner.SlackWebhook != "" {
		url = inc.Owner.SlackWebhook
	}
	if url == "" {
		logger.Warnf("No webhook for escalation of %s, dropping page", inc.IncidentKey)
		return
	}
	d.post(url, escalationMessage(inc, newLevel))
}

func (d *Dispatcher) suppressed(key string) bool {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.lastSent[key]
	return ok && now.Sub(last) < d.cfg.SuppressWindow
}

func (d *Dispatcher) markSent(keys ...string) {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, k := range keys {
		d.lastSent[k] = now
	}

	// Drop lapsed keys so the map stays bounded by recently-alarming routes.
	for k, t := range d.lastSent {
		if now.Sub(t) >= d.cfg.SuppressWindow {
			delete(d.lastSent, k)
		}
	}
}

func (d *Dispatcher) post(url string, msg webhook.Message) bool {
	if err := d.writer.Post(url, msg); err != nil {
		metrics.WebhookFailures.Inc()
		logger.Errorf("Webhook delivery failed: %v", err)
		return false
	}
	return true
}

func alarmMessage(alarms []models.Alarm) webhook.Message {
	blocks := []webhook.Block{webhook.Header(fmt.Sprintf("Velocity: %d critical alarm(s)", len(alarms)))}
	for _, a := range alarms {
		line := fmt.Sprintf("*%s* `%s`\n%s", a.Kind, a.Route, a.Hint)
		if a.Owner != nil && a.Owner.Owner != "" {
			line += fmt.Sprintf("\nOwner: %s", a.Owner.Owner)
		}
		blocks = append(blocks, webhook.Section(line))
	}
	return webhook.Message{Blocks: blocks}
}

func escalationMessage(inc models.Incident, newLevel int) webhook.Message {
	return webhook.Message{Blocks: []webhook.Block{
		webhook.Header(fmt.Sprintf("Velocity escalation: level %d", newLevel)),
		webhook.Section(fmt.Sprintf("*%s* `%s`\nSeverity: %s\nOpen since: %s\n%s",
			inc.Kind, inc.Route, inc.Severity, inc.FirstSeen.Format(time.RFC3339), inc.Metadata.LastHint)),
	}}
}
