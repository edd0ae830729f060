// Package snapshot publishes the engine's read-surface shapes to Redis so
// dashboard processes can poll them without touching the engine.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"velocity/pkg/models"
)

// Config configures Redis access for snapshot publishing.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// Publisher caches the latest per-route summaries, trend series, and
// evaluation-pass alarms under a key prefix with a TTL.
type Publisher struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewPublisher constructs a Redis-backed publisher and verifies
// connectivity.
func NewPublisher(cfg Config) (*Publisher, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "velocity:telemetry"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis snapshot store: %w", err)
	}

	return &Publisher{client: client, prefix: strings.TrimSpace(cfg.KeyPrefix), ttl: cfg.TTL}, nil
}

// PublishPass writes the results of one evaluation pass in a single
// pipeline round trip.
func (p *Publisher) PublishPass(ctx context.Context, snap map[string]models.WindowedSummary, trends map[string][]models.TrendBucket, alarms []models.Alarm) error {
	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	alarmsJSON, err := json.Marshal(alarms)
	if err != nil {
		return fmt.Errorf("marshal alarms: %w", err)
	}

	pipe := p.client.Pipeline()
	pipe.Set(ctx, p.prefix+":snapshot", snapJSON, p.ttl)
	pipe.Set(ctx, p.prefix+":alarms", alarmsJSON, p.ttl)
	for route, buckets := range trends {
		data, err := json.Marshal(buckets)
		if err != nil {
			return fmt.Errorf("marshal trend for %s: %w", route, err)
		}
		pipe.Set(ctx, p.prefix+":trend:"+route, data, p.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish snapshot pipeline: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
