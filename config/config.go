package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"velocity/pkg/models"
)

// Config is the root configuration.
type Config struct {
	Velocity VelocityConfig `yaml:"velocity"`
}

// VelocityConfig is the engine configuration. It is resolved once at
// startup (file, then environment, then defaults) and passed by reference
// into each component's constructor.
type VelocityConfig struct {
	ListenAddr  string           `yaml:"listen_addr"`
	DatabaseURL string           `yaml:"database_url"`
	Redis       RedisConfig      `yaml:"redis"`
	Evaluation  EvaluationConfig `yaml:"evaluation"`
	Escalation  EscalationConfig `yaml:"escalation"`
	SLO         SLOConfig        `yaml:"slo"`
	Owners      map[string]models.RouteOwner `yaml:"owners"`
	Alerts      AlertsConfig     `yaml:"alerts"`
	Logging     LoggingConfig    `yaml:"logging"`
}

// RedisConfig controls the snapshot publisher.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// EvaluationConfig controls the evaluation pass loop.
type EvaluationConfig struct {
	Interval  time.Duration `yaml:"interval"`
	QueueSize int           `yaml:"queue_size"`
}

// EscalationConfig controls the escalation scheduler.
type EscalationConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	MaxLevel     int           `yaml:"max_level"`
	Snooze       time.Duration `yaml:"snooze"`
	CanaryPct    int           `yaml:"canary_pct"`
	DryRun       bool          `yaml:"dry_run"`
	WarnSLA      time.Duration `yaml:"warn_sla"`
	CritSLA      time.Duration `yaml:"crit_sla"`
}

// SLOTarget is a pair of service-level targets for one route.
type SLOTarget struct {
	P95MS  float64 `yaml:"p95_ms" json:"p95_ms"`
	ErrPct float64 `yaml:"err_pct" json:"err_pct"`
}

// SLOConfig holds the default targets plus per-route overrides.
type SLOConfig struct {
	Default SLOTarget            `yaml:"default"`
	Routes  map[string]SLOTarget `yaml:"routes"`
}

// AlertsConfig controls outbound webhook dispatch.
type AlertsConfig struct {
	WebhookURL     string            `yaml:"webhook_url"`
	Timeout        time.Duration     `yaml:"timeout"`
	SuppressWindow time.Duration     `yaml:"suppress_window"`
	Headers        map[string]string `yaml:"headers"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// Load reads an optional YAML file, overlays recognized environment
// variables, and fills defaults. Malformed values fall back to safe
// defaults with a warning instead of failing startup.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}
	applyEnv(&cfg.Velocity)
	applyDefaults(&cfg.Velocity)
	return &cfg, nil
}

func applyEnv(c *VelocityConfig) {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("ALERT_WEBHOOK_URL"); v != "" {
		c.Alerts.WebhookURL = v
	}

	envDurationMS("EVAL_INTERVAL_MS", &c.Evaluation.Interval)
	envDurationMS("ESC_TICK_MS", &c.Escalation.TickInterval)
	envInt("MAX_ESC_LEVEL", &c.Escalation.MaxLevel)
	envDurationMin("ESC_SNOOZE_MIN", &c.Escalation.Snooze)
	if v := os.Getenv("ESC_CANARY_PCT"); v != "" {
		// An unparseable canary value must not strand the rollout at 0%;
		// fall back to full rollout like the out-of-range case.
		if n, err := strconv.Atoi(v); err != nil {
			log.Printf("Warning: ESC_CANARY_PCT=%q is not an integer, using full rollout", v)
			c.Escalation.CanaryPct = 100
		} else {
			c.Escalation.CanaryPct = n
		}
	}
	envBool("ESC_DRY_RUN", &c.Escalation.DryRun)
	envDurationMin("ESC_WARN_ACK_MIN", &c.Escalation.WarnSLA)
	envDurationMin("ESC_CRIT_ACK_MIN", &c.Escalation.CritSLA)
	envFloat("SLO_P95_MS", &c.SLO.Default.P95MS)
	envFloat("SLO_ERR_PCT", &c.SLO.Default.ErrPct)

	if v := os.Getenv("SLO_ROUTES"); v != "" {
		m := map[string]SLOTarget{}
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			log.Printf("Warning: malformed SLO_ROUTES, ignoring overrides: %v", err)
		} else {
			c.SLO.Routes = m
		}
	}
	if v := os.Getenv("ROUTE_OWNERS"); v != "" {
		m := map[string]models.RouteOwner{}
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			log.Printf("Warning: malformed ROUTE_OWNERS, ignoring owner map: %v", err)
		} else {
			c.Owners = m
		}
	}
}

func applyDefaults(c *VelocityConfig) {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8090"
	}
	if c.Redis.TTL <= 0 {
		c.Redis.TTL = 5 * time.Minute
	}
	if c.Evaluation.Interval <= 0 {
		c.Evaluation.Interval = 15 * time.Second
	}
	if c.Evaluation.QueueSize <= 0 {
		c.Evaluation.QueueSize = 256
	}
	if c.Escalation.TickInterval <= 0 {
		c.Escalation.TickInterval = 60 * time.Second
	}
	if c.Escalation.MaxLevel <= 0 {
		c.Escalation.MaxLevel = 7
	}
	if c.Escalation.Snooze <= 0 {
		c.Escalation.Snooze = 30 * time.Minute
	}
	if c.Escalation.CanaryPct < 0 || c.Escalation.CanaryPct > 100 {
		log.Printf("Warning: canary pct %d out of range, using 100", c.Escalation.CanaryPct)
		c.Escalation.CanaryPct = 100
	}
	if c.Escalation.CanaryPct == 0 && os.Getenv("ESC_CANARY_PCT") == "" {
		c.Escalation.CanaryPct = 100
	}
	if os.Getenv("ESC_DRY_RUN") == "" && !c.Escalation.DryRun {
		// Dry-run defaults on; going live requires an explicit ESC_DRY_RUN=false.
		c.Escalation.DryRun = true
	}
	if c.Escalation.WarnSLA <= 0 {
		c.Escalation.WarnSLA = 15 * time.Minute
	}
	if c.Escalation.CritSLA <= 0 {
		c.Escalation.CritSLA = 5 * time.Minute
	}
	if c.SLO.Default.P95MS <= 0 {
		c.SLO.Default.P95MS = 800
	}
	if c.SLO.Default.ErrPct <= 0 {
		c.SLO.Default.ErrPct = 5
	}
	if c.SLO.Routes == nil {
		c.SLO.Routes = map[string]SLOTarget{}
	}
	if c.Owners == nil {
		c.Owners = map[string]models.RouteOwner{}
	}
	if c.Alerts.Timeout <= 0 {
		c.Alerts.Timeout = 5 * time.Second
	}
	if c.Alerts.SuppressWindow <= 0 {
		c.Alerts.SuppressWindow = 5 * time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Warning: %s=%q is not an integer, keeping %d", key, v, *dst)
		return
	}
	*dst = n
}

func envFloat(key string, dst *float64) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("Warning: %s=%q is not a number, keeping %v", key, v, *dst)
		return
	}
	*dst = f
}

func envBool(key string, dst *bool) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("Warning: %s=%q is not a bool, keeping %v", key, v, *dst)
		return
	}
	*dst = b
}

func envDurationMS(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("Warning: %s=%q is not a positive millisecond count, keeping %v", key, v, *dst)
		return
	}
	*dst = time.Duration(n) * time.Millisecond
}

func envDurationMin(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		log.Printf("Warning: %s=%q is not a minute count, keeping %v", key, v, *dst)
		return
	}
	*dst = time.Duration(n) * time.Minute
}
