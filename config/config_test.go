package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaultsWithoutFileOrEnv(t *testing.T) {
	cfg, err := Load("does-not-exist.yml")
	if err != nil {
		t.Fatalf("missing config file must not fail startup: %v", err)
	}

	c := cfg.Velocity
	if c.Escalation.TickInterval != 60*time.Second {
		t.Fatalf("expected 60s tick default, got %v", c.Escalation.TickInterval)
	}
	if c.Escalation.MaxLevel != 7 {
		t.Fatalf("expected max level 7, got %d", c.Escalation.MaxLevel)
	}
	if c.Escalation.Snooze != 30*time.Minute {
		t.Fatalf("expected 30m snooze, got %v", c.Escalation.Snooze)
	}
	if c.Escalation.CanaryPct != 100 {
		t.Fatalf("expected canary 100, got %d", c.Escalation.CanaryPct)
	}
	if !c.Escalation.DryRun {
		t.Fatalf("dry-run must default on")
	}
	if c.Escalation.WarnSLA != 15*time.Minute || c.Escalation.CritSLA != 5*time.Minute {
		t.Fatalf("unexpected SLA defaults: %v/%v", c.Escalation.WarnSLA, c.Escalation.CritSLA)
	}
	if c.SLO.Routes == nil || c.Owners == nil {
		t.Fatalf("override maps must default to empty, not nil")
	}
}

func TestEnvOverridesRecognizedKeys(t *testing.T) {
	t.Setenv("ESC_TICK_MS", "5000")
	t.Setenv("MAX_ESC_LEVEL", "3")
	t.Setenv("ESC_SNOOZE_MIN", "45")
	t.Setenv("ESC_CANARY_PCT", "25")
	t.Setenv("ESC_DRY_RUN", "false")
	t.Setenv("ESC_WARN_ACK_MIN", "20")
	t.Setenv("ESC_CRIT_ACK_MIN", "10")
	t.Setenv("SLO_P95_MS", "400")
	t.Setenv("SLO_ERR_PCT", "1.5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	c := cfg.Velocity
	if c.Escalation.TickInterval != 5*time.Second {
		t.Fatalf("expected 5s tick, got %v", c.Escalation.TickInterval)
	}
	if c.Escalation.MaxLevel != 3 || c.Escalation.CanaryPct != 25 || c.Escalation.DryRun {
		t.Fatalf("unexpected escalation config: %+v", c.Escalation)
	}
	if c.Escalation.Snooze != 45*time.Minute {
		t.Fatalf("expected 45m snooze, got %v", c.Escalation.Snooze)
	}
	if c.Escalation.WarnSLA != 20*time.Minute || c.Escalation.CritSLA != 10*time.Minute {
		t.Fatalf("unexpected SLAs: %v/%v", c.Escalation.WarnSLA, c.Escalation.CritSLA)
	}
	if c.SLO.Default.P95MS != 400 || c.SLO.Default.ErrPct != 1.5 {
		t.Fatalf("unexpected SLO defaults: %+v", c.SLO.Default)
	}
}

func TestInvalidCanaryFallsBackToFullRollout(t *testing.T) {
	t.Setenv("ESC_CANARY_PCT", "150")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Velocity.Escalation.CanaryPct != 100 {
		t.Fatalf("expected fallback to 100, got %d", cfg.Velocity.Escalation.CanaryPct)
	}
}

func TestMalformedCanaryFallsBackToFullRollout(t *testing.T) {
	t.Setenv("ESC_CANARY_PCT", "abc")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Velocity.Escalation.CanaryPct != 100 {
		t.Fatalf("expected fallback to 100, got %d", cfg.Velocity.Escalation.CanaryPct)
	}
}

func TestExplicitZeroCanaryIsHonored(t *testing.T) {
	t.Setenv("ESC_CANARY_PCT", "0")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Velocity.Escalation.CanaryPct != 0 {
		t.Fatalf("expected canary 0, got %d", cfg.Velocity.Escalation.CanaryPct)
	}
}

func TestMalformedOverrideJSONFallsBackToEmptyMaps(t *testing.T) {
	t.Setenv("SLO_ROUTES", "{not json")
	t.Setenv("ROUTE_OWNERS", "[broken")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("malformed overrides must not fail startup: %v", err)
	}
	if len(cfg.Velocity.SLO.Routes) != 0 || len(cfg.Velocity.Owners) != 0 {
		t.Fatalf("expected empty override maps, got %+v / %+v", cfg.Velocity.SLO.Routes, cfg.Velocity.Owners)
	}
}

func TestOverrideMapsParseFromEnv(t *testing.T) {
	t.Setenv("SLO_ROUTES", `{"GET /api/reports": {"p95_ms": 5000, "err_pct": 10}}`)
	t.Setenv("ROUTE_OWNERS", `{"GET /api/tasks": {"owner": "field-ops", "slack_webhook": "https://hooks.example/f"}}`)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tgt := cfg.Velocity.SLO.Routes["GET /api/reports"]; tgt.P95MS != 5000 || tgt.ErrPct != 10 {
		t.Fatalf("unexpected SLO override: %+v", tgt)
	}
	if o := cfg.Velocity.Owners["GET /api/tasks"]; o.Owner != "field-ops" || o.SlackWebhook != "https://hooks.example/f" {
		t.Fatalf("unexpected owner: %+v", o)
	}
}

func TestMalformedNumericEnvKeepsDefault(t *testing.T) {
	t.Setenv("ESC_TICK_MS", "soon")
	t.Setenv("MAX_ESC_LEVEL", "many")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Velocity.Escalation.TickInterval != 60*time.Second || cfg.Velocity.Escalation.MaxLevel != 7 {
		t.Fatalf("expected defaults to survive malformed env, got %+v", cfg.Velocity.Escalation)
	}
}
