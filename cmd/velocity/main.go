package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"velocity/config"
	"velocity/internal/dispatch"
	"velocity/internal/engine"
	"velocity/internal/escalate"
	"velocity/internal/evaluate"
	"velocity/internal/incident"
	"velocity/internal/logger"
	"velocity/internal/output/webhook"
	"velocity/internal/server"
	"velocity/internal/snapshot"
	"velocity/internal/telemetry"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		if _, err := os.Stat(configArg); err == nil {
			return configArg
		}
		log.Printf("Warning: config file not found at %s, trying default locations", configArg)
	}

	if _, err := os.Stat("velocity.yml"); err == nil {
		return "velocity.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		path := filepath.Join(filepath.Dir(exePath), "velocity.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "velocity.yml"
}

func sloFromConfig(c config.SLOConfig) evaluate.SLO {
	slo := evaluate.SLO{
		Default: evaluate.Targets{P95MS: c.Default.P95MS, ErrPct: c.Default.ErrPct},
		Routes:  make(map[string]evaluate.Targets, len(c.Routes)),
	}
	for route, t := range c.Routes {
		slo.Routes[route] = evaluate.Targets{P95MS: t.P95MS, ErrPct: t.ErrPct}
	}
	return slo
}

func main() {
	configArg := ""
	if len(os.Args) > 1 {
		configArg = os.Args[1]
	}

	cfg, err := config.Load(findConfigFile(configArg))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	vc := cfg.Velocity

	if err := logger.Init(true, vc.Logging.Level, vc.Logging.File, vc.Logging.Console || vc.Logging.File == ""); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.Infof("Velocity engine starting")

	aggregator := telemetry.NewAggregator()
	writer := webhook.NewWriter(webhook.Config{Timeout: vc.Alerts.Timeout, Headers: vc.Alerts.Headers})
	dispatcher := dispatch.NewDispatcher(dispatch.Config{
		DefaultWebhookURL: vc.Alerts.WebhookURL,
		SuppressWindow:    vc.Alerts.SuppressWindow,
	}, writer)

	// Persistence is optional: without a database the telemetry and alarm
	// surfaces still run, only incident correlation and escalation are off.
	var store *incident.Store
	var correlator *incident.Correlator
	var scheduler *escalate.Scheduler
	if vc.DatabaseURL != "" {
		store, err = incident.NewStore(vc.DatabaseURL)
		if err != nil {
			logger.Errorf("Failed to connect to incident store, incidents disabled: %v", err)
		} else {
			correlator = incident.NewCorrelator(store, vc.Evaluation.QueueSize)
			correlator.Start()
			scheduler = escalate.NewScheduler(escalate.Config{
				TickInterval: vc.Escalation.TickInterval,
				MaxLevel:     vc.Escalation.MaxLevel,
				Snooze:       vc.Escalation.Snooze,
				CanaryPct:    vc.Escalation.CanaryPct,
				DryRun:       vc.Escalation.DryRun,
				WarnSLA:      vc.Escalation.WarnSLA,
				CritSLA:      vc.Escalation.CritSLA,
			}, store, dispatcher)
		}
	} else {
		logger.Warnf("No DATABASE_URL configured, incident correlation and escalation disabled")
	}

	var publisher *snapshot.Publisher
	if vc.Redis.Addr != "" {
		publisher, err = snapshot.NewPublisher(snapshot.Config{
			Addr:     vc.Redis.Addr,
			Password: vc.Redis.Password,
			DB:       vc.Redis.DB,
			TTL:      vc.Redis.TTL,
		})
		if err != nil {
			logger.Warnf("Snapshot publishing disabled: %v", err)
			publisher = nil
		}
	}

	eng := engine.New(aggregator, sloFromConfig(vc.SLO), vc.Owners, correlator, dispatcher, publisher, vc.Evaluation.Interval)
	srv := server.New(aggregator, eng, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := eng.Run(ctx); err != nil && err != context.Canceled {
			logger.Errorf("Evaluation loop error: %v", err)
		}
	}()
	if scheduler != nil {
		go func() {
			if err := scheduler.Run(ctx); err != nil && err != context.Canceled {
				logger.Errorf("Escalation scheduler error: %v", err)
			}
		}()
	}

	httpServer := &http.Server{Addr: vc.ListenAddr, Handler: srv.Handler()}
	go func() {
		logger.Infof("HTTP server listening on %s", vc.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("HTTP server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("Shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("HTTP shutdown error: %v", err)
	}

	if correlator != nil {
		correlator.Close()
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Errorf("Error closing snapshot publisher: %v", err)
		}
	}
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Errorf("Error closing incident store: %v", err)
		}
	}

	logger.Infof("Velocity engine stopped")
}
