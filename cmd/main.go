package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"

	"udprelay/domain"
	"udprelay/observability"
	"udprelay/relay"
	"udprelay/runtime/workers"
	"udprelay/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and centralizes error reporting.
// Returning an error instead of exiting directly keeps 'defer' statements
// (socket cleanup) running and decouples initialization from the entry point.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()

	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := validator.New().Struct(config); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	groupCaps := map[domain.GroupID]int{}
	if config.GroupCapsFile != "" {
		var err error
		if groupCaps, err = loadGroupCaps(config.GroupCapsFile); err != nil {
			return err
		}
	}

	runID := uuid.NewString()
	log.Info("Starting UDP group relay",
		"run_id", runID,
		"host", config.Host,
		"port", config.Port,
		"max_payload", config.MaxPayload,
		"max_group_size", lo.Ternary(config.MaxGroupSize == nil, "unlimited", fmt.Sprint(lo.FromPtr(config.MaxGroupSize))),
		"group_caps", len(groupCaps),
		"max_groups_per_client", config.MaxGroupsPerClient,
	)

	// 2. Metrics
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// 3. Transport & State
	srv := server.New(server.Config{
		Host:          config.Host,
		Port:          config.Port,
		MaxPayload:    config.MaxPayload,
		SweepInterval: config.SweepInterval,
	}, log)
	if err := srv.Listen(); err != nil {
		return err
	}
	defer func() {
		log.Info("Closing UDP socket...")
		_ = srv.Close()
	}()

	state := relay.NewState(relay.Config{
		MaxPayload:         config.MaxPayload,
		EmptyGroupTTL:      config.EmptyGroupTTL,
		SuggestedHeartbeat: config.SuggestedHeartbeat,
		MaxGroupSize:       config.MaxGroupSize,
		PerGroupCaps:       groupCaps,
		MaxGroupsPerClient: config.MaxGroupsPerClient,
	}, log, srv, metrics)
	srv.WithState(state)

	// 4. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Supervision
	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(srv, workers.NewTelemetryWorker(log, config.TelemetryInterval, metrics))
	if config.MetricsPort > 0 {
		sup.Add(workers.NewMetricsServerWorker(log, config.MetricsPort, registry))
	}

	// Blocks until every worker has exited after a signal.
	sup.Run(ctx)

	log.Info("Program stopped cleanly")
	return nil
}
