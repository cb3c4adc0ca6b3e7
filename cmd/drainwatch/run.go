package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/NavarchProject/drainwatch/pkg/agent"
	"github.com/NavarchProject/drainwatch/pkg/drain"
	"github.com/NavarchProject/drainwatch/pkg/metrics"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Wait for SIGTERM and hold shutdown until this host's tasks have stopped",
		Long: `Run the agent. It idles until SIGTERM arrives. If the container instance is
DRAINING it then waits until no non-daemon task is desired RUNNING and every
stopping task reports STOPPED, and exits 0. Any query failure exits 1.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd)
		},
	}
}

func runAgent(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log, os.Stdout)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	// Registered before discovery so an early SIGTERM is queued, not lost.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host, client, err := resolveHost(ctx, cfg, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	drainMetrics, err := metrics.NewDrainMetrics(registry)
	if err != nil {
		return err
	}

	controller := drain.NewController(client, host, drain.Options{
		Interval: cfg.PollInterval,
		Retry:    cfg.RetryPolicy(),
		Observer: drainMetrics,
	}, logger)

	ag := agent.New(agent.Config{
		Host:          host,
		CheckInterval: cfg.CheckInterval,
	}, controller, logger)

	if cfg.Metrics.Address != "" {
		srv := metrics.NewServer(metrics.ServerConfig{
			Address:   cfg.Metrics.Address,
			AuthToken: cfg.Metrics.AuthToken,
			Gatherer:  registry,
			Status:    func() any { return ag.Status() },
		}, logger)
		if err := srv.Start(ctx); err != nil {
			return err
		}
	}

	return ag.Run(ctx, sigCh)
}
