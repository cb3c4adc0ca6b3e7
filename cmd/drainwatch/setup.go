package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/NavarchProject/drainwatch/pkg/config"
	"github.com/NavarchProject/drainwatch/pkg/ecs"
	"github.com/NavarchProject/drainwatch/pkg/identity"
)

// loadConfig layers the config file, environment and flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	applyFlags(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("region") {
		cfg.Region = regionFlag
	}
	if flags.Changed("cluster") {
		cfg.Cluster = clusterFlag
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
}

func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log config: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}

// resolveHost discovers the host identity and returns it with an ECS
// client for its region.
func resolveHost(ctx context.Context, cfg *config.Config, logger *slog.Logger) (identity.Host, *ecs.Client, error) {
	resolver := identity.NewResolver(logger.With(slog.String("component", "identity")))

	host, err := resolver.Resolve(ctx, cfg.HostPreset())
	if err != nil {
		return identity.Host{}, nil, fmt.Errorf("failed to resolve host identity: %w", err)
	}

	client, err := ecs.NewFromRegion(ctx, host.Region, logger.With(slog.String("component", "ecs")))
	if err != nil {
		return identity.Host{}, nil, err
	}

	host, err = resolver.AttachContainerInstance(ctx, host, client)
	if err != nil {
		return identity.Host{}, nil, err
	}
	return host, client, nil
}
