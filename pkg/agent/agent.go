// Package agent runs the long-lived drainwatch process: it idles until a
// termination signal arrives, then runs the drain sequence once.
package agent

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/NavarchProject/drainwatch/pkg/clock"
	"github.com/NavarchProject/drainwatch/pkg/drain"
	"github.com/NavarchProject/drainwatch/pkg/identity"
)

// Drainer runs a drain sequence. *drain.Controller satisfies it.
type Drainer interface {
	Run(ctx context.Context) (drain.Outcome, error)
	State() drain.State
}

// Config holds configuration for the agent.
type Config struct {
	// Host is the resolved identity of this container instance.
	Host identity.Host

	// CheckInterval is the idle heartbeat period. Default: 30s.
	CheckInterval time.Duration

	// Clock drives the idle ticker. If nil, the real clock is used.
	Clock clock.Clock
}

// Status is the agent view served on /status.
type Status struct {
	Host      identity.Host `json:"host"`
	Triggered bool          `json:"triggered"`
	Drain     drain.State   `json:"drain"`
}

// Agent waits for the termination signal and hands it to a Drainer.
type Agent struct {
	config  Config
	drainer Drainer
	clock   clock.Clock
	logger  *slog.Logger

	mu        sync.Mutex
	triggered bool
}

// New creates an agent. If logger is nil, slog.Default() is used.
func New(cfg Config, drainer Drainer, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Agent{
		config:  cfg,
		drainer: drainer,
		clock:   clk,
		logger:  logger.With(slog.String("component", "agent")),
	}
}

// Run idles until a signal arrives on trigger, then runs the drain
// synchronously and returns its error. The idle loop never resumes.
// If ctx is cancelled first, Run returns ctx.Err().
//
// The drain does not observe ctx cancellation: once started it runs
// until the tasks have stopped or a query fails.
func (a *Agent) Run(ctx context.Context, trigger <-chan os.Signal) error {
	a.logger.InfoContext(ctx, "waiting for termination signal",
		slog.String("cluster", a.config.Host.Cluster),
		slog.String("container_instance", a.config.Host.ContainerInstance),
		slog.Duration("check_interval", a.config.CheckInterval),
	)

	ticker := a.clock.NewTicker(a.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			a.logger.DebugContext(ctx, "idle", slog.String("state", a.drainer.State().Phase.String()))
		case sig := <-trigger:
			ticker.Stop()
			return a.drain(ctx, sig, trigger)
		}
	}
}

func (a *Agent) drain(ctx context.Context, sig os.Signal, trigger <-chan os.Signal) error {
	a.mu.Lock()
	a.triggered = true
	a.mu.Unlock()

	a.logger.InfoContext(ctx, "trapped "+signalName(sig),
		slog.String("instance_id", a.config.Host.InstanceID),
		slog.String("container_instance", a.config.Host.ContainerInstance),
	)

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case s := <-trigger:
				a.logger.WarnContext(ctx, "drain in progress, ignoring signal", slog.String("signal", signalName(s)))
			}
		}
	}()

	out, err := a.drainer.Run(context.WithoutCancel(ctx))
	if err != nil {
		a.logger.ErrorContext(ctx, "drain failed", slog.String("error", err.Error()))
		return err
	}

	a.logger.InfoContext(ctx, "drain complete, exiting",
		slog.String("drain_id", out.DrainID),
		slog.Bool("was_draining", out.Draining),
	)
	return nil
}

// Status returns the agent and drain state.
func (a *Agent) Status() Status {
	a.mu.Lock()
	triggered := a.triggered
	a.mu.Unlock()

	return Status{
		Host:      a.config.Host,
		Triggered: triggered,
		Drain:     a.drainer.State(),
	}
}

func signalName(sig os.Signal) string {
	if sig == syscall.SIGTERM {
		return "SIGTERM"
	}
	return sig.String()
}
