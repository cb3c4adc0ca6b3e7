// Package drain holds the drain-wait state machine that decides when a
// container instance being terminated may actually go away.
//
// On a termination signal the Controller checks that the orchestrator has
// marked the host DRAINING, resolves the deployment ids of DAEMON services,
// then waits in two phases: until no ordinary task is still desired RUNNING,
// and until every ordinary task told to stop reports STOPPED. Daemon tasks
// are ignored throughout since they are expected to outlive the drain.
package drain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/NavarchProject/drainwatch/pkg/clock"
	"github.com/NavarchProject/drainwatch/pkg/ecs"
	"github.com/NavarchProject/drainwatch/pkg/identity"
)

// Outcome summarizes a completed drain sequence.
type Outcome struct {
	DrainID string
	// Draining is false when the gate short-circuited straight to DONE.
	Draining bool
	Daemons  DaemonSet
	Polls    map[Phase]int
	// Elapsed is measured on the controller's clock from the start of Run.
	Elapsed time.Duration
}

// Controller runs the drain sequence for one host.
type Controller struct {
	host     identity.Host
	gate     *Gate
	daemons  *DaemonResolver
	waiter   *Waiter
	clock    clock.Clock
	observer Observer
	logger   *slog.Logger
	state    tracker
	newID    func() string
}

// NewController creates a controller for host. If logger is nil,
// slog.Default() is used.
func NewController(client ecs.ClusterClient, host identity.Host, opts Options, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "drain"))
	opts = opts.withDefaults()

	c := &Controller{
		host:     host,
		gate:     NewGate(client, logger),
		daemons:  NewDaemonResolver(client, logger),
		clock:    opts.Clock,
		observer: opts.Observer,
		logger:   logger,
		newID:    uuid.NewString,
	}

	waiterOpts := opts
	waiterOpts.Observer = trackingObserver{state: &c.state, next: opts.Observer}
	c.waiter = NewWaiter(client, waiterOpts, logger)
	return c
}

// State returns a copy of the current drain state.
func (c *Controller) State() State {
	return c.state.snapshot()
}

// Run executes the drain sequence and blocks until it is safe to exit.
// There is no timeout; the orchestrator's own draining timeout bounds it.
// Errors leave the state in the phase that failed.
func (c *Controller) Run(ctx context.Context) (Outcome, error) {
	id := c.newID()
	started := c.clock.Now()
	c.state.reset(id, started)
	logger := c.logger.With(slog.String("drain_id", id))
	out := Outcome{DrainID: id}

	logger.InfoContext(ctx, "drain sequence started",
		slog.String("cluster", c.host.Cluster),
		slog.String("container_instance", c.host.ContainerInstance),
		slog.String("instance_id", c.host.InstanceID),
	)

	c.enter(PhaseGateCheck)
	draining, err := c.gate.CheckDraining(ctx, c.host)
	if err != nil {
		return c.fail(out, err)
	}
	c.state.setDraining(draining)
	out.Draining = draining

	if !draining {
		logger.InfoContext(ctx, "container instance is not draining, nothing to wait for")
		c.enter(PhaseDone)
		out.Polls = c.polls()
		out.Elapsed = c.clock.Since(started)
		return out, nil
	}

	daemons, err := c.daemons.Resolve(ctx, c.host.Cluster)
	if err != nil {
		return c.fail(out, err)
	}
	c.state.setDaemons(daemons)
	out.Daemons = daemons
	logger.InfoContext(ctx, "resolved daemon deployments", slog.Any("daemon_ids", daemons.IDs()))

	c.enter(PhaseAwaitRunningDrain)
	logger.InfoContext(ctx, "waiting for tasks to leave RUNNING")
	if err := c.waiter.AwaitRunningDrained(ctx, c.host, daemons); err != nil {
		return c.fail(out, err)
	}

	c.enter(PhaseAwaitStoppedConfirm)
	logger.InfoContext(ctx, "waiting for stopping tasks to report STOPPED")
	if err := c.waiter.AwaitStoppedConfirmed(ctx, c.host, daemons); err != nil {
		return c.fail(out, err)
	}

	c.enter(PhaseDone)
	out.Polls = c.polls()
	out.Elapsed = c.clock.Since(started)
	logger.InfoContext(ctx, "all tasks are stopped",
		slog.Int("running_drain_polls", out.Polls[PhaseAwaitRunningDrain]),
		slog.Int("stopped_confirm_polls", out.Polls[PhaseAwaitStoppedConfirm]),
		slog.Duration("elapsed", out.Elapsed),
	)
	return out, nil
}

func (c *Controller) enter(p Phase) {
	c.state.setPhase(p)
	c.observer.PhaseChanged(p)
}

func (c *Controller) fail(out Outcome, err error) (Outcome, error) {
	c.state.setErr(err)
	out.Polls = c.polls()
	return out, fmt.Errorf("drain %s: %w", out.DrainID, err)
}

func (c *Controller) polls() map[Phase]int {
	s := c.state.snapshot()
	polls := make(map[Phase]int, 2)
	for _, p := range []Phase{PhaseAwaitRunningDrain, PhaseAwaitStoppedConfirm} {
		if n, ok := s.Polls[p.String()]; ok {
			polls[p] = n
		}
	}
	return polls
}
