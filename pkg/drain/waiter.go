package drain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/NavarchProject/drainwatch/pkg/clock"
	"github.com/NavarchProject/drainwatch/pkg/ecs"
	"github.com/NavarchProject/drainwatch/pkg/identity"
	"github.com/NavarchProject/drainwatch/pkg/retry"
)

// DefaultInterval is the pause between polls while tasks still block.
const DefaultInterval = 5 * time.Second

// Options configures a Waiter or Controller.
type Options struct {
	// Interval between polls. Zero means DefaultInterval.
	Interval time.Duration

	// Retry is applied to each poll's queries. RetryableFunc defaults to
	// ecs.IsRetryable and Clock to the waiter's clock.
	Retry retry.Config

	// Clock drives poll and retry sleeps. Nil means the real clock.
	Clock clock.Clock

	// Observer receives progress. Nil disables it.
	Observer Observer
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.Retry.RetryableFunc == nil {
		o.Retry.RetryableFunc = ecs.IsRetryable
	}
	if o.Retry.Clock == nil {
		o.Retry.Clock = o.Clock
	}
	return o
}

// Waiter polls the tasks on a container instance until they converge.
type Waiter struct {
	client   ecs.ClusterClient
	clock    clock.Clock
	interval time.Duration
	retry    retry.Config
	observer Observer
	logger   *slog.Logger
}

// NewWaiter creates a Waiter. If logger is nil, slog.Default() is used.
func NewWaiter(client ecs.ClusterClient, opts Options, logger *slog.Logger) *Waiter {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	return &Waiter{
		client:   client,
		clock:    opts.Clock,
		interval: opts.Interval,
		retry:    opts.Retry,
		observer: opts.Observer,
		logger:   logger,
	}
}

// AwaitRunningDrained blocks until no non-daemon task on the host has
// desired status RUNNING.
func (w *Waiter) AwaitRunningDrained(ctx context.Context, host identity.Host, daemons DaemonSet) error {
	return w.await(ctx, host, daemons, PhaseAwaitRunningDrain, ecs.DesiredRunning, RunningBlocks)
}

// AwaitStoppedConfirmed blocks until every non-daemon task on the host that
// is desired STOPPED also reports STOPPED.
func (w *Waiter) AwaitStoppedConfirmed(ctx context.Context, host identity.Host, daemons DaemonSet) error {
	return w.await(ctx, host, daemons, PhaseAwaitStoppedConfirm, ecs.DesiredStopped, StoppingBlocks)
}

func (w *Waiter) await(ctx context.Context, host identity.Host, daemons DaemonSet, phase Phase, desired ecs.DesiredStatus, pred Predicate) error {
	for poll := 1; ; poll++ {
		snap, err := w.Sample(ctx, host, daemons, phase, desired, pred)
		if err != nil {
			return fmt.Errorf("%s poll %d: %w", phase, poll, err)
		}
		snap.Poll = poll
		w.observer.PollCompleted(snap)
		w.logSnapshot(ctx, snap)

		if len(snap.Blocking) == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.clock.After(w.interval):
		}
	}
}

// Sample runs one poll: it lists the host's tasks with the desired status,
// describes them and applies pred to the non-daemon ones. Queries are
// retried under the waiter's policy.
func (w *Waiter) Sample(ctx context.Context, host identity.Host, daemons DaemonSet, phase Phase, desired ecs.DesiredStatus, pred Predicate) (Snapshot, error) {
	cfg := w.retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		w.observer.QueryRetried(phase, attempt, err, delay)
		w.logger.WarnContext(ctx, "task query failed, retrying",
			slog.String("phase", phase.String()),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
	}

	tasks, err := retry.DoWithValue(ctx, cfg, func(ctx context.Context) ([]ecs.Task, error) {
		return w.fetch(ctx, host, desired)
	})
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		Phase:    phase,
		Tasks:    tasks,
		Blocking: Blockers(tasks, daemons, pred),
		At:       w.clock.Now(),
	}, nil
}

func (w *Waiter) fetch(ctx context.Context, host identity.Host, desired ecs.DesiredStatus) ([]ecs.Task, error) {
	arns, err := w.client.ListTasks(ctx, host.Cluster, host.ContainerInstance, desired)
	if err != nil {
		return nil, err
	}
	if len(arns) == 0 {
		return nil, nil
	}
	return w.client.DescribeTasks(ctx, host.Cluster, arns)
}

func (w *Waiter) logSnapshot(ctx context.Context, snap Snapshot) {
	blocking := make([]string, 0, len(snap.Blocking))
	for _, t := range snap.Blocking {
		blocking = append(blocking, t.ARN)
	}

	w.logger.InfoContext(ctx, "polled tasks",
		slog.String("phase", snap.Phase.String()),
		slog.Int("poll", snap.Poll),
		slog.Int("tasks", len(snap.Tasks)),
		slog.Int("blocking", len(snap.Blocking)),
		slog.Any("blocking_tasks", blocking),
	)
	for _, t := range snap.Tasks {
		w.logger.DebugContext(ctx, "task",
			slog.String("arn", t.ARN),
			slog.String("started_by", t.StartedBy),
			slog.String("group", t.Group),
			slog.String("desired_status", string(t.DesiredStatus)),
			slog.String("last_status", t.LastStatus),
		)
	}
}
