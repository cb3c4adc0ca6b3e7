package drain

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/NavarchProject/drainwatch/pkg/ecs"
	"github.com/NavarchProject/drainwatch/pkg/identity"
)

// Gate decides whether a termination is an orchestrated drain.
type Gate struct {
	client ecs.ClusterClient
	logger *slog.Logger
}

// NewGate creates a gate. If logger is nil, slog.Default() is used.
func NewGate(client ecs.ClusterClient, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{client: client, logger: logger}
}

// CheckDraining reports whether the host's container instance is DRAINING.
// It only reads; calling it twice against unchanged state gives the same answer.
func (g *Gate) CheckDraining(ctx context.Context, host identity.Host) (bool, error) {
	ci, err := g.Status(ctx, host)
	if err != nil {
		return false, err
	}
	return ci.Status == ecs.InstanceDraining, nil
}

// Status returns the container instance record the gate decides on.
func (g *Gate) Status(ctx context.Context, host identity.Host) (ecs.ContainerInstance, error) {
	ci, err := g.client.DescribeContainerInstance(ctx, host.Cluster, host.ContainerInstance)
	if err != nil {
		return ecs.ContainerInstance{}, fmt.Errorf("failed to describe container instance: %w", err)
	}

	g.logger.InfoContext(ctx, "container instance status",
		slog.String("container_instance", host.ContainerInstance),
		slog.String("status", string(ci.Status)),
		slog.Int("running_tasks", ci.RunningTasks),
		slog.Int("pending_tasks", ci.PendingTasks),
	)
	return ci, nil
}
