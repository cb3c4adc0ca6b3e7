package drain

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/NavarchProject/drainwatch/pkg/ecs"
)

// DaemonSet holds the deployment ids of DAEMON-strategy services. Tasks
// whose startedBy is in the set never hold up a drain.
type DaemonSet map[string]struct{}

// NewDaemonSet creates a set from deployment ids. Empty ids are ignored.
func NewDaemonSet(ids ...string) DaemonSet {
	s := make(DaemonSet, len(ids))
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
	return s
}

// Contains reports whether startedBy belongs to a daemon deployment.
// An empty startedBy is never a daemon.
func (s DaemonSet) Contains(startedBy string) bool {
	if startedBy == "" {
		return false
	}
	_, ok := s[startedBy]
	return ok
}

// IDs returns the ids in sorted order.
func (s DaemonSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DaemonResolver resolves the daemon deployment ids of a cluster.
type DaemonResolver struct {
	client ecs.ClusterClient
	logger *slog.Logger
}

// NewDaemonResolver creates a resolver. If logger is nil, slog.Default() is used.
func NewDaemonResolver(client ecs.ClusterClient, logger *slog.Logger) *DaemonResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &DaemonResolver{client: client, logger: logger}
}

// Resolve lists the cluster's DAEMON services and collects the ids of all
// their deployments.
func (r *DaemonResolver) Resolve(ctx context.Context, cluster string) (DaemonSet, error) {
	arns, err := r.client.ListDaemonServices(ctx, cluster)
	if err != nil {
		return nil, fmt.Errorf("failed to list daemon services: %w", err)
	}
	if len(arns) == 0 {
		r.logger.InfoContext(ctx, "no daemon services in cluster")
		return NewDaemonSet(), nil
	}

	services, err := r.client.DescribeServices(ctx, cluster, arns)
	if err != nil {
		return nil, fmt.Errorf("failed to describe daemon services: %w", err)
	}

	set := NewDaemonSet()
	for _, svc := range services {
		for _, id := range svc.DeploymentIDs {
			if id != "" {
				set[id] = struct{}{}
			}
		}
		r.logger.DebugContext(ctx, "daemon service",
			slog.String("service", svc.Name),
			slog.Any("deployment_ids", svc.DeploymentIDs),
		)
	}
	return set, nil
}
