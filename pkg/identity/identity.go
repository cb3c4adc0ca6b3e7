// Package identity discovers which ECS container instance this agent runs on.
//
// Region and EC2 instance id come from the instance metadata service, the
// cluster from the ECS task metadata endpoint of the agent's own task, and
// the container instance ARN from the ECS API. Any of them can be preset.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
)

// Task metadata endpoint variables injected by the ECS agent, newest first.
const (
	EnvTaskMetadataV4 = "ECS_CONTAINER_METADATA_URI_V4"
	EnvTaskMetadataV3 = "ECS_CONTAINER_METADATA_URI"
)

// Host identifies the container instance. It is resolved once at startup
// and never changes for the life of the process.
type Host struct {
	Region            string `json:"region"`
	InstanceID        string `json:"instance_id"`
	Cluster           string `json:"cluster"`
	ContainerInstance string `json:"container_instance"`
}

// Validate checks that every field is set.
func (h Host) Validate() error {
	var missing []string
	if h.Region == "" {
		missing = append(missing, "region")
	}
	if h.InstanceID == "" {
		missing = append(missing, "instance id")
	}
	if h.Cluster == "" {
		missing = append(missing, "cluster")
	}
	if h.ContainerInstance == "" {
		missing = append(missing, "container instance")
	}
	if len(missing) > 0 {
		return fmt.Errorf("host identity incomplete: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// MetadataAPI is the subset of the IMDS client used by Resolver.
type MetadataAPI interface {
	GetMetadata(ctx context.Context, params *imds.GetMetadataInput, optFns ...func(*imds.Options)) (*imds.GetMetadataOutput, error)
}

// Locator finds the container instance registered for an EC2 instance.
// ecs.ClusterClient satisfies it.
type Locator interface {
	FindContainerInstance(ctx context.Context, cluster, ec2InstanceID string) (string, error)
}

// Resolver discovers the host identity.
type Resolver struct {
	metadata   MetadataAPI
	httpClient *http.Client
	getenv     func(string) string
	logger     *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMetadataAPI replaces the IMDS client.
func WithMetadataAPI(api MetadataAPI) Option {
	return func(r *Resolver) { r.metadata = api }
}

// WithHTTPClient replaces the client used for the task metadata endpoint.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.httpClient = c }
}

// WithGetenv replaces os.Getenv for endpoint discovery.
func WithGetenv(fn func(string) string) Option {
	return func(r *Resolver) { r.getenv = fn }
}

// NewResolver creates a Resolver. If logger is nil, slog.Default() is used.
func NewResolver(logger *slog.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		logger:     logger,
		httpClient: &http.Client{Timeout: 2 * time.Second},
		getenv:     os.Getenv,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metadata == nil {
		r.metadata = imds.New(imds.Options{})
	}
	return r
}

// Resolve fills in region, instance id and cluster, keeping any field already
// set in preset. The container instance is attached later with
// AttachContainerInstance, once an ECS client for the region exists.
func (r *Resolver) Resolve(ctx context.Context, preset Host) (Host, error) {
	h := preset

	if h.Region == "" {
		az, err := r.metadataValue(ctx, "placement/availability-zone")
		if err != nil {
			return Host{}, fmt.Errorf("failed to get availability zone: %w", err)
		}
		region, err := RegionFromZone(az)
		if err != nil {
			return Host{}, err
		}
		h.Region = region
	}

	if h.InstanceID == "" {
		id, err := r.metadataValue(ctx, "instance-id")
		if err != nil {
			return Host{}, fmt.Errorf("failed to get instance id: %w", err)
		}
		h.InstanceID = id
	}

	if h.Cluster == "" {
		cluster, err := r.taskCluster(ctx)
		if err != nil {
			return Host{}, fmt.Errorf("failed to get cluster from task metadata: %w", err)
		}
		h.Cluster = cluster
	}

	r.logger.InfoContext(ctx, "resolved host",
		slog.String("region", h.Region),
		slog.String("instance_id", h.InstanceID),
		slog.String("cluster", h.Cluster),
	)
	return h, nil
}

// AttachContainerInstance sets the container instance ARN unless already set.
func (r *Resolver) AttachContainerInstance(ctx context.Context, h Host, loc Locator) (Host, error) {
	if h.ContainerInstance == "" {
		arn, err := loc.FindContainerInstance(ctx, h.Cluster, h.InstanceID)
		if err != nil {
			return Host{}, fmt.Errorf("failed to find container instance: %w", err)
		}
		h.ContainerInstance = arn
	}

	if err := h.Validate(); err != nil {
		return Host{}, err
	}
	r.logger.InfoContext(ctx, "resolved container instance",
		slog.String("container_instance", h.ContainerInstance),
	)
	return h, nil
}

// RegionFromZone strips the zone letter from an availability zone name.
func RegionFromZone(az string) (string, error) {
	az = strings.TrimSpace(az)
	if len(az) < 2 {
		return "", fmt.Errorf("invalid availability zone %q", az)
	}
	return az[:len(az)-1], nil
}

func (r *Resolver) metadataValue(ctx context.Context, path string) (string, error) {
	out, err := r.metadata.GetMetadata(ctx, &imds.GetMetadataInput{Path: path})
	if err != nil {
		return "", err
	}
	defer out.Content.Close()

	body, err := io.ReadAll(out.Content)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	value := strings.TrimSpace(string(body))
	if value == "" {
		return "", fmt.Errorf("empty metadata value for %s", path)
	}
	return value, nil
}

// taskMetadata is the part of the task metadata response used here.
type taskMetadata struct {
	Cluster string `json:"Cluster"`
	TaskARN string `json:"TaskARN"`
}

func (r *Resolver) taskCluster(ctx context.Context) (string, error) {
	base := r.getenv(EnvTaskMetadataV4)
	if base == "" {
		base = r.getenv(EnvTaskMetadataV3)
	}
	if base == "" {
		return "", errors.New("task metadata endpoint not set (not running as an ECS task?)")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(base, "/")+"/task", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var meta taskMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return "", fmt.Errorf("failed to decode task metadata: %w", err)
	}
	if meta.Cluster == "" {
		return "", errors.New("task metadata has no Cluster")
	}
	return meta.Cluster, nil
}
