package ecs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsecs "github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
)

// API limits on the number of resources per Describe call.
const (
	describeServicesBatch = 10
	describeTasksBatch    = 100
)

// failureMissing is the reason ECS reports for a resource that no longer exists.
const failureMissing = "MISSING"

// API is the subset of the ECS SDK client used by Client.
type API interface {
	ListServices(ctx context.Context, params *awsecs.ListServicesInput, optFns ...func(*awsecs.Options)) (*awsecs.ListServicesOutput, error)
	DescribeServices(ctx context.Context, params *awsecs.DescribeServicesInput, optFns ...func(*awsecs.Options)) (*awsecs.DescribeServicesOutput, error)
	DescribeContainerInstances(ctx context.Context, params *awsecs.DescribeContainerInstancesInput, optFns ...func(*awsecs.Options)) (*awsecs.DescribeContainerInstancesOutput, error)
	ListContainerInstances(ctx context.Context, params *awsecs.ListContainerInstancesInput, optFns ...func(*awsecs.Options)) (*awsecs.ListContainerInstancesOutput, error)
	ListTasks(ctx context.Context, params *awsecs.ListTasksInput, optFns ...func(*awsecs.Options)) (*awsecs.ListTasksOutput, error)
	DescribeTasks(ctx context.Context, params *awsecs.DescribeTasksInput, optFns ...func(*awsecs.Options)) (*awsecs.DescribeTasksOutput, error)
}

// Client implements ClusterClient on the Amazon ECS API.
type Client struct {
	api    API
	logger *slog.Logger
}

// NewFromRegion loads the default AWS configuration (environment, shared
// config, instance role) for region and returns a Client.
func NewFromRegion(ctx context.Context, region string, logger *slog.Logger) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return NewWithAPI(awsecs.NewFromConfig(cfg), logger), nil
}

// NewWithAPI returns a Client backed by api. If logger is nil, slog.Default() is used.
func NewWithAPI(api API, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{api: api, logger: logger}
}

// ListDaemonServices returns the ARNs of DAEMON services in cluster, across all pages.
func (c *Client) ListDaemonServices(ctx context.Context, cluster string) ([]string, error) {
	p := awsecs.NewListServicesPaginator(c.api, &awsecs.ListServicesInput{
		Cluster:            aws.String(cluster),
		SchedulingStrategy: ecstypes.SchedulingStrategyDaemon,
	})

	var arns []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, NewQueryError("ListServices", err)
		}
		arns = append(arns, page.ServiceArns...)
	}
	return arns, nil
}

// DescribeServices describes arns in batches of ten.
func (c *Client) DescribeServices(ctx context.Context, cluster string, arns []string) ([]Service, error) {
	services := make([]Service, 0, len(arns))
	for _, batch := range chunk(arns, describeServicesBatch) {
		out, err := c.api.DescribeServices(ctx, &awsecs.DescribeServicesInput{
			Cluster:  aws.String(cluster),
			Services: batch,
		})
		if err != nil {
			return nil, NewQueryError("DescribeServices", err)
		}
		if err := failuresError("DescribeServices", out.Failures); err != nil {
			return nil, err
		}
		for _, svc := range out.Services {
			services = append(services, toService(svc))
		}
	}
	return services, nil
}

// DescribeContainerInstance returns the record for instance.
func (c *Client) DescribeContainerInstance(ctx context.Context, cluster, instance string) (ContainerInstance, error) {
	out, err := c.api.DescribeContainerInstances(ctx, &awsecs.DescribeContainerInstancesInput{
		Cluster:            aws.String(cluster),
		ContainerInstances: []string{instance},
	})
	if err != nil {
		return ContainerInstance{}, NewQueryError("DescribeContainerInstances", err)
	}
	if err := failuresError("DescribeContainerInstances", out.Failures); err != nil {
		return ContainerInstance{}, err
	}
	if len(out.ContainerInstances) == 0 {
		return ContainerInstance{}, &QueryError{
			Op:    "DescribeContainerInstances",
			Cause: fmt.Errorf("container instance %s not found in cluster %s", instance, cluster),
		}
	}

	ci := out.ContainerInstances[0]
	return ContainerInstance{
		ARN:           aws.ToString(ci.ContainerInstanceArn),
		EC2InstanceID: aws.ToString(ci.Ec2InstanceId),
		Status:        InstanceStatus(aws.ToString(ci.Status)),
		RunningTasks:  int(ci.RunningTasksCount),
		PendingTasks:  int(ci.PendingTasksCount),
	}, nil
}

// ListTasks returns the task ARNs on instance with the desired status, across all pages.
func (c *Client) ListTasks(ctx context.Context, cluster, instance string, desired DesiredStatus) ([]string, error) {
	p := awsecs.NewListTasksPaginator(c.api, &awsecs.ListTasksInput{
		Cluster:           aws.String(cluster),
		ContainerInstance: aws.String(instance),
		DesiredStatus:     ecstypes.DesiredStatus(desired),
	})

	var arns []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, NewQueryError("ListTasks", err)
		}
		arns = append(arns, page.TaskArns...)
	}
	return arns, nil
}

// DescribeTasks describes arns in batches of one hundred.
func (c *Client) DescribeTasks(ctx context.Context, cluster string, arns []string) ([]Task, error) {
	tasks := make([]Task, 0, len(arns))
	for _, batch := range chunk(arns, describeTasksBatch) {
		out, err := c.api.DescribeTasks(ctx, &awsecs.DescribeTasksInput{
			Cluster: aws.String(cluster),
			Tasks:   batch,
		})
		if err != nil {
			return nil, NewQueryError("DescribeTasks", err)
		}
		if err := failuresError("DescribeTasks", out.Failures); err != nil {
			return nil, err
		}
		for _, t := range out.Tasks {
			tasks = append(tasks, Task{
				ARN:            aws.ToString(t.TaskArn),
				StartedBy:      aws.ToString(t.StartedBy),
				Group:          aws.ToString(t.Group),
				TaskDefinition: aws.ToString(t.TaskDefinitionArn),
				DesiredStatus:  DesiredStatus(aws.ToString(t.DesiredStatus)),
				LastStatus:     aws.ToString(t.LastStatus),
			})
		}
	}
	return tasks, nil
}

// FindContainerInstance looks up the container instance registered for ec2InstanceID.
func (c *Client) FindContainerInstance(ctx context.Context, cluster, ec2InstanceID string) (string, error) {
	out, err := c.api.ListContainerInstances(ctx, &awsecs.ListContainerInstancesInput{
		Cluster: aws.String(cluster),
		Filter:  aws.String(fmt.Sprintf("ec2InstanceId == %s", ec2InstanceID)),
	})
	if err != nil {
		return "", NewQueryError("ListContainerInstances", err)
	}
	if len(out.ContainerInstanceArns) == 0 {
		return "", &QueryError{
			Op:    "ListContainerInstances",
			Cause: fmt.Errorf("no container instance registered for %s in cluster %s", ec2InstanceID, cluster),
		}
	}
	if len(out.ContainerInstanceArns) > 1 {
		c.logger.WarnContext(ctx, "multiple container instances registered for host, using the first",
			slog.String("ec2_instance_id", ec2InstanceID),
			slog.Int("count", len(out.ContainerInstanceArns)),
		)
	}
	return out.ContainerInstanceArns[0], nil
}

func toService(svc ecstypes.Service) Service {
	s := Service{
		ARN:                aws.ToString(svc.ServiceArn),
		Name:               aws.ToString(svc.ServiceName),
		SchedulingStrategy: string(svc.SchedulingStrategy),
	}
	for _, d := range svc.Deployments {
		if id := aws.ToString(d.Id); id != "" {
			s.DeploymentIDs = append(s.DeploymentIDs, id)
		}
	}
	return s
}

// failuresError turns the failures array of a Describe call into a QueryError.
// Only resources that vanished between list and describe are worth retrying.
func failuresError(op string, failures []ecstypes.Failure) error {
	if len(failures) == 0 {
		return nil
	}

	msgs := make([]string, 0, len(failures))
	retryable := true
	for _, f := range failures {
		reason := aws.ToString(f.Reason)
		if reason != failureMissing {
			retryable = false
		}
		msgs = append(msgs, fmt.Sprintf("%s: %s", aws.ToString(f.Arn), reason))
	}
	return &QueryError{
		Op:        op,
		Cause:     errors.New(strings.Join(msgs, "; ")),
		Retryable: retryable,
	}
}

func chunk(items []string, size int) [][]string {
	var batches [][]string
	for len(items) > size {
		batches = append(batches, items[:size])
		items = items[size:]
	}
	if len(items) > 0 {
		batches = append(batches, items)
	}
	return batches
}

// Ensure Client implements ClusterClient.
var _ ClusterClient = (*Client)(nil)
