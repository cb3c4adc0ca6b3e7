// Package ecs is the orchestrator boundary: the ClusterClient capability the
// drain logic consumes and its implementation on the Amazon ECS API.
package ecs

import "context"

// DesiredStatus is the orchestrator's target state for a task.
type DesiredStatus string

const (
	DesiredRunning DesiredStatus = "RUNNING"
	DesiredStopped DesiredStatus = "STOPPED"
)

// TaskStatusStopped is the last status of a task whose containers have exited.
const TaskStatusStopped = "STOPPED"

// InstanceStatus is the status on a container instance record.
type InstanceStatus string

const (
	InstanceActive             InstanceStatus = "ACTIVE"
	InstanceDraining           InstanceStatus = "DRAINING"
	InstanceRegistering        InstanceStatus = "REGISTERING"
	InstanceDeregistering      InstanceStatus = "DEREGISTERING"
	InstanceRegistrationFailed InstanceStatus = "REGISTRATION_FAILED"
	InstanceInactive           InstanceStatus = "INACTIVE"
)

// ContainerInstance is the orchestrator's record of a registered host.
type ContainerInstance struct {
	ARN           string
	EC2InstanceID string
	Status        InstanceStatus
	RunningTasks  int
	PendingTasks  int
}

// Service is a scheduled service and the ids of its deployments.
type Service struct {
	ARN                string
	Name               string
	SchedulingStrategy string
	// DeploymentIDs are the values tasks of this service carry in startedBy.
	DeploymentIDs []string
}

// Task is a snapshot of one task. Never cache it across polls.
type Task struct {
	ARN            string        `json:"arn"`
	StartedBy      string        `json:"started_by,omitempty"`
	Group          string        `json:"group,omitempty"`
	TaskDefinition string        `json:"task_definition,omitempty"`
	DesiredStatus  DesiredStatus `json:"desired_status"`
	LastStatus     string        `json:"last_status"`
}

// Stopped reports whether the task's containers have finished exiting.
func (t Task) Stopped() bool {
	return t.LastStatus == TaskStatusStopped
}

// ClusterClient queries cluster, service, task and instance state.
// Every method fails with a *QueryError; partial results are never returned.
type ClusterClient interface {
	// ListDaemonServices returns the ARNs of services scheduled with the DAEMON strategy.
	ListDaemonServices(ctx context.Context, cluster string) ([]string, error)

	// DescribeServices returns the services named by arns.
	DescribeServices(ctx context.Context, cluster string, arns []string) ([]Service, error)

	// DescribeContainerInstance returns the record for one container instance.
	DescribeContainerInstance(ctx context.Context, cluster, instance string) (ContainerInstance, error)

	// ListTasks returns the ARNs of tasks on instance with the given desired status.
	ListTasks(ctx context.Context, cluster, instance string, desired DesiredStatus) ([]string, error)

	// DescribeTasks returns the tasks named by arns.
	DescribeTasks(ctx context.Context, cluster string, arns []string) ([]Task, error)

	// FindContainerInstance returns the container instance ARN registered for an EC2 instance.
	FindContainerInstance(ctx context.Context, cluster, ec2InstanceID string) (string, error)
}
