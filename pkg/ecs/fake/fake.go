// Package fake provides an in-memory ecs.ClusterClient for tests.
//
// The fake models a single cluster. Every task belongs to every container
// instance it is asked about, which is enough for agents that only ever
// look at their own host.
package fake

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/NavarchProject/drainwatch/pkg/ecs"
)

// Operation names, as passed to FailNext and Calls.
const (
	OpListServices               = "ListServices"
	OpDescribeServices           = "DescribeServices"
	OpDescribeContainerInstances = "DescribeContainerInstances"
	OpListContainerInstances     = "ListContainerInstances"
	OpListTasks                  = "ListTasks"
	OpDescribeTasks              = "DescribeTasks"
)

// Cluster is an in-memory cluster.
type Cluster struct {
	mu        sync.Mutex
	instances map[string]ecs.ContainerInstance
	services  []ecs.Service
	tasks     []ecs.Task
	failures  map[string][]error
	calls     map[string]int

	onListTasks func(desired ecs.DesiredStatus, call int)
}

// New creates an empty cluster.
func New() *Cluster {
	return &Cluster{
		instances: make(map[string]ecs.ContainerInstance),
		failures:  make(map[string][]error),
		calls:     make(map[string]int),
	}
}

// AddInstance registers a container instance.
func (c *Cluster) AddInstance(ci ecs.ContainerInstance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instances[ci.ARN] = ci
}

// SetInstanceStatus changes the status of a registered container instance.
func (c *Cluster) SetInstanceStatus(arn string, status ecs.InstanceStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ci := c.instances[arn]
	ci.Status = status
	c.instances[arn] = ci
}

// AddService registers a service. Only DAEMON services are listed by ListDaemonServices.
func (c *Cluster) AddService(svc ecs.Service) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services = append(c.services, svc)
}

// SetTasks replaces every task in the cluster.
func (c *Cluster) SetTasks(tasks ...ecs.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = append([]ecs.Task(nil), tasks...)
}

// UpdateTask applies fn to the task with the given ARN.
func (c *Cluster) UpdateTask(arn string, fn func(*ecs.Task)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.tasks {
		if c.tasks[i].ARN == arn {
			fn(&c.tasks[i])
		}
	}
}

// FailNext makes the next call to op fail with err. Calls queue up.
func (c *Cluster) FailNext(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[op] = append(c.failures[op], err)
}

// OnListTasks registers fn to run before each ListTasks call. call counts
// ListTasks calls for that desired status, starting at 1. fn may mutate the cluster.
func (c *Cluster) OnListTasks(fn func(desired ecs.DesiredStatus, call int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onListTasks = fn
}

// Calls returns how many times op was called. ListTasks calls are also
// counted per desired status under OpListTasks + "/" + status.
func (c *Cluster) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// TaskCalls returns the number of task queries issued.
func (c *Cluster) TaskCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[OpListTasks] + c.calls[OpDescribeTasks]
}

// begin records a call to op and pops a queued failure. Caller must hold c.mu.
func (c *Cluster) begin(op string) error {
	c.calls[op]++
	queue := c.failures[op]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	c.failures[op] = queue[1:]

	var qe *ecs.QueryError
	if errors.As(err, &qe) {
		return err
	}
	return ecs.NewQueryError(op, err)
}

func (c *Cluster) ListDaemonServices(ctx context.Context, cluster string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(OpListServices); err != nil {
		return nil, err
	}

	var arns []string
	for _, svc := range c.services {
		if svc.SchedulingStrategy == "DAEMON" {
			arns = append(arns, svc.ARN)
		}
	}
	return arns, nil
}

func (c *Cluster) DescribeServices(ctx context.Context, cluster string, arns []string) ([]ecs.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(OpDescribeServices); err != nil {
		return nil, err
	}

	var out []ecs.Service
	for _, arn := range arns {
		svc, ok := c.findService(arn)
		if !ok {
			return nil, &ecs.QueryError{Op: OpDescribeServices, Cause: fmt.Errorf("%s: MISSING", arn)}
		}
		out = append(out, svc)
	}
	return out, nil
}

func (c *Cluster) findService(arn string) (ecs.Service, bool) {
	for _, svc := range c.services {
		if svc.ARN == arn {
			return svc, true
		}
	}
	return ecs.Service{}, false
}

func (c *Cluster) DescribeContainerInstance(ctx context.Context, cluster, instance string) (ecs.ContainerInstance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(OpDescribeContainerInstances); err != nil {
		return ecs.ContainerInstance{}, err
	}

	ci, ok := c.instances[instance]
	if !ok {
		return ecs.ContainerInstance{}, &ecs.QueryError{
			Op:    OpDescribeContainerInstances,
			Cause: fmt.Errorf("container instance %s not found", instance),
		}
	}
	return ci, nil
}

func (c *Cluster) FindContainerInstance(ctx context.Context, cluster, ec2InstanceID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(OpListContainerInstances); err != nil {
		return "", err
	}

	for arn, ci := range c.instances {
		if ci.EC2InstanceID == ec2InstanceID {
			return arn, nil
		}
	}
	return "", &ecs.QueryError{
		Op:    OpListContainerInstances,
		Cause: fmt.Errorf("no container instance registered for %s", ec2InstanceID),
	}
}

func (c *Cluster) ListTasks(ctx context.Context, cluster, instance string, desired ecs.DesiredStatus) ([]string, error) {
	call := c.nextListCall(desired)

	c.mu.Lock()
	hook := c.onListTasks
	c.mu.Unlock()

	if hook != nil {
		hook(desired, call)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(OpListTasks); err != nil {
		return nil, err
	}

	var arns []string
	for _, t := range c.tasks {
		if t.DesiredStatus == desired {
			arns = append(arns, t.ARN)
		}
	}
	return arns, nil
}

func (c *Cluster) nextListCall(desired ecs.DesiredStatus) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := OpListTasks + "/" + string(desired)
	c.calls[key]++
	return c.calls[key]
}

func (c *Cluster) DescribeTasks(ctx context.Context, cluster string, arns []string) ([]ecs.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(OpDescribeTasks); err != nil {
		return nil, err
	}

	out := make([]ecs.Task, 0, len(arns))
	for _, arn := range arns {
		found := false
		for _, t := range c.tasks {
			if t.ARN == arn {
				out = append(out, t)
				found = true
				break
			}
		}
		if !found {
			return nil, &ecs.QueryError{
				Op:        OpDescribeTasks,
				Cause:     fmt.Errorf("%s: MISSING", arn),
				Retryable: true,
			}
		}
	}
	return out, nil
}

// Ensure Cluster implements ecs.ClusterClient.
var _ ecs.ClusterClient = (*Cluster)(nil)
