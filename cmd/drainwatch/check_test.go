package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/NavarchProject/drainwatch/pkg/ecs"
	"github.com/NavarchProject/drainwatch/pkg/ecs/fake"
	"github.com/NavarchProject/drainwatch/pkg/identity"
	"github.com/NavarchProject/drainwatch/pkg/retry"
)

var testHost = identity.Host{Region: "us-east-1", InstanceID: "i-1", Cluster: "prod", ContainerInstance: "arn:ci/1"}

func newCheckCluster(status ecs.InstanceStatus) *fake.Cluster {
	c := fake.New()
	c.AddInstance(ecs.ContainerInstance{ARN: "arn:ci/1", Status: status})
	c.AddService(ecs.Service{ARN: "arn:svc/agent", Name: "agent", SchedulingStrategy: "DAEMON", DeploymentIDs: []string{"ecs-svc/d"}})
	c.SetTasks(
		ecs.Task{ARN: "web-1", StartedBy: "ecs-svc/w", DesiredStatus: ecs.DesiredRunning, LastStatus: "RUNNING"},
		ecs.Task{ARN: "agent-1", StartedBy: "ecs-svc/d", DesiredStatus: ecs.DesiredRunning, LastStatus: "RUNNING"},
		ecs.Task{ARN: "web-0", StartedBy: "ecs-svc/w", DesiredStatus: ecs.DesiredStopped, LastStatus: "STOPPED"},
	)
	return c
}

func TestBuildReport(t *testing.T) {
	c := newCheckCluster(ecs.InstanceDraining)

	r, err := buildReport(context.Background(), c, testHost, retry.Config{MaxAttempts: 1}, nil)
	if err != nil {
		t.Fatalf("buildReport failed: %v", err)
	}

	if !r.Draining || r.Status != ecs.InstanceDraining {
		t.Errorf("unexpected status %q draining=%v", r.Status, r.Draining)
	}
	if len(r.Daemons) != 1 || r.Daemons[0] != "ecs-svc/d" {
		t.Errorf("Daemons = %v", r.Daemons)
	}
	if len(r.Tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(r.Tasks))
	}

	rows := make(map[string]taskRow)
	for _, row := range r.Tasks {
		rows[row.ARN] = row
	}
	if !rows["web-1"].Blocking || rows["web-1"].Daemon {
		t.Errorf("web-1 should block, got %+v", rows["web-1"])
	}
	if rows["agent-1"].Blocking || !rows["agent-1"].Daemon {
		t.Errorf("agent-1 should be a non-blocking daemon task, got %+v", rows["agent-1"])
	}
	if rows["web-0"].Blocking {
		t.Errorf("web-0 has stopped and should not block")
	}
	if r.blocking() != 1 {
		t.Errorf("blocking() = %d, want 1", r.blocking())
	}
}

func TestBuildReport_Error(t *testing.T) {
	c := newCheckCluster(ecs.InstanceDraining)
	c.FailNext(fake.OpDescribeContainerInstances, &ecs.QueryError{Op: fake.OpDescribeContainerInstances, Cause: errors.New("AccessDeniedException")})

	if _, err := buildReport(context.Background(), c, testHost, retry.Config{MaxAttempts: 1}, nil); err == nil {
		t.Error("expected error")
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		name   string
		status ecs.InstanceStatus
		want   string
	}{
		{"active", ecs.InstanceActive, "not DRAINING"},
		{"draining with blockers", ecs.InstanceDraining, "1 task(s) would hold shutdown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := buildReport(context.Background(), newCheckCluster(tt.status), testHost, retry.Config{MaxAttempts: 1}, nil)
			if err != nil {
				t.Fatalf("buildReport failed: %v", err)
			}

			var buf bytes.Buffer
			if err := renderTable(&buf, r); err != nil {
				t.Fatalf("renderTable failed: %v", err)
			}
			out := buf.String()
			if !strings.Contains(out, tt.want) {
				t.Errorf("output missing %q:\n%s", tt.want, out)
			}
			if !strings.Contains(out, "web-1") {
				t.Errorf("output missing task table:\n%s", out)
			}
		})
	}
}

func TestRender_NothingToWaitFor(t *testing.T) {
	var buf bytes.Buffer
	r := report{Host: testHost, Status: ecs.InstanceDraining, Draining: true}
	if err := renderTable(&buf, r); err != nil {
		t.Fatalf("renderTable failed: %v", err)
	}
	if !strings.Contains(buf.String(), "nothing to wait for") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}

func TestRenderJSON(t *testing.T) {
	r, err := buildReport(context.Background(), newCheckCluster(ecs.InstanceDraining), testHost, retry.Config{MaxAttempts: 1}, nil)
	if err != nil {
		t.Fatalf("buildReport failed: %v", err)
	}

	var buf bytes.Buffer
	if err := renderJSON(&buf, r); err != nil {
		t.Fatalf("renderJSON failed: %v", err)
	}

	var decoded struct {
		Status   string `json:"status"`
		Draining bool   `json:"draining"`
		Tasks    []struct {
			ARN      string `json:"arn"`
			Blocking bool   `json:"blocking"`
		} `json:"tasks"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.Status != "DRAINING" || !decoded.Draining || len(decoded.Tasks) != 3 {
		t.Errorf("unexpected report %+v", decoded)
	}
}
