package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/NavarchProject/drainwatch/pkg/drain"
	"github.com/NavarchProject/drainwatch/pkg/ecs"
)

func TestDrainMetrics_Phase(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewDrainMetrics(registry)
	if err != nil {
		t.Fatalf("NewDrainMetrics failed: %v", err)
	}

	if v := testutil.ToFloat64(m.phase.WithLabelValues("IDLE")); v != 1 {
		t.Errorf("expected IDLE phase to start at 1, got %v", v)
	}

	m.PhaseChanged(drain.PhaseAwaitRunningDrain)

	if v := testutil.ToFloat64(m.phase.WithLabelValues("AWAIT_RUNNING_DRAIN")); v != 1 {
		t.Errorf("expected AWAIT_RUNNING_DRAIN = 1, got %v", v)
	}
	if v := testutil.ToFloat64(m.phase.WithLabelValues("IDLE")); v != 0 {
		t.Errorf("expected IDLE = 0, got %v", v)
	}

	count, err := testutil.GatherAndCount(registry, "drainwatch_drain_phase")
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	if count != 5 {
		t.Errorf("expected 5 phase series, got %d", count)
	}
}

func TestDrainMetrics_Polls(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewDrainMetrics(registry)
	if err != nil {
		t.Fatalf("NewDrainMetrics failed: %v", err)
	}

	tasks := []ecs.Task{{ARN: "t1"}, {ARN: "t2"}, {ARN: "d1"}}
	m.PollCompleted(drain.Snapshot{Phase: drain.PhaseAwaitStoppedConfirm, Poll: 1, Tasks: tasks, Blocking: tasks[:2]})
	m.PollCompleted(drain.Snapshot{Phase: drain.PhaseAwaitStoppedConfirm, Poll: 2, Tasks: tasks, Blocking: tasks[:1]})

	expected := `
# HELP drainwatch_polls_total Total number of task polls by drain phase
# TYPE drainwatch_polls_total counter
drainwatch_polls_total{phase="AWAIT_STOPPED_CONFIRM"} 2
`
	if err := testutil.GatherAndCompare(registry, strings.NewReader(expected), "drainwatch_polls_total"); err != nil {
		t.Error(err)
	}

	if v := testutil.ToFloat64(m.blockingTasks.WithLabelValues("AWAIT_STOPPED_CONFIRM")); v != 1 {
		t.Errorf("expected 1 blocking task, got %v", v)
	}
	if v := testutil.ToFloat64(m.observedTasks.WithLabelValues("AWAIT_STOPPED_CONFIRM")); v != 3 {
		t.Errorf("expected 3 observed tasks, got %v", v)
	}
}

func TestDrainMetrics_QueryRetried(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewDrainMetrics(registry)
	if err != nil {
		t.Fatalf("NewDrainMetrics failed: %v", err)
	}

	m.QueryRetried(drain.PhaseAwaitRunningDrain, 1, &ecs.QueryError{Op: "ListTasks", Cause: errors.New("throttled")}, time.Second)
	m.QueryRetried(drain.PhaseAwaitRunningDrain, 2, errors.New("boom"), 2*time.Second)

	if v := testutil.ToFloat64(m.queryRetries.WithLabelValues("AWAIT_RUNNING_DRAIN", "ListTasks")); v != 1 {
		t.Errorf("expected 1 ListTasks retry, got %v", v)
	}
	if v := testutil.ToFloat64(m.queryRetries.WithLabelValues("AWAIT_RUNNING_DRAIN", "unknown")); v != 1 {
		t.Errorf("expected 1 unknown retry, got %v", v)
	}
}

func TestNewDrainMetrics_DuplicateRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	if _, err := NewDrainMetrics(registry); err != nil {
		t.Fatalf("NewDrainMetrics failed: %v", err)
	}
	if _, err := NewDrainMetrics(registry); err == nil {
		t.Error("expected error registering metrics twice")
	}
}
