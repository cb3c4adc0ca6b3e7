package agent

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/NavarchProject/drainwatch/pkg/clock"
	"github.com/NavarchProject/drainwatch/pkg/drain"
	"github.com/NavarchProject/drainwatch/pkg/identity"
)

type mockDrainer struct {
	mu    sync.Mutex
	calls int
	RunFn func(ctx context.Context) (drain.Outcome, error)
}

func (m *mockDrainer) Run(ctx context.Context) (drain.Outcome, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.RunFn != nil {
		return m.RunFn(ctx)
	}
	return drain.Outcome{DrainID: "drain-1"}, nil
}

func (m *mockDrainer) State() drain.State {
	return drain.State{}
}

func (m *mockDrainer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var testHost = identity.Host{Region: "us-east-1", InstanceID: "i-1", Cluster: "prod", ContainerInstance: "arn:ci/1"}

func newTestAgent(d Drainer) (*Agent, *clock.FakeClock) {
	clk := clock.NewFakeClock(time.Now())
	return New(Config{Host: testHost, CheckInterval: time.Minute, Clock: clk}, d, nil), clk
}

func TestAgent_SignalTriggersDrain(t *testing.T) {
	d := &mockDrainer{}
	a, clk := newTestAgent(d)
	trigger := make(chan os.Signal, 1)

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background(), trigger) }()

	// A few idle ticks must not start a drain.
	if err := clk.BlockUntil(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Minute)
	clk.Advance(time.Minute)
	if d.Calls() != 0 {
		t.Fatalf("drain started without a signal")
	}

	trigger <- syscall.SIGTERM

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after signal")
	}

	if d.Calls() != 1 {
		t.Errorf("drain calls = %d, want 1", d.Calls())
	}
	if !a.Status().Triggered {
		t.Error("expected status to report the trigger")
	}
}

func TestAgent_DrainErrorIsReturned(t *testing.T) {
	want := errors.New("ecs ListTasks: AccessDenied")
	d := &mockDrainer{RunFn: func(ctx context.Context) (drain.Outcome, error) {
		return drain.Outcome{}, want
	}}
	a, _ := newTestAgent(d)
	trigger := make(chan os.Signal, 1)
	trigger <- syscall.SIGTERM

	if err := a.Run(context.Background(), trigger); !errors.Is(err, want) {
		t.Errorf("Run() = %v, want %v", err, want)
	}
}

func TestAgent_LaterSignalsIgnored(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	d := &mockDrainer{RunFn: func(ctx context.Context) (drain.Outcome, error) {
		close(started)
		<-release
		return drain.Outcome{}, nil
	}}
	a, _ := newTestAgent(d)
	trigger := make(chan os.Signal)

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background(), trigger) }()

	trigger <- syscall.SIGTERM
	<-started

	// Unbuffered sends only complete if the agent keeps receiving.
	for i := 0; i < 3; i++ {
		select {
		case trigger <- syscall.SIGTERM:
		case <-time.After(5 * time.Second):
			t.Fatal("signal during drain was not consumed")
		}
	}
	close(release)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	if d.Calls() != 1 {
		t.Errorf("drain calls = %d, want 1", d.Calls())
	}
}

func TestAgent_DrainIgnoresCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &mockDrainer{RunFn: func(drainCtx context.Context) (drain.Outcome, error) {
		cancel()
		if drainCtx.Err() != nil {
			t.Error("drain context was cancelled with the agent context")
		}
		return drain.Outcome{}, nil
	}}
	a, _ := newTestAgent(d)
	trigger := make(chan os.Signal, 1)
	trigger <- syscall.SIGTERM

	if err := a.Run(ctx, trigger); err != nil {
		t.Errorf("Run returned error: %v", err)
	}
}

func TestAgent_ContextCancelledBeforeSignal(t *testing.T) {
	d := &mockDrainer{}
	a, _ := newTestAgent(d)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := a.Run(ctx, make(chan os.Signal)); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
	if d.Calls() != 0 {
		t.Errorf("drain calls = %d, want 0", d.Calls())
	}
	if a.Status().Triggered {
		t.Error("expected status to report no trigger")
	}
}

func TestSignalName(t *testing.T) {
	if got := signalName(syscall.SIGTERM); got != "SIGTERM" {
		t.Errorf("signalName(SIGTERM) = %q", got)
	}
	if got := signalName(os.Interrupt); got != "interrupt" {
		t.Errorf("signalName(Interrupt) = %q", got)
	}
}
