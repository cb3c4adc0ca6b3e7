package clock

import (
	"context"
	"testing"
	"time"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClock_Now(t *testing.T) {
	c := NewFakeClock(epoch)
	if !c.Now().Equal(epoch) {
		t.Errorf("Now() = %v, want %v", c.Now(), epoch)
	}

	c.Advance(5 * time.Second)
	if got := c.Since(epoch); got != 5*time.Second {
		t.Errorf("Since() = %v, want 5s", got)
	}
}

func TestFakeClock_After(t *testing.T) {
	c := NewFakeClock(epoch)
	ch := c.After(5 * time.Second)

	c.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before deadline")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-ch:
		if want := epoch.Add(5 * time.Second); !got.Equal(want) {
			t.Errorf("After sent %v, want %v", got, want)
		}
	default:
		t.Fatal("After did not fire at deadline")
	}

	if n := c.Waiters(); n != 0 {
		t.Errorf("Waiters() = %d after firing, want 0", n)
	}
}

func TestFakeClock_AfterNonPositive(t *testing.T) {
	c := NewFakeClock(epoch)
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) should fire immediately")
	}
}

func TestFakeClock_Ticker(t *testing.T) {
	c := NewFakeClock(epoch)
	ticker := c.NewTicker(time.Second)

	for i := 1; i <= 3; i++ {
		c.Advance(time.Second)
		select {
		case <-ticker.C():
		default:
			t.Fatalf("tick %d not delivered", i)
		}
	}

	ticker.Stop()
	c.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Fatal("tick delivered after Stop")
	default:
	}
	if n := c.Waiters(); n != 0 {
		t.Errorf("Waiters() = %d after Stop, want 0", n)
	}
}

func TestFakeClock_BlockUntil(t *testing.T) {
	c := NewFakeClock(epoch)
	done := make(chan struct{})

	go func() {
		<-c.After(time.Minute)
		close(done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.BlockUntil(ctx, 1); err != nil {
		t.Fatalf("BlockUntil: %v", err)
	}

	c.Advance(time.Minute)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("goroutine not released by Advance")
	}
}

func TestFakeClock_BlockUntilContextDone(t *testing.T) {
	c := NewFakeClock(epoch)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.BlockUntil(ctx, 1); err != context.Canceled {
		t.Errorf("BlockUntil() = %v, want context.Canceled", err)
	}
}

func TestReal(t *testing.T) {
	c := Real()
	start := c.Now()
	<-c.After(time.Millisecond)
	if c.Since(start) < time.Millisecond {
		t.Error("real clock did not advance")
	}
}
