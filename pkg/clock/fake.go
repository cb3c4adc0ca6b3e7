package clock

import (
	"context"
	"sort"
	"sync"
	"time"
)

// FakeClock is a deterministic clock for tests.
//
// Time only advances when Advance is called. Goroutines blocked in After or
// on a ticker are released once the clock moves past their deadline.
// BlockUntil lets a test wait until the code under test has parked on the
// clock before advancing it.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*waiter
	// changed is closed and replaced whenever a waiter is added.
	changed chan struct{}
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
	// interval is non-zero for tickers, which re-arm after firing.
	interval time.Duration
	stopped  bool
}

// NewFakeClock creates a FakeClock starting at the given time.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{
		now:     start,
		changed: make(chan struct{}),
	}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Since returns the duration since t.
func (c *FakeClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// After returns a channel that receives once the clock has advanced by d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)

	c.mu.Lock()
	defer c.mu.Unlock()

	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.addWaiter(&waiter{deadline: c.now.Add(d), ch: ch})
	return ch
}

// NewTicker returns a Ticker that fires every d of fake time.
func (c *FakeClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	w := &waiter{
		deadline: c.now.Add(d),
		ch:       make(chan time.Time, 1),
		interval: d,
	}
	c.addWaiter(w)
	return &fakeTicker{clock: c, w: w}
}

// Advance moves the clock forward by d, firing any timers that expire.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.now.Add(d)
	for {
		w := c.nextDue(target)
		if w == nil {
			break
		}
		c.now = w.deadline
		select {
		case w.ch <- w.deadline:
		default:
		}
		if w.interval > 0 && !w.stopped {
			w.deadline = w.deadline.Add(w.interval)
			c.waiters = append(c.waiters, w)
		}
	}
	c.now = target
}

// Waiters returns the number of pending timers and tickers.
func (c *FakeClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// BlockUntil blocks until at least n timers or tickers are pending, or ctx is done.
func (c *FakeClock) BlockUntil(ctx context.Context, n int) error {
	for {
		c.mu.Lock()
		if len(c.waiters) >= n {
			c.mu.Unlock()
			return nil
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// addWaiter registers w. Caller must hold c.mu.
func (c *FakeClock) addWaiter(w *waiter) {
	c.waiters = append(c.waiters, w)
	close(c.changed)
	c.changed = make(chan struct{})
}

// nextDue removes and returns the earliest waiter due at or before t.
// Caller must hold c.mu.
func (c *FakeClock) nextDue(t time.Time) *waiter {
	if len(c.waiters) == 0 {
		return nil
	}
	sort.SliceStable(c.waiters, func(i, j int) bool {
		return c.waiters[i].deadline.Before(c.waiters[j].deadline)
	})
	w := c.waiters[0]
	if w.deadline.After(t) {
		return nil
	}
	c.waiters = c.waiters[1:]
	return w
}

func (c *FakeClock) removeWaiter(target *waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target.stopped = true
	for i, w := range c.waiters {
		if w == target {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

type fakeTicker struct {
	clock *FakeClock
	w     *waiter
}

func (t *fakeTicker) C() <-chan time.Time {
	return t.w.ch
}

func (t *fakeTicker) Stop() {
	t.clock.removeWaiter(t.w)
}
