package drain

import "time"

// Observer receives drain progress. Implementations must not block.
type Observer interface {
	PhaseChanged(p Phase)
	PollCompleted(s Snapshot)
	QueryRetried(p Phase, attempt int, err error, delay time.Duration)
}

type nopObserver struct{}

func (nopObserver) PhaseChanged(Phase) {}

func (nopObserver) PollCompleted(Snapshot) {}

func (nopObserver) QueryRetried(Phase, int, error, time.Duration) {}

// trackingObserver records polls in the controller state before passing
// them on.
type trackingObserver struct {
	state *tracker
	next  Observer
}

func (o trackingObserver) PhaseChanged(p Phase) {
	o.next.PhaseChanged(p)
}

func (o trackingObserver) PollCompleted(s Snapshot) {
	o.state.recordPoll(s)
	o.next.PollCompleted(s)
}

func (o trackingObserver) QueryRetried(p Phase, attempt int, err error, delay time.Duration) {
	o.next.QueryRetried(p, attempt, err, delay)
}
