package drain

import (
	"sync"
	"time"

	"github.com/NavarchProject/drainwatch/pkg/ecs"
)

// Phase is a step of the drain sequence.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseGateCheck
	PhaseAwaitRunningDrain
	PhaseAwaitStoppedConfirm
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseGateCheck:
		return "GATE_CHECK"
	case PhaseAwaitRunningDrain:
		return "AWAIT_RUNNING_DRAIN"
	case PhaseAwaitStoppedConfirm:
		return "AWAIT_STOPPED_CONFIRM"
	case PhaseDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Snapshot is what one poll observed.
type Snapshot struct {
	Phase    Phase      `json:"-"`
	Poll     int        `json:"poll"`
	Tasks    []ecs.Task `json:"tasks"`
	Blocking []ecs.Task `json:"blocking"`
	At       time.Time  `json:"at"`
}

// State is a copy of the drain progress, safe to hand to other goroutines.
type State struct {
	DrainID   string         `json:"drain_id,omitempty"`
	Phase     Phase          `json:"-"`
	PhaseName string         `json:"phase"`
	Draining  bool           `json:"draining"`
	Daemons   []string       `json:"daemon_ids,omitempty"`
	Polls     map[string]int `json:"polls,omitempty"`
	Last      *Snapshot      `json:"last_snapshot,omitempty"`
	StartedAt time.Time      `json:"started_at,omitempty"`
	Err       string         `json:"error,omitempty"`
}

// tracker guards the controller's in-memory state. The drain itself is
// single threaded; the lock exists for readers such as the status endpoint.
type tracker struct {
	mu    sync.RWMutex
	state State
}

func (t *tracker) reset(drainID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = State{
		DrainID:   drainID,
		Phase:     PhaseGateCheck,
		Polls:     make(map[string]int),
		StartedAt: at,
	}
}

func (t *tracker) setPhase(p Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Phase = p
}

func (t *tracker) setDraining(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Draining = v
}

func (t *tracker) setDaemons(d DaemonSet) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Daemons = d.IDs()
}

func (t *tracker) setErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Err = err.Error()
}

func (t *tracker) recordPoll(s Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Polls == nil {
		t.state.Polls = make(map[string]int)
	}
	t.state.Polls[s.Phase.String()] = s.Poll
	t.state.Last = &s
}

func (t *tracker) snapshot() State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := t.state
	s.PhaseName = s.Phase.String()
	s.Daemons = append([]string(nil), t.state.Daemons...)
	if t.state.Polls != nil {
		s.Polls = make(map[string]int, len(t.state.Polls))
		for k, v := range t.state.Polls {
			s.Polls[k] = v
		}
	}
	if t.state.Last != nil {
		last := *t.state.Last
		s.Last = &last
	}
	return s
}
