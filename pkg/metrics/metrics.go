// Package metrics exposes drain progress as Prometheus metrics and serves
// them, together with a JSON status view, over HTTP.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/NavarchProject/drainwatch/pkg/drain"
	"github.com/NavarchProject/drainwatch/pkg/ecs"
)

var phases = []drain.Phase{
	drain.PhaseIdle,
	drain.PhaseGateCheck,
	drain.PhaseAwaitRunningDrain,
	drain.PhaseAwaitStoppedConfirm,
	drain.PhaseDone,
}

// DrainMetrics records drain progress. It implements drain.Observer.
type DrainMetrics struct {
	phase         *prometheus.GaugeVec
	polls         *prometheus.CounterVec
	blockingTasks *prometheus.GaugeVec
	observedTasks *prometheus.GaugeVec
	queryRetries  *prometheus.CounterVec
}

// NewDrainMetrics creates the drain metrics and registers them with reg.
func NewDrainMetrics(reg prometheus.Registerer) (*DrainMetrics, error) {
	m := &DrainMetrics{
		phase: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "drainwatch_drain_phase",
				Help: "Current drain phase (1 for the active phase, 0 otherwise)",
			},
			[]string{"phase"},
		),
		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drainwatch_polls_total",
				Help: "Total number of task polls by drain phase",
			},
			[]string{"phase"},
		),
		blockingTasks: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "drainwatch_blocking_tasks",
				Help: "Non-daemon tasks holding up the drain at the last poll",
			},
			[]string{"phase"},
		),
		observedTasks: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "drainwatch_observed_tasks",
				Help: "Tasks returned by the last poll, daemon tasks included",
			},
			[]string{"phase"},
		),
		queryRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drainwatch_query_retries_total",
				Help: "Total number of retried task queries by phase and ECS operation",
			},
			[]string{"phase", "op"},
		),
	}

	for _, c := range []prometheus.Collector{m.phase, m.polls, m.blockingTasks, m.observedTasks, m.queryRetries} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	m.PhaseChanged(drain.PhaseIdle)
	return m, nil
}

// PhaseChanged implements drain.Observer.
func (m *DrainMetrics) PhaseChanged(p drain.Phase) {
	for _, ph := range phases {
		v := 0.0
		if ph == p {
			v = 1
		}
		m.phase.WithLabelValues(ph.String()).Set(v)
	}
}

// PollCompleted implements drain.Observer.
func (m *DrainMetrics) PollCompleted(s drain.Snapshot) {
	phase := s.Phase.String()
	m.polls.WithLabelValues(phase).Inc()
	m.blockingTasks.WithLabelValues(phase).Set(float64(len(s.Blocking)))
	m.observedTasks.WithLabelValues(phase).Set(float64(len(s.Tasks)))
}

// QueryRetried implements drain.Observer.
func (m *DrainMetrics) QueryRetried(p drain.Phase, attempt int, err error, delay time.Duration) {
	m.queryRetries.WithLabelValues(p.String(), queryOp(err)).Inc()
}

func queryOp(err error) string {
	var qe *ecs.QueryError
	if errors.As(err, &qe) && qe.Op != "" {
		return qe.Op
	}
	return "unknown"
}

var _ drain.Observer = (*DrainMetrics)(nil)
