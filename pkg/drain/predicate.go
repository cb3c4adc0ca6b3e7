package drain

import "github.com/NavarchProject/drainwatch/pkg/ecs"

// Predicate selects the tasks that still block a phase. Daemon tasks are
// removed before a predicate sees them.
type Predicate func(ecs.Task) bool

// RunningBlocks holds while the orchestrator still wants the task running.
func RunningBlocks(t ecs.Task) bool {
	return t.DesiredStatus == ecs.DesiredRunning
}

// StoppingBlocks holds while a task told to stop has not finished stopping.
func StoppingBlocks(t ecs.Task) bool {
	return t.DesiredStatus == ecs.DesiredStopped && !t.Stopped()
}

// Blockers returns the non-daemon tasks matching pred.
func Blockers(tasks []ecs.Task, daemons DaemonSet, pred Predicate) []ecs.Task {
	var out []ecs.Task
	for _, t := range tasks {
		if daemons.Contains(t.StartedBy) {
			continue
		}
		if pred(t) {
			out = append(out, t)
		}
	}
	return out
}
