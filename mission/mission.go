// Package mission holds the operator-defined missions, their ordered task
// lists, and the run/pause/stop lifecycle that the ticker and the command
// paths drive.
//
// Lifecycle:
//
//	stopped --start--> running --pause--> paused
//	   ^                  |                  |
//	   |                  <------resume-------
//	   +-------stop-------+------stop--------+
//
// There is no terminal state; a stopped mission can always be started again.
// Elapsed time only advances while a mission is running.
package mission

import "math"

// State is the run state of a mission.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

// Valid reports whether s is one of the three known states.
func (s State) Valid() bool {
	switch s {
	case StateStopped, StateRunning, StatePaused:
		return true
	default:
		return false
	}
}

// stateFromFlags maps the started/paused pair onto the three-state model.
// paused without started has no meaning and collapses to stopped.
func stateFromFlags(started, paused bool) State {
	switch {
	case started && paused:
		return StatePaused
	case started:
		return StateRunning
	default:
		return StateStopped
	}
}

// Task is a single step of a mission. ProjectedSeconds is nil when the
// operator gave no estimate.
type Task struct {
	ID               string
	Title            string
	Description      string
	ProjectedSeconds *int
	Completed        bool
}

// Mission is an ordered task list with a lifecycle and an elapsed counter.
// MaxDurationSeconds is an informational budget; nil means no budget.
type Mission struct {
	ID                 string
	Name               string
	Description        string
	MaxDurationSeconds *int
	Tasks              []Task
	State              State
	ElapsedSeconds     int64
}

// Started reports whether the mission is running or paused.
func (m Mission) Started() bool {
	return m.State == StateRunning || m.State == StatePaused
}

// Paused reports whether the mission is paused.
func (m Mission) Paused() bool {
	return m.State == StatePaused
}

// Running reports whether elapsed time is currently advancing.
func (m Mission) Running() bool {
	return m.State == StateRunning
}

// ProjectedSeconds sums the estimates of every task; tasks without an
// estimate count as zero.
func (m Mission) ProjectedSeconds() int {
	total := 0
	for _, t := range m.Tasks {
		if t.ProjectedSeconds != nil {
			total += *t.ProjectedSeconds
		}
	}
	return total
}

// CompletedCount returns the number of completed tasks.
func (m Mission) CompletedCount() int {
	done := 0
	for _, t := range m.Tasks {
		if t.Completed {
			done++
		}
	}
	return done
}

// Progress returns the completed share of tasks as a percentage rounded to
// two decimals. A mission without tasks reports 0.
func (m Mission) Progress() float64 {
	if len(m.Tasks) == 0 {
		return 0
	}
	pct := float64(m.CompletedCount()) / float64(len(m.Tasks)) * 100
	return math.Round(pct*100) / 100
}

// OverMax reports whether the projected total exceeds the duration budget.
func (m Mission) OverMax() bool {
	if m.MaxDurationSeconds == nil {
		return false
	}
	return m.ProjectedSeconds() > *m.MaxDurationSeconds
}

// taskIndex returns the position of the task with the given id, or -1.
func (m *Mission) taskIndex(taskID string) int {
	for i := range m.Tasks {
		if m.Tasks[i].ID == taskID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so callers never share task slices or budget
// pointers with the store.
func (m Mission) Clone() Mission {
	out := m
	out.MaxDurationSeconds = cloneInt(m.MaxDurationSeconds)
	if m.Tasks != nil {
		out.Tasks = make([]Task, len(m.Tasks))
		for i, t := range m.Tasks {
			t.ProjectedSeconds = cloneInt(t.ProjectedSeconds)
			out.Tasks[i] = t
		}
	}
	return out
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// IntPtr is a small helper for optional budgets and estimates.
func IntPtr(v int) *int {
	return &v
}
