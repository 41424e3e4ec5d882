package mission

import (
	"errors"
	"fmt"
	"strings"
)

// TaskRecord is the wire and storage form of a Task.
type TaskRecord struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	Description      string `json:"description,omitempty"`
	ProjectedSeconds *int   `json:"projected_seconds"`
	Completed        bool   `json:"completed"`
}

// Record is the wire and storage form of a Mission. The started/paused pair
// mirrors State for consumers that predate the three-state model, and the
// last three fields are derived on every conversion and ignored on decode.
type Record struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	Description        string       `json:"description,omitempty"`
	MaxDurationSeconds *int         `json:"max_duration_seconds"`
	Tasks              []TaskRecord `json:"tasks"`
	State              State        `json:"state,omitempty"`
	Started            bool         `json:"started"`
	Paused             bool         `json:"paused"`
	ElapsedSeconds     int64        `json:"elapsed_seconds"`

	ProjectedSeconds int     `json:"projected_seconds"`
	Progress         float64 `json:"progress"`
	OverMax          bool    `json:"over_max"`
}

// ToRecord converts a task to its record form.
func (t Task) ToRecord() TaskRecord {
	return TaskRecord{
		ID:               t.ID,
		Title:            t.Title,
		Description:      t.Description,
		ProjectedSeconds: cloneInt(t.ProjectedSeconds),
		Completed:        t.Completed,
	}
}

// ToRecord converts a mission to its record form, filling the derived fields.
func (m Mission) ToRecord() Record {
	tasks := make([]TaskRecord, 0, len(m.Tasks))
	for _, t := range m.Tasks {
		tasks = append(tasks, t.ToRecord())
	}
	return Record{
		ID:                 m.ID,
		Name:               m.Name,
		Description:        m.Description,
		MaxDurationSeconds: cloneInt(m.MaxDurationSeconds),
		Tasks:              tasks,
		State:              m.State,
		Started:            m.Started(),
		Paused:             m.Paused(),
		ElapsedSeconds:     m.ElapsedSeconds,
		ProjectedSeconds:   m.ProjectedSeconds(),
		Progress:           m.Progress(),
		OverMax:            m.OverMax(),
	}
}

// Records converts a mission list, preserving order.
func Records(missions []Mission) []Record {
	out := make([]Record, 0, len(missions))
	for _, m := range missions {
		out = append(out, m.ToRecord())
	}
	return out
}

// TaskFromRecord validates a task record.
func TaskFromRecord(r TaskRecord) (Task, error) {
	if strings.TrimSpace(r.ID) == "" {
		return Task{}, errors.New("task: missing id")
	}
	if strings.TrimSpace(r.Title) == "" {
		return Task{}, fmt.Errorf("task %s: missing title", r.ID)
	}
	if r.ProjectedSeconds != nil && *r.ProjectedSeconds < 0 {
		return Task{}, fmt.Errorf("task %s: negative projected_seconds", r.ID)
	}
	return Task{
		ID:               r.ID,
		Title:            r.Title,
		Description:      r.Description,
		ProjectedSeconds: cloneInt(r.ProjectedSeconds),
		Completed:        r.Completed,
	}, nil
}

// FromRecord validates a mission record. An explicit state wins over the
// started/paused flags; derived fields are recomputed, never trusted.
func FromRecord(r Record) (Mission, error) {
	if strings.TrimSpace(r.ID) == "" {
		return Mission{}, errors.New("mission: missing id")
	}
	if strings.TrimSpace(r.Name) == "" {
		return Mission{}, fmt.Errorf("mission %s: missing name", r.ID)
	}
	if r.ElapsedSeconds < 0 {
		return Mission{}, fmt.Errorf("mission %s: negative elapsed_seconds", r.ID)
	}
	state := r.State
	if state == "" {
		state = stateFromFlags(r.Started, r.Paused)
	} else if !state.Valid() {
		return Mission{}, fmt.Errorf("mission %s: unknown state %q", r.ID, state)
	}
	m := Mission{
		ID:                 r.ID,
		Name:               r.Name,
		Description:        r.Description,
		MaxDurationSeconds: cloneInt(r.MaxDurationSeconds),
		Tasks:              make([]Task, 0, len(r.Tasks)),
		State:              state,
		ElapsedSeconds:     r.ElapsedSeconds,
	}
	for _, tr := range r.Tasks {
		t, err := TaskFromRecord(tr)
		if err != nil {
			return Mission{}, fmt.Errorf("mission %s: %w", r.ID, err)
		}
		m.Tasks = append(m.Tasks, t)
	}
	return m, nil
}
