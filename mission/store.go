package mission

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Notifier receives state changes. MissionChanged carries one mission;
// MissionsChanged carries the whole table when no single mission applies.
// Both are invoked without the store lock held, so implementations may call
// back into the read-only accessors.
type Notifier interface {
	MissionChanged(m Mission)
	MissionsChanged(missions []Mission)
}

// Persister writes a durable snapshot of the full table. It reports success
// and must not panic; failures are the persister's to log.
type Persister interface {
	Save(missions []Mission) bool
}

// Store is the in-memory mission table. All lookups and mutations go through
// mu; notifications and persistence run after mu is released.
type Store struct {
	mu       sync.Mutex
	missions map[string]*Mission
	order    []string // creation order

	// saveMu keeps snapshot capture and write paired so an older snapshot can
	// never overwrite a newer one.
	saveMu sync.Mutex

	notifier  Notifier
	persister Persister
	newID     func() string
}

// NewStore returns an empty store. Either collaborator may be nil.
func NewStore(notifier Notifier, persister Persister) *Store {
	return &Store{
		missions:  make(map[string]*Mission),
		notifier:  notifier,
		persister: persister,
		newID:     uuid.NewString,
	}
}

// Restore seeds the table from a previously persisted snapshot. It replaces
// any existing content and neither notifies nor persists. Duplicate ids keep
// the first occurrence.
func (s *Store) Restore(missions []Mission) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missions = make(map[string]*Mission, len(missions))
	s.order = s.order[:0]
	for _, m := range missions {
		if _, dup := s.missions[m.ID]; dup {
			continue
		}
		c := m.Clone()
		if !c.State.Valid() {
			c.State = StateStopped
		}
		s.missions[c.ID] = &c
		s.order = append(s.order, c.ID)
	}
	return len(s.order)
}

// Create adds a stopped mission with a fresh id. Blank names become
// "Unnamed" and non-positive budgets mean no budget.
func (s *Store) Create(name string, maxDurationSeconds *int) Mission {
	return s.CreateDescribed(name, "", maxDurationSeconds)
}

// CreateDescribed is Create with the description set in the same mutation,
// so subscribers and the snapshot see the mission once.
func (s *Store) CreateDescribed(name, description string, maxDurationSeconds *int) Mission {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Unnamed"
	}
	var budget *int
	if maxDurationSeconds != nil && *maxDurationSeconds > 0 {
		budget = cloneInt(maxDurationSeconds)
	}
	m := &Mission{
		ID:                 s.newID(),
		Name:               name,
		Description:        description,
		MaxDurationSeconds: budget,
		Tasks:              []Task{},
		State:              StateStopped,
	}
	s.mu.Lock()
	s.missions[m.ID] = m
	s.order = append(s.order, m.ID)
	out := m.Clone()
	s.mu.Unlock()

	s.changed(out)
	return out
}

// SetDescription replaces the mission description.
func (s *Store) SetDescription(missionID, description string) bool {
	return s.mutate(missionID, func(m *Mission) bool {
		m.Description = description
		return true
	})
}

// AddTask appends a task to the mission's ordered list.
func (s *Store) AddTask(missionID, title, description string, projectedSeconds *int) (Task, bool) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Task"
	}
	var projected *int
	if projectedSeconds != nil && *projectedSeconds >= 0 {
		projected = cloneInt(projectedSeconds)
	}
	t := Task{
		ID:               s.newID(),
		Title:            title,
		Description:      description,
		ProjectedSeconds: projected,
	}
	ok := s.mutate(missionID, func(m *Mission) bool {
		m.Tasks = append(m.Tasks, t)
		return true
	})
	if !ok {
		return Task{}, false
	}
	return t, true
}

// Start moves a stopped mission to running.
func (s *Store) Start(missionID string) bool {
	return s.mutate(missionID, func(m *Mission) bool {
		if m.Started() {
			return false
		}
		m.State = StateRunning
		return true
	})
}

// Pause freezes a running mission.
func (s *Store) Pause(missionID string) bool {
	return s.mutate(missionID, func(m *Mission) bool {
		if m.State != StateRunning {
			return false
		}
		m.State = StatePaused
		return true
	})
}

// Resume continues a paused mission.
func (s *Store) Resume(missionID string) bool {
	return s.mutate(missionID, func(m *Mission) bool {
		if m.State != StatePaused {
			return false
		}
		m.State = StateRunning
		return true
	})
}

// Stop returns a mission to stopped from any state. Elapsed time is kept.
func (s *Store) Stop(missionID string) bool {
	return s.mutate(missionID, func(m *Mission) bool {
		m.State = StateStopped
		return true
	})
}

// CompleteTask marks a task completed.
func (s *Store) CompleteTask(missionID, taskID string) bool {
	return s.mutate(missionID, func(m *Mission) bool {
		i := m.taskIndex(taskID)
		if i < 0 {
			return false
		}
		m.Tasks[i].Completed = true
		return true
	})
}

// SetTaskCompletion sets a task's completed flag. It reports true whenever
// the task exists, but only notifies and persists when the flag changed.
func (s *Store) SetTaskCompletion(missionID, taskID string, completed bool) bool {
	s.mu.Lock()
	m, ok := s.missions[missionID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	i := m.taskIndex(taskID)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	if m.Tasks[i].Completed == completed {
		s.mu.Unlock()
		return true
	}
	m.Tasks[i].Completed = completed
	out := m.Clone()
	s.mu.Unlock()

	s.changed(out)
	return true
}

// Get returns a copy of one mission.
func (s *Store) Get(missionID string) (Mission, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[missionID]
	if !ok {
		return Mission{}, false
	}
	return m.Clone(), true
}

// Missions returns copies of every mission in creation order.
func (s *Store) Missions() []Mission {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Mission, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.missions[id].Clone())
	}
	return out
}

// Len returns the number of missions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// PublishAll sends the full table to the notifier without mutating anything.
func (s *Store) PublishAll() {
	if s.notifier == nil {
		return
	}
	s.notifier.MissionsChanged(s.Missions())
}

// Tick advances every running mission by one second.
// Key aspects: one notification per changed mission and one snapshot per
// pass regardless of how many missions moved.
// Upstream: Ticker loop.
// Downstream: Notifier.MissionChanged, Persister.Save.
func (s *Store) Tick() []Mission {
	s.mu.Lock()
	var changed []Mission
	for _, id := range s.order {
		m := s.missions[id]
		if m.State != StateRunning {
			continue
		}
		m.ElapsedSeconds++
		changed = append(changed, m.Clone())
	}
	s.mu.Unlock()

	if len(changed) == 0 {
		return nil
	}
	if s.notifier != nil {
		for _, m := range changed {
			s.notifier.MissionChanged(m)
		}
	}
	s.persist()
	return changed
}

// mutate applies fn to a mission under the lock and, when fn reports a
// change, notifies and persists after unlocking.
func (s *Store) mutate(missionID string, fn func(m *Mission) bool) bool {
	s.mu.Lock()
	m, ok := s.missions[missionID]
	if !ok || !fn(m) {
		s.mu.Unlock()
		return false
	}
	out := m.Clone()
	s.mu.Unlock()

	s.changed(out)
	return true
}

func (s *Store) changed(m Mission) {
	if s.notifier != nil {
		s.notifier.MissionChanged(m)
	}
	s.persist()
}

func (s *Store) persist() {
	if s.persister == nil {
		return
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	s.persister.Save(s.Missions())
}
