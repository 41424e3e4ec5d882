package backend

import (
	"fmt"
	"time"

	"tricorder/mission"
	"tricorder/stats"
	"tricorder/telemetry"
)

// ActiveWarnings returns the current active set without mutating it.
func (b *Backend) ActiveWarnings() []telemetry.Warning { return b.engine.ActiveWarnings() }

// AcknowledgeWarning marks a warning as seen by the operator.
func (b *Backend) AcknowledgeWarning(kind telemetry.Kind) bool { return b.engine.Acknowledge(kind) }

// HasUnacknowledged is what alert rendering keys off.
func (b *Backend) HasUnacknowledged() bool { return b.engine.HasUnacknowledged() }

// AlertSoundPath is the configured alert asset; playing it is someone
// else's job.
func (b *Backend) AlertSoundPath() string { return b.alertSound }

// LastTelemetry returns the most recent snapshot and when it arrived.
func (b *Backend) LastTelemetry() (telemetry.Snapshot, time.Time, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastTelemetry, b.lastAt, b.haveTelemetry
}

// Missions returns every mission in creation order.
func (b *Backend) Missions() []mission.Mission { return b.store.Missions() }

// Mission returns one mission by id.
func (b *Backend) Mission(missionID string) (mission.Mission, bool) { return b.store.Get(missionID) }

func (b *Backend) Create(name string, maxDurationSeconds *int) mission.Mission {
	return b.store.Create(name, maxDurationSeconds)
}

func (b *Backend) CreateDescribed(name, description string, maxDurationSeconds *int) mission.Mission {
	return b.store.CreateDescribed(name, description, maxDurationSeconds)
}

func (b *Backend) SetDescription(missionID, description string) bool {
	return b.store.SetDescription(missionID, description)
}

func (b *Backend) AddTask(missionID, title, description string, projectedSeconds *int) (mission.Task, bool) {
	return b.store.AddTask(missionID, title, description, projectedSeconds)
}

func (b *Backend) Start(missionID string) bool  { return b.store.Start(missionID) }
func (b *Backend) Pause(missionID string) bool  { return b.store.Pause(missionID) }
func (b *Backend) Resume(missionID string) bool { return b.store.Resume(missionID) }
func (b *Backend) Stop(missionID string) bool   { return b.store.Stop(missionID) }

func (b *Backend) CompleteTask(missionID, taskID string) bool {
	return b.store.CompleteTask(missionID, taskID)
}

func (b *Backend) SetTaskCompletion(missionID, taskID string, completed bool) bool {
	return b.store.SetTaskCompletion(missionID, taskID, completed)
}

// PublishAll republishes the full mission table.
func (b *Backend) PublishAll() { b.store.PublishAll() }

// Tick runs one ticker pass synchronously.
func (b *Backend) Tick() []mission.Mission {
	changed := b.store.Tick()
	b.stats.IncrementTick()
	return changed
}

// Stats exposes the counters.
func (b *Backend) Stats() *stats.Tracker { return b.stats }

// StatsLines renders the counters plus current levels for the console.
func (b *Backend) StatsLines() []string {
	lines := b.stats.SnapshotLines()
	l := b.Levels()
	lines = append(lines, formatLevels(l))
	return lines
}

// Levels samples the current gauges.
func (b *Backend) Levels() stats.Levels {
	ms := b.store.Missions()
	ws := b.engine.ActiveWarnings()
	l := stats.Levels{Missions: len(ms), ActiveWarnings: len(ws)}
	for _, m := range ms {
		if m.Running() {
			l.RunningMissions++
		}
	}
	for _, w := range ws {
		if !w.Acknowledged {
			l.Unacknowledged++
		}
	}
	return l
}

func formatLevels(l stats.Levels) string {
	return fmt.Sprintf("Missions %d (%d running) | warnings %d active, %d unacknowledged",
		l.Missions, l.RunningMissions, l.ActiveWarnings, l.Unacknowledged)
}
