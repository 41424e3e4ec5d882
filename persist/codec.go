package persist

import (
	"fmt"
	"log"
	"math"
	"strconv"

	"tricorder/mission"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ImportedMissionName names the mission synthesized from a legacy task list.
const ImportedMissionName = "Imported Mission"

func encodeSnapshot(missions []mission.Mission) ([]byte, error) {
	records := mission.Records(missions)
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("persist: encode: %w", err)
	}
	return data, nil
}

// decodeSnapshot accepts the current layout (a list of mission records), a
// state payload ({"missions": [...]}), and the legacy layout (a flat list of
// task records, detected from the first entry).
func decodeSnapshot(data []byte) []mission.Mission {
	var entries []jsoniter.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		var wrapped struct {
			Missions []jsoniter.RawMessage `json:"missions"`
		}
		if werr := json.Unmarshal(data, &wrapped); werr != nil || wrapped.Missions == nil {
			log.Printf("Persist: snapshot is not a list: %v", err)
			return []mission.Mission{}
		}
		entries = wrapped.Missions
	}
	if len(entries) == 0 {
		return []mission.Mission{}
	}
	if isLegacyTaskList(entries[0]) {
		return []mission.Mission{importLegacyTasks(entries)}
	}

	out := make([]mission.Mission, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for i, raw := range entries {
		var rec mission.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			log.Printf("Persist: skipping mission entry %d: %v", i, err)
			continue
		}
		m, err := mission.FromRecord(rec)
		if err != nil {
			log.Printf("Persist: skipping mission entry %d: %v", i, err)
			continue
		}
		if _, dup := seen[m.ID]; dup {
			log.Printf("Persist: skipping duplicate mission %s", m.ID)
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

// isLegacyTaskList reports whether an entry looks like a bare task: it has a
// title and neither a name nor a task list.
func isLegacyTaskList(first jsoniter.RawMessage) bool {
	var probe map[string]jsoniter.RawMessage
	if err := json.Unmarshal(first, &probe); err != nil {
		return false
	}
	_, hasTitle := probe["title"]
	_, hasName := probe["name"]
	_, hasTasks := probe["tasks"]
	return hasTitle && !hasName && !hasTasks
}

func importLegacyTasks(entries []jsoniter.RawMessage) mission.Mission {
	m := mission.Mission{
		ID:    uuid.NewString(),
		Name:  ImportedMissionName,
		Tasks: make([]mission.Task, 0, len(entries)),
		State: mission.StateStopped,
	}
	for i, raw := range entries {
		var lt legacyTask
		if err := json.Unmarshal(raw, &lt); err != nil {
			log.Printf("Persist: skipping legacy task %d: %v", i, err)
			continue
		}
		rec := mission.TaskRecord{
			ID:               legacyID(lt.ID),
			Title:            lt.Title,
			Description:      lt.Description,
			ProjectedSeconds: lt.ProjectedSeconds,
			Completed:        lt.Completed,
		}
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		t, err := mission.TaskFromRecord(rec)
		if err != nil {
			log.Printf("Persist: skipping legacy task %d: %v", i, err)
			continue
		}
		m.Tasks = append(m.Tasks, t)
	}
	log.Printf("Persist: imported %d legacy tasks into %q", len(m.Tasks), ImportedMissionName)
	return m
}

// legacyTask is a TaskRecord whose id may have been written as a number.
type legacyTask struct {
	ID               interface{} `json:"id"`
	Title            string      `json:"title"`
	Description      string      `json:"description"`
	ProjectedSeconds *int        `json:"projected_seconds"`
	Completed        bool        `json:"completed"`
}

func legacyID(v interface{}) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		if id == math.Trunc(id) && !math.IsInf(id, 0) {
			return strconv.FormatInt(int64(id), 10)
		}
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return ""
	}
}
