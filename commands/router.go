package commands

import (
	"fmt"
	"log"
	"math"
	"sort"
	"strconv"
	"strings"

	"tricorder/mission"
	"tricorder/telemetry"

	"github.com/agnivade/levenshtein"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MissionControl is the slice of the mission store the command paths drive.
type MissionControl interface {
	Create(name string, maxDurationSeconds *int) mission.Mission
	CreateDescribed(name, description string, maxDurationSeconds *int) mission.Mission
	SetDescription(missionID, description string) bool
	AddTask(missionID, title, description string, projectedSeconds *int) (mission.Task, bool)
	Start(missionID string) bool
	Pause(missionID string) bool
	Resume(missionID string) bool
	Stop(missionID string) bool
	CompleteTask(missionID, taskID string) bool
	SetTaskCompletion(missionID, taskID string, completed bool) bool
	PublishAll()
}

// WarningControl acknowledges active warnings.
type WarningControl interface {
	Acknowledge(kind telemetry.Kind) bool
}

// Bus command actions.
const (
	ActionCreateMission     = "create_mission"
	ActionAddTask           = "add_task"
	ActionStart             = "start"
	ActionPause             = "pause"
	ActionResume            = "resume"
	ActionStop              = "stop"
	ActionCompleteTask      = "complete_task"
	ActionSetTaskCompletion = "set_task_completion"
	ActionRequestState      = "request_state"
	ActionAckWarning        = "ack_warning"

	// older control panels sent this for complete_task
	actionMarkTask = "mark_task"
)

var knownActions = []string{
	ActionCreateMission, ActionAddTask, ActionStart, ActionPause, ActionResume,
	ActionStop, ActionCompleteTask, ActionSetTaskCompletion, ActionRequestState,
	ActionAckWarning,
}

// Result describes what the router did with one payload. Callers use it for
// counters only; command semantics stay fire-and-forget.
type Result struct {
	Action string
	// Known is false when the action was absent or unrecognized.
	Known bool
	// OK mirrors the boolean returned by the underlying operation.
	OK bool
}

// Router decodes inbound bus command payloads and dispatches them to the
// mission store.
//
// Purpose: give an unauthenticated control channel a forgiving decoder.
// Key aspects: no validation beyond field presence; unknown ids fall through
// to the store which reports false; nothing is propagated back to the sender.
// Upstream: bus delivery goroutine. Downstream: MissionControl, WarningControl.
type Router struct {
	missions MissionControl
	warnings WarningControl
}

// NewRouter wires the router to its targets. warnings may be nil, in which
// case ack_warning is ignored.
func NewRouter(missions MissionControl, warnings WarningControl) *Router {
	return &Router{missions: missions, warnings: warnings}
}

// HandlePayload decodes a raw bus payload. Anything that is not a JSON object
// is ignored.
func (r *Router) HandlePayload(payload []byte) Result {
	var fields map[string]interface{}
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		log.Printf("Commands: ignoring undecodable payload (%d bytes)", len(payload))
		return Result{}
	}
	return r.Dispatch(fields)
}

// Dispatch routes one decoded command mapping.
func (r *Router) Dispatch(fields map[string]interface{}) Result {
	action := strings.ToLower(strings.TrimSpace(stringField(fields, "action")))
	if action == "" {
		return Result{}
	}
	if action == actionMarkTask {
		action = ActionCompleteTask
	}
	res := Result{Action: action, Known: true}
	missionID := stringField(fields, "mission_id")
	taskID := stringField(fields, "task_id")

	switch action {
	case ActionCreateMission:
		name := stringField(fields, "name")
		if strings.TrimSpace(name) == "" {
			name = "Unnamed"
		}
		r.missions.CreateDescribed(name, stringField(fields, "description"), intField(fields, "max_duration_seconds"))
		res.OK = true
	case ActionAddTask:
		if missionID == "" {
			return res
		}
		title := stringField(fields, "title")
		if strings.TrimSpace(title) == "" {
			title = "Task"
		}
		_, res.OK = r.missions.AddTask(missionID, title, stringField(fields, "description"), intField(fields, "projected_seconds"))
	case ActionStart:
		res.OK = missionID != "" && r.missions.Start(missionID)
	case ActionPause:
		res.OK = missionID != "" && r.missions.Pause(missionID)
	case ActionResume:
		res.OK = missionID != "" && r.missions.Resume(missionID)
	case ActionStop:
		res.OK = missionID != "" && r.missions.Stop(missionID)
	case ActionCompleteTask:
		res.OK = missionID != "" && taskID != "" && r.missions.CompleteTask(missionID, taskID)
	case ActionSetTaskCompletion:
		completed, ok := boolField(fields, "completed")
		if missionID == "" || taskID == "" || !ok {
			return res
		}
		res.OK = r.missions.SetTaskCompletion(missionID, taskID, completed)
	case ActionRequestState:
		r.missions.PublishAll()
		res.OK = true
	case ActionAckWarning:
		kind := stringField(fields, "kind")
		res.OK = r.warnings != nil && kind != "" && r.warnings.Acknowledge(telemetry.Kind(kind))
	default:
		res.Known = false
		if hint := closest(action, knownActions); hint != "" {
			log.Printf("Commands: ignoring unknown action %q (did you mean %q?)", action, hint)
		} else {
			log.Printf("Commands: ignoring unknown action %q", action)
		}
	}
	return res
}

// stringField returns the field as a string. Numeric ids are stringified so
// controls that send {"task_id": 3} address the same task as "3".
func stringField(fields map[string]interface{}, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func intField(fields map[string]interface{}, key string) *int {
	switch v := fields[key].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		n := int(v)
		return &n
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil
		}
		return &n
	default:
		return nil
	}
}

func boolField(fields map[string]interface{}, key string) (bool, bool) {
	switch v := fields[key].(type) {
	case bool:
		return v, true
	case float64:
		return v != 0, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return b, err == nil
	default:
		return false, false
	}
}

// closest returns the candidate within edit distance 2 of word, or "".
func closest(word string, candidates []string) string {
	best, bestDist := "", 3
	for _, c := range candidates {
		if d := levenshtein.ComputeDistance(word, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// ActionNames lists the accepted bus actions in sorted order.
func ActionNames() []string {
	out := append([]string(nil), knownActions...)
	sort.Strings(out)
	return out
}

func (r Result) String() string {
	switch {
	case r.Action == "":
		return "ignored"
	case !r.Known:
		return fmt.Sprintf("%s: unknown", r.Action)
	case r.OK:
		return fmt.Sprintf("%s: ok", r.Action)
	default:
		return fmt.Sprintf("%s: rejected", r.Action)
	}
}
