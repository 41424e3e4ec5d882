// Package commands turns operator input into mission store operations.
//
// Two front doors share the same targets: Router decodes JSON payloads from
// the bus command topic, and Processor parses the line-oriented console
// protocol used by telnet sessions and the local stdin console.
package commands

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"tricorder/mission"
	"tricorder/telemetry"
)

// Surface is everything the console reads or drives.
type Surface interface {
	MissionControl
	Mission(missionID string) (mission.Mission, bool)
	Missions() []mission.Mission
	ActiveWarnings() []telemetry.Warning
	AcknowledgeWarning(kind telemetry.Kind) bool
	LastTelemetry() (telemetry.Snapshot, time.Time, bool)
	StatsLines() []string
}

var consoleCommands = []string{
	"HELP", "MISSIONS", "SHOW", "CREATE", "ADD", "START", "PAUSE", "RESUME",
	"STOP", "DONE", "UNDO", "WARNINGS", "ACK", "TELEMETRY", "STATS", "BYE",
}

// Processor handles console command parsing and replies.
type Processor struct {
	surface Surface
	now     func() time.Time
}

// NewProcessor binds the console to its surface.
func NewProcessor(surface Surface) *Processor {
	return &Processor{surface: surface, now: time.Now}
}

// ProcessCommand parses a single console line and returns the response text
// to write back. A response of "BYE" signals the caller to close the session.
func (p *Processor) ProcessCommand(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return ""
	}

	parts := strings.Fields(cmd)
	command := strings.ToUpper(parts[0])
	args := parts[1:]

	switch command {
	case "HELP", "H", "?":
		return p.handleHelp()
	case "MISSIONS", "LIST", "LS":
		return p.handleMissions()
	case "SHOW", "SH":
		if len(args) < 1 {
			return "Usage: SHOW <mission>\n"
		}
		return p.handleShow(args[0])
	case "CREATE":
		return p.handleCreate(args)
	case "ADD":
		return p.handleAdd(args)
	case "START", "PAUSE", "RESUME", "STOP":
		if len(args) < 1 {
			return fmt.Sprintf("Usage: %s <mission>\n", command)
		}
		return p.handleTransition(command, args[0])
	case "DONE", "UNDO":
		if len(args) < 2 {
			return fmt.Sprintf("Usage: %s <mission> <task>\n", command)
		}
		return p.handleCompletion(args[0], args[1], command == "DONE")
	case "WARNINGS", "WARN", "W":
		return p.handleWarnings()
	case "ACK":
		if len(args) < 1 {
			return "Usage: ACK <kind|ALL>\n"
		}
		return p.handleAck(args[0])
	case "TELEMETRY", "TM":
		return p.handleTelemetry()
	case "STATS":
		return strings.Join(p.surface.StatsLines(), "\n") + "\n"
	case "BYE", "QUIT", "EXIT":
		return "BYE"
	default:
		if hint := closest(command, consoleCommands); hint != "" {
			return fmt.Sprintf("Unknown command: %s (did you mean %s?)\nType HELP for available commands.\n", command, hint)
		}
		return fmt.Sprintf("Unknown command: %s\nType HELP for available commands.\n", command)
	}
}

func (p *Processor) handleHelp() string {
	return `Available commands:
HELP                                   - Show this help
MISSIONS                               - List missions
SHOW <mission>                         - Show one mission with its tasks
CREATE <name...> [max=<seconds>]       - Create a mission
ADD <mission> <title...> [secs=<n>]    - Add a task to a mission
START|PAUSE|RESUME|STOP <mission>      - Drive the mission lifecycle
DONE <mission> <task>                  - Mark a task complete
UNDO <mission> <task>                  - Mark a task incomplete
WARNINGS                               - List active warnings
ACK <kind|ALL>                         - Acknowledge warnings
TELEMETRY                              - Show the latest telemetry frame
STATS                                  - Show runtime counters
BYE                                    - Disconnect

Missions may be named by any unique id prefix; tasks by list number or id prefix.
`
}

func (p *Processor) handleMissions() string {
	missions := p.surface.Missions()
	if len(missions) == 0 {
		return "No missions.\n"
	}
	var b strings.Builder
	for _, m := range missions {
		b.WriteString(missionLine(m))
		b.WriteString("\n")
	}
	return b.String()
}

func (p *Processor) handleShow(ref string) string {
	m, errText := p.resolveMission(ref)
	if errText != "" {
		return errText
	}
	var b strings.Builder
	b.WriteString(missionLine(m))
	b.WriteString("\n")
	if m.Description != "" {
		fmt.Fprintf(&b, "  %s\n", m.Description)
	}
	if m.MaxDurationSeconds != nil {
		fmt.Fprintf(&b, "  budget %s", clock(int64(*m.MaxDurationSeconds)))
		if m.OverMax() {
			b.WriteString(" (projection exceeds budget)")
		}
		b.WriteString("\n")
	}
	if len(m.Tasks) == 0 {
		b.WriteString("  no tasks\n")
	}
	for i, t := range m.Tasks {
		mark := " "
		if t.Completed {
			mark = "x"
		}
		proj := "--:--:--"
		if t.ProjectedSeconds != nil {
			proj = clock(int64(*t.ProjectedSeconds))
		}
		fmt.Fprintf(&b, "  %2d [%s] %s %s  (%s)\n", i+1, mark, proj, t.Title, shortID(t.ID))
	}
	return b.String()
}

func (p *Processor) handleCreate(args []string) string {
	var maxSeconds *int
	words := make([]string, 0, len(args))
	for _, a := range args {
		if v, ok := keyedInt(a, "max"); ok {
			maxSeconds = &v
			continue
		}
		words = append(words, a)
	}
	m := p.surface.Create(strings.Join(words, " "), maxSeconds)
	return fmt.Sprintf("Created %s (%s)\n", m.Name, m.ID)
}

func (p *Processor) handleAdd(args []string) string {
	if len(args) < 2 {
		return "Usage: ADD <mission> <title...> [secs=<n>]\n"
	}
	m, errText := p.resolveMission(args[0])
	if errText != "" {
		return errText
	}
	var projected *int
	words := make([]string, 0, len(args))
	for _, a := range args[1:] {
		if v, ok := keyedInt(a, "secs"); ok {
			projected = &v
			continue
		}
		words = append(words, a)
	}
	t, ok := p.surface.AddTask(m.ID, strings.Join(words, " "), "", projected)
	if !ok {
		return fmt.Sprintf("Could not add task to %s\n", m.Name)
	}
	return fmt.Sprintf("Added %q to %s\n", t.Title, m.Name)
}

func (p *Processor) handleTransition(command, ref string) string {
	m, errText := p.resolveMission(ref)
	if errText != "" {
		return errText
	}
	var ok bool
	switch command {
	case "START":
		ok = p.surface.Start(m.ID)
	case "PAUSE":
		ok = p.surface.Pause(m.ID)
	case "RESUME":
		ok = p.surface.Resume(m.ID)
	case "STOP":
		ok = p.surface.Stop(m.ID)
	}
	if !ok {
		return fmt.Sprintf("%s refused: %s is %s\n", command, m.Name, m.State)
	}
	updated, _ := p.surface.Mission(m.ID)
	return fmt.Sprintf("%s is now %s\n", updated.Name, updated.State)
}

func (p *Processor) handleCompletion(missionRef, taskRef string, completed bool) string {
	m, errText := p.resolveMission(missionRef)
	if errText != "" {
		return errText
	}
	t, errText := resolveTask(m, taskRef)
	if errText != "" {
		return errText
	}
	if !p.surface.SetTaskCompletion(m.ID, t.ID, completed) {
		return fmt.Sprintf("Could not update %q\n", t.Title)
	}
	updated, _ := p.surface.Mission(m.ID)
	return fmt.Sprintf("%q %s; %s at %.2f%%\n", t.Title, doneWord(completed), updated.Name, updated.Progress())
}

func (p *Processor) handleWarnings() string {
	ws := p.surface.ActiveWarnings()
	if len(ws) == 0 {
		return "No active warnings.\n"
	}
	now := p.now()
	var b strings.Builder
	for _, w := range ws {
		ack := ""
		if w.Acknowledged {
			ack = " (ack)"
		}
		fmt.Fprintf(&b, "%-8s %-10s %s for %s%s\n", strings.ToUpper(string(w.Severity)), w.Kind, w.Message,
			now.Sub(w.FirstSeen).Truncate(time.Second), ack)
	}
	return b.String()
}

func (p *Processor) handleAck(arg string) string {
	if strings.EqualFold(arg, "ALL") {
		n := 0
		for _, w := range p.surface.ActiveWarnings() {
			if !w.Acknowledged && p.surface.AcknowledgeWarning(w.Kind) {
				n++
			}
		}
		return fmt.Sprintf("Acknowledged %d warning(s)\n", n)
	}
	kind := telemetry.Kind(strings.ToLower(arg))
	if !p.surface.AcknowledgeWarning(kind) {
		return fmt.Sprintf("No active warning %s\n", kind)
	}
	return fmt.Sprintf("Acknowledged %s\n", kind)
}

func (p *Processor) handleTelemetry() string {
	s, at, ok := p.surface.LastTelemetry()
	if !ok {
		return "No telemetry received yet.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Telemetry %s ago\n", p.now().Sub(at).Truncate(time.Second))
	rows := []struct {
		label string
		value *float64
		unit  string
	}{
		{"O2", s.O2, "%"},
		{"Battery", s.Battery, "%"},
		{"CO2", s.CO2, "%"},
		{"Suit temp", s.SuitTemp, "C"},
		{"External", s.ExternalTemp, "C"},
	}
	for _, r := range rows {
		if r.value == nil {
			fmt.Fprintf(&b, "  %-10s --\n", r.label)
			continue
		}
		fmt.Fprintf(&b, "  %-10s %g%s\n", r.label, *r.value, r.unit)
	}
	if s.Leak != nil {
		fmt.Fprintf(&b, "  %-10s %t\n", "Leak", *s.Leak)
	}
	return b.String()
}

// resolveMission accepts a full id or a unique prefix of one.
func (p *Processor) resolveMission(ref string) (mission.Mission, string) {
	if m, ok := p.surface.Mission(ref); ok {
		return m, ""
	}
	ref = strings.ToLower(ref)
	var matches []mission.Mission
	for _, m := range p.surface.Missions() {
		if strings.HasPrefix(strings.ToLower(m.ID), ref) {
			matches = append(matches, m)
		}
	}
	switch len(matches) {
	case 0:
		return mission.Mission{}, fmt.Sprintf("No mission matches %s\n", ref)
	case 1:
		return matches[0], ""
	default:
		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, shortID(m.ID))
		}
		sort.Strings(ids)
		return mission.Mission{}, fmt.Sprintf("Ambiguous mission %s: %s\n", ref, strings.Join(ids, ", "))
	}
}

// resolveTask accepts a 1-based list number, a full id, or a unique id prefix.
func resolveTask(m mission.Mission, ref string) (mission.Task, string) {
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(m.Tasks) {
		return m.Tasks[n-1], ""
	}
	var found []mission.Task
	for _, t := range m.Tasks {
		if t.ID == ref {
			return t, ""
		}
		if strings.HasPrefix(strings.ToLower(t.ID), strings.ToLower(ref)) {
			found = append(found, t)
		}
	}
	switch len(found) {
	case 1:
		return found[0], ""
	case 0:
		return mission.Task{}, fmt.Sprintf("No task %s in %s\n", ref, m.Name)
	default:
		return mission.Task{}, fmt.Sprintf("Ambiguous task %s in %s\n", ref, m.Name)
	}
}

func missionLine(m mission.Mission) string {
	line := fmt.Sprintf("%s %-20s %-7s %s / %s  %d/%d tasks %.2f%%",
		shortID(m.ID), m.Name, m.State, clock(m.ElapsedSeconds), clock(int64(m.ProjectedSeconds())),
		m.CompletedCount(), len(m.Tasks), m.Progress())
	if m.OverMax() {
		line += " OVER BUDGET"
	}
	return line
}

func keyedInt(arg, key string) (int, bool) {
	prefix := key + "="
	if len(arg) <= len(prefix) || !strings.EqualFold(arg[:len(prefix)], prefix) {
		return 0, false
	}
	v, err := strconv.Atoi(arg[len(prefix):])
	if err != nil {
		return 0, false
	}
	return v, true
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func clock(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds/60)%60, seconds%60)
}

func doneWord(completed bool) string {
	if completed {
		return "done"
	}
	return "reopened"
}
