// Package stats tracks runtime counters for the periodic console line, the
// STATS console command and the Prometheus endpoint.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Tracker holds monotonically increasing counters.
type Tracker struct {
	// keyed counters live in sync.Map + atomic.Uint64 so hot-path increments
	// never contend on a mutex
	commandCounts sync.Map // action -> *atomic.Uint64
	warningCounts sync.Map // kind -> *atomic.Uint64

	start             atomic.Int64
	telemetryFrames   atomic.Uint64
	telemetryRejected atomic.Uint64
	warningsRaised    atomic.Uint64
	warningsCleared   atomic.Uint64
	commandsIgnored   atomic.Uint64
	ticks             atomic.Uint64
	persistOK         atomic.Uint64
	persistFailed     atomic.Uint64
	publishFailures   atomic.Uint64
}

// NewTracker creates a tracker whose uptime starts now.
func NewTracker() *Tracker {
	t := &Tracker{}
	t.start.Store(time.Now().UnixNano())
	return t
}

// IncrementTelemetry counts an accepted telemetry frame.
func (t *Tracker) IncrementTelemetry() { t.telemetryFrames.Add(1) }

// IncrementTelemetryRejected counts a frame that could not be decoded.
func (t *Tracker) IncrementTelemetryRejected() { t.telemetryRejected.Add(1) }

// IncrementWarningRaised counts a raise of the given kind.
func (t *Tracker) IncrementWarningRaised(kind string) {
	t.warningsRaised.Add(1)
	incrementCounter(&t.warningCounts, kind)
}

func (t *Tracker) IncrementWarningCleared() { t.warningsCleared.Add(1) }

// IncrementCommand counts a dispatched command by action. An empty action
// counts as ignored.
func (t *Tracker) IncrementCommand(action string) {
	if strings.TrimSpace(action) == "" {
		t.commandsIgnored.Add(1)
		return
	}
	incrementCounter(&t.commandCounts, action)
}

// IncrementCommandIgnored counts a payload with no usable action.
func (t *Tracker) IncrementCommandIgnored() { t.commandsIgnored.Add(1) }

func (t *Tracker) IncrementTick() { t.ticks.Add(1) }

// RecordPersist counts one save attempt.
func (t *Tracker) RecordPersist(ok bool) {
	if ok {
		t.persistOK.Add(1)
		return
	}
	t.persistFailed.Add(1)
}

// IncrementPublishFailure counts a failed outbound publish and returns the
// running total.
func (t *Tracker) IncrementPublishFailure() uint64 { return t.publishFailures.Add(1) }

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	Uptime            time.Duration
	TelemetryFrames   uint64
	TelemetryRejected uint64
	WarningsRaised    uint64
	WarningsCleared   uint64
	Commands          map[string]uint64
	CommandsIgnored   uint64
	Warnings          map[string]uint64
	Ticks             uint64
	PersistOK         uint64
	PersistFailed     uint64
	PublishFailures   uint64
}

// CommandTotal sums the per-action command counters.
func (s Snapshot) CommandTotal() uint64 {
	var total uint64
	for _, n := range s.Commands {
		total += n
	}
	return total
}

// Snapshot copies the counters.
func (t *Tracker) Snapshot() Snapshot {
	return Snapshot{
		Uptime:            t.Uptime(),
		TelemetryFrames:   t.telemetryFrames.Load(),
		TelemetryRejected: t.telemetryRejected.Load(),
		WarningsRaised:    t.warningsRaised.Load(),
		WarningsCleared:   t.warningsCleared.Load(),
		Commands:          copyCounts(&t.commandCounts),
		CommandsIgnored:   t.commandsIgnored.Load(),
		Warnings:          copyCounts(&t.warningCounts),
		Ticks:             t.ticks.Load(),
		PersistOK:         t.persistOK.Load(),
		PersistFailed:     t.persistFailed.Load(),
		PublishFailures:   t.publishFailures.Load(),
	}
}

// Uptime returns how long the tracker has been running.
func (t *Tracker) Uptime() time.Duration {
	return time.Since(time.Unix(0, t.start.Load()))
}

// SnapshotLines returns human-readable stats ready for console display.
func (t *Tracker) SnapshotLines() []string {
	s := t.Snapshot()
	return []string{
		fmt.Sprintf("Uptime %s | telemetry %s frames (%s rejected) | ticks %s",
			s.Uptime.Truncate(time.Second), humanize.Comma(int64(s.TelemetryFrames)),
			humanize.Comma(int64(s.TelemetryRejected)), humanize.Comma(int64(s.Ticks))),
		fmt.Sprintf("Warnings raised %s, cleared %s | %s",
			humanize.Comma(int64(s.WarningsRaised)), humanize.Comma(int64(s.WarningsCleared)),
			formatCounts("by kind", s.Warnings)),
		fmt.Sprintf("Commands %s (%s ignored) | %s",
			humanize.Comma(int64(s.CommandTotal())), humanize.Comma(int64(s.CommandsIgnored)),
			formatCounts("by action", s.Commands)),
		fmt.Sprintf("Persist ok %s, failed %s | publish failures %s",
			humanize.Comma(int64(s.PersistOK)), humanize.Comma(int64(s.PersistFailed)),
			humanize.Comma(int64(s.PublishFailures))),
	}
}

func formatCounts(label string, counts map[string]uint64) string {
	if len(counts) == 0 {
		return label + ": (none)"
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var builder strings.Builder
	builder.WriteString(label)
	builder.WriteString(": ")
	for i, k := range keys {
		if i > 0 {
			builder.WriteString(", ")
		}
		fmt.Fprintf(&builder, "%s=%s", k, humanize.Comma(int64(counts[k])))
	}
	return builder.String()
}

func copyCounts(m *sync.Map) map[string]uint64 {
	counts := make(map[string]uint64)
	m.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return counts
}

func incrementCounter(m *sync.Map, key string) {
	if strings.TrimSpace(key) == "" {
		return
	}
	if value, ok := m.Load(key); ok {
		value.(*atomic.Uint64).Add(1)
		return
	}
	counter := &atomic.Uint64{}
	actual, loaded := m.LoadOrStore(key, counter)
	if loaded {
		actual.(*atomic.Uint64).Add(1)
		return
	}
	counter.Add(1)
}
