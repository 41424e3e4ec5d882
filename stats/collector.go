package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tricorder"

// Levels are the current-value gauges sampled at scrape time.
type Levels struct {
	Missions        int
	RunningMissions int
	ActiveWarnings  int
	Unacknowledged  int
}

// Collector exposes a Tracker to Prometheus. Counters are read at scrape
// time, so the hot paths only ever touch atomics.
type Collector struct {
	tracker *Tracker
	levels  func() Levels

	telemetry       *prometheus.Desc
	rejected        *prometheus.Desc
	raised          *prometheus.Desc
	cleared         *prometheus.Desc
	commands        *prometheus.Desc
	commandsIgnored *prometheus.Desc
	ticks           *prometheus.Desc
	persist         *prometheus.Desc
	publishFailures *prometheus.Desc
	uptime          *prometheus.Desc
	missions        *prometheus.Desc
	running         *prometheus.Desc
	active          *prometheus.Desc
	unacked         *prometheus.Desc
}

// NewCollector wraps tracker. levels may be nil when no gauges are wanted.
func NewCollector(tracker *Tracker, levels func() Levels) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		tracker:         tracker,
		levels:          levels,
		telemetry:       desc("telemetry_frames_total", "Telemetry frames evaluated."),
		rejected:        desc("telemetry_rejected_total", "Telemetry payloads that could not be decoded."),
		raised:          desc("warnings_raised_total", "Warnings raised, by kind.", "kind"),
		cleared:         desc("warnings_cleared_total", "Warnings cleared."),
		commands:        desc("commands_total", "Mission commands dispatched, by action.", "action"),
		commandsIgnored: desc("commands_ignored_total", "Command payloads without a usable action."),
		ticks:           desc("ticks_total", "Mission ticker passes."),
		persist:         desc("persist_total", "Mission snapshot saves, by result.", "result"),
		publishFailures: desc("publish_failures_total", "Outbound bus publishes that failed."),
		uptime:          desc("uptime_seconds", "Seconds since start."),
		missions:        desc("missions", "Missions in the store."),
		running:         desc("missions_running", "Missions currently running."),
		active:          desc("warnings_active", "Active warnings."),
		unacked:         desc("warnings_unacknowledged", "Active warnings not yet acknowledged."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.telemetry, c.rejected, c.raised, c.cleared, c.commands, c.commandsIgnored,
		c.ticks, c.persist, c.publishFailures, c.uptime,
	} {
		ch <- d
	}
	if c.levels != nil {
		ch <- c.missions
		ch <- c.running
		ch <- c.active
		ch <- c.unacked
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.tracker.Snapshot()
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}

	counter(c.telemetry, s.TelemetryFrames)
	counter(c.rejected, s.TelemetryRejected)
	for kind, n := range s.Warnings {
		counter(c.raised, n, kind)
	}
	counter(c.cleared, s.WarningsCleared)
	for action, n := range s.Commands {
		counter(c.commands, n, action)
	}
	counter(c.commandsIgnored, s.CommandsIgnored)
	counter(c.ticks, s.Ticks)
	counter(c.persist, s.PersistOK, "ok")
	counter(c.persist, s.PersistFailed, "failed")
	counter(c.publishFailures, s.PublishFailures)
	gauge(c.uptime, s.Uptime.Seconds())

	if c.levels != nil {
		l := c.levels()
		gauge(c.missions, float64(l.Missions))
		gauge(c.running, float64(l.RunningMissions))
		gauge(c.active, float64(l.ActiveWarnings))
		gauge(c.unacked, float64(l.Unacknowledged))
	}
}
