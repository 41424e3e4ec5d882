// Package backend composes the warning engine, mission store, ticker,
// command router and persistence gateway behind one bus.
//
// Purpose: be the single object the process bootstrap, the operator console
// and any presentation layer talk to.
// Key aspects:
//   - it is the engine Observer and the store Notifier, so every state change
//     turns into a bus publish on the configured topics;
//   - publishes are best effort: failures are counted, logged through a
//     throttle, and never roll back local state;
//   - inbound messages are routed by topic to the telemetry decoder or the
//     command router.
package backend

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"tricorder/bus"
	"tricorder/commands"
	"tricorder/config"
	"tricorder/internal/ratelimit"
	"tricorder/mission"
	"tricorder/persist"
	"tricorder/stats"
	"tricorder/telemetry"
)

// Options wires a Backend. Bus is required; everything else has a default.
type Options struct {
	Topics         config.TopicsConfig
	Thresholds     telemetry.Thresholds
	AlertSoundPath string
	Bus            bus.Bus
	// Gateway may be nil for a memory-only session.
	Gateway      *persist.Gateway
	Stats        *stats.Tracker
	TickInterval time.Duration
	// LogInterval throttles repeated publish and decode failure logs.
	LogInterval time.Duration
}

// Backend is the composed core.
type Backend struct {
	topics     config.TopicsConfig
	alertSound string

	bus     bus.Bus
	engine  *telemetry.Engine
	store   *mission.Store
	ticker  *mission.Ticker
	router  *commands.Router
	gateway *persist.Gateway
	stats   *stats.Tracker

	publishLog *ratelimit.Counter
	decodeLog  *ratelimit.Counter

	mu            sync.RWMutex
	lastTelemetry telemetry.Snapshot
	lastAt        time.Time
	haveTelemetry bool

	now func() time.Time
}

// New builds the core, restores the persisted mission table and subscribes
// to the inbound topics. Subscribe failures are logged, not returned; a
// failure to build the engine is.
func New(opts Options) (*Backend, error) {
	if opts.Bus == nil {
		return nil, errors.New("backend: bus is required")
	}
	if opts.Thresholds == (telemetry.Thresholds{}) {
		opts.Thresholds = telemetry.DefaultThresholds()
	}
	if opts.Stats == nil {
		opts.Stats = stats.NewTracker()
	}
	if opts.LogInterval <= 0 {
		opts.LogInterval = 30 * time.Second
	}

	b := &Backend{
		topics:     opts.Topics,
		alertSound: opts.AlertSoundPath,
		bus:        opts.Bus,
		gateway:    opts.Gateway,
		stats:      opts.Stats,
		publishLog: ratelimit.NewCounter(opts.LogInterval),
		decodeLog:  ratelimit.NewCounter(opts.LogInterval),
		now:        time.Now,
	}

	engine, err := telemetry.NewEngine(opts.Thresholds, b)
	if err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}
	b.engine = engine

	var persister mission.Persister
	if opts.Gateway != nil {
		persister = trackedPersister{gateway: opts.Gateway, stats: opts.Stats}
	}
	b.store = mission.NewStore(b, persister)
	if opts.Gateway != nil {
		restored := b.store.Restore(opts.Gateway.Load())
		log.Printf("Backend: restored %d mission(s) from %s", restored, opts.Gateway.Describe())
	}

	b.ticker = mission.NewTicker(b.store)
	b.ticker.SetInterval(opts.TickInterval)
	b.ticker.OnTick(func([]mission.Mission) { b.stats.IncrementTick() })

	b.router = commands.NewRouter(b.store, b.engine)

	b.bus.SetHandler(b.HandleMessage)
	for _, topic := range []string{b.topics.Telemetry, b.topics.Commands} {
		if topic == "" {
			continue
		}
		if err := b.bus.Subscribe(topic); err != nil {
			log.Printf("Backend: subscribe %s failed: %v", topic, err)
		}
	}
	return b, nil
}

// Activate starts the ticker and announces the current state.
func (b *Backend) Activate() {
	b.ticker.Start()
	b.store.PublishAll()
	b.WarningsChanged()
}

// Shutdown stops the ticker and writes a final snapshot.
func (b *Backend) Shutdown() {
	b.ticker.Stop()
	if b.gateway != nil {
		b.stats.RecordPersist(b.gateway.Save(b.store.Missions()))
	}
}

// HandleMessage routes one inbound bus message by topic.
func (b *Backend) HandleMessage(topic string, payload []byte) {
	switch topic {
	case b.topics.Telemetry:
		b.handleTelemetry(payload)
	case b.topics.Commands:
		res := b.router.HandlePayload(payload)
		if !res.Known {
			b.stats.IncrementCommandIgnored()
			return
		}
		b.stats.IncrementCommand(res.Action)
	}
}

func (b *Backend) handleTelemetry(payload []byte) {
	snap, err := telemetry.DecodeSnapshot(payload)
	if err != nil {
		b.stats.IncrementTelemetryRejected()
		b.decodeLog.Logf("Backend: dropping telemetry frame: %v", err)
		return
	}
	b.ProcessTelemetry(snap)
}

// ProcessTelemetry caches the snapshot and runs one reconciliation pass.
func (b *Backend) ProcessTelemetry(snap telemetry.Snapshot) {
	b.mu.Lock()
	b.lastTelemetry = snap
	b.lastAt = b.now()
	b.haveTelemetry = true
	b.mu.Unlock()

	b.stats.IncrementTelemetry()
	b.engine.Process(snap)
}

// publish sends payload and reports whether the bus accepted it.
func (b *Backend) publish(topic string, payload interface{}) bool {
	if topic == "" {
		return false
	}
	if err := b.bus.Publish(topic, payload); err != nil {
		total := b.stats.IncrementPublishFailure()
		b.publishLog.Logf("Backend: publish %s failed: %v (%d failures)", topic, err, total)
		return false
	}
	return true
}

// WarningRaised implements telemetry.Observer.
func (b *Backend) WarningRaised(w telemetry.Warning) {
	b.stats.IncrementWarningRaised(string(w.Kind))
	log.Printf("Backend: warning raised %s", w)
	b.publish(b.topics.WarningsRaised, w.ToRecord())
}

// WarningCleared implements telemetry.Observer.
func (b *Backend) WarningCleared(kind telemetry.Kind) {
	b.stats.IncrementWarningCleared()
	log.Printf("Backend: warning cleared %s", kind)
	b.publish(b.topics.WarningsCleared, map[string]telemetry.Kind{"kind": kind})
}

// WarningsChanged implements telemetry.Observer by publishing the active set.
func (b *Backend) WarningsChanged() {
	b.publish(b.topics.WarningsActive, map[string][]telemetry.Record{
		"warnings": telemetry.Records(b.engine.ActiveWarnings()),
	})
}

// MissionChanged implements mission.Notifier.
func (b *Backend) MissionChanged(m mission.Mission) {
	b.publish(b.topics.MissionState, map[string]mission.Record{"mission": m.ToRecord()})
}

// MissionsChanged implements mission.Notifier.
func (b *Backend) MissionsChanged(ms []mission.Mission) {
	b.publish(b.topics.MissionState, map[string][]mission.Record{"missions": mission.Records(ms)})
}

// trackedPersister counts every save the store asks for.
type trackedPersister struct {
	gateway *persist.Gateway
	stats   *stats.Tracker
}

func (p trackedPersister) Save(ms []mission.Mission) bool {
	ok := p.gateway.Save(ms)
	p.stats.RecordPersist(ok)
	return ok
}
