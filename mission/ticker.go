package mission

import (
	"sync"
	"sync/atomic"
	"time"
)

// TickInterval is the fixed cadence of the elapsed-time driver.
const TickInterval = time.Second

// Ticker drives Store.Tick once per TickInterval until stopped. It cannot be
// paused per mission; missions opt out by not running.
type Ticker struct {
	store    *Store
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
	started  atomic.Bool
	ticks    atomic.Uint64
	onTick   func(changed []Mission)
}

// NewTicker binds a ticker to a store.
func NewTicker(store *Store) *Ticker {
	return &Ticker{
		store:    store,
		interval: TickInterval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the tick loop. Calling Start twice has no further effect.
func (t *Ticker) Start() {
	if !t.started.CompareAndSwap(false, true) {
		return
	}
	go t.loop()
}

// Stop ends the loop and waits for an in-flight tick to finish.
func (t *Ticker) Stop() {
	t.once.Do(func() {
		close(t.stop)
	})
	if t.started.Load() {
		<-t.done
	}
}

// SetInterval overrides the cadence. It must be called before Start.
func (t *Ticker) SetInterval(d time.Duration) {
	if d > 0 {
		t.interval = d
	}
}

// OnTick registers fn to run after every pass with the missions that moved.
// It must be called before Start.
func (t *Ticker) OnTick(fn func(changed []Mission)) {
	t.onTick = fn
}

// Ticks returns the number of completed passes.
func (t *Ticker) Ticks() uint64 {
	return t.ticks.Load()
}

func (t *Ticker) loop() {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			changed := t.store.Tick()
			t.ticks.Add(1)
			if t.onTick != nil {
				t.onTick(changed)
			}
		}
	}
}
