package telemetry

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Observer receives warning lifecycle events. Raised and Cleared fire once
// per kind transition; Changed fires once per pass or acknowledgement that
// altered the active set. Callbacks run without the engine lock held.
type Observer interface {
	WarningRaised(w Warning)
	WarningCleared(kind Kind)
	WarningsChanged()
}

// candidate is one evaluated condition before reconciliation.
type candidate struct {
	kind     Kind
	message  string
	severity Severity
	cause    string
}

// evaluate maps a snapshot to the conditions it triggers, in evaluation
// order, with root-cause consolidation applied: a leak together with low O2
// is reported as a single atmosphere-loss emergency.
func evaluate(s Snapshot, th Thresholds) []candidate {
	var out []candidate
	if s.O2 != nil && *s.O2 < th.O2Low {
		out = append(out, candidate{kind: KindLowO2, message: fmt.Sprintf("LOW O2 (%g%%)", *s.O2), severity: SeverityCritical})
	}
	if s.Battery != nil && *s.Battery < th.BatteryLow {
		out = append(out, candidate{kind: KindLowBatt, message: fmt.Sprintf("LOW BATTERY (%g%%)", *s.Battery), severity: SeverityCritical})
	}
	if s.CO2 != nil && *s.CO2 > th.CO2High {
		out = append(out, candidate{kind: KindHighCO2, message: fmt.Sprintf("HIGH CO2 (%g%%)", *s.CO2), severity: SeverityWarning})
	}
	if s.Leak != nil && *s.Leak {
		out = append(out, candidate{kind: KindSuitLeak, message: "SUIT LEAK DETECTED", severity: SeverityCritical})
	}
	if s.SuitTemp != nil {
		if *s.SuitTemp < th.SuitTempLow {
			out = append(out, candidate{kind: KindTempLow, message: fmt.Sprintf("SUIT TEMP LOW (%gC)", *s.SuitTemp), severity: SeverityWarning})
		}
		if *s.SuitTemp > th.SuitTempHigh {
			out = append(out, candidate{kind: KindTempHigh, message: fmt.Sprintf("SUIT TEMP HIGH (%gC)", *s.SuitTemp), severity: SeverityWarning})
		}
	}
	return consolidate(out)
}

func consolidate(in []candidate) []candidate {
	var leak, lowO2 bool
	for _, c := range in {
		switch c.kind {
		case KindSuitLeak:
			leak = true
		case KindLowO2:
			lowO2 = true
		}
	}
	if !leak || !lowO2 {
		return in
	}
	out := make([]candidate, 0, len(in)-1)
	for _, c := range in {
		if c.kind == KindSuitLeak || c.kind == KindLowO2 {
			continue
		}
		out = append(out, c)
	}
	return append(out, candidate{
		kind:     KindAtmLoss,
		message:  "ATMOSPHERE LOSS - LEAK",
		severity: SeverityCritical,
		cause:    string(KindSuitLeak),
	})
}

// Engine owns the active warning table.
type Engine struct {
	mu         sync.Mutex
	thresholds Thresholds
	active     map[Kind]*Warning
	observer   Observer
	now        func() time.Time
}

// NewEngine validates the thresholds and returns an engine with an empty
// active set. observer may be nil.
func NewEngine(th Thresholds, observer Observer) (*Engine, error) {
	if err := th.Validate(); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	return &Engine{
		thresholds: th,
		active:     make(map[Kind]*Warning),
		observer:   observer,
		now:        time.Now,
	}, nil
}

// Thresholds returns the limits the engine evaluates against.
func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

// Process runs one reconciliation pass against the snapshot.
// Key aspects: existing kinds only refresh LastSeen (acknowledgement kept,
// no second raise); absent kinds are removed regardless of acknowledgement.
// Upstream: backend telemetry handler.
// Downstream: Observer callbacks after the lock is released.
func (e *Engine) Process(s Snapshot) {
	current := evaluate(s, e.thresholds)

	e.mu.Lock()
	now := e.now()
	present := make(map[Kind]struct{}, len(current))
	var raised []Warning
	for _, c := range current {
		present[c.kind] = struct{}{}
		if w, ok := e.active[c.kind]; ok {
			w.LastSeen = now
			continue
		}
		w := &Warning{
			Kind:      c.kind,
			Message:   c.message,
			Severity:  c.severity,
			Cause:     c.cause,
			FirstSeen: now,
			LastSeen:  now,
		}
		e.active[c.kind] = w
		raised = append(raised, *w)
	}
	var cleared []Kind
	for kind := range e.active {
		if _, ok := present[kind]; !ok {
			cleared = append(cleared, kind)
		}
	}
	sort.Slice(cleared, func(i, j int) bool { return cleared[i] < cleared[j] })
	for _, kind := range cleared {
		delete(e.active, kind)
	}
	e.mu.Unlock()

	if e.observer == nil {
		return
	}
	for _, w := range raised {
		e.observer.WarningRaised(w)
	}
	for _, kind := range cleared {
		e.observer.WarningCleared(kind)
	}
	if len(raised) > 0 || len(cleared) > 0 {
		e.observer.WarningsChanged()
	}
}

// Acknowledge marks an active warning as seen by the operator. Unknown
// kinds are ignored and report false.
func (e *Engine) Acknowledge(kind Kind) bool {
	e.mu.Lock()
	w, ok := e.active[kind]
	if ok {
		w.Acknowledged = true
	}
	e.mu.Unlock()
	if !ok {
		return false
	}
	if e.observer != nil {
		e.observer.WarningsChanged()
	}
	return true
}

// ActiveWarnings returns a copy of the active set ordered by first-seen time,
// then kind.
func (e *Engine) ActiveWarnings() []Warning {
	e.mu.Lock()
	out := make([]Warning, 0, len(e.active))
	for _, w := range e.active {
		out = append(out, *w)
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FirstSeen.Equal(out[j].FirstSeen) {
			return out[i].FirstSeen.Before(out[j].FirstSeen)
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// Warning returns the active warning of the given kind.
func (e *Engine) Warning(kind Kind) (Warning, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.active[kind]
	if !ok {
		return Warning{}, false
	}
	return *w, true
}

// HasUnacknowledged reports whether any active warning still needs operator
// attention; alert rendering keys off this.
func (e *Engine) HasUnacknowledged() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, w := range e.active {
		if !w.Acknowledged {
			return true
		}
	}
	return false
}
