package telemetry

import (
	"fmt"
	"time"
)

// Kind identifies a class of alert condition. At most one warning per kind
// is active at a time.
type Kind string

const (
	KindLowO2    Kind = "low_o2"
	KindLowBatt  Kind = "low_batt"
	KindHighCO2  Kind = "high_co2"
	KindSuitLeak Kind = "suit_leak"
	KindTempLow  Kind = "temp_low"
	KindTempHigh Kind = "temp_high"
	KindAtmLoss  Kind = "atm_loss"
)

// Severity ranks a warning for presentation.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// Warning is an active alert. FirstSeen is fixed at creation; LastSeen moves
// on every pass that still reports the kind.
type Warning struct {
	Kind         Kind
	Message      string
	Severity     Severity
	Cause        string
	FirstSeen    time.Time
	LastSeen     time.Time
	Acknowledged bool
}

// Record is the wire form of a warning.
type Record struct {
	Kind         Kind     `json:"kind"`
	Message      string   `json:"message"`
	Severity     Severity `json:"severity"`
	Cause        *string  `json:"cause"`
	Timestamp    float64  `json:"timestamp"`
	LastSeen     float64  `json:"last_seen"`
	Acknowledged bool     `json:"acknowledged"`
}

// ToRecord converts the warning to its wire form. Times are unix seconds
// with millisecond precision.
func (w Warning) ToRecord() Record {
	var cause *string
	if w.Cause != "" {
		c := w.Cause
		cause = &c
	}
	return Record{
		Kind:         w.Kind,
		Message:      w.Message,
		Severity:     w.Severity,
		Cause:        cause,
		Timestamp:    unixSeconds(w.FirstSeen),
		LastSeen:     unixSeconds(w.LastSeen),
		Acknowledged: w.Acknowledged,
	}
}

// Records converts a warning list, preserving order.
func Records(ws []Warning) []Record {
	out := make([]Record, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.ToRecord())
	}
	return out
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixMilli()) / 1000
}

// String renders a one-line summary for logs and the operator console.
func (w Warning) String() string {
	ack := ""
	if w.Acknowledged {
		ack = " [ACK]"
	}
	return fmt.Sprintf("%-9s %-9s %s%s", w.Kind, w.Severity, w.Message, ack)
}
