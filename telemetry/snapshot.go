// Package telemetry decodes suit telemetry frames and turns them into a
// reconciled set of active warnings.
//
// Frames are JSON objects with optional fields:
//
//	o2, battery, co2, suit_temp, external_temp  (numbers)
//	leak                                        (boolean, number or string)
//	timestamp                                   (integer, unix seconds)
//
// A missing or mistyped field means "no signal" for the conditions that read
// it; it is never treated as a fault.
package telemetry

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Snapshot is one telemetry frame. Nil fields were absent from the frame.
type Snapshot struct {
	O2           *float64 `json:"o2,omitempty"`
	Battery      *float64 `json:"battery,omitempty"`
	CO2          *float64 `json:"co2,omitempty"`
	SuitTemp     *float64 `json:"suit_temp,omitempty"`
	ExternalTemp *float64 `json:"external_temp,omitempty"`
	Leak         *bool    `json:"leak,omitempty"`
	Timestamp    *int64   `json:"timestamp,omitempty"`
}

// ErrNotObject is returned for frames that are valid JSON but not an object.
var ErrNotObject = errors.New("telemetry: frame is not a JSON object")

// DecodeSnapshot parses a frame leniently: unknown fields are ignored and
// fields of the wrong type are dropped rather than failing the frame.
func DecodeSnapshot(payload []byte) (Snapshot, error) {
	var raw interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Snapshot{}, fmt.Errorf("telemetry: decode: %w", err)
	}
	fields, ok := raw.(map[string]interface{})
	if !ok {
		return Snapshot{}, ErrNotObject
	}
	return SnapshotFromMap(fields), nil
}

// SnapshotFromMap builds a snapshot from an already decoded object.
func SnapshotFromMap(fields map[string]interface{}) Snapshot {
	var s Snapshot
	s.O2 = numberField(fields, "o2")
	s.Battery = numberField(fields, "battery")
	s.CO2 = numberField(fields, "co2")
	s.SuitTemp = numberField(fields, "suit_temp")
	s.ExternalTemp = numberField(fields, "external_temp")
	s.Leak = truthField(fields, "leak")
	if ts := numberField(fields, "timestamp"); ts != nil {
		v := int64(*ts)
		s.Timestamp = &v
	}
	return s
}

// Float is a helper for building snapshots in code.
func Float(v float64) *float64 {
	return &v
}

// Bool is a helper for building snapshots in code.
func Bool(v bool) *bool {
	return &v
}

func numberField(fields map[string]interface{}, key string) *float64 {
	v, ok := fields[key]
	if !ok || v == nil {
		return nil
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// truthField reads a flag. Booleans are taken as is, numbers are true when
// non-zero, and strings go through strconv.ParseBool plus yes/no and on/off.
// Any other non-empty string counts as true: a sensor that reports something
// in the leak field is reporting a leak.
func truthField(fields map[string]interface{}, key string) *bool {
	v, ok := fields[key]
	if !ok || v == nil {
		return nil
	}
	var b bool
	switch t := v.(type) {
	case bool:
		b = t
	case float64:
		b = t != 0
	case string:
		b = truthString(t)
	default:
		return nil
	}
	return &b
}

func truthString(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if parsed, err := strconv.ParseBool(s); err == nil {
		return parsed
	}
	switch s {
	case "", "no", "off", "none", "null":
		return false
	default:
		return true
	}
}
