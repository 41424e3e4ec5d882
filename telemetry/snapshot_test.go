package telemetry

import (
	"errors"
	"testing"
)

func TestDecodeSnapshot(t *testing.T) {
	s, err := DecodeSnapshot([]byte(`{"o2": 20.5, "battery": 80, "co2": 0.3, "suit_temp": 21, "external_temp": -120, "leak": false, "timestamp": 1767225600}`))
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	if s.O2 == nil || *s.O2 != 20.5 {
		t.Fatalf("o2 mismatch: %v", s.O2)
	}
	if s.ExternalTemp == nil || *s.ExternalTemp != -120 {
		t.Fatalf("external_temp mismatch: %v", s.ExternalTemp)
	}
	if s.Leak == nil || *s.Leak {
		t.Fatalf("leak mismatch: %v", s.Leak)
	}
	if s.Timestamp == nil || *s.Timestamp != 1767225600 {
		t.Fatalf("timestamp mismatch: %v", s.Timestamp)
	}
}

func TestDecodeSnapshotDropsMistypedFields(t *testing.T) {
	s, err := DecodeSnapshot([]byte(`{"o2": "low", "battery": null, "leak": 1, "extra": [1,2]}`))
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	if s.O2 != nil || s.Battery != nil {
		t.Fatalf("expected mistyped and null fields to be dropped: %+v", s)
	}
	if s.Leak == nil || !*s.Leak {
		t.Fatalf("expected numeric leak flag to be truthy")
	}
}

func TestDecodeSnapshotRejectsNonObjects(t *testing.T) {
	if _, err := DecodeSnapshot([]byte(`[1,2,3]`)); !errors.Is(err, ErrNotObject) {
		t.Fatalf("expected ErrNotObject, got %v", err)
	}
	if _, err := DecodeSnapshot([]byte(`{not json`)); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestDecodeSnapshotLeakStrings(t *testing.T) {
	cases := []struct {
		payload string
		want    *bool
	}{
		{`{"leak": "true"}`, Bool(true)},
		{`{"leak": "1"}`, Bool(true)},
		{`{"leak": " YES "}`, Bool(true)},
		{`{"leak": "detected"}`, Bool(true)},
		{`{"leak": "false"}`, Bool(false)},
		{`{"leak": "0"}`, Bool(false)},
		{`{"leak": "off"}`, Bool(false)},
		{`{"leak": ""}`, Bool(false)},
		{`{"leak": [true]}`, nil},
	}
	for _, tc := range cases {
		s, err := DecodeSnapshot([]byte(tc.payload))
		if err != nil {
			t.Fatalf("%s: %v", tc.payload, err)
		}
		switch {
		case tc.want == nil && s.Leak != nil:
			t.Fatalf("%s: expected no signal, got %v", tc.payload, *s.Leak)
		case tc.want != nil && (s.Leak == nil || *s.Leak != *tc.want):
			t.Fatalf("%s: expected %v, got %v", tc.payload, *tc.want, s.Leak)
		}
	}
}

func TestStringLeakRaisesWarning(t *testing.T) {
	e, err := NewEngine(DefaultThresholds(), nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	s, _ := DecodeSnapshot([]byte(`{"leak": "true", "o2": 20.9}`))
	e.Process(s)
	if _, ok := e.Warning(KindSuitLeak); !ok {
		t.Fatalf("string leak flag should raise suit_leak, active=%v", e.ActiveWarnings())
	}
}
