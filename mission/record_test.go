package mission

import (
	"strings"
	"testing"
)

func TestRecordCarriesDerivedFields(t *testing.T) {
	m := Mission{
		ID:                 "m1",
		Name:               "EVA",
		MaxDurationSeconds: IntPtr(100),
		State:              StatePaused,
		ElapsedSeconds:     12,
		Tasks: []Task{
			{ID: "t1", Title: "egress", ProjectedSeconds: IntPtr(120), Completed: true},
			{ID: "t2", Title: "ingress"},
		},
	}
	r := m.ToRecord()
	if !r.Started || !r.Paused || r.State != StatePaused {
		t.Fatalf("state flags not mirrored: %+v", r)
	}
	if r.ProjectedSeconds != 120 || r.Progress != 50 || !r.OverMax {
		t.Fatalf("derived fields wrong: projected=%d progress=%v over=%v", r.ProjectedSeconds, r.Progress, r.OverMax)
	}
}

func TestFromRecordStateResolution(t *testing.T) {
	tests := []struct {
		name    string
		rec     Record
		want    State
		wantErr string
	}{
		{name: "explicit", rec: Record{ID: "a", Name: "A", State: StateRunning}, want: StateRunning},
		{name: "flags running", rec: Record{ID: "a", Name: "A", Started: true}, want: StateRunning},
		{name: "flags paused", rec: Record{ID: "a", Name: "A", Started: true, Paused: true}, want: StatePaused},
		{name: "paused without started", rec: Record{ID: "a", Name: "A", Paused: true}, want: StateStopped},
		{name: "bad state", rec: Record{ID: "a", Name: "A", State: "exploded"}, wantErr: "unknown state"},
		{name: "missing id", rec: Record{Name: "A"}, wantErr: "missing id"},
		{name: "missing name", rec: Record{ID: "a"}, wantErr: "missing name"},
		{name: "negative elapsed", rec: Record{ID: "a", Name: "A", ElapsedSeconds: -1}, wantErr: "negative"},
		{name: "bad task", rec: Record{ID: "a", Name: "A", Tasks: []TaskRecord{{ID: "t"}}}, wantErr: "missing title"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, err := FromRecord(tc.rec)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("FromRecord: %v", err)
			}
			if m.State != tc.want {
				t.Fatalf("state = %q, want %q", m.State, tc.want)
			}
		})
	}
}
