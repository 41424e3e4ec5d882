package mission

import (
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"
)

type recordingNotifier struct {
	mu       sync.Mutex
	single   []Mission
	snapshot [][]Mission
}

func (n *recordingNotifier) MissionChanged(m Mission) {
	n.mu.Lock()
	n.single = append(n.single, m)
	n.mu.Unlock()
}

func (n *recordingNotifier) MissionsChanged(ms []Mission) {
	n.mu.Lock()
	n.snapshot = append(n.snapshot, ms)
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.single)
}

type recordingPersister struct {
	mu    sync.Mutex
	saves [][]Mission
}

func (p *recordingPersister) Save(ms []Mission) bool {
	p.mu.Lock()
	p.saves = append(p.saves, ms)
	p.mu.Unlock()
	return true
}

func (p *recordingPersister) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.saves)
}

func newTestStore() (*Store, *recordingNotifier, *recordingPersister) {
	n := &recordingNotifier{}
	p := &recordingPersister{}
	s := NewStore(n, p)
	seq := 0
	s.newID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	return s, n, p
}

func TestCreateAssignsFreshStoppedMission(t *testing.T) {
	s, n, p := newTestStore()
	m := s.Create("Repair Panel", nil)
	if m.ID != "id-1" || m.State != StateStopped || m.ElapsedSeconds != 0 {
		t.Fatalf("unexpected mission: %+v", m)
	}
	other := s.Create("  ", IntPtr(0))
	if other.ID == m.ID {
		t.Fatalf("expected unique ids")
	}
	if other.Name != "Unnamed" || other.MaxDurationSeconds != nil {
		t.Fatalf("expected defaulted name and no budget, got %+v", other)
	}
	if n.count() != 2 || p.count() != 2 {
		t.Fatalf("expected notify+persist per create, got %d/%d", n.count(), p.count())
	}
}

func TestRepairPanelDerivedFields(t *testing.T) {
	s, _, _ := newTestStore()
	m := s.Create("Repair Panel", nil)
	var ids []string
	for _, secs := range []int{60, 30, 300} {
		task, ok := s.AddTask(m.ID, fmt.Sprintf("step %d", secs), "", IntPtr(secs))
		if !ok {
			t.Fatalf("AddTask failed")
		}
		ids = append(ids, task.ID)
	}
	if !s.CompleteTask(m.ID, ids[0]) {
		t.Fatalf("CompleteTask failed")
	}
	got, _ := s.Get(m.ID)
	if got.ProjectedSeconds() != 390 {
		t.Fatalf("ProjectedSeconds() = %d, want 390", got.ProjectedSeconds())
	}
	if got.Progress() != 33.33 {
		t.Fatalf("Progress() = %v, want 33.33", got.Progress())
	}
	if got.OverMax() {
		t.Fatalf("expected no budget to mean not over max")
	}
	titles := []string{got.Tasks[0].Title, got.Tasks[1].Title, got.Tasks[2].Title}
	if !reflect.DeepEqual(titles, []string{"step 60", "step 30", "step 300"}) {
		t.Fatalf("task order not preserved: %v", titles)
	}
}

func TestOverMax(t *testing.T) {
	s, _, _ := newTestStore()
	m := s.Create("Budgeted", IntPtr(100))
	s.AddTask(m.ID, "a", "", IntPtr(100))
	s.AddTask(m.ID, "b", "", IntPtr(50))
	got, _ := s.Get(m.ID)
	if !got.OverMax() {
		t.Fatalf("expected over max with 150 > 100")
	}
	empty := Mission{}
	if empty.Progress() != 0 {
		t.Fatalf("expected 0 progress without tasks")
	}
}

func TestAddTaskUnknownMission(t *testing.T) {
	s, n, p := newTestStore()
	if _, ok := s.AddTask("missing", "x", "", nil); ok {
		t.Fatalf("expected AddTask to fail for unknown mission")
	}
	if n.count() != 0 || p.count() != 0 {
		t.Fatalf("failed operations must not notify or persist")
	}
}

func TestStateMachine(t *testing.T) {
	s, _, _ := newTestStore()
	m := s.Create("Walk", nil)

	if s.Pause(m.ID) {
		t.Fatalf("pause from stopped must fail")
	}
	if s.Resume(m.ID) {
		t.Fatalf("resume from stopped must fail")
	}
	if !s.Start(m.ID) {
		t.Fatalf("first start must succeed")
	}
	if s.Start(m.ID) {
		t.Fatalf("second start before stop must fail")
	}
	if s.Resume(m.ID) {
		t.Fatalf("resume while running must fail")
	}
	if !s.Pause(m.ID) {
		t.Fatalf("pause while running must succeed")
	}
	if s.Pause(m.ID) {
		t.Fatalf("pause while paused must fail")
	}
	if s.Start(m.ID) {
		t.Fatalf("start while paused must fail")
	}
	if !s.Resume(m.ID) {
		t.Fatalf("resume while paused must succeed")
	}
	if !s.Pause(m.ID) || !s.Stop(m.ID) {
		t.Fatalf("stop from paused must succeed")
	}
	got, _ := s.Get(m.ID)
	if got.State != StateStopped || got.Started() || got.Paused() {
		t.Fatalf("expected stopped with paused=false, got %+v", got)
	}
	if !s.Stop(m.ID) {
		t.Fatalf("stop must be idempotent")
	}
	if !s.Start(m.ID) {
		t.Fatalf("stopped mission must be start-able again")
	}
	if s.Stop("missing") {
		t.Fatalf("stop of unknown mission must fail")
	}
}

func TestElapsedFreezesWhilePaused(t *testing.T) {
	s, _, _ := newTestStore()
	m := s.Create("Timed", nil)
	idle := s.Create("Idle", nil)
	s.Start(m.ID)
	for i := 0; i < 3; i++ {
		s.Tick()
	}
	s.Pause(m.ID)
	for i := 0; i < 5; i++ {
		s.Tick()
	}
	s.Resume(m.ID)
	for i := 0; i < 2; i++ {
		s.Tick()
	}
	got, _ := s.Get(m.ID)
	if got.ElapsedSeconds != 5 {
		t.Fatalf("elapsed = %d, want 5", got.ElapsedSeconds)
	}
	other, _ := s.Get(idle.ID)
	if other.ElapsedSeconds != 0 {
		t.Fatalf("stopped mission advanced to %d", other.ElapsedSeconds)
	}
}

func TestTickPersistsOncePerPass(t *testing.T) {
	s, n, p := newTestStore()
	a := s.Create("A", nil)
	b := s.Create("B", nil)
	s.Start(a.ID)
	s.Start(b.ID)
	notifyBefore, savesBefore := n.count(), p.count()

	changed := s.Tick()
	if len(changed) != 2 {
		t.Fatalf("expected 2 changed missions, got %d", len(changed))
	}
	if n.count()-notifyBefore != 2 {
		t.Fatalf("expected one notification per changed mission")
	}
	if p.count()-savesBefore != 1 {
		t.Fatalf("expected one snapshot per tick, got %d", p.count()-savesBefore)
	}

	s.Stop(a.ID)
	s.Stop(b.ID)
	savesBefore = p.count()
	if changed := s.Tick(); changed != nil {
		t.Fatalf("expected idle tick to change nothing")
	}
	if p.count() != savesBefore {
		t.Fatalf("idle tick must not persist")
	}
}

func TestSetTaskCompletionOnlyPublishesOnChange(t *testing.T) {
	s, n, p := newTestStore()
	m := s.Create("Checklist", nil)
	task, _ := s.AddTask(m.ID, "valve", "", nil)
	notifyBefore, savesBefore := n.count(), p.count()

	if !s.SetTaskCompletion(m.ID, task.ID, false) {
		t.Fatalf("unchanged value must still report success")
	}
	if n.count() != notifyBefore || p.count() != savesBefore {
		t.Fatalf("unchanged value must not notify or persist")
	}
	if !s.SetTaskCompletion(m.ID, task.ID, true) {
		t.Fatalf("SetTaskCompletion(true) failed")
	}
	if n.count() != notifyBefore+1 || p.count() != savesBefore+1 {
		t.Fatalf("changed value must notify and persist once")
	}
	if !s.SetTaskCompletion(m.ID, task.ID, false) {
		t.Fatalf("SetTaskCompletion(false) failed")
	}
	got, _ := s.Get(m.ID)
	if got.Tasks[0].Completed {
		t.Fatalf("expected completion to be cleared")
	}
	if s.SetTaskCompletion(m.ID, "nope", true) || s.CompleteTask(m.ID, "nope") {
		t.Fatalf("unknown task must fail")
	}
}

// reentrantNotifier reads the store from inside the callback; a held lock
// would deadlock here.
type reentrantNotifier struct {
	store *Store
	seen  int
}

func (r *reentrantNotifier) MissionChanged(m Mission) {
	r.seen = len(r.store.Missions())
}

func (r *reentrantNotifier) MissionsChanged([]Mission) {}

func TestNotifierMayReadStore(t *testing.T) {
	r := &reentrantNotifier{}
	s := NewStore(r, nil)
	r.store = s

	done := make(chan struct{})
	go func() {
		s.Create("A", nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notifier re-entry deadlocked")
	}
	if r.seen != 1 {
		t.Fatalf("expected callback to observe 1 mission, got %d", r.seen)
	}
}

func TestMissionsKeepCreationOrderAndCopies(t *testing.T) {
	s, _, _ := newTestStore()
	s.Create("first", nil)
	s.Create("second", nil)
	s.Create("third", nil)
	list := s.Missions()
	names := []string{list[0].Name, list[1].Name, list[2].Name}
	if !reflect.DeepEqual(names, []string{"first", "second", "third"}) {
		t.Fatalf("unexpected order %v", names)
	}
	list[0].Name = "mutated"
	again, _ := s.Get(list[0].ID)
	if again.Name != "first" {
		t.Fatalf("Missions() must return copies")
	}
}

func TestRestoreSkipsDuplicates(t *testing.T) {
	s, n, p := newTestStore()
	count := s.Restore([]Mission{
		{ID: "a", Name: "A", State: StateRunning, ElapsedSeconds: 7},
		{ID: "a", Name: "dup"},
		{ID: "b", Name: "B", State: "bogus"},
	})
	if count != 2 {
		t.Fatalf("Restore() = %d, want 2", count)
	}
	b, _ := s.Get("b")
	if b.State != StateStopped {
		t.Fatalf("invalid state should restore as stopped, got %q", b.State)
	}
	if n.count() != 0 || p.count() != 0 {
		t.Fatalf("restore must not notify or persist")
	}
	s.Tick()
	a, _ := s.Get("a")
	if a.ElapsedSeconds != 8 {
		t.Fatalf("restored running mission should keep ticking, got %d", a.ElapsedSeconds)
	}
}

func TestPublishAllSendsSnapshot(t *testing.T) {
	s, n, _ := newTestStore()
	s.Create("A", nil)
	s.Create("B", nil)
	s.PublishAll()
	if len(n.snapshot) != 1 || len(n.snapshot[0]) != 2 {
		t.Fatalf("expected one full snapshot of 2 missions, got %+v", n.snapshot)
	}
}

func TestTickerStartStop(t *testing.T) {
	s, _, _ := newTestStore()
	tk := NewTicker(s)
	tk.interval = 5 * time.Millisecond
	m := s.Create("fast", nil)
	s.Start(m.ID)
	tk.Start()
	deadline := time.Now().Add(2 * time.Second)
	for tk.Ticks() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	tk.Stop()
	tk.Stop()
	got, _ := s.Get(m.ID)
	if got.ElapsedSeconds < 3 {
		t.Fatalf("expected at least 3 ticks of elapsed, got %d", got.ElapsedSeconds)
	}
	frozen := got.ElapsedSeconds
	time.Sleep(20 * time.Millisecond)
	after, _ := s.Get(m.ID)
	if after.ElapsedSeconds != frozen {
		t.Fatalf("ticker kept running after Stop")
	}
}

func TestTickerStopWithoutStart(t *testing.T) {
	tk := NewTicker(NewStore(nil, nil))
	done := make(chan struct{})
	go func() {
		tk.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a ticker that never started")
	}
}

func TestCreateDescribedIsOneMutation(t *testing.T) {
	s, n, p := newTestStore()
	m := s.CreateDescribed("Repair Panel", "swap the coupler", IntPtr(600))
	if m.Description != "swap the coupler" || *m.MaxDurationSeconds != 600 {
		t.Fatalf("unexpected mission %+v", m)
	}
	if n.count() != 1 || p.count() != 1 {
		t.Fatalf("expected one notification and one save, got %d and %d", n.count(), p.count())
	}
	if got, _ := s.Get(m.ID); got.Description != "swap the coupler" {
		t.Fatalf("description not stored: %+v", got)
	}
}

// readingNotifier reads back from the store inside every callback, the way
// the backend encodes the mission table while other goroutines mutate it.
type readingNotifier struct {
	store   *Store
	mu      sync.Mutex
	changed int
	missing int
}

func (r *readingNotifier) MissionChanged(m Mission) {
	_, ok := r.store.Get(m.ID)
	all := r.store.Missions()
	r.mu.Lock()
	r.changed++
	if !ok || len(all) != 1 {
		r.missing++
	}
	r.mu.Unlock()
}

func (r *readingNotifier) MissionsChanged([]Mission) {}

func TestConcurrentCommandTickerAndConsole(t *testing.T) {
	r := &readingNotifier{}
	p := &recordingPersister{}
	s := NewStore(r, p)
	r.store = s

	m := s.Create("EVA", nil)
	t1, _ := s.AddTask(m.ID, "walk", "", IntPtr(30))
	t2, _ := s.AddTask(m.ID, "photo", "", nil)
	r.mu.Lock()
	r.changed = 0
	r.mu.Unlock()
	baseSaves := p.count()

	const workers, rounds = 8, 200
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		mutations   int
		elapsedHits int
		taskCalls   int
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				var ok, ticked, task bool
				switch (w + i) % 5 {
				case 0:
					ok = s.Start(m.ID)
				case 1:
					ok = s.Pause(m.ID)
				case 2:
					ok = s.Resume(m.ID)
				case 3:
					ticked = len(s.Tick()) == 1
				case 4:
					id := t1.ID
					if i%2 == 0 {
						id = t2.ID
					}
					task = s.SetTaskCompletion(m.ID, id, w%2 == 0)
				}
				mu.Lock()
				if ok {
					mutations++
				}
				if ticked {
					elapsedHits++
				}
				if task {
					taskCalls++
				}
				mu.Unlock()
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("concurrent mutations deadlocked")
	}

	got, _ := s.Get(m.ID)
	if got.ElapsedSeconds != int64(elapsedHits) {
		t.Fatalf("elapsed %d does not match %d ticks that advanced the mission", got.ElapsedSeconds, elapsedHits)
	}
	if !got.State.Valid() {
		t.Fatalf("invalid final state %q", got.State)
	}
	r.mu.Lock()
	changed, missing := r.changed, r.missing
	r.mu.Unlock()
	if missing != 0 {
		t.Fatalf("%d callbacks could not read the store", missing)
	}
	// SetTaskCompletion only notifies when the flag flips.
	low, high := mutations+elapsedHits, mutations+elapsedHits+taskCalls
	if changed < low || changed > high {
		t.Fatalf("expected %d..%d notifications, got %d", low, high, changed)
	}
	if saves := p.count() - baseSaves; saves != changed {
		t.Fatalf("every notification should persist once: %d saves, %d notifications", saves, changed)
	}
}
