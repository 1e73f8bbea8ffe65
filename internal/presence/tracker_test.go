package presence

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/learnertrace/internal/model"
)

// fakeClock is a settable clock shared with the tracker.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestTracker() (*Tracker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	tr := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	tr.now = clk.now
	return tr, clk
}

func ev(participant, session string, et model.EventType) *model.Event {
	return &model.Event{ParticipantID: participant, SessionID: session, EventType: et}
}

func TestRecord_BasicTracking(t *testing.T) {
	tr, _ := newTestTracker()

	e := ev("p1", "s1", model.EventModuleStart)
	e.Data.ModuleID = "budgeting-101"
	e.Experiment.Group = "treatment"
	tr.Record(e)

	roster := tr.Roster(false)
	if len(roster) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(roster))
	}
	got := roster[0]
	if got.SessionID != "s1" || got.ParticipantID != "p1" {
		t.Errorf("entry = %+v", got)
	}
	if got.LastEvent != model.EventModuleStart || got.ModuleID != "budgeting-101" || got.Group != "treatment" {
		t.Errorf("entry = %+v", got)
	}
	if got.EventCount != 1 {
		t.Errorf("expected event count 1, got %d", got.EventCount)
	}
}

func TestRecord_UpdatesExistingSession(t *testing.T) {
	tr, clk := newTestTracker()

	tr.Record(ev("p1", "s1", model.EventLogin))
	clk.advance(2 * time.Minute)
	m := ev("p1", "s1", model.EventModuleStart)
	m.Data.ModuleID = "m1"
	tr.Record(m)
	clk.advance(time.Minute)
	tr.Record(ev("p1", "s1", model.EventAssessmentAnswer))

	got := tr.Roster(false)[0]
	if got.EventCount != 3 {
		t.Errorf("expected 3 events, got %d", got.EventCount)
	}
	if got.ModuleID != "m1" {
		t.Errorf("module = %q, want it kept from earlier event", got.ModuleID)
	}
	if got.LastEvent != model.EventAssessmentAnswer {
		t.Errorf("last event = %s", got.LastEvent)
	}
	if got.DurationSecs != 180 {
		t.Errorf("duration = %v, want 180", got.DurationSecs)
	}
}

func TestRecord_IgnoresMissingSession(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Record(ev("p1", "", model.EventLogin))
	tr.Record(nil)
	if n := len(tr.Roster(true)); n != 0 {
		t.Errorf("expected empty roster, got %d", n)
	}
}

func TestRecord_LogoutEndsSession(t *testing.T) {
	tr, _ := newTestTracker()

	tr.Record(ev("p1", "s1", model.EventLogin))
	tr.Record(ev("p2", "s2", model.EventLogin))
	tr.Record(ev("p1", "s1", model.EventLogout))

	if tr.Active() != 1 {
		t.Errorf("Active = %d, want 1", tr.Active())
	}
	if r := tr.Roster(false); len(r) != 1 || r[0].SessionID != "s2" {
		t.Errorf("open roster = %+v", r)
	}
	all := tr.Roster(true)
	if len(all) != 2 {
		t.Fatalf("full roster = %d entries, want 2", len(all))
	}

	tr.Record(ev("p1", "s1", model.EventNavigation))
	if tr.Active() != 2 {
		t.Errorf("Active after resume = %d, want 2", tr.Active())
	}
}

func TestRoster_SortedByMostRecent(t *testing.T) {
	tr, clk := newTestTracker()

	for _, s := range []string{"s1", "s2", "s3"} {
		tr.Record(ev("p", s, model.EventLogin))
		clk.advance(time.Second)
	}

	roster := tr.Roster(false)
	want := []string{"s3", "s2", "s1"}
	for i, e := range roster {
		if e.SessionID != want[i] {
			t.Errorf("roster[%d] = %s, want %s", i, e.SessionID, want[i])
		}
	}
}

func TestSweep_EndsIdleSessions(t *testing.T) {
	tr, clk := newTestTracker()
	cfg := (&ReaperConfig{IdleThreshold: 10 * time.Minute}).withDefaults()

	var mu sync.Mutex
	var ended []string
	cfg.OnEnded = func(e Entry) {
		mu.Lock()
		ended = append(ended, e.SessionID)
		mu.Unlock()
	}

	tr.Record(ev("p1", "idle", model.EventLogin))
	clk.advance(9 * time.Minute)
	tr.Record(ev("p2", "busy", model.EventLogin))
	clk.advance(2 * time.Minute)

	tr.sweep(cfg)

	if len(ended) != 1 || ended[0] != "idle" {
		t.Errorf("ended = %v, want [idle]", ended)
	}
	if tr.Active() != 1 {
		t.Errorf("Active = %d, want 1", tr.Active())
	}

	tr.sweep(cfg)
	if len(ended) != 1 {
		t.Errorf("session ended twice: %v", ended)
	}
}

func TestSweep_EvictsEndedSessions(t *testing.T) {
	tr, clk := newTestTracker()
	cfg := (&ReaperConfig{EvictAfter: 5 * time.Minute}).withDefaults()

	tr.Record(ev("p1", "s1", model.EventLogin))
	tr.Record(ev("p1", "s1", model.EventLogout))

	clk.advance(4 * time.Minute)
	tr.sweep(cfg)
	if len(tr.Roster(true)) != 1 {
		t.Fatal("ended session evicted too early")
	}

	clk.advance(2 * time.Minute)
	tr.sweep(cfg)
	if len(tr.Roster(true)) != 0 {
		t.Error("ended session not evicted")
	}
}

func TestStartReaper_StopsCleanly(t *testing.T) {
	tr, _ := newTestTracker()
	tr.StartReaper(&ReaperConfig{SweepInterval: 10 * time.Millisecond})
	time.Sleep(30 * time.Millisecond)
	tr.Stop()
	tr.Stop()
}
