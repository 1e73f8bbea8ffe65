// Package presence tracks live learner sessions.
//
// The Tracker keeps an in-memory map of sessions, updated by the pipeline
// for every accepted event. A session ends on logout or when a background
// reaper finds it idle for longer than the configured threshold. Ended
// sessions stay in the roster for a while and are then evicted.
package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/learnertrace/internal/metrics"
	"github.com/alfredjeanlab/learnertrace/internal/model"
)

// Entry is a snapshot of one session.
type Entry struct {
	SessionID     string          `json:"sessionId"`
	ParticipantID string          `json:"participantId"`
	FirstSeen     time.Time       `json:"firstSeen"`
	LastSeen      time.Time       `json:"lastSeen"`
	LastEvent     model.EventType `json:"lastEvent"`
	ModuleID      string          `json:"moduleId,omitempty"`
	Group         string          `json:"group,omitempty"`
	EventCount    int64           `json:"eventCount"`
	IdleSecs      float64         `json:"idleSecs"`
	DurationSecs  float64         `json:"durationSecs"`
	Ended         bool            `json:"ended,omitempty"`
	EndedAt       time.Time       `json:"endedAt,omitempty"`
}

// ReaperConfig configures the background idle-session reaper.
type ReaperConfig struct {
	// IdleThreshold is how long a session may go without events before it
	// is ended. Default: 30 minutes.
	IdleThreshold time.Duration

	// EvictAfter is how long an ended session stays in the roster.
	// Default: 1 hour.
	EvictAfter time.Duration

	// SweepInterval is how often the reaper scans. Default: 1 minute.
	SweepInterval time.Duration

	// OnEnded is called for each session the reaper ends, outside the lock.
	OnEnded func(Entry)
}

func (c *ReaperConfig) withDefaults() ReaperConfig {
	out := ReaperConfig{}
	if c != nil {
		out = *c
	}
	if out.IdleThreshold <= 0 {
		out.IdleThreshold = 30 * time.Minute
	}
	if out.EvictAfter <= 0 {
		out.EvictAfter = time.Hour
	}
	if out.SweepInterval <= 0 {
		out.SweepInterval = time.Minute
	}
	return out
}

// Tracker maintains the live session roster.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
	now      func() time.Time
	logger   *slog.Logger

	reaperStop chan struct{}
	reaperDone chan struct{}
}

type sessionState struct {
	participantID string
	firstSeen     time.Time
	lastSeen      time.Time
	lastEvent     model.EventType
	moduleID      string
	group         string
	eventCount    int64
	ended         bool
	endedAt       time.Time
}

// New creates an empty tracker.
func New(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		sessions: make(map[string]*sessionState),
		now:      time.Now,
		logger:   logger,
	}
}

// Record updates the session of e. A logout ends the session; any later
// event reopens it.
func (t *Tracker) Record(e *model.Event) {
	if e == nil || e.SessionID == "" {
		return
	}

	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.sessions[e.SessionID]
	if !ok {
		st = &sessionState{firstSeen: now}
		t.sessions[e.SessionID] = st
	}
	if st.ended && e.EventType != model.EventLogout {
		t.logger.Debug("session resumed", "session", e.SessionID, "participant", e.ParticipantID)
		st.ended = false
		st.endedAt = time.Time{}
	}

	st.participantID = e.ParticipantID
	st.lastSeen = now
	st.lastEvent = e.EventType
	st.eventCount++
	if e.Data.ModuleID != "" {
		st.moduleID = e.Data.ModuleID
	}
	if e.Experiment.Group != "" {
		st.group = e.Experiment.Group
	}
	if e.EventType == model.EventLogout && !st.ended {
		st.ended = true
		st.endedAt = now
	}
	t.updateGaugeLocked()
}

// Roster returns all tracked sessions, most recently active first. Ended
// sessions are included only when includeEnded is set.
func (t *Tracker) Roster(includeEnded bool) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	entries := make([]Entry, 0, len(t.sessions))
	for id, st := range t.sessions {
		if st.ended && !includeEnded {
			continue
		}
		entries = append(entries, st.entry(id, now))
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].LastSeen.Equal(entries[j].LastSeen) {
			return entries[i].LastSeen.After(entries[j].LastSeen)
		}
		return entries[i].SessionID < entries[j].SessionID
	})
	return entries
}

// Active returns the number of sessions that have not ended.
func (t *Tracker) Active() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.activeLocked()
}

func (t *Tracker) activeLocked() int {
	n := 0
	for _, st := range t.sessions {
		if !st.ended {
			n++
		}
	}
	return n
}

func (t *Tracker) updateGaugeLocked() {
	metrics.ActiveSessions.Set(float64(t.activeLocked()))
}

func (st *sessionState) entry(id string, now time.Time) Entry {
	return Entry{
		SessionID:     id,
		ParticipantID: st.participantID,
		FirstSeen:     st.firstSeen,
		LastSeen:      st.lastSeen,
		LastEvent:     st.lastEvent,
		ModuleID:      st.moduleID,
		Group:         st.group,
		EventCount:    st.eventCount,
		IdleSecs:      now.Sub(st.lastSeen).Seconds(),
		DurationSecs:  st.lastSeen.Sub(st.firstSeen).Seconds(),
		Ended:         st.ended,
		EndedAt:       st.endedAt,
	}
}

// StartReaper launches a goroutine that ends idle sessions and evicts old
// ones. Call Stop to shut it down.
func (t *Tracker) StartReaper(cfg *ReaperConfig) {
	c := cfg.withDefaults()

	t.reaperStop = make(chan struct{})
	t.reaperDone = make(chan struct{})

	go t.reapLoop(c)
	t.logger.Info("session reaper started", "idle_threshold", c.IdleThreshold, "sweep_interval", c.SweepInterval)
}

// Stop shuts down the reaper goroutine.
func (t *Tracker) Stop() {
	if t.reaperStop != nil {
		close(t.reaperStop)
		<-t.reaperDone
		t.reaperStop = nil
		t.reaperDone = nil
	}
}

func (t *Tracker) reapLoop(cfg ReaperConfig) {
	defer close(t.reaperDone)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.reaperStop:
			return
		case <-ticker.C:
			t.sweep(cfg)
		}
	}
}

func (t *Tracker) sweep(cfg ReaperConfig) {
	now := t.now()
	var ended []Entry

	t.mu.Lock()
	for id, st := range t.sessions {
		if st.ended {
			if now.Sub(st.endedAt) > cfg.EvictAfter {
				delete(t.sessions, id)
			}
			continue
		}
		if now.Sub(st.lastSeen) > cfg.IdleThreshold {
			st.ended = true
			st.endedAt = now
			ended = append(ended, st.entry(id, now))
		}
	}
	t.updateGaugeLocked()
	t.mu.Unlock()

	for _, e := range ended {
		t.logger.Info("session ended by inactivity", "session", e.SessionID, "participant", e.ParticipantID, "events", e.EventCount)
		if cfg.OnEnded != nil {
			cfg.OnEnded(e)
		}
	}
}
