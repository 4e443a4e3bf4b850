package status

import (
	"sync"
	"time"

	"github.com/xkilldash9x/cadence-cli/internal/scheduler"
	"github.com/xkilldash9x/cadence-cli/internal/store"
)

// Tracker keeps in-process counters about finished sessions. Observe is meant to be
// registered with scheduler.OnReport.
type Tracker struct {
	mu       sync.RWMutex
	started  time.Time
	sessions int
	failed   int
	applied  int
	latest   *store.SessionRecord
	now      func() time.Time
}

// NewTracker starts the uptime clock.
func NewTracker() *Tracker {
	return &Tracker{started: time.Now(), now: time.Now}
}

// Observe folds a session report into the counters.
func (t *Tracker) Observe(rep scheduler.Report) {
	rec := rep.Record()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions++
	if rec.Error != "" {
		t.failed++
	}
	t.applied += rep.Loop.Applied
	t.latest = &rec
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Status   string  `json:"status"`
	Uptime   string  `json:"uptime"`
	Sessions int     `json:"sessions"`
	Failed   int     `json:"failed"`
	Applied  int     `json:"applied"`
	LastTag  string  `json:"last_tag,omitempty"`
	LastEnd  *string `json:"last_finished_at,omitempty"`
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := Snapshot{
		Status:   "ok",
		Uptime:   t.now().Sub(t.started).Round(time.Second).String(),
		Sessions: t.sessions,
		Failed:   t.failed,
		Applied:  t.applied,
	}
	if t.latest != nil {
		s.LastTag = t.latest.Tag
		end := t.latest.FinishedAt.UTC().Format(time.RFC3339)
		s.LastEnd = &end
	}
	return s
}

// Latest returns the most recent session, if any.
func (t *Tracker) Latest() (store.SessionRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.latest == nil {
		return store.SessionRecord{}, false
	}
	return *t.latest, true
}
