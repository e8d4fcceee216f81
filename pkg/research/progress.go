package research

import (
	"log/slog"
	"sync"
)

// Progress is a snapshot of how far a research run has advanced. One
// tracker owns the canonical value per top-level run; branches never carry
// their own copy.
type Progress struct {
	CurrentDepth     int    `json:"currentDepth"`
	TotalDepth       int    `json:"totalDepth"`
	CurrentBreadth   int    `json:"currentBreadth"`
	TotalBreadth     int    `json:"totalBreadth"`
	CurrentQuery     string `json:"currentQuery,omitempty"`
	TotalQueries     int    `json:"totalQueries"`
	CompletedQueries int    `json:"completedQueries"`
}

// Tracker serializes progress updates from concurrent branches. All
// mutation goes through its methods, each of which merges one delta and
// notifies the observer with a copy, so observers never see a partially
// applied update. Observer failures are swallowed; progress reporting is
// fire-and-forget.
type Tracker struct {
	mu       sync.Mutex
	progress Progress
	onUpdate func(Progress)
}

func NewTracker(totalBreadth, totalDepth int, onUpdate func(Progress)) *Tracker {
	return &Tracker{
		progress: Progress{
			CurrentDepth:   totalDepth,
			TotalDepth:     totalDepth,
			CurrentBreadth: totalBreadth,
			TotalBreadth:   totalBreadth,
		},
		onUpdate: onUpdate,
	}
}

// QueriesPlanned records that a recursion level generated a batch of
// queries and is about to start on the first of them.
func (t *Tracker) QueriesPlanned(total int, current string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress.TotalQueries = total
	t.progress.CurrentQuery = current
	t.notify()
}

// Descend records that a branch finished its query and is recursing one
// level deeper with a narrower breadth.
func (t *Tracker) Descend(query string, newDepth, newBreadth int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress.CurrentDepth = newDepth
	t.progress.CurrentBreadth = newBreadth
	t.progress.CompletedQueries++
	t.progress.CurrentQuery = query
	t.notify()
}

// QueryDone records that a branch finished its query at the deepest level.
func (t *Tracker) QueryDone(query string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress.CurrentDepth = 0
	t.progress.CompletedQueries++
	t.progress.CurrentQuery = query
	t.notify()
}

// Snapshot returns a copy of the current progress.
func (t *Tracker) Snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// notify pushes a copy to the observer. Called with the lock held so
// snapshots arrive in merge order.
func (t *Tracker) notify() {
	if t.onUpdate == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("progress observer panicked", "panic", r)
		}
	}()
	t.onUpdate(t.progress)
}
