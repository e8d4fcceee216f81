package research

import (
	"sync"
	"testing"
)

func TestTrackerMergeAndNotify(t *testing.T) {
	var snapshots []Progress
	tracker := NewTracker(4, 2, func(p Progress) {
		snapshots = append(snapshots, p)
	})

	tracker.QueriesPlanned(3, "first query")
	tracker.Descend("first query", 1, 2)
	tracker.QueryDone("deep query")

	if len(snapshots) != 3 {
		t.Fatalf("observer saw %d snapshots, want 3", len(snapshots))
	}

	first := snapshots[0]
	if first.TotalQueries != 3 || first.CurrentQuery != "first query" {
		t.Errorf("after planning: %+v", first)
	}
	if first.TotalDepth != 2 || first.TotalBreadth != 4 {
		t.Errorf("totals not carried from construction: %+v", first)
	}

	second := snapshots[1]
	if second.CurrentDepth != 1 || second.CurrentBreadth != 2 || second.CompletedQueries != 1 {
		t.Errorf("after descend: %+v", second)
	}

	last := snapshots[2]
	if last.CurrentDepth != 0 || last.CompletedQueries != 2 || last.CurrentQuery != "deep query" {
		t.Errorf("after done: %+v", last)
	}
}

func TestTrackerNilObserver(t *testing.T) {
	tracker := NewTracker(2, 1, nil)
	tracker.QueriesPlanned(2, "q")
	tracker.QueryDone("q")

	if got := tracker.Snapshot().CompletedQueries; got != 1 {
		t.Errorf("completedQueries = %d, want 1", got)
	}
}

func TestTrackerObserverPanicIsContained(t *testing.T) {
	tracker := NewTracker(2, 1, func(Progress) {
		panic("observer bug")
	})

	// Must not propagate into the orchestrator.
	tracker.QueriesPlanned(2, "q")
	tracker.QueryDone("q")

	if got := tracker.Snapshot().CompletedQueries; got != 1 {
		t.Errorf("completedQueries = %d, want 1", got)
	}
}

func TestTrackerConcurrentUpdates(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	tracker := NewTracker(8, 1, func(p Progress) {
		mu.Lock()
		seen = append(seen, p.CompletedQueries)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.QueryDone("q")
		}()
	}
	wg.Wait()

	if got := tracker.Snapshot().CompletedQueries; got != 8 {
		t.Fatalf("completedQueries = %d, want 8", got)
	}
	// Snapshots are pushed in merge order, so the counter never repeats
	// or skips even though branches completed concurrently.
	for i, n := range seen {
		if n != i+1 {
			t.Fatalf("snapshot %d has completedQueries = %d, want %d", i, n, i+1)
		}
	}
}
