package batch

import (
	"testing"
	"time"

	"github.com/ppiankov/discoveryd/internal/watcher"
)

func TestCollectorDedupsAndSortsWithinWindow(t *testing.T) {
	events := make(chan watcher.Event, 8)
	c := NewCollector(events)

	events <- watcher.Event{Path: "/src/B.php", Kind: watcher.Mutated}
	events <- watcher.Event{Path: "/src/A.php", Kind: watcher.Mutated}
	events <- watcher.Event{Path: "/src/A.php", Kind: watcher.Removed} // later kind wins

	b, ok := c.Next()
	if !ok {
		t.Fatal("expected ok=true")
	}

	if len(b.Mutated) != 1 || b.Mutated[0] != "/src/B.php" {
		t.Errorf("Mutated = %v, want [/src/B.php]", b.Mutated)
	}
	if len(b.Removed) != 1 || b.Removed[0] != "/src/A.php" {
		t.Errorf("Removed = %v, want [/src/A.php]", b.Removed)
	}
}

func TestCollectorReturnsFalseOnClosedChannel(t *testing.T) {
	events := make(chan watcher.Event)
	close(events)

	c := NewCollector(events)
	_, ok := c.Next()
	if ok {
		t.Error("expected ok=false for a closed channel")
	}
}

func TestBatchEmpty(t *testing.T) {
	if !(Batch{}).Empty() {
		t.Error("zero-value Batch should be Empty")
	}
	if (Batch{Mutated: []string{"x"}}).Empty() {
		t.Error("batch with a mutated path should not be Empty")
	}
}

func TestCollectorWaitsOutDebounceWindow(t *testing.T) {
	events := make(chan watcher.Event, 1)
	c := NewCollector(events)

	start := time.Now()
	events <- watcher.Event{Path: "/src/A.php", Kind: watcher.Mutated}
	_, ok := c.Next()
	elapsed := time.Since(start)

	if !ok {
		t.Fatal("expected ok=true")
	}
	if elapsed < baseDebounce {
		t.Errorf("Next returned after %v, expected at least the base debounce", elapsed)
	}
}
