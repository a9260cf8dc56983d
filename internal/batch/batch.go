// Package batch implements the adaptive event debouncer (spec §4.5
// "Batcher"): it coalesces the watcher's raw event stream into sorted,
// deduplicated batches the daemon core re-scans and applies to the
// cache in one step.
//
// The single-reset-timer technique — one timer armed on the first event
// and re-armed on every subsequent event instead of a goroutine or timer
// per event — is grounded on ppiankov-chainwatch/internal/daemon's
// watcher.go debounce loop.
package batch

import (
	"sort"
	"time"

	"github.com/ppiankov/discoveryd/internal/watcher"
)

const (
	baseDebounce        = 50 * time.Millisecond
	adaptiveDebounce     = 300 * time.Millisecond
	adaptiveDebounceBusy = 1000 * time.Millisecond
	busyThreshold        = 100
	idlePoll             = 10 * time.Millisecond
)

// Batch is a deduplicated, sorted set of paths emerging from one
// debounce window, split by the last kind observed for each path
// (spec glossary "Batch").
type Batch struct {
	Mutated []string
	Removed []string
}

// Empty reports whether the batch carries no paths at all.
func (b Batch) Empty() bool {
	return len(b.Mutated) == 0 && len(b.Removed) == 0
}

// Collector accumulates watcher.Events into Batches under the adaptive
// debounce policy (spec §4.5).
type Collector struct {
	events <-chan watcher.Event
}

// NewCollector wraps a watcher event channel.
func NewCollector(events <-chan watcher.Event) *Collector {
	return &Collector{events: events}
}

// Next blocks for the first incoming event, then collects further
// events until the collection window closes, and returns the resulting
// batch. It returns ok=false once the underlying channel is closed
// (spec §4.4 "infinite stream", terminated on watcher disconnect).
func (c *Collector) Next() (Batch, bool) {
	first, ok := <-c.events
	if !ok {
		return Batch{}, false
	}

	time.Sleep(baseDebounce)

	kinds := map[string]watcher.Kind{first.Path: first.Kind}
	windowEnd := time.NewTimer(adaptiveDebounce)
	defer windowEnd.Stop()

collect:
	for {
		idle := time.NewTimer(idlePoll)
		select {
		case ev, ok := <-c.events:
			idle.Stop()
			if !ok {
				break collect
			}
			kinds[ev.Path] = ev.Kind
			if len(kinds) > busyThreshold {
				if !windowEnd.Stop() {
					<-windowEnd.C
				}
				windowEnd.Reset(adaptiveDebounceBusy)
			} else {
				if !windowEnd.Stop() {
					<-windowEnd.C
				}
				windowEnd.Reset(adaptiveDebounce)
			}
		case <-idle.C:
			// no event arrived within the idle-poll slice; keep
			// waiting until the overall window timer fires.
		case <-windowEnd.C:
			break collect
		}
	}

	return toBatch(kinds), true
}

func toBatch(kinds map[string]watcher.Kind) Batch {
	var b Batch
	for path, kind := range kinds {
		switch kind {
		case watcher.Removed:
			b.Removed = append(b.Removed, path)
		default:
			b.Mutated = append(b.Mutated, path)
		}
	}
	sort.Strings(b.Mutated)
	sort.Strings(b.Removed)
	return b
}
