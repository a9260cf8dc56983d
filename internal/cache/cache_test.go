package cache

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/ppiankov/discoveryd/internal/metadata"
)

func TestApplyBatchInsertsAndReplaces(t *testing.T) {
	c := New(10, zerolog.Nop())

	c.ApplyBatch(nil, []metadata.Class{{FQCN: `App\A`, File: "/src/A.php"}})
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}

	// Rescanning the same file with a renamed class should drop the old
	// entry, not leave it stale alongside the new one.
	c.ApplyBatch(nil, []metadata.Class{{FQCN: `App\ARenamed`, File: "/src/A.php"}})
	if c.Len() != 1 {
		t.Fatalf("Len after rescan = %d, want 1", c.Len())
	}
	if _, ok := c.Get(`App\A`); ok {
		t.Error("stale entry App\\A should have been removed")
	}
	if _, ok := c.Get(`App\ARenamed`); !ok {
		t.Error("expected App\\ARenamed to be present")
	}
}

func TestApplyBatchRemovesFile(t *testing.T) {
	c := New(10, zerolog.Nop())
	c.ApplyBatch(nil, []metadata.Class{
		{FQCN: `App\A`, File: "/src/A.php"},
		{FQCN: `App\B`, File: "/src/B.php"},
	})

	c.ApplyBatch([]string{"/src/A.php"}, nil)

	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
	if _, ok := c.Get(`App\A`); ok {
		t.Error("App\\A should have been removed")
	}
	if _, ok := c.Get(`App\B`); !ok {
		t.Error("App\\B should remain")
	}
}

func TestApplyBatchNeverExceedsMaxCacheEntries(t *testing.T) {
	c := New(2, zerolog.Nop())
	c.ApplyBatch(nil, []metadata.Class{
		{FQCN: `App\A`, File: "/src/A.php"},
		{FQCN: `App\B`, File: "/src/B.php"},
		{FQCN: `App\C`, File: "/src/C.php"},
	})

	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (bound by max_cache_entries)", c.Len())
	}
}

func TestSnapshotSortedByFQCN(t *testing.T) {
	c := New(10, zerolog.Nop())
	c.ApplyBatch(nil, []metadata.Class{
		{FQCN: `App\Zeta`, File: "/src/Z.php"},
		{FQCN: `App\Alpha`, File: "/src/A.php"},
	})

	snap := c.Snapshot()
	if len(snap) != 2 || snap[0].FQCN != `App\Alpha` || snap[1].FQCN != `App\Zeta` {
		t.Errorf("Snapshot() = %v, want sorted [Alpha, Zeta]", snap)
	}
}
