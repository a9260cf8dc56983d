package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ppiankov/discoveryd/internal/metadata"
)

func TestLoadMissingYieldsEmpty(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected a warning-worthy error for a missing manifest")
	}
	if len(m.Files) != 0 {
		t.Errorf("expected empty manifest, got %d entries", len(m.Files))
	}
}

func TestLoadMalformedYieldsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("{{{not yaml"), 0o600); err != nil {
		t.Fatal(err)
	}
	m, err := Load(path)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if len(m.Files) != 0 {
		t.Errorf("expected empty manifest on malformed input, got %d entries", len(m.Files))
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.yaml")
	m := New()
	m.Update("/src/A.php", FileStat{MTime: 100, Size: 10}, []metadata.Class{{FQCN: `\A`, File: "/src/A.php"}})

	if err := m.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	entry, ok := loaded.Files["/src/A.php"]
	if !ok {
		t.Fatal("expected entry for /src/A.php")
	}
	if entry.MTime != 100 || entry.Size != 10 {
		t.Errorf("entry = %+v, want mtime=100 size=10", entry)
	}
}

func TestDiffTieIsUnchanged(t *testing.T) {
	m := New()
	m.Update("/src/A.php", FileStat{MTime: 100, Size: 10}, nil)

	changed, removed := m.Diff(map[string]FileStat{
		"/src/A.php": {MTime: 100, Size: 10},
	})
	if len(changed) != 0 || len(removed) != 0 {
		t.Errorf("equal mtime+size should be unchanged, got changed=%v removed=%v", changed, removed)
	}
}

func TestDiffDetectsChangedRemovedAndNew(t *testing.T) {
	m := New()
	m.Update("/src/A.php", FileStat{MTime: 100, Size: 10}, nil)
	m.Update("/src/B.php", FileStat{MTime: 100, Size: 10}, nil)

	changed, removed := m.Diff(map[string]FileStat{
		"/src/A.php": {MTime: 200, Size: 10}, // mtime advanced
		"/src/C.php": {MTime: 50, Size: 5},   // new
		// B.php absent -> removed
	})

	if len(removed) != 1 || removed[0] != "/src/B.php" {
		t.Errorf("removed = %v, want [/src/B.php]", removed)
	}
	gotChanged := map[string]bool{}
	for _, c := range changed {
		gotChanged[c] = true
	}
	if !gotChanged["/src/A.php"] || !gotChanged["/src/C.php"] {
		t.Errorf("changed = %v, want A.php and C.php", changed)
	}
}

func TestDiffSizeRefinementCatchesSameMtimeDifferentSize(t *testing.T) {
	m := New()
	m.Update("/src/A.php", FileStat{MTime: 100, Size: 10}, nil)

	changed, _ := m.Diff(map[string]FileStat{
		"/src/A.php": {MTime: 100, Size: 99},
	})
	if len(changed) != 1 {
		t.Errorf("same mtime but different size should count as changed, got %v", changed)
	}
}
