package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ppiankov/discoveryd/internal/metadata"
)

func TestWatcherReportsMutatedOnWrite(t *testing.T) {
	root := t.TempDir()

	w, err := New([]string{root}, ".php", zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	path := filepath.Join(root, "A.php")
	if err := os.WriteFile(path, []byte("<?php\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-w.Events:
		if ev.Kind != Mutated {
			t.Errorf("Kind = %v, want Mutated", ev.Kind)
		}
		if want := metadata.CanonicalFile(path); ev.Path != want {
			t.Errorf("Path = %q, want %q", ev.Path, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestWatcherFiltersNonSourceExtensions(t *testing.T) {
	root := t.TempDir()

	w, err := New([]string{root}, ".php", zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-w.Events:
		t.Fatalf("expected no event for non-source file, got %+v", ev)
	case <-time.After(300 * time.Millisecond):
	}
}
