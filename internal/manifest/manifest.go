// Package manifest persists per-file scan state across daemon restarts
// so a reboot can skip unchanged files (spec §3, §4.2, C2).
package manifest

import (
	"bytes"
	"os"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/discoveryd/internal/metadata"
)

// FileName is the manifest's file name, written alongside the cache
// output (spec §4 SUPPLEMENTED FEATURES: one manifest per output dir).
const FileName = "discoveryd.manifest.yaml"

// Entry is the persisted summary for one scanned file (spec §3
// ManifestEntry).
type Entry struct {
	MTime   int64            `yaml:"mtime"`
	Size    int64            `yaml:"size"`
	Classes []metadata.Class `yaml:"classes"`
}

// Manifest maps absolute file path to its last-known scan state.
type Manifest struct {
	Files map[string]Entry `yaml:"files"`
}

// New returns an empty manifest.
func New() *Manifest {
	return &Manifest{Files: map[string]Entry{}}
}

// Load reads a manifest from path. A missing or malformed file yields an
// empty manifest and a non-nil warning error the caller should log, never
// fail boot on (spec §4.2 Load).
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return New(), err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return New(), err
	}
	if m.Files == nil {
		m.Files = map[string]Entry{}
	}
	return &m, nil
}

// Save serializes the manifest via temp-then-rename for atomicity (spec
// §4.2 Save, P5). natefinch/atomic.WriteFile already implements the
// write-to-temp-then-rename sequence, so Save doesn't hand-roll it.
func (m *Manifest) Save(path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return atomic.WriteFile(path, bytes.NewReader(data))
}

// Diff computes the delta between the manifest and the current set of
// files on disk (spec §4.2 diff). currentFiles maps absolute path to
// the observed mtime (seconds since epoch) and size. A file counts as
// changed when its mtime is newer or its size differs; ties (equal mtime
// and equal size) are unchanged, the Open Question spec §9 resolves in
// favor of "unchanged" while permitting the size-aware refinement this
// function implements.
func (m *Manifest) Diff(currentFiles map[string]FileStat) (changed, removed []string) {
	present := make(map[string]bool, len(currentFiles))
	for path := range currentFiles {
		present[path] = true
	}

	for path := range m.Files {
		if !present[path] {
			removed = append(removed, path)
		}
	}

	for path, stat := range currentFiles {
		entry, ok := m.Files[path]
		if !ok {
			changed = append(changed, path)
			continue
		}
		if stat.MTime > entry.MTime || stat.Size != entry.Size {
			changed = append(changed, path)
		}
	}

	return changed, removed
}

// FileStat is the minimal file state Diff needs: current mtime and size.
type FileStat struct {
	MTime int64
	Size  int64
}

// Update records the scan result for one file: its classes and the
// mtime/size observed at scan time.
func (m *Manifest) Update(path string, stat FileStat, classes []metadata.Class) {
	m.Files[path] = Entry{MTime: stat.MTime, Size: stat.Size, Classes: classes}
}

// Remove deletes a file's entry from the manifest.
func (m *Manifest) Remove(path string) {
	delete(m.Files, path)
}

// AllClasses flattens every file's classes into one slice, used to seed
// the Cache from a loaded manifest without a rescan.
func (m *Manifest) AllClasses() []metadata.Class {
	var out []metadata.Class
	for _, entry := range m.Files {
		out = append(out, entry.Classes...)
	}
	return out
}

// StatOf stats path and returns a FileStat with second-resolution mtime,
// the granularity spec §3 ManifestEntry.mtime specifies.
func StatOf(path string) (FileStat, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileStat{}, err
	}
	return FileStat{MTime: info.ModTime().Unix(), Size: info.Size()}, nil
}
