package writer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/discoveryd/internal/metadata"
)

func sampleClasses() []metadata.Class {
	return []metadata.Class{
		{
			FQCN:       `App\Alpha`,
			File:       "/src/Alpha.php",
			Kind:       "class",
			Implements: []string{"Countable"},
			Methods: []metadata.Method{
				{Name: "count", Visibility: "public", ReturnType: "int"},
			},
		},
	}
}

func TestWriteCachePHP(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "nested", "cache.php")

	if err := WriteCache(sampleClasses(), out, PHP, false); err != nil {
		t.Fatalf("WriteCache: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	text := string(data)

	if !strings.HasPrefix(text, "<?php") {
		t.Error("expected output to start with <?php")
	}
	if !strings.Contains(text, `'App\\Alpha'`) {
		t.Errorf("expected escaped fqcn in output, got: %s", text)
	}
	if !strings.Contains(text, "'count'") {
		t.Error("expected method name in output")
	}
}

func TestWriteCacheJSON(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "cache.json")

	if err := WriteCache(sampleClasses(), out, JSON, true); err != nil {
		t.Fatalf("WriteCache: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	var decoded []metadata.Class
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(decoded) != 1 || decoded[0].FQCN != `App\Alpha` {
		t.Errorf("decoded = %+v, want one entry for App\\Alpha", decoded)
	}
}

func TestWriteCacheEmptyList(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "cache.php")

	if err := WriteCache(nil, out, PHP, false); err != nil {
		t.Fatalf("WriteCache: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "return [];") {
		t.Errorf("expected an empty array literal, got: %s", string(data))
	}
}
