// Package config loads and validates the daemon's configuration file and
// produces the immutable DaemonConfig the rest of the daemon is built
// from (spec §3, §6). Loading follows the same
// read-then-yaml.Unmarshal-then-validate shape as
// internal/redact.LoadConfig in the teacher repo, substituting YAML for
// the original's JSON since spec §6 calls the config file "structured,
// human-editable" without mandating a format.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/discoveryd/internal/errs"
	"github.com/ppiankov/discoveryd/internal/metadata"
)

// LogLevels are the accepted values for File.LogLevel.
var LogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

// LogFormats are the accepted values for File.LogFormat.
var LogFormats = map[string]bool{"text": true, "json": true}

// File mirrors the on-disk configuration file (spec §6).
type File struct {
	Paths  []string `yaml:"paths"`
	Output string   `yaml:"output"`
	Ignore []string `yaml:"ignore"`

	Watch  bool   `yaml:"watch"`
	Socket string `yaml:"socket"`
	PID    string `yaml:"pid"`

	Incremental bool `yaml:"incremental"`

	Verbose   bool   `yaml:"verbose"`
	LogFile   string `yaml:"log_file"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Force       bool `yaml:"force"`
	WriteToDisk bool `yaml:"write_to_disk"`
	Pretty      bool `yaml:"pretty"`

	MaxFileSizeMB   int64 `yaml:"max_file_size_mb"`
	MaxRequestSize  int   `yaml:"max_request_size"`
	MaxCacheEntries int   `yaml:"max_cache_entries"`

	Format string `yaml:"format"` // output format selector: "php" | "json"
}

// Load reads a config file at path. An empty path tries ./discoveryd.yaml;
// a missing default file yields zero-value defaults (spec §6 treats the
// config file as optional).
func Load(path string) (*File, error) {
	if path == "" {
		if _, err := os.Stat("discoveryd.yaml"); err == nil {
			path = "discoveryd.yaml"
		} else {
			return &File{}, nil
		}
	} else if _, err := os.Stat(path); err != nil {
		return nil, errs.Wrap(errs.KindConfig, fmt.Sprintf("config file not found: %s", path), err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, "read config file", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errs.Wrap(errs.KindConfig, "parse config file", err)
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the out-of-range values spec §6 calls out.
func (f *File) Validate() error {
	if f.LogLevel != "" && !LogLevels[f.LogLevel] {
		return errs.New(errs.KindConfig, fmt.Sprintf("invalid log_level: %q", f.LogLevel))
	}
	if f.LogFormat != "" && !LogFormats[f.LogFormat] {
		return errs.New(errs.KindConfig, fmt.Sprintf("invalid log_format: %q", f.LogFormat))
	}
	if f.MaxFileSizeMB != 0 && (f.MaxFileSizeMB < 1 || f.MaxFileSizeMB > 1024) {
		return errs.New(errs.KindConfig, fmt.Sprintf("max_file_size_mb out of range [1,1024]: %d", f.MaxFileSizeMB))
	}
	if f.MaxRequestSize != 0 && (f.MaxRequestSize < 256 || f.MaxRequestSize > 1_048_576) {
		return errs.New(errs.KindConfig, fmt.Sprintf("max_request_size out of range [256,1048576]: %d", f.MaxRequestSize))
	}
	if f.MaxCacheEntries != 0 && (f.MaxCacheEntries < 1 || f.MaxCacheEntries > 1_000_000) {
		return errs.New(errs.KindConfig, fmt.Sprintf("max_cache_entries out of range [1,1000000]: %d", f.MaxCacheEntries))
	}
	if f.Watch && (f.Socket == "" || f.PID == "") {
		return errs.New(errs.KindConfig, "socket and pid are required when watch is true")
	}
	return nil
}

// Daemon is the validated, immutable configuration the daemon core is
// built from (spec §3 DaemonConfig).
type Daemon struct {
	Roots      []string
	OutputPath string
	SocketPath string
	PIDPath    string
	Ignore     []string

	Verbose     bool
	TTY         bool
	Force       bool
	WriteToDisk bool
	Pretty      bool

	MaxFileSize     int64
	MaxRequestSize  int
	MaxCacheEntries int

	Format string

	LogLevel  string
	LogFormat string
	LogFile   string
}

const (
	defaultMaxFileSizeMB   = 10
	defaultMaxRequestSize  = 1024
	defaultMaxCacheEntries = 50_000
)

// FromFile merges a loaded File with CLI overrides into a validated Daemon
// config, canonicalising root paths along the way.
func FromFile(f *File, roots []string, output string) (*Daemon, error) {
	if len(roots) == 0 {
		roots = f.Paths
	}
	if output == "" {
		output = f.Output
	}
	if len(roots) == 0 || output == "" {
		return nil, errs.New(errs.KindConfig, "at least one root path and an output path are required")
	}

	canon := make([]string, 0, len(roots))
	for _, r := range roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, errs.Wrap(errs.KindConfig, fmt.Sprintf("resolve root %q", r), err)
		}
		canon = append(canon, metadata.CanonicalFile(abs))
	}

	maxFileSizeMB := f.MaxFileSizeMB
	if maxFileSizeMB == 0 {
		maxFileSizeMB = defaultMaxFileSizeMB
	}
	maxRequestSize := f.MaxRequestSize
	if maxRequestSize == 0 {
		maxRequestSize = defaultMaxRequestSize
	}
	maxCacheEntries := f.MaxCacheEntries
	if maxCacheEntries == 0 {
		maxCacheEntries = defaultMaxCacheEntries
	}

	format := f.Format
	if format == "" {
		format = "php"
	}

	return &Daemon{
		Roots:           canon,
		OutputPath:      output,
		SocketPath:      f.Socket,
		PIDPath:         f.PID,
		Ignore:          f.Ignore,
		Verbose:         f.Verbose,
		Force:           f.Force,
		WriteToDisk:     f.WriteToDisk,
		Pretty:          f.Pretty,
		MaxFileSize:     maxFileSizeMB * 1024 * 1024,
		MaxRequestSize:  maxRequestSize,
		MaxCacheEntries: maxCacheEntries,
		Format:          format,
		LogLevel:        f.LogLevel,
		LogFormat:       f.LogFormat,
		LogFile:         f.LogFile,
	}, nil
}
