// Package logging builds the daemon's structured logging sink.
//
// The core treats a logger as a collaborator (spec §1, §9: "one global
// single-initialisation slot for a logger sink is acceptable"); this
// package is that slot, built once at boot from the config file's log
// settings and handed down as a zerolog.Logger rather than mutated
// through a package global after construction, matching the component-scoped logger pattern in
// Cloudzero-cloudzero-agent (log.Logger.With().Str("component", ...).Logger()).
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// EnvFilter is the environment variable honoured when Level is unset
// (spec §6: "Honours a standard log-filter environment variable if
// present; otherwise defaults to info").
const EnvFilter = "DISCOVERYD_LOG"

// Options configures the logger sink.
type Options struct {
	Level   string // trace|debug|info|warn|error, default "info"
	Format  string // text|json, default "text"
	File    string // optional path; empty means stderr
	Verbose bool   // forces debug level regardless of Level
}

// New builds the root logger for the daemon.
func New(opts Options) (zerolog.Logger, error) {
	level := opts.Level
	if level == "" {
		if env := os.Getenv(EnvFilter); env != "" {
			level = env
		} else {
			level = "info"
		}
	}
	if opts.Verbose {
		level = "debug"
	}

	zlevel, err := zerolog.ParseLevel(level)
	if err != nil {
		zlevel = zerolog.InfoLevel
	}

	var out io.Writer = os.Stderr
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Logger{}, err
		}
		out = f
	}

	if strings.EqualFold(opts.Format, "text") || opts.Format == "" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	logger := zerolog.New(out).Level(zlevel).With().Timestamp().Logger()
	return logger, nil
}

// Component returns a child logger tagged with the owning component, the
// convention internal/daemon uses when handing a scoped logger down to
// the cache, scanner, watcher and ipc collaborators it constructs.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
