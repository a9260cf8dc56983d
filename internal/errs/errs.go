// Package errs defines the daemon's error taxonomy (spec §7). Each kind
// maps to a propagation rule: boot-time kinds are fatal, per-file and
// per-connection kinds are recovered locally and only logged.
package errs

import "fmt"

// Kind classifies an error for the purpose of deciding whether it is fatal
// at boot, recoverable per-file, or surfaced on the IPC wire.
type Kind string

const (
	KindIO              Kind = "io"
	KindConfig          Kind = "config"
	KindParse           Kind = "parse"
	KindFileSizeLimit   Kind = "file_size_limit"
	KindLockAcquisition Kind = "lock_acquisition"
	KindAlreadyRunning  Kind = "already_running"
	KindInvalidRequest  Kind = "invalid_request"
	KindWatcherDisconnect Kind = "watcher_disconnect"
	KindPanic           Kind = "panic"
)

// Error is a kinded, wrapped error carrying enough context to log or
// surface on the wire without string-matching the message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a kinded error with a message and no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a kinded error wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Fatal reports whether errors of this kind should terminate the daemon
// at boot (spec §7 propagation rule).
func (k Kind) Fatal() bool {
	switch k {
	case KindConfig, KindLockAcquisition, KindAlreadyRunning, KindPanic:
		return true
	default:
		return false
	}
}
