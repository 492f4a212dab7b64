// Package errs defines the typed error taxonomy shared across every
// ConcordKV component: a small set of kinds, not a large family of
// concrete error types, so that callers can branch on `errs.KindOf(err)`
// regardless of which layer produced the error.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the error categories a ConcordKV operation can fail with.
type Kind int

const (
	// Unknown is the zero value: not a ConcordKV error, or an
	// unclassified one.
	Unknown Kind = iota
	// InvalidParam means the caller violated the operation's contract
	// (nil/empty key where forbidden, out-of-range level, …).
	InvalidParam
	// InvalidState means the operation requires the engine to be open,
	// or its target is not in a state that accepts it.
	InvalidState
	// NotFound means the key is not present (or not present at this
	// layer — a MemTable or SSTable returns NotFound for "not here",
	// which the caller may still find in the next layer down).
	NotFound
	// Corruption means a checksum mismatch, a truncated footer, or a
	// manifest CRC failure.
	Corruption
	// IO means the underlying filesystem failed.
	IO
	// OutOfMemory means an allocation failed.
	OutOfMemory
	// BatchFull means a batch's entry-count limit was reached.
	BatchFull
	// BatchTooLarge means a batch's memory limit was reached.
	BatchTooLarge
	// Timeout means a scheduler wait exceeded its bound.
	Timeout
	// UnsupportedFormat means a footer or manifest version is
	// unrecognized.
	UnsupportedFormat
	// ReadOnly means a write was attempted against a frozen MemTable or
	// a closed engine.
	ReadOnly
)

// String returns the human-readable kind name.
func (k Kind) String() string {
	switch k {
	case InvalidParam:
		return "InvalidParam"
	case InvalidState:
		return "InvalidState"
	case NotFound:
		return "NotFound"
	case Corruption:
		return "Corruption"
	case IO:
		return "Io"
	case OutOfMemory:
		return "OutOfMemory"
	case BatchFull:
		return "BatchFull"
	case BatchTooLarge:
		return "BatchTooLarge"
	case Timeout:
		return "Timeout"
	case UnsupportedFormat:
		return "UnsupportedFormat"
	case ReadOnly:
		return "ReadOnly"
	default:
		return "Unknown"
	}
}

// Error is a ConcordKV error: a kind plus context (which operation, which
// key prefix, which file) and an optional wrapped cause. Lower layers
// construct these directly; the facade wraps them with context without
// ever discarding the original Kind.
type Error struct {
	Kind    Kind
	Op      string // operation name, e.g. "sstable.open", "wal.append"
	Path    string // file path, if relevant
	Key     []byte // key prefix, if relevant (truncated by the caller)
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Path != "" {
		msg += fmt.Sprintf(" (path=%s)", e.Path)
	}
	if len(e.Key) > 0 {
		msg += fmt.Sprintf(" (key=%q)", truncate(e.Key, 32))
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}

// New constructs an *Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error that preserves kind while attaching an
// operation name and the underlying cause, so a caller further up the
// stack can attach context without losing the kind.
func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// WithPath returns a copy of e with Path set.
func (e *Error) WithPath(path string) *Error {
	clone := *e
	clone.Path = path
	return &clone
}

// WithKey returns a copy of e with Key set.
func (e *Error) WithKey(key []byte) *Error {
	clone := *e
	clone.Key = key
	return &clone
}

// KindOf returns the Kind carried by err, walking the Unwrap chain. If err
// is nil, or carries no *Error in its chain, it returns Unknown.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err's kind (per KindOf) equals kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
