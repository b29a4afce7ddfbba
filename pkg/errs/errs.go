// Package errs defines the page cache's error taxonomy.
package errs

import "errors"

// Kind classifies an error surfaced by the core.
type Kind uint8

const (
	// Io: underlying read/write/rename/fsync failed. Fatal for the
	// operation; the caller may retry.
	Io Kind = iota
	// Corruption: CRC mismatch during recovery at a non-tail
	// position. Recovery aborts and the store refuses to open.
	Corruption
	// Unsupported: on-disk conf is incompatible with the requested
	// configuration.
	Unsupported
	// ReportableBug: an internal invariant was violated (e.g. get on
	// an unknown pid). Never retried.
	ReportableBug
	// CasFailed: observable only via link/replace. Not an error to
	// surface to end users — a signal to retry with the fresh head.
	CasFailed
	// CommittedState: a collaborator built on top of the core (e.g.
	// pkg/block) observed a write racing against state it had already
	// treated as committed. The core itself never returns this kind —
	// it enforces nothing about commit ordering beyond per-page CAS.
	CommittedState
)

func (k Kind) String() string {
	switch k {
	case Io:
		return "io"
	case Corruption:
		return "corruption"
	case Unsupported:
		return "unsupported"
	case ReportableBug:
		return "reportable_bug"
	case CasFailed:
		return "cas_failed"
	case CommittedState:
		return "committed_state"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String()
	}
	return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind and the operation name that produced it.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or anything it wraps) is an *Error of kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// ErrCasFailed is a sentinel usable with errors.Is for the common
// "retry with fresh head" case, which carries no extra context.
var ErrCasFailed = New(CasFailed, "cas", nil)

// ErrPoisoned is returned by every mutating operation once a
// background task has latched the poisoned flag after exhausting
// retries.
var ErrPoisoned = New(Io, "poisoned", errors.New("store is poisoned after repeated background I/O failure; reopen required"))

// ErrUnknownPid is a ReportableBug: get/link/replace/free called
// against a pid the table never allocated.
var ErrUnknownPid = New(ReportableBug, "unknown_pid", errors.New("unknown pid"))
