// Package apperr implements the closed error taxonomy of spec.md §7:
// six kinds, not six types, so every caller along the write path can
// decide propagation (reject synchronously, surface per-op, retry,
// abort, or drop-and-log) by switching on Kind rather than on a large
// sentinel-error set.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the six propagation classes spec.md §7 names.
type Kind int

const (
	// Validation is a caller error, rejected synchronously and never
	// broadcast (invalid_collection_name, missing_field, bad_path).
	Validation Kind = iota
	// NotFound is per-op, surfaced in the op result, not fatal
	// (doc_not_found, collection_empty).
	NotFound
	// Conflict means the client's timestamp is older than the server's
	// retained op; the server-preferred value is returned and the
	// client's reconciler surfaces it (concurrent_write_rejected).
	Conflict
	// Transient is retried with exponential backoff capped at a per-op
	// budget (shard_busy, wal_append_failed_retryable).
	Transient
	// Durable means the op was NOT accepted: the server terminates the
	// affected connection and, if the WAL is unwritable, refuses new
	// writes (wal_append_failed_fatal, shard_commit_violated_atomicity).
	Durable
	// Integrity is logged and the offending op dropped; the system
	// stays live (applied_op_collision, clock_regression).
	Integrity
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Transient:
		return "transient"
	case Durable:
		return "durable"
	case Integrity:
		return "integrity"
	default:
		return "unknown"
	}
}

// Code is one of spec.md §7's parenthetical error codes, e.g.
// "invalid_collection_name" or "wal_append_failed_fatal".
type Code string

// DBError is the single error type every layer above the storage
// engine returns: a kind for propagation policy, a code identifying
// exactly which condition fired, and an optional wrapped cause.
type DBError struct {
	Kind  Kind
	Code  Code
	Msg   string
	Cause error
}

func (e *DBError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Kind, e.Code, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Msg)
}

func (e *DBError) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, apperr.New(kind, code, "")) comparisons
// that only care about Kind and Code, ignoring Msg/Cause.
func (e *DBError) Is(target error) bool {
	var t *DBError
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// New constructs a DBError with no wrapped cause.
func New(kind Kind, code Code, msg string) *DBError {
	return &DBError{Kind: kind, Code: code, Msg: msg}
}

// Wrap constructs a DBError carrying cause as its Unwrap target.
func Wrap(kind Kind, code Code, msg string, cause error) *DBError {
	return &DBError{Kind: kind, Code: code, Msg: msg, Cause: cause}
}

// KindOf reports the Kind of err if it is (or wraps) a *DBError, and
// whether one was found at all — callers that don't recognize err as a
// DBError should treat it as Transient per spec.md §7's default of
// retrying what it doesn't understand rather than silently dropping it.
func KindOf(err error) (Kind, bool) {
	var e *DBError
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Error codes named in spec.md §7.
const (
	CodeInvalidCollectionName   Code = "invalid_collection_name"
	CodeMissingField            Code = "missing_field"
	CodeBadPath                 Code = "bad_path"
	CodeDocNotFound             Code = "doc_not_found"
	CodeCollectionEmpty         Code = "collection_empty"
	CodeConcurrentWriteRejected Code = "concurrent_write_rejected"
	CodeShardBusy               Code = "shard_busy"
	CodeWALAppendFailedRetry    Code = "wal_append_failed_retryable"
	CodeWALAppendFailedFatal    Code = "wal_append_failed_fatal"
	CodeShardCommitViolated     Code = "shard_commit_violated_atomicity"
	CodeAppliedOpCollision      Code = "applied_op_collision"
	CodeClockRegression         Code = "clock_regression"
)
