// Package dberrors defines the error taxonomy surfaced by the engine to
// its callers (the function runner, the session layer, the cache): the
// kinds a caller must distinguish to decide whether to retry, restart
// from a fresh snapshot, or surface the failure to an end user.
package dberrors

import (
	"errors"
	"fmt"

	pingcaperr "github.com/pingcap/errors"
)

// OCCAbort reports a serializability conflict detected during commit
// validation. The caller (function runner) may retry with a fresh begin
// timestamp >= ConflictingTs.
type OCCAbort struct {
	ConflictingTs uint64
}

func (e *OCCAbort) Error() string {
	return fmt.Sprintf("occ conflict: commit at or after ts=%d invalidated the read set", e.ConflictingTs)
}

// SnapshotTooOld reports that a transaction's begin timestamp (or a cold
// scan's as-of timestamp) has fallen below the MVCC retention horizon.
type SnapshotTooOld struct {
	RequestedTs uint64
	HorizonTs   uint64
}

func (e *SnapshotTooOld) Error() string {
	return fmt.Sprintf("snapshot too old: ts=%d is below retention horizon ts=%d", e.RequestedTs, e.HorizonTs)
}

// SchemaError reports a write rejected by a schema check prior to commit.
type SchemaError struct {
	Table  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error on table %q: %s", e.Table, e.Reason)
}

// InvalidWrite reports a malformed write within a transaction: a
// duplicate insert of an id already present, a delete of a key never
// read or written, a malformed index key, and similar caller mistakes.
type InvalidWrite struct {
	DocID  string
	Reason string
}

func (e *InvalidWrite) Error() string {
	return fmt.Sprintf("invalid write for id %q: %s", e.DocID, e.Reason)
}

// PersistenceUnavailable wraps a durability failure. The commit did not
// publish; the caller may retry, but the core does not retry silently.
type PersistenceUnavailable struct {
	Cause error
}

func (e *PersistenceUnavailable) Error() string {
	return fmt.Sprintf("persistence unavailable: %v", e.Cause)
}

func (e *PersistenceUnavailable) Unwrap() error { return e.Cause }

// TransactionTimeout reports that a transaction's wall-clock deadline
// elapsed before commit submission.
type TransactionTimeout struct {
	BeginTs  uint64
	Deadline string
}

func (e *TransactionTimeout) Error() string {
	return fmt.Sprintf("transaction begun at ts=%d exceeded its deadline (%s)", e.BeginTs, e.Deadline)
}

// Internal reports an invariant violation. The committer that raises one
// refuses further commits rather than risk publishing an unvalidated
// write (I4).
type Internal struct {
	Invariant string
	Detail    string
}

func (e *Internal) Error() string {
	return fmt.Sprintf("internal invariant %s violated: %s", e.Invariant, e.Detail)
}

// Wrap annotates a lower-level error (codec, I/O) with a stack trace via
// pingcap/errors, the style used throughout the codec and storage
// packages for wrapping driver failures.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return pingcaperr.WithStack(fmt.Errorf("%s: %w", context, err))
}

// IsOCCAbort reports whether err (or something it wraps) is an OCCAbort,
// the only kind the function runner auto-retries.
func IsOCCAbort(err error) (*OCCAbort, bool) {
	var abort *OCCAbort
	if errors.As(err, &abort) {
		return abort, true
	}
	return nil, false
}
