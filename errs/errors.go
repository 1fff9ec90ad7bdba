// Package errs defines the sentinel error kinds shared across every DBX
// package (spec.md §7). It has no dependencies so every other package can
// import it without risk of a cycle — the same role bundoc's
// internal/util/errors.go plays for bundoc's packages.
package errs

import "errors"

// Error kinds from SPEC_FULL.md §3/spec.md §7. Callers should use errors.Is
// against these sentinels; wrapped context is added with fmt.Errorf("%w: ...").
var (
	// ErrIO indicates underlying storage failed. The operation did not take
	// effect unless explicitly stated otherwise by the call site.
	ErrIO = errors.New("io-error")

	// ErrCorruption indicates a CRC mismatch or invariant violation
	// encountered mid-segment. Fatal for the affected tier until the engine
	// is re-opened and recovery runs again.
	ErrCorruption = errors.New("corruption")

	// ErrConflict indicates a snapshot-isolation write-write conflict at
	// commit time. The transaction is left in the terminal aborted state.
	ErrConflict = errors.New("conflict")

	// ErrNotFound indicates a table or named resource does not exist. This
	// is distinct from a point read returning no value, which is not an
	// error.
	ErrNotFound = errors.New("not-found")

	// ErrAlreadyExists indicates a DDL target collision.
	ErrAlreadyExists = errors.New("already-exists")

	// ErrInvalidTxState indicates an operation was invoked on a transaction
	// that is no longer active.
	ErrInvalidTxState = errors.New("invalid-tx-state")

	// ErrResourceExhausted indicates a byte/row budget was exceeded; the
	// caller should slow down or call Flush.
	ErrResourceExhausted = errors.New("resource-exhausted")

	// ErrClosed indicates the engine handle has been closed.
	ErrClosed = errors.New("engine closed")
)
