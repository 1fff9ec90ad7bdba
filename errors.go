package dbx

import "github.com/kartikbazzad/dbx/errs"

// Error kinds re-exported at the engine facade so callers can write
// `errors.Is(err, dbx.ErrConflict)` without importing the internal errs
// package directly (spec.md §7).
var (
	ErrIO                = errs.ErrIO
	ErrCorruption        = errs.ErrCorruption
	ErrConflict          = errs.ErrConflict
	ErrNotFound          = errs.ErrNotFound
	ErrAlreadyExists     = errs.ErrAlreadyExists
	ErrInvalidTxState    = errs.ErrInvalidTxState
	ErrResourceExhausted = errs.ErrResourceExhausted
	ErrClosed            = errs.ErrClosed
)
