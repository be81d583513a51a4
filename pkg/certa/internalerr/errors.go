package internalerr

import "errors"

// Sentinel errors for common cases
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidConfig    = errors.New("invalid configuration")

	// ErrNotJoinable marks a record id that cannot be resolved against a
	// background table. Callers skip the row and continue.
	ErrNotJoinable = errors.New("record not joinable")

	// ErrPrediction wraps failures of the external predictive function.
	ErrPrediction = errors.New("prediction failed")
)
