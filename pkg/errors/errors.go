package apperrors

import "errors"

// Standardized Exchange Errors
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrInvalidSymbol         = errors.New("invalid symbol")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrExchangeMaintenance   = errors.New("exchange maintenance")
	ErrOrderNotFound         = errors.New("order not found")
	ErrDuplicateOrder        = errors.New("duplicate order")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrSystemOverload        = errors.New("system overload")
	ErrTimestampOutOfBounds  = errors.New("timestamp out of bounds")
)

// Errors internal to the trading core
var (
	// ErrStaleOpportunity marks a candidate that was no longer profitable at
	// submission time. Expected outcome, discarded at debug severity.
	ErrStaleOpportunity = errors.New("opportunity no longer present")
	// ErrInvariantViolation marks a state regression (torn snapshot, backward
	// order transition). Fatal to the current iteration only.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrSnapshotCorrupt marks an unreadable state document. Readers fail
	// closed on the last known-good snapshot.
	ErrSnapshotCorrupt = errors.New("snapshot corrupt")
	// ErrUnknownOutcome marks a mutating exchange call whose response was
	// lost. Resolved by the reconciliation sweep, never by blind retry.
	ErrUnknownOutcome = errors.New("unknown outcome")
	// ErrHalted marks an action suppressed because HALT mode is active.
	ErrHalted = errors.New("trading halted")
)
