package domain

import (
	"errors"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors: compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Execution taxonomy. Every failure surfaced by the engine wraps exactly one
// of these so callers can classify it without string matching.
var (
	// ErrSystemHalted is returned when the kill switch, the startup sync gate
	// or the run status forbids new orders.
	ErrSystemHalted = errors.New("system halted")

	// ErrRiskRejected is returned when the risk guard vetoes a signal.
	ErrRiskRejected = errors.New("rejected by risk guard")

	// ErrMalformedSignal is returned for signals that fail structural checks.
	ErrMalformedSignal = errors.New("malformed signal")

	// ErrAdapterTransient covers retryable venue failures (timeouts, rate limits).
	ErrAdapterTransient = errors.New("venue transient failure")

	// ErrAdapterFatal covers non-retryable venue failures for a single order.
	ErrAdapterFatal = errors.New("venue fatal failure")

	// ErrAdapterSystemic covers venue failures that affect every order, such as
	// revoked credentials. The engine halts on these.
	ErrAdapterSystemic = errors.New("venue systemic failure")

	// ErrPersistence is returned when the state store cannot be read or written.
	ErrPersistence = errors.New("persistence failure")
)

// State machine errors
var (
	// ErrInvalidTransition is returned when an operator action is not allowed
	// from the current phase.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrStaleState is returned when a versioned singleton was modified by
	// another writer between read and update.
	ErrStaleState = errors.New("state was modified concurrently")

	// ErrSyncRequired is returned when resuming before a successful startup sync.
	ErrSyncRequired = errors.New("startup sync has not succeeded")

	// ErrKillSwitchEngaged is returned when resuming while the kill switch is set.
	ErrKillSwitchEngaged = errors.New("kill switch is engaged")

	// ErrInvalidMode is returned for a mode other than DEMO or LIVE.
	ErrInvalidMode = errors.New("invalid mode: must be DEMO or LIVE")
)

// Lookup errors
var (
	ErrSystemStateNotFound = errors.New("system state row not found")
	ErrRiskStateNotFound   = errors.New("risk state row not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrPositionNotFound    = errors.New("position not found")
	ErrExecutionNotFound   = errors.New("signal has not been executed")
	ErrOutboxEmpty         = errors.New("signal outbox is empty")
	ErrHoldingNotFound     = errors.New("wallet holding not found")
	ErrWalletNotFound      = errors.New("wallet account not found")
	ErrOperatorNotFound    = errors.New("operator not found")
)

// Conflict errors
var (
	// ErrDuplicateSignal is returned when a signal id is already recorded.
	ErrDuplicateSignal = errors.New("signal id already recorded")

	// ErrOrderNotPending is returned when a terminal order is transitioned again.
	ErrOrderNotPending = errors.New("order is not pending")

	// ErrInsufficientBalance is returned by the virtual wallet when the
	// simulated balance cannot cover an order.
	ErrInsufficientBalance = errors.New("insufficient wallet balance")

	// ErrUsernameTaken is returned when creating an operator with a used name.
	ErrUsernameTaken = errors.New("username is already taken")
)

// Auth errors
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden: insufficient permissions")
	ErrTokenInvalid       = errors.New("token is invalid")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrOperatorInactive   = errors.New("operator account is inactive")
)

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

var notFoundErrors = []error{
	ErrSystemStateNotFound,
	ErrRiskStateNotFound,
	ErrOrderNotFound,
	ErrPositionNotFound,
	ErrExecutionNotFound,
	ErrHoldingNotFound,
	ErrWalletNotFound,
	ErrOperatorNotFound,
}

// IsNotFound returns true when err (or any error in its chain) is one of the
// domain "not found" errors.
func IsNotFound(err error) bool {
	return isAny(err, notFoundErrors)
}

// IsConflict returns true for errors that represent a state conflict.
func IsConflict(err error) bool {
	return isAny(err, []error{
		ErrDuplicateSignal,
		ErrOrderNotPending,
		ErrInvalidTransition,
		ErrStaleState,
		ErrSyncRequired,
		ErrKillSwitchEngaged,
		ErrUsernameTaken,
	})
}

// IsAuthError returns true for authentication/authorisation errors.
func IsAuthError(err error) bool {
	return isAny(err, []error{
		ErrUnauthorized,
		ErrForbidden,
		ErrTokenInvalid,
		ErrInvalidCredentials,
		ErrOperatorInactive,
	})
}

// IsSystemic reports whether err must halt the engine rather than reject a
// single signal.
func IsSystemic(err error) bool {
	return isAny(err, []error{ErrPersistence, ErrAdapterSystemic})
}

// IsRejection reports whether err ends a single signal without affecting
// the engine: halted, risk, malformed input or a fatal venue answer.
func IsRejection(err error) bool {
	return isAny(err, []error{ErrSystemHalted, ErrRiskRejected, ErrMalformedSignal, ErrAdapterFatal})
}

// IsTransient reports whether a venue error may be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrAdapterTransient)
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
