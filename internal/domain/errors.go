package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrSameParty           = errors.New("buyer and seller must be different users")
	ErrBadInitiator        = errors.New("initiator must be the buyer or the seller")
)

// ErrorKind classifies a transition failure so callers can branch on it
// without string matching.
type ErrorKind string

const (
	KindNotFound               ErrorKind = "NOT_FOUND"
	KindForbidden              ErrorKind = "FORBIDDEN"
	KindInvalidTransition      ErrorKind = "INVALID_TRANSITION"
	KindInsufficientFunds      ErrorKind = "INSUFFICIENT_FUNDS"
	KindMissingReason          ErrorKind = "MISSING_REASON"
	KindConcurrentModification ErrorKind = "CONCURRENT_MODIFICATION"
	KindUnavailable            ErrorKind = "UNAVAILABLE"
)

// TransitionError is the typed failure returned by the transition executor.
type TransitionError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *TransitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// KindOf extracts the error kind from err, or KindUnavailable if err is not a
// TransitionError.
func KindOf(err error) ErrorKind {
	var te *TransitionError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnavailable
}

// NewNotFoundError reports a missing transaction or wallet.
func NewNotFoundError(what, id string) *TransitionError {
	return &TransitionError{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s %s not found", what, id),
	}
}

// NewForbiddenError reports an action outside the caller's available set.
// The message intentionally omits which actions the caller does have.
func NewForbiddenError(action Action) *TransitionError {
	return &TransitionError{
		Kind:    KindForbidden,
		Message: fmt.Sprintf("you cannot perform this action: %s", action),
	}
}

// NewInvalidTransitionError reports an edge missing from the state graph.
func NewInvalidTransitionError(from, to Status) *TransitionError {
	return &TransitionError{
		Kind:    KindInvalidTransition,
		Message: fmt.Sprintf("invalid transition from %s to %s", from, to),
	}
}

// NewInsufficientFundsError reports a debit that would drive a wallet
// balance negative.
func NewInsufficientFundsError(userID string) *TransitionError {
	return &TransitionError{
		Kind:    KindInsufficientFunds,
		Message: fmt.Sprintf("insufficient funds in wallet for user %s", userID),
	}
}

// NewMissingReasonError reports a dispute attempt without reason text.
func NewMissingReasonError() *TransitionError {
	return &TransitionError{
		Kind:    KindMissingReason,
		Message: "a reason is required to open a dispute",
	}
}

// NewConcurrentModificationError reports an optimistic-lock conflict on the
// transaction row.
func NewConcurrentModificationError(id string) *TransitionError {
	return &TransitionError{
		Kind:    KindConcurrentModification,
		Message: fmt.Sprintf("transaction %s was modified concurrently", id),
	}
}

// NewUnavailableError wraps an unexpected persistence failure.
func NewUnavailableError(err error) *TransitionError {
	return &TransitionError{
		Kind:    KindUnavailable,
		Message: "storage unavailable",
		Err:     err,
	}
}

// ValidationError represents a validation error on transaction creation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
