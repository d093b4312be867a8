// Package domain contains the core business logic and entities for the
// escrow transaction engine.
package domain

import "strings"

// Status is a canonical transaction lifecycle state.
type Status string

// Transaction states.
const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusAccepted        Status = "accepted"
	StatusFunded          Status = "funded"
	StatusInProgress      Status = "in_progress"
	StatusDelivered       Status = "delivered"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
	StatusDisputed        Status = "disputed"
)

// Side-effect actions bound to each transition target.
const (
	EffectNotifyReceiver        = "notify_receiver"
	EffectNotifyBuyerToPay      = "notify_buyer_to_pay"
	EffectNotifySellerStartWork = "notify_seller_start_work"
	EffectLogSellerStarted      = "log_seller_started"
	EffectNotifyBuyerReview     = "notify_buyer_review"
	EffectReleaseFundsToSeller  = "release_funds_to_seller"
	EffectNotifySupportSeller   = "notify_support_and_seller"
)

// AllowedTransitions defines the valid state transitions.
// The key is the current state, and the value is a slice of valid target states.
var AllowedTransitions = map[Status][]Status{
	StatusDraft:           {StatusPendingApproval},
	StatusPendingApproval: {StatusAccepted, StatusCancelled},
	StatusAccepted:        {StatusFunded, StatusCancelled},
	StatusFunded:          {StatusInProgress},
	StatusInProgress:      {StatusDelivered},
	StatusDelivered:       {StatusCompleted, StatusDisputed},
	StatusDisputed:        {StatusCompleted, StatusCancelled},
	StatusCompleted:       {}, // Terminal state
	StatusCancelled:       {}, // Terminal state
}

// TransitionEffects maps each transition target to its bound side-effect
// action. Exactly one effect per reachable target.
var TransitionEffects = map[Status]string{
	StatusPendingApproval: EffectNotifyReceiver,
	StatusAccepted:        EffectNotifyBuyerToPay,
	StatusFunded:          EffectNotifySellerStartWork,
	StatusInProgress:      EffectLogSellerStarted,
	StatusDelivered:       EffectNotifyBuyerReview,
	StatusCompleted:       EffectReleaseFundsToSeller,
	StatusDisputed:        EffectNotifySupportSeller,
}

// statusAliases maps legacy and alternate status spellings, already lowered
// and trimmed, to the canonical enum.
var statusAliases = map[string]Status{
	"draft":            StatusDraft,
	"pending":          StatusPendingApproval,
	"pending approval": StatusPendingApproval,
	"pending_approval": StatusPendingApproval,
	"accepted":         StatusAccepted,
	"funded":           StatusFunded,
	"in progress":      StatusInProgress,
	"in_progress":      StatusInProgress,
	"delivered":        StatusDelivered,
	"completed":        StatusCompleted,
	"complete":         StatusCompleted,
	"cancelled":        StatusCancelled,
	"canceled":         StatusCancelled,
	"disputed":         StatusDisputed,
	"in dispute":       StatusDisputed,
	"dispute":          StatusDisputed,
}

// displayNames holds human-readable spellings used in history descriptions
// and notification messages.
var displayNames = map[Status]string{
	StatusDraft:           "Draft",
	StatusPendingApproval: "Pending Approval",
	StatusAccepted:        "Accepted",
	StatusFunded:          "Funded",
	StatusInProgress:      "In Progress",
	StatusDelivered:       "Delivered",
	StatusCompleted:       "Completed",
	StatusCancelled:       "Cancelled",
	StatusDisputed:        "In Dispute",
}

// NormalizeStatus maps a raw status string to the canonical enum. Matching is
// case-insensitive and ignores surrounding whitespace. Unrecognized values
// pass through unchanged; they fail transition validation downstream.
func NormalizeStatus(raw string) Status {
	if canonical, ok := statusAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return canonical
	}
	return Status(raw)
}

// IsKnownStatus reports whether s is a member of the canonical enumeration.
func IsKnownStatus(s Status) bool {
	_, ok := AllowedTransitions[s]
	return ok
}

// IsTerminal reports whether s has no outgoing transitions.
func IsTerminal(s Status) bool {
	next, ok := AllowedTransitions[s]
	return ok && len(next) == 0
}

// CanTransition checks if a transition from one state to another is allowed.
func CanTransition(from, to Status) bool {
	allowed, exists := AllowedTransitions[from]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an error if the transition is not allowed.
func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return NewInvalidTransitionError(from, to)
	}
	return nil
}

// ValidNextStates returns the allowed target states for the given state.
// The result is empty for terminal and unknown states.
func ValidNextStates(s Status) []Status {
	allowed := AllowedTransitions[s]
	out := make([]Status, len(allowed))
	copy(out, allowed)
	return out
}

// DisplayName returns the human-readable form of a status.
func (s Status) DisplayName() string {
	if name, ok := displayNames[s]; ok {
		return name
	}
	return string(s)
}
