package domain

// Role identifies a user's relationship to a transaction.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleNone   Role = "none"
)

// Action is a user-initiated lifecycle operation.
type Action string

const (
	ActionSubmit    Action = "submit"
	ActionAccept    Action = "accept"
	ActionCancel    Action = "cancel"
	ActionFund      Action = "fund"
	ActionStartWork Action = "start_work"
	ActionDeliver   Action = "deliver"
	ActionComplete  Action = "complete"
	ActionDispute   Action = "dispute"
)

// ActionTargets is the fixed action to target-state map. The transition
// graph remains the authority on legality; this only resolves intent.
var ActionTargets = map[Action]Status{
	ActionSubmit:    StatusPendingApproval,
	ActionAccept:    StatusAccepted,
	ActionCancel:    StatusCancelled,
	ActionFund:      StatusFunded,
	ActionStartWork: StatusInProgress,
	ActionDeliver:   StatusDelivered,
	ActionComplete:  StatusCompleted,
	ActionDispute:   StatusDisputed,
}

// TargetState resolves the destination state for an action.
func TargetState(a Action) (Status, bool) {
	s, ok := ActionTargets[a]
	return s, ok
}

// ActionDescriptor describes one action currently available to a user.
type ActionDescriptor struct {
	Action      Action
	TargetState Status
	Label       string
}

// ResolveRole computes the user's role on the transaction. Exactly one of
// Buyer, Seller or None. A row where buyer and seller ids collide is corrupt
// data; the tie-break resolves to Buyer and the engine logs a warning when it
// loads such a row.
func ResolveRole(t *Transaction, userID string) Role {
	switch userID {
	case "":
		return RoleNone
	case t.BuyerID:
		return RoleBuyer
	case t.SellerID:
		return RoleSeller
	default:
		return RoleNone
	}
}

// AvailableActions computes the set of actions the user may take on the
// transaction right now. This is the single source of authorization truth:
// both UI gating and the transition executor consult it.
func AvailableActions(t *Transaction, userID string) []ActionDescriptor {
	role := ResolveRole(t, userID)
	if role == RoleNone {
		return nil
	}

	status := NormalizeStatus(string(t.Status))
	isInitiator := userID == t.InitiatedBy
	var actions []ActionDescriptor

	add := func(a Action, label string) {
		actions = append(actions, ActionDescriptor{
			Action:      a,
			TargetState: ActionTargets[a],
			Label:       label,
		})
	}

	switch status {
	case StatusDraft:
		if role == RoleBuyer {
			add(ActionSubmit, "Submit for Approval")
		}
	case StatusPendingApproval:
		// The initiator can never accept their own proposal; the
		// counterparty sees a paired accept/reject, the initiator a
		// solo cancel.
		if !isInitiator {
			add(ActionAccept, "Accept")
			add(ActionCancel, "Reject")
		} else {
			add(ActionCancel, "Cancel")
		}
	case StatusAccepted:
		if role == RoleBuyer {
			add(ActionFund, "Pay into Escrow")
		}
		add(ActionCancel, "Cancel")
	case StatusFunded:
		if role == RoleSeller {
			add(ActionStartWork, "Start Work")
		}
	case StatusInProgress:
		if role == RoleSeller {
			add(ActionDeliver, "Mark as Delivered")
		}
	case StatusDelivered:
		if role == RoleBuyer {
			add(ActionComplete, "Confirm and Release Funds")
			add(ActionDispute, "Open Dispute")
		}
	}
	// Terminal states and disputed (awaiting admin resolution) expose
	// nothing.
	return actions
}

// CanPerform reports whether the action is in the user's available set.
func CanPerform(t *Transaction, userID string, action Action) bool {
	for _, d := range AvailableActions(t, userID) {
		if d.Action == action {
			return true
		}
	}
	return false
}
