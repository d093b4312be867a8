// Package notify maps transaction transitions to outbound notifications.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"escrowd/internal/domain"
	"escrowd/internal/store"
)

// Sender delivers a notification to a user over some transport.
type Sender interface {
	Send(ctx context.Context, userID, title, message string, data map[string]string) error
}

// Dispatcher resolves the recipient and message for a transition and
// delivers it. Delivery is best-effort: the state transition has already
// committed by the time Dispatch runs, and failures are only logged by the
// caller.
type Dispatcher struct {
	repo   store.Repository
	sender Sender
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher persisting through repo and delivering
// through sender.
func NewDispatcher(repo store.Repository, sender Sender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{repo: repo, sender: sender, logger: logger}
}

// Dispatch sends the notification bound to the transition into toState.
// The acting user is never the recipient: self-caused transitions stay
// silent for the actor, and a disputer never hears about their own dispute.
func (d *Dispatcher) Dispatch(ctx context.Context, txn *domain.Transaction, toState domain.Status, actingUserID string) error {
	recipientID, title, message := resolveMessage(txn, toState, actingUserID)
	if recipientID == "" {
		return nil
	}

	data := map[string]string{
		"transaction_id": txn.ID,
		"status":         string(toState),
		"actor_id":       actingUserID,
	}
	n := domain.NewNotification(recipientID, txn.ID, "transaction_"+string(toState), title, message, data)
	if err := d.repo.SaveNotification(ctx, n); err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}
	if err := d.sender.Send(ctx, recipientID, title, message, data); err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}
	d.logger.Debug("notification dispatched",
		"transaction_id", txn.ID,
		"recipient", recipientID,
		"status", string(toState),
	)
	return nil
}

// resolveMessage is the pure state-to-recipient mapping. An empty recipient
// means the transition produces no notification.
func resolveMessage(txn *domain.Transaction, toState domain.Status, actingUserID string) (recipientID, title, message string) {
	switch toState {
	case domain.StatusPendingApproval:
		return txn.SellerID, "Transaction pending your approval",
			fmt.Sprintf("A transaction of %s is pending your approval", txn.Amount.String())
	case domain.StatusAccepted:
		if txn.BuyerID == actingUserID {
			return "", "", ""
		}
		return txn.BuyerID, "Transaction accepted",
			"Your transaction was accepted, you can now pay into escrow"
	case domain.StatusFunded:
		return txn.SellerID, "Escrow funded",
			"The buyer has funded the escrow, you can now start working"
	case domain.StatusInProgress:
		// Audit log only, no notification.
		return "", "", ""
	case domain.StatusDelivered:
		return txn.BuyerID, "Work delivered",
			"The seller marked the work as delivered, please review it"
	case domain.StatusCompleted:
		return txn.SellerID, "Funds released",
			fmt.Sprintf("%s has been released to your wallet", txn.Amount.String())
	case domain.StatusDisputed:
		return counterparty(txn, actingUserID), "Dispute opened",
			"A dispute was opened on your transaction, support will review it"
	default:
		return "", "", ""
	}
}

func counterparty(txn *domain.Transaction, userID string) string {
	if userID == txn.BuyerID {
		return txn.SellerID
	}
	if userID == txn.SellerID {
		return txn.BuyerID
	}
	return ""
}
