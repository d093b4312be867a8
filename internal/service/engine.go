// Package service implements the escrow transaction lifecycle engine.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"escrowd/internal/domain"
	"escrowd/internal/store"
)

// Notifier dispatches the notification bound to a committed transition.
type Notifier interface {
	Dispatch(ctx context.Context, txn *domain.Transaction, toState domain.Status, actingUserID string) error
}

// Engine orchestrates transaction state changes: authorization, graph
// validation, wallet side effects, audit history and notifications.
type Engine struct {
	repo     store.Repository
	notifier Notifier
	logger   *slog.Logger
	feePct   decimal.Decimal
}

// NewEngine creates an Engine. feePct is the platform fee fraction
// (e.g. 0.05 for 5%).
func NewEngine(repo store.Repository, notifier Notifier, logger *slog.Logger, feePct decimal.Decimal) *Engine {
	return &Engine{repo: repo, notifier: notifier, logger: logger, feePct: feePct}
}

// CreateParams are the inputs for a new escrow transaction.
type CreateParams struct {
	BuyerID            string
	SellerID           string
	InitiatedBy        string
	Amount             decimal.Decimal
	FeesResponsibility domain.FeesResponsibility
	Terms              []string
	DeliveryDate       *time.Time
}

// CreateTransaction validates and persists a new draft transaction.
// A transaction where buyer and seller are the same user is rejected
// outright rather than stored with a defaulted role.
func (e *Engine) CreateTransaction(ctx context.Context, p CreateParams) (*domain.Transaction, error) {
	if p.BuyerID == "" || p.SellerID == "" {
		return nil, domain.NewValidationError("parties", "buyer and seller are required")
	}
	if p.BuyerID == p.SellerID {
		return nil, domain.ErrSameParty
	}
	if p.InitiatedBy != p.BuyerID && p.InitiatedBy != p.SellerID {
		return nil, domain.ErrBadInitiator
	}
	if !p.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	switch p.FeesResponsibility {
	case domain.FeesBuyer, domain.FeesSeller, domain.FeesSplit:
	case "":
		p.FeesResponsibility = domain.FeesSplit
	default:
		return nil, domain.NewValidationError("feesResponsibility", "must be buyer, seller or split")
	}

	txn := domain.NewTransaction(p.BuyerID, p.SellerID, p.InitiatedBy, p.Amount)
	txn.FeesResponsibility = p.FeesResponsibility
	txn.Terms = append([]string(nil), p.Terms...)
	txn.DeliveryDate = p.DeliveryDate

	err := e.repo.InTransaction(ctx, func(r store.Repository) error {
		if err := r.CreateTransaction(ctx, txn); err != nil {
			return err
		}
		entry := domain.NewHistoryEntry(txn.ID, p.InitiatedBy, domain.HistoryTransactionCreated,
			fmt.Sprintf("Transaction created for %s", txn.Amount.String()), decimal.Zero)
		return r.AppendHistory(ctx, entry)
	})
	if err != nil {
		return nil, domain.NewUnavailableError(err)
	}

	e.logger.Info("transaction created",
		"transaction_id", txn.ID,
		"buyer_id", txn.BuyerID,
		"seller_id", txn.SellerID,
		"amount", txn.Amount.String(),
	)
	return txn, nil
}

// TransitionPayload carries optional transition context. Reason is required
// for dispute and optional for cancel.
type TransitionPayload struct {
	Reason string
}

// AttemptTransition executes one lifecycle action on a transaction. The
// caller's available-action set is re-derived here; it is the only
// authorization check, client-supplied flags carry no weight.
func (e *Engine) AttemptTransition(ctx context.Context, transactionID string, action domain.Action, userID string, payload *TransitionPayload) (*domain.Transaction, error) {
	txn, err := e.loadTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	if txn.BuyerID == txn.SellerID {
		e.logger.Warn("transaction has matching buyer and seller ids",
			"transaction_id", txn.ID, "user_id", txn.BuyerID)
	}

	current := domain.NormalizeStatus(string(txn.Status))
	txn.Status = current

	target, known := domain.TargetState(action)
	if !known {
		return nil, domain.NewForbiddenError(action)
	}
	if !domain.CanPerform(txn, userID, action) {
		return nil, domain.NewForbiddenError(action)
	}
	// The action map and the state graph are kept separately; validate
	// the edge anyway in case they ever disagree.
	if err := domain.ValidateTransition(current, target); err != nil {
		return nil, err
	}

	reason := ""
	if payload != nil {
		reason = payload.Reason
	}
	if action == domain.ActionDispute && strings.TrimSpace(reason) == "" {
		return nil, domain.NewMissingReasonError()
	}

	err = e.repo.InTransaction(ctx, func(r store.Repository) error {
		// Version check first: a concurrent attempt that already won
		// must fail here, before any wallet mutation.
		txn.Status = target
		if err := r.UpdateTransactionStatus(ctx, txn); err != nil {
			return err
		}

		if action == domain.ActionFund {
			if err := e.holdEscrow(ctx, r, txn, userID); err != nil {
				return err
			}
		}
		if target == domain.StatusCompleted {
			if err := e.releaseEscrow(ctx, r, txn, userID); err != nil {
				return err
			}
		}

		entry := domain.NewHistoryEntry(txn.ID, userID, domain.HistoryStatusChange,
			fmt.Sprintf("%s -> %s", current.DisplayName(), target.DisplayName()), decimal.Zero)
		entry.Metadata = map[string]string{
			"action": string(action),
			"effect": domain.TransitionEffects[target],
		}
		if reason != "" {
			entry.Metadata["reason"] = reason
		}
		return r.AppendHistory(ctx, entry)
	})
	if err != nil {
		return nil, e.classify(err)
	}

	e.logger.Info("transaction transitioned",
		"transaction_id", txn.ID,
		"from", string(current),
		"to", string(target),
		"action", string(action),
		"user_id", userID,
	)

	// Best-effort: the transition is already committed, a notification
	// failure must not roll it back.
	if err := e.notifier.Dispatch(ctx, txn, target, userID); err != nil {
		e.logger.Warn("notification dispatch failed",
			"transaction_id", txn.ID,
			"to", string(target),
			"error", err,
		)
	}

	return txn, nil
}

// holdEscrow debits the buyer's wallet and records the hold.
func (e *Engine) holdEscrow(ctx context.Context, r store.Repository, txn *domain.Transaction, userID string) error {
	if err := r.DebitWallet(ctx, txn.BuyerID, txn.Amount); err != nil {
		if errors.Is(err, domain.ErrWalletNotFound) {
			return domain.NewInsufficientFundsError(txn.BuyerID)
		}
		return err
	}
	entry := domain.NewHistoryEntry(txn.ID, userID, domain.HistoryEscrowHold,
		fmt.Sprintf("%s held in escrow", txn.Amount.String()), txn.Amount.Neg())
	buyerFee, sellerFee := txn.Fee(e.feePct)
	entry.Metadata = map[string]string{
		"buyer_fee":  buyerFee.String(),
		"seller_fee": sellerFee.String(),
	}
	return r.AppendHistory(ctx, entry)
}

// releaseEscrow credits the seller's wallet and records the release.
func (e *Engine) releaseEscrow(ctx context.Context, r store.Repository, txn *domain.Transaction, userID string) error {
	if err := r.CreditWallet(ctx, txn.SellerID, txn.Amount); err != nil {
		return err
	}
	entry := domain.NewHistoryEntry(txn.ID, userID, domain.HistoryEscrowRelease,
		fmt.Sprintf("%s released to seller", txn.Amount.String()), txn.Amount)
	return r.AppendHistory(ctx, entry)
}

func (e *Engine) loadTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	txn, err := e.repo.GetTransaction(ctx, id)
	if errors.Is(err, domain.ErrTransactionNotFound) {
		return nil, domain.NewNotFoundError("transaction", id)
	}
	if err != nil {
		return nil, domain.NewUnavailableError(err)
	}
	return txn, nil
}

// classify maps raw persistence errors to typed transition errors.
func (e *Engine) classify(err error) error {
	var te *domain.TransitionError
	if errors.As(err, &te) {
		return te
	}
	if errors.Is(err, domain.ErrTransactionNotFound) {
		return &domain.TransitionError{Kind: domain.KindNotFound, Message: "transaction not found"}
	}
	if errors.Is(err, domain.ErrWalletNotFound) {
		return &domain.TransitionError{Kind: domain.KindNotFound, Message: "wallet not found"}
	}
	return domain.NewUnavailableError(err)
}

// ResolveDispute closes a disputed transaction on behalf of support staff.
// Buyer and seller have no actions while a dispute is open; this is the only
// path out of the disputed state. Outcome must be completed (release funds
// to the seller) or cancelled, and a non-blank resolution note is required.
func (e *Engine) ResolveDispute(ctx context.Context, transactionID string, outcome domain.Status, adminID, note string) (*domain.Transaction, error) {
	if outcome != domain.StatusCompleted && outcome != domain.StatusCancelled {
		return nil, domain.NewValidationError("outcome", "must be completed or cancelled")
	}
	if strings.TrimSpace(note) == "" {
		return nil, domain.NewValidationError("note", "a resolution note is required")
	}
	txn, err := e.loadTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	current := domain.NormalizeStatus(string(txn.Status))
	txn.Status = current
	// Resolution applies only to open disputes. Without this check the
	// delivered -> completed edge would let an operator release funds on
	// a transaction the buyer has not signed off on.
	if current != domain.StatusDisputed {
		return nil, domain.NewInvalidTransitionError(current, outcome)
	}
	if err := domain.ValidateTransition(current, outcome); err != nil {
		return nil, err
	}

	err = e.repo.InTransaction(ctx, func(r store.Repository) error {
		txn.Status = outcome
		if err := r.UpdateTransactionStatus(ctx, txn); err != nil {
			return err
		}
		if outcome == domain.StatusCompleted {
			if err := e.releaseEscrow(ctx, r, txn, adminID); err != nil {
				return err
			}
		}
		entry := domain.NewHistoryEntry(txn.ID, adminID, domain.HistoryStatusChange,
			fmt.Sprintf("%s -> %s (dispute resolved)", current.DisplayName(), outcome.DisplayName()), decimal.Zero)
		entry.Metadata = map[string]string{"resolution": string(outcome)}
		if note != "" {
			entry.Metadata["note"] = note
		}
		return r.AppendHistory(ctx, entry)
	})
	if err != nil {
		return nil, e.classify(err)
	}

	e.logger.Info("dispute resolved",
		"transaction_id", txn.ID,
		"outcome", string(outcome),
		"admin_id", adminID,
	)
	if err := e.notifier.Dispatch(ctx, txn, outcome, adminID); err != nil {
		e.logger.Warn("notification dispatch failed",
			"transaction_id", txn.ID, "to", string(outcome), "error", err)
	}
	return txn, nil
}

// GetTransaction loads a single transaction.
func (e *Engine) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return e.loadTransaction(ctx, id)
}

// ListTransactions returns every transaction the user participates in.
func (e *Engine) ListTransactions(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	return e.repo.ListTransactionsForUser(ctx, userID)
}

// AvailableActions returns the actions the user may take on the transaction.
func (e *Engine) AvailableActions(ctx context.Context, transactionID, userID string) ([]domain.ActionDescriptor, error) {
	txn, err := e.loadTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return domain.AvailableActions(txn, userID), nil
}

// History returns the audit trail for a transaction.
func (e *Engine) History(ctx context.Context, transactionID string) ([]*domain.HistoryEntry, error) {
	if _, err := e.loadTransaction(ctx, transactionID); err != nil {
		return nil, err
	}
	return e.repo.ListHistory(ctx, transactionID)
}

// Wallet returns the user's wallet, creating the zero-balance view for users
// without one.
func (e *Engine) Wallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	w, err := e.repo.GetWallet(ctx, userID)
	if errors.Is(err, domain.ErrWalletNotFound) {
		return &domain.Wallet{UserID: userID, Balance: decimal.Zero}, nil
	}
	if err != nil {
		return nil, domain.NewUnavailableError(err)
	}
	return w, nil
}

// TopUpWallet credits the user's wallet from an external funding source.
func (e *Engine) TopUpWallet(ctx context.Context, userID string, amount decimal.Decimal) (*domain.Wallet, error) {
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	if err := e.repo.CreditWallet(ctx, userID, amount); err != nil {
		return nil, domain.NewUnavailableError(err)
	}
	return e.Wallet(ctx, userID)
}

// Notifications lists the user's notifications.
func (e *Engine) Notifications(ctx context.Context, userID string) ([]*domain.Notification, error) {
	return e.repo.ListNotifications(ctx, userID)
}

// MarkNotificationRead marks one of the user's notifications as read.
// A notification belonging to someone else reads as not found.
func (e *Engine) MarkNotificationRead(ctx context.Context, id, userID string) error {
	return e.repo.MarkNotificationRead(ctx, id, userID)
}
