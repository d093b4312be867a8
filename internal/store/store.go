// Package store provides persistence for the escrow transaction engine.
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"escrowd/internal/domain"
)

// Repository defines the storage operations the engine composes. Everything
// the transition executor writes goes through InTransaction so the status
// change, ledger entries and wallet mutation commit or roll back as one unit.
type Repository interface {
	CreateTransaction(ctx context.Context, txn *domain.Transaction) error
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	ListTransactionsForUser(ctx context.Context, userID string) ([]*domain.Transaction, error)

	// UpdateTransactionStatus persists status, updatedAt and the bumped
	// version. It fails with a ConcurrentModification error when the
	// stored version no longer matches txn.Version.
	UpdateTransactionStatus(ctx context.Context, txn *domain.Transaction) error

	GetWallet(ctx context.Context, userID string) (*domain.Wallet, error)
	CreditWallet(ctx context.Context, userID string, amount decimal.Decimal) error
	// DebitWallet subtracts amount from the wallet balance, failing with
	// an InsufficientFunds error if the balance would go negative.
	DebitWallet(ctx context.Context, userID string, amount decimal.Decimal) error

	AppendHistory(ctx context.Context, entry *domain.HistoryEntry) error
	ListHistory(ctx context.Context, transactionID string) ([]*domain.HistoryEntry, error)

	SaveNotification(ctx context.Context, n *domain.Notification) error
	ListNotifications(ctx context.Context, userID string) ([]*domain.Notification, error)
	// MarkNotificationRead marks the notification read only when it
	// belongs to userID; anything else reports NotFound.
	MarkNotificationRead(ctx context.Context, id, userID string) error

	// InTransaction runs fn against a repository view whose writes are
	// atomic: either every write fn performs commits, or none do.
	InTransaction(ctx context.Context, fn func(Repository) error) error
}
