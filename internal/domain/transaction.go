package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FeesResponsibility identifies which party carries the platform fee.
type FeesResponsibility string

const (
	FeesBuyer  FeesResponsibility = "buyer"
	FeesSeller FeesResponsibility = "seller"
	FeesSplit  FeesResponsibility = "split"
)

// History entry types.
const (
	HistoryTransactionCreated = "transaction_created"
	HistoryStatusChange       = "status_change"
	HistoryEscrowHold         = "escrow_hold"
	HistoryEscrowRelease      = "escrow_release"
)

// Transaction represents an escrow deal between a buyer and a seller.
type Transaction struct {
	ID                 string
	BuyerID            string
	SellerID           string
	InitiatedBy        string
	Amount             decimal.Decimal
	Status             Status
	FeesResponsibility FeesResponsibility
	Terms              []string
	DeliveryDate       *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time

	// Version is bumped on every status write and backs the optimistic
	// concurrency check in the store.
	Version int64
}

// NewTransaction builds a draft transaction. Validation lives in the engine;
// this only fills defaults.
func NewTransaction(buyerID, sellerID, initiatedBy string, amount decimal.Decimal) *Transaction {
	now := time.Now().UTC()
	return &Transaction{
		ID:                 uuid.NewString(),
		BuyerID:            buyerID,
		SellerID:           sellerID,
		InitiatedBy:        initiatedBy,
		Amount:             amount,
		Status:             StatusDraft,
		FeesResponsibility: FeesSplit,
		CreatedAt:          now,
		UpdatedAt:          now,
		Version:            1,
	}
}

// Clone returns a deep copy so stored records never alias caller memory.
func (t *Transaction) Clone() *Transaction {
	cp := *t
	cp.Terms = append([]string(nil), t.Terms...)
	if t.DeliveryDate != nil {
		d := *t.DeliveryDate
		cp.DeliveryDate = &d
	}
	return &cp
}

// HistoryEntry is an append-only audit record for a transaction. Amount is
// signed and zero for non-financial entries.
type HistoryEntry struct {
	ID            string
	TransactionID string
	UserID        string
	Type          string
	Amount        decimal.Decimal
	Description   string
	Metadata      map[string]string
	CreatedAt     time.Time
}

// NewHistoryEntry creates an audit record for the given transaction and actor.
func NewHistoryEntry(transactionID, userID, entryType, description string, amount decimal.Decimal) *HistoryEntry {
	return &HistoryEntry{
		ID:            uuid.NewString(),
		TransactionID: transactionID,
		UserID:        userID,
		Type:          entryType,
		Amount:        amount,
		Description:   description,
		CreatedAt:     time.Now().UTC(),
	}
}

// Wallet holds a user's available balance.
type Wallet struct {
	UserID    string
	Balance   decimal.Decimal
	UpdatedAt time.Time
}

// Notification is a directed message about a transaction event.
type Notification struct {
	ID            string
	UserID        string
	TransactionID string
	Type          string
	Title         string
	Message       string
	Data          map[string]string
	CreatedAt     time.Time
	ReadAt        *time.Time
}

// NewNotification creates an unread notification for the given recipient.
func NewNotification(userID, transactionID, notifType, title, message string, data map[string]string) *Notification {
	return &Notification{
		ID:            uuid.NewString(),
		UserID:        userID,
		TransactionID: transactionID,
		Type:          notifType,
		Title:         title,
		Message:       message,
		Data:          data,
		CreatedAt:     time.Now().UTC(),
	}
}

// Fee computes the platform fee owed by each party for this transaction,
// given the platform percentage (e.g. 0.05 for 5%). The split case halves
// the fee between the two parties.
func (t *Transaction) Fee(percentage decimal.Decimal) (buyerFee, sellerFee decimal.Decimal) {
	total := t.Amount.Mul(percentage)
	switch t.FeesResponsibility {
	case FeesBuyer:
		return total, decimal.Zero
	case FeesSeller:
		return decimal.Zero, total
	default:
		half := total.Div(decimal.NewFromInt(2))
		return half, half
	}
}
