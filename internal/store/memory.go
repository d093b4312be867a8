package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"escrowd/internal/domain"
)

// MemoryStore is an in-memory implementation of Repository. Records are
// cloned on the way in and out so callers never share memory with the store.
type MemoryStore struct {
	mu            sync.Mutex
	transactions  map[string]*domain.Transaction
	wallets       map[string]*domain.Wallet
	history       map[string][]*domain.HistoryEntry
	notifications map[string]*domain.Notification
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions:  make(map[string]*domain.Transaction),
		wallets:       make(map[string]*domain.Wallet),
		history:       make(map[string][]*domain.HistoryEntry),
		notifications: make(map[string]*domain.Notification),
	}
}

func (s *MemoryStore) CreateTransaction(ctx context.Context, txn *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createTransaction(txn)
}

func (s *MemoryStore) createTransaction(txn *domain.Transaction) error {
	s.transactions[txn.ID] = txn.Clone()
	return nil
}

func (s *MemoryStore) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getTransaction(id)
}

func (s *MemoryStore) getTransaction(id string) (*domain.Transaction, error) {
	txn, exists := s.transactions[id]
	if !exists {
		return nil, domain.ErrTransactionNotFound
	}
	return txn.Clone(), nil
}

func (s *MemoryStore) ListTransactionsForUser(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*domain.Transaction, 0)
	for _, txn := range s.transactions {
		if txn.BuyerID == userID || txn.SellerID == userID {
			result = append(result, txn.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) UpdateTransactionStatus(ctx context.Context, txn *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateTransactionStatus(txn)
}

func (s *MemoryStore) updateTransactionStatus(txn *domain.Transaction) error {
	stored, exists := s.transactions[txn.ID]
	if !exists {
		return domain.ErrTransactionNotFound
	}
	if stored.Version != txn.Version {
		return domain.NewConcurrentModificationError(txn.ID)
	}
	txn.Version++
	txn.UpdatedAt = time.Now().UTC()
	s.transactions[txn.ID] = txn.Clone()
	return nil
}

func (s *MemoryStore) GetWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getWallet(userID)
}

func (s *MemoryStore) getWallet(userID string) (*domain.Wallet, error) {
	w, exists := s.wallets[userID]
	if !exists {
		return nil, domain.ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) CreditWallet(ctx context.Context, userID string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creditWallet(userID, amount)
}

func (s *MemoryStore) creditWallet(userID string, amount decimal.Decimal) error {
	w, exists := s.wallets[userID]
	if !exists {
		w = &domain.Wallet{UserID: userID, Balance: decimal.Zero}
		s.wallets[userID] = w
	}
	w.Balance = w.Balance.Add(amount)
	w.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) DebitWallet(ctx context.Context, userID string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debitWallet(userID, amount)
}

func (s *MemoryStore) debitWallet(userID string, amount decimal.Decimal) error {
	w, exists := s.wallets[userID]
	if !exists {
		return domain.ErrWalletNotFound
	}
	if w.Balance.LessThan(amount) {
		return domain.NewInsufficientFundsError(userID)
	}
	w.Balance = w.Balance.Sub(amount)
	w.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) AppendHistory(ctx context.Context, entry *domain.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendHistory(entry)
}

func (s *MemoryStore) appendHistory(entry *domain.HistoryEntry) error {
	cp := *entry
	s.history[entry.TransactionID] = append(s.history[entry.TransactionID], &cp)
	return nil
}

func (s *MemoryStore) ListHistory(ctx context.Context, transactionID string) ([]*domain.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.history[transactionID]
	result := make([]*domain.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		cp := *e
		result = append(result, &cp)
	}
	return result, nil
}

func (s *MemoryStore) SaveNotification(ctx context.Context, n *domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.notifications[n.ID] = &cp
	return nil
}

func (s *MemoryStore) ListNotifications(ctx context.Context, userID string) ([]*domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*domain.Notification, 0)
	for _, n := range s.notifications {
		if n.UserID == userID {
			cp := *n
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) MarkNotificationRead(ctx context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markNotificationRead(id, userID)
}

func (s *MemoryStore) markNotificationRead(id, userID string) error {
	n, exists := s.notifications[id]
	if !exists || n.UserID != userID {
		return domain.NewNotFoundError("notification", id)
	}
	now := time.Now().UTC()
	n.ReadAt = &now
	return nil
}

// InTransaction serializes the whole unit of work under the store mutex and
// restores a snapshot of all maps if fn fails, so partial writes never
// survive.
func (s *MemoryStore) InTransaction(ctx context.Context, fn func(Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshot()
	if err := fn(&memoryTx{store: s}); err != nil {
		s.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	transactions  map[string]*domain.Transaction
	wallets       map[string]*domain.Wallet
	history       map[string][]*domain.HistoryEntry
	notifications map[string]*domain.Notification
}

func (s *MemoryStore) snapshot() memorySnapshot {
	snap := memorySnapshot{
		transactions:  make(map[string]*domain.Transaction, len(s.transactions)),
		wallets:       make(map[string]*domain.Wallet, len(s.wallets)),
		history:       make(map[string][]*domain.HistoryEntry, len(s.history)),
		notifications: make(map[string]*domain.Notification, len(s.notifications)),
	}
	for id, txn := range s.transactions {
		snap.transactions[id] = txn.Clone()
	}
	for id, w := range s.wallets {
		cp := *w
		snap.wallets[id] = &cp
	}
	for id, entries := range s.history {
		snap.history[id] = append([]*domain.HistoryEntry(nil), entries...)
	}
	for id, n := range s.notifications {
		cp := *n
		snap.notifications[id] = &cp
	}
	return snap
}

func (s *MemoryStore) restore(snap memorySnapshot) {
	s.transactions = snap.transactions
	s.wallets = snap.wallets
	s.history = snap.history
	s.notifications = snap.notifications
}

// memoryTx is the view handed to InTransaction callbacks. The store mutex is
// already held, so it calls the unlocked helpers directly.
type memoryTx struct {
	store *MemoryStore
}

func (t *memoryTx) CreateTransaction(ctx context.Context, txn *domain.Transaction) error {
	return t.store.createTransaction(txn)
}

func (t *memoryTx) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return t.store.getTransaction(id)
}

func (t *memoryTx) ListTransactionsForUser(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	result := make([]*domain.Transaction, 0)
	for _, txn := range t.store.transactions {
		if txn.BuyerID == userID || txn.SellerID == userID {
			result = append(result, txn.Clone())
		}
	}
	return result, nil
}

func (t *memoryTx) UpdateTransactionStatus(ctx context.Context, txn *domain.Transaction) error {
	return t.store.updateTransactionStatus(txn)
}

func (t *memoryTx) GetWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	return t.store.getWallet(userID)
}

func (t *memoryTx) CreditWallet(ctx context.Context, userID string, amount decimal.Decimal) error {
	return t.store.creditWallet(userID, amount)
}

func (t *memoryTx) DebitWallet(ctx context.Context, userID string, amount decimal.Decimal) error {
	return t.store.debitWallet(userID, amount)
}

func (t *memoryTx) AppendHistory(ctx context.Context, entry *domain.HistoryEntry) error {
	return t.store.appendHistory(entry)
}

func (t *memoryTx) ListHistory(ctx context.Context, transactionID string) ([]*domain.HistoryEntry, error) {
	entries := t.store.history[transactionID]
	return append([]*domain.HistoryEntry(nil), entries...), nil
}

func (t *memoryTx) SaveNotification(ctx context.Context, n *domain.Notification) error {
	cp := *n
	t.store.notifications[n.ID] = &cp
	return nil
}

func (t *memoryTx) ListNotifications(ctx context.Context, userID string) ([]*domain.Notification, error) {
	result := make([]*domain.Notification, 0)
	for _, n := range t.store.notifications {
		if n.UserID == userID {
			cp := *n
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (t *memoryTx) MarkNotificationRead(ctx context.Context, id, userID string) error {
	return t.store.markNotificationRead(id, userID)
}

// InTransaction on a transactional view just runs fn in the current unit.
func (t *memoryTx) InTransaction(ctx context.Context, fn func(Repository) error) error {
	return fn(t)
}
