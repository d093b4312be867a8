package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"escrowd/internal/domain"
)

// transactionModel is the persisted shape of a domain.Transaction.
type transactionModel struct {
	ID                 string `gorm:"primaryKey"`
	BuyerID            string `gorm:"index"`
	SellerID           string `gorm:"index"`
	InitiatedBy        string
	Amount             decimal.Decimal `gorm:"type:decimal(20,8)"`
	Status             string
	FeesResponsibility string
	TermsJSON          string
	DeliveryDate       *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Version            int64
}

func (transactionModel) TableName() string { return "transactions" }

type historyModel struct {
	ID            string `gorm:"primaryKey"`
	TransactionID string `gorm:"index"`
	UserID        string
	Type          string
	Amount        decimal.Decimal `gorm:"type:decimal(20,8)"`
	Description   string
	MetadataJSON  string
	CreatedAt     time.Time
}

func (historyModel) TableName() string { return "transaction_history" }

type walletModel struct {
	UserID    string          `gorm:"primaryKey"`
	Balance   decimal.Decimal `gorm:"type:decimal(20,8)"`
	UpdatedAt time.Time
}

func (walletModel) TableName() string { return "wallets" }

type notificationModel struct {
	ID            string `gorm:"primaryKey"`
	UserID        string `gorm:"index"`
	TransactionID string
	Type          string
	Title         string
	Message       string
	DataJSON      string
	CreatedAt     time.Time
	ReadAt        *time.Time
}

func (notificationModel) TableName() string { return "notifications" }

// GormStore is a Repository backed by a SQL database through GORM.
type GormStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens (or creates) the sqlite database at dbPath and
// migrates the schema.
func NewSQLiteStore(dbPath string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&transactionModel{}, &historyModel{}, &walletModel{}, &notificationModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

func toTransactionModel(txn *domain.Transaction) (*transactionModel, error) {
	terms, err := json.Marshal(txn.Terms)
	if err != nil {
		return nil, fmt.Errorf("failed to encode terms: %w", err)
	}
	return &transactionModel{
		ID:                 txn.ID,
		BuyerID:            txn.BuyerID,
		SellerID:           txn.SellerID,
		InitiatedBy:        txn.InitiatedBy,
		Amount:             txn.Amount,
		Status:             string(txn.Status),
		FeesResponsibility: string(txn.FeesResponsibility),
		TermsJSON:          string(terms),
		DeliveryDate:       txn.DeliveryDate,
		CreatedAt:          txn.CreatedAt,
		UpdatedAt:          txn.UpdatedAt,
		Version:            txn.Version,
	}, nil
}

func fromTransactionModel(m *transactionModel) *domain.Transaction {
	var terms []string
	if m.TermsJSON != "" {
		_ = json.Unmarshal([]byte(m.TermsJSON), &terms)
	}
	return &domain.Transaction{
		ID:                 m.ID,
		BuyerID:            m.BuyerID,
		SellerID:           m.SellerID,
		InitiatedBy:        m.InitiatedBy,
		Amount:             m.Amount,
		Status:             domain.Status(m.Status),
		FeesResponsibility: domain.FeesResponsibility(m.FeesResponsibility),
		Terms:              terms,
		DeliveryDate:       m.DeliveryDate,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
		Version:            m.Version,
	}
}

func (s *GormStore) CreateTransaction(ctx context.Context, txn *domain.Transaction) error {
	m, err := toTransactionModel(txn)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

func (s *GormStore) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	var m transactionModel
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	return fromTransactionModel(&m), nil
}

func (s *GormStore) ListTransactionsForUser(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	var models []transactionModel
	err := s.db.WithContext(ctx).
		Where("buyer_id = ? OR seller_id = ?", userID, userID).
		Order("created_at").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	result := make([]*domain.Transaction, 0, len(models))
	for i := range models {
		result = append(result, fromTransactionModel(&models[i]))
	}
	return result, nil
}

// UpdateTransactionStatus writes status and updatedAt guarded by the version
// column. Zero rows affected with an existing row means another writer won.
func (s *GormStore) UpdateTransactionStatus(ctx context.Context, txn *domain.Transaction) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&transactionModel{}).
		Where("id = ? AND version = ?", txn.ID, txn.Version).
		Updates(map[string]any{
			"status":     string(txn.Status),
			"updated_at": now,
			"version":    txn.Version + 1,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update transaction: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&transactionModel{}).Where("id = ?", txn.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to update transaction: %w", err)
		}
		if count == 0 {
			return domain.ErrTransactionNotFound
		}
		return domain.NewConcurrentModificationError(txn.ID)
	}
	txn.Version++
	txn.UpdatedAt = now
	return nil
}

func (s *GormStore) GetWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	var m walletModel
	err := s.db.WithContext(ctx).First(&m, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}
	return &domain.Wallet{UserID: m.UserID, Balance: m.Balance, UpdatedAt: m.UpdatedAt}, nil
}

func (s *GormStore) CreditWallet(ctx context.Context, userID string, amount decimal.Decimal) error {
	var m walletModel
	err := s.db.WithContext(ctx).First(&m, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		m = walletModel{UserID: userID, Balance: decimal.Zero}
	} else if err != nil {
		return fmt.Errorf("failed to load wallet: %w", err)
	}
	m.Balance = m.Balance.Add(amount)
	m.UpdatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Save(&m).Error; err != nil {
		return fmt.Errorf("failed to credit wallet: %w", err)
	}
	return nil
}

func (s *GormStore) DebitWallet(ctx context.Context, userID string, amount decimal.Decimal) error {
	var m walletModel
	err := s.db.WithContext(ctx).First(&m, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrWalletNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load wallet: %w", err)
	}
	if m.Balance.LessThan(amount) {
		return domain.NewInsufficientFundsError(userID)
	}
	m.Balance = m.Balance.Sub(amount)
	m.UpdatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Save(&m).Error; err != nil {
		return fmt.Errorf("failed to debit wallet: %w", err)
	}
	return nil
}

func (s *GormStore) AppendHistory(ctx context.Context, entry *domain.HistoryEntry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	m := historyModel{
		ID:            entry.ID,
		TransactionID: entry.TransactionID,
		UserID:        entry.UserID,
		Type:          entry.Type,
		Amount:        entry.Amount,
		Description:   entry.Description,
		MetadataJSON:  string(metadata),
		CreatedAt:     entry.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func (s *GormStore) ListHistory(ctx context.Context, transactionID string) ([]*domain.HistoryEntry, error) {
	var models []historyModel
	err := s.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	result := make([]*domain.HistoryEntry, 0, len(models))
	for i := range models {
		m := &models[i]
		var metadata map[string]string
		if m.MetadataJSON != "" {
			_ = json.Unmarshal([]byte(m.MetadataJSON), &metadata)
		}
		result = append(result, &domain.HistoryEntry{
			ID:            m.ID,
			TransactionID: m.TransactionID,
			UserID:        m.UserID,
			Type:          m.Type,
			Amount:        m.Amount,
			Description:   m.Description,
			Metadata:      metadata,
			CreatedAt:     m.CreatedAt,
		})
	}
	return result, nil
}

func (s *GormStore) SaveNotification(ctx context.Context, n *domain.Notification) error {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("failed to encode notification data: %w", err)
	}
	m := notificationModel{
		ID:            n.ID,
		UserID:        n.UserID,
		TransactionID: n.TransactionID,
		Type:          n.Type,
		Title:         n.Title,
		Message:       n.Message,
		DataJSON:      string(data),
		CreatedAt:     n.CreatedAt,
		ReadAt:        n.ReadAt,
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to save notification: %w", err)
	}
	return nil
}

func (s *GormStore) ListNotifications(ctx context.Context, userID string) ([]*domain.Notification, error) {
	var models []notificationModel
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	result := make([]*domain.Notification, 0, len(models))
	for i := range models {
		m := &models[i]
		var data map[string]string
		if m.DataJSON != "" {
			_ = json.Unmarshal([]byte(m.DataJSON), &data)
		}
		result = append(result, &domain.Notification{
			ID:            m.ID,
			UserID:        m.UserID,
			TransactionID: m.TransactionID,
			Type:          m.Type,
			Title:         m.Title,
			Message:       m.Message,
			Data:          data,
			CreatedAt:     m.CreatedAt,
			ReadAt:        m.ReadAt,
		})
	}
	return result, nil
}

func (s *GormStore) MarkNotificationRead(ctx context.Context, id, userID string) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&notificationModel{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("read_at", now)
	if res.Error != nil {
		return fmt.Errorf("failed to mark notification read: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NewNotFoundError("notification", id)
	}
	return nil
}

// InTransaction wraps fn in a database transaction. SQLite serializes
// writers, so the version check on the transaction row is the only extra
// guard needed against concurrent transition attempts.
func (s *GormStore) InTransaction(ctx context.Context, fn func(Repository) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}
