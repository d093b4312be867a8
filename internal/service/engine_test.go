package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"escrowd/internal/domain"
	"escrowd/internal/notify"
	"escrowd/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.MemoryStore, *notify.MemorySender) {
	t.Helper()
	repo := store.NewMemoryStore()
	sender := &notify.MemorySender{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher := notify.NewDispatcher(repo, sender, logger)
	engine := NewEngine(repo, dispatcher, logger, decimal.NewFromFloat(0.05))
	return engine, repo, sender
}

func createTestTransaction(t *testing.T, e *Engine) *domain.Transaction {
	t.Helper()
	txn, err := e.CreateTransaction(context.Background(), CreateParams{
		BuyerID:     "buyer-1",
		SellerID:    "seller-1",
		InitiatedBy: "buyer-1",
		Amount:      decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("CreateTransaction() error = %v", err)
	}
	return txn
}

func TestCreateTransaction(t *testing.T) {
	e, repo, _ := newTestEngine(t)
	txn := createTestTransaction(t, e)

	if txn.Status != domain.StatusDraft {
		t.Errorf("Status = %v, want draft", txn.Status)
	}
	if txn.FeesResponsibility != domain.FeesSplit {
		t.Errorf("FeesResponsibility = %v, want split default", txn.FeesResponsibility)
	}

	entries, _ := repo.ListHistory(context.Background(), txn.ID)
	if len(entries) != 1 || entries[0].Type != domain.HistoryTransactionCreated {
		t.Errorf("history = %v, want one transaction_created entry", entries)
	}
}

func TestCreateTransaction_Validation(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		params  CreateParams
		wantErr error
	}{
		{
			name: "same buyer and seller rejected",
			params: CreateParams{
				BuyerID: "u1", SellerID: "u1", InitiatedBy: "u1",
				Amount: decimal.NewFromInt(100),
			},
			wantErr: domain.ErrSameParty,
		},
		{
			name: "initiator must be a party",
			params: CreateParams{
				BuyerID: "u1", SellerID: "u2", InitiatedBy: "u3",
				Amount: decimal.NewFromInt(100),
			},
			wantErr: domain.ErrBadInitiator,
		},
		{
			name: "zero amount rejected",
			params: CreateParams{
				BuyerID: "u1", SellerID: "u2", InitiatedBy: "u1",
				Amount: decimal.Zero,
			},
			wantErr: domain.ErrInvalidAmount,
		},
		{
			name: "negative amount rejected",
			params: CreateParams{
				BuyerID: "u1", SellerID: "u2", InitiatedBy: "u1",
				Amount: decimal.NewFromInt(-5),
			},
			wantErr: domain.ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.CreateTransaction(ctx, tt.params)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CreateTransaction() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestFullLifecycle walks the worked example: draft -> pending_approval ->
// accepted -> funded -> in_progress -> delivered -> completed, asserting the
// authorization failures along the way.
func TestFullLifecycle(t *testing.T) {
	e, repo, _ := newTestEngine(t)
	ctx := context.Background()
	txn := createTestTransaction(t, e)

	// submit by the buyer
	updated, err := e.AttemptTransition(ctx, txn.ID, domain.ActionSubmit, "buyer-1", nil)
	if err != nil {
		t.Fatalf("submit error = %v", err)
	}
	if updated.Status != domain.StatusPendingApproval {
		t.Fatalf("Status = %v, want pending_approval", updated.Status)
	}

	// the initiator may not accept their own proposal
	_, err = e.AttemptTransition(ctx, txn.ID, domain.ActionAccept, "buyer-1", nil)
	if domain.KindOf(err) != domain.KindForbidden {
		t.Fatalf("accept by initiator kind = %v, want Forbidden", domain.KindOf(err))
	}

	// the counterparty accepts
	updated, err = e.AttemptTransition(ctx, txn.ID, domain.ActionAccept, "seller-1", nil)
	if err != nil {
		t.Fatalf("accept error = %v", err)
	}
	if updated.Status != domain.StatusAccepted {
		t.Fatalf("Status = %v, want accepted", updated.Status)
	}

	// fund is buyer-only
	_, err = e.AttemptTransition(ctx, txn.ID, domain.ActionFund, "seller-1", nil)
	if domain.KindOf(err) != domain.KindForbidden {
		t.Fatalf("fund by seller kind = %v, want Forbidden", domain.KindOf(err))
	}

	// insufficient balance
	repo.CreditWallet(ctx, "buyer-1", decimal.NewFromInt(50))
	_, err = e.AttemptTransition(ctx, txn.ID, domain.ActionFund, "buyer-1", nil)
	if domain.KindOf(err) != domain.KindInsufficientFunds {
		t.Fatalf("fund with 50 kind = %v, want InsufficientFunds", domain.KindOf(err))
	}
	if w, _ := repo.GetWallet(ctx, "buyer-1"); !w.Balance.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("failed funding mutated balance: %v", w.Balance)
	}

	// fund with enough balance
	repo.CreditWallet(ctx, "buyer-1", decimal.NewFromInt(100))
	updated, err = e.AttemptTransition(ctx, txn.ID, domain.ActionFund, "buyer-1", nil)
	if err != nil {
		t.Fatalf("fund error = %v", err)
	}
	if updated.Status != domain.StatusFunded {
		t.Fatalf("Status = %v, want funded", updated.Status)
	}
	if w, _ := repo.GetWallet(ctx, "buyer-1"); !w.Balance.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("buyer balance = %v, want 50", w.Balance)
	}

	holds := historyOfType(t, repo, txn.ID, domain.HistoryEscrowHold)
	if len(holds) != 1 {
		t.Fatalf("escrow_hold entries = %d, want 1", len(holds))
	}
	if !holds[0].Amount.Equal(decimal.NewFromInt(-100)) {
		t.Fatalf("escrow_hold amount = %v, want -100", holds[0].Amount)
	}

	// seller works and delivers
	if _, err := e.AttemptTransition(ctx, txn.ID, domain.ActionStartWork, "seller-1", nil); err != nil {
		t.Fatalf("start_work error = %v", err)
	}
	if _, err := e.AttemptTransition(ctx, txn.ID, domain.ActionDeliver, "seller-1", nil); err != nil {
		t.Fatalf("deliver error = %v", err)
	}

	// buyer completes, funds released to seller
	updated, err = e.AttemptTransition(ctx, txn.ID, domain.ActionComplete, "buyer-1", nil)
	if err != nil {
		t.Fatalf("complete error = %v", err)
	}
	if updated.Status != domain.StatusCompleted {
		t.Fatalf("Status = %v, want completed", updated.Status)
	}
	if w, _ := repo.GetWallet(ctx, "seller-1"); !w.Balance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("seller balance = %v, want 100", w.Balance)
	}

	releases := historyOfType(t, repo, txn.ID, domain.HistoryEscrowRelease)
	if len(releases) != 1 || !releases[0].Amount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("escrow_release = %v, want one +100 entry", releases)
	}

	// terminal: nothing further is possible
	_, err = e.AttemptTransition(ctx, txn.ID, domain.ActionDispute, "buyer-1", &TransitionPayload{Reason: "too late"})
	if domain.KindOf(err) != domain.KindForbidden && domain.KindOf(err) != domain.KindInvalidTransition {
		t.Fatalf("transition from completed kind = %v", domain.KindOf(err))
	}
}

func historyOfType(t *testing.T, repo store.Repository, txnID, entryType string) []*domain.HistoryEntry {
	t.Helper()
	entries, err := repo.ListHistory(context.Background(), txnID)
	if err != nil {
		t.Fatalf("ListHistory() error = %v", err)
	}
	var out []*domain.HistoryEntry
	for _, e := range entries {
		if e.Type == entryType {
			out = append(out, e)
		}
	}
	return out
}

func TestAttemptTransition_NotFound(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.AttemptTransition(context.Background(), "missing", domain.ActionSubmit, "buyer-1", nil)
	if domain.KindOf(err) != domain.KindNotFound {
		t.Errorf("kind = %v, want NotFound", domain.KindOf(err))
	}
}

func TestAttemptTransition_UnknownAction(t *testing.T) {
	e, _, _ := newTestEngine(t)
	txn := createTestTransaction(t, e)

	_, err := e.AttemptTransition(context.Background(), txn.ID, domain.Action("teleport"), "buyer-1", nil)
	if domain.KindOf(err) != domain.KindForbidden {
		t.Errorf("kind = %v, want Forbidden", domain.KindOf(err))
	}
}

func TestAttemptTransition_StrangerForbidden(t *testing.T) {
	e, _, _ := newTestEngine(t)
	txn := createTestTransaction(t, e)

	_, err := e.AttemptTransition(context.Background(), txn.ID, domain.ActionSubmit, "stranger", nil)
	if domain.KindOf(err) != domain.KindForbidden {
		t.Errorf("kind = %v, want Forbidden", domain.KindOf(err))
	}
}

func TestAttemptTransition_DisputeRequiresReason(t *testing.T) {
	e, repo, _ := newTestEngine(t)
	ctx := context.Background()
	txn := advanceToDelivered(t, e, repo)

	_, err := e.AttemptTransition(ctx, txn.ID, domain.ActionDispute, "buyer-1", nil)
	if domain.KindOf(err) != domain.KindMissingReason {
		t.Fatalf("dispute without reason kind = %v, want MissingReason", domain.KindOf(err))
	}
	for _, reason := range []string{"", "   "} {
		_, err = e.AttemptTransition(ctx, txn.ID, domain.ActionDispute, "buyer-1", &TransitionPayload{Reason: reason})
		if domain.KindOf(err) != domain.KindMissingReason {
			t.Fatalf("dispute with reason %q kind = %v, want MissingReason", reason, domain.KindOf(err))
		}
	}

	updated, err := e.AttemptTransition(ctx, txn.ID, domain.ActionDispute, "buyer-1", &TransitionPayload{Reason: "work incomplete"})
	if err != nil {
		t.Fatalf("dispute error = %v", err)
	}
	if updated.Status != domain.StatusDisputed {
		t.Fatalf("Status = %v, want disputed", updated.Status)
	}

	changes := historyOfType(t, repo, txn.ID, domain.HistoryStatusChange)
	last := changes[len(changes)-1]
	if last.Metadata["reason"] != "work incomplete" {
		t.Errorf("dispute reason metadata = %v", last.Metadata)
	}
}

// advanceToDelivered drives a fresh transaction to the delivered state.
func advanceToDelivered(t *testing.T, e *Engine, repo store.Repository) *domain.Transaction {
	t.Helper()
	ctx := context.Background()
	txn := createTestTransaction(t, e)
	repo.CreditWallet(ctx, "buyer-1", decimal.NewFromInt(1000))

	steps := []struct {
		action domain.Action
		user   string
	}{
		{domain.ActionSubmit, "buyer-1"},
		{domain.ActionAccept, "seller-1"},
		{domain.ActionFund, "buyer-1"},
		{domain.ActionStartWork, "seller-1"},
		{domain.ActionDeliver, "seller-1"},
	}
	for _, s := range steps {
		if _, err := e.AttemptTransition(ctx, txn.ID, s.action, s.user, nil); err != nil {
			t.Fatalf("%s by %s error = %v", s.action, s.user, err)
		}
	}
	return txn
}

func TestAttemptTransition_CancelReasonOptional(t *testing.T) {
	e, repo, _ := newTestEngine(t)
	ctx := context.Background()
	txn := createTestTransaction(t, e)
	if _, err := e.AttemptTransition(ctx, txn.ID, domain.ActionSubmit, "buyer-1", nil); err != nil {
		t.Fatalf("submit error = %v", err)
	}

	updated, err := e.AttemptTransition(ctx, txn.ID, domain.ActionCancel, "seller-1", &TransitionPayload{Reason: "price too low"})
	if err != nil {
		t.Fatalf("cancel error = %v", err)
	}
	if updated.Status != domain.StatusCancelled {
		t.Fatalf("Status = %v, want cancelled", updated.Status)
	}
	changes := historyOfType(t, repo, txn.ID, domain.HistoryStatusChange)
	if changes[len(changes)-1].Metadata["reason"] != "price too low" {
		t.Error("cancel reason should be recorded when supplied")
	}
}

func TestConcurrentFunding_ExactlyOneWins(t *testing.T) {
	e, repo, _ := newTestEngine(t)
	ctx := context.Background()
	txn := createTestTransaction(t, e)
	repo.CreditWallet(ctx, "buyer-1", decimal.NewFromInt(100))

	e.AttemptTransition(ctx, txn.ID, domain.ActionSubmit, "buyer-1", nil)
	e.AttemptTransition(ctx, txn.ID, domain.ActionAccept, "seller-1", nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.AttemptTransition(ctx, txn.ID, domain.ActionFund, "buyer-1", nil)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		kind := domain.KindOf(err)
		if kind != domain.KindInvalidTransition && kind != domain.KindConcurrentModification && kind != domain.KindForbidden {
			t.Errorf("loser error kind = %v", kind)
		}
	}
	if succeeded != 1 {
		t.Fatalf("concurrent fund successes = %d, want exactly 1", succeeded)
	}

	// The wallet was debited exactly once.
	w, _ := repo.GetWallet(ctx, "buyer-1")
	if !w.Balance.Equal(decimal.Zero) {
		t.Errorf("buyer balance = %v, want 0", w.Balance)
	}
	holds := historyOfType(t, repo, txn.ID, domain.HistoryEscrowHold)
	if len(holds) != 1 {
		t.Errorf("escrow_hold entries = %d, want 1", len(holds))
	}
}

func TestNotificationFailureDoesNotFailTransition(t *testing.T) {
	e, _, sender := newTestEngine(t)
	ctx := context.Background()
	txn := createTestTransaction(t, e)
	sender.Err = errors.New("broker down")

	updated, err := e.AttemptTransition(ctx, txn.ID, domain.ActionSubmit, "buyer-1", nil)
	if err != nil {
		t.Fatalf("submit error = %v, notification failure must not propagate", err)
	}
	if updated.Status != domain.StatusPendingApproval {
		t.Errorf("Status = %v, want pending_approval", updated.Status)
	}
}

func TestNotifications_AcceptBySellerNotifiesBuyerOnly(t *testing.T) {
	e, _, sender := newTestEngine(t)
	ctx := context.Background()
	txn := createTestTransaction(t, e)

	e.AttemptTransition(ctx, txn.ID, domain.ActionSubmit, "buyer-1", nil)
	e.AttemptTransition(ctx, txn.ID, domain.ActionAccept, "seller-1", nil)

	for _, msg := range sender.Sent {
		if msg.Title == "Transaction accepted" && msg.UserID != "buyer-1" {
			t.Errorf("accept notification recipient = %v, want buyer-1", msg.UserID)
		}
	}
}

func TestResolveDispute(t *testing.T) {
	e, repo, _ := newTestEngine(t)
	ctx := context.Background()
	txn := advanceToDelivered(t, e, repo)
	if _, err := e.AttemptTransition(ctx, txn.ID, domain.ActionDispute, "buyer-1", &TransitionPayload{Reason: "late"}); err != nil {
		t.Fatalf("dispute error = %v", err)
	}

	// Neither party can act while the dispute is open.
	if _, err := e.AttemptTransition(ctx, txn.ID, domain.ActionComplete, "buyer-1", nil); domain.KindOf(err) != domain.KindForbidden {
		t.Fatalf("complete during dispute kind = %v, want Forbidden", domain.KindOf(err))
	}

	updated, err := e.ResolveDispute(ctx, txn.ID, domain.StatusCompleted, "admin-1", "work was acceptable")
	if err != nil {
		t.Fatalf("ResolveDispute() error = %v", err)
	}
	if updated.Status != domain.StatusCompleted {
		t.Fatalf("Status = %v, want completed", updated.Status)
	}
	if w, _ := repo.GetWallet(ctx, "seller-1"); !w.Balance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("seller balance = %v, want 100 after resolution", w.Balance)
	}

	// Resolution is final.
	if _, err := e.ResolveDispute(ctx, txn.ID, domain.StatusCancelled, "admin-1", "changed my mind"); domain.KindOf(err) != domain.KindInvalidTransition {
		t.Errorf("second resolution kind = %v, want InvalidTransition", domain.KindOf(err))
	}
}

func TestResolveDispute_OnlyFromDisputed(t *testing.T) {
	e, repo, _ := newTestEngine(t)
	ctx := context.Background()
	txn := advanceToDelivered(t, e, repo)

	// Delivered awaits the buyer's decision; the operator path must not
	// provide a back door around it.
	_, err := e.ResolveDispute(ctx, txn.ID, domain.StatusCompleted, "admin-1", "looks fine to me")
	if domain.KindOf(err) != domain.KindInvalidTransition {
		t.Fatalf("resolve from delivered kind = %v, want InvalidTransition", domain.KindOf(err))
	}

	stored, _ := e.GetTransaction(ctx, txn.ID)
	if stored.Status != domain.StatusDelivered {
		t.Errorf("Status = %v, want delivered untouched", stored.Status)
	}
	if w, _ := repo.GetWallet(ctx, "seller-1"); !w.Balance.Equal(decimal.Zero) {
		t.Errorf("seller balance = %v, want 0: no funds may be released", w.Balance)
	}
}

func TestResolveDispute_RequiresNote(t *testing.T) {
	e, repo, _ := newTestEngine(t)
	ctx := context.Background()
	txn := advanceToDelivered(t, e, repo)
	if _, err := e.AttemptTransition(ctx, txn.ID, domain.ActionDispute, "buyer-1", &TransitionPayload{Reason: "late"}); err != nil {
		t.Fatalf("dispute error = %v", err)
	}

	for _, note := range []string{"", "   "} {
		_, err := e.ResolveDispute(ctx, txn.ID, domain.StatusCancelled, "admin-1", note)
		var ve *domain.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("resolve with note %q error = %v, want ValidationError", note, err)
		}
	}

	stored, _ := e.GetTransaction(ctx, txn.ID)
	if stored.Status != domain.StatusDisputed {
		t.Errorf("Status = %v, want disputed after rejected resolutions", stored.Status)
	}
	if _, err := e.ResolveDispute(ctx, txn.ID, domain.StatusCancelled, "admin-1", "parties settled offline"); err != nil {
		t.Errorf("resolve with note error = %v", err)
	}
}

func TestResolveDispute_InvalidOutcome(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.ResolveDispute(context.Background(), "any", domain.StatusFunded, "admin-1", "")
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("error = %v, want ValidationError", err)
	}
}

func TestWallet_TopUpAndZeroView(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	w, err := e.Wallet(ctx, "nobody")
	if err != nil {
		t.Fatalf("Wallet() error = %v", err)
	}
	if !w.Balance.Equal(decimal.Zero) {
		t.Errorf("Balance = %v, want 0", w.Balance)
	}

	w, err = e.TopUpWallet(ctx, "u1", decimal.NewFromInt(25))
	if err != nil {
		t.Fatalf("TopUpWallet() error = %v", err)
	}
	if !w.Balance.Equal(decimal.NewFromInt(25)) {
		t.Errorf("Balance = %v, want 25", w.Balance)
	}

	if _, err := e.TopUpWallet(ctx, "u1", decimal.Zero); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("TopUpWallet(0) error = %v, want ErrInvalidAmount", err)
	}
}

func TestAvailableActions_ViaEngine(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	txn := createTestTransaction(t, e)

	actions, err := e.AvailableActions(ctx, txn.ID, "buyer-1")
	if err != nil {
		t.Fatalf("AvailableActions() error = %v", err)
	}
	if len(actions) != 1 || actions[0].Action != domain.ActionSubmit {
		t.Errorf("actions = %v, want [submit]", actions)
	}

	if _, err := e.AvailableActions(ctx, "missing", "buyer-1"); domain.KindOf(err) != domain.KindNotFound {
		t.Errorf("kind = %v, want NotFound", domain.KindOf(err))
	}
}

func TestLegacyStatusSpelling_Normalized(t *testing.T) {
	e, repo, _ := newTestEngine(t)
	ctx := context.Background()
	txn := createTestTransaction(t, e)

	// Simulate a legacy row written with an alternate spelling.
	legacy := txn.Clone()
	legacy.Status = domain.Status("Pending")
	if err := repo.UpdateTransactionStatus(ctx, legacy); err != nil {
		t.Fatalf("seeding legacy status: %v", err)
	}

	updated, err := e.AttemptTransition(ctx, txn.ID, domain.ActionAccept, "seller-1", nil)
	if err != nil {
		t.Fatalf("accept on legacy status error = %v", err)
	}
	if updated.Status != domain.StatusAccepted {
		t.Errorf("Status = %v, want accepted", updated.Status)
	}
}
