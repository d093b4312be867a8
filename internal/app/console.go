// Package app provides the interactive admin console for the escrow engine.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"escrowd/internal/domain"
	"escrowd/internal/parser"
	"escrowd/internal/service"
)

// Console executes parsed admin commands against the engine.
type Console struct {
	engine *service.Engine
}

// NewConsole creates a console bound to the engine.
func NewConsole(engine *service.Engine) *Console {
	return &Console{engine: engine}
}

// actionCommands maps console verbs onto lifecycle actions.
var actionCommands = map[string]domain.Action{
	"SUBMIT":   domain.ActionSubmit,
	"ACCEPT":   domain.ActionAccept,
	"REJECT":   domain.ActionCancel,
	"CANCEL":   domain.ActionCancel,
	"FUND":     domain.ActionFund,
	"START":    domain.ActionStartWork,
	"DELIVER":  domain.ActionDeliver,
	"COMPLETE": domain.ActionComplete,
	"DISPUTE":  domain.ActionDispute,
}

// Execute processes a parsed command and returns the result text.
func (c *Console) Execute(ctx context.Context, cmd *parser.Command) (string, error) {
	if action, ok := actionCommands[cmd.Name]; ok {
		return c.handleAction(ctx, action, cmd.Args)
	}
	switch cmd.Name {
	case "CREATE":
		return c.handleCreate(ctx, cmd.Args)
	case "RESOLVE":
		return c.handleResolve(ctx, cmd.Args)
	case "STATUS":
		return c.handleStatus(ctx, cmd.Args)
	case "ACTIONS":
		return c.handleActions(ctx, cmd.Args)
	case "HISTORY":
		return c.handleHistory(ctx, cmd.Args)
	case "WALLET":
		return c.handleWallet(ctx, cmd.Args)
	case "TOPUP":
		return c.handleTopUp(ctx, cmd.Args)
	case "LIST":
		return c.handleList(ctx, cmd.Args)
	case "EXIT":
		// Handled by the runner.
		return "", nil
	default:
		return "", fmt.Errorf("unknown command: %s", cmd.Name)
	}
}

func (c *Console) handleCreate(ctx context.Context, args []string) (string, error) {
	actor, buyerID, sellerID, amountStr := args[0], args[1], args[2], args[3]

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return "", fmt.Errorf("invalid amount: %s", amountStr)
	}
	txn, err := c.engine.CreateTransaction(ctx, service.CreateParams{
		BuyerID:     buyerID,
		SellerID:    sellerID,
		InitiatedBy: actor,
		Amount:      amount,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Transaction %s created: buyer=%s seller=%s amount=%s", txn.ID, buyerID, sellerID, txn.Amount.String()), nil
}

func (c *Console) handleAction(ctx context.Context, action domain.Action, args []string) (string, error) {
	actor, txnID := args[0], args[1]
	payload := &service.TransitionPayload{}
	if len(args) > 2 {
		payload.Reason = strings.Join(args[2:], " ")
	}

	txn, err := c.engine.AttemptTransition(ctx, txnID, action, actor, payload)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Transaction %s is now %s", txn.ID, txn.Status.DisplayName()), nil
}

func (c *Console) handleResolve(ctx context.Context, args []string) (string, error) {
	actor, txnID, outcomeStr := args[0], args[1], args[2]
	note := ""
	if len(args) > 3 {
		note = strings.Join(args[3:], " ")
	}

	txn, err := c.engine.ResolveDispute(ctx, txnID, domain.NormalizeStatus(outcomeStr), actor, note)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Dispute on %s resolved: %s", txn.ID, txn.Status.DisplayName()), nil
}

func (c *Console) handleStatus(ctx context.Context, args []string) (string, error) {
	txn, err := c.engine.GetTransaction(ctx, args[0])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Transaction %s: status=%s buyer=%s seller=%s amount=%s",
		txn.ID, txn.Status, txn.BuyerID, txn.SellerID, txn.Amount.String()), nil
}

func (c *Console) handleActions(ctx context.Context, args []string) (string, error) {
	actor, txnID := args[0], args[1]
	actions, err := c.engine.AvailableActions(ctx, txnID, actor)
	if err != nil {
		return "", err
	}
	if len(actions) == 0 {
		return fmt.Sprintf("No actions available to %s", actor), nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Actions for %s:\n", actor)
	for _, a := range actions {
		fmt.Fprintf(&sb, "  %s -> %s (%s)\n", a.Action, a.TargetState, a.Label)
	}
	return strings.TrimSuffix(sb.String(), "\n"), nil
}

func (c *Console) handleHistory(ctx context.Context, args []string) (string, error) {
	entries, err := c.engine.History(ctx, args[0])
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString("History:\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "  [%s] %s by %s: %s", e.CreatedAt.Format("2006-01-02 15:04:05"), e.Type, e.UserID, e.Description)
		if !e.Amount.IsZero() {
			fmt.Fprintf(&sb, " (%s)", e.Amount.String())
		}
		sb.WriteString("\n")
	}
	return strings.TrimSuffix(sb.String(), "\n"), nil
}

func (c *Console) handleWallet(ctx context.Context, args []string) (string, error) {
	w, err := c.engine.Wallet(ctx, args[0])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Wallet %s: balance=%s", w.UserID, w.Balance.String()), nil
}

func (c *Console) handleTopUp(ctx context.Context, args []string) (string, error) {
	userID, amountStr := args[0], args[1]
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return "", fmt.Errorf("invalid amount: %s", amountStr)
	}
	w, err := c.engine.TopUpWallet(ctx, userID, amount)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Wallet %s: balance=%s", w.UserID, w.Balance.String()), nil
}

func (c *Console) handleList(ctx context.Context, args []string) (string, error) {
	txns, err := c.engine.ListTransactions(ctx, args[0])
	if err != nil {
		return "", err
	}
	if len(txns) == 0 {
		return "No transactions found", nil
	}
	var sb strings.Builder
	sb.WriteString("Transactions:\n")
	for _, txn := range txns {
		fmt.Fprintf(&sb, "  %s: status=%s buyer=%s seller=%s amount=%s\n",
			txn.ID, txn.Status, txn.BuyerID, txn.SellerID, txn.Amount.String())
	}
	return strings.TrimSuffix(sb.String(), "\n"), nil
}
