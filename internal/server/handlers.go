package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"escrowd/internal/domain"
	"escrowd/internal/service"
)

// Handlers holds the HTTP handlers over the transaction engine. The caller
// identity arrives in the X-User-ID header, set by the upstream auth layer;
// the engine trusts it and does no authentication of its own.
type Handlers struct {
	engine *service.Engine
	logger *slog.Logger
}

// NewHandlers creates the API handler set.
func NewHandlers(engine *service.Engine, logger *slog.Logger) *Handlers {
	return &Handlers{engine: engine, logger: logger}
}

func callerID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("user")
}

type createTransactionRequest struct {
	BuyerID            string   `json:"buyer_id"`
	SellerID           string   `json:"seller_id"`
	Amount             string   `json:"amount"`
	FeesResponsibility string   `json:"fees_responsibility,omitempty"`
	Terms              []string `json:"terms,omitempty"`
	DeliveryDate       string   `json:"delivery_date,omitempty"`
}

type transactionResponse struct {
	ID                 string   `json:"id"`
	BuyerID            string   `json:"buyer_id"`
	SellerID           string   `json:"seller_id"`
	InitiatedBy        string   `json:"initiated_by"`
	Amount             string   `json:"amount"`
	Status             string   `json:"status"`
	StatusDisplay      string   `json:"status_display"`
	FeesResponsibility string   `json:"fees_responsibility"`
	Terms              []string `json:"terms,omitempty"`
	DeliveryDate       string   `json:"delivery_date,omitempty"`
	CreatedAt          string   `json:"created_at"`
	UpdatedAt          string   `json:"updated_at"`
}

func toTransactionResponse(txn *domain.Transaction) transactionResponse {
	resp := transactionResponse{
		ID:                 txn.ID,
		BuyerID:            txn.BuyerID,
		SellerID:           txn.SellerID,
		InitiatedBy:        txn.InitiatedBy,
		Amount:             txn.Amount.String(),
		Status:             string(txn.Status),
		StatusDisplay:      txn.Status.DisplayName(),
		FeesResponsibility: string(txn.FeesResponsibility),
		Terms:              txn.Terms,
		CreatedAt:          txn.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          txn.UpdatedAt.Format(time.RFC3339),
	}
	if txn.DeliveryDate != nil {
		resp.DeliveryDate = txn.DeliveryDate.Format("2006-01-02")
	}
	return resp
}

func (h *Handlers) createTransaction(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)
	if caller == "" {
		respondError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}
	var req createTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	params := service.CreateParams{
		BuyerID:            req.BuyerID,
		SellerID:           req.SellerID,
		InitiatedBy:        caller,
		Amount:             amount,
		FeesResponsibility: domain.FeesResponsibility(req.FeesResponsibility),
		Terms:              req.Terms,
	}
	if req.DeliveryDate != "" {
		d, err := time.Parse("2006-01-02", req.DeliveryDate)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid delivery_date, want YYYY-MM-DD")
			return
		}
		params.DeliveryDate = &d
	}

	txn, err := h.engine.CreateTransaction(r.Context(), params)
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toTransactionResponse(txn))
}

func (h *Handlers) listTransactions(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)
	if caller == "" {
		respondError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}
	txns, err := h.engine.ListTransactions(r.Context(), caller)
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	out := make([]transactionResponse, 0, len(txns))
	for _, txn := range txns {
		out = append(out, toTransactionResponse(txn))
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handlers) getTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := h.engine.GetTransaction(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toTransactionResponse(txn))
}

type actionResponse struct {
	Action      string `json:"action"`
	TargetState string `json:"target_state"`
	Label       string `json:"label"`
}

func (h *Handlers) availableActions(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)
	if caller == "" {
		respondError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}
	actions, err := h.engine.AvailableActions(r.Context(), mux.Vars(r)["id"], caller)
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	out := make([]actionResponse, 0, len(actions))
	for _, a := range actions {
		out = append(out, actionResponse{
			Action:      string(a.Action),
			TargetState: string(a.TargetState),
			Label:       a.Label,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

type transitionRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *Handlers) attemptTransition(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)
	if caller == "" {
		respondError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}
	vars := mux.Vars(r)

	var req transitionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	txn, err := h.engine.AttemptTransition(r.Context(), vars["id"], domain.Action(vars["action"]), caller,
		&service.TransitionPayload{Reason: req.Reason})
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toTransactionResponse(txn))
}

type resolveRequest struct {
	Outcome string `json:"outcome"`
	Note    string `json:"note,omitempty"`
}

func (h *Handlers) resolveDispute(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)
	if caller == "" {
		respondError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	txn, err := h.engine.ResolveDispute(r.Context(), mux.Vars(r)["id"],
		domain.NormalizeStatus(req.Outcome), caller, req.Note)
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toTransactionResponse(txn))
}

type historyResponse struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	Type        string            `json:"type"`
	Amount      string            `json:"amount"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   string            `json:"created_at"`
}

func (h *Handlers) history(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.History(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	out := make([]historyResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyResponse{
			ID:          e.ID,
			UserID:      e.UserID,
			Type:        e.Type,
			Amount:      e.Amount.String(),
			Description: e.Description,
			Metadata:    e.Metadata,
			CreatedAt:   e.CreatedAt.Format(time.RFC3339),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

type walletResponse struct {
	UserID  string `json:"user_id"`
	Balance string `json:"balance"`
}

func (h *Handlers) getWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.engine.Wallet(r.Context(), mux.Vars(r)["user"])
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, walletResponse{UserID: wallet.UserID, Balance: wallet.Balance.String()})
}

type topUpRequest struct {
	Amount string `json:"amount"`
}

func (h *Handlers) topUpWallet(w http.ResponseWriter, r *http.Request) {
	var req topUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	wallet, err := h.engine.TopUpWallet(r.Context(), mux.Vars(r)["user"], amount)
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, walletResponse{UserID: wallet.UserID, Balance: wallet.Balance.String()})
}

type notificationResponse struct {
	ID            string            `json:"id"`
	TransactionID string            `json:"transaction_id"`
	Type          string            `json:"type"`
	Title         string            `json:"title"`
	Message       string            `json:"message"`
	Data          map[string]string `json:"data,omitempty"`
	CreatedAt     string            `json:"created_at"`
	Read          bool              `json:"read"`
}

func (h *Handlers) listNotifications(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)
	if caller == "" {
		respondError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}
	notifications, err := h.engine.Notifications(r.Context(), caller)
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	out := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		out = append(out, notificationResponse{
			ID:            n.ID,
			TransactionID: n.TransactionID,
			Type:          n.Type,
			Title:         n.Title,
			Message:       n.Message,
			Data:          n.Data,
			CreatedAt:     n.CreatedAt.Format(time.RFC3339),
			Read:          n.ReadAt != nil,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handlers) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)
	if caller == "" {
		respondError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}
	if err := h.engine.MarkNotificationRead(r.Context(), mux.Vars(r)["id"], caller); err != nil {
		h.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// respondEngineError maps typed engine errors to HTTP statuses.
func (h *Handlers) respondEngineError(w http.ResponseWriter, err error) {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: ve.Error()})
		return
	}
	switch {
	case errors.Is(err, domain.ErrSameParty),
		errors.Is(err, domain.ErrBadInitiator),
		errors.Is(err, domain.ErrInvalidAmount):
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	var te *domain.TransitionError
	if errors.As(err, &te) {
		status := http.StatusInternalServerError
		switch te.Kind {
		case domain.KindNotFound:
			status = http.StatusNotFound
		case domain.KindForbidden:
			status = http.StatusForbidden
		case domain.KindInvalidTransition, domain.KindConcurrentModification:
			status = http.StatusConflict
		case domain.KindInsufficientFunds, domain.KindMissingReason:
			status = http.StatusUnprocessableEntity
		case domain.KindUnavailable:
			status = http.StatusServiceUnavailable
		}
		respondJSON(w, status, errorResponse{Error: te.Message, Kind: string(te.Kind)})
		return
	}

	h.logger.Error("unhandled error", "error", err)
	respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}
