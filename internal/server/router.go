package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// NewRouter wires the HTTP routes exposed by the escrow API.
func NewRouter(logger *slog.Logger, h *Handlers) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	r.HandleFunc("/transactions", h.createTransaction).Methods(http.MethodPost)
	r.HandleFunc("/transactions", h.listTransactions).Methods(http.MethodGet)
	r.HandleFunc("/transactions/{id}", h.getTransaction).Methods(http.MethodGet)
	r.HandleFunc("/transactions/{id}/actions", h.availableActions).Methods(http.MethodGet)
	r.HandleFunc("/transactions/{id}/actions/{action}", h.attemptTransition).Methods(http.MethodPost)
	r.HandleFunc("/transactions/{id}/history", h.history).Methods(http.MethodGet)
	r.HandleFunc("/transactions/{id}/resolve", h.resolveDispute).Methods(http.MethodPost)
	r.HandleFunc("/wallets/{user}", h.getWallet).Methods(http.MethodGet)
	r.HandleFunc("/wallets/{user}/topup", h.topUpWallet).Methods(http.MethodPost)
	r.HandleFunc("/notifications", h.listNotifications).Methods(http.MethodGet)
	r.HandleFunc("/notifications/{id}/read", h.markNotificationRead).Methods(http.MethodPost)

	return loggingMiddleware(logger, r)
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}
