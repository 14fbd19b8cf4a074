package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/openlever/margind/internal/domain"
	"github.com/openlever/margind/internal/server/middleware"
)

// BalanceDispatcher defines the gateway method the account handler uses to
// query the engine's authoritative balance view.
type BalanceDispatcher interface {
	QueryBalance(ctx context.Context, query domain.BalanceQuery) (domain.BalanceSnapshot, bool, error)
}

// AccountHandler serves balance and trade-history endpoints.
type AccountHandler struct {
	dispatch BalanceDispatcher
	trades   domain.TradeStore
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler. trades may be nil when the
// gateway runs without a durable store; the history endpoint then reports
// the store as unavailable.
func NewAccountHandler(dispatch BalanceDispatcher, trades domain.TradeStore, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		dispatch: dispatch,
		trades:   trades,
		logger:   logger,
	}
}

// Balance returns the owner's balance and open positions as the engine sees
// them, including unrealized PnL marked at current prices.
// GET /api/balance
func (h *AccountHandler) Balance(w http.ResponseWriter, r *http.Request) {
	query := domain.BalanceQuery{
		RequestID: uuid.New().String(),
		Owner:     middleware.Owner(r),
	}

	snap, resolved, err := h.dispatch.QueryBalance(r.Context(), query)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: balance dispatch failed",
			slog.String("request_id", query.RequestID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to query balance")
		return
	}
	if !resolved {
		writeJSON(w, http.StatusAccepted, pendingResponse{
			RequestID: query.RequestID,
			Status:    "pending",
		})
		return
	}

	if snap.OpenPositions == nil {
		snap.OpenPositions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, snap)
}

type listTradesResponse struct {
	Trades []domain.TradeRecord `json:"trades"`
}

// ListTrades returns the owner's settled trade history, newest first.
// GET /api/trades?limit=50&offset=0&since=...&until=...
func (h *AccountHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	if h.trades == nil {
		writeError(w, http.StatusServiceUnavailable, "trade history store not configured")
		return
	}

	opts := parseListOpts(r)
	trades, err := h.trades.ListByOwner(r.Context(), middleware.Owner(r), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	if trades == nil {
		trades = []domain.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
}
