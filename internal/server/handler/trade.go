package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/openlever/margind/internal/domain"
	"github.com/openlever/margind/internal/server/middleware"
)

// TradeDispatcher defines the methods the trade handler requires from the
// correlation gateway. The boolean result reports whether the engine replied
// within the await window; false means the outcome is indeterminate.
type TradeDispatcher interface {
	OpenPosition(ctx context.Context, cmd domain.OpenCommand) (domain.OpenResult, bool, error)
	ClosePosition(ctx context.Context, cmd domain.CloseCommand) (domain.CloseConfirmation, bool, error)
}

// TradeHandler serves the position open and close endpoints.
type TradeHandler struct {
	dispatch         TradeDispatcher
	prices           domain.PriceCache
	defaultTolerance float64
	logger           *slog.Logger
}

// NewTradeHandler creates a TradeHandler. defaultTolerance is the slippage
// tolerance applied when the request does not specify one.
func NewTradeHandler(dispatch TradeDispatcher, prices domain.PriceCache, defaultTolerance float64, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		dispatch:         dispatch,
		prices:           prices,
		defaultTolerance: defaultTolerance,
		logger:           logger,
	}
}

type openPositionRequest struct {
	Asset          string  `json:"asset"`
	Side           string  `json:"side"`
	Margin         float64 `json:"margin"`
	Leverage       float64 `json:"leverage"`
	Tolerance      float64 `json:"tolerance"`
	ReferencePrice float64 `json:"reference_price"`
}

type pendingResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// OpenPosition opens a leveraged position. The request is published to the
// engine and the handler waits for the correlated result; if the engine does
// not reply in time the response is 202 with the request id, and the command
// may still have executed.
// POST /api/positions
func (h *TradeHandler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	owner := middleware.Owner(r)

	var req openPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	side := domain.Side(req.Side)
	switch {
	case req.Asset == "":
		writeError(w, http.StatusBadRequest, "asset required")
		return
	case !side.Valid():
		writeError(w, http.StatusBadRequest, "side must be long or short")
		return
	case req.Margin <= 0:
		writeError(w, http.StatusBadRequest, "margin must be positive")
		return
	case req.Leverage < 1:
		writeError(w, http.StatusBadRequest, "leverage must be at least 1")
		return
	case req.Tolerance < 0:
		writeError(w, http.StatusBadRequest, "tolerance must not be negative")
		return
	}

	tolerance := req.Tolerance
	if tolerance == 0 {
		tolerance = h.defaultTolerance
	}

	// The reference price is the quote the caller traded against. When the
	// request does not carry one, the gateway captures the current cached
	// price as the reference.
	refPrice := req.ReferencePrice
	refTime := time.Now().UTC()
	if refPrice == 0 {
		price, ts, err := h.prices.GetPrice(r.Context(), req.Asset)
		if err != nil {
			if errors.Is(err, domain.ErrPriceUnavailable) {
				writeError(w, http.StatusConflict, "no price available for asset")
				return
			}
			h.logger.ErrorContext(r.Context(), "handler: reference price lookup failed",
				slog.String("asset", req.Asset),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to fetch reference price")
			return
		}
		refPrice = price
		refTime = ts
	}

	cmd := domain.OpenCommand{
		RequestID:      uuid.New().String(),
		Owner:          owner,
		Asset:          req.Asset,
		Side:           side,
		Margin:         req.Margin,
		Leverage:       req.Leverage,
		Tolerance:      tolerance,
		ReferencePrice: refPrice,
		ReferenceTime:  refTime,
	}

	result, resolved, err := h.dispatch.OpenPosition(r.Context(), cmd)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: open dispatch failed",
			slog.String("request_id", cmd.RequestID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to dispatch open command")
		return
	}
	if !resolved {
		writeJSON(w, http.StatusAccepted, pendingResponse{
			RequestID: cmd.RequestID,
			Status:    "pending",
		})
		return
	}

	if !result.Accepted {
		writeJSON(w, rejectionStatus(result.Reason), result)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type closePositionRequest struct {
	PositionID string `json:"position_id"`
}

// ClosePosition closes an open position at the current mark price. Closing an
// already-closed position replays the original confirmation.
// POST /api/positions/close
func (h *TradeHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	var req closePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.PositionID == "" {
		writeError(w, http.StatusBadRequest, "position_id required")
		return
	}

	cmd := domain.CloseCommand{
		RequestID:  uuid.New().String(),
		PositionID: req.PositionID,
	}

	conf, resolved, err := h.dispatch.ClosePosition(r.Context(), cmd)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: close dispatch failed",
			slog.String("request_id", cmd.RequestID),
			slog.String("position_id", req.PositionID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to dispatch close command")
		return
	}
	if !resolved {
		writeJSON(w, http.StatusAccepted, pendingResponse{
			RequestID: cmd.RequestID,
			Status:    "pending",
		})
		return
	}

	if conf.Rejected {
		writeJSON(w, rejectionStatus(conf.Reason), conf)
		return
	}
	writeJSON(w, http.StatusOK, conf)
}

// rejectionStatus maps an engine rejection reason to an HTTP status code.
func rejectionStatus(reason string) int {
	switch reason {
	case domain.ReasonNotFound:
		return http.StatusNotFound
	case domain.ReasonInvalidCommand:
		return http.StatusBadRequest
	case domain.ReasonInsufficientBalance:
		return http.StatusPaymentRequired
	case domain.ReasonPriceUnavailable, domain.ReasonSlippageExceeded:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}
