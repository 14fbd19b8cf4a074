package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/openlever/margind/internal/domain"
)

// PriceHandler serves the current cached prices.
type PriceHandler struct {
	prices domain.PriceCache
	assets []string
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler. assets is the default set returned
// when the request does not name any.
func NewPriceHandler(prices domain.PriceCache, assets []string, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{
		prices: prices,
		assets: assets,
		logger: logger,
	}
}

// ListPrices returns the latest cached price per asset. Assets with no cached
// price are omitted from the response.
// GET /api/prices?assets=BTC,ETH
func (h *PriceHandler) ListPrices(w http.ResponseWriter, r *http.Request) {
	assets := h.assets
	if v := r.URL.Query().Get("assets"); v != "" {
		assets = nil
		for _, a := range strings.Split(v, ",") {
			if a = strings.TrimSpace(a); a != "" {
				assets = append(assets, a)
			}
		}
	}
	if len(assets) == 0 {
		writeError(w, http.StatusBadRequest, "assets query parameter required")
		return
	}

	prices, err := h.prices.GetPrices(r.Context(), assets)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list prices failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to fetch prices")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"prices": prices})
}
