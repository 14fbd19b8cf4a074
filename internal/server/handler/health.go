package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/openlever/margind/internal/domain"
)

// HealthHandler serves the health-check endpoint. Beyond liveness it reports
// the run mode and the freshness of each tracked asset's price, which is the
// fastest way to spot a stalled exchange feed.
type HealthHandler struct {
	mode   string
	prices domain.PriceCache
	assets []string
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler for the given run mode and assets.
func NewHealthHandler(mode string, prices domain.PriceCache, assets []string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{mode: mode, prices: prices, assets: assets, logger: logger}
}

// HealthCheck reports liveness, the run mode, and the age of the latest price
// tick per asset. An asset with no cached price yet is reported as "no_data".
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	feeds := make(map[string]any, len(h.assets))
	for _, asset := range h.assets {
		_, ts, err := h.prices.GetPrice(r.Context(), asset)
		if err != nil {
			feeds[asset] = "no_data"
			continue
		}
		feeds[asset] = map[string]any{
			"age_seconds": now.Sub(ts).Seconds(),
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"mode":      h.mode,
		"timestamp": now.Format(time.RFC3339),
		"feeds":     feeds,
	})
}
