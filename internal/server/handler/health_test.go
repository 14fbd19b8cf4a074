package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheckReportsModeAndFeeds(t *testing.T) {
	prices := &fakePrices{prices: map[string]float64{"BTC": 97000}}
	h := NewHealthHandler("full", prices, []string{"BTC", "ETH"}, slog.New(slog.DiscardHandler))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status string                     `json:"status"`
		Mode   string                     `json:"mode"`
		Feeds  map[string]json.RawMessage `json:"feeds"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "full", body.Mode)
	assert.Contains(t, string(body.Feeds["ETH"]), "no_data")

	var btc struct {
		AgeSeconds float64 `json:"age_seconds"`
	}
	require.NoError(t, json.Unmarshal(body.Feeds["BTC"], &btc))
	assert.GreaterOrEqual(t, btc.AgeSeconds, 0.0)
}
