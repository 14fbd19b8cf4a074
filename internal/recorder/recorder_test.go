package recorder

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlever/margind/internal/domain"
)

type fakeTradeStore struct {
	inserted []domain.TradeRecord
}

func (f *fakeTradeStore) Insert(ctx context.Context, rec domain.TradeRecord) error {
	f.inserted = append(f.inserted, rec)
	return nil
}

func (f *fakeTradeStore) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	return nil, nil
}

func (f *fakeTradeStore) Count(ctx context.Context) (int64, error) {
	return int64(len(f.inserted)), nil
}

type fakeBalanceCache struct {
	balances map[string]float64
}

func (f *fakeBalanceCache) SetBalance(ctx context.Context, owner string, balance float64) error {
	f.balances[owner] = balance
	return nil
}

func (f *fakeBalanceCache) GetBalance(ctx context.Context, owner string) (float64, error) {
	bal, ok := f.balances[owner]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return bal, nil
}

var (
	_ domain.TradeStore   = (*fakeTradeStore)(nil)
	_ domain.BalanceCache = (*fakeBalanceCache)(nil)
)

func closeEvent(t *testing.T, conf domain.CloseConfirmation) []byte {
	t.Helper()
	payload, err := json.Marshal(domain.ResultEnvelope{
		Kind:      domain.EventCloseConfirmation,
		RequestID: conf.RequestID,
		Close:     &conf,
	})
	require.NoError(t, err)
	return payload
}

func testRecorder() (*Recorder, *fakeTradeStore, *fakeBalanceCache) {
	trades := &fakeTradeStore{}
	balances := &fakeBalanceCache{balances: make(map[string]float64)}
	rec := New(nil, trades, balances, slog.New(slog.DiscardHandler))
	return rec, trades, balances
}

func TestRecorderPersistsCloseConfirmation(t *testing.T) {
	rec, trades, balances := testRecorder()

	rec.handle(context.Background(), closeEvent(t, domain.CloseConfirmation{
		RequestID:      "close-1",
		PositionID:     "pos-1",
		Owner:          "alice@example.com",
		Asset:          "BTC",
		Side:           domain.SideLong,
		Margin:         100,
		Leverage:       5,
		Quantity:       10,
		EntryPrice:     50,
		ClosePrice:     55,
		RealizedPnL:    50,
		UpdatedBalance: 5050,
		ClosedAt:       time.Now().UTC(),
	}))

	require.Len(t, trades.inserted, 1)
	assert.Equal(t, "pos-1", trades.inserted[0].PositionID)
	assert.Equal(t, 50.0, trades.inserted[0].RealizedPnL)

	bal, err := balances.GetBalance(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, 5050.0, bal)
}

func TestRecorderDeduplicatesRedelivery(t *testing.T) {
	rec, trades, _ := testRecorder()

	event := closeEvent(t, domain.CloseConfirmation{
		RequestID:  "close-1",
		PositionID: "pos-1",
		Owner:      "alice@example.com",
	})
	rec.handle(context.Background(), event)
	rec.handle(context.Background(), event)

	assert.Len(t, trades.inserted, 1)
}

func TestRecorderIgnoresRejectedAndForeignEvents(t *testing.T) {
	rec, trades, balances := testRecorder()

	rec.handle(context.Background(), closeEvent(t, domain.CloseConfirmation{
		RequestID:  "close-1",
		PositionID: "pos-1",
		Rejected:   true,
		Reason:     domain.ReasonNotFound,
	}))

	openPayload, err := json.Marshal(domain.ResultEnvelope{
		Kind:      domain.EventOpenResult,
		RequestID: "req-1",
		Open:      &domain.OpenResult{RequestID: "req-1", Accepted: true},
	})
	require.NoError(t, err)
	rec.handle(context.Background(), openPayload)

	rec.handle(context.Background(), []byte("{not json"))

	assert.Empty(t, trades.inserted)
	assert.Empty(t, balances.balances)
}

func TestDedupWindow(t *testing.T) {
	d := newDedup(10 * time.Millisecond)

	assert.False(t, d.isDuplicate("a"))
	assert.True(t, d.isDuplicate("a"))

	time.Sleep(15 * time.Millisecond)
	d.cleanup()
	assert.False(t, d.isDuplicate("a"), "expired entries are forgotten")
}
