package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlever/margind/internal/domain"
)

func testBook() *Book {
	return NewBook(BookConfig{
		InitialBalance:         5000,
		MaintenanceMarginRatio: 0.99,
		ReturnMarginOnClose:    true,
	})
}

func openCmd(requestID string) domain.OpenCommand {
	return domain.OpenCommand{
		RequestID:      requestID,
		Owner:          "alice@example.com",
		Asset:          "BTC",
		Side:           domain.SideLong,
		Margin:         100,
		Leverage:       5,
		Tolerance:      0.01,
		ReferencePrice: 50,
	}
}

func TestBookOpenDebitsMargin(t *testing.T) {
	b := testBook()
	now := time.Now().UTC()

	pos, err := b.Open(openCmd("req-1"), 50, now)
	require.NoError(t, err)

	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.Equal(t, 50.0, pos.EntryPrice)
	assert.InDelta(t, 10.0, pos.Quantity, 1e-9, "quantity = margin * leverage / entry")
	assert.Equal(t, 4900.0, b.Balance("alice@example.com"))
}

func TestBookOpenInsufficientBalance(t *testing.T) {
	b := testBook()

	cmd := openCmd("req-1")
	cmd.Margin = 6000
	_, err := b.Open(cmd, 50, time.Now().UTC())
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// Rejection must not touch the balance.
	assert.Equal(t, 5000.0, b.Balance("alice@example.com"))
}

func TestBookOpenIdempotentOnRequestID(t *testing.T) {
	b := testBook()
	now := time.Now().UTC()

	first, err := b.Open(openCmd("req-1"), 50, now)
	require.NoError(t, err)
	second, err := b.Open(openCmd("req-1"), 51, now.Add(time.Second))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.EntryPrice, second.EntryPrice, "redelivery returns the original open")
	assert.Equal(t, 4900.0, b.Balance("alice@example.com"), "margin debited once")
}

func TestBookApplyPriceDiscardsStaleTicks(t *testing.T) {
	b := testBook()
	now := time.Now().UTC()

	b.ApplyPrice("BTC", 50, now)
	b.ApplyPrice("BTC", 40, now.Add(-time.Second))

	price, ok := b.MarkPrice("BTC")
	require.True(t, ok)
	assert.Equal(t, 50.0, price, "older tick must not overwrite the mark price")
}

func TestBookApplyPriceLiquidatesOnce(t *testing.T) {
	b := testBook()
	now := time.Now().UTC()

	pos, err := b.Open(openCmd("req-1"), 50, now)
	require.NoError(t, err)

	// Equity 100 + 10*(49.9-50) = 99 -> ratio exactly at the floor, survives.
	cmds := b.ApplyPrice("BTC", 49.9, now.Add(time.Second))
	assert.Empty(t, cmds)

	// Equity 98 -> ratio 0.98 < 0.99, liquidate.
	cmds = b.ApplyPrice("BTC", 49.8, now.Add(2*time.Second))
	require.Len(t, cmds, 1)
	assert.Equal(t, pos.ID, cmds[0].PositionID)
	assert.True(t, cmds[0].Liquidated)
	assert.NotEmpty(t, cmds[0].RequestID)

	// The in-flight liquidation suppresses repeats on further ticks.
	cmds = b.ApplyPrice("BTC", 49.0, now.Add(3*time.Second))
	assert.Empty(t, cmds)
}

func TestBookShortLiquidation(t *testing.T) {
	b := testBook()
	now := time.Now().UTC()

	cmd := openCmd("req-1")
	cmd.Side = domain.SideShort
	pos, err := b.Open(cmd, 50, now)
	require.NoError(t, err)

	// A rising price moves a short towards liquidation.
	cmds := b.ApplyPrice("BTC", 50.2, now.Add(time.Second))
	require.Len(t, cmds, 1)
	assert.Equal(t, pos.ID, cmds[0].PositionID)
}

func TestBookCloseSettlesAndCredits(t *testing.T) {
	b := testBook()
	now := time.Now().UTC()

	pos, err := b.Open(openCmd("req-1"), 50, now)
	require.NoError(t, err)
	b.ApplyPrice("BTC", 55, now.Add(time.Second))

	conf, duplicate, err := b.Close(domain.CloseCommand{RequestID: "close-1", PositionID: pos.ID}, now.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, duplicate)
	assert.Equal(t, 55.0, conf.ClosePrice)
	assert.InDelta(t, 50.0, conf.RealizedPnL, 1e-9)
	assert.False(t, conf.StaleClosePrice)
	assert.False(t, conf.Liquidated)
	// 5000 - 100 margin + (100 margin + 50 pnl) back.
	assert.Equal(t, 5050.0, conf.UpdatedBalance)
	assert.Equal(t, 5050.0, b.Balance("alice@example.com"))
	assert.Empty(t, b.OpenPositions("alice@example.com"))
}

func TestBookCloseDuplicateReplaysPriorResult(t *testing.T) {
	b := testBook()
	now := time.Now().UTC()

	pos, err := b.Open(openCmd("req-1"), 50, now)
	require.NoError(t, err)
	b.ApplyPrice("BTC", 55, now.Add(time.Second))

	first, _, err := b.Close(domain.CloseCommand{RequestID: "close-1", PositionID: pos.ID}, now.Add(2*time.Second))
	require.NoError(t, err)

	second, duplicate, err := b.Close(domain.CloseCommand{RequestID: "close-2", PositionID: pos.ID}, now.Add(3*time.Second))
	require.NoError(t, err)
	assert.True(t, duplicate)
	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate, "replay is flagged on the wire")
	assert.Equal(t, "close-2", second.RequestID, "replay carries the caller's request id")
	assert.Equal(t, first.RealizedPnL, second.RealizedPnL)
	assert.Equal(t, first.UpdatedBalance, second.UpdatedBalance)
	assert.Equal(t, 5050.0, b.Balance("alice@example.com"), "no double credit")
}

func TestBookCloseUnknownPosition(t *testing.T) {
	b := testBook()

	_, _, err := b.Close(domain.CloseCommand{RequestID: "close-1", PositionID: "nope"}, time.Now().UTC())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBookCloseWithoutMarkPriceIsStale(t *testing.T) {
	b := testBook()
	now := time.Now().UTC()

	pos, err := b.Open(openCmd("req-1"), 50, now)
	require.NoError(t, err)

	conf, _, err := b.Close(domain.CloseCommand{RequestID: "close-1", PositionID: pos.ID}, now.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, conf.StaleClosePrice)
	assert.Equal(t, 50.0, conf.ClosePrice, "falls back to the entry price")
	assert.Zero(t, conf.RealizedPnL)
}

func TestBookCloseWithoutMarginReturn(t *testing.T) {
	b := NewBook(BookConfig{
		InitialBalance:         5000,
		MaintenanceMarginRatio: 0.99,
		ReturnMarginOnClose:    false,
	})
	now := time.Now().UTC()

	pos, err := b.Open(openCmd("req-1"), 50, now)
	require.NoError(t, err)
	b.ApplyPrice("BTC", 55, now.Add(time.Second))

	conf, _, err := b.Close(domain.CloseCommand{RequestID: "close-1", PositionID: pos.ID}, now.Add(2*time.Second))
	require.NoError(t, err)
	// Only realized PnL is credited; the margin stays consumed.
	assert.Equal(t, 4950.0, conf.UpdatedBalance)
}

func TestBookLiquidatedCloseMarksStatus(t *testing.T) {
	b := testBook()
	now := time.Now().UTC()

	pos, err := b.Open(openCmd("req-1"), 50, now)
	require.NoError(t, err)
	b.ApplyPrice("BTC", 49.8, now.Add(time.Second))

	conf, _, err := b.Close(domain.CloseCommand{RequestID: "liq-1", PositionID: pos.ID, Liquidated: true}, now.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, conf.Liquidated)

	snap := b.Snapshot()
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, domain.PositionStatusLiquidated, snap.Positions[0].Status)
}

func TestBookSnapshotRestore(t *testing.T) {
	b := testBook()
	now := time.Now().UTC()

	pos, err := b.Open(openCmd("req-1"), 50, now)
	require.NoError(t, err)
	b.ApplyPrice("BTC", 52, now.Add(time.Second))

	restored := NewBook(BookConfig{
		InitialBalance:         5000,
		MaintenanceMarginRatio: 0.99,
		ReturnMarginOnClose:    true,
	})
	restored.Restore(b.Snapshot())

	assert.Equal(t, 4900.0, restored.Balance("alice@example.com"))
	price, ok := restored.MarkPrice("BTC")
	require.True(t, ok)
	assert.Equal(t, 52.0, price)

	// Open idempotency survives the restore.
	again, err := restored.Open(openCmd("req-1"), 60, now.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, pos.ID, again.ID)

	// And the restored position still settles.
	conf, duplicate, err := restored.Close(domain.CloseCommand{RequestID: "close-1", PositionID: pos.ID}, now.Add(3*time.Second))
	require.NoError(t, err)
	assert.False(t, duplicate)
	assert.Equal(t, 52.0, conf.ClosePrice)
}
