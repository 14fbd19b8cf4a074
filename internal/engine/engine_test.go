package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlever/margind/internal/domain"
)

// fakePriceCache serves fixed prices from memory.
type fakePriceCache struct {
	prices map[string]float64
}

func (f *fakePriceCache) SetPrice(ctx context.Context, asset string, price float64, ts time.Time) error {
	f.prices[asset] = price
	return nil
}

func (f *fakePriceCache) GetPrice(ctx context.Context, asset string) (float64, time.Time, error) {
	price, ok := f.prices[asset]
	if !ok {
		return 0, time.Time{}, domain.ErrPriceUnavailable
	}
	return price, time.Now().UTC(), nil
}

func (f *fakePriceCache) GetPrices(ctx context.Context, assets []string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, a := range assets {
		if p, ok := f.prices[a]; ok {
			out[a] = p
		}
	}
	return out, nil
}

type published struct {
	channel string
	payload []byte
}

// fakeBus records publishes and can fail the first failPublishes attempts.
type fakeBus struct {
	published     []published
	streamed      []published
	failPublishes int
	attempts      int
}

func (f *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	f.attempts++
	if f.attempts <= f.failPublishes {
		return errors.New("bus unavailable")
	}
	f.published = append(f.published, published{channel, payload})
	return nil
}

func (f *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (f *fakeBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	f.streamed = append(f.streamed, published{stream, payload})
	return nil
}

func (f *fakeBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

var (
	_ domain.PriceCache = (*fakePriceCache)(nil)
	_ domain.SignalBus  = (*fakeBus)(nil)
)

func testEngine(prices map[string]float64, bus *fakeBus) *Engine {
	return New(
		&fakePriceCache{prices: prices},
		bus,
		nil,
		Config{
			InitialBalance:         5000,
			MaintenanceMarginRatio: 0.99,
			ReturnMarginOnClose:    true,
			LiquidationRetries:     3,
			LiquidationBackoff:     time.Millisecond,
		},
		slog.New(slog.DiscardHandler),
	)
}

func TestOpenPositionPriceUnavailable(t *testing.T) {
	e := testEngine(map[string]float64{}, &fakeBus{})

	res := e.OpenPosition(context.Background(), openCmd("req-1"))
	assert.False(t, res.Accepted)
	assert.Equal(t, domain.ReasonPriceUnavailable, res.Reason)
}

func TestOpenPositionSlippageRejected(t *testing.T) {
	e := testEngine(map[string]float64{"BTC": 51}, &fakeBus{})

	cmd := openCmd("req-1")
	cmd.ReferencePrice = 50
	cmd.Tolerance = 0.01 // band tops out at 50.5, mark is 51

	res := e.OpenPosition(context.Background(), cmd)
	assert.False(t, res.Accepted)
	assert.Equal(t, domain.ReasonSlippageExceeded, res.Reason)
	assert.Equal(t, 5000.0, e.Book().Balance(cmd.Owner), "rejection must not mutate the book")
}

func TestOpenPositionInvalidCommand(t *testing.T) {
	e := testEngine(map[string]float64{"BTC": 50}, &fakeBus{})

	cmd := openCmd("req-1")
	cmd.Margin = -1
	res := e.OpenPosition(context.Background(), cmd)
	assert.False(t, res.Accepted)
	assert.Equal(t, domain.ReasonInvalidCommand, res.Reason)
}

func TestOpenPositionEntersAtMarkPrice(t *testing.T) {
	e := testEngine(map[string]float64{"BTC": 50.2}, &fakeBus{})

	cmd := openCmd("req-1")
	cmd.ReferencePrice = 50
	cmd.Tolerance = 0.01

	res := e.OpenPosition(context.Background(), cmd)
	require.True(t, res.Accepted)
	require.NotNil(t, res.Position)
	assert.Equal(t, 50.2, res.Position.EntryPrice, "fills at the live mark, not the reference")
}

func TestClosePositionUnknown(t *testing.T) {
	e := testEngine(map[string]float64{}, &fakeBus{})

	conf := e.ClosePosition(context.Background(), domain.CloseCommand{RequestID: "close-1", PositionID: "nope"})
	assert.True(t, conf.Rejected)
	assert.Equal(t, domain.ReasonNotFound, conf.Reason)
}

func TestHandlePriceUpdatePublishesLiquidation(t *testing.T) {
	bus := &fakeBus{}
	e := testEngine(map[string]float64{"BTC": 50}, bus)

	res := e.OpenPosition(context.Background(), openCmd("req-1"))
	require.True(t, res.Accepted)

	e.HandlePriceUpdate(context.Background(), domain.PriceUpdate{
		Asset:     "BTC",
		Price:     498,
		Scale:     1,
		Timestamp: time.Now().UTC(),
	})

	require.Len(t, bus.published, 1)
	assert.Equal(t, domain.ChannelClose, bus.published[0].channel)

	var cmd domain.CloseCommand
	require.NoError(t, json.Unmarshal(bus.published[0].payload, &cmd))
	assert.Equal(t, res.Position.ID, cmd.PositionID)
	assert.True(t, cmd.Liquidated)

	require.Len(t, bus.streamed, 1, "liquidation is mirrored to the audit stream")
	assert.Equal(t, domain.StreamAuditName, bus.streamed[0].channel)

	// The same breach on the next tick must not queue a second liquidation.
	e.HandlePriceUpdate(context.Background(), domain.PriceUpdate{
		Asset:     "BTC",
		Price:     490,
		Scale:     1,
		Timestamp: time.Now().UTC(),
	})
	assert.Len(t, bus.published, 1)
}

func TestLiquidationPublishRetries(t *testing.T) {
	bus := &fakeBus{failPublishes: 2}
	e := testEngine(map[string]float64{"BTC": 50}, bus)

	res := e.OpenPosition(context.Background(), openCmd("req-1"))
	require.True(t, res.Accepted)

	e.HandlePriceUpdate(context.Background(), domain.PriceUpdate{
		Asset:     "BTC",
		Price:     498,
		Scale:     1,
		Timestamp: time.Now().UTC(),
	})

	assert.Equal(t, 3, bus.attempts, "two failures then success")
	require.Len(t, bus.published, 1)
}

func TestBalanceQuery(t *testing.T) {
	e := testEngine(map[string]float64{"BTC": 50}, &fakeBus{})

	res := e.OpenPosition(context.Background(), openCmd("req-1"))
	require.True(t, res.Accepted)

	snap := e.Balance(context.Background(), domain.BalanceQuery{RequestID: "bal-1", Owner: "alice@example.com"})
	assert.Equal(t, 4900.0, snap.Balance)
	require.Len(t, snap.OpenPositions, 1)
	assert.Equal(t, res.Position.ID, snap.OpenPositions[0].ID)
}
