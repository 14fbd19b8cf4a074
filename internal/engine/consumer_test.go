package engine

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

func testConsumer(prices map[string]float64, bus *fakeBus) *Consumer {
	return NewConsumer(testEngine(prices, bus), bus, slog.New(slog.DiscardHandler))
}

func publishedOn(bus *fakeBus, channel string) []published {
	var out []published
	for _, p := range bus.published {
		if p.channel == channel {
			out = append(out, p)
		}
	}
	return out
}

func TestConsumerDropsPriceEventWithoutPrice(t *testing.T) {
	bus := &fakeBus{}
	c := testConsumer(map[string]float64{"BTC": 50}, bus)
	ctx := context.Background()

	res := c.engine.OpenPosition(ctx, openCmd("req-1"))
	require.True(t, res.Accepted)

	c.handlePrice(ctx, []byte(`{"asset":"BTC","ts":"2026-01-01T00:00:00Z"}`))

	_, ok := c.engine.Book().MarkPrice("BTC")
	assert.False(t, ok, "a price-less event must not become a zero mark")
	assert.Empty(t, publishedOn(bus, domain.ChannelClose), "no forced close from a missing price")
	assert.Len(t, c.engine.Book().OpenPositions("alice@example.com"), 1)
}

func TestConsumerDropsNonPositivePrice(t *testing.T) {
	bus := &fakeBus{}
	c := testConsumer(map[string]float64{"BTC": 50}, bus)
	ctx := context.Background()

	res := c.engine.OpenPosition(ctx, openCmd("req-1"))
	require.True(t, res.Accepted)

	c.handlePrice(ctx, []byte(`{"asset":"BTC","price":0,"scale":0,"ts":"2026-01-01T00:00:00Z"}`))
	c.handlePrice(ctx, []byte(`{"asset":"BTC","price":-500,"scale":1,"ts":"2026-01-01T00:00:01Z"}`))

	_, ok := c.engine.Book().MarkPrice("BTC")
	assert.False(t, ok)
	assert.Empty(t, publishedOn(bus, domain.ChannelClose))
	assert.Len(t, c.engine.Book().OpenPositions("alice@example.com"), 1)
}

func TestConsumerKeepsProcessingAfterGarbagePrice(t *testing.T) {
	bus := &fakeBus{}
	c := testConsumer(map[string]float64{"BTC": 50}, bus)
	ctx := context.Background()

	c.handlePrice(ctx, []byte(`not json`))
	c.handlePrice(ctx, []byte(`{"price":500,"scale":1}`)) // no asset

	update, err := json.Marshal(domain.PriceUpdate{
		Asset: "BTC", Price: 510, Scale: 1, Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)
	c.handlePrice(ctx, update)

	mark, ok := c.engine.Book().MarkPrice("BTC")
	require.True(t, ok)
	assert.Equal(t, 51.0, mark)
}

func TestConsumerDropsMalformedOpen(t *testing.T) {
	bus := &fakeBus{}
	c := testConsumer(map[string]float64{"BTC": 50}, bus)
	ctx := context.Background()

	c.handleOpen(ctx, []byte(`{broken`))
	c.handleOpen(ctx, []byte(`{"owner":"alice@example.com","asset":"BTC"}`)) // no request id
	assert.Empty(t, bus.published, "malformed opens produce no result event")

	cmd, err := json.Marshal(openCmd("req-1"))
	require.NoError(t, err)
	c.handleOpen(ctx, cmd)

	results := publishedOn(bus, domain.ChannelResults)
	require.Len(t, results, 1)

	var env domain.ResultEnvelope
	require.NoError(t, json.Unmarshal(results[0].payload, &env))
	assert.Equal(t, domain.EventOpenResult, env.Kind)
	assert.Equal(t, "req-1", env.RequestID)
	require.NotNil(t, env.Open)
	assert.True(t, env.Open.Accepted)
}

func TestConsumerDropsMalformedClose(t *testing.T) {
	bus := &fakeBus{}
	c := testConsumer(map[string]float64{"BTC": 50}, bus)
	ctx := context.Background()

	res := c.engine.OpenPosition(ctx, openCmd("req-1"))
	require.True(t, res.Accepted)
	bus.published = nil

	c.handleClose(ctx, []byte(`garbage`))
	c.handleClose(ctx, []byte(`{"request_id":"close-1"}`))  // no position id
	c.handleClose(ctx, []byte(`{"position_id":"pos-999"}`)) // no request id
	assert.Empty(t, bus.published)
	assert.Len(t, c.engine.Book().OpenPositions("alice@example.com"), 1)

	cmd, err := json.Marshal(domain.CloseCommand{RequestID: "close-1", PositionID: res.Position.ID})
	require.NoError(t, err)
	c.handleClose(ctx, cmd)

	results := publishedOn(bus, domain.ChannelResults)
	require.Len(t, results, 1)

	var env domain.ResultEnvelope
	require.NoError(t, json.Unmarshal(results[0].payload, &env))
	assert.Equal(t, domain.EventCloseConfirmation, env.Kind)
	require.NotNil(t, env.Close)
	assert.False(t, env.Close.Rejected)
}

func TestConsumerDropsMalformedBalanceQuery(t *testing.T) {
	bus := &fakeBus{}
	c := testConsumer(map[string]float64{}, bus)
	ctx := context.Background()

	c.handleBalance(ctx, []byte(`]`))
	c.handleBalance(ctx, []byte(`{"owner":"alice@example.com"}`)) // no request id
	assert.Empty(t, bus.published)

	query, err := json.Marshal(domain.BalanceQuery{RequestID: "bal-1", Owner: "alice@example.com"})
	require.NoError(t, err)
	c.handleBalance(ctx, query)

	results := publishedOn(bus, domain.ChannelResults)
	require.Len(t, results, 1)

	var env domain.ResultEnvelope
	require.NoError(t, json.Unmarshal(results[0].payload, &env))
	assert.Equal(t, domain.EventBalanceSnapshot, env.Kind)
	require.NotNil(t, env.Balance)
	assert.Equal(t, 5000.0, env.Balance.Balance)
}
