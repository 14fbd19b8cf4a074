package engine

import (
	"context"
	"encoding/json"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/openlever/margind/internal/domain"
)

// Consumer drives the engine from the bus: one loop per inbound channel
// (prices, opens, closes, balance queries). Each loop is single-threaded so
// commands on the same stream are processed in delivery order; cross-stream
// races are resolved inside the book. A malformed message is dropped with a
// logged anomaly and never stalls the loop.
type Consumer struct {
	engine *Engine
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewConsumer creates a Consumer for the given engine.
func NewConsumer(engine *Engine, bus domain.SignalBus, logger *slog.Logger) *Consumer {
	return &Consumer{
		engine: engine,
		bus:    bus,
		logger: logger.With(slog.String("component", "engine_consumer")),
	}
}

// Run subscribes to all engine channels and blocks until the context is
// cancelled or a subscription fails.
func (c *Consumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.consume(ctx, domain.ChannelPrices, c.handlePrice) })
	g.Go(func() error { return c.consume(ctx, domain.ChannelOpen, c.handleOpen) })
	g.Go(func() error { return c.consume(ctx, domain.ChannelClose, c.handleClose) })
	g.Go(func() error { return c.consume(ctx, domain.ChannelBalance, c.handleBalance) })

	c.logger.Info("engine consumer started")
	defer c.logger.Info("engine consumer stopped")
	return g.Wait()
}

func (c *Consumer) consume(ctx context.Context, channel string, handle func(context.Context, []byte)) error {
	ch, err := c.bus.Subscribe(ctx, channel)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			handle(ctx, payload)
		}
	}
}

func (c *Consumer) handlePrice(ctx context.Context, payload []byte) {
	var update domain.PriceUpdate
	if err := json.Unmarshal(payload, &update); err != nil || update.Asset == "" || update.Value() <= 0 {
		c.dropMalformed(ctx, domain.ChannelPrices, payload, err)
		return
	}
	c.engine.HandlePriceUpdate(ctx, update)
}

func (c *Consumer) handleOpen(ctx context.Context, payload []byte) {
	var cmd domain.OpenCommand
	if err := json.Unmarshal(payload, &cmd); err != nil || cmd.RequestID == "" {
		c.dropMalformed(ctx, domain.ChannelOpen, payload, err)
		return
	}
	result := c.engine.OpenPosition(ctx, cmd)
	c.publishResult(ctx, domain.ResultEnvelope{
		Kind:      domain.EventOpenResult,
		RequestID: cmd.RequestID,
		Open:      &result,
	})
}

func (c *Consumer) handleClose(ctx context.Context, payload []byte) {
	var cmd domain.CloseCommand
	if err := json.Unmarshal(payload, &cmd); err != nil || cmd.RequestID == "" || cmd.PositionID == "" {
		c.dropMalformed(ctx, domain.ChannelClose, payload, err)
		return
	}
	conf := c.engine.ClosePosition(ctx, cmd)
	c.publishResult(ctx, domain.ResultEnvelope{
		Kind:      domain.EventCloseConfirmation,
		RequestID: cmd.RequestID,
		Close:     &conf,
	})
}

func (c *Consumer) handleBalance(ctx context.Context, payload []byte) {
	var query domain.BalanceQuery
	if err := json.Unmarshal(payload, &query); err != nil || query.RequestID == "" {
		c.dropMalformed(ctx, domain.ChannelBalance, payload, err)
		return
	}
	snap := c.engine.Balance(ctx, query)
	c.publishResult(ctx, domain.ResultEnvelope{
		Kind:      domain.EventBalanceSnapshot,
		RequestID: query.RequestID,
		Balance:   &snap,
	})
}

func (c *Consumer) publishResult(ctx context.Context, env domain.ResultEnvelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		c.logger.ErrorContext(ctx, "marshal result envelope",
			slog.String("request_id", env.RequestID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := c.bus.Publish(ctx, domain.ChannelResults, payload); err != nil {
		c.logger.ErrorContext(ctx, "publish result failed",
			slog.String("kind", env.Kind),
			slog.String("request_id", env.RequestID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Consumer) dropMalformed(ctx context.Context, channel string, payload []byte, err error) {
	attrs := []any{
		slog.String("channel", channel),
		slog.Int("payload_len", len(payload)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	c.logger.WarnContext(ctx, "dropping malformed message", attrs...)
}
