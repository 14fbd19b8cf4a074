package feed

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/openlever/margind/internal/domain"
)

// PricePublisher fans a price update out to its two consumers: the price
// cache (read by the gateway and the order-open path) and the bus channel
// the engine's liquidation monitor listens on.
type PricePublisher struct {
	prices domain.PriceCache
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewPricePublisher creates a PricePublisher.
func NewPricePublisher(prices domain.PriceCache, bus domain.SignalBus, logger *slog.Logger) *PricePublisher {
	return &PricePublisher{
		prices: prices,
		bus:    bus,
		logger: logger.With(slog.String("component", "price_publisher")),
	}
}

// Handle stores the update in the price cache and publishes it on the bus.
// Either sink failing is logged but does not block the other; a dropped tick
// is recovered by the next one.
func (p *PricePublisher) Handle(ctx context.Context, update domain.PriceUpdate) {
	if err := p.prices.SetPrice(ctx, update.Asset, update.Value(), update.Timestamp); err != nil {
		p.logger.WarnContext(ctx, "price cache update failed",
			slog.String("asset", update.Asset),
			slog.String("error", err.Error()),
		)
	}

	payload, err := json.Marshal(update)
	if err != nil {
		p.logger.ErrorContext(ctx, "marshal price update",
			slog.String("asset", update.Asset),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := p.bus.Publish(ctx, domain.ChannelPrices, payload); err != nil {
		p.logger.WarnContext(ctx, "price publish failed",
			slog.String("asset", update.Asset),
			slog.String("error", err.Error()),
		)
	}
}
