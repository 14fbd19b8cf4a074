package gateway

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/openlever/margind/internal/domain"
)

// Resolver subscribes to the engine's result channel and resolves waiting
// callers through the Registry.
type Resolver struct {
	bus      domain.SignalBus
	registry *Registry
	logger   *slog.Logger
}

// NewResolver creates a Resolver feeding the given registry.
func NewResolver(bus domain.SignalBus, registry *Registry, logger *slog.Logger) *Resolver {
	return &Resolver{
		bus:      bus,
		registry: registry,
		logger:   logger.With(slog.String("component", "result_resolver")),
	}
}

// Run consumes result events until the context is cancelled. Events with no
// waiting caller are logged at debug level and dropped: they are either late
// arrivals for timed-out waits or results of engine-internal commands.
func (r *Resolver) Run(ctx context.Context) error {
	ch, err := r.bus.Subscribe(ctx, domain.ChannelResults)
	if err != nil {
		return err
	}
	r.logger.Info("result resolver started")
	defer r.logger.Info("result resolver stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			var env domain.ResultEnvelope
			if err := json.Unmarshal(payload, &env); err != nil || env.RequestID == "" {
				r.logger.WarnContext(ctx, "dropping malformed result event",
					slog.Int("payload_len", len(payload)),
				)
				continue
			}
			if !r.registry.Resolve(env) {
				r.logger.DebugContext(ctx, "result with no waiter",
					slog.String("kind", env.Kind),
					slog.String("request_id", env.RequestID),
				)
			}
		}
	}
}
