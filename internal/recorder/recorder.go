// Package recorder consumes close confirmations from the bus and feeds the
// two downstream read models: the durable trade-history store and the
// per-owner balance cache. It holds no state of its own; losing and
// replaying events converges both sinks.
package recorder

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/openlever/margind/internal/domain"
)

// cleanupInterval is how often expired dedup entries are evicted.
const cleanupInterval = 5 * time.Minute

// Recorder persists settled trades and mirrors updated balances.
type Recorder struct {
	bus      domain.SignalBus
	trades   domain.TradeStore
	balances domain.BalanceCache
	dedup    *dedup
	logger   *slog.Logger
}

// New creates a Recorder.
func New(bus domain.SignalBus, trades domain.TradeStore, balances domain.BalanceCache, logger *slog.Logger) *Recorder {
	return &Recorder{
		bus:      bus,
		trades:   trades,
		balances: balances,
		dedup:    newDedup(10 * time.Minute),
		logger:   logger.With(slog.String("component", "recorder")),
	}
}

// Run consumes result events until the context is cancelled. Only close
// confirmations are persisted; open results and balance snapshots pass by.
func (r *Recorder) Run(ctx context.Context) error {
	ch, err := r.bus.Subscribe(ctx, domain.ChannelResults)
	if err != nil {
		return err
	}
	r.logger.Info("recorder started")
	defer r.logger.Info("recorder stopped")

	cleanup := time.NewTicker(cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cleanup.C:
			r.dedup.cleanup()
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, payload)
		}
	}
}

func (r *Recorder) handle(ctx context.Context, payload []byte) {
	var env domain.ResultEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		r.logger.WarnContext(ctx, "dropping malformed result event",
			slog.Int("payload_len", len(payload)),
			slog.String("error", err.Error()),
		)
		return
	}
	if env.Kind != domain.EventCloseConfirmation || env.Close == nil {
		return
	}
	conf := *env.Close
	if conf.Rejected {
		return
	}
	if r.dedup.isDuplicate(conf.PositionID) {
		return
	}

	rec := domain.TradeRecord{
		PositionID:  conf.PositionID,
		RequestID:   conf.RequestID,
		Owner:       conf.Owner,
		Asset:       conf.Asset,
		Side:        conf.Side,
		Margin:      conf.Margin,
		Leverage:    conf.Leverage,
		Quantity:    conf.Quantity,
		EntryPrice:  conf.EntryPrice,
		ClosePrice:  conf.ClosePrice,
		RealizedPnL: conf.RealizedPnL,
		Liquidated:  conf.Liquidated,
		ClosedAt:    conf.ClosedAt,
	}
	if err := r.trades.Insert(ctx, rec); err != nil {
		r.logger.ErrorContext(ctx, "persist trade failed",
			slog.String("position_id", conf.PositionID),
			slog.String("error", err.Error()),
		)
		// Fall through: the balance cache update is independent.
	}

	if err := r.balances.SetBalance(ctx, conf.Owner, conf.UpdatedBalance); err != nil {
		r.logger.WarnContext(ctx, "balance cache update failed",
			slog.String("owner", conf.Owner),
			slog.String("error", err.Error()),
		)
	}
}
