package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/openlever/margind/internal/domain"
	"github.com/openlever/margind/internal/notify"
	"github.com/openlever/margind/internal/pricing"
)

// Config holds the engine's risk and publishing parameters.
type Config struct {
	InitialBalance         float64
	MaintenanceMarginRatio float64
	ReturnMarginOnClose    bool

	// LiquidationRetries and LiquidationBackoff control republish attempts
	// for liquidation close commands. A missed liquidation carries risk, so
	// these publishes are retried; ordinary result publishes are not.
	LiquidationRetries int
	LiquidationBackoff time.Duration
}

// Engine orchestrates open validation, settlement, and the liquidation
// monitor over the position book. Results are published on the bus for the
// correlation gateway and the recorder.
type Engine struct {
	book     *Book
	prices   domain.PriceCache
	bus      domain.SignalBus
	notifier *notify.Notifier
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Engine with a fresh book.
func New(prices domain.PriceCache, bus domain.SignalBus, notifier *notify.Notifier, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		book: NewBook(BookConfig{
			InitialBalance:         cfg.InitialBalance,
			MaintenanceMarginRatio: cfg.MaintenanceMarginRatio,
			ReturnMarginOnClose:    cfg.ReturnMarginOnClose,
		}),
		prices:   prices,
		bus:      bus,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "engine")),
		now:      time.Now,
	}
}

// Book exposes the underlying position book for the snapshot writer.
func (e *Engine) Book() *Book {
	return e.book
}

// OpenPosition validates an open command against the live mark price and
// creates the position. Each validation step is a distinct exit: missing
// price, slippage outside the tolerance band, or insufficient balance. No
// state is touched before all checks pass.
func (e *Engine) OpenPosition(ctx context.Context, cmd domain.OpenCommand) domain.OpenResult {
	reject := func(reason string) domain.OpenResult {
		return domain.OpenResult{RequestID: cmd.RequestID, Accepted: false, Reason: reason}
	}

	if cmd.Owner == "" || cmd.Asset == "" || !cmd.Side.Valid() || cmd.Margin <= 0 || cmd.Leverage < 1 {
		e.logger.WarnContext(ctx, "invalid open command",
			slog.String("request_id", cmd.RequestID),
			slog.String("owner", cmd.Owner),
			slog.String("asset", cmd.Asset),
		)
		return reject(domain.ReasonInvalidCommand)
	}

	markPrice, _, err := e.prices.GetPrice(ctx, cmd.Asset)
	if err != nil {
		e.logger.WarnContext(ctx, "mark price unavailable",
			slog.String("request_id", cmd.RequestID),
			slog.String("asset", cmd.Asset),
			slog.String("error", err.Error()),
		)
		return reject(domain.ReasonPriceUnavailable)
	}

	if !pricing.AcceptSlippage(cmd.Side, cmd.ReferencePrice, markPrice, cmd.Tolerance) {
		e.logger.InfoContext(ctx, "slippage rejected",
			slog.String("request_id", cmd.RequestID),
			slog.String("asset", cmd.Asset),
			slog.Float64("reference_price", cmd.ReferencePrice),
			slog.Float64("mark_price", markPrice),
			slog.Float64("tolerance", cmd.Tolerance),
		)
		return reject(domain.ReasonSlippageExceeded)
	}

	pos, err := e.book.Open(cmd, markPrice, e.now().UTC())
	if err != nil {
		return reject(domain.ReasonFor(err))
	}

	e.logger.InfoContext(ctx, "position opened",
		slog.String("request_id", cmd.RequestID),
		slog.String("position_id", pos.ID),
		slog.String("owner", pos.Owner),
		slog.String("asset", pos.Asset),
		slog.String("side", string(pos.Side)),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("quantity", pos.Quantity),
	)
	return domain.OpenResult{RequestID: cmd.RequestID, Accepted: true, Position: &pos}
}

// ClosePosition settles a close command, manual or liquidation-triggered.
// Unknown position ids are rejected; duplicate closes return the prior
// confirmation (at-least-once delivery safety).
func (e *Engine) ClosePosition(ctx context.Context, cmd domain.CloseCommand) domain.CloseConfirmation {
	conf, duplicate, err := e.book.Close(cmd, e.now().UTC())
	if err != nil {
		e.logger.WarnContext(ctx, "close rejected",
			slog.String("request_id", cmd.RequestID),
			slog.String("position_id", cmd.PositionID),
			slog.String("error", err.Error()),
		)
		return domain.CloseConfirmation{
			RequestID:  cmd.RequestID,
			PositionID: cmd.PositionID,
			Rejected:   true,
			Reason:     domain.ReasonFor(err),
		}
	}
	if duplicate {
		e.logger.InfoContext(ctx, "duplicate close, returning prior result",
			slog.String("request_id", cmd.RequestID),
			slog.String("position_id", cmd.PositionID),
		)
		return conf
	}

	e.logger.InfoContext(ctx, "position closed",
		slog.String("position_id", conf.PositionID),
		slog.String("owner", conf.Owner),
		slog.Bool("liquidated", conf.Liquidated),
		slog.Float64("close_price", conf.ClosePrice),
		slog.Float64("realized_pnl", conf.RealizedPnL),
	)

	if conf.Liquidated && e.notifier != nil {
		msg := "position " + conf.PositionID + " on " + conf.Asset + " liquidated, owner " + conf.Owner
		if err := e.notifier.Notify(ctx, "liquidation", "Position liquidated", msg); err != nil {
			e.logger.WarnContext(ctx, "liquidation notification failed",
				slog.String("error", err.Error()),
			)
		}
	}
	return conf
}

// HandlePriceUpdate applies a price tick to the book and dispatches a close
// command for every position the tick pushed under the maintenance floor.
// The commands go through the regular close channel so liquidations share
// the settlement path with manual closes.
func (e *Engine) HandlePriceUpdate(ctx context.Context, update domain.PriceUpdate) {
	liquidations := e.book.ApplyPrice(update.Asset, update.Value(), update.Timestamp)
	for _, cmd := range liquidations {
		e.logger.WarnContext(ctx, "liquidation triggered",
			slog.String("position_id", cmd.PositionID),
			slog.String("asset", update.Asset),
			slog.Float64("price", update.Value()),
		)
		e.publishLiquidation(ctx, cmd)
	}
}

// publishLiquidation publishes a liquidation close command with capped
// backoff. Giving up is logged loudly: the position stays close-pending, and
// an operator (or the audit stream consumer) has to intervene.
func (e *Engine) publishLiquidation(ctx context.Context, cmd domain.CloseCommand) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		e.logger.ErrorContext(ctx, "marshal liquidation command",
			slog.String("position_id", cmd.PositionID),
			slog.String("error", err.Error()),
		)
		return
	}

	backoff := e.cfg.LiquidationBackoff
	for attempt := 0; ; attempt++ {
		err = e.bus.Publish(ctx, domain.ChannelClose, payload)
		if err == nil {
			break
		}
		if attempt >= e.cfg.LiquidationRetries {
			e.logger.ErrorContext(ctx, "liquidation publish failed, giving up",
				slog.String("position_id", cmd.PositionID),
				slog.Int("attempts", attempt+1),
				slog.String("error", err.Error()),
			)
			return
		}
		e.logger.WarnContext(ctx, "liquidation publish failed, retrying",
			slog.String("position_id", cmd.PositionID),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	if err := e.bus.StreamAppend(ctx, domain.StreamAuditName, payload); err != nil {
		e.logger.WarnContext(ctx, "liquidation audit append failed",
			slog.String("position_id", cmd.PositionID),
			slog.String("error", err.Error()),
		)
	}
}

// Balance answers a balance query with the owner's balance and open positions.
func (e *Engine) Balance(ctx context.Context, query domain.BalanceQuery) domain.BalanceSnapshot {
	return domain.BalanceSnapshot{
		RequestID:     query.RequestID,
		Owner:         query.Owner,
		Balance:       e.book.Balance(query.Owner),
		OpenPositions: e.book.OpenPositions(query.Owner),
	}
}
