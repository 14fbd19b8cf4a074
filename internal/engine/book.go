// Package engine implements the order and risk core: the in-memory position
// book, the order-open path, the liquidation monitor, and close settlement.
// The book is the single serialization point for position and balance
// mutation; every other piece of the engine is stateless.
package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openlever/margind/internal/domain"
	"github.com/openlever/margind/internal/pricing"
)

// BookConfig holds the risk parameters of the position book.
type BookConfig struct {
	// InitialBalance is credited lazily to an owner on first contact.
	InitialBalance float64

	// MaintenanceMarginRatio is the equity/margin floor below which a
	// position is force-closed.
	MaintenanceMarginRatio float64

	// ReturnMarginOnClose controls whether closing credits margin plus
	// realized PnL back to the owner, or realized PnL only (the behaviour
	// of the system this engine replaces).
	ReturnMarginOnClose bool
}

// Book is the authoritative in-memory store of positions and balances. All
// access goes through a single mutex so a price tick can never interleave
// with a command on the same record.
type Book struct {
	mu  sync.Mutex
	cfg BookConfig

	positions   map[string]*domain.Position            // by position id, terminal included
	openByAsset map[string]map[string]*domain.Position // open positions only
	balances    map[string]float64

	// lastTick guards against out-of-order price delivery per asset.
	lastTick map[string]time.Time
	// markPrice is the latest accepted price per asset.
	markPrice map[string]float64

	// closePending marks positions with an in-flight liquidation command so
	// repeated ticks do not queue a second one.
	closePending map[string]bool

	// openRequests makes the open command idempotent under redelivery:
	// request id -> position id of the first accepted open.
	openRequests map[string]string
	// closeResults retains the confirmation of every terminal transition so
	// a duplicate close returns the prior outcome instead of a double credit.
	closeResults map[string]domain.CloseConfirmation
}

// NewBook creates an empty Book with the given risk parameters.
func NewBook(cfg BookConfig) *Book {
	return &Book{
		cfg:          cfg,
		positions:    make(map[string]*domain.Position),
		openByAsset:  make(map[string]map[string]*domain.Position),
		balances:     make(map[string]float64),
		lastTick:     make(map[string]time.Time),
		markPrice:    make(map[string]float64),
		closePending: make(map[string]bool),
		openRequests: make(map[string]string),
		closeResults: make(map[string]domain.CloseConfirmation),
	}
}

// balanceLocked returns the owner's balance, seeding it with the configured
// initial balance on first contact. Callers must hold b.mu.
func (b *Book) balanceLocked(owner string) float64 {
	bal, ok := b.balances[owner]
	if !ok {
		bal = b.cfg.InitialBalance
		b.balances[owner] = bal
	}
	return bal
}

// Open creates a position at the given entry price, debiting the margin from
// the owner's balance. It is idempotent on the command's request id: a
// redelivered open returns the originally created position without a second
// debit. Fails with domain.ErrInsufficientBalance when the owner cannot
// cover the margin.
func (b *Book) Open(cmd domain.OpenCommand, entryPrice float64, now time.Time) (domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id, ok := b.openRequests[cmd.RequestID]; ok {
		if prev, ok := b.positions[id]; ok {
			return *prev, nil
		}
	}

	bal := b.balanceLocked(cmd.Owner)
	if bal < cmd.Margin {
		return domain.Position{}, domain.ErrInsufficientBalance
	}

	pos := &domain.Position{
		ID:            uuid.New().String(),
		Owner:         cmd.Owner,
		Asset:         cmd.Asset,
		Side:          cmd.Side,
		Margin:        cmd.Margin,
		Leverage:      cmd.Leverage,
		Quantity:      pricing.Quantity(cmd.Margin, cmd.Leverage, entryPrice),
		EntryPrice:    entryPrice,
		MarkPrice:     entryPrice,
		UnrealizedPnL: 0,
		Status:        domain.PositionStatusOpen,
		RequestID:     cmd.RequestID,
		OpenedAt:      now,
	}

	b.balances[cmd.Owner] = bal - cmd.Margin
	b.positions[pos.ID] = pos
	byAsset := b.openByAsset[cmd.Asset]
	if byAsset == nil {
		byAsset = make(map[string]*domain.Position)
		b.openByAsset[cmd.Asset] = byAsset
	}
	byAsset[pos.ID] = pos
	b.openRequests[cmd.RequestID] = pos.ID

	return *pos, nil
}

// ApplyPrice records a new mark price for an asset, recomputes unrealized
// PnL for every open position on it, and returns a close command for each
// position whose margin ratio fell below the maintenance floor. Ticks older
// than the last accepted one for the asset are discarded. A position with a
// liquidation already in flight is never returned twice.
func (b *Book) ApplyPrice(asset string, price float64, ts time.Time) []domain.CloseCommand {
	b.mu.Lock()
	defer b.mu.Unlock()

	if last, ok := b.lastTick[asset]; ok && ts.Before(last) {
		return nil
	}
	b.lastTick[asset] = ts
	b.markPrice[asset] = price

	var liquidations []domain.CloseCommand
	for _, pos := range b.openByAsset[asset] {
		pos.MarkPrice = price
		pos.UnrealizedPnL = pricing.UnrealizedPnL(pos.Side, pos.Quantity, pos.EntryPrice, price)

		if pos.MarginRatio() >= b.cfg.MaintenanceMarginRatio {
			continue
		}
		if b.closePending[pos.ID] {
			continue
		}
		b.closePending[pos.ID] = true
		liquidations = append(liquidations, domain.CloseCommand{
			RequestID:  uuid.New().String(),
			PositionID: pos.ID,
			Liquidated: true,
		})
	}
	return liquidations
}

// MarkPrice returns the latest accepted price for an asset, if any.
func (b *Book) MarkPrice(asset string) (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	price, ok := b.markPrice[asset]
	return price, ok
}

// Close settles a position. The close price is the latest mark price for the
// asset; when none has been observed the entry price is used and the
// confirmation is flagged stale. Closing a position that is already terminal
// returns the prior confirmation with duplicate set, and never credits the
// balance a second time. An unknown position id fails with domain.ErrNotFound.
func (b *Book) Close(cmd domain.CloseCommand, now time.Time) (conf domain.CloseConfirmation, duplicate bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.positions[cmd.PositionID]
	if !ok {
		return domain.CloseConfirmation{}, false, domain.ErrNotFound
	}
	if pos.Status.Terminal() {
		prior := b.closeResults[pos.ID]
		prior.RequestID = cmd.RequestID
		prior.Duplicate = true
		return prior, true, nil
	}

	closePrice, havePrice := b.markPrice[pos.Asset]
	if !havePrice {
		closePrice = pos.EntryPrice
	}
	realized := pricing.UnrealizedPnL(pos.Side, pos.Quantity, pos.EntryPrice, closePrice)

	credit := realized
	if b.cfg.ReturnMarginOnClose {
		credit += pos.Margin
	}
	balance := b.balanceLocked(pos.Owner) + credit
	b.balances[pos.Owner] = balance

	status := domain.PositionStatusClosed
	if cmd.Liquidated {
		status = domain.PositionStatusLiquidated
	}
	closedAt := now
	pos.Status = status
	pos.MarkPrice = closePrice
	pos.UnrealizedPnL = 0
	pos.ClosedAt = &closedAt
	pos.ClosePrice = &closePrice
	pos.RealizedPnL = &realized

	delete(b.openByAsset[pos.Asset], pos.ID)
	delete(b.closePending, pos.ID)

	conf = domain.CloseConfirmation{
		RequestID:       cmd.RequestID,
		PositionID:      pos.ID,
		Owner:           pos.Owner,
		Asset:           pos.Asset,
		Side:            pos.Side,
		Margin:          pos.Margin,
		Leverage:        pos.Leverage,
		Quantity:        pos.Quantity,
		EntryPrice:      pos.EntryPrice,
		ClosePrice:      closePrice,
		RealizedPnL:     realized,
		UpdatedBalance:  balance,
		Liquidated:      cmd.Liquidated,
		StaleClosePrice: !havePrice,
		ClosedAt:        closedAt,
	}
	b.closeResults[pos.ID] = conf
	return conf, false, nil
}

// OpenPositions returns copies of the owner's open positions.
func (b *Book) OpenPositions(owner string) []domain.Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []domain.Position
	for _, byAsset := range b.openByAsset {
		for _, pos := range byAsset {
			if pos.Owner == owner {
				out = append(out, *pos)
			}
		}
	}
	return out
}

// Balance returns the owner's available balance, seeding it on first contact.
func (b *Book) Balance(owner string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balanceLocked(owner)
}
