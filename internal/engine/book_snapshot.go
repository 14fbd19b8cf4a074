package engine

import (
	"time"

	"github.com/openlever/margind/internal/domain"
)

// BookSnapshot is a point-in-time copy of the book state, serializable for
// the periodic snapshot writer and loadable at engine start.
type BookSnapshot struct {
	TakenAt      time.Time                            `json:"taken_at"`
	Positions    []domain.Position                    `json:"positions"`
	Balances     map[string]float64                   `json:"balances"`
	MarkPrices   map[string]float64                   `json:"mark_prices"`
	LastTicks    map[string]time.Time                 `json:"last_ticks"`
	OpenRequests map[string]string                    `json:"open_requests"`
	CloseResults map[string]domain.CloseConfirmation  `json:"close_results"`
}

// Snapshot returns a deep copy of the book state.
func (b *Book) Snapshot() BookSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := BookSnapshot{
		TakenAt:      time.Now().UTC(),
		Positions:    make([]domain.Position, 0, len(b.positions)),
		Balances:     make(map[string]float64, len(b.balances)),
		MarkPrices:   make(map[string]float64, len(b.markPrice)),
		LastTicks:    make(map[string]time.Time, len(b.lastTick)),
		OpenRequests: make(map[string]string, len(b.openRequests)),
		CloseResults: make(map[string]domain.CloseConfirmation, len(b.closeResults)),
	}
	for _, pos := range b.positions {
		snap.Positions = append(snap.Positions, *pos)
	}
	for owner, bal := range b.balances {
		snap.Balances[owner] = bal
	}
	for asset, price := range b.markPrice {
		snap.MarkPrices[asset] = price
	}
	for asset, ts := range b.lastTick {
		snap.LastTicks[asset] = ts
	}
	for req, id := range b.openRequests {
		snap.OpenRequests[req] = id
	}
	for id, conf := range b.closeResults {
		snap.CloseResults[id] = conf
	}
	return snap
}

// Restore replaces the book state with the given snapshot. In-flight
// liquidation flags are not restored; the next price tick re-evaluates every
// open position anyway.
func (b *Book) Restore(snap BookSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.positions = make(map[string]*domain.Position, len(snap.Positions))
	b.openByAsset = make(map[string]map[string]*domain.Position)
	b.closePending = make(map[string]bool)
	for i := range snap.Positions {
		pos := snap.Positions[i]
		b.positions[pos.ID] = &pos
		if pos.Status == domain.PositionStatusOpen {
			byAsset := b.openByAsset[pos.Asset]
			if byAsset == nil {
				byAsset = make(map[string]*domain.Position)
				b.openByAsset[pos.Asset] = byAsset
			}
			byAsset[pos.ID] = &pos
		}
	}

	b.balances = make(map[string]float64, len(snap.Balances))
	for owner, bal := range snap.Balances {
		b.balances[owner] = bal
	}
	b.markPrice = make(map[string]float64, len(snap.MarkPrices))
	for asset, price := range snap.MarkPrices {
		b.markPrice[asset] = price
	}
	b.lastTick = make(map[string]time.Time, len(snap.LastTicks))
	for asset, ts := range snap.LastTicks {
		b.lastTick[asset] = ts
	}
	b.openRequests = make(map[string]string, len(snap.OpenRequests))
	for req, id := range snap.OpenRequests {
		b.openRequests[req] = id
	}
	b.closeResults = make(map[string]domain.CloseConfirmation, len(snap.CloseResults))
	for id, conf := range snap.CloseResults {
		b.closeResults[id] = conf
	}
}
