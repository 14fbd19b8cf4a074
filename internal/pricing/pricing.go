// Package pricing holds the pure arithmetic of the engine: slippage
// acceptance and profit-and-loss calculation. Nothing here has side effects
// or returns errors; invalid inputs produce the defensive defaults (reject,
// zero) and it is the caller's job to log the anomaly.
package pricing

import "github.com/openlever/margind/internal/domain"

// AcceptSlippage reports whether the current mark price is still within the
// tolerance band around the caller's reference price. A long is rejected when
// the price moved up against the buyer by more than the tolerance; a short
// when it moved down against the seller. An unknown side is always rejected.
func AcceptSlippage(side domain.Side, referencePrice, markPrice, tolerance float64) bool {
	if referencePrice <= 0 || markPrice <= 0 || tolerance < 0 {
		return false
	}
	switch side {
	case domain.SideLong:
		return markPrice <= referencePrice*(1+tolerance)
	case domain.SideShort:
		return markPrice >= referencePrice*(1-tolerance)
	default:
		return false
	}
}

// UnrealizedPnL returns the signed profit or loss of a position against the
// mark price. Longs profit when the price rises, shorts when it falls. An
// unknown side yields 0.
func UnrealizedPnL(side domain.Side, quantity, entryPrice, markPrice float64) float64 {
	switch side {
	case domain.SideLong:
		return (markPrice - entryPrice) * quantity
	case domain.SideShort:
		return (entryPrice - markPrice) * quantity
	default:
		return 0
	}
}

// Quantity derives the position size from committed margin, leverage and the
// validated entry price. It returns 0 when the entry price is not positive.
func Quantity(margin, leverage, entryPrice float64) float64 {
	if entryPrice <= 0 {
		return 0
	}
	return margin * leverage / entryPrice
}
