package domain

import "time"

// Side is the direction of a leveraged position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Valid reports whether the side is one of the two known directions.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// PositionStatus tracks the lifecycle of a position. Open is the only mutable
// state; closed and liquidated are terminal.
type PositionStatus string

const (
	PositionStatusOpen       PositionStatus = "open"
	PositionStatusClosed     PositionStatus = "closed"
	PositionStatusLiquidated PositionStatus = "liquidated"
)

// Terminal reports whether the status admits no further transitions.
func (s PositionStatus) Terminal() bool {
	return s == PositionStatusClosed || s == PositionStatusLiquidated
}

// Position represents an open or historical leveraged trade. Quantity is
// fixed at open time as margin * leverage / entry price and never changes;
// MarkPrice and UnrealizedPnL are recomputed on every accepted price update.
type Position struct {
	ID            string
	Owner         string
	Asset         string
	Side          Side
	Margin        float64
	Leverage      float64
	Quantity      float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	Status        PositionStatus
	RequestID     string // correlation id of the command that created it
	OpenedAt      time.Time
	ClosedAt      *time.Time
	ClosePrice    *float64
	RealizedPnL   *float64
}

// Equity is the collateral remaining after unrealized losses.
func (p Position) Equity() float64 {
	return p.Margin + p.UnrealizedPnL
}

// MarginRatio is equity over committed margin. A position is liquidated when
// this falls below the configured maintenance ratio.
func (p Position) MarginRatio() float64 {
	if p.Margin <= 0 {
		return 0
	}
	return p.Equity() / p.Margin
}
