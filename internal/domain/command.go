package domain

import "time"

// Bus channel names shared by the gateway, feed, and engine processes.
const (
	ChannelPrices   = "prices"
	ChannelOpen     = "cmd:open"
	ChannelClose    = "cmd:close"
	ChannelBalance  = "cmd:balance"
	ChannelResults  = "engine:results"
	StreamAuditName = "engine:audit"
)

// PriceUpdate is published by the feed adapter. The effective price is
// Price / 10^Scale; integer price plus scale survives JSON round-trips
// without float drift at the transport boundary.
type PriceUpdate struct {
	Asset     string    `json:"asset"`
	Price     int64     `json:"price"`
	Scale     int       `json:"scale"`
	Timestamp time.Time `json:"ts"`
}

// Value returns the decoded floating-point price.
func (u PriceUpdate) Value() float64 {
	v := float64(u.Price)
	for i := 0; i < u.Scale; i++ {
		v /= 10
	}
	return v
}

// OpenCommand asks the engine to open a leveraged position. ReferencePrice
// and ReferenceTime are the quote the caller saw; the engine rejects the
// command when the live mark price has drifted beyond Tolerance.
type OpenCommand struct {
	RequestID      string    `json:"request_id"`
	Owner          string    `json:"owner"`
	Asset          string    `json:"asset"`
	Side           Side      `json:"side"`
	Margin         float64   `json:"margin"`
	Leverage       float64   `json:"leverage"`
	Tolerance      float64   `json:"tolerance"`
	ReferencePrice float64   `json:"reference_price"`
	ReferenceTime  time.Time `json:"reference_time"`
}

// CloseCommand asks the engine to close a position. Liquidated marks the
// forced closes emitted by the liquidation monitor; they travel through the
// same settlement path as manual closes.
type CloseCommand struct {
	RequestID  string `json:"request_id"`
	PositionID string `json:"position_id"`
	Liquidated bool   `json:"liquidated"`
}

// BalanceQuery asks the engine for an owner's balance and open positions.
type BalanceQuery struct {
	RequestID string `json:"request_id"`
	Owner     string `json:"owner"`
}
