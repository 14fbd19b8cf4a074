package domain

import "time"

// Result event kinds published on ChannelResults.
const (
	EventOpenResult        = "open_result"
	EventCloseConfirmation = "close_confirmation"
	EventBalanceSnapshot   = "balance_snapshot"
)

// ResultEnvelope is the outer shape of every engine result event. Kind
// selects which payload field is populated; RequestID is duplicated at the
// top level so the correlation gateway can route without decoding payloads.
type ResultEnvelope struct {
	Kind      string             `json:"kind"`
	RequestID string             `json:"request_id"`
	Open      *OpenResult        `json:"open,omitempty"`
	Close     *CloseConfirmation `json:"close,omitempty"`
	Balance   *BalanceSnapshot   `json:"balance,omitempty"`
}

// OpenResult reports the outcome of an OpenCommand. On success Position is
// set; on rejection Reason carries one of the Reason* constants.
type OpenResult struct {
	RequestID string    `json:"request_id"`
	Accepted  bool      `json:"accepted"`
	Reason    string    `json:"reason,omitempty"`
	Position  *Position `json:"position,omitempty"`
}

// CloseConfirmation is the canonical close record. It is the sole feed for
// durable persistence and balance-cache synchronization. StaleClosePrice is
// set when no live mark price was available and the entry price was used;
// Duplicate marks a replay of an earlier confirmation for the same position.
type CloseConfirmation struct {
	RequestID       string    `json:"request_id"`
	PositionID      string    `json:"position_id"`
	Owner           string    `json:"owner"`
	Asset           string    `json:"asset"`
	Side            Side      `json:"side"`
	Margin          float64   `json:"margin"`
	Leverage        float64   `json:"leverage"`
	Quantity        float64   `json:"quantity"`
	EntryPrice      float64   `json:"entry_price"`
	ClosePrice      float64   `json:"close_price"`
	RealizedPnL     float64   `json:"realized_pnl"`
	UpdatedBalance  float64   `json:"updated_balance"`
	Liquidated      bool      `json:"liquidated"`
	StaleClosePrice bool      `json:"stale_close_price"`
	Duplicate       bool      `json:"duplicate"`
	Rejected        bool      `json:"rejected"`
	Reason          string    `json:"reason,omitempty"`
	ClosedAt        time.Time `json:"closed_at"`
}

// BalanceSnapshot answers a BalanceQuery.
type BalanceSnapshot struct {
	RequestID     string     `json:"request_id"`
	Owner         string     `json:"owner"`
	Balance       float64    `json:"balance"`
	OpenPositions []Position `json:"open_positions"`
}
