package domain

import (
	"context"
	"io"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeRecord is a settled trade as persisted in the durable store. Rows are
// written once from close confirmations and never updated.
type TradeRecord struct {
	PositionID  string
	RequestID   string
	Owner       string
	Asset       string
	Side        Side
	Margin      float64
	Leverage    float64
	Quantity    float64
	EntryPrice  float64
	ClosePrice  float64
	RealizedPnL float64
	Liquidated  bool
	ClosedAt    time.Time
}

// TradeStore persists the history of settled trades.
type TradeStore interface {
	Insert(ctx context.Context, rec TradeRecord) error
	ListByOwner(ctx context.Context, owner string, opts ListOpts) ([]TradeRecord, error)
	Count(ctx context.Context) (int64, error)
}

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader downloads objects from blob storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
}
