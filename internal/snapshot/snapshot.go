// Package snapshot periodically archives the engine's book state to blob
// storage and restores the latest archive at engine start. The snapshot is
// an operational convenience (warm restart, offline inspection); the trade
// store remains the canonical history.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openlever/margind/internal/domain"
	"github.com/openlever/margind/internal/engine"
)

// latestKey is the well-known object key of the most recent snapshot.
const latestKey = "snapshots/latest.json"

// Service writes periodic snapshots of a Book and can restore the latest one.
type Service struct {
	book     *engine.Book
	writer   domain.BlobWriter
	reader   domain.BlobReader
	interval time.Duration
	logger   *slog.Logger
}

// NewService creates a snapshot Service for the given book.
func NewService(book *engine.Book, writer domain.BlobWriter, reader domain.BlobReader, interval time.Duration, logger *slog.Logger) *Service {
	return &Service{
		book:     book,
		writer:   writer,
		reader:   reader,
		interval: interval,
		logger:   logger.With(slog.String("component", "snapshot")),
	}
}

// Restore loads the latest snapshot into the book. A missing snapshot is not
// an error; the engine simply starts cold.
func (s *Service) Restore(ctx context.Context) error {
	body, err := s.reader.Get(ctx, latestKey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Info("no snapshot found, starting cold")
			return nil
		}
		return fmt.Errorf("snapshot: restore: %w", err)
	}
	defer body.Close()

	var snap engine.BookSnapshot
	if err := json.NewDecoder(body).Decode(&snap); err != nil {
		return fmt.Errorf("snapshot: decode: %w", err)
	}
	s.book.Restore(snap)
	s.logger.Info("snapshot restored",
		slog.Time("taken_at", snap.TakenAt),
		slog.Int("positions", len(snap.Positions)),
	)
	return nil
}

// Run writes a snapshot every interval until the context is cancelled. A
// failed write is logged and retried on the next tick.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("snapshot writer started", slog.Duration("interval", s.interval))
	defer s.logger.Info("snapshot writer stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.write(ctx); err != nil {
				s.logger.WarnContext(ctx, "snapshot write failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (s *Service) write(ctx context.Context) error {
	snap := s.book.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}

	dated := "snapshots/book-" + snap.TakenAt.Format("20060102T150405Z") + ".json"
	if err := s.writer.Put(ctx, dated, bytes.NewReader(data), "application/json"); err != nil {
		return err
	}
	if err := s.writer.Put(ctx, latestKey, bytes.NewReader(data), "application/json"); err != nil {
		return err
	}

	s.logger.DebugContext(ctx, "snapshot written",
		slog.String("key", dated),
		slog.Int("positions", len(snap.Positions)),
	)
	return nil
}
