package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlever/margind/internal/domain"
)

// replyBus resolves every published command through the registry, emulating
// an engine that answers immediately.
type replyBus struct {
	registry *Registry
	reply    func(requestID string) domain.ResultEnvelope
	err      error
}

func (b *replyBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if b.err != nil {
		return b.err
	}
	var probe struct {
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return err
	}
	go b.registry.Resolve(b.reply(probe.RequestID))
	return nil
}

func (b *replyBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

func (b *replyBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	return nil
}

func (b *replyBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

var _ domain.SignalBus = (*replyBus)(nil)

func TestDispatcherOpenRoundTrip(t *testing.T) {
	registry := testRegistry()
	bus := &replyBus{
		registry: registry,
		reply: func(requestID string) domain.ResultEnvelope {
			return domain.ResultEnvelope{
				Kind:      domain.EventOpenResult,
				RequestID: requestID,
				Open:      &domain.OpenResult{RequestID: requestID, Accepted: true},
			}
		},
	}
	d := NewDispatcher(registry, bus, time.Second, slog.New(slog.DiscardHandler))

	res, resolved, err := d.OpenPosition(context.Background(), domain.OpenCommand{RequestID: "req-1"})
	require.NoError(t, err)
	require.True(t, resolved)
	assert.True(t, res.Accepted)
	assert.Zero(t, registry.Len())
}

func TestDispatcherBalanceRoundTrip(t *testing.T) {
	registry := testRegistry()
	bus := &replyBus{
		registry: registry,
		reply: func(requestID string) domain.ResultEnvelope {
			return domain.ResultEnvelope{
				Kind:      domain.EventBalanceSnapshot,
				RequestID: requestID,
				Balance:   &domain.BalanceSnapshot{RequestID: requestID, Balance: 5000},
			}
		},
	}
	d := NewDispatcher(registry, bus, time.Second, slog.New(slog.DiscardHandler))

	snap, resolved, err := d.QueryBalance(context.Background(), domain.BalanceQuery{RequestID: "bal-1", Owner: "alice@example.com"})
	require.NoError(t, err)
	require.True(t, resolved)
	assert.Equal(t, 5000.0, snap.Balance)
}

func TestDispatcherTimeout(t *testing.T) {
	registry := testRegistry()
	// A bus that accepts the publish but never replies.
	bus := &replyBus{
		registry: registry,
		reply: func(requestID string) domain.ResultEnvelope {
			return domain.ResultEnvelope{RequestID: "someone-else"}
		},
	}
	d := NewDispatcher(registry, bus, 20*time.Millisecond, slog.New(slog.DiscardHandler))

	_, resolved, err := d.ClosePosition(context.Background(), domain.CloseCommand{RequestID: "close-1", PositionID: "pos-1"})
	require.NoError(t, err)
	assert.False(t, resolved, "no reply within the window is indeterminate, not an error")
	assert.Zero(t, registry.Len())
}

func TestDispatcherPublishFailure(t *testing.T) {
	registry := testRegistry()
	bus := &replyBus{registry: registry, err: errors.New("bus down")}
	d := NewDispatcher(registry, bus, time.Second, slog.New(slog.DiscardHandler))

	_, _, err := d.OpenPosition(context.Background(), domain.OpenCommand{RequestID: "req-1"})
	require.Error(t, err)
	assert.Zero(t, registry.Len(), "failed dispatch leaves no orphaned entry")
}

func TestDispatcherMissingPayload(t *testing.T) {
	registry := testRegistry()
	bus := &replyBus{
		registry: registry,
		reply: func(requestID string) domain.ResultEnvelope {
			// Envelope kind mismatch: open reply without its payload.
			return domain.ResultEnvelope{Kind: domain.EventOpenResult, RequestID: requestID}
		},
	}
	d := NewDispatcher(registry, bus, time.Second, slog.New(slog.DiscardHandler))

	_, _, err := d.OpenPosition(context.Background(), domain.OpenCommand{RequestID: "req-1"})
	assert.Error(t, err)
}
