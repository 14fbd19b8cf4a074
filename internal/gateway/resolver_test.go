package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlever/margind/internal/domain"
)

// feedBus hands the resolver a channel the test writes results into.
type feedBus struct {
	results chan []byte
}

func (f *feedBus) Publish(ctx context.Context, channel string, payload []byte) error { return nil }

func (f *feedBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return f.results, nil
}

func (f *feedBus) StreamAppend(ctx context.Context, stream string, payload []byte) error { return nil }

func (f *feedBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

var _ domain.SignalBus = (*feedBus)(nil)

func TestResolverDropsMalformedResults(t *testing.T) {
	bus := &feedBus{results: make(chan []byte, 8)}
	registry := testRegistry()
	resolver := NewResolver(bus, registry, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- resolver.Run(ctx) }()

	p := registry.Register("req-1")

	// Garbage and a request-id-less envelope must be dropped without
	// stalling the loop or touching the registry.
	bus.results <- []byte(`{nope`)
	bus.results <- []byte(`{"kind":"open_result"}`)

	payload, err := json.Marshal(domain.ResultEnvelope{
		Kind:      domain.EventOpenResult,
		RequestID: "req-1",
		Open:      &domain.OpenResult{RequestID: "req-1", Accepted: true},
	})
	require.NoError(t, err)
	bus.results <- payload

	env, got := p.Await(ctx, time.Second)
	require.True(t, got)
	assert.Equal(t, "req-1", env.RequestID)
	require.NotNil(t, env.Open)
	assert.True(t, env.Open.Accepted)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
