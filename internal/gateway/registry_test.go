package gateway

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlever/margind/internal/domain"
)

func testRegistry() *Registry {
	return NewRegistry(slog.New(slog.DiscardHandler))
}

func TestRegistryResolveBeforeAwait(t *testing.T) {
	r := testRegistry()

	p := r.Register("req-1")
	ok := r.Resolve(domain.ResultEnvelope{Kind: domain.EventOpenResult, RequestID: "req-1"})
	require.True(t, ok)

	env, got := p.Await(context.Background(), time.Second)
	require.True(t, got)
	assert.Equal(t, "req-1", env.RequestID)
	assert.Zero(t, r.Len())
}

func TestRegistryAwaitThenResolve(t *testing.T) {
	r := testRegistry()
	p := r.Register("req-1")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		r.Resolve(domain.ResultEnvelope{RequestID: "req-1"})
	}()

	env, got := p.Await(context.Background(), time.Second)
	wg.Wait()
	require.True(t, got)
	assert.Equal(t, "req-1", env.RequestID)
}

func TestRegistryAwaitTimeout(t *testing.T) {
	r := testRegistry()
	p := r.Register("req-1")

	start := time.Now()
	_, got := p.Await(context.Background(), 20*time.Millisecond)
	assert.False(t, got)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Zero(t, r.Len(), "timed-out entry is removed")

	// A late result finds no waiter.
	assert.False(t, r.Resolve(domain.ResultEnvelope{RequestID: "req-1"}))
}

func TestRegistryAwaitContextCancelled(t *testing.T) {
	r := testRegistry()
	p := r.Register("req-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, got := p.Await(ctx, time.Second)
	assert.False(t, got)
	assert.Zero(t, r.Len())
}

func TestRegistryResolveUnknownID(t *testing.T) {
	r := testRegistry()
	assert.False(t, r.Resolve(domain.ResultEnvelope{RequestID: "never-registered"}))
}

func TestRegistryResolveDeliversOnce(t *testing.T) {
	r := testRegistry()
	p := r.Register("req-1")

	assert.True(t, r.Resolve(domain.ResultEnvelope{RequestID: "req-1"}))
	assert.False(t, r.Resolve(domain.ResultEnvelope{RequestID: "req-1"}), "second resolution is dropped")

	_, got := p.Await(context.Background(), time.Second)
	assert.True(t, got)
}

func TestRegistryReplacedEntrySurvivesStaleTimeout(t *testing.T) {
	r := testRegistry()

	stale := r.Register("req-1")
	fresh := r.Register("req-1") // retry under the same id replaces the entry

	// The stale wait times out and must not evict its replacement.
	_, got := stale.Await(context.Background(), 10*time.Millisecond)
	assert.False(t, got)
	assert.Equal(t, 1, r.Len(), "replacement entry is untouched")

	require.True(t, r.Resolve(domain.ResultEnvelope{RequestID: "req-1"}))
	env, got := fresh.Await(context.Background(), time.Second)
	require.True(t, got)
	assert.Equal(t, "req-1", env.RequestID)
	assert.Zero(t, r.Len())
}

func TestRegistryCancel(t *testing.T) {
	r := testRegistry()
	p := r.Register("req-1")
	p.Cancel()

	assert.Zero(t, r.Len())
	assert.False(t, r.Resolve(domain.ResultEnvelope{RequestID: "req-1"}))
}
