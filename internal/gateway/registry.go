// Package gateway bridges the synchronous HTTP surface to the asynchronous
// engine. A caller registers a pending entry under its correlation id before
// dispatching a command, then awaits the matching result event. Exactly one
// of result arrival or timeout wins; late events are dropped.
package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openlever/margind/internal/domain"
)

// Registry is the pending-request table keyed by correlation id. It is safe
// for concurrent use.
type Registry struct {
	mu      sync.Mutex
	pending map[string]chan domain.ResultEnvelope
	logger  *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		pending: make(map[string]chan domain.ResultEnvelope),
		logger:  logger.With(slog.String("component", "correlation_registry")),
	}
}

// Pending is a registered wait for a single correlation id.
type Pending struct {
	id  string
	ch  chan domain.ResultEnvelope
	reg *Registry
}

// Register creates a pending entry for the given correlation id. Call it
// before dispatching the command so a fast result cannot race the
// registration. The returned Pending must be finished with Await or Cancel.
func (r *Registry) Register(id string) *Pending {
	ch := make(chan domain.ResultEnvelope, 1)

	r.mu.Lock()
	if _, exists := r.pending[id]; exists {
		// Correlation ids are caller-generated UUIDs; a collision here means
		// a retry raced its own predecessor. The newer wait wins.
		r.logger.Warn("replacing pending entry", slog.String("request_id", id))
	}
	r.pending[id] = ch
	r.mu.Unlock()

	return &Pending{id: id, ch: ch, reg: r}
}

// Resolve delivers a result to the waiter registered under the envelope's
// correlation id. It returns false when no entry exists, either because the
// waiter already timed out or because no caller ever awaited this id (e.g. a
// liquidation-generated close). An entry is removed exactly once; a second
// Resolve for the same id is a no-op.
func (r *Registry) Resolve(env domain.ResultEnvelope) bool {
	r.mu.Lock()
	ch, ok := r.pending[env.RequestID]
	if ok {
		delete(r.pending, env.RequestID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	// Buffered channel of size 1; the send never blocks.
	ch <- env
	return true
}

// Len returns the number of in-flight pending entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Await blocks until the result arrives, the timeout elapses, or the context
// is cancelled. On timeout or cancellation it returns ok=false, the
// indeterminate outcome: the command may still complete later, and its late
// result will be discarded by the resolver. The pending entry is always
// removed before Await returns.
func (p *Pending) Await(ctx context.Context, timeout time.Duration) (domain.ResultEnvelope, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case env := <-p.ch:
		return env, true
	case <-timer.C:
	case <-ctx.Done():
	}

	p.reg.unregister(p.id, p.ch)

	// A resolution may have slipped in between the timer firing and the
	// entry being removed; if so it is sitting in the buffer and still wins.
	select {
	case env := <-p.ch:
		return env, true
	default:
		return domain.ResultEnvelope{}, false
	}
}

// Cancel removes the pending entry without waiting. Safe to call after Await.
func (p *Pending) Cancel() {
	p.reg.unregister(p.id, p.ch)
}

// unregister removes the entry only if it still belongs to the given channel,
// so a stale Pending that was replaced under the same id cannot evict its
// successor.
func (r *Registry) unregister(id string, ch chan domain.ResultEnvelope) {
	r.mu.Lock()
	if cur, ok := r.pending[id]; ok && cur == ch {
		delete(r.pending, id)
	}
	r.mu.Unlock()
}
