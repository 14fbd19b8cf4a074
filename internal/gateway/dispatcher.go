package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/openlever/margind/internal/domain"
)

// Dispatcher publishes commands on the signal bus and correlates the
// engine's asynchronous reply through the registry. A false `resolved`
// return means the await window elapsed: the command may still execute
// on the engine, so callers must surface the outcome as indeterminate
// rather than failed.
type Dispatcher struct {
	registry *Registry
	bus      domain.SignalBus
	timeout  time.Duration
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher. timeout bounds each await; zero
// falls back to 5s.
func NewDispatcher(registry *Registry, bus domain.SignalBus, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		registry: registry,
		bus:      bus,
		timeout:  timeout,
		logger:   logger,
	}
}

// OpenPosition dispatches an OpenCommand and waits for the matching
// open result.
func (d *Dispatcher) OpenPosition(ctx context.Context, cmd domain.OpenCommand) (domain.OpenResult, bool, error) {
	env, resolved, err := d.dispatch(ctx, domain.ChannelOpen, cmd.RequestID, cmd)
	if err != nil || !resolved {
		return domain.OpenResult{}, false, err
	}
	if env.Open == nil {
		return domain.OpenResult{}, false, fmt.Errorf("gateway: open %s: result envelope missing payload", cmd.RequestID)
	}
	return *env.Open, true, nil
}

// ClosePosition dispatches a CloseCommand and waits for the matching
// close confirmation.
func (d *Dispatcher) ClosePosition(ctx context.Context, cmd domain.CloseCommand) (domain.CloseConfirmation, bool, error) {
	env, resolved, err := d.dispatch(ctx, domain.ChannelClose, cmd.RequestID, cmd)
	if err != nil || !resolved {
		return domain.CloseConfirmation{}, false, err
	}
	if env.Close == nil {
		return domain.CloseConfirmation{}, false, fmt.Errorf("gateway: close %s: result envelope missing payload", cmd.RequestID)
	}
	return *env.Close, true, nil
}

// QueryBalance dispatches a BalanceQuery and waits for the snapshot.
func (d *Dispatcher) QueryBalance(ctx context.Context, query domain.BalanceQuery) (domain.BalanceSnapshot, bool, error) {
	env, resolved, err := d.dispatch(ctx, domain.ChannelBalance, query.RequestID, query)
	if err != nil || !resolved {
		return domain.BalanceSnapshot{}, false, err
	}
	if env.Balance == nil {
		return domain.BalanceSnapshot{}, false, fmt.Errorf("gateway: balance %s: result envelope missing payload", query.RequestID)
	}
	return *env.Balance, true, nil
}

// dispatch registers the request, publishes the command, and awaits the
// result. The pending entry is registered before publishing so a reply
// that races the await still lands in the channel.
func (d *Dispatcher) dispatch(ctx context.Context, channel, requestID string, cmd any) (domain.ResultEnvelope, bool, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return domain.ResultEnvelope{}, false, fmt.Errorf("gateway: marshal command: %w", err)
	}

	pending := d.registry.Register(requestID)

	if err := d.bus.Publish(ctx, channel, payload); err != nil {
		pending.Cancel()
		return domain.ResultEnvelope{}, false, fmt.Errorf("gateway: publish %s: %w", channel, err)
	}

	env, ok := pending.Await(ctx, d.timeout)
	if !ok {
		d.logger.Warn("gateway: await timed out",
			slog.String("channel", channel),
			slog.String("request_id", requestID),
			slog.Duration("timeout", d.timeout),
		)
		return domain.ResultEnvelope{}, false, nil
	}
	return env, true, nil
}
