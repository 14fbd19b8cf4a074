package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openlever/margind/internal/auth"
	"github.com/openlever/margind/internal/domain"
	"github.com/openlever/margind/internal/engine"
	"github.com/openlever/margind/internal/feed"
	"github.com/openlever/margind/internal/gateway"
	"github.com/openlever/margind/internal/recorder"
	"github.com/openlever/margind/internal/server"
	"github.com/openlever/margind/internal/server/handler"
	"github.com/openlever/margind/internal/snapshot"
)

// leaderLockKey guards against two engine instances settling the same book.
const leaderLockKey = "engine-leader"

// leaderLockTTL is refreshed while the engine runs; after a crash the lock
// clears on its own and a standby can take over.
const leaderLockTTL = 30 * time.Second

// GatewayMode runs the HTTP gateway: the public API, the magic-link sign-in
// flow, and the correlation machinery that matches engine replies to waiting
// requests.
func (a *App) GatewayMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting gateway mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startGateway(ctx, g, deps); err != nil {
		return err
	}
	return g.Wait()
}

// EngineMode runs the risk engine: the exchange price feed, command
// consumption, settlement, liquidation monitoring, trade recording, and
// optional book snapshots.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startEngine(ctx, g, deps); err != nil {
		return err
	}
	return g.Wait()
}

// FullMode runs the gateway and the engine in a single process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startEngine(ctx, g, deps); err != nil {
		return err
	}
	if err := a.startGateway(ctx, g, deps); err != nil {
		return err
	}
	return g.Wait()
}

// startGateway wires the correlation gateway and HTTP server into g.
func (a *App) startGateway(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	registry := gateway.NewRegistry(a.logger)
	resolver := gateway.NewResolver(deps.SignalBus, registry, a.logger)
	dispatcher := gateway.NewDispatcher(registry, deps.SignalBus, a.cfg.Gateway.AwaitTimeout.Duration, a.logger)

	tokens := auth.NewService(
		a.cfg.Server.JWTIssuer,
		[]byte(a.cfg.Server.JWTSecret),
		a.cfg.Server.LinkTTL.Duration,
		a.cfg.Server.SessionTTL.Duration,
	)

	var mailer auth.Mailer
	if a.cfg.SMTP.Host != "" {
		mailer = auth.NewSMTPMailer(auth.SMTPConfig{
			Host:     a.cfg.SMTP.Host,
			Port:     a.cfg.SMTP.Port,
			Username: a.cfg.SMTP.Username,
			Password: a.cfg.SMTP.Password,
			From:     a.cfg.SMTP.From,
		})
	} else {
		mailer = auth.NewLogMailer(a.logger)
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.cfg.Mode, deps.PriceCache, a.cfg.Feed.Assets, a.logger),
		Auth:    handler.NewAuthHandler(tokens, mailer, a.cfg.Server.BaseURL, a.logger),
		Trade:   handler.NewTradeHandler(dispatcher, deps.PriceCache, a.cfg.Gateway.DefaultTolerance, a.logger),
		Account: handler.NewAccountHandler(dispatcher, deps.TradeStore, a.logger),
		Prices:  handler.NewPriceHandler(deps.PriceCache, a.cfg.Feed.Assets, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, tokens, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return resolver.Run(ctx)
	})
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return nil
}

// startEngine acquires engine leadership, restores the latest book snapshot,
// and wires the feed, consumer, recorder, and snapshot writer into g.
func (a *App) startEngine(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	release, err := a.acquireLeadership(ctx, deps.LockManager)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, release)

	eng := engine.New(deps.PriceCache, deps.SignalBus, deps.Notifier, engine.Config{
		InitialBalance:         a.cfg.Engine.InitialBalance,
		MaintenanceMarginRatio: a.cfg.Engine.MaintenanceMarginRatio,
		ReturnMarginOnClose:    a.cfg.Engine.ReturnMarginOnClose,
		LiquidationRetries:     a.cfg.Engine.LiquidationRetries,
		LiquidationBackoff:     a.cfg.Engine.LiquidationBackoff.Duration,
	}, a.logger)

	// Book snapshots: restore the last state before consuming commands.
	if a.cfg.Snapshot.Enabled && deps.BlobWriter != nil {
		snapSvc := snapshot.NewService(eng.Book(), deps.BlobWriter, deps.BlobReader, a.cfg.Snapshot.Interval.Duration, a.logger)
		if err := snapSvc.Restore(ctx); err != nil {
			return fmt.Errorf("app: restore snapshot: %w", err)
		}
		g.Go(func() error {
			return snapSvc.Run(ctx)
		})
	}

	consumer := engine.NewConsumer(eng, deps.SignalBus, a.logger)
	g.Go(func() error {
		return consumer.Run(ctx)
	})

	rec := recorder.New(deps.SignalBus, deps.TradeStore, deps.BalanceCache, a.logger)
	g.Go(func() error {
		return rec.Run(ctx)
	})

	publisher := feed.NewPricePublisher(deps.PriceCache, deps.SignalBus, a.logger)
	priceFeed := feed.NewBackpackFeed(a.cfg.Feed.WsURL, a.cfg.Feed.Assets, publisher.Handle, a.logger)
	g.Go(func() error {
		return priceFeed.Run(ctx)
	})

	return nil
}

// acquireLeadership blocks until the engine leader lock is held or ctx ends.
// A standby instance waits here until the current leader releases the lock or
// crashes and its TTL lapses.
func (a *App) acquireLeadership(ctx context.Context, locks domain.LockManager) (func(), error) {
	for {
		release, err := locks.Hold(ctx, leaderLockKey, leaderLockTTL)
		if err == nil {
			a.logger.InfoContext(ctx, "engine leadership acquired")
			return release, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("app: acquire leader lock: %w", err)
		}

		a.logger.InfoContext(ctx, "engine leader lock held elsewhere, standing by",
			slog.Duration("retry_in", leaderLockTTL/2),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(leaderLockTTL / 2):
		}
	}
}
