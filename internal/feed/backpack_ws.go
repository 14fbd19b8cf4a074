// Package feed ingests market data from the Backpack exchange websocket and
// publishes scaled price updates for the engine.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openlever/margind/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the pause before reconnecting after a disconnect.
	reconnectDelay = 2 * time.Second
)

// PriceHandler is invoked for every trade tick received from the exchange.
type PriceHandler func(ctx context.Context, update domain.PriceUpdate)

// BackpackFeed subscribes to trade streams on the Backpack exchange
// websocket and forwards each trade as a scaled price update. It reconnects
// with a fixed delay on disconnect and re-subscribes.
type BackpackFeed struct {
	wsURL   string
	symbols []string
	onPrice PriceHandler
	logger  *slog.Logger
}

// NewBackpackFeed creates a feed for the given symbols (bare asset names;
// the _USDC market suffix is appended on subscribe).
func NewBackpackFeed(wsURL string, symbols []string, onPrice PriceHandler, logger *slog.Logger) *BackpackFeed {
	return &BackpackFeed{
		wsURL:   wsURL,
		symbols: symbols,
		onPrice: onPrice,
		logger:  logger.With(slog.String("component", "backpack_feed")),
	}
}

// subscribeMessage is the Backpack subscription frame.
type subscribeMessage struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// tradeMessage is the envelope of a Backpack trade stream message.
type tradeMessage struct {
	Data struct {
		Symbol string `json:"s"`
		Price  string `json:"p"`
	} `json:"data"`
}

// Run connects and reads trades until the context is cancelled, reconnecting
// on failure.
func (f *BackpackFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.Info("no symbols to subscribe, feed exiting")
		return nil
	}
	for {
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("backpack ws disconnected, reconnecting",
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (f *BackpackFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for i, symbol := range f.symbols {
		market := symbol
		if !strings.HasSuffix(market, "_USDC") {
			market += "_USDC"
		}
		sub := subscribeMessage{
			Method: "SUBSCRIBE",
			Params: []string{"trade." + market},
			ID:     i + 1,
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(sub); err != nil {
			return fmt.Errorf("feed: subscribe %s: %w", market, err)
		}
	}
	f.logger.Info("backpack ws subscribed", slog.Int("symbols", len(f.symbols)))

	// Keep-alive pings; the goroutine ends when the connection drops.
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		f.handleMessage(ctx, raw)
	}
}

func (f *BackpackFeed) handleMessage(ctx context.Context, raw []byte) {
	var msg tradeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		f.logger.Warn("dropping unparseable feed message",
			slog.Int("payload_len", len(raw)),
			slog.String("error", err.Error()),
		)
		return
	}
	if msg.Data.Symbol == "" || msg.Data.Price == "" {
		// Subscription acks and heartbeats have no trade payload.
		return
	}

	update, err := parseTrade(msg.Data.Symbol, msg.Data.Price)
	if err != nil {
		f.logger.Warn("dropping malformed trade",
			slog.String("symbol", msg.Data.Symbol),
			slog.String("price", msg.Data.Price),
			slog.String("error", err.Error()),
		)
		return
	}
	f.onPrice(ctx, update)
}

// parseTrade converts an exchange trade into a scaled price update. The
// price string's decimal places become the scale, so "171.25" travels as
// price=17125, scale=2.
func parseTrade(symbol, priceStr string) (domain.PriceUpdate, error) {
	asset := strings.TrimSuffix(symbol, "_USDC")

	value, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return domain.PriceUpdate{}, fmt.Errorf("feed: parse price %q: %w", priceStr, err)
	}

	scale := 0
	if i := strings.IndexByte(priceStr, '.'); i >= 0 {
		scale = len(priceStr) - i - 1
	}
	scaled := value
	for i := 0; i < scale; i++ {
		scaled *= 10
	}

	price := int64(math.Round(scaled))
	if price <= 0 {
		return domain.PriceUpdate{}, fmt.Errorf("feed: non-positive price %q", priceStr)
	}

	return domain.PriceUpdate{
		Asset:     asset,
		Price:     price,
		Scale:     scale,
		Timestamp: time.Now().UTC(),
	}, nil
}
