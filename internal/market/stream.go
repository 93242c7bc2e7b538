package market

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"log/slog"

	"github.com/fynor/exchange/internal/symbols"
)

const (
	defaultUpdateInterval = 2 * time.Second
	writeWait             = 5 * time.Second
	pongWait              = 60 * time.Second
)

// TickerSource is the slice of Client the stream needs; tests swap in
// a stub.
type TickerSource interface {
	Tickers(ctx context.Context, pairs []symbols.Pair) ([]Ticker, error)
}

type Update struct {
	Type string   `json:"type"`
	Data []Ticker `json:"data"`
}

// Stream pushes a MARKET_UPDATE message with fresh tickers to every
// websocket client on a fixed interval. Each connection runs its own
// loop; a slow client only stalls itself.
type Stream struct {
	source   TickerSource
	registry *symbols.Registry
	logger   *slog.Logger
	interval time.Duration
	upgrader websocket.Upgrader
}

func NewStream(source TickerSource, registry *symbols.Registry, logger *slog.Logger, interval time.Duration) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = defaultUpdateInterval
	}
	return &Stream{
		source:   source,
		registry: registry,
		logger:   logger,
		interval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	// The request context dies with the handler once the connection is
	// hijacked, so the serve loop runs on its own context.
	s.serve(context.Background(), conn)
}

func (s *Stream) serve(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	done := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Drain incoming frames so close and pong frames are processed.
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if err := s.push(ctx, conn); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := s.push(ctx, conn); err != nil {
				return
			}
		}
	}
}

func (s *Stream) push(ctx context.Context, conn *websocket.Conn) error {
	fetchCtx, cancel := context.WithTimeout(ctx, s.interval)
	tickers, err := s.source.Tickers(fetchCtx, s.registry.Pairs())
	cancel()
	if err != nil {
		// Skip the tick; the connection stays up for the next one.
		s.logger.Warn("ticker fetch failed", "error", err)
		return nil
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(Update{Type: "MARKET_UPDATE", Data: tickers}); err != nil {
		return err
	}
	return nil
}
