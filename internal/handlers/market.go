package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"log/slog"

	"github.com/fynor/exchange/internal/market"
	"github.com/fynor/exchange/internal/symbols"
)

type MarketData interface {
	Ticker(ctx context.Context, pair symbols.Pair) (market.Ticker, error)
	Depth(ctx context.Context, pair symbols.Pair, limit int) (market.Depth, error)
	Trades(ctx context.Context, pair symbols.Pair, limit int) ([]market.Trade, error)
}

// MarketHandler serves public, unauthenticated market data.
type MarketHandler struct {
	registry *symbols.Registry
	data     MarketData
	stream   *market.Stream
	logger   *slog.Logger
}

func NewMarketHandler(registry *symbols.Registry, data MarketData, stream *market.Stream, logger *slog.Logger) *MarketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketHandler{registry: registry, data: data, stream: stream, logger: logger}
}

func (h *MarketHandler) Register(r *gin.Engine) {
	r.GET("/market/pairs", h.ListPairs)
	r.GET("/market/ticker/:symbol", h.Ticker)
	r.GET("/market/depth/:symbol", h.Depth)
	r.GET("/market/trades/:symbol", h.Trades)
	if h.stream != nil {
		r.GET("/ws/market", gin.WrapH(h.stream))
	}
}

func (h *MarketHandler) ListPairs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pairs": h.registry.Pairs()})
}

func (h *MarketHandler) Ticker(c *gin.Context) {
	pair, ok := h.resolveSymbol(c)
	if !ok {
		return
	}
	ticker, err := h.data.Ticker(c.Request.Context(), pair)
	if err != nil {
		h.writeGatewayError(c, err)
		return
	}
	c.JSON(http.StatusOK, ticker)
}

func (h *MarketHandler) Depth(c *gin.Context) {
	pair, ok := h.resolveSymbol(c)
	if !ok {
		return
	}
	depth, err := h.data.Depth(c.Request.Context(), pair, 20)
	if err != nil {
		h.writeGatewayError(c, err)
		return
	}
	c.JSON(http.StatusOK, depth)
}

func (h *MarketHandler) Trades(c *gin.Context) {
	pair, ok := h.resolveSymbol(c)
	if !ok {
		return
	}
	trades, err := h.data.Trades(c.Request.Context(), pair, 50)
	if err != nil {
		h.writeGatewayError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (h *MarketHandler) resolveSymbol(c *gin.Context) (symbols.Pair, bool) {
	pair, err := h.registry.Resolve(c.Param("symbol"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "unsupported symbol", nil)
		return symbols.Pair{}, false
	}
	return pair, true
}

func (h *MarketHandler) writeGatewayError(c *gin.Context, err error) {
	h.logger.Warn("market gateway request failed", "error", err)
	writeError(c, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "market data unavailable, retry later", nil)
}
