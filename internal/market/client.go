// Package market proxies public market data from the upstream
// exchange gateway and fans it out over websocket.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fynor/exchange/internal/symbols"
)

const defaultTimeout = 5 * time.Second

// Ticker is the 24h statistics row for one market, passed through from
// the gateway with decimals kept as strings.
type Ticker struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
}

type Depth struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

type Trade struct {
	ID           int64  `json:"id"`
	Price        string `json:"price"`
	Qty          string `json:"qty"`
	Time         int64  `json:"time"`
	IsBuyerMaker bool   `json:"isBuyerMaker"`
}

// Client talks to the gateway's spot REST API. The gateway speaks
// concatenated symbols (BTCUSDT), so callers hand in a resolved pair.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Ticker(ctx context.Context, pair symbols.Pair) (Ticker, error) {
	var out Ticker
	err := c.get(ctx, "/api/v3/ticker/24hr", url.Values{"symbol": {gatewaySymbol(pair)}}, &out)
	return out, err
}

func (c *Client) Tickers(ctx context.Context, pairs []symbols.Pair) ([]Ticker, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(pairs))
	for _, p := range pairs {
		names = append(names, `"`+gatewaySymbol(p)+`"`)
	}
	params := url.Values{"symbols": {"[" + strings.Join(names, ",") + "]"}}

	var out []Ticker
	err := c.get(ctx, "/api/v3/ticker/24hr", params, &out)
	return out, err
}

func (c *Client) Depth(ctx context.Context, pair symbols.Pair, limit int) (Depth, error) {
	if limit <= 0 {
		limit = 20
	}
	params := url.Values{
		"symbol": {gatewaySymbol(pair)},
		"limit":  {fmt.Sprintf("%d", limit)},
	}
	var out Depth
	err := c.get(ctx, "/api/v3/depth", params, &out)
	return out, err
}

func (c *Client) Trades(ctx context.Context, pair symbols.Pair, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	params := url.Values{
		"symbol": {gatewaySymbol(pair)},
		"limit":  {fmt.Sprintf("%d", limit)},
	}
	var out []Trade
	err := c.get(ctx, "/api/v3/trades", params, &out)
	return out, err
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("market gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("market gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func gatewaySymbol(pair symbols.Pair) string {
	return pair.Base + pair.Quote
}
