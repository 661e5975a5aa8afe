// Package alpaca implements the Account and Market Data ports against the
// Alpaca trading and data APIs.
package alpaca

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/polystrat/polystrat/internal/domain"
)

const (
	defaultTradingURL = "https://api.alpaca.markets"
	paperTradingURL   = "https://paper-api.alpaca.markets"
	defaultDataURL    = "https://data.alpaca.markets"
)

// Config carries Alpaca endpoints and credentials
type Config struct {
	KeyID      string
	SecretKey  string
	Paper      bool
	TradingURL string // override, used by tests
	DataURL    string
	StreamURL  string // trade-updates websocket override
	Timeout    time.Duration
}

// Client talks to the Alpaca REST APIs. It implements domain.AccountPort;
// the MarketData methods live on the same client and carry a short-TTL
// quote cache.
type Client struct {
	httpClient *http.Client
	tradingURL string
	dataURL    string
	keyID      string
	secretKey  string
	quotes     *quoteCache
	assets     *assetCache
	log        zerolog.Logger
}

// NewClient creates an Alpaca client. Credentials are validated lazily by
// the API itself.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	tradingURL := cfg.TradingURL
	if tradingURL == "" {
		if cfg.Paper {
			tradingURL = paperTradingURL
		} else {
			tradingURL = defaultTradingURL
		}
	}
	dataURL := cfg.DataURL
	if dataURL == "" {
		dataURL = defaultDataURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		tradingURL: tradingURL,
		dataURL:    dataURL,
		keyID:      cfg.KeyID,
		secretKey:  cfg.SecretKey,
		quotes:     newQuoteCache(quoteTTL),
		assets:     newAssetCache(),
		log:        log.With().Str("client", "alpaca").Logger(),
	}
}

// apiError carries the HTTP status so the retry layer can classify it
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("alpaca api: status %d: %s", e.Status, e.Body)
}

// Transient reports whether a retry could help: rate limits and server
// errors are transient, other 4xx are permanent rejections.
func (e *apiError) Transient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

func (c *Client) do(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.keyID)
	req.Header.Set("APCA-API-SECRET-KEY", c.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.BrokerUnavailableError{Cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return &apiError{Status: resp.StatusCode, Body: string(data)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// GetAccountSnapshot fetches /v2/account and derives margin safety fields
func (c *Client) GetAccountSnapshot(ctx context.Context) (*domain.AccountSnapshot, error) {
	var wire accountWire
	if err := c.do(ctx, http.MethodGet, c.tradingURL+"/v2/account", nil, &wire); err != nil {
		return nil, err
	}
	return accountFromWire(wire)
}

// GetPositions fetches /v2/positions
func (c *Client) GetPositions(ctx context.Context) ([]domain.Position, error) {
	var wire []positionWire
	if err := c.do(ctx, http.MethodGet, c.tradingURL+"/v2/positions", nil, &wire); err != nil {
		return nil, err
	}
	positions := make([]domain.Position, 0, len(wire))
	for _, w := range wire {
		pos, err := positionFromWire(w)
		if err != nil {
			return nil, fmt.Errorf("position %s: %w", w.Symbol, err)
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

// GetOpenOrders fetches /v2/orders?status=open
func (c *Client) GetOpenOrders(ctx context.Context) ([]domain.OrderDescriptor, error) {
	var wire []orderWire
	url := c.tradingURL + "/v2/orders?status=open&limit=500"
	if err := c.do(ctx, http.MethodGet, url, nil, &wire); err != nil {
		return nil, err
	}
	orders := make([]domain.OrderDescriptor, 0, len(wire))
	for _, w := range wire {
		desc, err := orderFromWire(w)
		if err != nil {
			return nil, fmt.Errorf("order %s: %w", w.ID, err)
		}
		orders = append(orders, desc)
	}
	return orders, nil
}

// CancelOrder deletes /v2/orders/{id}. Returns false without error when
// the order is already gone.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	err := c.do(ctx, http.MethodDelete, c.tradingURL+"/v2/orders/"+orderID, nil, nil)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// LiquidatePosition deletes /v2/positions/{symbol}, closing the entire
// position, and returns the resulting order id
func (c *Client) LiquidatePosition(ctx context.Context, symbol string) (string, error) {
	var wire orderWire
	if err := c.do(ctx, http.MethodDelete, c.tradingURL+"/v2/positions/"+symbol, nil, &wire); err != nil {
		return "", err
	}
	c.log.Info().Str("symbol", symbol).Str("order_id", wire.ID).Msg("Position liquidation accepted")
	return wire.ID, nil
}

// SubmitOrder posts /v2/orders
func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	var wire orderWire
	if err := c.do(ctx, http.MethodPost, c.tradingURL+"/v2/orders", orderRequestToWire(req), &wire); err != nil {
		return "", err
	}
	c.log.Debug().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Str("order_id", wire.ID).
		Msg("Order accepted by broker")
	return wire.ID, nil
}

// GetOrderStatus fetches /v2/orders/{id}
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (*domain.OrderDescriptor, error) {
	var wire orderWire
	if err := c.do(ctx, http.MethodGet, c.tradingURL+"/v2/orders/"+orderID, nil, &wire); err != nil {
		return nil, err
	}
	desc, err := orderFromWire(wire)
	if err != nil {
		return nil, err
	}
	return &desc, nil
}
