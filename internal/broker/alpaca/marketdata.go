package alpaca

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/polystrat/polystrat/internal/domain"
)

// GetCurrentPrice returns the latest trade price, falling back to the
// quote midpoint when the trade feed has nothing
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var wire tradeWire
	url := fmt.Sprintf("%s/v2/stocks/%s/trades/latest", c.dataURL, symbol)
	err := c.do(ctx, http.MethodGet, url, nil, &wire)
	if err == nil && wire.Trade.Price > 0 {
		return decimal.NewFromFloat(wire.Trade.Price), nil
	}

	quote, qErr := c.GetLatestQuote(ctx, symbol)
	if qErr == nil && quote != nil && quote.Usable() {
		c.log.Debug().Str("symbol", symbol).Msg("Using quote midpoint as current price")
		return quote.Mid(), nil
	}
	if err == nil {
		err = fmt.Errorf("no trade or usable quote for %s", symbol)
	}
	return decimal.Zero, err
}

// GetLatestQuote returns the latest NBBO quote, served from the TTL cache
// when fresh
func (c *Client) GetLatestQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	if quote, ok := c.quotes.get(symbol); ok {
		return &quote, nil
	}

	var wire quoteWire
	url := fmt.Sprintf("%s/v2/stocks/%s/quotes/latest", c.dataURL, symbol)
	if err := c.do(ctx, http.MethodGet, url, nil, &wire); err != nil {
		return nil, err
	}
	quote := quoteFromWire(wire, symbol)
	c.quotes.put(quote)
	return &quote, nil
}

// IsFractionable reports whether the broker supports fractional shares
// for the symbol. Results are memoized for the process lifetime.
func (c *Client) IsFractionable(ctx context.Context, symbol string) (bool, error) {
	if v, ok := c.assets.get(symbol); ok {
		return v, nil
	}

	var wire assetWire
	if err := c.do(ctx, http.MethodGet, c.tradingURL+"/v2/assets/"+symbol, nil, &wire); err != nil {
		return false, err
	}
	c.assets.put(symbol, wire.Fractionable)
	return wire.Fractionable, nil
}

// DailyCloses returns up to limit daily closing prices for the symbol in
// chronological order, oldest first
func (c *Client) DailyCloses(ctx context.Context, symbol string, limit int) ([]float64, error) {
	var wire barsWire
	url := fmt.Sprintf("%s/v2/stocks/%s/bars?timeframe=1Day&limit=%d&adjustment=split", c.dataURL, symbol, limit)
	if err := c.do(ctx, http.MethodGet, url, nil, &wire); err != nil {
		return nil, err
	}
	closes := make([]float64, 0, len(wire.Bars))
	for _, bar := range wire.Bars {
		closes = append(closes, bar.Close)
	}
	return closes, nil
}

// SaveQuoteSnapshot persists the quote cache for a warm restart
func (c *Client) SaveQuoteSnapshot(path string) error {
	return c.quotes.SaveSnapshot(path)
}

// LoadQuoteSnapshot restores a previously saved quote cache
func (c *Client) LoadQuoteSnapshot(path string) error {
	return c.quotes.LoadSnapshot(path)
}
