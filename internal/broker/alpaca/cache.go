package alpaca

import (
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/polystrat/polystrat/internal/domain"
)

// quoteTTL bounds quote staleness; the engine never second-guesses it
const quoteTTL = 60 * time.Second

type cachedQuote struct {
	quote     domain.Quote
	fetchedAt time.Time
}

// quoteCache is a TTL cache of latest quotes, safe for concurrent use
type quoteCache struct {
	mu      sync.RWMutex
	entries map[string]cachedQuote
	ttl     time.Duration
	now     func() time.Time
}

func newQuoteCache(ttl time.Duration) *quoteCache {
	return &quoteCache{
		entries: make(map[string]cachedQuote),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *quoteCache) get(symbol string) (domain.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[symbol]
	if !ok || c.now().Sub(entry.fetchedAt) > c.ttl {
		return domain.Quote{}, false
	}
	return entry.quote, true
}

func (c *quoteCache) put(quote domain.Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[quote.Symbol] = cachedQuote{quote: quote, fetchedAt: c.now()}
}

// snapshotEntry is the msgpack form of one cached quote. Decimals are
// strings so precision survives the round trip.
type snapshotEntry struct {
	Symbol    string `msgpack:"symbol"`
	Bid       string `msgpack:"bid"`
	Ask       string `msgpack:"ask"`
	BidSize   string `msgpack:"bid_size"`
	AskSize   string `msgpack:"ask_size"`
	QuotedAt  int64  `msgpack:"quoted_at"`
	FetchedAt int64  `msgpack:"fetched_at"`
}

// SaveSnapshot writes the cache to a file for warm starts
func (c *quoteCache) SaveSnapshot(path string) error {
	c.mu.RLock()
	entries := make([]snapshotEntry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, snapshotEntry{
			Symbol:    e.quote.Symbol,
			Bid:       e.quote.Bid.String(),
			Ask:       e.quote.Ask.String(),
			BidSize:   e.quote.BidSize.String(),
			AskSize:   e.quote.AskSize.String(),
			QuotedAt:  e.quote.Timestamp.UnixNano(),
			FetchedAt: e.fetchedAt.UnixNano(),
		})
	}
	c.mu.RUnlock()

	data, err := msgpack.Marshal(entries)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadSnapshot restores unexpired entries from a warm-start file.
// A missing or unreadable snapshot is not an error, the cache just
// starts cold.
func (c *quoteCache) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var entries []snapshotEntry
	if err := msgpack.Unmarshal(data, &entries); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		fetchedAt := time.Unix(0, e.FetchedAt)
		if c.now().Sub(fetchedAt) > c.ttl {
			continue
		}
		bid, err1 := decimal.NewFromString(e.Bid)
		ask, err2 := decimal.NewFromString(e.Ask)
		bidSize, err3 := decimal.NewFromString(e.BidSize)
		askSize, err4 := decimal.NewFromString(e.AskSize)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		c.entries[e.Symbol] = cachedQuote{
			quote: domain.Quote{
				Symbol:    e.Symbol,
				Bid:       bid,
				Ask:       ask,
				BidSize:   bidSize,
				AskSize:   askSize,
				Timestamp: time.Unix(0, e.QuotedAt),
			},
			fetchedAt: fetchedAt,
		}
	}
	return nil
}

// assetCache memoizes per-symbol fractionability; asset properties do not
// change intraday
type assetCache struct {
	mu      sync.RWMutex
	entries map[string]bool
}

func newAssetCache() *assetCache {
	return &assetCache{entries: make(map[string]bool)}
}

func (c *assetCache) get(symbol string) (bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[symbol]
	return v, ok
}

func (c *assetCache) put(symbol string, fractionable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[symbol] = fractionable
}
