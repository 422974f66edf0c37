package pricefeed

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/papertrade/ledger-engine/internal/metrics"
	"github.com/papertrade/ledger-engine/internal/model"
)

// CachedFeed keeps recent quotes in a ristretto TTL cache in front of another
// Feed. Only valid quotes are cached; failures always go to the source.
type CachedFeed struct {
	next Feed
	c    *ristretto.Cache
	ttl  time.Duration
}

// NewCachedFeed wraps next with a cache holding up to maxQuotes entries.
func NewCachedFeed(next Feed, maxQuotes int64, ttl time.Duration) (*CachedFeed, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        maxQuotes * 10,
		MaxCost:            maxQuotes,
		BufferItems:        64,
		IgnoreInternalCost: true, // cost is a quote count, not bytes
	})
	if err != nil {
		return nil, err
	}
	return &CachedFeed{next: next, c: c, ttl: ttl}, nil
}

func (f *CachedFeed) GetQuote(ctx context.Context, symbol string) (model.PriceQuote, error) {
	if v, ok := f.c.Get(symbol); ok {
		if q, ok := v.(model.PriceQuote); ok {
			metrics.QuoteFetches.WithLabelValues("cache", "hit").Inc()
			return q, nil
		}
	}

	q, err := f.next.GetQuote(ctx, symbol)
	if err != nil {
		return q, err
	}
	if q.Valid() {
		f.c.SetWithTTL(symbol, q, 1, f.ttl)
	}
	return q, nil
}

// Invalidate drops a cached quote.
func (f *CachedFeed) Invalidate(symbol string) { f.c.Del(symbol) }

// Wait blocks until buffered writes are applied. Tests use it to make Set
// visible to the next Get.
func (f *CachedFeed) Wait() { f.c.Wait() }

func (f *CachedFeed) Close() { f.c.Close() }
