// Package pricefeed supplies current prices for symbols. A missing quote is a
// normal outcome (ErrUnavailable), never a fatal one.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/papertrade/ledger-engine/internal/model"
	"github.com/papertrade/ledger-engine/internal/money"
)

// ErrUnavailable means no usable price exists for the symbol right now.
var ErrUnavailable = errors.New("pricefeed: quote unavailable")

// Feed returns the current price of a canonical symbol.
type Feed interface {
	GetQuote(ctx context.Context, symbol string) (model.PriceQuote, error)
}

// Quotes fetches prices for symbols, best effort. Symbols without a usable
// quote are left out of the result; the caller values them at cost. Only
// context errors are returned.
func Quotes(ctx context.Context, feed Feed, symbols []string) (map[string]money.Money, error) {
	out := make(map[string]money.Money, len(symbols))
	for _, sym := range symbols {
		q, err := feed.GetQuote(ctx, sym)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			continue
		}
		if q.Valid() {
			out[sym] = q.Price
		}
	}
	return out, nil
}

// StaticFeed serves quotes from an in-memory table. Used for development,
// tests and offline demos.
type StaticFeed struct {
	mu     sync.RWMutex
	prices map[string]money.Money
	now    func() time.Time
}

// NewStaticFeed creates a feed seeded with prices.
func NewStaticFeed(prices map[string]money.Money) *StaticFeed {
	f := &StaticFeed{prices: make(map[string]money.Money, len(prices)), now: time.Now}
	for k, v := range prices {
		f.prices[k] = v
	}
	return f
}

func (f *StaticFeed) Set(symbol string, price money.Money) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
}

func (f *StaticFeed) Delete(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.prices, symbol)
}

func (f *StaticFeed) GetQuote(ctx context.Context, symbol string) (model.PriceQuote, error) {
	if err := ctx.Err(); err != nil {
		return model.PriceQuote{}, err
	}
	f.mu.RLock()
	price, ok := f.prices[symbol]
	f.mu.RUnlock()

	if !ok || !price.IsPositive() {
		return model.PriceQuote{}, fmt.Errorf("%s: %w", symbol, ErrUnavailable)
	}
	return model.PriceQuote{Symbol: symbol, Price: price, AsOf: f.now()}, nil
}
