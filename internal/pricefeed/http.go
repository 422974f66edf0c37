package pricefeed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/papertrade/ledger-engine/internal/metrics"
	"github.com/papertrade/ledger-engine/internal/model"
	"github.com/papertrade/ledger-engine/internal/money"
)

// DefaultPricePath extracts the last price from a Yahoo-chart style payload:
//
//	{"chart":{"result":[{"meta":{"regularMarketPrice":189.84, ...}}]}}
const DefaultPricePath = "$.chart.result[0].meta.regularMarketPrice"

// HTTPConfig configures an HTTPFeed.
type HTTPConfig struct {
	BaseURL    string        // quotes are fetched from BaseURL + "/" + symbol
	PricePath  string        // JSONPath to the price; DefaultPricePath if empty
	RatePerSec float64       // client-side pacing; 0 disables it
	Timeout    time.Duration // per request; 0 means the caller's context only
}

// HTTPFeed fetches quotes from a JSON HTTP endpoint.
type HTTPFeed struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewHTTPFeed creates a feed. A nil client uses http.DefaultClient.
func NewHTTPFeed(cfg HTTPConfig, client *http.Client, logger *zap.Logger) *HTTPFeed {
	if cfg.PricePath == "" {
		cfg.PricePath = DefaultPricePath
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &HTTPFeed{cfg: cfg, client: client, logger: logger}
	if cfg.RatePerSec > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return f
}

func (f *HTTPFeed) GetQuote(ctx context.Context, symbol string) (model.PriceQuote, error) {
	q, err := f.fetch(ctx, symbol)
	switch {
	case err == nil:
		metrics.QuoteFetches.WithLabelValues("http", "ok").Inc()
	case errors.Is(err, ErrUnavailable):
		metrics.QuoteFetches.WithLabelValues("http", "unavailable").Inc()
	default:
		metrics.QuoteFetches.WithLabelValues("http", "error").Inc()
	}
	return q, err
}

func (f *HTTPFeed) fetch(ctx context.Context, symbol string) (model.PriceQuote, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return model.PriceQuote{}, ctx.Err()
			}
			// The wait would outlast the deadline.
			return model.PriceQuote{}, context.DeadlineExceeded
		}
	}
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	addr := f.cfg.BaseURL + "/" + url.PathEscape(model.DisplaySymbol(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return model.PriceQuote{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.PriceQuote{}, ctxErr
		}
		f.logger.Warn("quote request failed", zap.String("symbol", symbol), zap.Error(err))
		return model.PriceQuote{}, fmt.Errorf("%s: %w", symbol, ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		f.logger.Debug("quote endpoint returned non-200",
			zap.String("symbol", symbol), zap.Int("status", resp.StatusCode))
		return model.PriceQuote{}, fmt.Errorf("%s: status %d: %w", symbol, resp.StatusCode, ErrUnavailable)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.PriceQuote{}, ctxErr
		}
		return model.PriceQuote{}, fmt.Errorf("%s: read body: %w", symbol, ErrUnavailable)
	}

	price, err := extractPrice(body, f.cfg.PricePath)
	if err != nil {
		f.logger.Debug("quote payload unusable", zap.String("symbol", symbol), zap.Error(err))
		return model.PriceQuote{}, fmt.Errorf("%s: %v: %w", symbol, err, ErrUnavailable)
	}
	if !price.IsPositive() {
		return model.PriceQuote{}, fmt.Errorf("%s: non-positive price %s: %w", symbol, price, ErrUnavailable)
	}
	return model.PriceQuote{Symbol: symbol, Price: price, AsOf: time.Now()}, nil
}

// extractPrice evaluates path against a JSON document. Numbers are decoded as
// json.Number so the price never passes through a binary float.
func extractPrice(body []byte, path string) (money.Money, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return money.Money{}, fmt.Errorf("decode: %w", err)
	}

	v, err := jsonpath.Get(path, doc)
	if err != nil {
		return money.Money{}, fmt.Errorf("path %q: %w", path, err)
	}
	// jsonpath returns a list for wildcard or slice paths; keep the first hit.
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return money.Money{}, fmt.Errorf("path %q: no match", path)
		}
		v = list[0]
	}

	switch n := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return money.Money{}, err
		}
		return money.FromDecimal(d), nil
	case string:
		return money.Parse(n)
	case float64:
		return money.FromFloat(n), nil
	default:
		return money.Money{}, fmt.Errorf("path %q: not a number: %v", path, v)
	}
}
