package competition

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/papertrade/ledger-engine/internal/ledger"
	"github.com/papertrade/ledger-engine/internal/model"
	"github.com/papertrade/ledger-engine/internal/money"
	"github.com/papertrade/ledger-engine/internal/pricefeed"
)

var hundred = decimal.NewFromInt(100)

// Position is one holding valued at the current price.
type Position struct {
	model.Holding
	Price          money.Money `json:"price"`
	Priced         bool        `json:"priced"` // false when valued at average cost
	MarketValue    money.Money `json:"market_value"`
	UnrealizedGain money.Money `json:"unrealized_gain"`
}

// Valuation is a portfolio valued with live quotes.
type Valuation struct {
	Portfolio     model.Portfolio `json:"portfolio"`
	Positions     []Position      `json:"positions"`
	HoldingsValue money.Money     `json:"holdings_value"`
	TotalValue    money.Money     `json:"total_value"`
	ReturnPct     string          `json:"return_pct"`
}

// Valuate prices every holding of p. Holdings without a live quote are
// valued at their average cost.
func (s *Service) Valuate(ctx context.Context, p model.Portfolio, startingBalance money.Money) (Valuation, error) {
	symbols := p.Symbols()
	prices, err := pricefeed.Quotes(ctx, s.feed, symbols)
	if err != nil {
		return Valuation{}, storeError(err)
	}
	return valuate(p, prices, startingBalance), nil
}

func valuate(p model.Portfolio, prices map[string]money.Money, startingBalance money.Money) Valuation {
	v := Valuation{
		Portfolio:     p,
		Positions:     make([]Position, 0, len(p.Holdings)),
		HoldingsValue: ledger.HoldingsValue(p, prices),
		TotalValue:    ledger.TotalValue(p, prices),
	}
	for _, sym := range p.Symbols() {
		h := p.Holdings[sym]
		price, ok := prices[sym]
		priced := ok && price.IsPositive()
		if !priced {
			price = h.AverageCost
		}
		mv := price.Mul(h.Quantity)
		v.Positions = append(v.Positions, Position{
			Holding:        h,
			Price:          price,
			Priced:         priced,
			MarketValue:    mv,
			UnrealizedGain: mv.Sub(h.TotalCost),
		})
	}
	v.ReturnPct = returnPct(v.TotalValue, startingBalance)
	return v
}

func returnPct(total, start money.Money) string {
	return total.Sub(start).Ratio(start).Mul(hundred).StringFixed(2)
}

// Portfolio returns the caller's portfolio in a competition, valued live.
func (s *Service) Portfolio(ctx context.Context, competitionID, userID string) (Valuation, error) {
	c, err := s.Get(ctx, competitionID)
	if err != nil {
		return Valuation{}, err
	}
	p, err := s.portfolio(ctx, competitionID, userID)
	if err != nil {
		return Valuation{}, err
	}
	return s.Valuate(ctx, *p, c.StartingBalance)
}

// Leaderboard ranks every portfolio of a competition by total value. Each
// symbol is quoted once for the whole board.
func (s *Service) Leaderboard(ctx context.Context, competitionID string) ([]model.LeaderboardEntry, error) {
	c, err := s.Get(ctx, competitionID)
	if err != nil {
		return nil, err
	}
	portfolios, err := s.store.ListPortfolios(ctx, competitionID)
	if err != nil {
		return nil, storeError(err)
	}

	var symbols []string
	seen := make(map[string]bool)
	for _, p := range portfolios {
		for sym := range p.Holdings {
			if !seen[sym] {
				seen[sym] = true
				symbols = append(symbols, sym)
			}
		}
	}
	prices, err := pricefeed.Quotes(ctx, s.feed, symbols)
	if err != nil {
		return nil, storeError(err)
	}

	entries := make([]model.LeaderboardEntry, 0, len(portfolios))
	for _, p := range portfolios {
		total := ledger.TotalValue(p, prices)
		entries = append(entries, model.LeaderboardEntry{
			UserID:        p.OwnerID,
			TotalValue:    total,
			Cash:          p.Cash,
			HoldingsValue: ledger.HoldingsValue(p, prices),
			ReturnPct:     returnPct(total, c.StartingBalance),
		})
	}
	return ranked(entries), nil
}
