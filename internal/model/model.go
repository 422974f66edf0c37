// Package model defines the core domain types shared across the ledger engine.
// All monetary values use the money package, never float64.
package model

import (
	"slices"
	"time"

	"github.com/papertrade/ledger-engine/internal/money"
)

// Holding is a position in one symbol. TotalCost is maintained incrementally
// so that AverageCost never has to be re-derived from rounded figures.
type Holding struct {
	Symbol      string         `json:"symbol"`
	Quantity    money.Quantity `json:"quantity"`     // > 0 while present
	AverageCost money.Money    `json:"average_cost"` // cost per unit
	TotalCost   money.Money    `json:"total_cost"`
	AssetClass  AssetClass     `json:"asset_class"`
}

// Portfolio is a participant's cash and holdings within one competition.
// Version is the optimistic concurrency token: every committed write bumps it.
type Portfolio struct {
	OwnerID       string             `json:"owner_id"`
	CompetitionID string             `json:"competition_id"`
	Cash          money.Money        `json:"cash"`
	Holdings      map[string]Holding `json:"holdings"`
	LastValuation money.Money        `json:"last_valuation"`
	Version       int64              `json:"version"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// Clone returns a deep copy; the holdings map is never shared.
func (p Portfolio) Clone() Portfolio {
	out := p
	out.Holdings = make(map[string]Holding, len(p.Holdings))
	for k, v := range p.Holdings {
		out.Holdings[k] = v
	}
	return out
}

// Symbols returns the held symbols in sorted order.
func (p Portfolio) Symbols() []string {
	syms := make([]string, 0, len(p.Holdings))
	for s := range p.Holdings {
		syms = append(syms, s)
	}
	slices.Sort(syms)
	return syms
}

// Competition is a time-boxed game instance with its own starting balance
// and participant set. It is immutable once trading has started, except for
// the participant set and deletion.
type Competition struct {
	ID              string      `json:"id"`
	OwnerID         string      `json:"owner_id"`
	Name            string      `json:"name"`
	StartingBalance money.Money `json:"starting_balance"`
	StartDate       time.Time   `json:"start_date"`
	EndDate         time.Time   `json:"end_date"`
	TradableAssets  []string    `json:"tradable_assets,omitempty"` // canonical symbols
	OpenMarket      bool        `json:"open_market"`
	ParticipantIDs  []string    `json:"participant_ids"`
	IsPublic        bool        `json:"is_public"`
	CreatedAt       time.Time   `json:"created_at"`
}

// IsActive reports whether now ∈ [StartDate, EndDate).
func (c *Competition) IsActive(now time.Time) bool {
	return !now.Before(c.StartDate) && now.Before(c.EndDate)
}

func (c *Competition) HasStarted(now time.Time) bool { return !now.Before(c.StartDate) }

// HasEnded reports whether now is at or past EndDate.
func (c *Competition) HasEnded(now time.Time) bool { return !now.Before(c.EndDate) }

func (c *Competition) HasParticipant(userID string) bool {
	return slices.Contains(c.ParticipantIDs, userID)
}

// AllowsSymbol reports whether a canonical symbol may be traded.
func (c *Competition) AllowsSymbol(symbol string) bool {
	if c.OpenMarket {
		return true
	}
	return slices.Contains(c.TradableAssets, symbol)
}

// Order is a transient trade request. Only its effect is persisted.
type Order struct {
	Symbol     string         `json:"symbol"`
	Side       Side           `json:"side"`
	Quantity   money.Quantity `json:"quantity"`
	AssetClass AssetClass     `json:"asset_class,omitempty"`
}

// PriceQuote is a price supplied by the market-data feed.
type PriceQuote struct {
	Symbol string      `json:"symbol"`
	Price  money.Money `json:"price"`
	AsOf   time.Time   `json:"as_of"`
}

// Valid reports whether the quote carries a usable (positive) price.
func (q PriceQuote) Valid() bool { return q.Price.IsPositive() }

// TradeRecord is an immutable record of a committed trade. It is written in
// the same atomic step as the portfolio version it produced.
type TradeRecord struct {
	ID            string         `json:"id"`
	CompetitionID string         `json:"competition_id"`
	UserID        string         `json:"user_id"`
	Symbol        string         `json:"symbol"`
	Side          Side           `json:"side"`
	Quantity      money.Quantity `json:"quantity"`
	Price         money.Money    `json:"price"`
	Amount        money.Money    `json:"amount"`        // cost of a buy, proceeds of a sale
	RealizedGain  money.Money    `json:"realized_gain"` // zero for buys
	CashAfter     money.Money    `json:"cash_after"`
	Version       int64          `json:"version"` // portfolio version after the trade
	ExecutedAt    time.Time      `json:"executed_at"`
}

// LeaderboardEntry ranks one participant of a competition.
type LeaderboardEntry struct {
	Rank          int         `json:"rank"`
	UserID        string      `json:"user_id"`
	TotalValue    money.Money `json:"total_value"`
	Cash          money.Money `json:"cash"`
	HoldingsValue money.Money `json:"holdings_value"`
	ReturnPct     string      `json:"return_pct"`
}
