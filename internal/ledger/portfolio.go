package ledger

import (
	"fmt"

	"github.com/papertrade/ledger-engine/internal/errors"
	"github.com/papertrade/ledger-engine/internal/model"
	"github.com/papertrade/ledger-engine/internal/money"
)

var errSubCent = errors.WithMessage(errors.ErrInvalidOrder, "order value is less than one cent")

// TradeOutcome is the result of applying one order to a portfolio snapshot.
type TradeOutcome struct {
	Portfolio    model.Portfolio
	Amount       money.Money // cost of a buy, proceeds of a sale
	RealizedGain money.Money // zero for buys
	Removed      bool        // the sell closed the position
}

// HoldingsValue sums quantity × price over every holding. Missing or
// non-positive prices fall back to the holding's average cost.
func HoldingsValue(p model.Portfolio, prices map[string]money.Money) money.Money {
	total := money.Zero
	for sym, h := range p.Holdings {
		price, ok := prices[sym]
		if !ok || !price.IsPositive() {
			price = h.AverageCost
		}
		total = total.Add(price.Mul(h.Quantity))
	}
	return total
}

// TotalValue is cash plus HoldingsValue.
func TotalValue(p model.Portfolio, prices map[string]money.Money) money.Money {
	return p.Cash.Add(HoldingsValue(p, prices))
}

// ApplyTrade applies order at price to a copy of p. The input is never
// mutated, so callers may re-run it against a fresher snapshot after a
// version conflict.
func ApplyTrade(p model.Portfolio, order model.Order, price money.Money) (TradeOutcome, error) {
	if !order.Quantity.IsPositive() || order.Quantity.IsZero() {
		return TradeOutcome{}, errors.ErrInvalidQuantity
	}
	if !price.IsPositive() {
		return TradeOutcome{}, errors.ErrNoQuote
	}

	next := p.Clone()

	switch order.Side {
	case model.SideBuy:
		cost := price.MulUp(order.Quantity)
		if cost.IsZero() {
			return TradeOutcome{}, errSubCent
		}
		if cost.GreaterThan(p.Cash) {
			return TradeOutcome{}, errors.ErrInsufficientCash
		}
		var existing *model.Holding
		if h, ok := p.Holdings[order.Symbol]; ok {
			existing = &h
		}
		h, err := ApplyBuy(existing, order.Symbol, order.Quantity, price)
		if err != nil {
			return TradeOutcome{}, err
		}
		if existing == nil && order.AssetClass.Valid() {
			h.AssetClass = order.AssetClass
		}
		next.Holdings[order.Symbol] = h
		next.Cash = p.Cash.Sub(cost)
		return TradeOutcome{Portfolio: next, Amount: cost, RealizedGain: money.Zero}, nil

	case model.SideSell:
		proceeds := price.MulDown(order.Quantity)
		if proceeds.IsZero() {
			return TradeOutcome{}, errSubCent
		}
		h, ok := p.Holdings[order.Symbol]
		if !ok {
			return TradeOutcome{}, errors.ErrInsufficientShares
		}
		updated, removed, err := ApplySell(h, order.Quantity, price)
		if err != nil {
			return TradeOutcome{}, err
		}
		if removed {
			delete(next.Holdings, order.Symbol)
		} else {
			next.Holdings[order.Symbol] = updated
		}
		next.Cash = p.Cash.Add(proceeds)
		return TradeOutcome{
			Portfolio:    next,
			Amount:       proceeds,
			RealizedGain: RealizedGain(h, order.Quantity, price),
			Removed:      removed,
		}, nil

	default:
		return TradeOutcome{}, errors.ErrInvalidOrder
	}
}

// CheckInvariants reports the first violation of the portfolio invariants:
// non-negative cash and strictly positive holding quantities keyed by their
// own symbol.
func CheckInvariants(p model.Portfolio) error {
	if p.Cash.IsNegative() {
		return fmt.Errorf("ledger: negative cash %s", p.Cash)
	}
	for sym, h := range p.Holdings {
		if h.Symbol != sym {
			return fmt.Errorf("ledger: holding %q stored under %q", h.Symbol, sym)
		}
		if !h.Quantity.IsPositive() || h.Quantity.IsZero() {
			return fmt.Errorf("ledger: holding %s has non-positive quantity %s", sym, h.Quantity)
		}
		if h.TotalCost.IsNegative() {
			return fmt.Errorf("ledger: holding %s has negative total cost %s", sym, h.TotalCost)
		}
	}
	return nil
}
