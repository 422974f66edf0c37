// Package ledger implements the pure portfolio arithmetic: per-symbol cost
// basis tracking, trade application and valuation. Nothing here performs I/O;
// every function returns new values and leaves its inputs untouched.
//
// Cost basis uses the weighted-average method. A buy folds its cost into the
// running total; a sell removes cost at the existing average, never at the
// sale price, so the sale price only affects cash and realized gain.
//
// Sub-cent remainders always go against the trader: buy costs round up and
// sale proceeds round down, so no sequence of trades at a fixed price can
// increase cash.
package ledger

import (
	"github.com/papertrade/ledger-engine/internal/errors"
	"github.com/papertrade/ledger-engine/internal/model"
	"github.com/papertrade/ledger-engine/internal/money"
)

// ApplyBuy adds qty units bought at price to h. A nil h opens a new position.
func ApplyBuy(h *model.Holding, symbol string, qty money.Quantity, price money.Money) (model.Holding, error) {
	if !qty.IsPositive() || qty.IsZero() {
		return model.Holding{}, errors.ErrInvalidQuantity
	}
	cost := price.MulUp(qty)

	if h == nil {
		return model.Holding{
			Symbol:      symbol,
			Quantity:    qty,
			AverageCost: price,
			TotalCost:   cost,
			AssetClass:  model.AssetEquity,
		}, nil
	}

	out := *h
	out.Quantity = h.Quantity.Add(qty)
	out.TotalCost = h.TotalCost.Add(cost)
	out.AverageCost = out.TotalCost.Div(out.Quantity)
	return out, nil
}

// ApplySell removes qty units from h. When the remaining quantity is zero the
// holding is reported as removed and the returned Holding must be discarded.
func ApplySell(h model.Holding, qty money.Quantity, price money.Money) (out model.Holding, removed bool, err error) {
	if !qty.IsPositive() || qty.IsZero() {
		return model.Holding{}, false, errors.ErrInvalidQuantity
	}
	if qty.GreaterThan(h.Quantity) {
		return model.Holding{}, false, errors.ErrInsufficientShares
	}

	remaining := h.Quantity.Sub(qty)
	if remaining.IsZero() {
		return model.Holding{}, true, nil
	}

	out = h
	out.Quantity = remaining
	out.TotalCost = h.TotalCost.Sub(h.AverageCost.Mul(qty))
	// A rounded-up average can remove slightly more cost than remains.
	if out.TotalCost.IsNegative() {
		out.TotalCost = money.Zero
	}
	return out, false, nil
}

// RealizedGain is qty × (salePrice − averageCost). It is informational; the
// ledger stays correct without it.
func RealizedGain(h model.Holding, qty money.Quantity, salePrice money.Money) money.Money {
	return salePrice.Sub(h.AverageCost).Mul(qty)
}

// CostBasisDrift returns |totalCost − quantity × averageCost| for h, the
// rounding error accumulated by incremental maintenance.
func CostBasisDrift(h model.Holding) money.Money {
	d := h.TotalCost.Sub(h.AverageCost.Mul(h.Quantity))
	if d.IsNegative() {
		return d.Neg()
	}
	return d
}
