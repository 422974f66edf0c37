package ledger

import (
	"errors"
	"testing"

	apperrors "github.com/papertrade/ledger-engine/internal/errors"
	"github.com/papertrade/ledger-engine/internal/model"
	"github.com/papertrade/ledger-engine/internal/money"
)

func m(s string) money.Money    { return money.MustParse(s) }
func q(s string) money.Quantity { return money.MustParseQuantity(s) }
func buy(sym, qty string) model.Order {
	return model.Order{Symbol: sym, Side: model.SideBuy, Quantity: q(qty)}
}
func sell(sym, qty string) model.Order {
	return model.Order{Symbol: sym, Side: model.SideSell, Quantity: q(qty)}
}

func fresh(cash string) model.Portfolio {
	return model.Portfolio{
		OwnerID:       "u1",
		CompetitionID: "c1",
		Cash:          m(cash),
		Holdings:      map[string]model.Holding{},
		Version:       1,
	}
}

func TestApplyBuy_NewAndExisting(t *testing.T) {
	h, err := ApplyBuy(nil, "AAPL", q("10"), m("150"))
	if err != nil {
		t.Fatal(err)
	}
	if !h.AverageCost.Equal(m("150")) || !h.TotalCost.Equal(m("1500")) {
		t.Errorf("new holding = avg %s total %s", h.AverageCost, h.TotalCost)
	}

	h, err = ApplyBuy(&h, "AAPL", q("5"), m("180"))
	if err != nil {
		t.Fatal(err)
	}
	if !h.Quantity.Equal(q("15")) {
		t.Errorf("qty = %s, want 15", h.Quantity)
	}
	if !h.TotalCost.Equal(m("2400")) {
		t.Errorf("total cost = %s, want 2400", h.TotalCost)
	}
	if !h.AverageCost.Equal(m("160")) {
		t.Errorf("avg cost = %s, want 160", h.AverageCost)
	}
}

func TestApplyBuy_AverageCostRoundsToCents(t *testing.T) {
	h, _ := ApplyBuy(nil, "X", q("1"), m("10"))
	h, _ = ApplyBuy(&h, "X", q("2"), m("10.01"))
	// 30.02 / 3 = 10.00666...
	if !h.AverageCost.Equal(m("10.01")) {
		t.Errorf("avg cost = %s, want 10.01", h.AverageCost)
	}
	if !h.TotalCost.Equal(m("30.02")) {
		t.Errorf("total cost = %s, want 30.02", h.TotalCost)
	}
}

func TestApplyBuy_InvalidQuantity(t *testing.T) {
	for _, qty := range []string{"0", "-1"} {
		if _, err := ApplyBuy(nil, "AAPL", q(qty), m("1")); !errors.Is(err, apperrors.ErrInvalidQuantity) {
			t.Errorf("qty %s: got %v, want InvalidQuantity", qty, err)
		}
	}
}

func TestApplySell(t *testing.T) {
	h := model.Holding{Symbol: "AAPL", Quantity: q("15"), AverageCost: m("160"), TotalCost: m("2400")}

	tests := []struct {
		name        string
		qty         string
		wantErr     error
		wantRemoved bool
		wantQty     string
		wantTotal   string
	}{
		{"partial", "5", nil, false, "10", "1600"},
		{"full", "15", nil, true, "", ""},
		{"too many", "16", apperrors.ErrInsufficientShares, false, "", ""},
		{"zero", "0", apperrors.ErrInvalidQuantity, false, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, removed, err := ApplySell(h, q(tt.qty), m("200"))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if removed != tt.wantRemoved {
				t.Fatalf("removed = %v, want %v", removed, tt.wantRemoved)
			}
			if removed {
				return
			}
			if !out.Quantity.Equal(q(tt.wantQty)) || !out.TotalCost.Equal(m(tt.wantTotal)) {
				t.Errorf("got qty %s total %s", out.Quantity, out.TotalCost)
			}
			if !out.AverageCost.Equal(h.AverageCost) {
				t.Errorf("sell changed average cost to %s", out.AverageCost)
			}
		})
	}
}

func TestRealizedGain(t *testing.T) {
	h := model.Holding{Symbol: "AAPL", Quantity: q("15"), AverageCost: m("160")}
	if got := RealizedGain(h, q("15"), m("200")); !got.Equal(m("600")) {
		t.Errorf("gain = %s, want 600", got)
	}
	if got := RealizedGain(h, q("5"), m("150")); !got.Equal(m("-50")) {
		t.Errorf("loss = %s, want -50", got)
	}
}

// Buys at two prices then a full exit, tracking cash, cost basis and gain.
func TestApplyTrade_Scenario(t *testing.T) {
	p := fresh("100000")

	out, err := ApplyTrade(p, buy("AAPL", "10"), m("150"))
	if err != nil {
		t.Fatal(err)
	}
	if !out.Portfolio.Cash.Equal(m("98500")) {
		t.Errorf("cash after first buy = %s, want 98500", out.Portfolio.Cash)
	}

	out, err = ApplyTrade(out.Portfolio, buy("AAPL", "5"), m("180"))
	if err != nil {
		t.Fatal(err)
	}
	h := out.Portfolio.Holdings["AAPL"]
	if !out.Portfolio.Cash.Equal(m("97600")) || !h.AverageCost.Equal(m("160")) || !h.TotalCost.Equal(m("2400")) {
		t.Errorf("after second buy: cash %s avg %s total %s", out.Portfolio.Cash, h.AverageCost, h.TotalCost)
	}

	out, err = ApplyTrade(out.Portfolio, sell("AAPL", "15"), m("200"))
	if err != nil {
		t.Fatal(err)
	}
	if !out.Portfolio.Cash.Equal(m("100600")) {
		t.Errorf("cash after sell = %s, want 100600", out.Portfolio.Cash)
	}
	if _, ok := out.Portfolio.Holdings["AAPL"]; ok || !out.Removed {
		t.Error("holding should be removed after selling everything")
	}
	if !out.RealizedGain.Equal(m("600")) || !out.Amount.Equal(m("3000")) {
		t.Errorf("gain %s proceeds %s", out.RealizedGain, out.Amount)
	}
	if err := CheckInvariants(out.Portfolio); err != nil {
		t.Error(err)
	}
}

func TestApplyTrade_RoundTripNeverMintsCash(t *testing.T) {
	p := fresh("10000")
	// 0.12345678 × 30000 = 3703.7034: charged 3703.71, paid back 3703.70.
	out, err := ApplyTrade(p, buy("BTC-USD", "0.12345678"), m("30000"))
	if err != nil {
		t.Fatal(err)
	}
	if !out.Amount.Equal(m("3703.71")) {
		t.Errorf("buy cost = %s, want 3703.71", out.Amount)
	}
	out, err = ApplyTrade(out.Portfolio, sell("BTC-USD", "0.12345678"), m("30000"))
	if err != nil {
		t.Fatal(err)
	}
	if !out.Amount.Equal(m("3703.70")) {
		t.Errorf("sale proceeds = %s, want 3703.70", out.Amount)
	}
	if !out.Portfolio.Cash.Equal(m("9999.99")) {
		t.Errorf("cash = %s, want 9999.99", out.Portfolio.Cash)
	}
	if len(out.Portfolio.Holdings) != 0 {
		t.Errorf("holdings = %v, want none", out.Portfolio.Holdings)
	}
}

func TestApplyTrade_SubCentOrders(t *testing.T) {
	p := fresh("1000")
	p.Holdings["BTC-USD"] = model.Holding{Symbol: "BTC-USD", Quantity: q("1"), AverageCost: m("64000"), TotalCost: m("64000")}

	// 0.00000007 × 64000 = 0.00448
	if _, err := ApplyTrade(p, buy("BTC-USD", "0.00000007"), m("64000")); !errors.Is(err, apperrors.ErrInvalidOrder) {
		t.Errorf("sub-cent buy: err = %v, want INVALID_ORDER", err)
	}
	// 0.00000015 × 64000 = 0.0096 truncates to nothing.
	if _, err := ApplyTrade(p, sell("BTC-USD", "0.00000015"), m("64000")); !errors.Is(err, apperrors.ErrInvalidOrder) {
		t.Errorf("sub-cent sale: err = %v, want INVALID_ORDER", err)
	}

	// 0.00000008 × 64000 = 0.00512: a buy costs a full cent, a sale pays nothing extra.
	out, err := ApplyTrade(p, buy("BTC-USD", "0.00000008"), m("64000"))
	if err != nil {
		t.Fatal(err)
	}
	if !out.Amount.Equal(m("0.01")) || !out.Portfolio.Cash.Equal(m("999.99")) {
		t.Errorf("buy: cost %s cash %s", out.Amount, out.Portfolio.Cash)
	}
	if _, err := ApplyTrade(p, sell("BTC-USD", "0.00000008"), m("64000")); !errors.Is(err, apperrors.ErrInvalidOrder) {
		t.Errorf("0.00512 sale: err = %v, want INVALID_ORDER", err)
	}
}

func TestApplyTrade_SmallLotsCannotGrowCash(t *testing.T) {
	p := fresh("1000")
	price := m("64000")
	out, err := ApplyTrade(p, buy("BTC-USD", "0.001"), price)
	if err != nil {
		t.Fatal(err)
	}
	cur := out.Portfolio
	// Each 0.00000016 lot is worth 0.01024 and pays 0.01.
	for i := 0; i < 50; i++ {
		out, err := ApplyTrade(cur, sell("BTC-USD", "0.00000016"), price)
		if err != nil {
			t.Fatalf("sale %d: %v", i, err)
		}
		cur = out.Portfolio
	}
	out, err = ApplyTrade(cur, sell("BTC-USD", cur.Holdings["BTC-USD"].Quantity.String()), price)
	if err != nil {
		t.Fatal(err)
	}
	if out.Portfolio.Cash.GreaterThan(p.Cash) {
		t.Errorf("cash grew from %s to %s at a constant price", p.Cash, out.Portfolio.Cash)
	}
	if len(out.Portfolio.Holdings) != 0 {
		t.Errorf("holdings = %v, want none", out.Portfolio.Holdings)
	}
	if err := CheckInvariants(out.Portfolio); err != nil {
		t.Error(err)
	}
}

func TestApplyTrade_Rejections(t *testing.T) {
	held := fresh("100")
	held.Holdings["AAPL"] = model.Holding{Symbol: "AAPL", Quantity: q("2"), AverageCost: m("50"), TotalCost: m("100")}

	tests := []struct {
		name  string
		order model.Order
		price string
		want  error
	}{
		{"insufficient cash", buy("AAPL", "1"), "150", apperrors.ErrInsufficientCash},
		{"sell unheld", sell("MSFT", "1"), "10", apperrors.ErrInsufficientShares},
		{"oversell", sell("AAPL", "3"), "10", apperrors.ErrInsufficientShares},
		{"zero qty", buy("AAPL", "0"), "10", apperrors.ErrInvalidQuantity},
		{"bad side", model.Order{Symbol: "AAPL", Side: "HOLD", Quantity: q("1")}, "10", apperrors.ErrInvalidOrder},
		{"zero price", buy("AAPL", "1"), "0", apperrors.ErrNoQuote},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ApplyTrade(held, tt.order, m(tt.price))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if !held.Cash.Equal(m("100")) || len(held.Holdings) != 1 {
				t.Error("rejected trade mutated its input")
			}
		})
	}
}

func TestApplyTrade_DoesNotMutateInput(t *testing.T) {
	p := fresh("1000")
	p.Holdings["AAPL"] = model.Holding{Symbol: "AAPL", Quantity: q("2"), AverageCost: m("50"), TotalCost: m("100")}

	if _, err := ApplyTrade(p, sell("AAPL", "2"), m("60")); err != nil {
		t.Fatal(err)
	}
	if _, ok := p.Holdings["AAPL"]; !ok {
		t.Error("input holdings mutated")
	}
	if !p.Cash.Equal(m("1000")) {
		t.Errorf("input cash mutated to %s", p.Cash)
	}
}

func TestApplyTrade_AssetClass(t *testing.T) {
	o := buy("SPY", "1")
	o.AssetClass = model.AssetETF
	out, err := ApplyTrade(fresh("1000"), o, m("500"))
	if err != nil {
		t.Fatal(err)
	}
	if got := out.Portfolio.Holdings["SPY"].AssetClass; got != model.AssetETF {
		t.Errorf("asset class = %s, want ETF", got)
	}
}

func TestTotalValue_FallsBackToAverageCost(t *testing.T) {
	p := fresh("1000")
	p.Holdings["AAPL"] = model.Holding{Symbol: "AAPL", Quantity: q("10"), AverageCost: m("150"), TotalCost: m("1500")}
	p.Holdings["MSFT"] = model.Holding{Symbol: "MSFT", Quantity: q("2"), AverageCost: m("300"), TotalCost: m("600")}
	p.Holdings["TSLA"] = model.Holding{Symbol: "TSLA", Quantity: q("1"), AverageCost: m("200"), TotalCost: m("200")}

	prices := map[string]money.Money{
		"AAPL": m("170"),
		"TSLA": m("0"), // non-positive, ignored
	}
	// 1000 + 10*170 + 2*300 + 1*200
	if got := TotalValue(p, prices); !got.Equal(m("3500")) {
		t.Errorf("total value = %s, want 3500", got)
	}
	if got := HoldingsValue(p, nil); !got.Equal(m("2300")) {
		t.Errorf("holdings at cost = %s, want 2300", got)
	}
}

func TestCheckInvariants(t *testing.T) {
	p := fresh("10")
	if err := CheckInvariants(p); err != nil {
		t.Errorf("fresh portfolio: %v", err)
	}

	neg := fresh("-1")
	if err := CheckInvariants(neg); err == nil {
		t.Error("negative cash should fail")
	}

	empty := fresh("10")
	empty.Holdings["AAPL"] = model.Holding{Symbol: "AAPL", Quantity: q("0")}
	if err := CheckInvariants(empty); err == nil {
		t.Error("zero-quantity holding should fail")
	}

	misfiled := fresh("10")
	misfiled.Holdings["AAPL"] = model.Holding{Symbol: "MSFT", Quantity: q("1")}
	if err := CheckInvariants(misfiled); err == nil {
		t.Error("holding under the wrong key should fail")
	}
}

func TestCostBasisDrift(t *testing.T) {
	h, _ := ApplyBuy(nil, "X", q("3"), m("10"))
	h, _ = ApplyBuy(&h, "X", q("3"), m("10.01"))
	// total 60.03, avg 10.01 (rounded from 10.005), 6 × 10.01 = 60.06
	if got := CostBasisDrift(h); !got.Equal(m("0.03")) {
		t.Errorf("drift = %s, want 0.03", got)
	}
}

func TestApplySell_TotalCostNeverNegative(t *testing.T) {
	h, _ := ApplyBuy(nil, "X", q("3"), m("10"))
	h, _ = ApplyBuy(&h, "X", q("3"), m("10.01"))
	// 60.03 − 10.01 × 5.999 would leave −0.02.
	out, removed, err := ApplySell(h, q("5.999"), m("11"))
	if err != nil || removed {
		t.Fatalf("removed %v err %v", removed, err)
	}
	if out.TotalCost.IsNegative() {
		t.Errorf("total cost = %s", out.TotalCost)
	}
	p := model.Portfolio{Cash: m("1"), Holdings: map[string]model.Holding{"X": out}}
	if err := CheckInvariants(p); err != nil {
		t.Errorf("CheckInvariants: %v", err)
	}
}
