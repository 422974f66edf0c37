package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/papertrade/ledger-engine/internal/competition"
	"github.com/papertrade/ledger-engine/internal/model"
	"github.com/papertrade/ledger-engine/internal/trade"
)

const dateLayout = "2006-01-02 15:04"

// printMarkdown renders md for the terminal, or writes it untouched when
// plain output was requested or rendering fails.
func printMarkdown(w io.Writer, md string, plain bool) {
	if plain {
		fmt.Fprint(w, md)
		return
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(120))
	if err != nil {
		fmt.Fprint(w, md)
		return
	}
	out, err := r.Render(md)
	if err != nil {
		fmt.Fprint(w, md)
		return
	}
	fmt.Fprint(w, out)
}

func competitionsMarkdown(list []model.Competition, currency string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Competitions\n\n")
	if len(list) == 0 {
		fmt.Fprintln(&b, "_No competitions._")
		return b.String()
	}
	fmt.Fprintln(&b, "| ID | Name | Starting balance | Start | End | Players | Assets |")
	fmt.Fprintln(&b, "|:---|:---|---:|:---|:---|---:|:---|")
	for _, c := range list {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %d | %s |\n",
			c.ID,
			c.Name,
			c.StartingBalance.Format(currency),
			c.StartDate.Format(dateLayout),
			c.EndDate.Format(dateLayout),
			len(c.ParticipantIDs),
			assetList(c),
		)
	}
	return b.String()
}

func assetList(c model.Competition) string {
	if c.OpenMarket {
		return "any"
	}
	syms := make([]string, len(c.TradableAssets))
	for i, s := range c.TradableAssets {
		syms[i] = model.DisplaySymbol(s)
	}
	return strings.Join(syms, ", ")
}

func portfolioMarkdown(v competition.Valuation, currency string) string {
	var b strings.Builder
	p := v.Portfolio
	fmt.Fprintf(&b, "# Portfolio of %s\n\n", p.OwnerID)
	fmt.Fprintf(&b, "- Cash: %s\n", p.Cash.Format(currency))
	fmt.Fprintf(&b, "- Holdings: %s\n", v.HoldingsValue.Format(currency))
	fmt.Fprintf(&b, "- Total: %s (%s%%)\n", v.TotalValue.Format(currency), v.ReturnPct)
	fmt.Fprintf(&b, "- Version: %d\n\n", p.Version)

	if len(v.Positions) == 0 {
		return b.String()
	}
	fmt.Fprintln(&b, "| Symbol | Quantity | Avg cost | Price | Market value | Unrealized |")
	fmt.Fprintln(&b, "|:---|---:|---:|---:|---:|---:|")
	for _, pos := range v.Positions {
		price := pos.Price.Format(currency)
		if !pos.Priced {
			price = "n/a"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
			model.DisplaySymbol(pos.Symbol),
			pos.Quantity,
			pos.AverageCost.Format(currency),
			price,
			pos.MarketValue.Format(currency),
			pos.UnrealizedGain.Format(currency),
		)
	}
	return b.String()
}

func leaderboardMarkdown(board []model.LeaderboardEntry, currency string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Leaderboard\n\n")
	fmt.Fprintln(&b, "| Rank | Player | Total | Cash | Holdings | Return |")
	fmt.Fprintln(&b, "|---:|:---|---:|---:|---:|---:|")
	for _, e := range board {
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s | %s%% |\n",
			e.Rank,
			e.UserID,
			e.TotalValue.Format(currency),
			e.Cash.Format(currency),
			e.HoldingsValue.Format(currency),
			e.ReturnPct,
		)
	}
	return b.String()
}

func tradeMarkdown(res trade.Result, currency string) string {
	var b strings.Builder
	t := res.Trade
	fmt.Fprintf(&b, "# Trade %s\n\n", res.TradeID)
	fmt.Fprintf(&b, "%s %s %s @ %s = %s\n\n",
		t.Side,
		t.Quantity,
		model.DisplaySymbol(t.Symbol),
		t.Price.Format(currency),
		t.Amount.Format(currency),
	)
	if t.Side == model.SideSell {
		fmt.Fprintf(&b, "- Realized gain: %s\n", t.RealizedGain.Format(currency))
	}
	fmt.Fprintf(&b, "- Cash after: %s\n", t.CashAfter.Format(currency))
	fmt.Fprintf(&b, "- Portfolio version: %d (%d attempt(s))\n", t.Version, res.Attempts)
	return b.String()
}

func tradesMarkdown(trades []model.TradeRecord, currency string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Trades\n\n")
	if len(trades) == 0 {
		fmt.Fprintln(&b, "_No trades yet._")
		return b.String()
	}
	fmt.Fprintln(&b, "| Executed | Side | Symbol | Quantity | Price | Amount | Realized |")
	fmt.Fprintln(&b, "|:---|:---|:---|---:|---:|---:|---:|")
	for _, t := range trades {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s |\n",
			t.ExecutedAt.Format(dateLayout),
			t.Side,
			model.DisplaySymbol(t.Symbol),
			t.Quantity,
			t.Price.Format(currency),
			t.Amount.Format(currency),
			t.RealizedGain.Format(currency),
		)
	}
	return b.String()
}
