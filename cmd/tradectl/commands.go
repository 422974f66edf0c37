package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/subcommands"

	"github.com/papertrade/ledger-engine/internal/auth"
	"github.com/papertrade/ledger-engine/internal/competition"
	"github.com/papertrade/ledger-engine/internal/model"
	"github.com/papertrade/ledger-engine/internal/money"
	"github.com/papertrade/ledger-engine/internal/trade"
)

// competitionsCmd lists public or joined competitions.
type competitionsCmd struct {
	app    *app
	joined bool
}

func (*competitionsCmd) Name() string     { return "competitions" }
func (*competitionsCmd) Synopsis() string { return "list public competitions" }
func (*competitionsCmd) Usage() string {
	return `tradectl competitions [-joined]

  Lists public competitions, or with -joined the ones you take part in.
`
}

func (c *competitionsCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.joined, "joined", false, "list the competitions you joined instead")
}

func (c *competitionsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cl, err := c.app.client()
	if err != nil {
		return c.app.fail("%v", err)
	}
	p := "/competitions"
	if c.joined {
		p += "?joined=true"
	}
	var list []model.Competition
	if err := cl.do(ctx, http.MethodGet, p, nil, &list); err != nil {
		return c.app.fail("listing competitions: %v", err)
	}
	return c.app.print(competitionsMarkdown(list, c.app.currency))
}

// createCmd creates a competition owned by the caller.
type createCmd struct {
	app     *app
	name    string
	balance string
	start   string
	days    int
	assets  string
	open    bool
	private bool
}

func (*createCmd) Name() string     { return "create" }
func (*createCmd) Synopsis() string { return "create a competition" }
func (*createCmd) Usage() string {
	return `tradectl create -name <name> [-balance <amount>] [-start <date>] [-days <n>] [-assets <AAPL,MSFT>|-open] [-private]

  Creates a competition and joins you to it with the starting balance.

Usage Examples:
$ tradectl -user alice create -name "May Madness" -balance 10000 -assets AAPL,MSFT,BRK.B
$ tradectl -user alice create -name "Anything Goes" -open -days 7
`
}

func (c *createCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.name, "name", "", "competition name")
	f.StringVar(&c.balance, "balance", "100000", "starting cash for every participant")
	f.StringVar(&c.start, "start", "", "start date (YYYY-MM-DD or RFC 3339); now when empty")
	f.IntVar(&c.days, "days", 30, "length of the competition in days")
	f.StringVar(&c.assets, "assets", "", "comma separated tradable symbols")
	f.BoolVar(&c.open, "open", false, "allow any symbol")
	f.BoolVar(&c.private, "private", false, "hide the competition from the public list")
}

func parseStart(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

func splitSymbols(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func (c *createCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.name == "" || c.days <= 0 {
		fmt.Fprintln(c.app.errOut, "create needs -name and a positive -days")
		return subcommands.ExitUsageError
	}
	balance, err := money.Parse(c.balance)
	if err != nil {
		fmt.Fprintf(c.app.errOut, "Error parsing balance: %v\n", err)
		return subcommands.ExitUsageError
	}
	start, err := parseStart(c.start, time.Now().UTC())
	if err != nil {
		fmt.Fprintf(c.app.errOut, "Error parsing start date: %v\n", err)
		return subcommands.ExitUsageError
	}

	cl, err := c.app.client()
	if err != nil {
		return c.app.fail("%v", err)
	}
	in := competition.CreateInput{
		Name:            c.name,
		StartingBalance: balance,
		StartDate:       start,
		EndDate:         start.AddDate(0, 0, c.days),
		TradableAssets:  splitSymbols(c.assets),
		OpenMarket:      c.open,
		IsPublic:        !c.private,
	}
	var created model.Competition
	if err := cl.do(ctx, http.MethodPost, "/competitions", in, &created); err != nil {
		return c.app.fail("creating competition: %v", err)
	}
	return c.app.print(competitionsMarkdown([]model.Competition{created}, c.app.currency))
}

// joinCmd joins a competition.
type joinCmd struct{ app *app }

func (*joinCmd) Name() string           { return "join" }
func (*joinCmd) Synopsis() string       { return "join a competition" }
func (*joinCmd) Usage() string          { return "tradectl join <competition-id>\n" }
func (*joinCmd) SetFlags(*flag.FlagSet) {}

func (c *joinCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(c.app.errOut, c.Usage())
		return subcommands.ExitUsageError
	}
	cl, err := c.app.client()
	if err != nil {
		return c.app.fail("%v", err)
	}
	var p model.Portfolio
	if err := cl.do(ctx, http.MethodPost, competitionPath(f.Arg(0), "join"), nil, &p); err != nil {
		return c.app.fail("joining: %v", err)
	}
	fmt.Fprintf(c.app.out, "Joined %s with %s\n", p.CompetitionID, p.Cash.Format(c.app.currency))
	return subcommands.ExitSuccess
}

// tradeCmd places a market order.
type tradeCmd struct {
	app   *app
	asset string
}

func (*tradeCmd) Name() string     { return "trade" }
func (*tradeCmd) Synopsis() string { return "buy or sell at the current price" }
func (*tradeCmd) Usage() string {
	return `tradectl trade [-asset <EQUITY|ETF|CRYPTO>] <competition-id> <buy|sell> <quantity> <symbol>

  Executes a market order at the current quote. Quantities may be fractional.

Usage Examples:
$ tradectl -user alice trade 3f1c... buy 10 AAPL
$ tradectl -user alice trade -asset crypto 3f1c... sell 0.25 BTC-USD
`
}

func (c *tradeCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.asset, "asset", "", "asset class, equity when empty")
}

func (c *tradeCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 4 {
		fmt.Fprint(c.app.errOut, c.Usage())
		return subcommands.ExitUsageError
	}
	if _, ok := model.ParseSide(f.Arg(1)); !ok {
		fmt.Fprintf(c.app.errOut, "side must be buy or sell, got %q\n", f.Arg(1))
		return subcommands.ExitUsageError
	}
	qty, err := money.ParseQuantity(f.Arg(2))
	if err != nil {
		fmt.Fprintf(c.app.errOut, "Error parsing quantity: %v\n", err)
		return subcommands.ExitUsageError
	}

	cl, err := c.app.client()
	if err != nil {
		return c.app.fail("%v", err)
	}
	req := trade.TradeRequest{
		Symbol:     f.Arg(3),
		Side:       f.Arg(1),
		Quantity:   qty,
		AssetClass: c.asset,
	}
	var res trade.Result
	if err := cl.do(ctx, http.MethodPost, competitionPath(f.Arg(0), "trades"), req, &res); err != nil {
		return c.app.fail("trade rejected: %v", err)
	}
	return c.app.print(tradeMarkdown(res, c.app.currency))
}

// tradesCmd lists the caller's trade history.
type tradesCmd struct{ app *app }

func (*tradesCmd) Name() string           { return "trades" }
func (*tradesCmd) Synopsis() string       { return "list your trades in a competition" }
func (*tradesCmd) Usage() string          { return "tradectl trades <competition-id>\n" }
func (*tradesCmd) SetFlags(*flag.FlagSet) {}

func (c *tradesCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(c.app.errOut, c.Usage())
		return subcommands.ExitUsageError
	}
	cl, err := c.app.client()
	if err != nil {
		return c.app.fail("%v", err)
	}
	var trades []model.TradeRecord
	if err := cl.do(ctx, http.MethodGet, competitionPath(f.Arg(0), "trades"), nil, &trades); err != nil {
		return c.app.fail("listing trades: %v", err)
	}
	return c.app.print(tradesMarkdown(trades, c.app.currency))
}

// portfolioCmd shows the caller's valued portfolio.
type portfolioCmd struct{ app *app }

func (*portfolioCmd) Name() string           { return "portfolio" }
func (*portfolioCmd) Synopsis() string       { return "show your portfolio at current prices" }
func (*portfolioCmd) Usage() string          { return "tradectl portfolio <competition-id>\n" }
func (*portfolioCmd) SetFlags(*flag.FlagSet) {}

func (c *portfolioCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(c.app.errOut, c.Usage())
		return subcommands.ExitUsageError
	}
	cl, err := c.app.client()
	if err != nil {
		return c.app.fail("%v", err)
	}
	var v competition.Valuation
	if err := cl.do(ctx, http.MethodGet, competitionPath(f.Arg(0), "portfolio"), nil, &v); err != nil {
		return c.app.fail("loading portfolio: %v", err)
	}
	return c.app.print(portfolioMarkdown(v, c.app.currency))
}

// leaderboardCmd ranks a competition's participants.
type leaderboardCmd struct{ app *app }

func (*leaderboardCmd) Name() string           { return "leaderboard" }
func (*leaderboardCmd) Synopsis() string       { return "rank the participants of a competition" }
func (*leaderboardCmd) Usage() string          { return "tradectl leaderboard <competition-id>\n" }
func (*leaderboardCmd) SetFlags(*flag.FlagSet) {}

func (c *leaderboardCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(c.app.errOut, c.Usage())
		return subcommands.ExitUsageError
	}
	cl, err := c.app.client()
	if err != nil {
		return c.app.fail("%v", err)
	}
	var board []model.LeaderboardEntry
	if err := cl.do(ctx, http.MethodGet, competitionPath(f.Arg(0), "leaderboard"), nil, &board); err != nil {
		return c.app.fail("loading leaderboard: %v", err)
	}
	return c.app.print(leaderboardMarkdown(board, c.app.currency))
}

// quoteCmd prints the current price of a symbol.
type quoteCmd struct{ app *app }

func (*quoteCmd) Name() string           { return "quote" }
func (*quoteCmd) Synopsis() string       { return "show the current price of a symbol" }
func (*quoteCmd) Usage() string          { return "tradectl quote <symbol>\n" }
func (*quoteCmd) SetFlags(*flag.FlagSet) {}

func (c *quoteCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(c.app.errOut, c.Usage())
		return subcommands.ExitUsageError
	}
	cl, err := c.app.client()
	if err != nil {
		return c.app.fail("%v", err)
	}
	var q model.PriceQuote
	if err := cl.do(ctx, http.MethodGet, "/quotes/"+url.PathEscape(f.Arg(0)), nil, &q); err != nil {
		return c.app.fail("quote: %v", err)
	}
	fmt.Fprintf(c.app.out, "%s %s\n", q.Symbol, q.Price.Format(c.app.currency))
	return subcommands.ExitSuccess
}

// tokenCmd mints a development token signed with -secret.
type tokenCmd struct {
	app *app
	ttl time.Duration
}

func (*tokenCmd) Name() string     { return "token" }
func (*tokenCmd) Synopsis() string { return "mint a development token" }
func (*tokenCmd) Usage() string {
	return `tradectl -user <id> [-secret <secret>] token [-ttl <duration>]

  Prints a bearer token for the user, signed with the shared secret. Only
  useful against servers running with that secret.
`
}

func (c *tokenCmd) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&c.ttl, "ttl", 24*time.Hour, "token lifetime")
}

func (c *tokenCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.app.user == "" {
		fmt.Fprintln(c.app.errOut, "token needs -user")
		return subcommands.ExitUsageError
	}
	tok, err := auth.Issue(c.app.secret, c.app.user, c.ttl)
	if err != nil {
		return c.app.fail("signing token: %v", err)
	}
	fmt.Fprintln(c.app.out, tok)
	return subcommands.ExitSuccess
}
