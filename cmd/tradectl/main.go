// Command tradectl drives a ledger-engine server from the terminal.
//
//	tradectl -user alice competitions
//	tradectl -user alice trade <competition-id> buy 10 AAPL
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/google/subcommands"

	"github.com/papertrade/ledger-engine/internal/auth"
)

// app holds the top-level flags shared by every subcommand.
type app struct {
	server   string
	token    string
	user     string
	secret   string
	currency string
	plain    bool

	out    io.Writer
	errOut io.Writer
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (a *app) registerFlags(f *flag.FlagSet) {
	f.StringVar(&a.server, "server", envOr("TRADECTL_SERVER", "http://localhost:8080"), "ledger-engine base URL")
	f.StringVar(&a.token, "token", os.Getenv("TRADECTL_TOKEN"), "bearer token; minted from -user and -secret when empty")
	f.StringVar(&a.user, "user", os.Getenv("TRADECTL_USER"), "user ID for a locally minted token")
	f.StringVar(&a.secret, "secret", envOr("JWT_SECRET", "dev-secret-change-me"), "shared JWT secret for locally minted tokens")
	f.StringVar(&a.currency, "currency", "USD", "ISO currency used to display amounts")
	f.BoolVar(&a.plain, "plain", false, "print raw Markdown instead of rendering it")
}

var errNoCredentials = errors.New("no credentials: pass -token, or -user with -secret")

// client returns an API client authenticated as the configured user.
func (a *app) client() (*client, error) {
	tok := a.token
	if tok == "" {
		if a.user == "" {
			return nil, errNoCredentials
		}
		var err error
		tok, err = auth.Issue(a.secret, a.user, time.Hour)
		if err != nil {
			return nil, err
		}
	}
	return newClient(a.server, tok), nil
}

func (a *app) fail(format string, args ...any) subcommands.ExitStatus {
	fmt.Fprintf(a.errOut, "Error: "+format+"\n", args...)
	return subcommands.ExitFailure
}

func (a *app) print(md string) subcommands.ExitStatus {
	printMarkdown(a.out, md, a.plain)
	return subcommands.ExitSuccess
}

// register adds every tradectl subcommand to c.
func register(c *subcommands.Commander, a *app) {
	c.Register(c.HelpCommand(), "")
	c.Register(c.FlagsCommand(), "")
	c.Register(c.CommandsCommand(), "")

	c.Register(&competitionsCmd{app: a}, "competitions")
	c.Register(&createCmd{app: a}, "competitions")
	c.Register(&joinCmd{app: a}, "competitions")
	c.Register(&leaderboardCmd{app: a}, "competitions")

	c.Register(&tradeCmd{app: a}, "trading")
	c.Register(&tradesCmd{app: a}, "trading")
	c.Register(&portfolioCmd{app: a}, "trading")
	c.Register(&quoteCmd{app: a}, "trading")

	c.Register(&tokenCmd{app: a}, "auth")
}

func main() {
	a := &app{out: os.Stdout, errOut: os.Stderr}
	a.registerFlags(flag.CommandLine)

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	register(commander, a)

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
