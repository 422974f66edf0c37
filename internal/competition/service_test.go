package competition

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	apperrors "github.com/papertrade/ledger-engine/internal/errors"
	"github.com/papertrade/ledger-engine/internal/model"
	"github.com/papertrade/ledger-engine/internal/money"
	"github.com/papertrade/ledger-engine/internal/pricefeed"
	"github.com/papertrade/ledger-engine/internal/store"
)

var now = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func m(s string) money.Money    { return money.MustParse(s) }
func q(s string) money.Quantity { return money.MustParseQuantity(s) }

func newService(t *testing.T) (*Service, *store.MemoryStore, *pricefeed.StaticFeed) {
	t.Helper()
	st := store.NewMemoryStore()
	feed := pricefeed.NewStaticFeed(map[string]money.Money{"AAPL": m("260")})
	svc := NewService(st, feed, nil)
	svc.now = func() time.Time { return now }
	svc.newID = func() string { return "comp-1" }
	return svc, st, feed
}

func validInput() CreateInput {
	return CreateInput{
		Name:            "May Madness",
		StartingBalance: m("10000"),
		StartDate:       now.Add(time.Hour),
		EndDate:         now.Add(30 * 24 * time.Hour),
		TradableAssets:  []string{"aapl", "brk.b", "AAPL"},
		IsPublic:        true,
	}
}

func TestCreate_JoinsOwner(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()

	c, err := svc.Create(ctx, "alice", validInput())
	if err != nil {
		t.Fatal(err)
	}
	if c.ID != "comp-1" || c.OwnerID != "alice" || !c.CreatedAt.Equal(now) {
		t.Errorf("competition = %+v", c)
	}
	if !slices.Equal(c.TradableAssets, []string{"AAPL", "BRK_B"}) {
		t.Errorf("tradable assets = %v", c.TradableAssets)
	}
	if !slices.Equal(c.ParticipantIDs, []string{"alice"}) {
		t.Errorf("participants = %v", c.ParticipantIDs)
	}
	p, err := st.ReadPortfolio(ctx, "comp-1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !p.Cash.Equal(m("10000")) || !p.LastValuation.Equal(m("10000")) || p.Version != 1 || len(p.Holdings) != 0 {
		t.Errorf("owner portfolio = %+v", p)
	}
}

func TestCreate_InvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"zero balance", func(in *CreateInput) { in.StartingBalance = money.Zero }},
		{"negative balance", func(in *CreateInput) { in.StartingBalance = m("-5") }},
		{"end before start", func(in *CreateInput) { in.EndDate = in.StartDate.Add(-time.Minute) }},
		{"already over", func(in *CreateInput) {
			in.StartDate = now.Add(-48 * time.Hour)
			in.EndDate = now.Add(-24 * time.Hour)
		}},
		{"no assets", func(in *CreateInput) { in.TradableAssets = nil }},
		{"bad asset", func(in *CreateInput) { in.TradableAssets = []string{"AAPL", "not a ticker"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, st, _ := newService(t)
			in := validInput()
			tt.mutate(&in)
			if _, err := svc.Create(context.Background(), "alice", in); !errors.Is(err, apperrors.ErrInvalidInput) {
				t.Fatalf("err = %v, want INVALID_INPUT", err)
			}
			if list, _ := st.ListCompetitions(context.Background()); len(list) != 0 {
				t.Errorf("invalid competition stored: %+v", list)
			}
		})
	}
}

func TestCreate_OpenMarketNeedsNoAssets(t *testing.T) {
	svc, _, _ := newService(t)
	in := validInput()
	in.TradableAssets = nil
	in.OpenMarket = true
	c, err := svc.Create(context.Background(), "alice", in)
	if err != nil {
		t.Fatal(err)
	}
	if !c.AllowsSymbol("TSLA") {
		t.Error("open market competition rejects TSLA")
	}
}

func TestJoin(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.Create(ctx, "alice", validInput()); err != nil {
		t.Fatal(err)
	}

	p, err := svc.Join(ctx, "comp-1", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if p.OwnerID != "bob" || !p.Cash.Equal(m("10000")) {
		t.Errorf("portfolio = %+v", p)
	}
	c, _ := st.GetCompetition(ctx, "comp-1")
	if !c.HasParticipant("bob") {
		t.Error("bob not added to participants")
	}

	if _, err := svc.Join(ctx, "comp-1", "bob"); !errors.Is(err, apperrors.ErrAlreadyJoined) {
		t.Errorf("second join: %v, want ALREADY_JOINED", err)
	}
	if _, err := svc.Join(ctx, "missing", "bob"); !errors.Is(err, apperrors.ErrCompetitionNotFound) {
		t.Errorf("unknown competition: %v", err)
	}

	// Joining stays open after the start, until the end.
	svc.now = func() time.Time { return now.Add(10 * 24 * time.Hour) }
	if _, err := svc.Join(ctx, "comp-1", "carol"); err != nil {
		t.Errorf("join after start: %v", err)
	}
	svc.now = func() time.Time { return now.Add(31 * 24 * time.Hour) }
	if _, err := svc.Join(ctx, "comp-1", "dave"); !errors.Is(err, apperrors.ErrCompetitionEnded) {
		t.Errorf("join after end: %v, want COMPETITION_ENDED", err)
	}
}

func TestJoin_RepairsMissingMembership(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.Create(ctx, "alice", validInput()); err != nil {
		t.Fatal(err)
	}
	// A previous join created the portfolio but never recorded membership.
	_ = st.CreatePortfolio(ctx, &model.Portfolio{OwnerID: "bob", CompetitionID: "comp-1", Cash: m("10000"), Version: 1})

	if _, err := svc.Join(ctx, "comp-1", "bob"); err != nil {
		t.Fatal(err)
	}
	c, _ := st.GetCompetition(ctx, "comp-1")
	if !c.HasParticipant("bob") {
		t.Error("membership not repaired")
	}
}

func TestDelete(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.Create(ctx, "alice", validInput()); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Join(ctx, "comp-1", "bob"); err != nil {
		t.Fatal(err)
	}

	if err := svc.Delete(ctx, "comp-1", "bob"); !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("non-owner delete: %v, want FORBIDDEN", err)
	}
	if err := svc.Delete(ctx, "comp-1", "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := st.GetCompetition(ctx, "comp-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("competition still present: %v", err)
	}
	if ps, _ := st.ListPortfolios(ctx, "comp-1"); len(ps) != 0 {
		t.Errorf("portfolios not cascaded: %+v", ps)
	}
	if err := svc.Delete(ctx, "comp-1", "alice"); !errors.Is(err, apperrors.ErrCompetitionNotFound) {
		t.Errorf("second delete: %v", err)
	}
}

func seedBoard(t *testing.T, st *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	err := st.CreateCompetition(ctx, &model.Competition{
		ID: "c1", OwnerID: "alice", Name: "Board", StartingBalance: m("10000"),
		StartDate: now.Add(-time.Hour), EndDate: now.Add(time.Hour), OpenMarket: true,
		ParticipantIDs: []string{"alice", "bob", "carol", "dave"},
	})
	if err != nil {
		t.Fatal(err)
	}
	portfolios := []model.Portfolio{
		{OwnerID: "alice", Cash: m("5000"), Holdings: map[string]model.Holding{
			"AAPL": {Symbol: "AAPL", Quantity: q("20"), AverageCost: m("200"), TotalCost: m("4000")},
		}},
		{OwnerID: "bob", Cash: m("10200")},
		{OwnerID: "carol", Cash: m("1000"), Holdings: map[string]model.Holding{
			"XYZ": {Symbol: "XYZ", Quantity: q("10"), AverageCost: m("500"), TotalCost: m("5000")},
		}},
		{OwnerID: "dave", Cash: m("12500")},
	}
	for i := range portfolios {
		p := portfolios[i]
		p.CompetitionID = "c1"
		p.Version = 1
		if err := st.CreatePortfolio(ctx, &p); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLeaderboard(t *testing.T) {
	svc, st, _ := newService(t)
	seedBoard(t, st)

	board, err := svc.Leaderboard(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		rank  int
		user  string
		total string
		pct   string
	}{
		{1, "dave", "12500.00", "25.00"},
		{2, "alice", "10200.00", "2.00"},
		{2, "bob", "10200.00", "2.00"},
		{3, "carol", "6000.00", "-40.00"}, // XYZ has no quote: valued at cost
	}
	if len(board) != len(want) {
		t.Fatalf("board = %+v", board)
	}
	for i, w := range want {
		e := board[i]
		if e.Rank != w.rank || e.UserID != w.user || e.TotalValue.String() != w.total || e.ReturnPct != w.pct {
			t.Errorf("entry %d = %+v, want %+v", i, e, w)
		}
	}
	if board[1].HoldingsValue.String() != "5200.00" || board[1].Cash.String() != "5000.00" {
		t.Errorf("alice breakdown = %+v", board[1])
	}
}

func TestLeaderboard_UnknownCompetition(t *testing.T) {
	svc, _, _ := newService(t)
	if _, err := svc.Leaderboard(context.Background(), "nope"); !errors.Is(err, apperrors.ErrCompetitionNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestPortfolioValuation(t *testing.T) {
	svc, st, feed := newService(t)
	seedBoard(t, st)
	ctx := context.Background()

	v, err := svc.Portfolio(ctx, "c1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(v.Positions) != 1 {
		t.Fatalf("positions = %+v", v.Positions)
	}
	pos := v.Positions[0]
	if !pos.Priced || pos.MarketValue.String() != "5200.00" || pos.UnrealizedGain.String() != "1200.00" {
		t.Errorf("position = %+v", pos)
	}
	if v.TotalValue.String() != "10200.00" || v.ReturnPct != "2.00" {
		t.Errorf("valuation = %+v", v)
	}

	feed.Delete("AAPL")
	v, _ = svc.Portfolio(ctx, "c1", "alice")
	if v.Positions[0].Priced || v.TotalValue.String() != "9000.00" || v.Positions[0].UnrealizedGain.String() != "0.00" {
		t.Errorf("fallback valuation = %+v", v)
	}

	if _, err := svc.Portfolio(ctx, "c1", "mallory"); !errors.Is(err, apperrors.ErrPortfolioNotFound) {
		t.Errorf("outsider: %v", err)
	}
}

func TestActiveCount(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	ids := []string{"spring", "summer"}
	svc.newID = func() string { id := ids[0]; ids = ids[1:]; return id }

	in := validInput()
	if _, err := svc.Create(ctx, "alice", in); err != nil {
		t.Fatal(err)
	}
	in.StartDate, in.EndDate = now.Add(40*24*time.Hour), now.Add(60*24*time.Hour)
	if _, err := svc.Create(ctx, "bob", in); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		at   time.Time
		want int
	}{
		{"before any start", now, 0},
		{"first running", now.Add(2 * time.Hour), 1},
		{"between", now.Add(35 * 24 * time.Hour), 0},
		{"second running", now.Add(50 * 24 * time.Hour), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc.now = func() time.Time { return tt.at }
			got, err := svc.ActiveCount(ctx)
			if err != nil || got != tt.want {
				t.Errorf("ActiveCount = %d, %v, want %d", got, err, tt.want)
			}
		})
	}
}
