// Package trade executes orders against competition portfolios and serves
// the trading HTTP and WebSocket endpoints.
//
// Every trade runs as an independent invocation of Executor.Execute. The only
// shared mutable resource is the persisted portfolio, protected by the Guard's
// compare-and-swap.
package trade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/papertrade/ledger-engine/internal/errors"
	"github.com/papertrade/ledger-engine/internal/events"
	"github.com/papertrade/ledger-engine/internal/ledger"
	"github.com/papertrade/ledger-engine/internal/metrics"
	"github.com/papertrade/ledger-engine/internal/model"
	"github.com/papertrade/ledger-engine/internal/money"
	"github.com/papertrade/ledger-engine/internal/pricefeed"
	"github.com/papertrade/ledger-engine/internal/store"
)

// State is a step of the trade lifecycle.
type State string

const (
	StateIdle       State = "IDLE"
	StateValidating State = "VALIDATING"
	StatePricing    State = "PRICING"
	StateApplying   State = "APPLYING"
	StateCommitted  State = "COMMITTED"
	StateRejected   State = "REJECTED"
)

const (
	DefaultQuoteTimeout = 3 * time.Second
	publishTimeout      = 2 * time.Second
)

// Result describes one Execute call. On rejection it still carries the
// states visited and whatever was known when the trade stopped.
type Result struct {
	TradeID      string            `json:"trade_id"`
	State        State             `json:"state"`
	States       []State           `json:"states"`
	Quote        model.PriceQuote  `json:"quote"`
	Trade        model.TradeRecord `json:"trade"`
	Portfolio    model.Portfolio   `json:"portfolio"`
	RealizedGain money.Money       `json:"realized_gain"`
	Attempts     int               `json:"attempts"`
}

func (r *Result) enter(s State) {
	r.State = s
	r.States = append(r.States, s)
}

// Config bounds the two suspension points of a trade.
type Config struct {
	QuoteTimeout  time.Duration
	CommitTimeout time.Duration
	MaxAttempts   int
}

// Deps are the collaborators of an Executor. Publisher and Hub are optional.
type Deps struct {
	Competitions store.CompetitionDirectory
	Portfolios   store.PortfolioStore
	Feed         pricefeed.Feed
	Publisher    events.Publisher
	Hub          *WSHub
	Logger       *zap.Logger
}

// Executor runs orders through validation, pricing and a guarded commit.
type Executor struct {
	competitions store.CompetitionDirectory
	guard        *Guard
	feed         pricefeed.Feed
	publisher    events.Publisher
	hub          *WSHub
	logger       *zap.Logger
	quoteTimeout time.Duration

	now   func() time.Time
	newID func() string
}

func NewExecutor(d Deps, cfg Config) *Executor {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pub := d.Publisher
	if pub == nil {
		pub = events.NopPublisher{}
	}
	qt := cfg.QuoteTimeout
	if qt <= 0 {
		qt = DefaultQuoteTimeout
	}
	return &Executor{
		competitions: d.Competitions,
		guard:        NewGuard(d.Portfolios, cfg.MaxAttempts, cfg.CommitTimeout, logger),
		feed:         d.Feed,
		publisher:    pub,
		hub:          d.Hub,
		logger:       logger,
		quoteTimeout: qt,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        func() string { return uuid.New().String() },
	}
}

// Execute runs one order for userID in competitionID. A rejected trade has
// no durable effect. The returned error is always an *apperrors.AppError.
func (e *Executor) Execute(ctx context.Context, userID, competitionID string, order model.Order) (res Result, err error) {
	start := time.Now()
	res = Result{TradeID: e.newID(), State: StateIdle, States: []State{StateIdle}}
	defer func() {
		side := string(order.Side)
		if !order.Side.Valid() {
			side = "invalid"
		}
		metrics.TradeLatency.WithLabelValues(side).Observe(time.Since(start).Seconds())
		if err == nil {
			return
		}
		res.enter(StateRejected)
		code := apperrors.CodeOf(err)
		metrics.TradeRejections.WithLabelValues(code).Inc()
		e.logger.Info("trade rejected",
			zap.String("trade_id", res.TradeID),
			zap.String("competition_id", competitionID),
			zap.String("user_id", userID),
			zap.String("symbol", order.Symbol),
			zap.String("side", string(order.Side)),
			zap.String("code", code),
			zap.Int("attempts", res.Attempts),
		)
	}()

	res.enter(StateValidating)
	order, err = e.validate(ctx, userID, competitionID, order)
	if err != nil {
		return res, err
	}

	res.enter(StatePricing)
	quote, err := e.price(ctx, order.Symbol)
	if err != nil {
		return res, err
	}
	res.Quote = quote

	res.enter(StateApplying)
	var outcome ledger.TradeOutcome
	commit, err := e.guard.Apply(ctx, competitionID, userID, func(snap model.Portfolio) (model.Portfolio, *model.TradeRecord, error) {
		out, err := ledger.ApplyTrade(snap, order, quote.Price)
		if err != nil {
			return model.Portfolio{}, nil, err
		}
		now := e.now()
		next := out.Portfolio
		next.UpdatedAt = now
		next.LastValuation = ledger.TotalValue(next, map[string]money.Money{order.Symbol: quote.Price})
		outcome = out
		return next, &model.TradeRecord{
			ID:            res.TradeID,
			CompetitionID: competitionID,
			UserID:        userID,
			Symbol:        order.Symbol,
			Side:          order.Side,
			Quantity:      order.Quantity,
			Price:         quote.Price,
			Amount:        out.Amount,
			RealizedGain:  out.RealizedGain,
			CashAfter:     next.Cash,
			ExecutedAt:    now,
		}, nil
	})
	res.Attempts = commit.Attempts
	if err != nil {
		return res, apperrors.As(err)
	}

	res.enter(StateCommitted)
	res.Portfolio = commit.Portfolio
	res.Trade = *commit.Trade
	res.RealizedGain = outcome.RealizedGain
	e.afterCommit(ctx, res)
	return res, nil
}

func (e *Executor) validate(ctx context.Context, userID, competitionID string, order model.Order) (model.Order, error) {
	sym, err := model.CanonicalSymbol(order.Symbol)
	if err != nil {
		return order, apperrors.WithMessage(apperrors.ErrInvalidOrder, fmt.Sprintf("invalid symbol %q", order.Symbol))
	}
	order.Symbol = sym

	side, ok := model.ParseSide(string(order.Side))
	if !ok {
		return order, apperrors.WithMessage(apperrors.ErrInvalidOrder, fmt.Sprintf("invalid side %q", order.Side))
	}
	order.Side = side

	if !order.Quantity.IsPositive() || order.Quantity.IsZero() {
		return order, apperrors.WithMessage(apperrors.ErrInvalidOrder, "quantity must be greater than zero")
	}
	if order.AssetClass != "" && !order.AssetClass.Valid() {
		return order, apperrors.WithMessage(apperrors.ErrInvalidOrder, fmt.Sprintf("invalid asset class %q", order.AssetClass))
	}

	comp, err := e.competitions.GetCompetition(ctx, competitionID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return order, apperrors.ErrCompetitionNotFound
		case ctx.Err() != nil:
			return order, contextError(ctx.Err())
		default:
			return order, apperrors.Wrap(apperrors.ErrStoreUnavailable, err)
		}
	}
	if !comp.AllowsSymbol(sym) {
		return order, apperrors.WithMessage(apperrors.ErrInvalidOrder,
			fmt.Sprintf("%s is not tradable in this competition", model.DisplaySymbol(sym)))
	}
	if !comp.IsActive(e.now()) {
		return order, apperrors.ErrMarketClosed
	}
	if !comp.HasParticipant(userID) {
		return order, apperrors.ErrNotAParticipant
	}
	return order, nil
}

func (e *Executor) price(ctx context.Context, symbol string) (model.PriceQuote, error) {
	qctx, cancel := context.WithTimeout(ctx, e.quoteTimeout)
	defer cancel()

	q, err := e.feed.GetQuote(qctx, symbol)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return q, contextError(ctx.Err())
	case errors.Is(err, context.DeadlineExceeded):
		return q, apperrors.ErrTimeout
	case errors.Is(err, context.Canceled):
		return q, apperrors.ErrCanceled
	default:
		return q, apperrors.WithMessage(apperrors.ErrNoQuote,
			fmt.Sprintf("no price is available for %s", model.DisplaySymbol(symbol)))
	}
	if !q.Valid() {
		return q, apperrors.ErrNoQuote
	}
	q.Symbol = symbol
	return q, nil
}

// afterCommit reports a committed trade. Nothing here can undo the commit:
// publish and broadcast failures are logged and counted only.
func (e *Executor) afterCommit(ctx context.Context, res Result) {
	t := res.Trade
	metrics.TradesTotal.WithLabelValues(string(t.Side)).Inc()
	metrics.TradeVolume.WithLabelValues(string(t.Side)).Add(t.Amount.Decimal().InexactFloat64())

	e.logger.Info("trade committed",
		zap.String("trade_id", t.ID),
		zap.String("competition_id", t.CompetitionID),
		zap.String("user_id", t.UserID),
		zap.String("symbol", t.Symbol),
		zap.String("side", string(t.Side)),
		zap.String("quantity", t.Quantity.String()),
		zap.String("price", t.Price.String()),
		zap.String("amount", t.Amount.String()),
		zap.String("cash_after", t.CashAfter.String()),
		zap.Int64("version", t.Version),
		zap.Int("attempts", res.Attempts),
	)
	if h, ok := res.Portfolio.Holdings[t.Symbol]; ok {
		e.logger.Debug("cost basis after trade",
			zap.String("trade_id", t.ID),
			zap.String("symbol", t.Symbol),
			zap.String("average_cost", h.AverageCost.String()),
			zap.String("drift", ledger.CostBasisDrift(h).String()),
		)
	}

	event := events.FromTrade(t, res.Portfolio.LastValuation)
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := e.publisher.Publish(pctx, event); err != nil {
		metrics.EventsPublished.WithLabelValues("error").Inc()
		e.logger.Warn("publish trade event failed", zap.String("trade_id", t.ID), zap.Error(err))
	} else {
		metrics.EventsPublished.WithLabelValues("ok").Inc()
	}

	if e.hub != nil {
		e.hub.Broadcast(MessageFromEvent(event))
	}
}
