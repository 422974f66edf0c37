package trade

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/papertrade/ledger-engine/internal/auth"
	apperrors "github.com/papertrade/ledger-engine/internal/errors"
	"github.com/papertrade/ledger-engine/internal/httpapi"
	"github.com/papertrade/ledger-engine/internal/model"
	"github.com/papertrade/ledger-engine/internal/money"
	"github.com/papertrade/ledger-engine/internal/pricefeed"
	"github.com/papertrade/ledger-engine/internal/store"
)

// Service exposes the executor, trade history and quotes over HTTP. Every
// handler expects auth.Middleware to have run.
type Service struct {
	exec       *Executor
	portfolios store.PortfolioStore
	feed       pricefeed.Feed
	logger     *zap.Logger
}

func NewService(exec *Executor, portfolios store.PortfolioStore, feed pricefeed.Feed, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{exec: exec, portfolios: portfolios, feed: feed, logger: logger}
}

// TradeRequest is the JSON body for POST /competitions/{competitionID}/trades.
type TradeRequest struct {
	Symbol     string         `json:"symbol" validate:"required,symbol"`
	Side       string         `json:"side" validate:"required,side"`
	Quantity   money.Quantity `json:"quantity"`
	AssetClass string         `json:"asset_class,omitempty" validate:"omitempty,asset_class"`
}

// Order converts a validated request.
func (r TradeRequest) Order() model.Order {
	side, _ := model.ParseSide(r.Side)
	class, _ := model.ParseAssetClass(r.AssetClass)
	return model.Order{Symbol: r.Symbol, Side: side, Quantity: r.Quantity, AssetClass: class}
}

// Routes mounts the trade endpoints under r.
func (s *Service) Routes(r chi.Router) {
	r.Post("/competitions/{competitionID}/trades", s.ExecuteTrade)
	r.Get("/competitions/{competitionID}/trades", s.ListTrades)
	r.Get("/quotes/{symbol}", s.GetQuote)
}

// ExecuteTrade handles POST /api/v1/competitions/{competitionID}/trades.
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		httpapi.WriteError(w, r, s.logger, apperrors.ErrUnauthorized)
		return
	}
	var req TradeRequest
	if err := httpapi.DecodeBody(r, &req); err != nil {
		httpapi.WriteError(w, r, s.logger, err)
		return
	}
	// A well-formed body describing an impossible order is INVALID_ORDER.
	if err := httpapi.ValidateAs(&req, apperrors.ErrInvalidOrder); err != nil {
		httpapi.WriteError(w, r, s.logger, err)
		return
	}

	res, err := s.exec.Execute(r.Context(), userID, chi.URLParam(r, "competitionID"), req.Order())
	if err != nil {
		httpapi.WriteError(w, r, s.logger, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, res)
}

// ListTrades handles GET /api/v1/competitions/{competitionID}/trades and
// returns the caller's history, oldest first.
func (s *Service) ListTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		httpapi.WriteError(w, r, s.logger, apperrors.ErrUnauthorized)
		return
	}
	trades, err := s.portfolios.ListTrades(r.Context(), chi.URLParam(r, "competitionID"), userID)
	if err != nil {
		httpapi.WriteError(w, r, s.logger, apperrors.Wrap(apperrors.ErrStoreUnavailable, err))
		return
	}
	if trades == nil {
		trades = []model.TradeRecord{}
	}
	httpapi.WriteJSON(w, http.StatusOK, trades)
}

// GetQuote handles GET /api/v1/quotes/{symbol}.
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	sym, err := model.CanonicalSymbol(chi.URLParam(r, "symbol"))
	if err != nil {
		httpapi.WriteError(w, r, s.logger, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}
	q, err := s.feed.GetQuote(r.Context(), sym)
	if err != nil || !q.Valid() {
		if err != nil && !errors.Is(err, pricefeed.ErrUnavailable) {
			s.logger.Warn("quote lookup failed", zap.String("symbol", sym), zap.Error(err))
		}
		httpapi.WriteError(w, r, s.logger, apperrors.ErrNoQuote)
		return
	}
	q.Symbol = model.DisplaySymbol(sym)
	httpapi.WriteJSON(w, http.StatusOK, q)
}
