// Package competition manages the competition lifecycle (create, join,
// delete) and values portfolios for the leaderboard.
package competition

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/papertrade/ledger-engine/internal/errors"
	"github.com/papertrade/ledger-engine/internal/model"
	"github.com/papertrade/ledger-engine/internal/money"
	"github.com/papertrade/ledger-engine/internal/pricefeed"
	"github.com/papertrade/ledger-engine/internal/store"
)

const maxTradableAssets = 200

// Store is the persistence the lifecycle needs.
type Store interface {
	store.CompetitionStore
	store.PortfolioStore
}

type Service struct {
	store  Store
	feed   pricefeed.Feed
	logger *zap.Logger

	now   func() time.Time
	newID func() string
}

func NewService(st Store, feed pricefeed.Feed, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  st,
		feed:   feed,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.New().String() },
	}
}

// CreateInput describes a new competition.
type CreateInput struct {
	Name            string      `json:"name" validate:"required,min=3,max=100"`
	StartingBalance money.Money `json:"starting_balance"`
	StartDate       time.Time   `json:"start_date" validate:"required"`
	EndDate         time.Time   `json:"end_date" validate:"required"`
	TradableAssets  []string    `json:"tradable_assets,omitempty" validate:"omitempty,dive,symbol"`
	OpenMarket      bool        `json:"open_market"`
	IsPublic        bool        `json:"is_public"`
}

// Create stores a new competition owned by ownerID and joins the owner to it.
func (s *Service) Create(ctx context.Context, ownerID string, in CreateInput) (*model.Competition, error) {
	assets, err := s.checkInput(in)
	if err != nil {
		return nil, err
	}

	c := &model.Competition{
		ID:              s.newID(),
		OwnerID:         ownerID,
		Name:            in.Name,
		StartingBalance: in.StartingBalance,
		StartDate:       in.StartDate.UTC(),
		EndDate:         in.EndDate.UTC(),
		TradableAssets:  assets,
		OpenMarket:      in.OpenMarket,
		IsPublic:        in.IsPublic,
		CreatedAt:       s.now(),
	}
	if err := s.store.CreateCompetition(ctx, c); err != nil {
		return nil, storeError(err)
	}
	s.logger.Info("competition created",
		zap.String("competition_id", c.ID),
		zap.String("owner_id", ownerID),
		zap.String("starting_balance", c.StartingBalance.String()),
		zap.Time("start_date", c.StartDate),
		zap.Time("end_date", c.EndDate),
		zap.Bool("open_market", c.OpenMarket),
	)

	if _, err := s.Join(ctx, c.ID, ownerID); err != nil {
		return nil, err
	}
	return s.Get(ctx, c.ID)
}

func (s *Service) checkInput(in CreateInput) ([]string, error) {
	invalid := func(msg string) error { return apperrors.WithMessage(apperrors.ErrInvalidInput, msg) }

	if !in.StartingBalance.IsPositive() {
		return nil, invalid("starting_balance must be greater than zero")
	}
	if !in.EndDate.After(in.StartDate) {
		return nil, invalid("end_date must be after start_date")
	}
	if !in.EndDate.After(s.now()) {
		return nil, invalid("end_date must be in the future")
	}
	if !in.OpenMarket && len(in.TradableAssets) == 0 {
		return nil, invalid("tradable_assets is required unless open_market is set")
	}
	if len(in.TradableAssets) > maxTradableAssets {
		return nil, invalid(fmt.Sprintf("at most %d tradable assets", maxTradableAssets))
	}

	assets := make([]string, 0, len(in.TradableAssets))
	for _, raw := range in.TradableAssets {
		sym, err := model.CanonicalSymbol(raw)
		if err != nil {
			return nil, invalid(err.Error())
		}
		if !slices.Contains(assets, sym) {
			assets = append(assets, sym)
		}
	}
	return assets, nil
}

// Get returns one competition.
func (s *Service) Get(ctx context.Context, id string) (*model.Competition, error) {
	c, err := s.store.GetCompetition(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	return c, nil
}

// ListPublic returns public competitions, newest first.
func (s *Service) ListPublic(ctx context.Context) ([]model.Competition, error) {
	return s.list(ctx, func(c *model.Competition) bool { return c.IsPublic })
}

// Joined returns the competitions userID participates in, newest first.
func (s *Service) Joined(ctx context.Context, userID string) ([]model.Competition, error) {
	return s.list(ctx, func(c *model.Competition) bool { return c.HasParticipant(userID) })
}

func (s *Service) list(ctx context.Context, keep func(*model.Competition) bool) ([]model.Competition, error) {
	all, err := s.store.ListCompetitions(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	out := make([]model.Competition, 0, len(all))
	for i := range all {
		if keep(&all[i]) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// ActiveCount returns how many competitions are open for trading now.
func (s *Service) ActiveCount(ctx context.Context) (int, error) {
	now := s.now()
	active, err := s.list(ctx, func(c *model.Competition) bool { return c.IsActive(now) })
	return len(active), err
}

// Join adds userID to a competition that has not ended and opens their
// portfolio with the starting balance.
func (s *Service) Join(ctx context.Context, competitionID, userID string) (*model.Portfolio, error) {
	c, err := s.Get(ctx, competitionID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if c.HasEnded(now) {
		return nil, apperrors.ErrCompetitionEnded
	}

	// Membership is only added once the portfolio exists.
	p := &model.Portfolio{
		OwnerID:       userID,
		CompetitionID: competitionID,
		Cash:          c.StartingBalance,
		Holdings:      map[string]model.Holding{},
		LastValuation: c.StartingBalance,
		Version:       1,
		UpdatedAt:     now,
	}
	if err := s.store.CreatePortfolio(ctx, p); err != nil {
		if !errors.Is(err, store.ErrAlreadyExists) {
			return nil, storeError(err)
		}
		if c.HasParticipant(userID) {
			return nil, apperrors.ErrAlreadyJoined
		}
	}
	if err := s.store.AddParticipant(ctx, competitionID, userID); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, apperrors.ErrAlreadyJoined
		}
		return nil, storeError(err)
	}

	s.logger.Info("participant joined",
		zap.String("competition_id", competitionID),
		zap.String("user_id", userID),
	)
	return s.portfolio(ctx, competitionID, userID)
}

// Delete removes a competition. Only its owner may delete it. Portfolios are
// removed afterwards on a best-effort basis.
func (s *Service) Delete(ctx context.Context, competitionID, callerID string) error {
	c, err := s.Get(ctx, competitionID)
	if err != nil {
		return err
	}
	if c.OwnerID != callerID {
		return apperrors.WithMessage(apperrors.ErrForbidden, "only the owner can delete a competition")
	}

	portfolios, err := s.store.ListPortfolios(ctx, competitionID)
	if err != nil {
		s.logger.Warn("list portfolios before delete", zap.String("competition_id", competitionID), zap.Error(err))
	}
	if err := s.store.DeleteCompetition(ctx, competitionID); err != nil {
		return storeError(err)
	}

	for _, p := range portfolios {
		if err := s.store.DeletePortfolio(ctx, competitionID, p.OwnerID); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("cascade portfolio delete failed",
				zap.String("competition_id", competitionID),
				zap.String("user_id", p.OwnerID),
				zap.Error(err),
			)
		}
	}
	s.logger.Info("competition deleted",
		zap.String("competition_id", competitionID),
		zap.Int("portfolios", len(portfolios)),
	)
	return nil
}

func (s *Service) portfolio(ctx context.Context, competitionID, userID string) (*model.Portfolio, error) {
	p, err := s.store.ReadPortfolio(ctx, competitionID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.ErrPortfolioNotFound
		}
		return nil, storeError(err)
	}
	return p, nil
}

func storeError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperrors.ErrCompetitionNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.ErrTimeout
	case errors.Is(err, context.Canceled):
		return apperrors.ErrCanceled
	default:
		return apperrors.Wrap(apperrors.ErrStoreUnavailable, err)
	}
}

// ranked orders entries by total value, highest first, ties broken by user
// ID, and assigns dense ranks.
func ranked(entries []model.LeaderboardEntry) []model.LeaderboardEntry {
	slices.SortFunc(entries, func(a, b model.LeaderboardEntry) int {
		if c := b.TotalValue.Cmp(a.TotalValue); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	rank := 0
	for i := range entries {
		if i == 0 || !entries[i].TotalValue.Equal(entries[i-1].TotalValue) {
			rank++
		}
		entries[i].Rank = rank
	}
	return entries
}
