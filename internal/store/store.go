// Package store defines the persistence interfaces for the ledger engine.
// Implementations include PostgreSQL (source of truth), Pebble (embedded,
// single node), Redis (read-through competition cache) and in-memory (for
// testing and development).
package store

import (
	"context"
	"errors"

	"github.com/papertrade/ledger-engine/internal/model"
)

var (
	ErrNotFound        = errors.New("store: not found")
	ErrVersionConflict = errors.New("store: version conflict")
	ErrAlreadyExists   = errors.New("store: already exists")
)

// PortfolioStore persists portfolios and their trade history. Portfolio reads
// must be fresh: they feed compare-and-swap writes and are never cached.
type PortfolioStore interface {
	// CreatePortfolio persists a new portfolio. Returns ErrAlreadyExists if
	// the user already has one in the competition.
	CreatePortfolio(ctx context.Context, p *model.Portfolio) error

	// ReadPortfolio returns the current snapshot, or ErrNotFound.
	ReadPortfolio(ctx context.Context, competitionID, userID string) (*model.Portfolio, error)

	// WritePortfolioIfVersion replaces the whole portfolio only if the stored
	// version equals expectedVersion, storing it as expectedVersion+1. When
	// trade is non-nil it is appended to the history in the same atomic step,
	// stamped with the new version. Returns ErrVersionConflict on mismatch and
	// ErrNotFound if the portfolio does not exist.
	WritePortfolioIfVersion(ctx context.Context, p *model.Portfolio, expectedVersion int64, trade *model.TradeRecord) (int64, error)

	// ListPortfolios returns every portfolio in a competition.
	ListPortfolios(ctx context.Context, competitionID string) ([]model.Portfolio, error)

	// DeletePortfolio removes a portfolio and its trade history.
	DeletePortfolio(ctx context.Context, competitionID, userID string) error

	// ListTrades returns a user's committed trades, oldest first.
	ListTrades(ctx context.Context, competitionID, userID string) ([]model.TradeRecord, error)
}

// CompetitionDirectory is the read-only view of competitions the trade path
// needs.
type CompetitionDirectory interface {
	GetCompetition(ctx context.Context, id string) (*model.Competition, error)
}

// CompetitionStore manages competition lifecycle.
type CompetitionStore interface {
	CompetitionDirectory

	CreateCompetition(ctx context.Context, c *model.Competition) error

	// ListCompetitions returns all competitions, newest first.
	ListCompetitions(ctx context.Context) ([]model.Competition, error)

	// AddParticipant appends userID to the participant set. Returns
	// ErrAlreadyExists if the user is already a participant.
	AddParticipant(ctx context.Context, competitionID, userID string) error

	DeleteCompetition(ctx context.Context, id string) error
}

// Store is the full persistence surface used by the server.
type Store interface {
	PortfolioStore
	CompetitionStore
	Close() error
}

func portfolioKey(competitionID, userID string) string { return competitionID + "/" + userID }
