package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/papertrade/ledger-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	competitions map[string]*model.Competition
	portfolios   map[string]*model.Portfolio
	trades       map[string][]model.TradeRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		competitions: make(map[string]*model.Competition),
		portfolios:   make(map[string]*model.Portfolio),
		trades:       make(map[string][]model.TradeRecord),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateCompetition(_ context.Context, c *model.Competition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.competitions[c.ID]; ok {
		return fmt.Errorf("competition %s: %w", c.ID, ErrAlreadyExists)
	}
	s.competitions[c.ID] = cloneCompetition(c)
	return nil
}

func (s *MemoryStore) GetCompetition(_ context.Context, id string) (*model.Competition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.competitions[id]
	if !ok {
		return nil, fmt.Errorf("competition %s: %w", id, ErrNotFound)
	}
	return cloneCompetition(c), nil
}

func (s *MemoryStore) ListCompetitions(_ context.Context) ([]model.Competition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Competition, 0, len(s.competitions))
	for _, c := range s.competitions {
		out = append(out, *cloneCompetition(c))
	}
	sortCompetitions(out)
	return out, nil
}

func (s *MemoryStore) AddParticipant(_ context.Context, competitionID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.competitions[competitionID]
	if !ok {
		return fmt.Errorf("competition %s: %w", competitionID, ErrNotFound)
	}
	if c.HasParticipant(userID) {
		return fmt.Errorf("participant %s: %w", userID, ErrAlreadyExists)
	}
	c.ParticipantIDs = append(c.ParticipantIDs, userID)
	return nil
}

func (s *MemoryStore) DeleteCompetition(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.competitions[id]; !ok {
		return fmt.Errorf("competition %s: %w", id, ErrNotFound)
	}
	delete(s.competitions, id)
	return nil
}

func (s *MemoryStore) CreatePortfolio(_ context.Context, p *model.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := portfolioKey(p.CompetitionID, p.OwnerID)
	if _, ok := s.portfolios[key]; ok {
		return fmt.Errorf("portfolio %s: %w", key, ErrAlreadyExists)
	}
	cp := p.Clone()
	s.portfolios[key] = &cp
	return nil
}

func (s *MemoryStore) ReadPortfolio(_ context.Context, competitionID, userID string) (*model.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := portfolioKey(competitionID, userID)
	p, ok := s.portfolios[key]
	if !ok {
		return nil, fmt.Errorf("portfolio %s: %w", key, ErrNotFound)
	}
	cp := p.Clone()
	return &cp, nil
}

func (s *MemoryStore) WritePortfolioIfVersion(_ context.Context, p *model.Portfolio, expectedVersion int64, trade *model.TradeRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := portfolioKey(p.CompetitionID, p.OwnerID)
	current, ok := s.portfolios[key]
	if !ok {
		return 0, fmt.Errorf("portfolio %s: %w", key, ErrNotFound)
	}
	if current.Version != expectedVersion {
		return 0, fmt.Errorf("portfolio %s at version %d, expected %d: %w", key, current.Version, expectedVersion, ErrVersionConflict)
	}

	next := p.Clone()
	next.Version = expectedVersion + 1
	s.portfolios[key] = &next
	if trade != nil {
		rec := *trade
		rec.Version = next.Version
		s.trades[key] = append(s.trades[key], rec)
	}
	return next.Version, nil
}

func (s *MemoryStore) ListPortfolios(_ context.Context, competitionID string) ([]model.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Portfolio
	for _, p := range s.portfolios {
		if p.CompetitionID == competitionID {
			out = append(out, p.Clone())
		}
	}
	slices.SortFunc(out, func(a, b model.Portfolio) int { return strings.Compare(a.OwnerID, b.OwnerID) })
	return out, nil
}

func (s *MemoryStore) DeletePortfolio(_ context.Context, competitionID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := portfolioKey(competitionID, userID)
	delete(s.portfolios, key)
	delete(s.trades, key)
	return nil
}

func (s *MemoryStore) ListTrades(_ context.Context, competitionID, userID string) ([]model.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.trades[portfolioKey(competitionID, userID)]), nil
}

func cloneCompetition(c *model.Competition) *model.Competition {
	cp := *c
	cp.TradableAssets = slices.Clone(c.TradableAssets)
	cp.ParticipantIDs = slices.Clone(c.ParticipantIDs)
	return &cp
}

// sortCompetitions orders newest first, ties broken by ID.
func sortCompetitions(cs []model.Competition) {
	slices.SortFunc(cs, func(a, b model.Competition) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
