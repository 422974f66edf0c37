package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/papertrade/ledger-engine/internal/model"
)

// PebbleStore implements Store on an embedded Pebble database. Values are
// JSON documents under prefixed keys:
//
//	comp/<id>                         competition
//	pf/<competition>/<user>           portfolio
//	tr/<competition>/<user>/<version> trade record
//
// Pebble has no conditional write, so compare-and-swap is a read, a version
// check and a batch commit under mu. This is only correct for a single
// process owning the database.
type PebbleStore struct {
	db *pebble.DB
	mu sync.Mutex // serializes read-modify-write sequences
}

// NewPebbleStore opens (or creates) a Pebble database at path.
func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) CreateCompetition(_ context.Context, c *model.Competition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := competitionKey(c.ID)
	if ok, err := s.has(key); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("competition %s: %w", c.ID, ErrAlreadyExists)
	}
	return s.put(key, c)
}

func (s *PebbleStore) GetCompetition(_ context.Context, id string) (*model.Competition, error) {
	var c model.Competition
	if err := s.get(competitionKey(id), &c); err != nil {
		return nil, fmt.Errorf("competition %s: %w", id, err)
	}
	return &c, nil
}

func (s *PebbleStore) ListCompetitions(_ context.Context) ([]model.Competition, error) {
	var out []model.Competition
	err := s.scan([]byte("comp/"), func(v []byte) error {
		var c model.Competition
		if err := json.Unmarshal(v, &c); err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortCompetitions(out)
	return out, nil
}

func (s *PebbleStore) AddParticipant(_ context.Context, competitionID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := competitionKey(competitionID)
	var c model.Competition
	if err := s.get(key, &c); err != nil {
		return fmt.Errorf("competition %s: %w", competitionID, err)
	}
	if c.HasParticipant(userID) {
		return fmt.Errorf("participant %s: %w", userID, ErrAlreadyExists)
	}
	c.ParticipantIDs = append(c.ParticipantIDs, userID)
	return s.put(key, &c)
}

func (s *PebbleStore) DeleteCompetition(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := competitionKey(id)
	if ok, err := s.has(key); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("competition %s: %w", id, ErrNotFound)
	}
	if err := s.db.Delete(key, pebble.Sync); err != nil {
		return fmt.Errorf("delete competition: %w", err)
	}
	return nil
}

func (s *PebbleStore) CreatePortfolio(_ context.Context, p *model.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pfKey(p.CompetitionID, p.OwnerID)
	if ok, err := s.has(key); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("portfolio %s: %w", portfolioKey(p.CompetitionID, p.OwnerID), ErrAlreadyExists)
	}
	return s.put(key, p)
}

func (s *PebbleStore) ReadPortfolio(_ context.Context, competitionID, userID string) (*model.Portfolio, error) {
	var p model.Portfolio
	if err := s.get(pfKey(competitionID, userID), &p); err != nil {
		return nil, fmt.Errorf("portfolio %s: %w", portfolioKey(competitionID, userID), err)
	}
	if p.Holdings == nil {
		p.Holdings = make(map[string]model.Holding)
	}
	return &p, nil
}

func (s *PebbleStore) WritePortfolioIfVersion(_ context.Context, p *model.Portfolio, expectedVersion int64, trade *model.TradeRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pfKey(p.CompetitionID, p.OwnerID)
	var current model.Portfolio
	if err := s.get(key, &current); err != nil {
		return 0, fmt.Errorf("portfolio %s: %w", portfolioKey(p.CompetitionID, p.OwnerID), err)
	}
	if current.Version != expectedVersion {
		return 0, fmt.Errorf("portfolio %s at version %d, expected %d: %w",
			portfolioKey(p.CompetitionID, p.OwnerID), current.Version, expectedVersion, ErrVersionConflict)
	}

	next := p.Clone()
	next.Version = expectedVersion + 1

	batch := s.db.NewBatch()
	defer batch.Close()

	data, err := json.Marshal(&next)
	if err != nil {
		return 0, fmt.Errorf("marshal portfolio: %w", err)
	}
	if err := batch.Set(key, data, nil); err != nil {
		return 0, err
	}
	if trade != nil {
		rec := *trade
		rec.Version = next.Version
		data, err := json.Marshal(&rec)
		if err != nil {
			return 0, fmt.Errorf("marshal trade: %w", err)
		}
		if err := batch.Set(tradeKey(p.CompetitionID, p.OwnerID, rec.Version), data, nil); err != nil {
			return 0, err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("commit portfolio: %w", err)
	}
	return next.Version, nil
}

func (s *PebbleStore) ListPortfolios(_ context.Context, competitionID string) ([]model.Portfolio, error) {
	var out []model.Portfolio
	err := s.scan([]byte("pf/"+competitionID+"/"), func(v []byte) error {
		var p model.Portfolio
		if err := json.Unmarshal(v, &p); err != nil {
			return err
		}
		if p.Holdings == nil {
			p.Holdings = make(map[string]model.Holding)
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

func (s *PebbleStore) DeletePortfolio(_ context.Context, competitionID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Delete(pfKey(competitionID, userID), nil); err != nil {
		return err
	}
	prefix := tradePrefix(competitionID, userID)
	if err := batch.DeleteRange(prefix, keyUpperBound(prefix), nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("delete portfolio: %w", err)
	}
	return nil
}

func (s *PebbleStore) ListTrades(_ context.Context, competitionID, userID string) ([]model.TradeRecord, error) {
	var out []model.TradeRecord
	err := s.scan(tradePrefix(competitionID, userID), func(v []byte) error {
		var t model.TradeRecord
		if err := json.Unmarshal(v, &t); err != nil {
			return err
		}
		out = append(out, t)
		return nil
	})
	return out, err
}

// --- Key layout ---

func competitionKey(id string) []byte           { return []byte("comp/" + id) }
func pfKey(competitionID, userID string) []byte { return []byte("pf/" + competitionID + "/" + userID) }

func tradePrefix(competitionID, userID string) []byte {
	return []byte("tr/" + competitionID + "/" + userID + "/")
}

// tradeKey zero-pads the version so lexical order is commit order.
func tradeKey(competitionID, userID string, version int64) []byte {
	return append(tradePrefix(competitionID, userID), fmt.Sprintf("%020d", version)...)
}

// keyUpperBound returns the smallest key greater than every key with prefix b.
func keyUpperBound(b []byte) []byte {
	end := make([]byte, len(b))
	copy(end, b)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// --- Helpers ---

func (s *PebbleStore) get(key []byte, v any) error {
	data, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	defer closer.Close()
	return json.Unmarshal(data, v)
}

func (s *PebbleStore) has(key []byte) (bool, error) {
	_, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	closer.Close()
	return true, nil
}

func (s *PebbleStore) put(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.db.Set(key, data, pebble.Sync); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *PebbleStore) scan(prefix []byte, fn func(v []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}
