package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/papertrade/ledger-engine/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache for
// competitions. Portfolios and trades are never cached: compare-and-swap
// needs a fresh version on every read.
//
// Every competition write bumps a per-competition generation counter before
// dropping the cached copy. A read-through fill is committed only if the
// generation it observed before reading the primary is still current, so a
// slow reader can never put back a snapshot older than the last write.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration, log *zap.Logger) *CachedStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedStore{
		Store: primary,
		rdb:   rdb,
		ttl:   ttl,
		log:   log,
	}
}

var errStaleFill = errors.New("competition changed during cache fill")

// --- Writes (primary first, then invalidate) ---

func (s *CachedStore) CreateCompetition(ctx context.Context, c *model.Competition) error {
	if err := s.Store.CreateCompetition(ctx, c); err != nil {
		return err
	}
	s.invalidate(ctx, c.ID)
	return nil
}

func (s *CachedStore) AddParticipant(ctx context.Context, competitionID, userID string) error {
	if err := s.Store.AddParticipant(ctx, competitionID, userID); err != nil {
		return err
	}
	s.invalidate(ctx, competitionID)
	return nil
}

func (s *CachedStore) DeleteCompetition(ctx context.Context, id string) error {
	if err := s.Store.DeleteCompetition(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

// --- Read-through ---

func (s *CachedStore) GetCompetition(ctx context.Context, id string) (*model.Competition, error) {
	data, err := s.rdb.Get(ctx, competitionKeyRedis(id)).Bytes()
	if err == nil {
		var c model.Competition
		if json.Unmarshal(data, &c) == nil {
			return &c, nil
		}
	}

	gen, genErr := s.generation(ctx, id)

	// Cache miss or Redis unavailable: read from primary.
	c, err := s.Store.GetCompetition(ctx, id)
	if err != nil {
		return nil, err
	}
	if genErr == nil {
		s.fill(ctx, c, gen)
	}
	return c, nil
}

func (s *CachedStore) Close() error {
	err := s.Store.Close()
	if cerr := s.rdb.Close(); err == nil {
		err = cerr
	}
	return err
}

// --- Cache helpers ---

// invalidate bumps the generation and drops the cached copy in one
// transaction. A failure leaves a stale entry for at most the TTL.
func (s *CachedStore) invalidate(ctx context.Context, id string) {
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, generationKeyRedis(id))
		p.Del(ctx, competitionKeyRedis(id))
		return nil
	})
	if err != nil {
		s.log.Warn("competition cache invalidation failed",
			zap.String("competition_id", id), zap.Duration("stale_for", s.ttl), zap.Error(err))
	}
}

// generation returns the competition's current write generation; a missing
// counter is generation zero.
func (s *CachedStore) generation(ctx context.Context, id string) (int64, error) {
	gen, err := s.rdb.Get(ctx, generationKeyRedis(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// fill caches c if no write has happened since generation gen was read.
// It reports whether the entry was stored.
func (s *CachedStore) fill(ctx context.Context, c *model.Competition, gen int64) bool {
	data, err := json.Marshal(c)
	if err != nil {
		return false
	}
	key := generationKeyRedis(c.ID)
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, competitionKeyRedis(c.ID), data, s.ttl)
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return true
	case errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
		s.log.Debug("skipped stale competition cache fill", zap.String("competition_id", c.ID))
	default:
		s.log.Warn("competition cache fill failed", zap.String("competition_id", c.ID), zap.Error(err))
	}
	return false
}

func competitionKeyRedis(id string) string { return fmt.Sprintf("competition:%s", id) }

func generationKeyRedis(id string) string { return fmt.Sprintf("competition:%s:gen", id) }
