package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newCachedStore(t *testing.T) *CachedStore {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatal(err)
	}
	rdb := redis.NewClient(opts)
	rdb.FlushDB(context.Background())
	s := NewCachedStore(NewMemoryStore(), rdb, time.Minute, nil)
	t.Cleanup(func() { s.Close() })
	return s
}

// A reader that fetched the competition before a join must not put its
// snapshot back into the cache after the join invalidated it.
func TestCachedStore_StaleFillAfterJoin(t *testing.T) {
	s := newCachedStore(t)
	ctx := context.Background()
	if err := s.CreateCompetition(ctx, competition("c1", time.Now())); err != nil {
		t.Fatal(err)
	}

	gen, err := s.generation(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	before, err := s.Store.GetCompetition(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.AddParticipant(ctx, "c1", "bob"); err != nil {
		t.Fatal(err)
	}
	if s.fill(ctx, before, gen) {
		t.Fatal("stale snapshot was cached")
	}

	for i := 0; i < 2; i++ {
		got, err := s.GetCompetition(ctx, "c1")
		if err != nil {
			t.Fatal(err)
		}
		if !got.HasParticipant("bob") {
			t.Fatalf("read %d: participants = %v, want bob included", i, got.ParticipantIDs)
		}
	}
}

func TestCachedStore_FillWithoutWrites(t *testing.T) {
	s := newCachedStore(t)
	ctx := context.Background()
	if err := s.CreateCompetition(ctx, competition("c2", time.Now())); err != nil {
		t.Fatal(err)
	}
	gen, err := s.generation(ctx, "c2")
	if err != nil {
		t.Fatal(err)
	}
	c, err := s.Store.GetCompetition(ctx, "c2")
	if err != nil {
		t.Fatal(err)
	}
	if !s.fill(ctx, c, gen) {
		t.Fatal("fill with current generation was skipped")
	}
	if n, err := s.rdb.Exists(ctx, competitionKeyRedis("c2")).Result(); err != nil || n != 1 {
		t.Errorf("cached entry exists = %d, %v", n, err)
	}

	if err := s.DeleteCompetition(ctx, "c2"); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.rdb.Exists(ctx, competitionKeyRedis("c2")).Result(); n != 0 {
		t.Error("cached entry survived delete")
	}
	if _, err := s.GetCompetition(ctx, "c2"); err == nil {
		t.Error("deleted competition still readable")
	}
}
