package trade

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/papertrade/ledger-engine/internal/errors"
	"github.com/papertrade/ledger-engine/internal/ledger"
	"github.com/papertrade/ledger-engine/internal/metrics"
	"github.com/papertrade/ledger-engine/internal/model"
	"github.com/papertrade/ledger-engine/internal/store"
)

const (
	DefaultMaxAttempts   = 5
	DefaultCommitTimeout = 5 * time.Second
)

// Mutation derives the next portfolio, and optionally the trade record that
// produced it, from a snapshot. It must be pure: the guard re-runs it against
// a fresher snapshot after every lost race.
type Mutation func(snapshot model.Portfolio) (model.Portfolio, *model.TradeRecord, error)

// Commit is the outcome of a guarded write.
type Commit struct {
	Portfolio model.Portfolio
	Trade     *model.TradeRecord
	Attempts  int
}

// Guard serializes writes to one portfolio with optimistic compare-and-swap.
// There are no locks: concurrent writers race on the version and the loser
// recomputes against the winner's state.
type Guard struct {
	store         store.PortfolioStore
	maxAttempts   int
	commitTimeout time.Duration
	logger        *zap.Logger
}

// NewGuard creates a guard over st. Non-positive limits take the defaults.
func NewGuard(st store.PortfolioStore, maxAttempts int, commitTimeout time.Duration, logger *zap.Logger) *Guard {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if commitTimeout <= 0 {
		commitTimeout = DefaultCommitTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{store: st, maxAttempts: maxAttempts, commitTimeout: commitTimeout, logger: logger}
}

// Apply reads the portfolio, runs mutate and writes the result if nobody
// else committed in between. Version conflicts are retried immediately up to
// the attempt bound, then reported as TOO_MANY_CONFLICTS. Errors from mutate
// are returned unchanged and never retried. A portfolio that breaks the
// ledger invariants is never written and fails with INTERNAL_ERROR.
//
// Cancellation is honoured up to the moment a write is issued. The write
// itself runs detached from ctx, bounded by the commit timeout, and Apply
// waits for its outcome.
func (g *Guard) Apply(ctx context.Context, competitionID, userID string, mutate Mutation) (Commit, error) {
	var c Commit
	for c.Attempts < g.maxAttempts {
		if err := ctx.Err(); err != nil {
			return c, contextError(err)
		}
		c.Attempts++

		snap, err := g.store.ReadPortfolio(ctx, competitionID, userID)
		if err != nil {
			return c, readError(ctx, err)
		}
		next, rec, err := mutate(*snap)
		if err != nil {
			return c, err
		}
		next.CompetitionID, next.OwnerID = competitionID, userID
		if err := ledger.CheckInvariants(next); err != nil {
			g.logger.Error("mutation produced an invalid portfolio, not writing",
				zap.String("competition_id", competitionID),
				zap.String("user_id", userID),
				zap.Int64("version", snap.Version),
				zap.Error(err),
			)
			return c, apperrors.Wrap(apperrors.ErrInternal, err)
		}

		version, err := g.commit(ctx, &next, snap.Version, rec)
		if errors.Is(err, store.ErrVersionConflict) {
			metrics.VersionConflicts.Inc()
			g.logger.Debug("version conflict, retrying",
				zap.String("competition_id", competitionID),
				zap.String("user_id", userID),
				zap.Int64("expected_version", snap.Version),
				zap.Int("attempt", c.Attempts),
			)
			continue
		}
		if err != nil {
			return c, writeError(err)
		}

		next.Version = version
		if rec != nil {
			rec.Version = version
		}
		c.Portfolio, c.Trade = next, rec
		metrics.CommitAttempts.Observe(float64(c.Attempts))
		return c, nil
	}

	metrics.CommitAttempts.Observe(float64(c.Attempts))
	g.logger.Warn("giving up after repeated version conflicts",
		zap.String("competition_id", competitionID),
		zap.String("user_id", userID),
		zap.Int("attempts", c.Attempts),
	)
	return c, apperrors.ErrTooManyConflicts
}

func (g *Guard) commit(ctx context.Context, p *model.Portfolio, expected int64, rec *model.TradeRecord) (int64, error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.commitTimeout)
	defer cancel()
	return g.store.WritePortfolioIfVersion(cctx, p, expected, rec)
}

func readError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperrors.ErrPortfolioNotFound
	case ctx.Err() != nil:
		return contextError(ctx.Err())
	default:
		return apperrors.Wrap(apperrors.ErrStoreUnavailable, err)
	}
}

func writeError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperrors.ErrPortfolioNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Wrap(apperrors.ErrTimeout, err)
	default:
		return apperrors.Wrap(apperrors.ErrStoreUnavailable, err)
	}
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.ErrTimeout
	}
	return apperrors.ErrCanceled
}
