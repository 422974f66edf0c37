package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/papertrade/ledger-engine/internal/model"
	"github.com/papertrade/ledger-engine/internal/money"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision;
// holdings are a JSONB document on the portfolio row so a portfolio is
// always written as a whole.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS competitions (
	id               TEXT PRIMARY KEY,
	owner_id         TEXT NOT NULL,
	name             TEXT NOT NULL,
	starting_balance NUMERIC(20,2) NOT NULL,
	start_date       TIMESTAMPTZ NOT NULL,
	end_date         TIMESTAMPTZ NOT NULL,
	tradable_assets  TEXT[] NOT NULL DEFAULT '{}',
	open_market      BOOLEAN NOT NULL DEFAULT FALSE,
	participant_ids  TEXT[] NOT NULL DEFAULT '{}',
	is_public        BOOLEAN NOT NULL DEFAULT FALSE,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS portfolios (
	competition_id TEXT NOT NULL,
	owner_id       TEXT NOT NULL,
	cash           NUMERIC(20,2) NOT NULL CHECK (cash >= 0),
	holdings       JSONB NOT NULL DEFAULT '{}',
	last_valuation NUMERIC(20,2) NOT NULL,
	version        BIGINT NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (competition_id, owner_id)
);

CREATE TABLE IF NOT EXISTS trades (
	id             TEXT PRIMARY KEY,
	competition_id TEXT NOT NULL,
	user_id        TEXT NOT NULL,
	symbol         TEXT NOT NULL,
	side           TEXT NOT NULL,
	quantity       NUMERIC(28,8) NOT NULL,
	price          NUMERIC(20,2) NOT NULL,
	amount         NUMERIC(20,2) NOT NULL,
	realized_gain  NUMERIC(20,2) NOT NULL,
	cash_after     NUMERIC(20,2) NOT NULL,
	version        BIGINT NOT NULL,
	executed_at    TIMESTAMPTZ NOT NULL,
	UNIQUE (competition_id, user_id, version)
);`

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- Competitions ---

func (s *PostgresStore) CreateCompetition(ctx context.Context, c *model.Competition) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO competitions (id, owner_id, name, starting_balance, start_date, end_date,
		                           tradable_assets, open_market, participant_ids, is_public, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO NOTHING`,
		c.ID, c.OwnerID, c.Name, c.StartingBalance.String(), c.StartDate, c.EndDate,
		nonNil(c.TradableAssets), c.OpenMarket, nonNil(c.ParticipantIDs), c.IsPublic, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create competition %s: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("competition %s: %w", c.ID, ErrAlreadyExists)
	}
	return nil
}

const competitionColumns = `id, owner_id, name, starting_balance::TEXT, start_date, end_date,
	tradable_assets, open_market, participant_ids, is_public, created_at`

func (s *PostgresStore) GetCompetition(ctx context.Context, id string) (*model.Competition, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+competitionColumns+` FROM competitions WHERE id = $1`, id)
	c, err := scanCompetition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("competition %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get competition %s: %w", id, err)
	}
	return c, nil
}

func (s *PostgresStore) ListCompetitions(ctx context.Context) ([]model.Competition, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+competitionColumns+` FROM competitions ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Competition
	for rows.Next() {
		c, err := scanCompetition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AddParticipant(ctx context.Context, competitionID, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE competitions
		 SET participant_ids = array_append(participant_ids, $2)
		 WHERE id = $1 AND NOT ($2 = ANY(participant_ids))`,
		competitionID, userID,
	)
	if err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetCompetition(ctx, competitionID); err != nil {
		return err
	}
	return fmt.Errorf("participant %s: %w", userID, ErrAlreadyExists)
}

func (s *PostgresStore) DeleteCompetition(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM competitions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete competition %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("competition %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Portfolios ---

func (s *PostgresStore) CreatePortfolio(ctx context.Context, p *model.Portfolio) error {
	holdings, err := json.Marshal(nonNilHoldings(p.Holdings))
	if err != nil {
		return fmt.Errorf("marshal holdings: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO portfolios (competition_id, owner_id, cash, holdings, last_valuation, version, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5::NUMERIC, $6, $7)
		 ON CONFLICT (competition_id, owner_id) DO NOTHING`,
		p.CompetitionID, p.OwnerID, p.Cash.String(), holdings, p.LastValuation.String(), p.Version, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create portfolio: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("portfolio %s: %w", portfolioKey(p.CompetitionID, p.OwnerID), ErrAlreadyExists)
	}
	return nil
}

const portfolioColumns = `competition_id, owner_id, cash::TEXT, holdings, last_valuation::TEXT, version, updated_at`

func (s *PostgresStore) ReadPortfolio(ctx context.Context, competitionID, userID string) (*model.Portfolio, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+portfolioColumns+` FROM portfolios WHERE competition_id = $1 AND owner_id = $2`,
		competitionID, userID)
	p, err := scanPortfolio(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("portfolio %s: %w", portfolioKey(competitionID, userID), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read portfolio: %w", err)
	}
	return p, nil
}

// WritePortfolioIfVersion performs the conditional update and the trade insert
// in one transaction, so the history never disagrees with the portfolio.
func (s *PostgresStore) WritePortfolioIfVersion(ctx context.Context, p *model.Portfolio, expectedVersion int64, trade *model.TradeRecord) (int64, error) {
	holdings, err := json.Marshal(nonNilHoldings(p.Holdings))
	if err != nil {
		return 0, fmt.Errorf("marshal holdings: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	newVersion := expectedVersion + 1
	tag, err := tx.Exec(ctx,
		`UPDATE portfolios
		 SET cash = $3::NUMERIC, holdings = $4, last_valuation = $5::NUMERIC, version = $6, updated_at = $7
		 WHERE competition_id = $1 AND owner_id = $2 AND version = $8`,
		p.CompetitionID, p.OwnerID, p.Cash.String(), holdings, p.LastValuation.String(),
		newVersion, p.UpdatedAt, expectedVersion,
	)
	if err != nil {
		return 0, fmt.Errorf("update portfolio: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var current int64
		err := tx.QueryRow(ctx,
			`SELECT version FROM portfolios WHERE competition_id = $1 AND owner_id = $2`,
			p.CompetitionID, p.OwnerID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("portfolio %s: %w", portfolioKey(p.CompetitionID, p.OwnerID), ErrNotFound)
		}
		if err != nil {
			return 0, fmt.Errorf("read version: %w", err)
		}
		return 0, fmt.Errorf("portfolio %s at version %d, expected %d: %w",
			portfolioKey(p.CompetitionID, p.OwnerID), current, expectedVersion, ErrVersionConflict)
	}

	if trade != nil {
		_, err := tx.Exec(ctx,
			`INSERT INTO trades (id, competition_id, user_id, symbol, side, quantity, price, amount,
			                     realized_gain, cash_after, version, executed_at)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11, $12)`,
			trade.ID, trade.CompetitionID, trade.UserID, trade.Symbol, string(trade.Side),
			trade.Quantity.String(), trade.Price.String(), trade.Amount.String(),
			trade.RealizedGain.String(), trade.CashAfter.String(), newVersion, trade.ExecutedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("insert trade: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return newVersion, nil
}

func (s *PostgresStore) ListPortfolios(ctx context.Context, competitionID string) ([]model.Portfolio, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+portfolioColumns+` FROM portfolios WHERE competition_id = $1 ORDER BY owner_id`,
		competitionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Portfolio
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeletePortfolio(ctx context.Context, competitionID, userID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM trades WHERE competition_id = $1 AND user_id = $2`, competitionID, userID); err != nil {
		return fmt.Errorf("delete trades: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM portfolios WHERE competition_id = $1 AND owner_id = $2`, competitionID, userID); err != nil {
		return fmt.Errorf("delete portfolio: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListTrades(ctx context.Context, competitionID, userID string) ([]model.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, competition_id, user_id, symbol, side,
		        quantity::TEXT, price::TEXT, amount::TEXT, realized_gain::TEXT, cash_after::TEXT,
		        version, executed_at
		 FROM trades WHERE competition_id = $1 AND user_id = $2 ORDER BY version`,
		competitionID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TradeRecord
	for rows.Next() {
		var t model.TradeRecord
		var side, qty, price, amount, gain, cashAfter string
		if err := rows.Scan(&t.ID, &t.CompetitionID, &t.UserID, &t.Symbol, &side,
			&qty, &price, &amount, &gain, &cashAfter,
			&t.Version, &t.ExecutedAt); err != nil {
			return nil, err
		}
		t.Side = model.Side(side)
		if t.Quantity, err = money.ParseQuantity(qty); err != nil {
			return nil, err
		}
		if err := parseMoney(map[*money.Money]string{
			&t.Price: price, &t.Amount: amount, &t.RealizedGain: gain, &t.CashAfter: cashAfter,
		}); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- Scanning ---

// pgxRow is satisfied by both pgx.Row and pgx.Rows.
type pgxRow interface {
	Scan(dest ...any) error
}

func scanCompetition(row pgxRow) (*model.Competition, error) {
	var c model.Competition
	var balance string
	if err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &balance, &c.StartDate, &c.EndDate,
		&c.TradableAssets, &c.OpenMarket, &c.ParticipantIDs, &c.IsPublic, &c.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if c.StartingBalance, err = money.Parse(balance); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanPortfolio(row pgxRow) (*model.Portfolio, error) {
	var p model.Portfolio
	var cash, valuation string
	var holdings []byte
	if err := row.Scan(&p.CompetitionID, &p.OwnerID, &cash, &holdings, &valuation, &p.Version, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := parseMoney(map[*money.Money]string{&p.Cash: cash, &p.LastValuation: valuation}); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(holdings, &p.Holdings); err != nil {
		return nil, fmt.Errorf("unmarshal holdings: %w", err)
	}
	p.Holdings = nonNilHoldings(p.Holdings)
	return &p, nil
}

func parseMoney(fields map[*money.Money]string) error {
	for dst, s := range fields {
		v, err := money.Parse(s)
		if err != nil {
			return err
		}
		*dst = v
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilHoldings(h map[string]model.Holding) map[string]model.Holding {
	if h == nil {
		return map[string]model.Holding{}
	}
	return h
}
