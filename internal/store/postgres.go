package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stockleague/league-engine/internal/apperrors"
	"github.com/stockleague/league-engine/internal/league"
	"github.com/stockleague/league-engine/internal/model"
	"github.com/stockleague/league-engine/internal/player"
)

// Schema bootstraps an empty database. Migrations are out of scope; every
// statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS stocks (
	id     BIGSERIAL PRIMARY KEY,
	name   TEXT      NOT NULL,
	ticker TEXT      NOT NULL UNIQUE,
	price  NUMERIC   NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS leagues (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT      NOT NULL,
	start_date DATE      NOT NULL,
	end_date   DATE
);

CREATE TABLE IF NOT EXISTS members (
	league_id  BIGINT  NOT NULL REFERENCES leagues (id) ON DELETE CASCADE,
	uid        TEXT    NOT NULL,
	name       TEXT    NOT NULL,
	init_value NUMERIC NOT NULL CHECK (init_value > 0),
	cash       NUMERIC NOT NULL CHECK (cash >= 0),
	version    BIGINT  NOT NULL DEFAULT 0,
	seq        BIGSERIAL,
	PRIMARY KEY (league_id, uid)
);

CREATE TABLE IF NOT EXISTS holdings (
	league_id BIGINT NOT NULL,
	uid       TEXT   NOT NULL,
	stock_id  BIGINT NOT NULL REFERENCES stocks (id),
	quantity  BIGINT NOT NULL CHECK (quantity > 0),
	position  INT    NOT NULL,
	PRIMARY KEY (league_id, uid, stock_id),
	FOREIGN KEY (league_id, uid) REFERENCES members (league_id, uid) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS transactions (
	id          BIGSERIAL   PRIMARY KEY,
	ref         TEXT        NOT NULL UNIQUE,
	type        TEXT        NOT NULL,
	uid         TEXT        NOT NULL,
	league_id   BIGINT      NOT NULL,
	stock_id    BIGINT      NOT NULL,
	ticker      TEXT        NOT NULL,
	quantity    NUMERIC     NOT NULL,
	price       NUMERIC     NOT NULL,
	fee         NUMERIC     NOT NULL,
	total       NUMERIC     NOT NULL,
	executed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS transactions_member ON transactions (league_id, uid, executed_at);

CREATE TABLE IF NOT EXISTS snapshots (
	league_id BIGINT      NOT NULL,
	uid       TEXT        NOT NULL,
	value     NUMERIC     NOT NULL,
	cash      NUMERIC     NOT NULL,
	taken     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS snapshots_member ON snapshots (league_id, uid, taken);
`

// PostgreSQL error codes the store translates.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates any missing tables.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return backend("ensure schema", err)
	}
	return nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// --- Stocks ---

func (s *PostgresStore) CreateStock(ctx context.Context, st *model.Stock) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO stocks (name, ticker, price) VALUES ($1, $2, $3::NUMERIC) RETURNING id`,
		st.Name, st.Ticker, st.Price.String(),
	).Scan(&st.ID)
	if isPgCode(err, pgUniqueViolation) {
		return fmt.Errorf("%w: stock %s already registered", apperrors.ErrConflict, st.Ticker)
	}
	if err != nil {
		return backend("create stock "+st.Ticker, err)
	}
	return nil
}

func (s *PostgresStore) GetStock(ctx context.Context, id int64) (model.Stock, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, ticker, price::TEXT FROM stocks WHERE id = $1`, id)
	st, err := scanStock(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Stock{}, fmt.Errorf("stock %d: %w", id, apperrors.ErrStockNotFound)
	}
	return st, err
}

func (s *PostgresStore) GetStockByTicker(ctx context.Context, ticker string) (model.Stock, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, ticker, price::TEXT FROM stocks WHERE ticker = $1`, ticker)
	st, err := scanStock(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Stock{}, fmt.Errorf("stock %s: %w", ticker, apperrors.ErrStockNotFound)
	}
	return st, err
}

func (s *PostgresStore) ListStocks(ctx context.Context) ([]model.Stock, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, ticker, price::TEXT FROM stocks ORDER BY id`)
	if err != nil {
		return nil, backend("list stocks", err)
	}
	defer rows.Close()

	stocks := []model.Stock{}
	for rows.Next() {
		st, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		stocks = append(stocks, st)
	}
	if err := rows.Err(); err != nil {
		return nil, backend("list stocks", err)
	}
	return stocks, nil
}

func (s *PostgresStore) UpdatePrices(ctx context.Context, prices map[int64]decimal.Decimal) error {
	if len(prices) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for id, price := range prices {
		batch.Queue(`UPDATE stocks SET price = $2::NUMERIC WHERE id = $1`, id, price.String())
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return backend("update prices", err)
	}
	return nil
}

// --- Leagues ---

func (s *PostgresStore) CreateLeague(ctx context.Context, l *league.League) error {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO leagues (name, start_date, end_date) VALUES ($1, $2, $3) RETURNING id`,
		l.Name, l.StartDate, l.EndDate,
	).Scan(&id)
	if err != nil {
		return backend("create league", err)
	}
	l.ID = &id
	return nil
}

func (s *PostgresStore) GetLeague(ctx context.Context, id int64) (*league.League, error) {
	return loadLeague(ctx, s.pool, id)
}

func (s *PostgresStore) ListLeagues(ctx context.Context) ([]*league.League, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM leagues ORDER BY id`)
	if err != nil {
		return nil, backend("list leagues", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, backend("list leagues", err)
	}

	leagues := make([]*league.League, 0, len(ids))
	for _, id := range ids {
		l, err := loadLeague(ctx, s.pool, id)
		if errors.Is(err, apperrors.ErrLeagueNotFound) {
			continue // deleted between the two queries
		}
		if err != nil {
			return nil, err
		}
		leagues = append(leagues, l)
	}
	return leagues, nil
}

func (s *PostgresStore) UpdateLeagueEndDate(ctx context.Context, id int64, end time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE leagues SET end_date = $2 WHERE id = $1`, id, end)
	if err != nil {
		return backend("update league end date", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("league %d: %w", id, apperrors.ErrLeagueNotFound)
	}
	return nil
}

// --- Membership ---

func (s *PostgresStore) AddMember(ctx context.Context, leagueID int64, p *player.Player) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return backend("begin add member", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	_, err = tx.Exec(ctx,
		`INSERT INTO members (league_id, uid, name, init_value, cash, version)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6)`,
		leagueID, p.ID, p.Name, p.InitValue().String(), p.Cash().String(), p.Version,
	)
	switch {
	case isPgCode(err, pgUniqueViolation):
		return fmt.Errorf("%w: %s in league %d", apperrors.ErrDuplicatePlayer, p.ID, leagueID)
	case isPgCode(err, pgForeignKeyViolation):
		return fmt.Errorf("league %d: %w", leagueID, apperrors.ErrLeagueNotFound)
	case err != nil:
		return backend("add member", err)
	}
	if err := writeHoldings(ctx, tx, leagueID, p); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return backend("commit add member", err)
	}
	return nil
}

func (s *PostgresStore) RemoveMember(ctx context.Context, leagueID int64, uid string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM members WHERE league_id = $1 AND uid = $2`, leagueID, uid)
	if err != nil {
		return backend("remove member", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("player %s in league %d: %w", uid, leagueID, apperrors.ErrPlayerNotFound)
	}
	return nil
}

func (s *PostgresStore) GetPlayer(ctx context.Context, leagueID int64, uid string) (*player.Player, error) {
	players, err := loadMembers(ctx, s.pool, leagueID, uid)
	if err != nil {
		return nil, err
	}
	if len(players) == 0 {
		return nil, fmt.Errorf("player %s in league %d: %w", uid, leagueID, apperrors.ErrPlayerNotFound)
	}
	return players[0], nil
}

// GetPlayerForUpdate reads the primary; the version check in the write
// methods detects anything that changes afterwards.
func (s *PostgresStore) GetPlayerForUpdate(ctx context.Context, leagueID int64, uid string) (*player.Player, error) {
	return s.GetPlayer(ctx, leagueID, uid)
}

func (s *PostgresStore) UpdateCash(ctx context.Context, leagueID int64, p *player.Player) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return backend("begin update cash", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := casCash(ctx, tx, leagueID, p); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return backend("commit update cash", err)
	}
	p.Version++
	return nil
}

func (s *PostgresStore) CommitTrade(ctx context.Context, leagueID int64, p *player.Player, t *model.Transaction) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return backend("begin trade", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := casCash(ctx, tx, leagueID, p); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM holdings WHERE league_id = $1 AND uid = $2`, leagueID, p.ID); err != nil {
		return backend("clear holdings", err)
	}
	if err := writeHoldings(ctx, tx, leagueID, p); err != nil {
		return err
	}

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO transactions (ref, type, uid, league_id, stock_id, ticker, quantity, price, fee, total, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11)
		 RETURNING id`,
		t.Ref, string(t.Type), t.PlayerID, t.LeagueID, t.StockID, t.Ticker,
		t.Quantity.String(), t.Price.String(), t.Fee.String(), t.Total.String(),
		t.Timestamp,
	).Scan(&id)
	if isPgCode(err, pgUniqueViolation) {
		return fmt.Errorf("%w: transaction %s already recorded", apperrors.ErrConflict, t.Ref)
	}
	if err != nil {
		return backend("insert transaction", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return backend("commit trade", err)
	}
	t.ID = id
	p.Version++
	return nil
}

// --- Immutable logs ---

func (s *PostgresStore) ListTransactions(ctx context.Context, leagueID int64, uid string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, ref, type, uid, league_id, stock_id, ticker,
		        quantity::TEXT, price::TEXT, fee::TEXT, total::TEXT, executed_at
		 FROM transactions WHERE league_id = $1 AND uid = $2
		 ORDER BY executed_at, id`, leagueID, uid)
	if err != nil {
		return nil, backend("list transactions", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func (s *PostgresStore) InsertSnapshot(ctx context.Context, snap model.Snapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO snapshots (league_id, uid, value, cash, taken)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5)`,
		snap.LeagueID, snap.PlayerID, snap.Value.String(), snap.Cash.String(), snap.Taken,
	)
	if err != nil {
		return backend("insert snapshot", err)
	}
	return nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, leagueID int64, uid string) ([]model.Snapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT league_id, uid, value::TEXT, cash::TEXT, taken
		 FROM snapshots WHERE league_id = $1 AND uid = $2 ORDER BY taken`, leagueID, uid)
	if err != nil {
		return nil, backend("list snapshots", err)
	}
	defer rows.Close()

	snaps := []model.Snapshot{}
	for rows.Next() {
		var snap model.Snapshot
		var valueS, cashS string
		if err := rows.Scan(&snap.LeagueID, &snap.PlayerID, &valueS, &cashS, &snap.Taken); err != nil {
			return nil, backend("scan snapshot", err)
		}
		if snap.Value, err = decodeDecimal("snapshot value", valueS); err != nil {
			return nil, err
		}
		if snap.Cash, err = decodeDecimal("snapshot cash", cashS); err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, backend("list snapshots", err)
	}
	return snaps, nil
}

// --- Loading and scanning ---

func loadLeague(ctx context.Context, q querier, id int64) (*league.League, error) {
	var (
		name  string
		start time.Time
		end   *time.Time
	)
	err := q.QueryRow(ctx, `SELECT name, start_date, end_date FROM leagues WHERE id = $1`, id).
		Scan(&name, &start, &end)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("league %d: %w", id, apperrors.ErrLeagueNotFound)
	}
	if err != nil {
		return nil, backend("get league", err)
	}

	players, err := loadMembers(ctx, q, id, "")
	if err != nil {
		return nil, err
	}
	return league.Hydrate(&id, name, start, end, players), nil
}

// loadMembers loads the league's members in join order, or only uid when it
// is non-empty.
func loadMembers(ctx context.Context, q querier, leagueID int64, uid string) ([]*player.Player, error) {
	holdings, err := loadHoldings(ctx, q, leagueID, uid)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx,
		`SELECT uid, name, init_value::TEXT, cash::TEXT, version
		 FROM members WHERE league_id = $1 AND ($2 = '' OR uid = $2)
		 ORDER BY seq`, leagueID, uid)
	if err != nil {
		return nil, backend("load members", err)
	}
	defer rows.Close()

	players := []*player.Player{}
	for rows.Next() {
		var id, name, initS, cashS string
		var version int64
		if err := rows.Scan(&id, &name, &initS, &cashS, &version); err != nil {
			return nil, backend("scan member", err)
		}
		initValue, err := decodeDecimal("init_value", initS)
		if err != nil {
			return nil, err
		}
		cash, err := decodeDecimal("cash", cashS)
		if err != nil {
			return nil, err
		}
		p, err := decodePlayer(id, name, initValue, cash, version, holdings[id])
		if err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, backend("load members", err)
	}
	return players, nil
}

// loadHoldings returns positions joined with their stocks, grouped by uid,
// in each member's insertion order.
func loadHoldings(ctx context.Context, q querier, leagueID int64, uid string) (map[string][]player.Holding, error) {
	rows, err := q.Query(ctx,
		`SELECT h.uid, h.quantity, s.id, s.name, s.ticker, s.price::TEXT
		 FROM holdings h JOIN stocks s ON s.id = h.stock_id
		 WHERE h.league_id = $1 AND ($2 = '' OR h.uid = $2)
		 ORDER BY h.uid, h.position`, leagueID, uid)
	if err != nil {
		return nil, backend("load holdings", err)
	}
	defer rows.Close()

	out := make(map[string][]player.Holding)
	for rows.Next() {
		var owner, priceS string
		var h player.Holding
		if err := rows.Scan(&owner, &h.Quantity, &h.Stock.ID, &h.Stock.Name, &h.Stock.Ticker, &priceS); err != nil {
			return nil, backend("scan holding", err)
		}
		if h.Stock.Price, err = decodeDecimal("price", priceS); err != nil {
			return nil, err
		}
		out[owner] = append(out[owner], h)
	}
	if err := rows.Err(); err != nil {
		return nil, backend("load holdings", err)
	}
	return out, nil
}

// casCash locks the member row, checks its version and writes cash.
func casCash(ctx context.Context, tx pgx.Tx, leagueID int64, p *player.Player) error {
	var stored int64
	err := tx.QueryRow(ctx,
		`SELECT version FROM members WHERE league_id = $1 AND uid = $2 FOR UPDATE`,
		leagueID, p.ID).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("player %s in league %d: %w", p.ID, leagueID, apperrors.ErrPlayerNotFound)
	}
	if err != nil {
		return backend("lock member", err)
	}
	if stored != p.Version {
		return fmt.Errorf("%w: player %s at version %d, stored %d",
			apperrors.ErrConflict, p.ID, p.Version, stored)
	}
	_, err = tx.Exec(ctx,
		`UPDATE members SET cash = $3::NUMERIC, version = version + 1
		 WHERE league_id = $1 AND uid = $2`,
		leagueID, p.ID, p.Cash().String())
	if err != nil {
		return backend("update cash", err)
	}
	return nil
}

func writeHoldings(ctx context.Context, tx pgx.Tx, leagueID int64, p *player.Player) error {
	for i, h := range toHoldingRows(p) {
		_, err := tx.Exec(ctx,
			`INSERT INTO holdings (league_id, uid, stock_id, quantity, position)
			 VALUES ($1, $2, $3, $4, $5)`,
			leagueID, p.ID, h.StockID, h.Quantity, i)
		if isPgCode(err, pgForeignKeyViolation) {
			return fmt.Errorf("stock %d: %w", h.StockID, apperrors.ErrStockNotFound)
		}
		if err != nil {
			return backend("insert holding", err)
		}
	}
	return nil
}

func scanStock(row pgx.Row) (model.Stock, error) {
	var st model.Stock
	var priceS string
	if err := row.Scan(&st.ID, &st.Name, &st.Ticker, &priceS); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Stock{}, err
		}
		return model.Stock{}, backend("scan stock", err)
	}
	price, err := decodeDecimal("price", priceS)
	if err != nil {
		return model.Stock{}, err
	}
	st.Price = price
	return st, nil
}

func scanTransactions(rows pgx.Rows) ([]model.Transaction, error) {
	txs := []model.Transaction{}
	for rows.Next() {
		var t model.Transaction
		var qtyS, priceS, feeS, totalS string

		if err := rows.Scan(&t.ID, &t.Ref, &t.Type, &t.PlayerID, &t.LeagueID, &t.StockID, &t.Ticker,
			&qtyS, &priceS, &feeS, &totalS, &t.Timestamp); err != nil {
			return nil, backend("scan transaction", err)
		}

		var err error
		if t.Quantity, err = decodeDecimal("quantity", qtyS); err != nil {
			return nil, err
		}
		if t.Price, err = decodeDecimal("price", priceS); err != nil {
			return nil, err
		}
		if t.Fee, err = decodeDecimal("fee", feeS); err != nil {
			return nil, err
		}
		if t.Total, err = decodeDecimal("total", totalS); err != nil {
			return nil, err
		}
		if !t.Type.Valid() {
			return nil, fmt.Errorf("%w: transaction %d has type %q", apperrors.ErrDecode, t.ID, t.Type)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, backend("list transactions", err)
	}
	return txs, nil
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func backend(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", apperrors.ErrBackend, op, err)
}
