// Package store defines the persistence interface for the league engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockleague/league-engine/internal/apperrors"
	"github.com/stockleague/league-engine/internal/league"
	"github.com/stockleague/league-engine/internal/model"
	"github.com/stockleague/league-engine/internal/player"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
//
// Players are league-scoped: the same uid has an independent cash balance
// and portfolio in every league it joins. Loaded holdings carry the stored
// price of their stock.
type Store interface {
	// --- Stocks ---

	// CreateStock persists a new stock and assigns its ID. A ticker that is
	// already registered returns ErrConflict.
	CreateStock(ctx context.Context, s *model.Stock) error

	GetStock(ctx context.Context, id int64) (model.Stock, error)
	GetStockByTicker(ctx context.Context, ticker string) (model.Stock, error)
	ListStocks(ctx context.Context) ([]model.Stock, error)

	// UpdatePrices sets the latest price of each stock in prices. Unknown
	// IDs are ignored.
	UpdatePrices(ctx context.Context, prices map[int64]decimal.Decimal) error

	// --- Leagues ---

	// CreateLeague persists a league without members and assigns its ID.
	CreateLeague(ctx context.Context, l *league.League) error

	// GetLeague loads a league with its roster in join order.
	GetLeague(ctx context.Context, id int64) (*league.League, error)

	// ListLeagues loads every league with its roster, ordered by ID.
	ListLeagues(ctx context.Context) ([]*league.League, error)

	UpdateLeagueEndDate(ctx context.Context, id int64, end time.Time) error

	// --- Membership ---

	// AddMember persists p as a new member of the league. A uid already on
	// the roster returns ErrDuplicatePlayer.
	AddMember(ctx context.Context, leagueID int64, p *player.Player) error

	// RemoveMember deletes the member and its holdings. The transaction log
	// is kept.
	RemoveMember(ctx context.Context, leagueID int64, uid string) error

	// GetPlayer loads a member. It may be served from a cache.
	GetPlayer(ctx context.Context, leagueID int64, uid string) (*player.Player, error)

	// GetPlayerForUpdate loads a member from the source of truth. Write
	// paths must use this rather than GetPlayer.
	GetPlayerForUpdate(ctx context.Context, leagueID int64, uid string) (*player.Player, error)

	// UpdateCash stores p's cash if the stored version still equals
	// p.Version, then increments p.Version. A stale version returns
	// ErrConflict.
	UpdateCash(ctx context.Context, leagueID int64, p *player.Player) error

	// CommitTrade atomically stores p's cash and holdings and appends tx,
	// under the same version check as UpdateCash. tx.ID is assigned.
	CommitTrade(ctx context.Context, leagueID int64, p *player.Player, tx *model.Transaction) error

	// --- Immutable logs ---

	// ListTransactions returns a member's trades in execution order.
	ListTransactions(ctx context.Context, leagueID int64, uid string) ([]model.Transaction, error)

	InsertSnapshot(ctx context.Context, s model.Snapshot) error

	// ListSnapshots returns a member's valuation snapshots, oldest first.
	ListSnapshots(ctx context.Context, leagueID int64, uid string) ([]model.Snapshot, error)
}

// holdingRow is a stored position before it is joined with its stock.
type holdingRow struct {
	StockID  int64
	Quantity int64
}

// decodeDecimal parses a NUMERIC column rendered as text.
func decodeDecimal(field, s string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s %q: %v", apperrors.ErrDecode, field, s, err)
	}
	return v, nil
}

// decodePlayer rebuilds a member from stored columns. Rows that violate
// player invariants are rejected rather than loaded.
func decodePlayer(uid, name string, initValue, cash decimal.Decimal, version int64, holdings []player.Holding) (*player.Player, error) {
	p, err := player.New(uid, name, initValue, cash, holdings...)
	if err != nil {
		return nil, fmt.Errorf("%w: player %s: %v", apperrors.ErrDecode, uid, err)
	}
	p.Version = version
	return p, nil
}

// joinHoldings resolves stored positions against the stock table.
func joinHoldings(uid string, rows []holdingRow, stocks map[int64]model.Stock) ([]player.Holding, error) {
	holdings := make([]player.Holding, 0, len(rows))
	for _, r := range rows {
		s, ok := stocks[r.StockID]
		if !ok {
			return nil, fmt.Errorf("%w: player %s holds unknown stock %d", apperrors.ErrDecode, uid, r.StockID)
		}
		holdings = append(holdings, player.Holding{Stock: s, Quantity: r.Quantity})
	}
	return holdings, nil
}

func toHoldingRows(p *player.Player) []holdingRow {
	hs := p.Holdings()
	rows := make([]holdingRow, len(hs))
	for i, h := range hs {
		rows[i] = holdingRow{StockID: h.Stock.ID, Quantity: h.Quantity}
	}
	return rows
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*CachedStore)(nil)
)
