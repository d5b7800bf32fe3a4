package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockleague/league-engine/internal/apperrors"
	"github.com/stockleague/league-engine/internal/league"
	"github.com/stockleague/league-engine/internal/model"
	"github.com/stockleague/league-engine/internal/player"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	stocks     map[int64]model.Stock
	leagues    map[int64]*leagueRow
	ledger     []model.Transaction
	refs       map[string]struct{}
	snapshots  []model.Snapshot
	nextStock  int64
	nextLeague int64
	nextTx     int64

	// failCommit, when set, makes CommitTrade and UpdateCash fail. Tests use
	// it to exercise rollback.
	failCommit error
}

type leagueRow struct {
	name    string
	start   time.Time
	end     *time.Time
	order   []string
	members map[string]*memberRow
}

type memberRow struct {
	name      string
	initValue decimal.Decimal
	cash      decimal.Decimal
	version   int64
	holdings  []holdingRow
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stocks:  make(map[int64]model.Stock),
		leagues: make(map[int64]*leagueRow),
		refs:    make(map[string]struct{}),
	}
}

// FailCommits makes every subsequent write of player state return err.
// Pass nil to restore normal behaviour.
func (s *MemoryStore) FailCommits(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommit = err
}

// --- Stocks ---

func (s *MemoryStore) CreateStock(_ context.Context, st *model.Stock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.stocks {
		if existing.Ticker == st.Ticker {
			return fmt.Errorf("%w: stock %s already registered", apperrors.ErrConflict, st.Ticker)
		}
	}
	s.nextStock++
	st.ID = s.nextStock
	s.stocks[st.ID] = *st
	return nil
}

func (s *MemoryStore) GetStock(_ context.Context, id int64) (model.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stocks[id]
	if !ok {
		return model.Stock{}, fmt.Errorf("stock %d: %w", id, apperrors.ErrStockNotFound)
	}
	return st, nil
}

func (s *MemoryStore) GetStockByTicker(_ context.Context, ticker string) (model.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, st := range s.stocks {
		if st.Ticker == ticker {
			return st, nil
		}
	}
	return model.Stock{}, fmt.Errorf("stock %s: %w", ticker, apperrors.ErrStockNotFound)
}

func (s *MemoryStore) ListStocks(_ context.Context) ([]model.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stocks := make([]model.Stock, 0, len(s.stocks))
	for _, st := range s.stocks {
		stocks = append(stocks, st)
	}
	slices.SortFunc(stocks, func(a, b model.Stock) int { return cmp.Compare(a.ID, b.ID) })
	return stocks, nil
}

func (s *MemoryStore) UpdatePrices(_ context.Context, prices map[int64]decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, price := range prices {
		if st, ok := s.stocks[id]; ok {
			s.stocks[id] = st.WithPrice(price)
		}
	}
	return nil
}

// --- Leagues ---

func (s *MemoryStore) CreateLeague(_ context.Context, l *league.League) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextLeague++
	id := s.nextLeague
	row := &leagueRow{
		name:    l.Name,
		start:   l.StartDate,
		members: make(map[string]*memberRow),
	}
	if l.EndDate != nil {
		end := *l.EndDate
		row.end = &end
	}
	s.leagues[id] = row
	l.ID = &id
	return nil
}

func (s *MemoryStore) GetLeague(_ context.Context, id int64) (*league.League, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.leagues[id]
	if !ok {
		return nil, fmt.Errorf("league %d: %w", id, apperrors.ErrLeagueNotFound)
	}
	return s.buildLeague(id, row)
}

func (s *MemoryStore) ListLeagues(_ context.Context) ([]*league.League, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.leagues))
	for id := range s.leagues {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	leagues := make([]*league.League, 0, len(ids))
	for _, id := range ids {
		l, err := s.buildLeague(id, s.leagues[id])
		if err != nil {
			return nil, err
		}
		leagues = append(leagues, l)
	}
	return leagues, nil
}

func (s *MemoryStore) UpdateLeagueEndDate(_ context.Context, id int64, end time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.leagues[id]
	if !ok {
		return fmt.Errorf("league %d: %w", id, apperrors.ErrLeagueNotFound)
	}
	row.end = &end
	return nil
}

// --- Membership ---

func (s *MemoryStore) AddMember(_ context.Context, leagueID int64, p *player.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.leagues[leagueID]
	if !ok {
		return fmt.Errorf("league %d: %w", leagueID, apperrors.ErrLeagueNotFound)
	}
	if _, exists := row.members[p.ID]; exists {
		return fmt.Errorf("%w: %s in league %d", apperrors.ErrDuplicatePlayer, p.ID, leagueID)
	}
	row.members[p.ID] = &memberRow{
		name:      p.Name,
		initValue: p.InitValue(),
		cash:      p.Cash(),
		version:   p.Version,
		holdings:  toHoldingRows(p),
	}
	row.order = append(row.order, p.ID)
	return nil
}

func (s *MemoryStore) RemoveMember(_ context.Context, leagueID int64, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, _, err := s.member(leagueID, uid)
	if err != nil {
		return err
	}
	delete(row.members, uid)
	row.order = slices.DeleteFunc(row.order, func(id string) bool { return id == uid })
	return nil
}

func (s *MemoryStore) GetPlayer(_ context.Context, leagueID int64, uid string) (*player.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, m, err := s.member(leagueID, uid)
	if err != nil {
		return nil, err
	}
	return s.buildPlayer(uid, m)
}

func (s *MemoryStore) GetPlayerForUpdate(ctx context.Context, leagueID int64, uid string) (*player.Player, error) {
	return s.GetPlayer(ctx, leagueID, uid)
}

func (s *MemoryStore) UpdateCash(_ context.Context, leagueID int64, p *player.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.checkVersion(leagueID, p)
	if err != nil {
		return err
	}
	m.cash = p.Cash()
	m.version++
	p.Version = m.version
	return nil
}

func (s *MemoryStore) CommitTrade(_ context.Context, leagueID int64, p *player.Player, tx *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.refs[tx.Ref]; dup {
		return fmt.Errorf("%w: transaction %s already recorded", apperrors.ErrConflict, tx.Ref)
	}
	m, err := s.checkVersion(leagueID, p)
	if err != nil {
		return err
	}
	m.cash = p.Cash()
	m.holdings = toHoldingRows(p)
	m.version++
	p.Version = m.version

	s.nextTx++
	tx.ID = s.nextTx
	s.ledger = append(s.ledger, *tx)
	s.refs[tx.Ref] = struct{}{}
	return nil
}

// --- Immutable logs ---

func (s *MemoryStore) ListTransactions(_ context.Context, leagueID int64, uid string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []model.Transaction{}
	for _, tx := range s.ledger {
		if tx.LeagueID == leagueID && tx.PlayerID == uid {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (s *MemoryStore) InsertSnapshot(_ context.Context, snap model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots = append(s.snapshots, snap)
	return nil
}

func (s *MemoryStore) ListSnapshots(_ context.Context, leagueID int64, uid string) ([]model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []model.Snapshot{}
	for _, snap := range s.snapshots {
		if snap.LeagueID == leagueID && snap.PlayerID == uid {
			result = append(result, snap)
		}
	}
	slices.SortStableFunc(result, func(a, b model.Snapshot) int { return a.Taken.Compare(b.Taken) })
	return result, nil
}

// --- helpers (callers hold s.mu) ---

func (s *MemoryStore) member(leagueID int64, uid string) (*leagueRow, *memberRow, error) {
	row, ok := s.leagues[leagueID]
	if !ok {
		return nil, nil, fmt.Errorf("league %d: %w", leagueID, apperrors.ErrLeagueNotFound)
	}
	m, ok := row.members[uid]
	if !ok {
		return nil, nil, fmt.Errorf("player %s in league %d: %w", uid, leagueID, apperrors.ErrPlayerNotFound)
	}
	return row, m, nil
}

func (s *MemoryStore) checkVersion(leagueID int64, p *player.Player) (*memberRow, error) {
	if s.failCommit != nil {
		return nil, s.failCommit
	}
	_, m, err := s.member(leagueID, p.ID)
	if err != nil {
		return nil, err
	}
	if m.version != p.Version {
		return nil, fmt.Errorf("%w: player %s at version %d, stored %d",
			apperrors.ErrConflict, p.ID, p.Version, m.version)
	}
	return m, nil
}

func (s *MemoryStore) buildPlayer(uid string, m *memberRow) (*player.Player, error) {
	holdings, err := joinHoldings(uid, m.holdings, s.stocks)
	if err != nil {
		return nil, err
	}
	return decodePlayer(uid, m.name, m.initValue, m.cash, m.version, holdings)
}

func (s *MemoryStore) buildLeague(id int64, row *leagueRow) (*league.League, error) {
	players := make([]*player.Player, 0, len(row.order))
	for _, uid := range row.order {
		p, err := s.buildPlayer(uid, row.members[uid])
		if err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	lid := id
	return league.Hydrate(&lid, row.name, row.start, row.end, players), nil
}
