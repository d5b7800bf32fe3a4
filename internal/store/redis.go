package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/stockleague/league-engine/internal/league"
	"github.com/stockleague/league-engine/internal/model"
	"github.com/stockleague/league-engine/internal/player"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. GetPlayerForUpdate is
// never cached.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration

	// onHit and onMiss observe cache effectiveness; both may be nil.
	onHit  func(kind string)
	onMiss func(kind string)
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// Observe registers hit and miss callbacks, keyed by entity kind.
func (s *CachedStore) Observe(onHit, onMiss func(kind string)) {
	s.onHit, s.onMiss = onHit, onMiss
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateStock(ctx context.Context, st *model.Stock) error {
	if err := s.primary.CreateStock(ctx, st); err != nil {
		return err
	}
	s.rdb.Del(ctx, stocksKey)
	return nil
}

func (s *CachedStore) UpdatePrices(ctx context.Context, prices map[int64]decimal.Decimal) error {
	if err := s.primary.UpdatePrices(ctx, prices); err != nil {
		return err
	}
	// Cached rosters keep their previous prices until their TTL runs out;
	// read paths reprice from the live snapshot anyway.
	s.rdb.Del(ctx, stocksKey)
	return nil
}

func (s *CachedStore) CreateLeague(ctx context.Context, l *league.League) error {
	return s.primary.CreateLeague(ctx, l)
}

func (s *CachedStore) UpdateLeagueEndDate(ctx context.Context, id int64, end time.Time) error {
	if err := s.primary.UpdateLeagueEndDate(ctx, id, end); err != nil {
		return err
	}
	s.rdb.Del(ctx, leagueKey(id))
	return nil
}

func (s *CachedStore) AddMember(ctx context.Context, leagueID int64, p *player.Player) error {
	if err := s.primary.AddMember(ctx, leagueID, p); err != nil {
		return err
	}
	s.invalidateMember(ctx, leagueID, p.ID)
	return nil
}

func (s *CachedStore) RemoveMember(ctx context.Context, leagueID int64, uid string) error {
	if err := s.primary.RemoveMember(ctx, leagueID, uid); err != nil {
		return err
	}
	s.invalidateMember(ctx, leagueID, uid)
	return nil
}

func (s *CachedStore) UpdateCash(ctx context.Context, leagueID int64, p *player.Player) error {
	if err := s.primary.UpdateCash(ctx, leagueID, p); err != nil {
		return err
	}
	s.invalidateMember(ctx, leagueID, p.ID)
	return nil
}

func (s *CachedStore) CommitTrade(ctx context.Context, leagueID int64, p *player.Player, tx *model.Transaction) error {
	if err := s.primary.CommitTrade(ctx, leagueID, p, tx); err != nil {
		return err
	}
	s.invalidateMember(ctx, leagueID, p.ID)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListStocks(ctx context.Context) ([]model.Stock, error) {
	var stocks []model.Stock
	if s.lookup(ctx, "stocks", stocksKey, &stocks) {
		return stocks, nil
	}

	stocks, err := s.primary.ListStocks(ctx)
	if err != nil {
		return nil, err
	}
	s.store(ctx, stocksKey, stocks)
	return stocks, nil
}

func (s *CachedStore) GetLeague(ctx context.Context, id int64) (*league.League, error) {
	var cl cachedLeague
	if s.lookup(ctx, "league", leagueKey(id), &cl) {
		if l, err := cl.decode(); err == nil {
			return l, nil
		}
	}

	l, err := s.primary.GetLeague(ctx, id)
	if err != nil {
		return nil, err
	}
	s.store(ctx, leagueKey(id), encodeLeague(l))
	return l, nil
}

func (s *CachedStore) GetPlayer(ctx context.Context, leagueID int64, uid string) (*player.Player, error) {
	var cp cachedPlayer
	if s.lookup(ctx, "player", playerKey(leagueID, uid), &cp) {
		if p, err := cp.decode(); err == nil {
			return p, nil
		}
	}

	p, err := s.primary.GetPlayer(ctx, leagueID, uid)
	if err != nil {
		return nil, err
	}
	s.store(ctx, playerKey(leagueID, uid), encodePlayer(p))
	return p, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetStock(ctx context.Context, id int64) (model.Stock, error) {
	return s.primary.GetStock(ctx, id)
}

func (s *CachedStore) GetStockByTicker(ctx context.Context, ticker string) (model.Stock, error) {
	return s.primary.GetStockByTicker(ctx, ticker)
}

func (s *CachedStore) ListLeagues(ctx context.Context) ([]*league.League, error) {
	return s.primary.ListLeagues(ctx)
}

func (s *CachedStore) GetPlayerForUpdate(ctx context.Context, leagueID int64, uid string) (*player.Player, error) {
	return s.primary.GetPlayerForUpdate(ctx, leagueID, uid)
}

func (s *CachedStore) ListTransactions(ctx context.Context, leagueID int64, uid string) ([]model.Transaction, error) {
	return s.primary.ListTransactions(ctx, leagueID, uid)
}

func (s *CachedStore) InsertSnapshot(ctx context.Context, snap model.Snapshot) error {
	return s.primary.InsertSnapshot(ctx, snap)
}

func (s *CachedStore) ListSnapshots(ctx context.Context, leagueID int64, uid string) ([]model.Snapshot, error) {
	return s.primary.ListSnapshots(ctx, leagueID, uid)
}

// --- Cache helpers ---

func (s *CachedStore) lookup(ctx context.Context, kind, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil && json.Unmarshal(data, dst) == nil {
		if s.onHit != nil {
			s.onHit(kind)
		}
		return true
	}
	if s.onMiss != nil {
		s.onMiss(kind)
	}
	return false
}

func (s *CachedStore) store(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func (s *CachedStore) invalidateMember(ctx context.Context, leagueID int64, uid string) {
	s.rdb.Del(ctx, leagueKey(leagueID), playerKey(leagueID, uid))
}

const stocksKey = "stocks"

func leagueKey(id int64) string              { return fmt.Sprintf("league:%d", id) }
func playerKey(lid int64, uid string) string { return fmt.Sprintf("player:%d:%s", lid, uid) }

// cachedPlayer is the JSON form of a member; player.Player keeps its
// balances unexported.
type cachedPlayer struct {
	UID       string           `json:"uid"`
	Name      string           `json:"name"`
	InitValue decimal.Decimal  `json:"init_value"`
	Cash      decimal.Decimal  `json:"cash"`
	Version   int64            `json:"version"`
	Holdings  []player.Holding `json:"holdings"`
}

func encodePlayer(p *player.Player) cachedPlayer {
	return cachedPlayer{
		UID:       p.ID,
		Name:      p.Name,
		InitValue: p.InitValue(),
		Cash:      p.Cash(),
		Version:   p.Version,
		Holdings:  p.Holdings(),
	}
}

func (c cachedPlayer) decode() (*player.Player, error) {
	return decodePlayer(c.UID, c.Name, c.InitValue, c.Cash, c.Version, c.Holdings)
}

type cachedLeague struct {
	ID      int64          `json:"id"`
	Name    string         `json:"name"`
	Start   time.Time      `json:"start"`
	End     *time.Time     `json:"end,omitempty"`
	Players []cachedPlayer `json:"players"`
}

func encodeLeague(l *league.League) cachedLeague {
	members := l.Players()
	cl := cachedLeague{
		Name:    l.Name,
		Start:   l.StartDate,
		End:     l.EndDate,
		Players: make([]cachedPlayer, len(members)),
	}
	if l.ID != nil {
		cl.ID = *l.ID
	}
	for i, p := range members {
		cl.Players[i] = encodePlayer(p)
	}
	return cl
}

func (c cachedLeague) decode() (*league.League, error) {
	players := make([]*player.Player, len(c.Players))
	for i, cp := range c.Players {
		p, err := cp.decode()
		if err != nil {
			return nil, err
		}
		players[i] = p
	}
	id := c.ID
	return league.Hydrate(&id, c.Name, c.Start, c.End, players), nil
}
