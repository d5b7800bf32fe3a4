// Package service implements the league and session operations the
// presentation layer calls: league lifecycle, membership, balances,
// standings, portfolio views, value history and the stock catalogue.
//
// Write paths return every failure. Read paths absorb backend and decode
// failures, log them, and return empty values so a flaky backend never
// breaks a screen. Lookups of a single missing entity still fail with a
// NotFound error.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockleague/league-engine/internal/apperrors"
	"github.com/stockleague/league-engine/internal/cache"
	"github.com/stockleague/league-engine/internal/config"
	"github.com/stockleague/league-engine/internal/history"
	"github.com/stockleague/league-engine/internal/leaderboard"
	"github.com/stockleague/league-engine/internal/league"
	"github.com/stockleague/league-engine/internal/marketdata"
	"github.com/stockleague/league-engine/internal/metrics"
	"github.com/stockleague/league-engine/internal/model"
	"github.com/stockleague/league-engine/internal/player"
	"github.com/stockleague/league-engine/internal/store"
	"github.com/stockleague/league-engine/internal/ticker"
)

// PriceFeed supplies the latest price snapshot used to value holdings.
type PriceFeed interface {
	Latest() *marketdata.Prices
}

// Balance is a member's current standing in one league.
type Balance struct {
	LeagueID    int64           `json:"league_id"`
	PlayerID    string          `json:"uid"`
	Cash        decimal.Decimal `json:"cash"`
	InitValue   decimal.Decimal `json:"init_value"`
	TotalValue  decimal.Decimal `json:"total_value"`
	TotalReturn decimal.Decimal `json:"total_return"`
}

// CreateLeagueInput describes a new league. Dates are UTC calendar dates.
type CreateLeagueInput struct {
	Name      string
	StartDate time.Time
	EndDate   *time.Time
}

// Service coordinates the store, the market-data source and the live
// price feed.
type Service struct {
	store  store.Store
	market marketdata.Source
	prices PriceFeed
	cfg    config.LeagueConfig
	now    func() time.Time

	balances *cache.TTL[string, Balance]
}

// New creates a service. prices may be nil, in which case holdings are
// valued at their stored price. Balances are cached for balanceTTL.
func New(st store.Store, market marketdata.Source, prices PriceFeed, cfg config.LeagueConfig, balanceTTL time.Duration) *Service {
	balances := cache.New[string, Balance](balanceTTL)
	balances.OnHit = metrics.CacheHit("balance")
	balances.OnMiss = metrics.CacheMiss("balance")
	return &Service{
		store:    st,
		market:   market,
		prices:   prices,
		cfg:      cfg,
		now:      time.Now,
		balances: balances,
	}
}

// WithClock replaces time.Now for league date rules and the balance cache.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.balances.WithClock(now)
	return s
}

// --- Leagues ---

// CreateLeague validates and persists a league with an empty roster.
func (s *Service) CreateLeague(ctx context.Context, in CreateLeagueInput) (*league.League, error) {
	l, err := league.New(in.Name, in.StartDate, in.EndDate, s.cfg.NameMaxLen, league.WithClock(s.now))
	if err != nil {
		return nil, err
	}
	if err := l.ValidateNew(); err != nil {
		return nil, err
	}
	if err := s.store.CreateLeague(ctx, l); err != nil {
		return nil, err
	}
	slog.Info("league created", "league", *l.ID, "name", l.Name, "start", l.StartDate.Format(time.DateOnly))
	return l, nil
}

// GetLeague loads a league with its roster valued at live prices.
func (s *Service) GetLeague(ctx context.Context, id int64) (*league.League, error) {
	l, err := s.store.GetLeague(ctx, id)
	if err != nil {
		return nil, err
	}
	l.SetClock(s.now)
	for _, p := range l.Players() {
		s.reprice(p)
	}
	return l, nil
}

// ListLeagues returns every league. Backend failures yield an empty list.
func (s *Service) ListLeagues(ctx context.Context) ([]*league.League, error) {
	leagues, err := s.store.ListLeagues(ctx)
	if err != nil {
		if degraded("list leagues", err) {
			return []*league.League{}, nil
		}
		return nil, err
	}
	for _, l := range leagues {
		l.SetClock(s.now)
	}
	return leagues, nil
}

// ChangeEndDate moves the league's end date. The date must not be before
// today and must come after the start date.
func (s *Service) ChangeEndDate(ctx context.Context, leagueID int64, end time.Time) (*league.League, error) {
	l, err := s.store.GetLeague(ctx, leagueID)
	if err != nil {
		return nil, err
	}
	l.SetClock(s.now)
	if !l.ChangeEndDate(end) {
		return nil, fmt.Errorf("%w: end date %s must be after start %s and not before today %s",
			apperrors.ErrValidation, league.Date(end).Format(time.DateOnly),
			l.StartDate.Format(time.DateOnly), l.Today().Format(time.DateOnly))
	}
	if err := s.store.UpdateLeagueEndDate(ctx, leagueID, *l.EndDate); err != nil {
		return nil, err
	}
	slog.Info("league end date changed", "league", leagueID, "end", l.EndDate.Format(time.DateOnly))
	return l, nil
}

// --- Membership ---

// Join adds uid to the league with the configured starting cash, which is
// also the player's baseline for returns.
func (s *Service) Join(ctx context.Context, leagueID int64, uid, name string) (*player.Player, error) {
	cash := s.cfg.StartingCash
	p, err := player.New(strings.TrimSpace(uid), strings.TrimSpace(name), cash, cash)
	if err != nil {
		return nil, err
	}
	if err := s.store.AddMember(ctx, leagueID, p); err != nil {
		return nil, err
	}
	slog.Info("player joined", "league", leagueID, "user", p.ID, "cash", cash.String())
	return p, nil
}

// Leave removes uid from the league. Removing a player who is not a
// member is a no-op.
func (s *Service) Leave(ctx context.Context, leagueID int64, uid string) error {
	err := s.store.RemoveMember(ctx, leagueID, uid)
	if errors.Is(err, apperrors.ErrPlayerNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	s.balances.Invalidate(balanceKey(leagueID, uid))
	slog.Info("player left", "league", leagueID, "user", uid)
	return nil
}

// ModifyBalance sets a member's cash. The member is re-read from the
// source of truth and the write is rejected if it changed in between.
func (s *Service) ModifyBalance(ctx context.Context, leagueID int64, uid string, cash decimal.Decimal) (*player.Player, error) {
	l, err := s.store.GetLeague(ctx, leagueID)
	if err != nil {
		return nil, err
	}
	p, err := s.store.GetPlayerForUpdate(ctx, leagueID, uid)
	if errors.Is(err, apperrors.ErrPlayerNotFound) {
		return nil, fmt.Errorf("%w: %s in league %d", apperrors.ErrNotMember, uid, leagueID)
	}
	if err != nil {
		return nil, err
	}

	// The roster comes from the fresh read so membership is checked
	// against current state.
	current := league.Hydrate(l.ID, l.Name, l.StartDate, l.EndDate, []*player.Player{p}, league.WithClock(s.now))
	if !current.ModifyBalance(p, cash) {
		return nil, fmt.Errorf("%w: cash cannot be negative, got %s", apperrors.ErrValidation, cash)
	}
	if err := s.store.UpdateCash(ctx, leagueID, p); err != nil {
		return nil, err
	}
	s.balances.Invalidate(balanceKey(leagueID, uid))
	slog.Info("balance modified", "league", leagueID, "user", uid, "cash", cash.String())
	s.reprice(p)
	return p, nil
}

// TradeCommitted drops the cached balance of the member who traded.
func (s *Service) TradeCommitted(tx model.Transaction) {
	s.balances.Invalidate(balanceKey(tx.LeagueID, tx.PlayerID))
}

// --- Reads ---

// Leaderboard ranks the league's members at live prices.
func (s *Service) Leaderboard(ctx context.Context, leagueID int64, by leaderboard.SortBy) ([]leaderboard.Standing, error) {
	l, err := s.store.GetLeague(ctx, leagueID)
	if err != nil {
		if degraded("leaderboard", err) {
			return []leaderboard.Standing{}, nil
		}
		return nil, err
	}
	players := l.Players()
	for _, p := range players {
		s.reprice(p)
	}
	return leaderboard.Rank(players, by), nil
}

// Portfolio returns a member's holdings at live prices in the given order.
func (s *Service) Portfolio(ctx context.Context, leagueID int64, uid string, by player.PortfolioSort) ([]player.Holding, error) {
	p, err := s.member(ctx, leagueID, uid)
	if err != nil {
		if degraded("portfolio", err) {
			return []player.Holding{}, nil
		}
		return nil, err
	}
	return p.Portfolio(by), nil
}

// Allocation returns each position's fraction of a member's total value.
func (s *Service) Allocation(ctx context.Context, leagueID int64, uid string, by player.PortfolioSort) (player.Allocation, error) {
	p, err := s.member(ctx, leagueID, uid)
	if err != nil {
		if degraded("allocation", err) {
			return player.Allocation{Entries: []player.AllocationEntry{}, Cash: decimal.Zero, Total: decimal.Zero}, nil
		}
		return player.Allocation{}, err
	}
	return p.AssetAllocation(by), nil
}

// History returns a member's value series from recorded snapshots.
func (s *Service) History(ctx context.Context, leagueID int64, uid string) (history.Series, error) {
	p, err := s.member(ctx, leagueID, uid)
	if err != nil {
		if degraded("history", err) {
			return history.Series{Points: []history.Point{}}, nil
		}
		return history.Series{}, err
	}
	snaps, err := s.store.ListSnapshots(ctx, leagueID, uid)
	if err != nil {
		if !degraded("history", err) {
			return history.Series{}, err
		}
		snaps = nil
	}
	return history.Build(snaps, p.InitValue(), p.Cash())
}

// SessionBalance returns a member's cash and value in one league. Results
// are cached briefly; the cache is never used to authorize a write. A uid
// with no membership fails with ErrSessionNotFound.
func (s *Service) SessionBalance(ctx context.Context, leagueID int64, uid string) (Balance, error) {
	return s.balances.GetOrFetch(ctx, balanceKey(leagueID, uid), func(ctx context.Context) (Balance, error) {
		p, err := s.member(ctx, leagueID, uid)
		if errors.Is(err, apperrors.ErrNotFound) {
			return Balance{}, fmt.Errorf("%w: %s in league %d: %w", apperrors.ErrSessionNotFound, uid, leagueID, err)
		}
		if err != nil {
			return Balance{}, err
		}
		ret, err := p.TotalReturn()
		if err != nil {
			return Balance{}, err
		}
		return Balance{
			LeagueID:    leagueID,
			PlayerID:    p.ID,
			Cash:        p.Cash(),
			InitValue:   p.InitValue(),
			TotalValue:  p.TotalValue(),
			TotalReturn: ret,
		}, nil
	})
}

// --- Stocks ---

// RegisterStock adds a tradable stock and tries to price it right away.
// A failed initial quote is logged; the poller prices it later.
func (s *Service) RegisterStock(ctx context.Context, name, symbol string) (model.Stock, error) {
	sym, err := ticker.Parse(symbol)
	if err != nil {
		return model.Stock{}, fmt.Errorf("%w: %w", apperrors.ErrValidation, err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = sym
	}
	st := model.Stock{Name: name, Ticker: sym}
	if err := s.store.CreateStock(ctx, &st); err != nil {
		return model.Stock{}, err
	}
	slog.Info("stock registered", "id", st.ID, "ticker", st.Ticker)

	prices, err := s.market.LatestPrices(ctx, []model.Stock{st})
	if err != nil {
		slog.Warn("initial quote failed", "ticker", st.Ticker, "error", err)
		return st, nil
	}
	if price, ok := prices[st.ID]; ok {
		if err := s.store.UpdatePrices(ctx, map[int64]decimal.Decimal{st.ID: price}); err != nil {
			slog.Warn("initial quote not stored", "ticker", st.Ticker, "error", err)
			return st, nil
		}
		st = st.WithPrice(price)
	}
	return st, nil
}

// ListStocks returns the catalogue at live prices.
func (s *Service) ListStocks(ctx context.Context) ([]model.Stock, error) {
	stocks, err := s.store.ListStocks(ctx)
	if err != nil {
		if degraded("list stocks", err) {
			return []model.Stock{}, nil
		}
		return nil, err
	}
	live := s.live()
	for i, st := range stocks {
		if price, ok := live[st.ID]; ok {
			stocks[i] = st.WithPrice(price)
		}
	}
	return stocks, nil
}

// PriceSeries returns daily bars for symbol between from and to. An
// unknown ticker yields an empty series; market-data failures are logged
// and also yield an empty series.
func (s *Service) PriceSeries(ctx context.Context, symbol string, from, to time.Time) ([]model.Bar, error) {
	bars, err := s.market.PriceSeries(ctx, symbol, from, to)
	if err != nil {
		if errors.Is(err, apperrors.ErrValidation) {
			return nil, err
		}
		slog.Warn("read degraded", "op", "price series", "ticker", symbol, "error", err)
		return []model.Bar{}, nil
	}
	return bars, nil
}

// --- helpers ---

func (s *Service) member(ctx context.Context, leagueID int64, uid string) (*player.Player, error) {
	p, err := s.store.GetPlayer(ctx, leagueID, uid)
	if err != nil {
		return nil, err
	}
	s.reprice(p)
	return p, nil
}

func (s *Service) live() map[int64]decimal.Decimal {
	if s.prices == nil {
		return nil
	}
	return s.prices.Latest().Map()
}

func (s *Service) reprice(p *player.Player) {
	if live := s.live(); len(live) > 0 {
		p.Reprice(live)
	}
}

// degraded reports whether a read path should absorb err, logging it
// when so.
func degraded(op string, err error) bool {
	if errors.Is(err, apperrors.ErrBackend) || errors.Is(err, apperrors.ErrDecode) {
		slog.Warn("read degraded", "op", op, "error", err)
		return true
	}
	return false
}

func balanceKey(leagueID int64, uid string) string {
	return fmt.Sprintf("%d/%s", leagueID, uid)
}
