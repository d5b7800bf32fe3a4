package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockleague/league-engine/internal/apperrors"
	"github.com/stockleague/league-engine/internal/marketdata"
	"github.com/stockleague/league-engine/internal/metrics"
	"github.com/stockleague/league-engine/internal/model"
	"github.com/stockleague/league-engine/internal/player"
	"github.com/stockleague/league-engine/internal/store"
	"github.com/stockleague/league-engine/internal/ticker"
)

// Order is a request to buy or sell shares on behalf of a league member.
// StockID wins over Ticker when both are set.
type Order struct {
	LeagueID int64
	PlayerID string
	StockID  int64
	Ticker   string
	Quantity decimal.Decimal
	Side     model.Side

	// Ref identifies the request; one is generated when empty. Replaying
	// a committed Ref is rejected by the store.
	Ref string
}

// Result is a committed trade and the member state it produced.
type Result struct {
	Transaction model.Transaction `json:"transaction"`
	Player      *player.Player    `json:"player"`
}

// PriceFeed supplies live prices; Engine falls back to the stored stock
// price when the feed has none.
type PriceFeed interface {
	Latest() *marketdata.Prices
}

// Engine executes trades. Orders for the same member run one at a time;
// orders for different members run concurrently. An order still waiting
// for its member gives up when its context is done.
//
// Each order moves through Validating, then Applying, then Committed, or
// stops at Rejected. Once Applying starts the commit ignores cancellation
// of the caller's context so no half-finished mutation is left behind.
type Engine struct {
	store  store.Store
	prices PriceFeed
	hub    *WSHub
	now    func() time.Time
	locks  keyedMutex

	// OnCommit, when set, receives every committed transaction.
	OnCommit func(model.Transaction)
}

// NewEngine creates an engine. prices and hub may be nil.
func NewEngine(st store.Store, prices PriceFeed, hub *WSHub) *Engine {
	return &Engine{store: st, prices: prices, hub: hub, now: time.Now}
}

// WithClock replaces time.Now for transaction timestamps and league dates.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Execute validates o against freshly read member and league state,
// applies it and commits. On a failed commit the member state is restored
// and ErrBackend (or ErrConflict for a concurrent write) is returned.
func (e *Engine) Execute(ctx context.Context, o Order) (Result, error) {
	start := time.Now()
	res, outcome, err := e.execute(ctx, o)
	metrics.TradesTotal.WithLabelValues(string(o.Side), outcome).Inc()
	metrics.TradeLatency.WithLabelValues(string(o.Side)).Observe(time.Since(start).Seconds())
	if err != nil {
		slog.Info("trade rejected",
			"league", o.LeagueID,
			"user", o.PlayerID,
			"side", o.Side,
			"qty", o.Quantity.String(),
			"outcome", outcome,
			"error", err,
		)
	}
	return res, err
}

func (e *Engine) execute(ctx context.Context, o Order) (Result, string, error) {
	// --- Validating ---
	if !o.Side.Valid() {
		return Result{}, "rejected", fmt.Errorf("%w: side must be BUY or SELL, got %q", apperrors.ErrValidation, o.Side)
	}
	if _, err := wholeShares(o.Quantity); err != nil {
		return Result{}, "rejected", err
	}
	if o.Ref == "" {
		o.Ref = uuid.NewString()
	}

	unlock, err := e.locks.Lock(ctx, memberKey(o.LeagueID, o.PlayerID))
	if err != nil {
		return Result{}, "rejected", err
	}
	defer unlock()

	if err := ctx.Err(); err != nil {
		return Result{}, "rejected", err
	}

	l, err := e.store.GetLeague(ctx, o.LeagueID)
	if err != nil {
		return Result{}, "rejected", err
	}
	l.SetClock(e.now)
	if !l.Active() {
		return Result{}, "rejected", fmt.Errorf("%w: league %d is not open for trading", apperrors.ErrValidation, o.LeagueID)
	}

	p, err := e.store.GetPlayerForUpdate(ctx, o.LeagueID, o.PlayerID)
	if errors.Is(err, apperrors.ErrPlayerNotFound) {
		return Result{}, "rejected", fmt.Errorf("%w: %s in league %d", apperrors.ErrNotMember, o.PlayerID, o.LeagueID)
	}
	if err != nil {
		return Result{}, "rejected", err
	}

	stock, err := e.resolveStock(ctx, o)
	if err != nil {
		return Result{}, "rejected", err
	}
	price := e.currentPrice(stock)
	if !price.IsPositive() {
		return Result{}, "rejected", fmt.Errorf("%w: no price available for %s", apperrors.ErrValidation, stock.Ticker)
	}

	// --- Applying ---
	before := p.Clone()
	tx, err := Apply(p, stock, o.Quantity, o.Side, price, e.now())
	if err != nil {
		return Result{}, "rejected", err
	}
	tx.LeagueID = o.LeagueID
	tx.Ref = o.Ref

	commitCtx := context.WithoutCancel(ctx)
	if err := e.store.CommitTrade(commitCtx, o.LeagueID, p, &tx); err != nil {
		p.Restore(before)
		metrics.TradeRollbacks.Inc()
		slog.Warn("trade rolled back",
			"ref", o.Ref,
			"league", o.LeagueID,
			"user", o.PlayerID,
			"error", err,
		)
		if errors.Is(err, apperrors.ErrConflict) || errors.Is(err, apperrors.ErrBackend) {
			return Result{}, "rolled_back", err
		}
		return Result{}, "rolled_back", fmt.Errorf("%w: commit trade: %w", apperrors.ErrBackend, err)
	}

	// --- Committed ---
	slog.Info("trade executed",
		"ref", tx.Ref,
		"league", tx.LeagueID,
		"user", tx.PlayerID,
		"ticker", tx.Ticker,
		"side", tx.Type,
		"qty", tx.Quantity.String(),
		"price", tx.Price.String(),
		"fee", tx.Fee.String(),
		"cash", p.Cash().String(),
	)
	if e.OnCommit != nil {
		e.OnCommit(tx)
	}
	if e.hub != nil {
		e.hub.BroadcastTrade(tx)
	}
	return Result{Transaction: tx, Player: p}, "committed", nil
}

func (e *Engine) resolveStock(ctx context.Context, o Order) (model.Stock, error) {
	if o.StockID != 0 {
		return e.store.GetStock(ctx, o.StockID)
	}
	sym, err := ticker.Parse(o.Ticker)
	if err != nil {
		return model.Stock{}, fmt.Errorf("%w: %w", apperrors.ErrValidation, err)
	}
	return e.store.GetStockByTicker(ctx, sym)
}

func (e *Engine) currentPrice(s model.Stock) decimal.Decimal {
	if e.prices != nil {
		if p, ok := e.prices.Latest().Price(s.ID); ok {
			return p
		}
	}
	return s.Price
}

func memberKey(leagueID int64, uid string) string {
	return fmt.Sprintf("%d/%s", leagueID, uid)
}
