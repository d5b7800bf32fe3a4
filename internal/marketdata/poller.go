package marketdata

import (
	"context"
	"log/slog"
	"maps"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockleague/league-engine/internal/metrics"
	"github.com/stockleague/league-engine/internal/model"
)

// Prices is an immutable snapshot of the latest known price per stock ID.
type Prices struct {
	values  map[int64]decimal.Decimal
	Updated time.Time
}

// NewPrices builds a snapshot from a copy of values. A nil values map
// yields an empty snapshot.
func NewPrices(values map[int64]decimal.Decimal, updated time.Time) *Prices {
	m := make(map[int64]decimal.Decimal, len(values))
	maps.Copy(m, values)
	return &Prices{values: m, Updated: updated}
}

// Price returns the price of stock id.
func (p *Prices) Price(id int64) (decimal.Decimal, bool) {
	if p == nil {
		return decimal.Zero, false
	}
	v, ok := p.values[id]
	return v, ok
}

// Map returns a copy of the snapshot keyed by stock ID.
func (p *Prices) Map() map[int64]decimal.Decimal {
	if p == nil {
		return map[int64]decimal.Decimal{}
	}
	m := make(map[int64]decimal.Decimal, len(p.values))
	maps.Copy(m, p.values)
	return m
}

// Len is the number of priced stocks.
func (p *Prices) Len() int {
	if p == nil {
		return 0
	}
	return len(p.values)
}

// PriceStore is the persistence the poller reads stocks from and writes
// prices to.
type PriceStore interface {
	ListStocks(ctx context.Context) ([]model.Stock, error)
	UpdatePrices(ctx context.Context, prices map[int64]decimal.Decimal) error
}

// Poller periodically refreshes prices and publishes them as a snapshot.
// Readers call Latest and never block the refresh loop.
type Poller struct {
	source   Source
	store    PriceStore
	interval time.Duration
	now      func() time.Time

	current atomic.Pointer[Prices]

	// OnPublish, when set, receives every new snapshot.
	OnPublish func(*Prices)
}

// NewPoller creates a poller that refreshes every interval.
func NewPoller(source Source, store PriceStore, interval time.Duration) *Poller {
	p := &Poller{source: source, store: store, interval: interval, now: time.Now}
	p.current.Store(NewPrices(nil, time.Time{}))
	return p
}

// Latest returns the most recently published snapshot. It is never nil.
func (p *Poller) Latest() *Prices { return p.current.Load() }

// Run refreshes immediately and then on every tick until ctx is cancelled.
// Failed refreshes are logged and the previous snapshot stays published.
func (p *Poller) Run(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()

	for {
		if err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
			metrics.PriceRefreshFailures.Inc()
			slog.Warn("price refresh failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Refresh fetches prices for every listed stock, stores them and publishes
// a new snapshot that merges them over the previous one.
func (p *Poller) Refresh(ctx context.Context) error {
	stocks, err := p.store.ListStocks(ctx)
	if err != nil {
		return err
	}
	if len(stocks) == 0 {
		return nil
	}

	fetched, err := p.source.LatestPrices(ctx, stocks)
	if err != nil {
		return err
	}
	if err := p.store.UpdatePrices(ctx, fetched); err != nil {
		return err
	}

	merged := p.Latest().Map()
	for _, s := range stocks {
		if _, ok := merged[s.ID]; !ok && s.Price.IsPositive() {
			merged[s.ID] = s.Price
		}
	}
	maps.Copy(merged, fetched)

	snap := NewPrices(merged, p.now())
	p.current.Store(snap)
	metrics.PriceRefreshes.Inc()
	if p.OnPublish != nil {
		p.OnPublish(snap)
	}
	return nil
}
