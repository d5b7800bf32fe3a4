// Package testutil holds test doubles shared across package tests.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockleague/league-engine/internal/model"
)

// FakeMarketData is an in-memory market-data source. Prices are keyed by
// ticker so tests can seed them before stocks have IDs.
type FakeMarketData struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	series map[string][]model.Bar

	// Err, when set, is returned from every call.
	Err error
	// Calls counts LatestPrices invocations.
	Calls int
}

// NewFakeMarketData creates a source with no known tickers.
func NewFakeMarketData() *FakeMarketData {
	return &FakeMarketData{
		prices: make(map[string]decimal.Decimal),
		series: make(map[string][]model.Bar),
	}
}

// SetPrice sets the latest close for ticker.
func (f *FakeMarketData) SetPrice(ticker string, price decimal.Decimal) *FakeMarketData {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[ticker] = price
	return f
}

// SetSeries sets the bars PriceSeries returns for ticker.
func (f *FakeMarketData) SetSeries(ticker string, bars []model.Bar) *FakeMarketData {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.series[ticker] = bars
	return f
}

// WithError makes every call fail with err.
func (f *FakeMarketData) WithError(err error) *FakeMarketData {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Err = err
	return f
}

func (f *FakeMarketData) PriceSeries(_ context.Context, ticker string, from, to time.Time) ([]model.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	out := []model.Bar{}
	for _, b := range f.series[ticker] {
		if !b.Timestamp.Before(from) && !b.Timestamp.After(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *FakeMarketData) LatestPrices(_ context.Context, stocks []model.Stock) (map[int64]decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	out := make(map[int64]decimal.Decimal, len(stocks))
	for _, s := range stocks {
		if p, ok := f.prices[s.Ticker]; ok {
			out[s.ID] = p
		}
	}
	return out, nil
}
