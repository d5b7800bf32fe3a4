// Package model defines the value types shared across the league engine.
// All monetary values use shopspring/decimal. Never float64 for money.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionFeeRate is the levy charged on both the buy cost and the sell
// proceeds of every trade.
var TransactionFeeRate = decimal.NewFromFloat(0.05)

// Stock is a tradable instrument with its most recently observed price.
// Identity is the ID (or the ticker when no ID has been assigned yet);
// price is not part of identity.
type Stock struct {
	ID     int64           `json:"id"`
	Name   string          `json:"name"`
	Ticker string          `json:"ticker"`
	Price  decimal.Decimal `json:"price"`
}

// WithPrice returns a copy of s carrying price p.
func (s Stock) WithPrice(p decimal.Decimal) Stock {
	s.Price = p
	return s
}

// SameAs reports whether s and o identify the same instrument.
func (s Stock) SameAs(o Stock) bool {
	if s.ID != 0 || o.ID != 0 {
		return s.ID == o.ID
	}
	return s.Ticker == o.Ticker
}

// Key is the identity key used for maps keyed by stock.
func (s Stock) Key() string {
	if s.ID != 0 {
		return fmt.Sprintf("id:%d", s.ID)
	}
	return "ticker:" + s.Ticker
}

// Side is the direction of a trade.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Valid reports whether s is BUY or SELL.
func (s Side) Valid() bool { return s == Buy || s == Sell }

// Transaction is an immutable record of a trade execution.
// Once created, these are never modified or deleted.
type Transaction struct {
	ID        int64           `json:"id"`
	Ref       string          `json:"ref"` // client-visible uuid
	Type      Side            `json:"type"`
	PlayerID  string          `json:"uid"`
	LeagueID  int64           `json:"league_id"`
	StockID   int64           `json:"stock_id"`
	Ticker    string          `json:"ticker"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"` // price at execution
	Fee       decimal.Decimal `json:"fee"`
	Total     decimal.Decimal `json:"total"` // signed cash delta applied to the player
	Timestamp time.Time       `json:"timestamp"`
}

// Snapshot is a point-in-time total value of one player in one league.
type Snapshot struct {
	LeagueID int64           `json:"league_id"`
	PlayerID string          `json:"uid"`
	Value    decimal.Decimal `json:"value"`
	Cash     decimal.Decimal `json:"cash"`
	Taken    time.Time       `json:"taken"`
}

// Bar is one OHLCV interval of a price series.
type Bar struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`
}
