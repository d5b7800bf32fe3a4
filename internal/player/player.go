// Package player implements a league participant's holdings: cash plus
// whole-share stock positions, and the valuation derived from them.
//
// All monetary values use shopspring/decimal. Never float64 for money.
package player

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/stockleague/league-engine/internal/apperrors"
	"github.com/stockleague/league-engine/internal/model"
)

// PortfolioSort selects the order of Portfolio and AssetAllocation results.
type PortfolioSort string

const (
	ByName   PortfolioSort = "NAME"
	ByTicker PortfolioSort = "TICKER"
	ByValue  PortfolioSort = "VALUE"
)

// ParsePortfolioSort accepts the sort keys case-insensitively; empty means VALUE.
func ParsePortfolioSort(s string) (PortfolioSort, error) {
	switch PortfolioSort(strings.ToUpper(s)) {
	case "", ByValue:
		return ByValue, nil
	case ByName:
		return ByName, nil
	case ByTicker:
		return ByTicker, nil
	}
	return "", fmt.Errorf("%w: unknown portfolio sort %q", apperrors.ErrValidation, s)
}

// Holding is a position in one stock. Quantity is always positive.
type Holding struct {
	Stock    model.Stock `json:"stock"`
	Quantity int64       `json:"quantity"`
}

// Value is price × quantity.
func (h Holding) Value() decimal.Decimal {
	return h.Stock.Price.Mul(decimal.NewFromInt(h.Quantity))
}

// Player is one participant's state within one league.
//
// Invariants: cash ≥ 0, initValue > 0, every holding has quantity > 0 and
// holdings are unique by stock identity. Holdings keep insertion order.
type Player struct {
	ID   string
	Name string

	// Version increments on every durable write; the store uses it for
	// compare-and-swap.
	Version int64

	initValue decimal.Decimal
	cash      decimal.Decimal
	holdings  []Holding
}

// New builds a player and validates its invariants.
func New(id, name string, initValue, cash decimal.Decimal, holdings ...Holding) (*Player, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: player id is required", apperrors.ErrValidation)
	}
	if !initValue.IsPositive() {
		return nil, fmt.Errorf("%w: initial value must be positive, got %s", apperrors.ErrValidation, initValue)
	}
	if cash.IsNegative() {
		return nil, fmt.Errorf("%w: cash cannot be negative, got %s", apperrors.ErrValidation, cash)
	}
	p := &Player{ID: id, Name: name, initValue: initValue, cash: cash}
	for _, h := range holdings {
		if h.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive, got %d",
				apperrors.ErrValidation, h.Stock.Ticker, h.Quantity)
		}
		if p.index(h.Stock) >= 0 {
			return nil, fmt.Errorf("%w: duplicate holding %s", apperrors.ErrValidation, h.Stock.Ticker)
		}
		p.holdings = append(p.holdings, h)
	}
	return p, nil
}

// InitValue is the starting baseline used for returns.
func (p *Player) InitValue() decimal.Decimal { return p.initValue }

// Cash is the uninvested balance.
func (p *Player) Cash() decimal.Decimal { return p.cash }

// SetCash replaces the cash balance. Outside of trade execution only
// league.ModifyBalance should call this.
func (p *Player) SetCash(c decimal.Decimal) error {
	if c.IsNegative() {
		return fmt.Errorf("%w: cash cannot be negative, got %s", apperrors.ErrValidation, c)
	}
	p.cash = c
	return nil
}

// Quantity returns the number of shares held of s, zero when absent.
func (p *Player) Quantity(s model.Stock) int64 {
	if i := p.index(s); i >= 0 {
		return p.holdings[i].Quantity
	}
	return 0
}

// Holdings returns the positions in insertion order.
func (p *Player) Holdings() []Holding {
	return slices.Clone(p.holdings)
}

// AddShares increases the position in s, creating it if absent. The stored
// stock value is replaced by s so the position carries the latest price.
func (p *Player) AddShares(s model.Stock, qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("%w: %d", apperrors.ErrInvalidQuantity, qty)
	}
	if i := p.index(s); i >= 0 {
		p.holdings[i].Quantity += qty
		p.holdings[i].Stock = s
		return nil
	}
	p.holdings = append(p.holdings, Holding{Stock: s, Quantity: qty})
	return nil
}

// RemoveShares decreases the position in s and drops it when it reaches zero.
func (p *Player) RemoveShares(s model.Stock, qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("%w: %d", apperrors.ErrInvalidQuantity, qty)
	}
	i := p.index(s)
	if i < 0 || p.holdings[i].Quantity < qty {
		return fmt.Errorf("%w: hold %d of %s, need %d",
			apperrors.ErrInsufficientShares, p.Quantity(s), s.Ticker, qty)
	}
	p.holdings[i].Quantity -= qty
	if p.holdings[i].Quantity == 0 {
		p.holdings = slices.Delete(p.holdings, i, i+1)
	} else {
		p.holdings[i].Stock = s
	}
	return nil
}

// Reprice swaps each held stock for a copy carrying the price found in
// prices (by stock ID). Stocks without an entry keep their last price.
func (p *Player) Reprice(prices map[int64]decimal.Decimal) {
	for i, h := range p.holdings {
		if price, ok := prices[h.Stock.ID]; ok {
			p.holdings[i].Stock = h.Stock.WithPrice(price)
		}
	}
}

// TotalValue is cash + Σ price × quantity.
func (p *Player) TotalValue() decimal.Decimal {
	total := p.cash
	for _, h := range p.holdings {
		total = total.Add(h.Value())
	}
	return total
}

// TotalReturn is (TotalValue − initValue) / initValue.
func (p *Player) TotalReturn() (decimal.Decimal, error) {
	if p.initValue.IsZero() {
		return decimal.Zero, apperrors.ErrZeroInitValue
	}
	return p.TotalValue().Sub(p.initValue).Div(p.initValue), nil
}

// Portfolio returns the holdings ordered by `by`. NAME and TICKER sort
// ascending, VALUE sorts by price × quantity descending. Equal keys keep
// insertion order.
func (p *Player) Portfolio(by PortfolioSort) []Holding {
	out := slices.Clone(p.holdings)
	switch by {
	case ByName:
		slices.SortStableFunc(out, func(a, b Holding) int { return strings.Compare(a.Stock.Name, b.Stock.Name) })
	case ByTicker:
		slices.SortStableFunc(out, func(a, b Holding) int { return strings.Compare(a.Stock.Ticker, b.Stock.Ticker) })
	default:
		slices.SortStableFunc(out, func(a, b Holding) int { return b.Value().Cmp(a.Value()) })
	}
	return out
}

// AllocationEntry is one position's share of total value.
type AllocationEntry struct {
	Stock    model.Stock     `json:"stock"`
	Quantity int64           `json:"quantity"`
	Value    decimal.Decimal `json:"value"`
	Fraction decimal.Decimal `json:"fraction"`
}

// Allocation splits total value into positions and cash. Entry fractions
// plus Cash sum to one whenever Total is positive.
type Allocation struct {
	Entries []AllocationEntry `json:"entries"`
	Cash    decimal.Decimal   `json:"cash"`
	Total   decimal.Decimal   `json:"total"`
}

// AssetAllocation returns each position's fraction of total value. A player
// with zero total value gets an empty allocation.
func (p *Player) AssetAllocation(by PortfolioSort) Allocation {
	total := p.TotalValue()
	if !total.IsPositive() {
		return Allocation{Entries: []AllocationEntry{}, Cash: decimal.Zero, Total: total}
	}
	holdings := p.Portfolio(by)
	entries := make([]AllocationEntry, 0, len(holdings))
	for _, h := range holdings {
		v := h.Value()
		entries = append(entries, AllocationEntry{
			Stock:    h.Stock,
			Quantity: h.Quantity,
			Value:    v,
			Fraction: v.Div(total),
		})
	}
	return Allocation{Entries: entries, Cash: p.cash.Div(total), Total: total}
}

// Clone returns a deep copy.
func (p *Player) Clone() *Player {
	c := *p
	c.holdings = slices.Clone(p.holdings)
	return &c
}

// Restore overwrites p with the state of snapshot.
func (p *Player) Restore(snapshot *Player) {
	*p = *snapshot.Clone()
}

func (p *Player) index(s model.Stock) int {
	return slices.IndexFunc(p.holdings, func(h Holding) bool { return h.Stock.SameAs(s) })
}

type playerJSON struct {
	ID         string          `json:"uid"`
	Name       string          `json:"name"`
	InitValue  decimal.Decimal `json:"init_value"`
	Cash       decimal.Decimal `json:"cash"`
	TotalValue decimal.Decimal `json:"total_value"`
	Holdings   []Holding       `json:"holdings"`
}

// MarshalJSON renders the player with its derived total value.
func (p *Player) MarshalJSON() ([]byte, error) {
	holdings := p.holdings
	if holdings == nil {
		holdings = []Holding{}
	}
	return json.Marshal(playerJSON{
		ID:         p.ID,
		Name:       p.Name,
		InitValue:  p.initValue,
		Cash:       p.cash,
		TotalValue: p.TotalValue(),
		Holdings:   holdings,
	})
}
