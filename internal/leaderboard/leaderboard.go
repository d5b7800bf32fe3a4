// Package leaderboard ranks league players. Nothing here is persisted; a
// ranking is recomputed on every read.
package leaderboard

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/stockleague/league-engine/internal/apperrors"
	"github.com/stockleague/league-engine/internal/player"
)

// SortBy selects the ranking metric.
type SortBy string

const (
	ByName         SortBy = "NAME"
	ByTotalReturns SortBy = "TOTAL_RETURNS"
	ByValue        SortBy = "VALUE"
)

// ParseSortBy accepts the metric names case-insensitively; empty means VALUE.
func ParseSortBy(s string) (SortBy, error) {
	switch SortBy(strings.ToUpper(s)) {
	case "", ByValue:
		return ByValue, nil
	case ByName:
		return ByName, nil
	case ByTotalReturns:
		return ByTotalReturns, nil
	}
	return "", fmt.Errorf("%w: unknown leaderboard sort %q", apperrors.ErrValidation, s)
}

// Sort returns players ordered by the metric. NAME is ascending; VALUE and
// TOTAL_RETURNS are descending. Equal keys keep input order. The input
// slice is not modified.
func Sort(players []*player.Player, by SortBy) []*player.Player {
	out := slices.Clone(players)
	switch by {
	case ByName:
		slices.SortStableFunc(out, func(a, b *player.Player) int { return strings.Compare(a.Name, b.Name) })
	case ByTotalReturns:
		slices.SortStableFunc(out, func(a, b *player.Player) int { return returnOf(b).Cmp(returnOf(a)) })
	default:
		slices.SortStableFunc(out, func(a, b *player.Player) int { return b.TotalValue().Cmp(a.TotalValue()) })
	}
	return out
}

// Standing is one row of a ranked leaderboard.
type Standing struct {
	Rank        int             `json:"rank"`
	PlayerID    string          `json:"uid"`
	Name        string          `json:"name"`
	TotalValue  decimal.Decimal `json:"total_value"`
	TotalReturn decimal.Decimal `json:"total_return"`
}

// Rank sorts players and numbers them from 1 by position.
func Rank(players []*player.Player, by SortBy) []Standing {
	sorted := Sort(players, by)
	standings := make([]Standing, len(sorted))
	for i, p := range sorted {
		standings[i] = Standing{
			Rank:        i + 1,
			PlayerID:    p.ID,
			Name:        p.Name,
			TotalValue:  p.TotalValue(),
			TotalReturn: returnOf(p),
		}
	}
	return standings
}

// returnOf treats a player without a baseline as a zero return so one bad
// row cannot break the ranking.
func returnOf(p *player.Player) decimal.Decimal {
	r, err := p.TotalReturn()
	if err != nil {
		return decimal.Zero
	}
	return r
}
