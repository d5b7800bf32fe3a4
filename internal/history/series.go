// Package history turns valuation snapshots into chartable series and
// records new snapshots on a schedule.
package history

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockleague/league-engine/internal/apperrors"
	"github.com/stockleague/league-engine/internal/model"
)

// FlatEpsilon offsets the last point of a synthesized baseline so a chart
// never draws two identical trailing points.
var FlatEpsilon = decimal.RequireFromString("0.001")

var hundred = decimal.NewFromInt(100)

// Point is one value on a chart. Synthesized points have a zero Taken.
type Point struct {
	Taken time.Time       `json:"taken"`
	Value decimal.Decimal `json:"value"`
}

// Series is a player's value history within one league.
type Series struct {
	Points []Point `json:"points"`

	// Synthetic is set when fewer than two snapshots existed and Points is
	// the flat baseline.
	Synthetic bool `json:"synthetic"`

	// PercentChange is 100 × (latest − initValue) / initValue.
	PercentChange decimal.Decimal `json:"percent_change"`

	// AbsoluteChange is latest − initValue.
	AbsoluteChange decimal.Decimal `json:"absolute_change"`
}

// Build orders snapshots chronologically and computes the change since
// initValue. The latest value is the newest snapshot, or cash when there
// are none. With fewer than two snapshots the points are the flat
// baseline initValue, initValue, cash, cash − FlatEpsilon.
func Build(snapshots []model.Snapshot, initValue, cash decimal.Decimal) (Series, error) {
	if initValue.IsZero() {
		return Series{}, apperrors.ErrZeroInitValue
	}

	sorted := slices.Clone(snapshots)
	slices.SortStableFunc(sorted, func(a, b model.Snapshot) int { return a.Taken.Compare(b.Taken) })

	latest := cash
	if n := len(sorted); n > 0 {
		latest = sorted[n-1].Value
	}

	s := Series{
		AbsoluteChange: latest.Sub(initValue),
		PercentChange:  hundred.Mul(latest.Sub(initValue)).Div(initValue),
	}

	if len(sorted) < 2 {
		s.Synthetic = true
		s.Points = []Point{
			{Value: initValue},
			{Value: initValue},
			{Value: cash},
			{Value: cash.Sub(FlatEpsilon)},
		}
		return s, nil
	}

	s.Points = make([]Point, len(sorted))
	for i, snap := range sorted {
		s.Points[i] = Point{Taken: snap.Taken, Value: snap.Value}
	}
	return s, nil
}
