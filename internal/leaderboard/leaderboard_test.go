package leaderboard_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/stockleague/league-engine/internal/apperrors"
	"github.com/stockleague/league-engine/internal/leaderboard"
	"github.com/stockleague/league-engine/internal/model"
	"github.com/stockleague/league-engine/internal/player"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func mk(t *testing.T, id, name string, initValue, cash float64, holdings ...player.Holding) *player.Player {
	t.Helper()
	p, err := player.New(id, name, d(initValue), d(cash), holdings...)
	if err != nil {
		t.Fatalf("failed to build player: %v", err)
	}
	return p
}

func ids(ps []*player.Player) string {
	s := ""
	for i, p := range ps {
		if i > 0 {
			s += ","
		}
		s += p.ID
	}
	return s
}

func fixture(t *testing.T) []*player.Player {
	aapl := model.Stock{ID: 1, Ticker: "AAPL", Price: d(100)}
	return []*player.Player{
		mk(t, "a", "Carol", 1000, 900),                                             // value 900, return -0.1
		mk(t, "b", "alice", 500, 100, player.Holding{Stock: aapl, Quantity: 5}),    // value 600, return 0.2
		mk(t, "c", "Bob", 2000, 1500, player.Holding{Stock: aapl, Quantity: 10}),   // value 2500, return 0.25
		mk(t, "e", "Bob", 900, 900),                                                // value 900, return 0
	}
}

func TestSort_ByValue(t *testing.T) {
	got := ids(leaderboard.Sort(fixture(t), leaderboard.ByValue))
	// a and e tie at 900; input order keeps a first.
	if got != "c,a,e,b" {
		t.Errorf("expected c,a,e,b, got %s", got)
	}
}

func TestSort_ByTotalReturns(t *testing.T) {
	got := ids(leaderboard.Sort(fixture(t), leaderboard.ByTotalReturns))
	if got != "c,b,e,a" {
		t.Errorf("expected c,b,e,a, got %s", got)
	}
}

func TestSort_ByName(t *testing.T) {
	// Lexicographic: uppercase before lowercase; the two Bobs keep input order.
	got := ids(leaderboard.Sort(fixture(t), leaderboard.ByName))
	if got != "c,e,a,b" {
		t.Errorf("expected c,e,a,b, got %s", got)
	}
}

func TestSort_DoesNotMutateInput(t *testing.T) {
	in := fixture(t)
	leaderboard.Sort(in, leaderboard.ByValue)
	if ids(in) != "a,b,c,e" {
		t.Errorf("input reordered: %s", ids(in))
	}
}

func TestRank_OneIndexed(t *testing.T) {
	standings := leaderboard.Rank(fixture(t), leaderboard.ByValue)
	if len(standings) != 4 {
		t.Fatalf("expected 4 standings, got %d", len(standings))
	}
	for i, s := range standings {
		if s.Rank != i+1 {
			t.Errorf("position %d has rank %d", i, s.Rank)
		}
	}
	top := standings[0]
	if top.PlayerID != "c" || !top.TotalValue.Equal(d(2500)) || !top.TotalReturn.Equal(d(0.25)) {
		t.Errorf("unexpected leader: %+v", top)
	}
}

func TestRank_Empty(t *testing.T) {
	if got := leaderboard.Rank(nil, leaderboard.ByValue); len(got) != 0 {
		t.Errorf("expected empty ranking, got %d", len(got))
	}
}

func TestParseSortBy(t *testing.T) {
	for in, want := range map[string]leaderboard.SortBy{
		"":              leaderboard.ByValue,
		"value":         leaderboard.ByValue,
		"name":          leaderboard.ByName,
		"total_returns": leaderboard.ByTotalReturns,
	} {
		got, err := leaderboard.ParseSortBy(in)
		if err != nil || got != want {
			t.Errorf("ParseSortBy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := leaderboard.ParseSortBy("cash"); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestProperty_SortIsOrderedAndStable(t *testing.T) {
	names := []string{"ann", "bea", "cat"}
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 12).Draw(t, "n")
		players := make([]*player.Player, n)
		pos := make(map[string]int, n)
		for i := range players {
			// Small value ranges force ties.
			cash := decimal.NewFromInt(rapid.Int64Range(0, 3).Draw(t, fmt.Sprintf("cash%d", i)) * 100)
			init := decimal.NewFromInt(rapid.Int64Range(1, 3).Draw(t, fmt.Sprintf("init%d", i)) * 100)
			name := rapid.SampledFrom(names).Draw(t, fmt.Sprintf("name%d", i))
			p, err := player.New(fmt.Sprintf("p%d", i), name, init, cash)
			if err != nil {
				t.Fatalf("generator: %v", err)
			}
			players[i] = p
			pos[p.ID] = i
		}
		by := rapid.SampledFrom([]leaderboard.SortBy{
			leaderboard.ByName, leaderboard.ByValue, leaderboard.ByTotalReturns,
		}).Draw(t, "by")

		sorted := leaderboard.Sort(players, by)
		for i := 1; i < len(sorted); i++ {
			a, b := sorted[i-1], sorted[i]
			var c int
			switch by {
			case leaderboard.ByName:
				c = compareStrings(a.Name, b.Name)
			case leaderboard.ByValue:
				c = b.TotalValue().Cmp(a.TotalValue())
			case leaderboard.ByTotalReturns:
				ra, _ := a.TotalReturn()
				rb, _ := b.TotalReturn()
				c = rb.Cmp(ra)
			}
			if c > 0 {
				t.Fatalf("%s: %s placed before %s out of order", by, a.ID, b.ID)
			}
			if c == 0 && pos[a.ID] > pos[b.ID] {
				t.Fatalf("%s: tie between %s and %s broke input order", by, a.ID, b.ID)
			}
		}
	})
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
