package trade_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/stockleague/league-engine/internal/apperrors"
	"github.com/stockleague/league-engine/internal/model"
	"github.com/stockleague/league-engine/internal/player"
	"github.com/stockleague/league-engine/internal/trade"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var (
	now  = time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)
	aapl = model.Stock{ID: 1, Name: "Apple Inc.", Ticker: "AAPL", Price: d(100)}
)

func newPlayer(t *testing.T, cash float64, holdings ...player.Holding) *player.Player {
	t.Helper()
	p, err := player.New("u1", "Ann", d(1000), d(cash), holdings...)
	if err != nil {
		t.Fatalf("failed to build player: %v", err)
	}
	return p
}

// --- Buy ---

func TestApply_BuyDebitsGrossPlusFee(t *testing.T) {
	p := newPlayer(t, 1000)

	tx, err := trade.Apply(p, aapl, d(9), model.Buy, d(100), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Cash().Equal(d(55)) {
		t.Errorf("expected cash 55, got %s", p.Cash())
	}
	if p.Quantity(aapl) != 9 {
		t.Errorf("expected 9 shares, got %d", p.Quantity(aapl))
	}
	if !tx.Fee.Equal(d(45)) || !tx.Total.Equal(d(-945)) {
		t.Errorf("expected fee 45 and total -945, got %s / %s", tx.Fee, tx.Total)
	}
	if tx.Type != model.Buy || tx.StockID != 1 || tx.Ticker != "AAPL" || !tx.Timestamp.Equal(now) {
		t.Errorf("unexpected record %+v", tx)
	}
}

func TestApply_BuyInsufficientFunds(t *testing.T) {
	p := newPlayer(t, 1000)

	_, err := trade.Apply(p, aapl, d(10), model.Buy, d(100), now)
	if !errors.Is(err, apperrors.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if !p.Cash().Equal(d(1000)) || p.Quantity(aapl) != 0 {
		t.Errorf("rejected buy mutated player: cash=%s qty=%d", p.Cash(), p.Quantity(aapl))
	}
}

func TestApply_BuyExactCash(t *testing.T) {
	// 10 × 100 × 1.05 = 1050 leaves exactly zero.
	p := newPlayer(t, 1050)
	if _, err := trade.Apply(p, aapl, d(10), model.Buy, d(100), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Cash().IsZero() {
		t.Errorf("expected zero cash, got %s", p.Cash())
	}
}

func TestApply_BuyAddsToExistingPositionAtNewPrice(t *testing.T) {
	p := newPlayer(t, 1000, player.Holding{Stock: aapl, Quantity: 2})
	if _, err := trade.Apply(p, aapl, d(1), model.Buy, d(120), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hs := p.Holdings()
	if len(hs) != 1 || hs[0].Quantity != 3 || !hs[0].Stock.Price.Equal(d(120)) {
		t.Errorf("unexpected holdings %+v", hs)
	}
}

// --- Sell ---

func TestApply_SellCreditsNetOfFeeAndDropsEmptyPosition(t *testing.T) {
	p := newPlayer(t, 0, player.Holding{Stock: aapl, Quantity: 5})

	tx, err := trade.Apply(p, aapl, d(5), model.Sell, d(100), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Cash().Equal(d(475)) {
		t.Errorf("expected cash 475, got %s", p.Cash())
	}
	if len(p.Holdings()) != 0 {
		t.Errorf("liquidated position should be removed, got %+v", p.Holdings())
	}
	if !tx.Fee.Equal(d(25)) || !tx.Total.Equal(d(475)) {
		t.Errorf("expected fee 25 and total 475, got %s / %s", tx.Fee, tx.Total)
	}
}

func TestApply_SellInsufficientShares(t *testing.T) {
	p := newPlayer(t, 0, player.Holding{Stock: aapl, Quantity: 5})

	_, err := trade.Apply(p, aapl, d(6), model.Sell, d(100), now)
	if !errors.Is(err, apperrors.ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
	if p.Quantity(aapl) != 5 || !p.Cash().IsZero() {
		t.Errorf("rejected sell mutated player")
	}

	msft := model.Stock{ID: 2, Ticker: "MSFT"}
	if _, err := trade.Apply(p, msft, d(1), model.Sell, d(10), now); !errors.Is(err, apperrors.ErrInsufficientShares) {
		t.Errorf("selling an unheld stock: expected ErrInsufficientShares, got %v", err)
	}
}

// --- Validation ---

func TestApply_InvalidQuantity(t *testing.T) {
	for _, q := range []decimal.Decimal{d(0), d(-1), d(1.5), decimal.NewFromInt(trade.MaxQuantity + 1)} {
		p := newPlayer(t, 1000)
		if _, err := trade.Apply(p, aapl, q, model.Buy, d(1), now); !errors.Is(err, apperrors.ErrInvalidQuantity) {
			t.Errorf("qty %s: expected ErrInvalidQuantity, got %v", q, err)
		}
	}
}

func TestApply_InvalidSide(t *testing.T) {
	p := newPlayer(t, 1000)
	if _, err := trade.Apply(p, aapl, d(1), model.Side("HOLD"), d(1), now); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestPrice(t *testing.T) {
	buy := trade.Price(model.Buy, d(3), d(10))
	if !buy.Gross.Equal(d(30)) || !buy.Fee.Equal(d(1.5)) || !buy.Total.Equal(d(-31.5)) {
		t.Errorf("unexpected buy quote %+v", buy)
	}
	sell := trade.Price(model.Sell, d(3), d(10))
	if !sell.Total.Equal(d(28.5)) {
		t.Errorf("unexpected sell quote %+v", sell)
	}
}

// --- Properties ---

func TestProperty_FeeInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		qty := decimal.NewFromInt(rapid.Int64Range(1, 1000).Draw(t, "qty"))
		price := decimal.New(rapid.Int64Range(1, 1_000_000).Draw(t, "cents"), -2)
		side := rapid.SampledFrom([]model.Side{model.Buy, model.Sell}).Draw(t, "side")

		q := trade.Price(side, qty, price)
		if !q.Fee.Equal(qty.Mul(price).Mul(model.TransactionFeeRate)) {
			t.Fatalf("fee %s != qty×price×rate", q.Fee)
		}
		want := q.Gross.Add(q.Fee)
		if side == model.Sell {
			want = q.Gross.Sub(q.Fee)
		}
		if !q.Total.Abs().Equal(want) {
			t.Fatalf("total %s, expected ±%s", q.Total, want)
		}
	})
}

func TestProperty_RoundTripNeverRefundsFees(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		qty := rapid.Int64Range(1, 100).Draw(t, "qty")
		price := decimal.New(rapid.Int64Range(1, 100_000).Draw(t, "cents"), -2)
		cash := price.Mul(decimal.NewFromInt(qty)).Mul(d(1.05)).Add(decimal.NewFromInt(rapid.Int64Range(0, 1000).Draw(t, "extra")))

		p, err := player.New("u1", "Ann", cash, cash)
		if err != nil {
			t.Fatalf("generator: %v", err)
		}
		q := decimal.NewFromInt(qty)
		if _, err := trade.Apply(p, aapl, q, model.Buy, price, now); err != nil {
			t.Fatalf("buy: %v", err)
		}
		if _, err := trade.Apply(p, aapl, q, model.Sell, price, now); err != nil {
			t.Fatalf("sell: %v", err)
		}

		lost := cash.Sub(p.Cash())
		gross := price.Mul(q)
		if !lost.Equal(gross.Mul(d(0.1))) {
			t.Fatalf("round trip lost %s, expected 10%% of %s", lost, gross)
		}
		if len(p.Holdings()) != 0 {
			t.Fatalf("position left after round trip: %+v", p.Holdings())
		}
	})
}

func TestProperty_RejectedTradesLeaveStateUntouched(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cash := decimal.NewFromInt(rapid.Int64Range(0, 10_000).Draw(t, "cash"))
		held := rapid.Int64Range(0, 20).Draw(t, "held")
		var holdings []player.Holding
		if held > 0 {
			holdings = append(holdings, player.Holding{Stock: aapl, Quantity: held})
		}
		p, err := player.New("u1", "Ann", d(1000), cash, holdings...)
		if err != nil {
			t.Fatalf("generator: %v", err)
		}
		qty := decimal.NewFromInt(rapid.Int64Range(1, 200).Draw(t, "qty"))
		side := rapid.SampledFrom([]model.Side{model.Buy, model.Sell}).Draw(t, "side")

		before := p.Clone()
		if _, err := trade.Apply(p, aapl, qty, side, d(100), now); err != nil {
			if !p.Cash().Equal(before.Cash()) || p.Quantity(aapl) != before.Quantity(aapl) {
				t.Fatalf("rejected %s of %s mutated player", side, qty)
			}
			return
		}
		if p.Cash().IsNegative() {
			t.Fatalf("cash went negative: %s", p.Cash())
		}
	})
}
