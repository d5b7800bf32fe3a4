package trade

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockleague/league-engine/internal/apperrors"
	"github.com/stockleague/league-engine/internal/model"
	"github.com/stockleague/league-engine/internal/player"
)

// MaxQuantity caps a single order so share counts stay well inside int64.
const MaxQuantity = 1_000_000_000

var one = decimal.NewFromInt(1)

// Quote is the cash side of a trade before it is applied.
type Quote struct {
	Gross decimal.Decimal // quantity × price
	Fee   decimal.Decimal // gross × TransactionFeeRate
	Total decimal.Decimal // signed cash delta: −gross×(1+rate) for BUY, +gross×(1−rate) for SELL
}

// Price computes the gross amount, fee and cash delta of a trade.
func Price(side model.Side, qty, price decimal.Decimal) Quote {
	gross := qty.Mul(price)
	q := Quote{Gross: gross, Fee: gross.Mul(model.TransactionFeeRate)}
	if side == model.Buy {
		q.Total = gross.Mul(one.Add(model.TransactionFeeRate)).Neg()
	} else {
		q.Total = gross.Mul(one.Sub(model.TransactionFeeRate))
	}
	return q
}

// wholeShares validates qty as a positive whole number of shares.
func wholeShares(qty decimal.Decimal) (int64, error) {
	if !qty.IsPositive() || !qty.IsInteger() || qty.GreaterThan(decimal.NewFromInt(MaxQuantity)) {
		return 0, fmt.Errorf("%w: %s", apperrors.ErrInvalidQuantity, qty)
	}
	return qty.IntPart(), nil
}

// Apply executes one trade against p at price. Either every change is
// made and the transaction record is returned, or p is left untouched and
// an error explains why.
//
// The record's LeagueID and Ref are left for the caller to fill.
func Apply(p *player.Player, stock model.Stock, qty decimal.Decimal, side model.Side, price decimal.Decimal, now time.Time) (model.Transaction, error) {
	if !side.Valid() {
		return model.Transaction{}, fmt.Errorf("%w: side must be BUY or SELL, got %q", apperrors.ErrValidation, side)
	}
	n, err := wholeShares(qty)
	if err != nil {
		return model.Transaction{}, err
	}
	if price.IsNegative() {
		return model.Transaction{}, fmt.Errorf("%w: price cannot be negative, got %s", apperrors.ErrValidation, price)
	}

	quote := Price(side, qty, price)
	newCash := p.Cash().Add(quote.Total)
	stock = stock.WithPrice(price)

	switch side {
	case model.Buy:
		if newCash.IsNegative() {
			return model.Transaction{}, fmt.Errorf("%w: need %s, have %s",
				apperrors.ErrInsufficientFunds, quote.Total.Neg(), p.Cash())
		}
	case model.Sell:
		if held := p.Quantity(stock); held < n {
			return model.Transaction{}, fmt.Errorf("%w: hold %d of %s, selling %d",
				apperrors.ErrInsufficientShares, held, stock.Ticker, n)
		}
	}

	before := p.Clone()
	if err := mutate(p, stock, n, side, newCash); err != nil {
		p.Restore(before)
		return model.Transaction{}, err
	}

	return model.Transaction{
		Type:      side,
		PlayerID:  p.ID,
		StockID:   stock.ID,
		Ticker:    stock.Ticker,
		Quantity:  qty,
		Price:     price,
		Fee:       quote.Fee,
		Total:     quote.Total,
		Timestamp: now.UTC(),
	}, nil
}

func mutate(p *player.Player, stock model.Stock, n int64, side model.Side, newCash decimal.Decimal) error {
	var err error
	if side == model.Buy {
		err = p.AddShares(stock, n)
	} else {
		err = p.RemoveShares(stock, n)
	}
	if err != nil {
		return err
	}
	return p.SetCash(newCash)
}
