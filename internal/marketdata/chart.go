package marketdata

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockleague/league-engine/internal/apperrors"
	"github.com/stockleague/league-engine/internal/model"
)

// chartResponse is the raw shape of the chart endpoint. Price arrays hold
// nulls for intervals without trades.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				Currency           string  `json:"currency"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *chartError `json:"error"`
	} `json:"chart"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// notFound reports the provider's answer for a symbol it does not list.
func (e *chartError) notFound() bool { return e != nil && e.Code == "Not Found" }

// parseBars converts a chart response into bars ordered by timestamp.
// Intervals without a close price are skipped.
func parseBars(resp chartResponse) ([]model.Bar, error) {
	if len(resp.Chart.Result) == 0 {
		return []model.Bar{}, nil
	}
	result := resp.Chart.Result[0]
	if len(result.Timestamp) == 0 || len(result.Indicators.Quote) == 0 {
		return []model.Bar{}, nil
	}
	q := result.Indicators.Quote[0]
	n := len(result.Timestamp)
	if len(q.Close) != n {
		return nil, fmt.Errorf("%w: %d timestamps but %d close prices", apperrors.ErrDecode, n, len(q.Close))
	}

	bars := make([]model.Bar, 0, n)
	for i, ts := range result.Timestamp {
		if q.Close[i] == nil {
			continue
		}
		bars = append(bars, model.Bar{
			Timestamp: time.Unix(ts, 0).UTC(),
			Open:      price(q.Open, i),
			High:      price(q.High, i),
			Low:       price(q.Low, i),
			Close:     decimal.NewFromFloat(*q.Close[i]),
			Volume:    volume(q.Volume, i),
		})
	}
	return bars, nil
}

func price(xs []*float64, i int) decimal.Decimal {
	if i >= len(xs) || xs[i] == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(*xs[i])
}

func volume(xs []*int64, i int) int64 {
	if i >= len(xs) || xs[i] == nil {
		return 0
	}
	return *xs[i]
}
