// Package marketdata fetches stock prices from a chart API and keeps a
// live price snapshot for the rest of the engine.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/stockleague/league-engine/internal/apperrors"
	"github.com/stockleague/league-engine/internal/model"
	"github.com/stockleague/league-engine/internal/ticker"
)

// DefaultBaseURL is the public Yahoo Finance chart host.
const DefaultBaseURL = "https://query1.finance.yahoo.com"

// maxConcurrentFetches bounds LatestPrices fan-out so a large stock list
// does not trip the provider's rate limit.
const maxConcurrentFetches = 4

// Source is what the engine needs from a market-data provider.
type Source interface {
	// PriceSeries returns daily bars between from and to, oldest first. An
	// unknown ticker yields an empty series.
	PriceSeries(ctx context.Context, symbol string, from, to time.Time) ([]model.Bar, error)

	// LatestPrices returns the most recent close for each stock, keyed by
	// stock ID. Stocks the provider does not know are omitted.
	LatestPrices(ctx context.Context, stocks []model.Stock) (map[int64]decimal.Decimal, error)
}

// Client queries a Yahoo-style chart API over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for baseURL; an empty baseURL uses
// DefaultBaseURL.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

func (c *Client) PriceSeries(ctx context.Context, symbol string, from, to time.Time) ([]model.Bar, error) {
	sym, err := ticker.Parse(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrValidation, err)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: range end %s before start %s",
			apperrors.ErrValidation, to.Format(time.DateOnly), from.Format(time.DateOnly))
	}
	q := url.Values{
		"interval": {"1d"},
		"period1":  {fmt.Sprint(from.Unix())},
		"period2":  {fmt.Sprint(to.Unix())},
	}
	resp, err := c.query(ctx, sym, q)
	if err != nil {
		return nil, err
	}
	return parseBars(resp)
}

func (c *Client) LatestPrices(ctx context.Context, stocks []model.Stock) (map[int64]decimal.Decimal, error) {
	closes := make([]*decimal.Decimal, len(stocks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for i, s := range stocks {
		g.Go(func() error {
			p, ok, err := c.latest(ctx, s.Ticker)
			if err != nil {
				return fmt.Errorf("latest price %s: %w", s.Ticker, err)
			}
			if ok {
				closes[i] = &p
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	prices := make(map[int64]decimal.Decimal, len(stocks))
	for i, p := range closes {
		if p != nil {
			prices[stocks[i].ID] = *p
		}
	}
	return prices, nil
}

// latest returns the last close of the past five trading days.
func (c *Client) latest(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	resp, err := c.query(ctx, symbol, url.Values{"interval": {"1d"}, "range": {"5d"}})
	if err != nil {
		return decimal.Zero, false, err
	}
	bars, err := parseBars(resp)
	if err != nil {
		return decimal.Zero, false, err
	}
	if len(bars) == 0 {
		return decimal.Zero, false, nil
	}
	return bars[len(bars)-1].Close, true, nil
}

// query fetches one chart. A symbol the provider does not list returns an
// empty response; HTTP and rate-limit failures return ErrBackend.
func (c *Client) query(ctx context.Context, symbol string, q url.Values) (chartResponse, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(symbol), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return chartResponse{}, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return chartResponse{}, fmt.Errorf("%w: %s: %w", apperrors.ErrBackend, symbol, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return chartResponse{}, fmt.Errorf("%w: read %s: %w", apperrors.ErrBackend, symbol, err)
	}

	var resp chartResponse
	decodeErr := json.Unmarshal(data, &resp)

	switch {
	case res.StatusCode == http.StatusNotFound, decodeErr == nil && resp.Chart.Error.notFound():
		return chartResponse{}, nil
	case res.StatusCode == http.StatusTooManyRequests:
		return chartResponse{}, fmt.Errorf("%w: %s: rate limited", apperrors.ErrBackend, symbol)
	case res.StatusCode != http.StatusOK:
		return chartResponse{}, fmt.Errorf("%w: %s: status %d", apperrors.ErrBackend, symbol, res.StatusCode)
	case decodeErr != nil:
		return chartResponse{}, fmt.Errorf("%w: %s: %w", apperrors.ErrDecode, symbol, decodeErr)
	case resp.Chart.Error != nil:
		return chartResponse{}, fmt.Errorf("%w: %s: %s", apperrors.ErrBackend, symbol, resp.Chart.Error.Description)
	}
	return resp, nil
}
