package trade_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/stockleague/league-engine/internal/model"
	"github.com/stockleague/league-engine/internal/respond"
	"github.com/stockleague/league-engine/internal/store"
	"github.com/stockleague/league-engine/internal/trade"
)

var errAlwaysSecret = errors.New("password authentication failed for user admin")

func newTestEnv(t *testing.T) (*store.MemoryStore, chi.Router) {
	t.Helper()
	st := store.NewMemoryStore()
	seedMarket(t, st)

	h := trade.NewHandlers(newEngine(st, nil), st)
	r := chi.NewRouter()
	r.Route("/api/v1/leagues/{leagueID}", h.Routes)
	return st, r
}

func doTrade(t *testing.T, router chi.Router, leagueID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/leagues/"+leagueID+"/trades", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp respond.ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp.Error
}

func TestExecuteTrade_Buy(t *testing.T) {
	_, router := newTestEnv(t)

	w := doTrade(t, router, "1", trade.TradeRequest{
		UserID:   "u1",
		StockID:  1,
		Side:     model.Buy,
		Quantity: decimal.NewFromInt(9),
		Ref:      "order-1",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Transaction model.Transaction `json:"transaction"`
		Player      struct {
			Cash       decimal.Decimal `json:"cash"`
			TotalValue decimal.Decimal `json:"total_value"`
		} `json:"player"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Transaction.Ref != "order-1" || resp.Transaction.Type != model.Buy {
		t.Errorf("unexpected transaction %+v", resp.Transaction)
	}
	if !resp.Player.Cash.Equal(d(55)) || !resp.Player.TotalValue.Equal(d(955)) {
		t.Errorf("expected cash 55 and value 955, got %s and %s", resp.Player.Cash, resp.Player.TotalValue)
	}
}

func TestExecuteTrade_SellByTicker(t *testing.T) {
	_, router := newTestEnv(t)
	doTrade(t, router, "1", trade.TradeRequest{UserID: "u1", StockID: 1, Side: model.Buy, Quantity: d(5)})

	w := doTrade(t, router, "1", map[string]any{"uid": "u1", "ticker": "AAPL", "side": "SELL", "quantity": 5})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestExecuteTrade_ErrorStatuses(t *testing.T) {
	_, router := newTestEnv(t)

	tests := []struct {
		name     string
		league   string
		body     any
		expected int
	}{
		{"bad league id", "abc", trade.TradeRequest{UserID: "u1", StockID: 1, Side: model.Buy, Quantity: d(1)}, http.StatusBadRequest},
		{"missing uid", "1", trade.TradeRequest{StockID: 1, Side: model.Buy, Quantity: d(1)}, http.StatusBadRequest},
		{"missing stock", "1", trade.TradeRequest{UserID: "u1", Side: model.Buy, Quantity: d(1)}, http.StatusBadRequest},
		{"bad side", "1", trade.TradeRequest{UserID: "u1", StockID: 1, Side: "SHORT", Quantity: d(1)}, http.StatusBadRequest},
		{"fractional quantity", "1", trade.TradeRequest{UserID: "u1", StockID: 1, Side: model.Buy, Quantity: d(0.5)}, http.StatusBadRequest},
		{"not a member", "1", trade.TradeRequest{UserID: "ghost", StockID: 1, Side: model.Buy, Quantity: d(1)}, http.StatusNotFound},
		{"unknown league", "7", trade.TradeRequest{UserID: "u1", StockID: 1, Side: model.Buy, Quantity: d(1)}, http.StatusNotFound},
		{"insufficient funds", "1", trade.TradeRequest{UserID: "u1", StockID: 1, Side: model.Buy, Quantity: d(10)}, http.StatusUnprocessableEntity},
		{"insufficient shares", "1", trade.TradeRequest{UserID: "u1", StockID: 1, Side: model.Sell, Quantity: d(1)}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doTrade(t, router, tt.league, tt.body)
			if w.Code != tt.expected {
				t.Fatalf("expected %d, got %d: %s", tt.expected, w.Code, w.Body.String())
			}
			if msg := errorBody(t, w); msg == "" {
				t.Error("expected an error message")
			}
		})
	}
}

func TestExecuteTrade_InvalidBody(t *testing.T) {
	_, router := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/leagues/1/trades", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestExecuteTrade_BackendFailureHidesDetails(t *testing.T) {
	st, router := newTestEnv(t)
	st.FailCommits(errAlwaysSecret)

	w := doTrade(t, router, "1", trade.TradeRequest{UserID: "u1", StockID: 1, Side: model.Buy, Quantity: d(1)})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", w.Code, w.Body.String())
	}
	if msg := errorBody(t, w); msg != "backend failure" {
		t.Errorf("expected generic message, got %q", msg)
	}
}

func TestListTransactions(t *testing.T) {
	_, router := newTestEnv(t)
	doTrade(t, router, "1", trade.TradeRequest{UserID: "u1", StockID: 1, Side: model.Buy, Quantity: d(2)})
	doTrade(t, router, "1", trade.TradeRequest{UserID: "u1", StockID: 1, Side: model.Sell, Quantity: d(1)})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/leagues/1/players/u1/transactions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var txs []model.Transaction
	if err := json.NewDecoder(w.Body).Decode(&txs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(txs) != 2 || txs[0].Type != model.Buy || txs[1].Type != model.Sell {
		t.Errorf("expected buy then sell, got %+v", txs)
	}
}
