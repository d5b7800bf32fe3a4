// Package trade executes buy and sell orders for league members and serves
// the trading HTTP endpoints and websocket feed.
//
// All monetary values use shopspring/decimal, never float64.
package trade

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/stockleague/league-engine/internal/model"
	"github.com/stockleague/league-engine/internal/respond"
	"github.com/stockleague/league-engine/internal/store"
)

// Handlers exposes the engine over HTTP.
type Handlers struct {
	engine *Engine
	store  store.Store
}

// NewHandlers creates the trading HTTP handlers.
func NewHandlers(engine *Engine, st store.Store) *Handlers {
	return &Handlers{engine: engine, store: st}
}

// Routes mounts the trading endpoints under a /leagues/{leagueID} router.
func (h *Handlers) Routes(r chi.Router) {
	r.Post("/trades", h.ExecuteTrade)
	r.Get("/players/{playerID}/transactions", h.ListTransactions)
}

// --- Request/Response types ---

// TradeRequest is the JSON body for POST /leagues/{leagueID}/trades.
type TradeRequest struct {
	UserID   string          `json:"uid"`
	StockID  int64           `json:"stock_id,omitempty"`
	Ticker   string          `json:"ticker,omitempty"`
	Side     model.Side      `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Ref      string          `json:"ref,omitempty"` // client idempotency key
}

// --- HTTP Handlers ---

// ExecuteTrade handles POST /api/v1/leagues/{leagueID}/trades
func (h *Handlers) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	leagueID, ok := leagueParam(w, r)
	if !ok {
		return
	}

	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		respond.Error(w, "uid is required", http.StatusBadRequest)
		return
	}
	if req.StockID == 0 && req.Ticker == "" {
		respond.Error(w, "stock_id or ticker is required", http.StatusBadRequest)
		return
	}

	res, err := h.engine.Execute(r.Context(), Order{
		LeagueID: leagueID,
		PlayerID: req.UserID,
		StockID:  req.StockID,
		Ticker:   req.Ticker,
		Quantity: req.Quantity,
		Side:     req.Side,
		Ref:      req.Ref,
	})
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, res)
}

// ListTransactions handles GET /api/v1/leagues/{leagueID}/players/{playerID}/transactions
// Returns the member's trades oldest first.
func (h *Handlers) ListTransactions(w http.ResponseWriter, r *http.Request) {
	leagueID, ok := leagueParam(w, r)
	if !ok {
		return
	}
	txs, err := h.store.ListTransactions(r.Context(), leagueID, chi.URLParam(r, "playerID"))
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, txs)
}

func leagueParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "leagueID"), 10, 64)
	if err != nil || id <= 0 {
		respond.Error(w, "invalid league id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
