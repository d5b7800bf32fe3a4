package service

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/stockleague/league-engine/internal/leaderboard"
	"github.com/stockleague/league-engine/internal/league"
	"github.com/stockleague/league-engine/internal/player"
	"github.com/stockleague/league-engine/internal/respond"
)

// Handlers exposes the service over HTTP.
type Handlers struct {
	svc *Service
}

// NewHandlers creates the league HTTP handlers.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// Routes mounts the league and stock endpoints. Extra routes for a single
// league, such as trading, are mounted under /leagues/{leagueID} via
// leagueRoutes.
func (h *Handlers) Routes(r chi.Router, leagueRoutes ...func(chi.Router)) {
	r.Post("/leagues", h.CreateLeague)
	r.Get("/leagues", h.ListLeagues)
	r.Route("/leagues/{leagueID}", func(r chi.Router) {
		r.Get("/", h.GetLeague)
		r.Put("/end-date", h.ChangeEndDate)
		r.Get("/leaderboard", h.Leaderboard)
		r.Post("/players", h.Join)
		r.Delete("/players/{playerID}", h.Leave)
		r.Put("/players/{playerID}/cash", h.ModifyBalance)
		r.Get("/players/{playerID}/balance", h.SessionBalance)
		r.Get("/players/{playerID}/portfolio", h.Portfolio)
		r.Get("/players/{playerID}/allocation", h.Allocation)
		r.Get("/players/{playerID}/history", h.History)
		for _, mount := range leagueRoutes {
			mount(r)
		}
	})
	r.Post("/stocks", h.RegisterStock)
	r.Get("/stocks", h.ListStocks)
	r.Get("/stocks/{ticker}/series", h.PriceSeries)
}

// --- Request/Response types ---

// CreateLeagueRequest is the JSON body for POST /leagues. Dates use the
// YYYY-MM-DD form.
type CreateLeagueRequest struct {
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date,omitempty"`
}

// EndDateRequest is the JSON body for PUT /leagues/{leagueID}/end-date.
type EndDateRequest struct {
	EndDate string `json:"end_date"`
}

// JoinRequest is the JSON body for POST /leagues/{leagueID}/players.
type JoinRequest struct {
	UserID string `json:"uid"`
	Name   string `json:"name"`
}

// CashRequest is the JSON body for PUT .../players/{playerID}/cash.
type CashRequest struct {
	Cash decimal.Decimal `json:"cash"`
}

// StockRequest is the JSON body for POST /stocks.
type StockRequest struct {
	Name   string `json:"name"`
	Ticker string `json:"ticker"`
}

// LeagueResponse is the JSON form of a league.
type LeagueResponse struct {
	ID        int64            `json:"id"`
	Name      string           `json:"name"`
	StartDate string           `json:"start_date"`
	EndDate   *string          `json:"end_date"`
	Active    bool             `json:"active"`
	Players   []*player.Player `json:"players"`
}

func leagueResponse(l *league.League) LeagueResponse {
	resp := LeagueResponse{
		Name:      l.Name,
		StartDate: l.StartDate.Format(time.DateOnly),
		Active:    l.Active(),
		Players:   l.Players(),
	}
	if l.ID != nil {
		resp.ID = *l.ID
	}
	if l.EndDate != nil {
		end := l.EndDate.Format(time.DateOnly)
		resp.EndDate = &end
	}
	return resp
}

// --- HTTP Handlers ---

// CreateLeague handles POST /api/v1/leagues
func (h *Handlers) CreateLeague(w http.ResponseWriter, r *http.Request) {
	var req CreateLeagueRequest
	if !decode(w, r, &req) {
		return
	}
	start, err := time.Parse(time.DateOnly, req.StartDate)
	if err != nil {
		respond.Error(w, "start_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	in := CreateLeagueInput{Name: req.Name, StartDate: start}
	if req.EndDate != "" {
		end, err := time.Parse(time.DateOnly, req.EndDate)
		if err != nil {
			respond.Error(w, "end_date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		in.EndDate = &end
	}

	l, err := h.svc.CreateLeague(r.Context(), in)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, leagueResponse(l))
}

// ListLeagues handles GET /api/v1/leagues
func (h *Handlers) ListLeagues(w http.ResponseWriter, r *http.Request) {
	leagues, err := h.svc.ListLeagues(r.Context())
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	resp := make([]LeagueResponse, 0, len(leagues))
	for _, l := range leagues {
		resp = append(resp, leagueResponse(l))
	}
	respond.JSON(w, http.StatusOK, resp)
}

// GetLeague handles GET /api/v1/leagues/{leagueID}
func (h *Handlers) GetLeague(w http.ResponseWriter, r *http.Request) {
	id, ok := leagueParam(w, r)
	if !ok {
		return
	}
	l, err := h.svc.GetLeague(r.Context(), id)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, leagueResponse(l))
}

// ChangeEndDate handles PUT /api/v1/leagues/{leagueID}/end-date
func (h *Handlers) ChangeEndDate(w http.ResponseWriter, r *http.Request) {
	id, ok := leagueParam(w, r)
	if !ok {
		return
	}
	var req EndDateRequest
	if !decode(w, r, &req) {
		return
	}
	end, err := time.Parse(time.DateOnly, req.EndDate)
	if err != nil {
		respond.Error(w, "end_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	l, err := h.svc.ChangeEndDate(r.Context(), id, end)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, leagueResponse(l))
}

// Leaderboard handles GET /api/v1/leagues/{leagueID}/leaderboard?sort=VALUE
func (h *Handlers) Leaderboard(w http.ResponseWriter, r *http.Request) {
	id, ok := leagueParam(w, r)
	if !ok {
		return
	}
	by, err := leaderboard.ParseSortBy(r.URL.Query().Get("sort"))
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	standings, err := h.svc.Leaderboard(r.Context(), id, by)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, standings)
}

// Join handles POST /api/v1/leagues/{leagueID}/players
func (h *Handlers) Join(w http.ResponseWriter, r *http.Request) {
	id, ok := leagueParam(w, r)
	if !ok {
		return
	}
	var req JoinRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.svc.Join(r.Context(), id, req.UserID, req.Name)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, p)
}

// Leave handles DELETE /api/v1/leagues/{leagueID}/players/{playerID}
func (h *Handlers) Leave(w http.ResponseWriter, r *http.Request) {
	id, ok := leagueParam(w, r)
	if !ok {
		return
	}
	if err := h.svc.Leave(r.Context(), id, chi.URLParam(r, "playerID")); err != nil {
		respond.Err(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ModifyBalance handles PUT /api/v1/leagues/{leagueID}/players/{playerID}/cash
func (h *Handlers) ModifyBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := leagueParam(w, r)
	if !ok {
		return
	}
	var req CashRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.svc.ModifyBalance(r.Context(), id, chi.URLParam(r, "playerID"), req.Cash)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, p)
}

// SessionBalance handles GET /api/v1/leagues/{leagueID}/players/{playerID}/balance
func (h *Handlers) SessionBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := leagueParam(w, r)
	if !ok {
		return
	}
	b, err := h.svc.SessionBalance(r.Context(), id, chi.URLParam(r, "playerID"))
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, b)
}

// Portfolio handles GET /api/v1/leagues/{leagueID}/players/{playerID}/portfolio?sort=VALUE
func (h *Handlers) Portfolio(w http.ResponseWriter, r *http.Request) {
	id, ok := leagueParam(w, r)
	if !ok {
		return
	}
	by, err := player.ParsePortfolioSort(r.URL.Query().Get("sort"))
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	holdings, err := h.svc.Portfolio(r.Context(), id, chi.URLParam(r, "playerID"), by)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, holdings)
}

// Allocation handles GET /api/v1/leagues/{leagueID}/players/{playerID}/allocation?sort=VALUE
func (h *Handlers) Allocation(w http.ResponseWriter, r *http.Request) {
	id, ok := leagueParam(w, r)
	if !ok {
		return
	}
	by, err := player.ParsePortfolioSort(r.URL.Query().Get("sort"))
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	alloc, err := h.svc.Allocation(r.Context(), id, chi.URLParam(r, "playerID"), by)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, alloc)
}

// History handles GET /api/v1/leagues/{leagueID}/players/{playerID}/history
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	id, ok := leagueParam(w, r)
	if !ok {
		return
	}
	series, err := h.svc.History(r.Context(), id, chi.URLParam(r, "playerID"))
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, series)
}

// RegisterStock handles POST /api/v1/stocks
func (h *Handlers) RegisterStock(w http.ResponseWriter, r *http.Request) {
	var req StockRequest
	if !decode(w, r, &req) {
		return
	}
	st, err := h.svc.RegisterStock(r.Context(), req.Name, req.Ticker)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, st)
}

// ListStocks handles GET /api/v1/stocks
func (h *Handlers) ListStocks(w http.ResponseWriter, r *http.Request) {
	stocks, err := h.svc.ListStocks(r.Context())
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, stocks)
}

// PriceSeries handles GET /api/v1/stocks/{ticker}/series?from=YYYY-MM-DD&to=YYYY-MM-DD
// Missing bounds default to the last 30 days.
func (h *Handlers) PriceSeries(w http.ResponseWriter, r *http.Request) {
	to := h.svc.now().UTC()
	from := to.AddDate(0, 0, -30)
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			respond.Error(w, "from must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		from = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			respond.Error(w, "to must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		to = t
	}

	bars, err := h.svc.PriceSeries(r.Context(), chi.URLParam(r, "ticker"), from, to)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, bars)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respond.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func leagueParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "leagueID"), 10, 64)
	if err != nil || id <= 0 {
		respond.Error(w, "invalid league id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
