package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockleague/league-engine/internal/apperrors"
	"github.com/stockleague/league-engine/internal/league"
	"github.com/stockleague/league-engine/internal/model"
	"github.com/stockleague/league-engine/internal/player"
	"github.com/stockleague/league-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type fixture struct {
	st       *store.MemoryStore
	leagueID int64
	aapl     model.Stock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()

	aapl := model.Stock{Name: "Apple Inc.", Ticker: "AAPL", Price: d(100)}
	if err := st.CreateStock(ctx, &aapl); err != nil {
		t.Fatalf("create stock: %v", err)
	}
	l, err := league.New("Spring Cup", time.Now(), nil, 30)
	if err != nil {
		t.Fatalf("new league: %v", err)
	}
	if err := st.CreateLeague(ctx, l); err != nil {
		t.Fatalf("create league: %v", err)
	}
	return fixture{st: st, leagueID: *l.ID, aapl: aapl}
}

func (f fixture) join(t *testing.T, uid string, cash float64) *player.Player {
	t.Helper()
	p, err := player.New(uid, "name-"+uid, d(cash), d(cash))
	if err != nil {
		t.Fatalf("new player: %v", err)
	}
	if err := f.st.AddMember(context.Background(), f.leagueID, p); err != nil {
		t.Fatalf("add member: %v", err)
	}
	return p
}

func TestCreateStock_AssignsIDAndRejectsDuplicateTicker(t *testing.T) {
	f := newFixture(t)
	if f.aapl.ID == 0 {
		t.Fatal("expected assigned stock id")
	}
	dup := model.Stock{Ticker: "AAPL"}
	if err := f.st.CreateStock(context.Background(), &dup); !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestGetStock_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.st.GetStock(context.Background(), 999)
	if !errors.Is(err, apperrors.ErrNotFound) || !errors.Is(err, apperrors.ErrStockNotFound) {
		t.Errorf("expected ErrStockNotFound, got %v", err)
	}
}

func TestAddMember_Duplicate(t *testing.T) {
	f := newFixture(t)
	f.join(t, "u1", 1000)
	p, _ := player.New("u1", "again", d(5), d(5))
	if err := f.st.AddMember(context.Background(), f.leagueID, p); !errors.Is(err, apperrors.ErrDuplicatePlayer) {
		t.Errorf("expected ErrDuplicatePlayer, got %v", err)
	}
}

func TestGetLeague_RosterInJoinOrder(t *testing.T) {
	f := newFixture(t)
	for _, uid := range []string{"u3", "u1", "u2"} {
		f.join(t, uid, 100)
	}
	l, err := f.st.GetLeague(context.Background(), f.leagueID)
	if err != nil {
		t.Fatalf("get league: %v", err)
	}
	var got []string
	for _, p := range l.Players() {
		got = append(got, p.ID)
	}
	if len(got) != 3 || got[0] != "u3" || got[1] != "u1" || got[2] != "u2" {
		t.Errorf("unexpected roster order %v", got)
	}
}

func TestCommitTrade_PersistsAndBumpsVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.join(t, "u1", 1000)

	p, err := f.st.GetPlayerForUpdate(ctx, f.leagueID, "u1")
	if err != nil {
		t.Fatalf("get player: %v", err)
	}
	_ = p.AddShares(f.aapl, 5)
	_ = p.SetCash(d(475))
	tx := &model.Transaction{Ref: "r1", Type: model.Buy, PlayerID: "u1", LeagueID: f.leagueID, StockID: f.aapl.ID}
	if err := f.st.CommitTrade(ctx, f.leagueID, p, tx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if tx.ID == 0 || p.Version != 1 {
		t.Errorf("expected tx id and version 1, got id=%d version=%d", tx.ID, p.Version)
	}

	reloaded, _ := f.st.GetPlayer(ctx, f.leagueID, "u1")
	if !reloaded.Cash().Equal(d(475)) || reloaded.Quantity(f.aapl) != 5 {
		t.Errorf("unexpected stored state cash=%s qty=%d", reloaded.Cash(), reloaded.Quantity(f.aapl))
	}
	txs, _ := f.st.ListTransactions(ctx, f.leagueID, "u1")
	if len(txs) != 1 || txs[0].Ref != "r1" {
		t.Errorf("expected one transaction, got %+v", txs)
	}
}

func TestCommitTrade_StaleVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.join(t, "u1", 1000)

	a, _ := f.st.GetPlayerForUpdate(ctx, f.leagueID, "u1")
	b, _ := f.st.GetPlayerForUpdate(ctx, f.leagueID, "u1")

	_ = a.SetCash(d(900))
	if err := f.st.UpdateCash(ctx, f.leagueID, a); err != nil {
		t.Fatalf("first write: %v", err)
	}
	_ = b.SetCash(d(1))
	err := f.st.CommitTrade(ctx, f.leagueID, b, &model.Transaction{Ref: "r2"})
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	stored, _ := f.st.GetPlayer(ctx, f.leagueID, "u1")
	if !stored.Cash().Equal(d(900)) {
		t.Errorf("stale write leaked: cash %s", stored.Cash())
	}
	if txs, _ := f.st.ListTransactions(ctx, f.leagueID, "u1"); len(txs) != 0 {
		t.Errorf("rejected trade was logged: %+v", txs)
	}
}

func TestCommitTrade_DuplicateRef(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.join(t, "u1", 1000)

	p, _ := f.st.GetPlayerForUpdate(ctx, f.leagueID, "u1")
	_ = p.SetCash(d(900))
	if err := f.st.CommitTrade(ctx, f.leagueID, p, &model.Transaction{Ref: "r1", PlayerID: "u1", LeagueID: f.leagueID}); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	_ = p.SetCash(d(800))
	err := f.st.CommitTrade(ctx, f.leagueID, p, &model.Transaction{Ref: "r1", PlayerID: "u1", LeagueID: f.leagueID})
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if p.Version != 1 {
		t.Errorf("version advanced on rejected commit: %d", p.Version)
	}
	if stored, _ := f.st.GetPlayer(ctx, f.leagueID, "u1"); !stored.Cash().Equal(d(900)) {
		t.Errorf("duplicate ref changed cash to %s", stored.Cash())
	}
	if txs, _ := f.st.ListTransactions(ctx, f.leagueID, "u1"); len(txs) != 1 {
		t.Errorf("expected one transaction, got %d", len(txs))
	}
}

func TestFailCommits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.join(t, "u1", 1000)
	f.st.FailCommits(apperrors.ErrBackend)

	p, _ := f.st.GetPlayerForUpdate(ctx, f.leagueID, "u1")
	if err := f.st.UpdateCash(ctx, f.leagueID, p); !errors.Is(err, apperrors.ErrBackend) {
		t.Errorf("expected ErrBackend, got %v", err)
	}
	if p.Version != 0 {
		t.Errorf("version advanced on failure: %d", p.Version)
	}
}

func TestUpdatePrices_FlowIntoLoadedHoldings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.join(t, "u1", 1000)

	p, _ := f.st.GetPlayerForUpdate(ctx, f.leagueID, "u1")
	_ = p.AddShares(f.aapl, 2)
	if err := f.st.CommitTrade(ctx, f.leagueID, p, &model.Transaction{Ref: "r"}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := f.st.UpdatePrices(ctx, map[int64]decimal.Decimal{f.aapl.ID: d(150), 999: d(1)}); err != nil {
		t.Fatalf("update prices: %v", err)
	}

	reloaded, _ := f.st.GetPlayer(ctx, f.leagueID, "u1")
	if !reloaded.TotalValue().Equal(d(1300)) {
		t.Errorf("expected 1000 + 2x150 = 1300, got %s", reloaded.TotalValue())
	}
}

func TestRemoveMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.join(t, "u1", 1000)

	if err := f.st.RemoveMember(ctx, f.leagueID, "u1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := f.st.GetPlayer(ctx, f.leagueID, "u1"); !errors.Is(err, apperrors.ErrPlayerNotFound) {
		t.Errorf("expected ErrPlayerNotFound, got %v", err)
	}
	if err := f.st.RemoveMember(ctx, f.leagueID, "u1"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("second removal: expected ErrNotFound, got %v", err)
	}
}

func TestListSnapshots_OldestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	for _, offset := range []time.Duration{20 * time.Second, 0, 10 * time.Second} {
		_ = f.st.InsertSnapshot(ctx, model.Snapshot{LeagueID: f.leagueID, PlayerID: "u1", Value: d(1), Taken: base.Add(offset)})
	}
	_ = f.st.InsertSnapshot(ctx, model.Snapshot{LeagueID: f.leagueID, PlayerID: "other", Taken: base})

	snaps, _ := f.st.ListSnapshots(ctx, f.leagueID, "u1")
	if len(snaps) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(snaps))
	}
	for i := 1; i < len(snaps); i++ {
		if snaps[i].Taken.Before(snaps[i-1].Taken) {
			t.Errorf("snapshots out of order at %d", i)
		}
	}
}
