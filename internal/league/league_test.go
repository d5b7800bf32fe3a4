package league_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockleague/league-engine/internal/apperrors"
	"github.com/stockleague/league-engine/internal/league"
	"github.com/stockleague/league-engine/internal/player"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var now = time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)

func clock() time.Time { return now }

func day(y int, m time.Month, dd int) time.Time {
	return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
}

func newLeague(t *testing.T, start time.Time) *league.League {
	t.Helper()
	l, err := league.New("Spring Cup", start, nil, 30, league.WithClock(clock))
	if err != nil {
		t.Fatalf("failed to build league: %v", err)
	}
	return l
}

func newPlayer(t *testing.T, id string, cash float64) *player.Player {
	t.Helper()
	p, err := player.New(id, "name-"+id, d(1000), d(cash))
	if err != nil {
		t.Fatalf("failed to build player: %v", err)
	}
	return p
}

// --- Creation ---

func TestNew_NameRules(t *testing.T) {
	for _, name := range []string{"", "   ", strings.Repeat("x", 31)} {
		if _, err := league.New(name, now, nil, 30); !errors.Is(err, apperrors.ErrValidation) {
			t.Errorf("name %q: expected ErrValidation, got %v", name, err)
		}
	}
	l, err := league.New("  Trim Me  ", now, nil, 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Name != "Trim Me" {
		t.Errorf("expected trimmed name, got %q", l.Name)
	}
	if _, err := league.New(strings.Repeat("é", 30), now, nil, 30); err != nil {
		t.Errorf("30 runes should be accepted: %v", err)
	}
}

func TestValidateNew(t *testing.T) {
	yesterday := day(2026, 3, 9)
	tomorrow := day(2026, 3, 11)

	if err := newLeague(t, now).ValidateNew(); err != nil {
		t.Errorf("league starting today should be valid: %v", err)
	}
	if err := newLeague(t, yesterday).ValidateNew(); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("league starting yesterday: expected ErrValidation, got %v", err)
	}

	end := tomorrow
	l, _ := league.New("x", tomorrow, &end, 30, league.WithClock(clock))
	if err := l.ValidateNew(); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("end == start: expected ErrValidation, got %v", err)
	}
}

func TestHydrate_DoesNotValidateDates(t *testing.T) {
	id := int64(7)
	past := day(2020, 1, 1)
	end := day(2020, 2, 1)
	l := league.Hydrate(&id, "Old", past, &end, nil, league.WithClock(clock))
	if l.Active() {
		t.Error("finished league should not be active")
	}
	if *l.ID != 7 {
		t.Errorf("expected id 7, got %d", *l.ID)
	}
}

// --- Membership ---

func TestAddPlayer_RejectsDuplicateID(t *testing.T) {
	l := newLeague(t, now)
	if err := l.AddPlayer(newPlayer(t, "u1", 100)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.AddPlayer(newPlayer(t, "u1", 500)); !errors.Is(err, apperrors.ErrDuplicatePlayer) {
		t.Errorf("expected ErrDuplicatePlayer, got %v", err)
	}
	if len(l.Players()) != 1 {
		t.Errorf("expected 1 player, got %d", len(l.Players()))
	}
}

func TestRemovePlayer(t *testing.T) {
	l := newLeague(t, now)
	_ = l.AddPlayer(newPlayer(t, "u1", 100))
	_ = l.AddPlayer(newPlayer(t, "u2", 100))

	if !l.RemovePlayer("u1") {
		t.Error("expected removal of u1")
	}
	if l.RemovePlayer("ghost") {
		t.Error("removing an absent player should be a no-op")
	}
	if l.IsMember("u1") || !l.IsMember("u2") {
		t.Error("unexpected roster after removal")
	}
}

// --- Balance ---

func TestModifyBalance(t *testing.T) {
	l := newLeague(t, now)
	member := newPlayer(t, "u1", 100)
	_ = l.AddPlayer(member)

	if !l.ModifyBalance(member, d(250)) {
		t.Fatal("expected balance change to succeed")
	}
	if !member.Cash().Equal(d(250)) {
		t.Errorf("expected cash 250, got %s", member.Cash())
	}

	if l.ModifyBalance(member, d(-1)) {
		t.Error("negative cash must be rejected")
	}
	if !member.Cash().Equal(d(250)) {
		t.Errorf("cash changed on rejected update: %s", member.Cash())
	}

	stranger := newPlayer(t, "u9", 100)
	if l.ModifyBalance(stranger, d(50)) {
		t.Error("non-member must be rejected")
	}
	if !stranger.Cash().Equal(d(100)) {
		t.Errorf("non-member cash changed: %s", stranger.Cash())
	}

	if !l.ModifyBalance(member, decimal.Zero) {
		t.Error("zero cash is allowed")
	}
}

// --- Dates ---

func TestChangeEndDate(t *testing.T) {
	start := day(2026, 3, 1)
	l := league.Hydrate(nil, "x", start, nil, nil, league.WithClock(clock))

	if l.ChangeEndDate(day(2026, 3, 9)) {
		t.Error("date before today must be rejected")
	}
	if l.EndDate != nil {
		t.Error("rejected change must not mutate")
	}
	if !l.ChangeEndDate(day(2026, 3, 10)) {
		t.Error("today is an acceptable end date")
	}
	if !l.ChangeEndDate(day(2026, 4, 1).Add(13 * time.Hour)) {
		t.Error("future date after start should be accepted")
	}
	if !l.EndDate.Equal(day(2026, 4, 1)) {
		t.Errorf("end date should be truncated to calendar date, got %s", l.EndDate)
	}
}

func TestChangeEndDate_NotAfterStart(t *testing.T) {
	start := day(2026, 5, 1)
	l := league.Hydrate(nil, "x", start, nil, nil, league.WithClock(clock))

	if l.ChangeEndDate(start) {
		t.Error("end date equal to start must be rejected")
	}
	if l.ChangeEndDate(day(2026, 4, 20)) {
		t.Error("end date before start must be rejected")
	}
	if !l.ChangeEndDate(day(2026, 5, 2)) {
		t.Error("day after start should be accepted")
	}
}

func TestToday_UsesUTCDate(t *testing.T) {
	// 23:30 at UTC-5 is already the next day in UTC.
	est := time.FixedZone("EST", -5*3600)
	late := time.Date(2026, 3, 10, 23, 30, 0, 0, est)
	l := league.Hydrate(nil, "x", day(2026, 1, 1), nil, nil, league.WithClock(func() time.Time { return late }))

	if !l.Today().Equal(day(2026, 3, 11)) {
		t.Errorf("expected UTC date 2026-03-11, got %s", l.Today())
	}
	if l.ChangeEndDate(day(2026, 3, 10)) {
		t.Error("2026-03-10 is yesterday in UTC and must be rejected")
	}
}
