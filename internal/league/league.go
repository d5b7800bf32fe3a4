// Package league implements the competition container: a roster of players
// unique by id and a date window.
//
// Dates are compared as UTC calendar dates. "Today" is the UTC date of the
// league's clock, so every device and server agrees on whether a date has
// passed regardless of its local offset.
package league

import (
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/stockleague/league-engine/internal/apperrors"
	"github.com/stockleague/league-engine/internal/player"
)

// DefaultNameMaxLen applies when no explicit limit is configured.
const DefaultNameMaxLen = 30

// League is a competition instance.
type League struct {
	ID        *int64
	Name      string
	StartDate time.Time
	EndDate   *time.Time

	players []*player.Player
	clock   func() time.Time
}

// Option configures a League.
type Option func(*League)

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *League) { l.clock = now }
}

// SetClock swaps the clock of a loaded league.
func (l *League) SetClock(now func() time.Time) { l.clock = now }

// New validates the name and builds an empty league. Date rules for new
// leagues are checked separately by ValidateNew so that leagues loaded from
// storage are not judged against today's date.
func New(name string, start time.Time, end *time.Time, maxNameLen int, opts ...Option) (*League, error) {
	if maxNameLen <= 0 {
		maxNameLen = DefaultNameMaxLen
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: league name is required", apperrors.ErrValidation)
	}
	if n := utf8.RuneCountInString(name); n > maxNameLen {
		return nil, fmt.Errorf("%w: league name has %d characters, limit is %d",
			apperrors.ErrValidation, n, maxNameLen)
	}
	return Hydrate(nil, name, start, end, nil, opts...), nil
}

// Hydrate rebuilds a league from stored state without validation.
func Hydrate(id *int64, name string, start time.Time, end *time.Time, players []*player.Player, opts ...Option) *League {
	l := &League{
		ID:        id,
		Name:      name,
		StartDate: Date(start),
		players:   slices.Clone(players),
		clock:     time.Now,
	}
	if end != nil {
		e := Date(*end)
		l.EndDate = &e
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Date truncates t to its UTC calendar date.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today is the current UTC calendar date by the league's clock.
func (l *League) Today() time.Time { return Date(l.clock()) }

// ValidateNew applies the creation rules: the league may not start in the
// past, and an end date must come after the start and not be in the past.
func (l *League) ValidateNew() error {
	today := l.Today()
	if l.StartDate.Before(today) {
		return fmt.Errorf("%w: start date %s is before today %s",
			apperrors.ErrValidation, l.StartDate.Format(time.DateOnly), today.Format(time.DateOnly))
	}
	if l.EndDate != nil && !l.validEnd(*l.EndDate) {
		return fmt.Errorf("%w: end date %s must be after start %s and not before today",
			apperrors.ErrValidation, l.EndDate.Format(time.DateOnly), l.StartDate.Format(time.DateOnly))
	}
	return nil
}

// Active reports whether today falls inside the league window.
func (l *League) Active() bool {
	today := l.Today()
	if today.Before(l.StartDate) {
		return false
	}
	return l.EndDate == nil || !today.After(*l.EndDate)
}

// Players returns the roster in join order.
func (l *League) Players() []*player.Player {
	return slices.Clone(l.players)
}

// Player looks up a member by id.
func (l *League) Player(id string) (*player.Player, bool) {
	if i := l.index(id); i >= 0 {
		return l.players[i], true
	}
	return nil, false
}

// IsMember reports whether a player with id is on the roster.
func (l *League) IsMember(id string) bool { return l.index(id) >= 0 }

// AddPlayer appends p unless a player with the same id is already present.
func (l *League) AddPlayer(p *player.Player) error {
	if l.IsMember(p.ID) {
		return fmt.Errorf("%w: %s", apperrors.ErrDuplicatePlayer, p.ID)
	}
	l.players = append(l.players, p)
	return nil
}

// RemovePlayer drops the player with id. It reports whether anything was removed.
func (l *League) RemovePlayer(id string) bool {
	i := l.index(id)
	if i < 0 {
		return false
	}
	l.players = slices.Delete(l.players, i, i+1)
	return true
}

// ModifyBalance sets the cash of the member with p's id. It fails, leaving
// state unchanged, when p is not a member or newCash is negative.
func (l *League) ModifyBalance(p *player.Player, newCash decimal.Decimal) bool {
	member, ok := l.Player(p.ID)
	if !ok || newCash.IsNegative() {
		return false
	}
	return member.SetCash(newCash) == nil
}

// ChangeEndDate moves the end date. The new date must not be before today
// and must be after the start date.
func (l *League) ChangeEndDate(newDate time.Time) bool {
	d := Date(newDate)
	if !l.validEnd(d) {
		return false
	}
	l.EndDate = &d
	return true
}

func (l *League) validEnd(d time.Time) bool {
	return !d.Before(l.Today()) && d.After(l.StartDate)
}

func (l *League) index(id string) int {
	return slices.IndexFunc(l.players, func(p *player.Player) bool { return p.ID == id })
}
