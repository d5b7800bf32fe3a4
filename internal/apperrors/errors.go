// Package apperrors defines the error taxonomy shared by the domain,
// persistence and HTTP layers. Callers wrap these with fmt.Errorf("...: %w")
// and test them with errors.Is.
package apperrors

import (
	"errors"
	"net/http"
)

// Validation errors. Nothing has been mutated when one of these is returned.
var (
	// ErrValidation indicates malformed input: blank league name, bad date
	// range, unknown sort key and the like.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidQuantity indicates a trade quantity that is not a positive
	// whole number of shares.
	ErrInvalidQuantity = errors.New("quantity must be a positive whole number")

	// ErrZeroInitValue indicates a return was requested for a player whose
	// baseline value is zero.
	ErrZeroInitValue = errors.New("initial value is zero")
)

// Business rule errors.
var (
	// ErrInsufficientFunds indicates a buy whose total debit exceeds the
	// player's cash.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientShares indicates a sell of more shares than are held.
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrDuplicatePlayer indicates a player id already present in a league.
	ErrDuplicatePlayer = errors.New("player already in league")

	// ErrNotMember indicates an operation on a player outside the league.
	ErrNotMember = errors.New("player is not a league member")
)

// Lookup errors.
var (
	ErrNotFound        = errors.New("not found")
	ErrLeagueNotFound  = wrapNotFound("league not found")
	ErrPlayerNotFound  = wrapNotFound("player not found")
	ErrStockNotFound   = wrapNotFound("stock not found")
	ErrSessionNotFound = wrapNotFound("session balance not found")
)

// Infrastructure errors.
var (
	// ErrBackend indicates a persistence, network or market-data failure.
	ErrBackend = errors.New("backend failure")

	// ErrDecode indicates a stored row that is missing required fields or
	// holds values that violate entity invariants.
	ErrDecode = errors.New("decode failed")

	// ErrConflict indicates the stored row changed since it was read.
	ErrConflict = errors.New("concurrent modification")
)

type notFound struct{ msg string }

func (e *notFound) Error() string        { return e.msg }
func (e *notFound) Is(target error) bool { return target == ErrNotFound }

func wrapNotFound(msg string) error { return &notFound{msg: msg} }

// HTTPStatus maps an error from any layer to the status code the API
// responds with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNotMember):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicatePlayer), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrInsufficientShares),
		errors.Is(err, ErrZeroInitValue):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrBackend):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
