// Package ticker handles stock ticker normalization and validation.
package ticker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// tickerRegex matches exchange symbols by the uppercase convention:
// a leading letter followed by up to nine letters, digits, dots or dashes.
// Examples: AAPL, BRK.B, RDS-A
var tickerRegex = regexp.MustCompile(`^[A-Z][A-Z0-9.\-]{0,9}$`)

var ErrInvalidTicker = errors.New("ticker: invalid symbol")

// Normalize trims and upper-cases a user supplied symbol.
func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Parse normalizes and validates a ticker symbol.
func Parse(s string) (string, error) {
	t := Normalize(s)
	if !tickerRegex.MatchString(t) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTicker, s)
	}
	return t, nil
}
