// Package phone normalizes phone numbers between the domestic form
// (leading zero) and the international E.164 form used as the account
// key. The country code is configurable; Korean mobile numbers are the
// primary case ("01012345678" <-> "+821012345678").
package phone

import (
	"errors"
	"strings"
)

var ErrInvalidNumber = errors.New("phone: not a recognizable number")

// Normalize converts raw input to the international form "+<digits>".
// Rules, in order:
//   - a leading "+" means the number is already international; only the
//     digits are kept;
//   - a leading "0" is the domestic prefix and is replaced with the
//     country code;
//   - a number that already starts with the country code digits gets a
//     "+" prepended;
//   - a bare domestic-length number (9..11 digits) gets the country
//     code prepended.
//
// Normalize is idempotent over its own output.
func Normalize(raw, countryCode string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || countryCode == "" {
		return "", ErrInvalidNumber
	}
	international := strings.HasPrefix(raw, "+")
	digits := digitsOnly(raw)
	if digits == "" {
		return "", ErrInvalidNumber
	}
	switch {
	case international:
		return "+" + digits, nil
	case strings.HasPrefix(digits, "0"):
		return "+" + countryCode + digits[1:], nil
	case strings.HasPrefix(digits, countryCode):
		return "+" + digits, nil
	case len(digits) >= 9 && len(digits) <= 11:
		return "+" + countryCode + digits, nil
	}
	return "", ErrInvalidNumber
}

// Domestic rewrites a normalized international number back to the
// domestic leading-zero form. Numbers that do not carry the given
// country code are returned with the "+" stripped only.
func Domestic(normalized, countryCode string) string {
	digits := strings.TrimPrefix(normalized, "+")
	if strings.HasPrefix(digits, countryCode) && len(digits) > len(countryCode) {
		return "0" + digits[len(countryCode):]
	}
	return digits
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
