// Package amount converts between user-facing decimal strings and the
// integer base unit the firewall engine accounts in. One whole unit of
// the asset equals 10^9 base units; the engine and the store only ever
// see base units.
package amount

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// BaseUnitsPerWhole is the fixed scale factor of the asset.
	BaseUnitsPerWhole uint64 = 1_000_000_000

	fractionalDigits = 9
)

var ErrMalformed = errors.New("amount must be a decimal with at most nine fractional digits")

// Parse converts a decimal string such as "0.05" into base units.
// Accepted form: digits, optionally followed by a dot and up to nine
// fractional digits. No sign, no exponent, no grouping.
func Parse(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrMalformed
	}
	whole := s
	frac := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
		if strings.IndexByte(frac, '.') >= 0 {
			return 0, ErrMalformed
		}
	}
	if whole == "" || !digitsOnly(whole) || !digitsOnly(frac) {
		return 0, ErrMalformed
	}
	if len(frac) > fractionalDigits {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	wholeVal, err := strconv.ParseUint(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	fracVal := uint64(0)
	if frac != "" {
		padded := frac + strings.Repeat("0", fractionalDigits-len(frac))
		fracVal, err = strconv.ParseUint(padded, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrMalformed, s)
		}
	}
	if wholeVal > (math.MaxUint64-fracVal)/BaseUnitsPerWhole {
		return 0, errors.New("amount overflows the base-unit representation")
	}
	return wholeVal*BaseUnitsPerWhole + fracVal, nil
}

// Format renders base units as a decimal string with trailing zeros
// trimmed, e.g. 50_000_000 -> "0.05".
func Format(base uint64) string {
	whole := base / BaseUnitsPerWhole
	frac := base % BaseUnitsPerWhole
	if frac == 0 {
		return strconv.FormatUint(whole, 10)
	}
	fracStr := strings.TrimRight(fmt.Sprintf("%09d", frac), "0")
	return strconv.FormatUint(whole, 10) + "." + fracStr
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
