// Package money implements fixed-point currency arithmetic for the billing
// ledger. Amounts are integer minor units (cents), so repeated proportional
// splits never accumulate floating-point drift.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Amount is a currency value in minor units.
type Amount int64

// ErrMalformedAmount indicates an unparseable decimal string.
var ErrMalformedAmount = errors.New("money: malformed amount")

// FromUnits builds an Amount from major units and remaining cents.
func FromUnits(units int64, cents int64) Amount {
	return Amount(units*100 + cents)
}

// Parse reads a decimal string such as "120", "120.5" or "120.50".
// At most two fractional digits are accepted.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrMalformedAmount
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, ErrMalformedAmount
	}
	if whole == "" {
		whole = "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedAmount, s)
	}
	var cents int64
	switch len(frac) {
	case 0:
	case 1:
		cents, err = strconv.ParseInt(frac, 10, 64)
		cents *= 10
	case 2:
		cents, err = strconv.ParseInt(frac, 10, 64)
	default:
		return 0, fmt.Errorf("%w: %q has more than two decimals", ErrMalformedAmount, s)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedAmount, s)
	}
	a := Amount(units*100 + cents)
	if neg {
		a = -a
	}
	return a, nil
}

// String renders the amount as a plain decimal, e.g. "120.50".
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// IsNegative reports whether the amount is below zero.
func (a Amount) IsNegative() bool { return a < 0 }

// IsPositive reports whether the amount is above zero.
func (a Amount) IsPositive() bool { return a > 0 }

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool { return a == 0 }

// Min returns the smaller of two amounts.
func Min(a, b Amount) Amount {
	if a < b {
		return a
	}
	return b
}

// MarshalJSON encodes the amount as a decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either a decimal string or a bare number with up to
// two fractional digits.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Bare number in the payload; reuse the string parser.
		s = string(data)
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// SplitProportional distributes total across the given weights, keeping each
// share proportional to its weight. Division happens in int64 intermediates
// and the final share absorbs the rounding remainder, so the returned parts
// always sum to total exactly.
func SplitProportional(total Amount, weights []Amount) ([]Amount, error) {
	if len(weights) == 0 {
		return nil, errors.New("money: split requires at least one weight")
	}
	var sum Amount
	for _, w := range weights {
		if w < 0 {
			return nil, errors.New("money: negative split weight")
		}
		sum += w
	}
	if sum <= 0 {
		return nil, errors.New("money: split weights sum to zero")
	}
	parts := make([]Amount, len(weights))
	var allocated Amount
	for i, w := range weights {
		if i == len(weights)-1 {
			parts[i] = total - allocated
			break
		}
		share := Amount(int64(total) * int64(w) / int64(sum))
		parts[i] = share
		allocated += share
	}
	return parts, nil
}
