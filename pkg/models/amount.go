package models

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrBadAmount = errors.New("malformed amount")

// Amount is a monetary value in minor units (cents). All balance arithmetic
// is done in integer cents so equality comparisons are exact.
type Amount int64

// ParseAmount parses a decimal string such as "40", "40.5" or "40.50" into
// cents. At most two fractional digits are accepted.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrBadAmount)
	}

	neg := false
	if s[0] == '+' || s[0] == '-' {
		neg = s[0] == '-'
		s = s[1:]
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("%w: %q", ErrBadAmount, s)
	}
	if whole == "" {
		whole = "0"
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadAmount, s)
	}
	// Whole part must leave room for the cents multiplication plus up to
	// 99 fractional cents, or the conversion silently wraps.
	if w > (math.MaxInt64-99)/100 {
		return 0, fmt.Errorf("%w: %q is out of range", ErrBadAmount, s)
	}

	cents := w * 100
	if hasFrac {
		if len(frac) == 0 || len(frac) > 2 {
			return 0, fmt.Errorf("%w: %q has unsupported precision", ErrBadAmount, s)
		}
		f, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrBadAmount, s)
		}
		if len(frac) == 1 {
			f *= 10
		}
		cents += f
	}

	if neg {
		cents = -cents
	}
	return Amount(cents), nil
}

// AmountFromDollars converts a floating-point dollar value (the wire and
// sandbox-API representation) to cents, rounding half away from zero.
func AmountFromDollars(d float64) (Amount, error) {
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0, fmt.Errorf("%w: non-finite value", ErrBadAmount)
	}
	return Amount(math.Round(d * 100)), nil
}

// Dollars returns the amount as a floating-point dollar value for interfaces
// that require it (wire payload, sandbox API).
func (a Amount) Dollars() float64 {
	return float64(a) / 100
}

func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}
