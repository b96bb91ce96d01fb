package money

import (
	"fmt"
	"strconv"
	"strings"
)

// All amounts in the engine are int64 minor units (cents). This package
// only converts at the display and input edges.

// Currency is the SACCO's operating currency
const Currency = "KES"

// Format renders minor units as a human amount, e.g. 1234567 -> "KES 12,345.67"
func Format(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	whole := minor / 100
	cents := minor % 100
	return fmt.Sprintf("%s%s %s.%02d", sign, Currency, group(whole), cents)
}

// Parse converts a decimal string like "12345.67" to minor units.
// At most two decimal places are accepted.
func Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	wholePart := s
	centsPart := "0"
	if i := strings.IndexByte(s, '.'); i >= 0 {
		wholePart = s[:i]
		centsPart = s[i+1:]
		if len(centsPart) > 2 {
			return 0, fmt.Errorf("amount %q has more than two decimal places", s)
		}
		for len(centsPart) < 2 {
			centsPart += "0"
		}
	} else {
		centsPart = "00"
	}
	if wholePart == "" {
		wholePart = "0"
	}

	whole, err := strconv.ParseInt(wholePart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	cents, err := strconv.ParseInt(centsPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}

	minor := whole*100 + cents
	if neg {
		minor = -minor
	}
	return minor, nil
}

func group(n int64) string {
	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
