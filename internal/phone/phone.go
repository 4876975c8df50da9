// Package phone turns raw sender and channel identifiers into canonical
// E.164-like strings and masks them for logging.
package phone

import (
	"strings"
)

// Normalize keeps only digits and a single leading '+'. A '+' anywhere
// but the start is dropped, a missing '+' is added, and an input without
// any digit yields "".
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw) + 1)
	b.WriteByte('+')

	digits := 0
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			digits++
		}
	}

	if digits == 0 {
		return ""
	}
	return b.String()
}

const (
	maskPrefix = 4
	maskSuffix = 2
)

// Mask hides the middle of a phone number, keeping a short country-code
// sized prefix and the last two digits visible.
func Mask(p string) string {
	if p == "" {
		return ""
	}
	if len(p) <= maskPrefix+maskSuffix {
		return strings.Repeat("*", len(p))
	}
	return p[:maskPrefix] + strings.Repeat("*", len(p)-maskPrefix-maskSuffix) + p[len(p)-maskSuffix:]
}
