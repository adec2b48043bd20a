// Package phone normalizes phone numbers to the digits-only form used as the
// tenant-scoped contact key and expected by the provider APIs.
package phone

import "strings"

// Normalize strips everything except digits. "+55 (11) 98888-7777" and
// "5511988887777" normalize to the same key.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// E164 returns the number in +<digits> form.
func E164(raw string) string {
	n := Normalize(raw)
	if n == "" {
		return ""
	}
	return "+" + n
}

// Valid reports whether the normalized number has a plausible length.
func Valid(raw string) bool {
	n := Normalize(raw)
	return len(n) >= 7 && len(n) <= 15
}
