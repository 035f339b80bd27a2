// Package isbn validates and normalizes book identifiers.
//
// Candidates arrive from an unreliable generator, so every identifier is
// checksum-validated before it can count against quota or reach the
// enrichment queue.
package isbn

import "strings"

// Normalize strips hyphens and spaces and upper-cases a trailing X.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == 'x' || r == 'X':
			b.WriteByte('X')
		case r == '-' || r == ' ':
			// separator, drop
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Valid reports whether raw is a checksum-valid ISBN-10 or ISBN-13.
func Valid(raw string) bool {
	s := Normalize(raw)
	switch len(s) {
	case 10:
		return validISBN10(s)
	case 13:
		return validISBN13(s)
	default:
		return false
	}
}

// ToISBN13 normalizes raw and converts a valid ISBN-10 to its ISBN-13 form.
// Returns the normalized identifier and whether it was valid.
func ToISBN13(raw string) (string, bool) {
	s := Normalize(raw)
	switch len(s) {
	case 13:
		if !validISBN13(s) {
			return "", false
		}
		return s, true
	case 10:
		if !validISBN10(s) {
			return "", false
		}
		core := "978" + s[:9]
		return core + string(rune('0'+isbn13CheckDigit(core))), true
	default:
		return "", false
	}
}

func validISBN10(s string) bool {
	sum := 0
	for i := 0; i < 10; i++ {
		c := s[i]
		var v int
		switch {
		case c >= '0' && c <= '9':
			v = int(c - '0')
		case c == 'X' && i == 9:
			v = 10
		default:
			return false
		}
		sum += v * (10 - i)
	}
	return sum%11 == 0
}

func validISBN13(s string) bool {
	for i := 0; i < 13; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	if s[:3] != "978" && s[:3] != "979" {
		return false
	}
	return isbn13CheckDigit(s[:12]) == int(s[12]-'0')
}

// isbn13CheckDigit computes the check digit for the first 12 digits.
func isbn13CheckDigit(first12 string) int {
	sum := 0
	for i := 0; i < 12; i++ {
		v := int(first12[i] - '0')
		if i%2 == 1 {
			v *= 3
		}
		sum += v
	}
	return (10 - sum%10) % 10
}
