package dedup

import (
	"strings"
	"unicode"
)

// leadingArticles are stripped from titles before comparison so "The Sea
// Wolf" and "Sea Wolf" normalize to the same key.
var leadingArticles = []string{"the ", "a ", "an "}

// NormalizeTitle lower-cases, strips punctuation and leading articles, and
// collapses whitespace. The same normalization must be applied to the
// catalog's normalized_title column at ingest time.
func NormalizeTitle(title string) string {
	s := normalize(title)
	for _, article := range leadingArticles {
		if strings.HasPrefix(s, article) {
			s = s[len(article):]
			break
		}
	}
	return s
}

// NormalizeAuthor lower-cases, strips punctuation, and collapses whitespace.
// "F. Scott Fitzgerald" and "f scott fitzgerald" normalize identically.
func NormalizeAuthor(author string) string {
	return normalize(author)
}

func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || r == '-' || r == ':' || r == '/':
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		default:
			// punctuation, drop
		}
	}
	return strings.TrimSpace(b.String())
}
