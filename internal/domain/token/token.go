// Package token normalizes and tokenizes query and document text. All query
// evaluation, synonym matching, and curation rule matching operate on the
// normalized form produced here.
package token

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks removes combining marks after NFKD decomposition, so that
// "Lauréna" and "laurena" normalize to the same token.
var stripMarks = transform.Chain(
	norm.NFKD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFKC,
)

// Normalize lowercases a single token and strips diacritics.
func Normalize(s string) string {
	out, _, err := transform.String(stripMarks, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// Tokenize splits text on non-alphanumeric boundaries and normalizes each
// token. Empty tokens are dropped.
func Tokenize(text string) []string {
	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			tokens = append(tokens, Normalize(b.String()))
			b.Reset()
		}
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// Join renders a token sequence back into a query string.
func Join(tokens []string) string {
	return strings.Join(tokens, " ")
}
