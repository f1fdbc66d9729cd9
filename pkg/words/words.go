// Package words turns question titles into the set of short words that the
// ranking query aggregates over.
package words

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// MinLen and MaxLen bound the length, in runes, of a kept word.
	MinLen = 1
	MaxLen = 4
)

// Normalize lowercases title, removes every rune that is neither a letter nor
// whitespace, and collapses whitespace runs into single spaces.
func Normalize(title string) string {
	// A Caser is stateful, so each call gets its own.
	lower := cases.Lower(language.Und).String(title)
	letters := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, lower)
	return strings.Join(strings.Fields(letters), " ")
}

// Extract returns the distinct words of title that are MinLen to MaxLen runes
// long, in order of first appearance. Digits and punctuation never survive;
// "C++ is Great!!" yields [c is]. There is no stemming and no stop-word list.
func Extract(title string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, w := range strings.Split(Normalize(title), " ") {
		n := utf8.RuneCountInString(w)
		if n < MinLen || n > MaxLen {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}
