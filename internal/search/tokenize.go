package search

import (
	"strings"
	"unicode"
)

// minTokenLen is the shortest token kept by Tokenize. Two-letter words count:
// "red mug on desk" against a clip tagged red and mug must score 2/4, which
// needs "on" in the query set.
const minTokenLen = 2

// Tokenize lower-cases s, splits it on whitespace and punctuation, and drops
// tokens shorter than minTokenLen. The result is a set.
func Tokenize(s string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if len([]rune(w)) >= minTokenLen {
			set[w] = struct{}{}
		}
	}
	return set
}
