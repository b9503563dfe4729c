package flow

import (
	"strings"
	"unicode"
)

// Length bounds for tolerant answer matching. A reply at or above
// looseMatchMax is treated as free text even if it contains a letter.
const (
	prefixMatchMax = 10
	looseMatchMax  = 20
)

// ExtractLetter pulls a single option letter out of a reply such as "b",
// "C )" or "Answer: D". valid lists the accepted letters in upper case.
//
// Rules, in order, on the upper-cased trimmed reply:
//  1. the whole reply is a valid letter;
//  2. shorter than prefixMatchMax, starts with a valid letter not followed by
//     another letter ("A)", "B.");
//  3. shorter than looseMatchMax, some standalone word is a valid letter.
func ExtractLetter(message string, valid []string) (string, bool) {
	s := strings.ToUpper(strings.TrimSpace(message))
	if s == "" {
		return "", false
	}
	isValid := func(l string) bool {
		for _, v := range valid {
			if v == l {
				return true
			}
		}
		return false
	}

	if isValid(s) {
		return s, true
	}

	runes := []rune(s)
	if len(runes) < prefixMatchMax {
		first := string(runes[0])
		if isValid(first) && (len(runes) == 1 || !unicode.IsLetter(runes[1])) {
			return first, true
		}
	}

	if len(runes) < looseMatchMax {
		words := strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) })
		for _, w := range words {
			if isValid(w) {
				return w, true
			}
		}
	}
	return "", false
}
