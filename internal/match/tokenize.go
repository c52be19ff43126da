package match

import (
	"strings"
	"unicode"
)

// Tokenize lowercases the text and splits it on non-alphanumeric boundaries.
// No stemming and no fuzzy matching: a precision-over-recall choice, kept
// deliberately so matches stay explainable.
func Tokenize(text string) []string {
	lower := strings.ToLower(text)
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// keywordMatches reports whether a trigger keyword appears in the email.
// A plain ASCII keyword must match a whole token; "cat" does not match
// "catalog". Everything else falls back to a substring scan, which is what
// makes CJK keywords and multi-word phrases work: tokenization on
// non-alphanumeric boundaries cannot split CJK words, so "红灯" must be
// found inside the token "设备显示红灯报警".
func keywordMatches(tokens map[string]struct{}, lowerText, keyword string) bool {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	if kw == "" {
		return false
	}
	if isASCIIToken(kw) {
		_, ok := tokens[kw]
		return ok
	}
	if _, ok := tokens[kw]; ok {
		return true
	}
	return strings.Contains(lowerText, kw)
}

// isASCIIToken reports whether s would survive Tokenize as a single token:
// ASCII letters and digits only, no separators, no CJK.
func isASCIIToken(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII || (!unicode.IsLetter(r) && !unicode.IsDigit(r)) {
			return false
		}
	}
	return true
}

func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}
