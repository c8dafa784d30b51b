package kernel

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// tokenize lowercases the input and splits it into tokens: runs of Latin
// letters and digits become one token each, while every Han rune is its own
// token since Chinese text carries no word boundaries.
func tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

// tokenSet returns the distinct tokens of s.
func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range tokenize(s) {
		set[tok] = struct{}{}
	}
	return set
}

// jaccard computes set similarity of two token sets. Two empty sets are
// treated as dissimilar, not identical, so blank text never matches anything.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// tokenWeight caps the scoring contribution of a single token.
const tokenWeight = 8

// lexicalScore sums the capped rune length of every request token found in
// the item text. Both sides are matched lowercase.
func lexicalScore(requestTokens []string, itemText string) int {
	lowered := strings.ToLower(itemText)
	score := 0
	for _, tok := range requestTokens {
		if strings.Contains(lowered, tok) {
			w := utf8.RuneCountInString(tok)
			if w > tokenWeight {
				w = tokenWeight
			}
			score += w
		}
	}
	return score
}

// containsCJK reports whether s contains any Han rune. Used to pick the
// language of canned replies and clarification questions.
func containsCJK(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

// pick returns zh when the request is Chinese, en otherwise.
func pick(request, zh, en string) string {
	if containsCJK(request) {
		return zh
	}
	return en
}

// truncateRunes shortens s to at most n runes.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
