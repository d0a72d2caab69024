package retrieval

import (
	"strings"
	"unicode"

	"github.com/orsinium-labs/stopwords"
)

var enStopwords = stopwords.MustGet("en")

// Tokenize lowercases s and splits it into alphanumeric runs, treating
// each CJK codepoint as its own token (matching the reference
// implementation's token regex), then drops English stopwords so overlap
// scores reward content words.
func Tokenize(s string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		tok := strings.ToLower(cur.String())
		cur.Reset()
		if enStopwords.Contains(tok) {
			return
		}
		out = append(out, tok)
	}
	for _, r := range s {
		switch {
		case isCJK(r):
			flush()
			out = append(out, string(unicode.ToLower(r)))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return out
}

// isCJK reports whether r falls in a CJK unified-ideograph block, matching
// the original's treatment of CJK text as one-codepoint-per-token.
func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r)
}

// TokenSet returns the deduplicated token set of s.
func TokenSet(s string) map[string]struct{} {
	toks := Tokenize(s)
	out := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		out[t] = struct{}{}
	}
	return out
}

// TermFrequency returns a normalized token-frequency vector of s, used for
// topic-vector cosine similarity in the orchestrator.
func TermFrequency(s string) map[string]float64 {
	toks := Tokenize(s)
	if len(toks) == 0 {
		return map[string]float64{}
	}
	counts := make(map[string]float64, len(toks))
	for _, t := range toks {
		counts[t]++
	}
	for t := range counts {
		counts[t] /= float64(len(toks))
	}
	return counts
}
