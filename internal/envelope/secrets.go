package envelope

import (
	"regexp"
	"strings"

	"github.com/coregx/ahocorasick"
)

// phraseMatcher does a single linear-time pass looking for marker phrases
// that precede a secret value ("password:", "authorization: bearer …").
// Shape-based secrets without a preceding marker (bare API keys, PEM
// blocks, JWTs) are caught separately by shapePatterns.
var phraseMatcher = mustBuildMatcher([]string{
	"authorization: bearer",
	"password:",
	"password=",
	"secret:",
	"secret=",
	"private key",
	"-----begin",
	"api_key=",
	"api-key:",
	"apikey=",
})

func mustBuildMatcher(patterns []string) *ahocorasick.Automaton {
	ac, err := ahocorasick.NewBuilder().
		AddStrings(patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		Build()
	if err != nil {
		panic("envelope: building secret-phrase automaton: " + err.Error())
	}
	return ac
}

// shapePatterns catches secret-shaped literals that don't need a preceding
// marker phrase: long high-entropy-looking key strings, JWTs, PEM headers.
var shapePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bsk-[a-zA-Z0-9]{20,}\b`),           // OpenAI/Anthropic-style API key
	regexp.MustCompile(`\bghp_[a-zA-Z0-9]{30,}\b`),               // GitHub PAT
	regexp.MustCompile(`\beyJ[a-zA-Z0-9_\-]{10,}\.[a-zA-Z0-9_\-]{10,}\.[a-zA-Z0-9_\-]{10,}\b`), // JWT
	regexp.MustCompile(`(?i)-----BEGIN [A-Z ]*PRIVATE KEY-----`),
	regexp.MustCompile(`(?i)\bAKIA[0-9A-Z]{16}\b`), // AWS access key id
}

// ScanSecrets reports whether summary or body contains a secret-looking
// substring, and if so which field. cred_refs (env://KEY, op://vault/...)
// are not scanned; they are references, not secrets.
func ScanSecrets(summary, body string) (hit bool, field string) {
	if scanOne(summary) {
		return true, "summary"
	}
	if scanOne(body) {
		return true, "body"
	}
	return false, ""
}

func scanOne(text string) bool {
	lower := strings.ToLower(text)
	if len(phraseMatcher.FindAllOverlapping([]byte(lower))) > 0 {
		return true
	}
	for _, re := range shapePatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// IsCredRef reports whether s is a well-formed credential reference
// (env://KEY or op://vault/item/field), never a raw secret.
func IsCredRef(s string) bool {
	return strings.HasPrefix(s, "env://") || strings.HasPrefix(s, "op://")
}
