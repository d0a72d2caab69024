package errs

import (
	"strings"

	"github.com/coregx/ahocorasick"
)

// Classifier does a single linear-time pass over a haystack (subprocess
// stderr/stdout, a Git error message) and reports which of several named
// pattern classes matched, in priority order. Both the sync daemon's Git
// error classifier and the orchestrator's transient-tool classifier are
// instances of this one mechanism, parameterized by different class lists,
// rather than duplicated ad-hoc substring scanning.
type Classifier struct {
	classes []classBucket
}

type classBucket struct {
	name     string
	ac       *ahocorasick.Automaton
	patterns []string
}

// ClassSpec names one classification bucket and the lowercase substrings
// that trigger it. Buckets are evaluated in the order given; the first
// bucket with a hit wins.
type ClassSpec struct {
	Name     string
	Patterns []string
}

// NewClassifier builds a Classifier from an ordered list of class specs.
func NewClassifier(specs []ClassSpec) *Classifier {
	c := &Classifier{classes: make([]classBucket, 0, len(specs))}
	for _, s := range specs {
		ac, err := ahocorasick.NewBuilder().
			AddStrings(s.Patterns).
			SetMatchKind(ahocorasick.LeftmostLongest).
			Build()
		if err != nil {
			// Pattern lists are literal string constants below; a build
			// failure here means the automaton itself can't be constructed,
			// not a bad input text. Fall back to a bucket that never
			// matches rather than panicking a caller mid-classification.
			continue
		}
		c.classes = append(c.classes, classBucket{name: s.Name, ac: ac, patterns: s.Patterns})
	}
	return c
}

// Classify returns the name of the first matching bucket, or fallback if
// none match.
func (c *Classifier) Classify(text string, fallback string) string {
	lower := []byte(strings.ToLower(text))
	for _, b := range c.classes {
		if len(b.ac.FindAllOverlapping(lower)) > 0 {
			return b.name
		}
	}
	return fallback
}

// SyncErrorClassifier classifies Git/sync subprocess failures into
// auth | network | conflict | unknown, per spec.md §4.10.
func SyncErrorClassifier() *Classifier {
	return NewClassifier([]ClassSpec{
		{Name: "auth", Patterns: []string{
			"authentication failed",
			"fatal: authentication",
			"bad credentials",
			"permission denied (publickey)",
			"could not read username",
			"access denied",
			"unauthorized",
		}},
		{Name: "network", Patterns: []string{
			"could not resolve host",
			"network is unreachable",
			"connection timed out",
			"connection reset",
			"failed to connect",
			"temporary failure",
			"name or service not known",
			"proxy error",
			"tls",
			"ssl",
		}},
		{Name: "conflict", Patterns: []string{
			"non-fast-forward",
			"merge conflict",
			"could not apply",
			"fetch first",
			"needs merge",
			"would be overwritten",
			"conflict",
		}},
	})
}

// SyncErrorRetryable reports whether a classified sync error kind should be
// retried. Auth and conflict failures need manual intervention.
func SyncErrorRetryable(kind string) bool {
	return kind == "network" || kind == "unknown"
}

// SyncErrorHint returns the operator-facing remediation hint for a sync
// error kind.
func SyncErrorHint(kind string) string {
	switch kind {
	case "auth":
		return "Authentication failed. Verify credential refs/token/SSH key and run sync again."
	case "network":
		return "Network issue detected. Check connectivity/DNS/proxy, then retry sync."
	case "conflict":
		return "Sync conflict detected. Run status, resolve Git conflicts, pull then push."
	case "unknown":
		return "Unknown sync failure. Inspect logs and Git status, then retry with conservative settings."
	}
	return ""
}

// ToolTransientClassifier classifies external agent-tool subprocess
// failures as transient (retryable) or not, per spec.md §4.9.
func ToolTransientClassifier() *Classifier {
	return NewClassifier([]ClassSpec{
		{Name: "transient", Patterns: []string{
			"rate limit",
			"rate-limit",
			"overloaded",
			"overload",
			"429",
			"503",
			"try again",
			"temporarily unavailable",
		}},
	})
}

// IsTransientToolError reports whether msg describes a transient external
// tool failure worth retrying.
func IsTransientToolError(msg string) bool {
	return ToolTransientClassifier().Classify(msg, "permanent") == "transient"
}
