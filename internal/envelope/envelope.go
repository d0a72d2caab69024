// Package envelope builds the per-memory envelope (metadata + markdown
// body + content hash) and enforces the integrity and policy invariants
// from spec.md §4.1: unknown enum values, malformed references and
// secret-looking content are all rejected before anything is written.
package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"omnimem/internal/errs"
	"omnimem/internal/model"
)

// Input is everything the caller supplies to build a new envelope.
type Input struct {
	Layer      model.Layer
	Kind       model.Kind
	Summary    string
	Body       string
	Tags       []string
	Refs       []model.Reference
	CredRefs   []string
	Source     model.Source
	Scope      model.Scope
	Importance float64
	Confidence float64
	Stability  float64
	ReuseCount int
	Volatility float64
}

// Built is the result of a successful Build: the envelope plus the exact
// markdown bytes that must be written to BodyMDPath.
type Built struct {
	Envelope   model.Envelope
	MDContents string
}

// Build validates in and assembles a fully-populated envelope. mdRelPath is
// the relative path (layer/YYYY/MM/id.md) the caller has already chosen for
// the body file.
func Build(id string, when time.Time, mdRelPath string, in Input) (*Built, *errs.Error) {
	if !in.Layer.Valid() {
		return nil, errs.New(errs.KindInvalidArgument, fmt.Sprintf("unknown layer: %q", in.Layer))
	}
	if !in.Kind.Valid() {
		return nil, errs.New(errs.KindInvalidArgument, fmt.Sprintf("unknown kind: %q", in.Kind))
	}
	if in.Kind == model.KindRetrieve && in.Layer != model.LayerInstant {
		return nil, errs.New(errs.KindInvalidArgument, "kind=retrieve memories must be layer=instant")
	}
	for _, r := range in.Refs {
		if err := validateRef(r); err != nil {
			return nil, err
		}
	}

	md := "# " + in.Summary + "\n\n" + strings.TrimSpace(in.Body) + "\n"

	if hit, field := ScanSecrets(in.Summary, md); hit {
		return nil, errs.New(errs.KindPolicyDenied, fmt.Sprintf("secret-looking content detected in %s", field)).
			WithHint("Remove raw secrets and use a cred_ref (env://KEY or op://vault/item/field) instead.")
	}

	sum := sha256.Sum256([]byte(md))
	createdAt := when.UTC().Truncate(time.Second)

	env := model.Envelope{
		ID:            id,
		SchemaVersion: model.SchemaVersion,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
		Layer:         in.Layer,
		Kind:          in.Kind,
		Summary:       in.Summary,
		BodyMDPath:    mdRelPath,
		Tags:          dedupeOrdered(in.Tags),
		Refs:          in.Refs,
		Signals: model.Signals{
			Importance: clamp01(in.Importance),
			Confidence: clamp01(in.Confidence),
			Stability:  clamp01(in.Stability),
			ReuseCount: max0(in.ReuseCount),
			Volatility: clamp01(in.Volatility),
		},
		CredRefs: in.CredRefs,
		Source:   in.Source,
		Scope:    in.Scope,
		Integrity: model.Integrity{
			ContentSHA256:   hex.EncodeToString(sum[:]),
			EnvelopeVersion: 1,
		},
	}

	return &Built{Envelope: env, MDContents: md}, nil
}

func validateRef(r model.Reference) *errs.Error {
	if strings.TrimSpace(r.Type) == "" || strings.TrimSpace(r.Target) == "" {
		return errs.New(errs.KindInvalidArgument, fmt.Sprintf("malformed reference: %+v", r))
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func max0(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func dedupeOrdered(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
