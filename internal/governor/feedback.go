package governor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"omnimem/internal/errs"
	"omnimem/internal/logging"
	"omnimem/internal/model"
	"omnimem/internal/store"
)

// ReuseLimiter bounds the unconditional "was retrieved" reuse_count bump to
// at most maxPerPeriod increments per memory per rolling period, tracked
// in-memory and reset on process restart. spec.md §9 flags unconditional
// reuse bumping as a feedback-loop risk; explicit feedback events
// (positive/negative/correct/forget) bypass this limiter entirely — only
// the automatic retrieval-driven bump is rate-limited.
type ReuseLimiter struct {
	mu           sync.Mutex
	window       map[string][]time.Time
	maxPerPeriod int
	period       time.Duration
}

// NewReuseLimiter returns a limiter allowing at most maxPerPeriod bumps per
// memory id within a rolling period.
func NewReuseLimiter(maxPerPeriod int, period time.Duration) *ReuseLimiter {
	if maxPerPeriod <= 0 {
		maxPerPeriod = 3
	}
	if period <= 0 {
		period = time.Hour
	}
	return &ReuseLimiter{window: map[string][]time.Time{}, maxPerPeriod: maxPerPeriod, period: period}
}

// Allow reports whether id may be bumped now, recording the attempt if so.
func (l *ReuseLimiter) Allow(id string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := now.Add(-l.period)
	kept := l.window[id][:0]
	for _, t := range l.window[id] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.maxPerPeriod {
		l.window[id] = kept
		return false
	}
	l.window[id] = append(kept, now)
	return true
}

// BumpReuseFromRetrieval increments id's reuse_count by step when the
// limiter still has budget for it this period; returns false (no error)
// when the bump was suppressed by rate limiting.
func BumpReuseFromRetrieval(ctx context.Context, st *store.Store, limiter *ReuseLimiter, id string, step int) (bool, *errs.Error) {
	now := model.UTCNow()
	if !limiter.Allow(id, now) {
		return false, nil
	}
	mem, gerr := st.Rel.GetMemory(ctx, id)
	if gerr != nil {
		return false, gerr
	}
	if mem == nil {
		return false, nil
	}
	sig := mem.Signals
	sig.ReuseCount += step
	if _, uerr := st.UpdateSignals(ctx, id, sig, model.EventRetrieve, "retrieval selection reuse bump"); uerr != nil {
		return false, uerr
	}
	return true, nil
}

// ApplyFeedback applies an explicit, never rate-limited feedback event to a
// memory's signals: positive feedback reinforces importance/confidence and
// counts as a use; negative feedback erodes confidence and raises
// volatility; correct feedback restores confidence and stability; forget
// feedback retires the memory straight to the archive layer. The feedback
// note is carried in the logged event's payload rather than mutating the
// immutable markdown body.
func ApplyFeedback(ctx context.Context, st *store.Store, id string, kind model.FeedbackKind, note string) (*model.Envelope, *errs.Error) {
	timer := logging.StartTimer(logging.CategoryFeedback, "apply-feedback")
	defer timer.Stop()

	if !kind.Valid() {
		return nil, errs.New(errs.KindInvalidArgument, fmt.Sprintf("unknown feedback kind: %q", kind))
	}
	mem, gerr := st.Rel.GetMemory(ctx, id)
	if gerr != nil {
		return nil, gerr
	}
	if mem == nil {
		return nil, errs.New(errs.KindNotFound, "memory not found: "+id)
	}

	reason := fmt.Sprintf("feedback:%s: %s", kind, note)
	sig := mem.Signals

	switch kind {
	case model.FeedbackPositive:
		sig.Importance = clamp01(sig.Importance + 0.05)
		sig.Confidence = clamp01(sig.Confidence + 0.05)
		sig.ReuseCount++
	case model.FeedbackNegative:
		sig.Confidence = clamp01(sig.Confidence - 0.1)
		sig.Volatility = clamp01(sig.Volatility + 0.05)
	case model.FeedbackCorrect:
		sig.Confidence = clamp01(sig.Confidence + 0.2)
		sig.Stability = clamp01(sig.Stability + 0.1)
	case model.FeedbackForget:
		sig.Importance = 0
		sig.Confidence = 0
	}

	if _, uerr := st.UpdateSignals(ctx, id, sig, model.EventFeedback, reason); uerr != nil {
		return nil, uerr
	}
	if kind == model.FeedbackForget {
		return st.UpdateLayer(ctx, id, model.LayerArchive, model.EventFeedback, reason)
	}
	updated, gerr2 := st.Rel.GetMemory(ctx, id)
	if gerr2 != nil {
		return nil, gerr2
	}
	return &updated.Envelope, nil
}
