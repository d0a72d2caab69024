package orchestrator

import (
	"context"
	"math"
	"math/rand"
	"regexp"
	"strconv"
	"time"

	"omnimem/internal/errs"
)

// RetryPolicy is the bounded exponential-backoff-with-jitter policy spec.md
// §4.9 names for external tool subprocess retries.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

var retryAfterPattern = regexp.MustCompile(`(?i)retry-after:\s*(\d+)`)

// retryAfterHint extracts a "retry-after: N" seconds hint from msg, if present.
func retryAfterHint(msg string) (time.Duration, bool) {
	m := retryAfterPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0, false
	}
	secs, err := strconv.Atoi(m[1])
	if err != nil || secs <= 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// backoffFor returns the exponential backoff for attempt (1-based),
// jittered to a uniformly random factor in [0.5, 1.5).
func backoffFor(policy RetryPolicy, attempt int) time.Duration {
	base := policy.InitialBackoff
	if base <= 0 {
		base = time.Second
	}
	cap := policy.MaxBackoff
	if cap <= 0 {
		cap = 8 * time.Second
	}
	delay := float64(base) * math.Pow(2, float64(attempt-1))
	if delay > float64(cap) {
		delay = float64(cap)
	}
	factor := 0.5 + rand.Float64()
	return time.Duration(delay * factor)
}

// WithToolRetry invokes fn up to policy.MaxAttempts times, retrying only
// when the failure classifies as transient (errs.IsTransientToolError) and
// sleeping between attempts for the longer of the computed backoff and any
// retry-after hint in the error text. Non-transient failures fail fast.
func WithToolRetry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (*ToolResult, error)) (*ToolResult, *errs.Error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if !errs.IsTransientToolError(err.Error()) {
			return nil, errs.Wrap(errs.KindPermanentExternal, "tool invocation failed", err)
		}
		if attempt == maxAttempts {
			break
		}

		delay := backoffFor(policy, attempt)
		if hint, ok := retryAfterHint(err.Error()); ok && hint > delay {
			delay = hint
		}
		select {
		case <-ctx.Done():
			return nil, errs.Wrap(errs.KindTransientExternal, "tool invocation cancelled", ctx.Err())
		case <-time.After(delay):
		}
	}
	return nil, errs.Wrap(errs.KindTransientExternal, "tool invocation exhausted retries", lastErr)
}
