// Package daemon implements the background sync and maintenance loop:
// pulling and pushing the Git-backed markdown/JSONL mirror, running the
// link weaver across projects, and driving the lifecycle governor's
// maintenance pass on a schedule, per spec.md §4.10.
package daemon

import (
	"time"

	"omnimem/internal/governor"
	"omnimem/internal/store"
	"omnimem/internal/weaver"
)

// RunResult is one attempted operation's outcome within a cycle: a Git
// pull, a Git push, or a retry-wrapped attempt at either.
type RunResult struct {
	Attempted bool
	OK        bool
	ErrorKind string
	Hint      string
	Attempts  int
	Output    string
}

// CycleReport summarizes one full daemon cycle: pull, reindex, push
// decision, weave, and maintenance, mirroring the reference daemon's
// per-cycle result dict.
type CycleReport struct {
	StartedAt   time.Time
	FinishedAt  time.Time
	Pull        RunResult
	Reindex     *store.ReindexReport
	PushAttempt bool
	Push        RunResult
	Weave       *weaver.Report
	Maintenance *governor.MaintenanceReport
	Errors      []string
}

// Duration returns how long the cycle took.
func (c CycleReport) Duration() time.Duration {
	return c.FinishedAt.Sub(c.StartedAt)
}
