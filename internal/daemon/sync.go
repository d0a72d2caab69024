package daemon

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"

	"omnimem/internal/errs"
	"omnimem/internal/paths"
)

// SyncMode names one of the Git-backed sync operations, mirroring
// sync_placeholder's mode argument.
type SyncMode string

const (
	SyncModeStatus SyncMode = "github-status"
	SyncModePush   SyncMode = "github-push"
	SyncModePull   SyncMode = "github-pull"
)

// RetryPolicy bounds RunSyncWithRetry's attempts. Unlike the orchestrator's
// jittered tool retry, sync retry is a plain capped exponential doubling,
// matching daemon.py's run_sync_with_retry.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialBackoff < time.Second {
		p.InitialBackoff = time.Second
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

// syncPaths returns the repo-relative paths runSyncOnce stages for a push,
// mirroring sync_git's sync_include_layers/sync_include_jsonl filtering:
// only the markdown subtrees named in includeLayers are staged, plus the
// JSONL event-log tree when includeJSONL is set. An empty includeLayers
// falls back to staging the whole markdown root, matching sync_git's
// behavior when sync_include_layers is None.
func syncPaths(p paths.Paths, includeLayers []string, includeJSONL bool) []string {
	var add []string
	if len(includeLayers) == 0 {
		add = append(add, p.MarkdownRoot)
	} else {
		for _, layer := range includeLayers {
			add = append(add, filepath.Join(p.MarkdownRoot, layer))
		}
	}
	if includeJSONL {
		add = append(add, p.JSONLRoot)
	}
	return add
}

// runSyncOnce performs a single Git sync operation against root, mirroring
// sync_placeholder's git/github-status/github-push/github-pull branches.
func runSyncOnce(ctx context.Context, git GitRunner, p paths.Paths, mode SyncMode, remoteName, remoteURL, branch, commitMessage string, includeLayers []string, includeJSONL bool) RunResult {
	root := p.Root
	if err := ensureGitRepo(ctx, git, root); err != nil {
		return failedRun(err)
	}

	switch mode {
	case SyncModeStatus:
		out, err := repoStatusShort(ctx, git, root)
		if err != nil {
			return failedRun(err)
		}
		return RunResult{Attempted: true, OK: true, Output: out}

	case SyncModePush:
		if err := ensureRemote(ctx, git, root, remoteName, remoteURL); err != nil {
			return failedRun(err)
		}
		addArgs := append([]string{"add"}, syncPaths(p, includeLayers, includeJSONL)...)
		if _, stderr, err := git(ctx, root, addArgs...); err != nil {
			return failedRun(gitError(stderr, err))
		}
		// `git commit` with nothing staged exits non-zero; that is not a
		// sync failure, just "already up to date" (sync_placeholder treats
		// it the same way).
		_, _, _ = git(ctx, root, "commit", "-m", commitMessage)
		if remoteConfigured(ctx, git, root, remoteName, remoteURL) {
			if _, stderr, err := git(ctx, root, "push", "-u", remoteName, branch); err != nil {
				return failedRun(gitError(stderr, err))
			}
		}
		out, err := repoStatusShort(ctx, git, root)
		if err != nil {
			return failedRun(err)
		}
		return RunResult{Attempted: true, OK: true, Output: out}

	case SyncModePull:
		if err := ensureRemote(ctx, git, root, remoteName, remoteURL); err != nil {
			return failedRun(err)
		}
		if _, stderr, err := git(ctx, root, "fetch", remoteName, branch); err != nil {
			return failedRun(gitError(stderr, err))
		}
		if _, stderr, err := git(ctx, root, "pull", "--rebase", remoteName, branch); err != nil {
			return failedRun(gitError(stderr, err))
		}
		out, err := repoStatusShort(ctx, git, root)
		if err != nil {
			return failedRun(err)
		}
		return RunResult{Attempted: true, OK: true, Output: out}
	}

	return failedRun(errs.New(errs.KindInvalidArgument, "unknown sync mode: "+string(mode)))
}

func failedRun(err error) RunResult {
	kind := errs.SyncErrorClassifier().Classify(err.Error(), "unknown")
	return RunResult{Attempted: true, OK: false, ErrorKind: kind, Hint: errs.SyncErrorHint(kind)}
}

// RunSyncWithRetry attempts one Git sync operation up to policy.MaxAttempts
// times, classifying each failure and stopping early on a non-retryable
// kind, matching daemon.py's run_sync_with_retry: capped exponential
// doubling with no jitter, distinct from the orchestrator's jittered tool
// retry.
func RunSyncWithRetry(ctx context.Context, git GitRunner, p paths.Paths, mode SyncMode, remoteName, remoteURL, branch, commitMessage string, includeLayers []string, includeJSONL bool, policy RetryPolicy) RunResult {
	policy = policy.normalized()
	backoff := policy.InitialBackoff
	var last RunResult
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		last = runSyncOnce(ctx, git, p, mode, remoteName, remoteURL, branch, commitMessage, includeLayers, includeJSONL)
		last.Attempts = attempt
		if last.OK {
			return last
		}
		if !errs.SyncErrorRetryable(last.ErrorKind) || attempt == policy.MaxAttempts {
			return last
		}
		select {
		case <-ctx.Done():
			return last
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}
	return last
}

// shouldAttemptPush reports whether a push is due this cycle, mirroring
// daemon.py's _daemon_should_attempt_push: a push is attempted at most once
// per push_every seconds (clamped to [3, 60] of the scan interval), and
// only when content newer than the last-seen mtime has appeared or the
// working tree is dirty.
func shouldAttemptPush(scanIntervalSeconds int, now, lastPushAttempt time.Time, currentSeen, lastSeen time.Time, repoDirty bool) bool {
	pushEvery := scanIntervalSeconds
	if pushEvery < 3 {
		pushEvery = 3
	}
	if pushEvery > 60 {
		pushEvery = 60
	}
	if !lastPushAttempt.IsZero() && now.Sub(lastPushAttempt) < time.Duration(pushEvery)*time.Second {
		return false
	}
	return currentSeen.After(lastSeen) || repoDirty
}

// latestContentMtime walks markdownRoot and jsonlRoot and returns the
// newest file modification time seen across both, mirroring core.py's
// latest_content_mtime. A root that does not exist is skipped.
func latestContentMtime(markdownRoot, jsonlRoot string) time.Time {
	var latest time.Time
	for _, root := range []string{markdownRoot, jsonlRoot} {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			info, ierr := d.Info()
			if ierr != nil {
				return nil
			}
			if info.ModTime().After(latest) {
				latest = info.ModTime()
			}
			return nil
		})
	}
	return latest
}
