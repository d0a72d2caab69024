package daemon

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// GitRunner executes one Git subcommand against root and returns its
// stdout/stderr, mirroring core.py's `_run_git` (subprocess.run(["git",
// "-C", root, *args], capture_output=True, text=True)).
type GitRunner func(ctx context.Context, root string, args ...string) (stdout, stderr string, err error)

// DefaultGitRunner shells out to the system git binary.
func DefaultGitRunner(ctx context.Context, root string, args ...string) (string, string, error) {
	full := append([]string{"-C", root}, args...)
	cmd := exec.CommandContext(ctx, "git", full...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// ensureGitRepo runs `git init` when root has no .git directory yet,
// grounded on core.py's `_ensure_git_repo`.
func ensureGitRepo(ctx context.Context, git GitRunner, root string) error {
	if _, err := os.Stat(filepath.Join(root, ".git")); err == nil {
		return nil
	}
	_, stderr, err := git(ctx, root, "init")
	if err != nil {
		return gitError(stderr, err)
	}
	return nil
}

// ensureRemote adds or repoints remoteName, grounded on core.py's
// `_ensure_remote`.
func ensureRemote(ctx context.Context, git GitRunner, root, remoteName, remoteURL string) error {
	if remoteURL == "" {
		return nil
	}
	stdout, _, err := git(ctx, root, "remote")
	if err != nil {
		return err
	}
	remotes := strings.Fields(stdout)
	hasRemote := false
	for _, r := range remotes {
		if r == remoteName {
			hasRemote = true
			break
		}
	}
	var stderr string
	if hasRemote {
		_, stderr, err = git(ctx, root, "remote", "set-url", remoteName, remoteURL)
	} else {
		_, stderr, err = git(ctx, root, "remote", "add", remoteName, remoteURL)
	}
	if err != nil {
		return gitError(stderr, err)
	}
	return nil
}

// remoteConfigured reports whether remoteName already exists or remoteURL
// was supplied, matching core.py's push-time remote check.
func remoteConfigured(ctx context.Context, git GitRunner, root, remoteName, remoteURL string) bool {
	if remoteURL != "" {
		return true
	}
	stdout, _, err := git(ctx, root, "remote")
	if err != nil {
		return false
	}
	for _, r := range strings.Fields(stdout) {
		if r == remoteName {
			return true
		}
	}
	return false
}

// repoStatusShort runs `git status --short` and returns its trimmed output.
func repoStatusShort(ctx context.Context, git GitRunner, root string) (string, error) {
	stdout, stderr, err := git(ctx, root, "status", "--short")
	if err != nil {
		return "", gitError(stderr, err)
	}
	return strings.TrimSpace(stdout), nil
}

// repoHasPendingChanges reports whether the working tree has uncommitted
// changes. daemon.py references a `_repo_has_pending_sync_changes` helper
// that is not defined anywhere in the retrieved source (see DESIGN.md) -
// this is the natural implementation: a non-empty `git status --short`.
func repoHasPendingChanges(ctx context.Context, git GitRunner, root string) bool {
	status, err := repoStatusShort(ctx, git, root)
	if err != nil {
		return false
	}
	return status != ""
}

func gitError(stderr string, err error) error {
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		msg = err.Error()
	}
	return &gitErr{msg: msg}
}

type gitErr struct{ msg string }

func (e *gitErr) Error() string { return e.msg }
