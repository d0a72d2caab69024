package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"omnimem/internal/errs"
)

// ToolResult is the captured outcome of one external tool subprocess run.
type ToolResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Executor runs cmd (argv[0] is the binary) in cwd and returns its result.
type Executor func(ctx context.Context, cmd []string, cwd string) (*ToolResult, error)

// ToolCommand derives the subprocess argv for tool given prompt: an
// OMNIMEM_AGENT_<TOOL>_CMD environment override takes precedence (its
// tokens are used as a prefix with prompt appended); otherwise a small
// fixed table names the known CLI tools.
func ToolCommand(tool, prompt string) ([]string, *errs.Error) {
	envKey := "OMNIMEM_AGENT_" + strings.ToUpper(tool) + "_CMD"
	if override := strings.TrimSpace(os.Getenv(envKey)); override != "" {
		parts := strings.Fields(override)
		return append(parts, prompt), nil
	}
	switch tool {
	case "codex":
		return []string{"codex", "exec", prompt}, nil
	case "claude":
		return []string{"claude", "-p", prompt}, nil
	}
	return nil, errs.New(errs.KindInvalidArgument, fmt.Sprintf("unsupported tool: %q", tool))
}

// DefaultExecutor runs cmd via os/exec, capturing stdout/stderr separately.
func DefaultExecutor(ctx context.Context, cmd []string, cwd string) (*ToolResult, error) {
	c := exec.CommandContext(ctx, cmd[0], cmd[1:]...)
	c.Dir = cwd
	var stdout, stderr strings.Builder
	c.Stdout = &stdout
	c.Stderr = &stderr
	err := c.Run()
	res := &ToolResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		if msg == "" {
			msg = err.Error()
		}
		return res, fmt.Errorf("%s: %s", tool(cmd), msg)
	}
	return res, nil
}

func tool(cmd []string) string {
	if len(cmd) == 0 {
		return "tool"
	}
	return cmd[0]
}
