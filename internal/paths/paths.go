// Package paths resolves the home directory and the derived storage
// locations (markdown tree root, event-log directory, relational file
// path, runtime scratch directory) from a loaded config.Config.
package paths

import (
	"path/filepath"

	"omnimem/internal/config"
)

// Paths holds every on-disk location OmniMem writes to or reads from.
type Paths struct {
	Root         string
	MarkdownRoot string
	JSONLRoot    string
	SQLitePath   string
	RuntimeRoot  string
}

// Resolve derives a Paths from cfg.
func Resolve(cfg *config.Config) Paths {
	home := cfg.Home
	if home == "" {
		home = config.DefaultHome()
	}
	markdown := cfg.Storage.Markdown
	if markdown == "" {
		markdown = filepath.Join(home, "data", "markdown")
	}
	jsonl := cfg.Storage.JSONL
	if jsonl == "" {
		jsonl = filepath.Join(home, "data", "jsonl")
	}
	sqlite := cfg.Storage.SQLite
	if sqlite == "" {
		sqlite = filepath.Join(home, "data", "omnimem.db")
	}
	return Paths{
		Root:         home,
		MarkdownRoot: markdown,
		JSONLRoot:    jsonl,
		SQLitePath:   sqlite,
		RuntimeRoot:  filepath.Join(home, "runtime"),
	}
}

// AgentStatePath is the per-(tool, project) orchestrator state file.
func (p Paths) AgentStatePath(tool, projectID string) string {
	return filepath.Join(p.RuntimeRoot, "agent", tool+"-"+projectID+".json")
}

// ContextDeltaStatePath is the per-state-key context-composer delta file.
func (p Paths) ContextDeltaStatePath(key string) string {
	return filepath.Join(p.RuntimeRoot, "context_delta", key+".json")
}
