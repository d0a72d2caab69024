package composer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"omnimem/internal/logging"
	"omnimem/internal/model"
	"omnimem/internal/retrieval"
)

// maxDeltaState bounds the persisted (id -> updated_at) map per state key.
const maxDeltaState = 1200

// Candidate is one retrieval result or checkpoint fed into composition.
type Candidate struct {
	ID        string
	UpdatedAt string
	Layer     model.Layer
	Kind      model.Kind
	Summary   string
}

// Checkpoint is a recent checkpoint surfaced near the top of context.
type Checkpoint struct {
	UpdatedAt string
	Summary   string
}

// Input gathers everything Compose needs for one turn.
type Input struct {
	StateDir            string // runtime root; delta state lives under <StateDir>/context_delta
	StateKey            string
	ProjectID           string
	Workspace           string
	UserPrompt          string
	Checkpoints         []Checkpoint
	Candidates          []Candidate
	BudgetTokens        int
	IncludeProtocol     bool
	IncludeUserRequest  bool
	DeltaEnabled        bool
	MaxCheckpoints      int
	MaxMemories         int
}

// Output is the assembled context plus the accounting spec.md §4.6 requires.
type Output struct {
	Text             string
	Route            model.Route
	BudgetTokens     int
	EstimatedTokens  int
	SelectedIDs      []string
	SelectedCount    int
	CandidateCount   int
	DeltaNewCount    int
	DeltaSeenCount   int
}

type deltaState struct {
	SavedAt string            `json:"saved_at"`
	Seen    map[string]string `json:"seen"`
}

func deltaStatePath(stateDir, key string) string {
	return filepath.Join(stateDir, "context_delta", key+".json")
}

func loadDeltaState(stateDir, key string) map[string]string {
	path := deltaStatePath(stateDir, key)
	b, err := os.ReadFile(path)
	if err != nil {
		return map[string]string{}
	}
	var st deltaState
	if err := json.Unmarshal(b, &st); err != nil || st.Seen == nil {
		return map[string]string{}
	}
	return st.Seen
}

func saveDeltaState(stateDir, key string, seen map[string]string) {
	path := deltaStatePath(stateDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		logging.Get(logging.CategoryComposer).Warn("creating delta state dir: %v", err)
		return
	}
	st := deltaState{SavedAt: time.Now().UTC().Truncate(time.Second).Format(time.RFC3339), Seen: seen}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(path, append(b, '\n'), 0o644)
}

func memLine(c Candidate, route model.Route, isNew string) string {
	mark := "seen"
	if isNew != "" {
		mark = isNew
	}
	id := c.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return "- [" + string(c.Layer) + "/" + string(c.Kind) + "/" + string(route) + "/" + mark + "] " + strings.TrimSpace(c.Summary) + " (id=" + id + ")"
}

// Compose assembles the budget-bounded context block per spec.md §4.6:
// header, optional protocol lines, recent checkpoints, delta-prioritized
// memory recalls within budget, and an optional (possibly truncated) user
// request tail. It persists the updated delta-seen map for in.StateKey.
func Compose(in Input) Output {
	timer := logging.StartTimer(logging.CategoryComposer, "compose")
	defer timer.Stop()

	budget := in.BudgetTokens
	if budget < 120 {
		budget = 120
	}
	maxCk := in.MaxCheckpoints
	if maxCk <= 0 {
		maxCk = 3
	}
	maxMem := in.MaxMemories
	if maxMem <= 0 {
		maxMem = 8
	}

	route := retrieval.ClassifyRoute(in.UserPrompt)

	seen := map[string]string{}
	if in.DeltaEnabled {
		seen = loadDeltaState(in.StateDir, in.StateKey)
	}

	var lines []string
	now := time.Now().UTC().Truncate(time.Second).Format(time.RFC3339)
	lines = append(lines, "OmniMem: "+in.ProjectID+" ("+in.Workspace+") "+now, "")

	if in.IncludeProtocol {
		lines = append(lines,
			"Memory protocol (auto):",
			"- stable decisions/facts -> write",
			"- topic drift/phase switch -> checkpoint",
			"- do not store raw secrets; use credential refs",
		)
	}

	if len(in.Checkpoints) > 0 {
		lines = append(lines, "Recent checkpoints:")
		for i, ck := range in.Checkpoints {
			if i >= maxCk {
				break
			}
			lines = append(lines, "- "+ck.UpdatedAt+": "+ck.Summary)
		}
	}

	candLimit := maxMem * 4
	cand := in.Candidates
	if len(cand) > candLimit {
		cand = cand[:candLimit]
	}

	var deltaNew, deltaSeen []Candidate
	for _, c := range cand {
		if c.ID == "" {
			continue
		}
		if seen[c.ID] != c.UpdatedAt {
			deltaNew = append(deltaNew, c)
		} else {
			deltaSeen = append(deltaSeen, c)
		}
	}
	var ordered []Candidate
	if in.DeltaEnabled {
		ordered = append(append([]Candidate{}, deltaNew...), deltaSeen...)
	} else {
		ordered = cand
	}

	lines = append(lines, "Memory recalls (route="+string(route)+", budget="+strconv.Itoa(budget)+"):")

	cur := EstimateTokens(strings.Join(lines, "\n"))
	var selected []Candidate
	for _, c := range ordered {
		if len(selected) >= maxMem {
			break
		}
		if c.ID == "" {
			continue
		}
		mark := "seen"
		if seen[c.ID] != c.UpdatedAt {
			mark = "new"
		}
		line := memLine(c, route, mark)
		need := EstimateTokens(line) + 2
		if cur+need > budget {
			continue
		}
		lines = append(lines, line)
		cur += need
		selected = append(selected, c)
	}

	if in.IncludeUserRequest && strings.TrimSpace(in.UserPrompt) != "" {
		prompt := strings.TrimSpace(in.UserPrompt)
		tail := "\nUser request:\n" + prompt
		if cur+EstimateTokens(tail) <= budget {
			lines = append(lines, "", "User request:", prompt)
		} else {
			cutLen := (budget - cur) * 4
			if cutLen < 60 {
				cutLen = 60
			}
			if cutLen > 400 {
				cutLen = 400
			}
			if cutLen > len(prompt) {
				cutLen = len(prompt)
			}
			lines = append(lines, "", "User request:", prompt[:cutLen])
		}
	}

	text := strings.TrimSpace(strings.Join(lines, "\n"))
	est := EstimateTokens(text)
	if est < 1 {
		est = 1
	}

	var ids []string
	for _, c := range selected {
		ids = append(ids, c.ID)
	}

	if in.DeltaEnabled {
		next := map[string]string{}
		for k, v := range seen {
			next[k] = v
		}
		for _, c := range selected {
			next[c.ID] = c.UpdatedAt
		}
		if len(next) > maxDeltaState {
			next = trimToMostRecent(next, maxDeltaState)
		}
		saveDeltaState(in.StateDir, in.StateKey, next)
	}

	return Output{
		Text: text, Route: route, BudgetTokens: budget, EstimatedTokens: est,
		SelectedIDs: ids, SelectedCount: len(selected), CandidateCount: len(cand),
		DeltaNewCount: len(deltaNew), DeltaSeenCount: len(deltaSeen),
	}
}

// trimToMostRecent keeps an arbitrary but deterministic 1200-entry subset
// by sorting keys and keeping the lexicographically-last N; Go maps have
// no insertion order to replay, so this substitutes a stable, bounded
// eviction policy for the original's "keep the last N inserted" behavior.
func trimToMostRecent(m map[string]string, n int) map[string]string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > n {
		keys = keys[len(keys)-n:]
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[k] = m[k]
	}
	return out
}
