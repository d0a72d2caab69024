// Package orchestrator runs one agent turn (spec.md §4.9): per-turn drift
// detection against a session topic vector, retrieval, context
// composition, external tool invocation with bounded retry, checkpoint
// rotation on topic switch, and an outcome memory write.
package orchestrator

import (
	"encoding/json"
	"os"
	"path/filepath"

	"omnimem/internal/model"
)

// State is the per-(tool, project_id) session state persisted between
// turns: which session the turn belongs to, its running topic vector, and
// the checkpoint-rotation bookkeeping.
type State struct {
	SessionID          string             `json:"session_id"`
	ProjectID          string             `json:"project_id"`
	Tool               string             `json:"tool"`
	TopicVector        map[string]float64 `json:"topic_vector"`
	Turns              int                `json:"turns"`
	LastCheckpointTurn int                `json:"last_checkpoint_turn"`
}

// LoadState reads the state file at path, returning a freshly seeded State
// (a new session id, empty topic vector) when the file does not exist yet.
func LoadState(path, tool, projectID string) (*State, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{SessionID: model.NewID(), ProjectID: projectID, Tool: tool, TopicVector: map[string]float64{}}, nil
		}
		return nil, err
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return &State{SessionID: model.NewID(), ProjectID: projectID, Tool: tool, TopicVector: map[string]float64{}}, nil
	}
	st.ProjectID = projectID
	st.Tool = tool
	if st.SessionID == "" {
		st.SessionID = model.NewID()
	}
	if st.TopicVector == nil {
		st.TopicVector = map[string]float64{}
	}
	return &st, nil
}

// SaveState writes st to path, creating parent directories as needed.
func SaveState(path string, st *State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return os.WriteFile(path, b, 0o644)
}
