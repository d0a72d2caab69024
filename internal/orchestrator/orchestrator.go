package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"omnimem/internal/composer"
	"omnimem/internal/config"
	"omnimem/internal/envelope"
	"omnimem/internal/errs"
	"omnimem/internal/governor"
	"omnimem/internal/logging"
	"omnimem/internal/model"
	"omnimem/internal/paths"
	"omnimem/internal/retrieval"
	"omnimem/internal/store"
)

// Dependencies wires the components one orchestrator turn drives.
type Dependencies struct {
	Store        *store.Store
	Retrieval    *retrieval.Engine
	ReuseLimiter *governor.ReuseLimiter
	Paths        paths.Paths
	Exec         Executor
}

// TurnInput is everything one call to RunTurn needs beyond the wired
// Dependencies and configuration.
type TurnInput struct {
	Tool       string
	ProjectID  string
	Workspace  string
	Cwd        string
	UserPrompt string
}

// TurnOutput mirrors the reference agent's per-turn result payload.
type TurnOutput struct {
	OK              bool
	Tool            string
	ProjectID       string
	SessionID       string
	Drift           float64
	Switched        bool
	Answer          string
	RetrievedCount  int
	OutcomeLayer    model.Layer
	OutcomeMemoryID string
}

// RunTurn executes one full agent turn per spec.md §4.9: load state, score
// drift, retrieve and bump reuse, write a retrieve trace, compose context,
// invoke the tool with bounded retry, checkpoint on drift, classify and
// write the outcome memory, then persist the updated topic vector.
func RunTurn(ctx context.Context, deps Dependencies, cfg config.AgentConfig, in TurnInput) (*TurnOutput, *errs.Error) {
	timer := logging.StartTimer(logging.CategoryOrchestrator, "run-turn")
	defer timer.Stop()

	statePath := deps.Paths.AgentStatePath(in.Tool, in.ProjectID)
	st, lerr := LoadState(statePath, in.Tool, in.ProjectID)
	if lerr != nil {
		return nil, errs.Wrap(errs.KindPermanentExternal, "loading agent state", lerr)
	}
	st.Turns++

	promptVec := TermFrequency(in.UserPrompt)
	sim := 1.0
	if len(st.TopicVector) > 0 {
		sim = CosineSimilarity(st.TopicVector, promptVec)
	}
	drift := 1.0 - sim

	checkpoints, cerr := deps.Store.Rel.ListRecentCheckpoints(ctx, in.ProjectID, 6)
	if cerr != nil {
		return nil, cerr
	}
	ckLines := make([]composer.Checkpoint, 0, len(checkpoints))
	for _, m := range checkpoints {
		ckLines = append(ckLines, composer.Checkpoint{UpdatedAt: m.UpdatedAt.Format(rfc3339), Summary: m.Summary})
	}

	plan := composer.ResolvePlan(composer.PlanInput{
		Profile:              composer.ProfileBalanced,
		QuotaMode:            model.QuotaAuto,
		ContextBudgetTokens:  cfg.ContextBudgetTokens,
		RetrieveLimit:        cfg.RetrieveLimit,
		PromptTokensEstimate: composer.EstimateTokens(in.UserPrompt),
	})

	retResult, rerr := deps.Retrieval.Retrieve(ctx, retrieval.Query{
		Text:       in.UserPrompt,
		ProjectID:  in.ProjectID,
		SessionID:  "",
		Limit:      plan.RetrieveLimit,
		DriftScore: drift,
	})
	if rerr != nil {
		return nil, rerr
	}

	candidates := make([]composer.Candidate, 0, len(retResult.Items))
	retrievedIDs := make([]string, 0, len(retResult.Items))
	for _, item := range retResult.Items {
		if deps.ReuseLimiter != nil {
			if _, berr := governor.BumpReuseFromRetrieval(ctx, deps.Store, deps.ReuseLimiter, item.ID, 1); berr != nil {
				return nil, berr
			}
		}
		mem, gerr := deps.Store.Rel.GetMemory(ctx, item.ID)
		if gerr != nil {
			return nil, gerr
		}
		if mem == nil {
			continue
		}
		retrievedIDs = append(retrievedIDs, item.ID)
		candidates = append(candidates, composer.Candidate{
			ID: mem.ID, UpdatedAt: mem.UpdatedAt.Format(rfc3339), Layer: mem.Layer, Kind: mem.Kind, Summary: mem.Summary,
		})
	}

	traceBody := strings.Builder{}
	traceBody.WriteString("Automatic retrieval trace created by the agent orchestrator.\n\n")
	fmt.Fprintf(&traceBody, "- project_id: %s\n- session_id: %s\n- query: %s\n- retrieved_count: %d\n",
		in.ProjectID, st.SessionID, in.UserPrompt, len(retrievedIDs))
	for i, id := range retrievedIDs {
		if i >= 20 {
			break
		}
		fmt.Fprintf(&traceBody, "- memory_id: %s\n", id)
	}
	if _, werr := deps.Store.WriteMemory(ctx, envelope.Input{
		Layer:      model.LayerInstant,
		Kind:       model.KindRetrieve,
		Summary:    fmt.Sprintf("Retrieved %d memories for context", len(retrievedIDs)),
		Body:       traceBody.String(),
		Tags:       []string{"project:" + in.ProjectID, "auto:retrieve", "tool:" + in.Tool},
		Source:     model.Source{Tool: "omnimem-orchestrator", SessionID: st.SessionID},
		Scope:      model.Scope{ProjectID: in.ProjectID, Workspace: in.Workspace},
		Importance: 0.25, Confidence: 0.9, Stability: 0.2, Volatility: 0.8,
	}, model.EventRetrieve); werr != nil {
		return nil, werr
	}

	composed := composer.Compose(composer.Input{
		StateDir: deps.Paths.RuntimeRoot, StateKey: "agent-" + in.Tool + "-" + in.ProjectID,
		ProjectID: in.ProjectID, Workspace: in.Workspace, UserPrompt: in.UserPrompt,
		Checkpoints: ckLines, Candidates: candidates, BudgetTokens: plan.ContextBudgetTokens,
		IncludeProtocol: true, IncludeUserRequest: true, DeltaEnabled: cfg.DeltaEnabled && plan.PreferDeltaContext,
		MaxCheckpoints: 3, MaxMemories: clampInt(len(candidates), 3, 10),
	})

	cmdArgv, aerr := ToolCommand(in.Tool, composed.Text)
	if aerr != nil {
		return nil, aerr
	}
	exec := deps.Exec
	if exec == nil {
		exec = DefaultExecutor
	}
	policy := RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts, InitialBackoff: secondsDur(cfg.RetryInitialBackoffS), MaxBackoff: secondsDur(cfg.RetryMaxBackoffS),
	}
	toolRes, terr := WithToolRetry(ctx, policy, func(ctx context.Context) (*ToolResult, error) {
		res, err := exec(ctx, cmdArgv, in.Cwd)
		if err != nil {
			return res, err
		}
		return res, nil
	})
	if terr != nil {
		return nil, terr
	}
	answer := strings.TrimSpace(toolRes.Stdout)

	switched := false
	if drift >= cfg.DriftThreshold && st.Turns-st.LastCheckpointTurn >= 2 {
		ckBody := strings.Builder{}
		ckBody.WriteString("Automatic checkpoint created by the agent orchestrator.\n\n")
		fmt.Fprintf(&ckBody, "- project_id: %s\n- old_session_id: %s\n- topic_drift: %.3f\n- trigger_prompt: %s\n",
			in.ProjectID, st.SessionID, drift, in.UserPrompt)
		if _, werr := deps.Store.WriteMemory(ctx, envelope.Input{
			Layer:      model.LayerShort,
			Kind:       model.KindCheckpoint,
			Summary:    fmt.Sprintf("Auto checkpoint before topic switch (drift=%.2f)", drift),
			Body:       ckBody.String(),
			Tags:       []string{"project:" + in.ProjectID, "auto:checkpoint", "tool:" + in.Tool},
			Source:     model.Source{Tool: "omnimem-orchestrator", SessionID: st.SessionID},
			Scope:      model.Scope{ProjectID: in.ProjectID, Workspace: in.Workspace},
			Importance: 0.75, Confidence: 0.7, Stability: 0.55, Volatility: 0.45,
		}, model.EventCheckpoint); werr != nil {
			return nil, werr
		}
		st.SessionID = model.NewID()
		st.LastCheckpointTurn = st.Turns
		st.TopicVector = map[string]float64{}
		switched = true
	}

	layer, importance, confidence, stability := ChooseLayer(in.UserPrompt, answer, drift)
	firstLine := in.UserPrompt
	if idx := strings.IndexByte(firstLine, '\n'); idx >= 0 {
		firstLine = firstLine[:idx]
	}
	firstLine = strings.TrimSpace(firstLine)
	if len(firstLine) > 120 {
		firstLine = firstLine[:120]
	}
	if firstLine == "" {
		firstLine = "conversation turn"
	}

	outcomeBody := strings.Builder{}
	fmt.Fprintf(&outcomeBody, "Automatic memory from agent turn.\n\n## User\n%s\n\n## Assistant\n%s\n\n## Metrics\n- drift=%.3f\n- similarity=%.3f\n",
		in.UserPrompt, answer, drift, sim)
	outcomeEnv, werr := deps.Store.WriteMemory(ctx, envelope.Input{
		Layer:      layer,
		Kind:       model.KindSummary,
		Summary:    "Auto turn: " + firstLine,
		Body:       outcomeBody.String(),
		Tags:       []string{"project:" + in.ProjectID, "auto:turn", "tool:" + in.Tool},
		Source:     model.Source{Tool: "omnimem-orchestrator", SessionID: st.SessionID},
		Scope:      model.Scope{ProjectID: in.ProjectID, Workspace: in.Workspace},
		Importance: importance, Confidence: confidence, Stability: stability, Volatility: clampF(drift, 0.15, 0.8),
	}, model.EventWrite)
	if werr != nil {
		return nil, werr
	}

	st.TopicVector = MergeTopic(st.TopicVector, promptVec, cfg.TopicEMAAlpha, cfg.TopicPruneThreshold)
	if serr := SaveState(statePath, st); serr != nil {
		return nil, errs.Wrap(errs.KindPermanentExternal, "saving agent state", serr)
	}

	return &TurnOutput{
		OK: true, Tool: in.Tool, ProjectID: in.ProjectID, SessionID: st.SessionID, Drift: drift,
		Switched: switched, Answer: answer, RetrievedCount: len(retrievedIDs),
		OutcomeLayer: layer, OutcomeMemoryID: outcomeEnv.ID,
	}, nil
}

// ChooseLayer classifies a turn's outcome into a retention layer and
// starting signals, per spec.md §4.9 step 8: decision/rule language lands
// long with higher confidence/stability, but high drift always forces
// short and caps stability.
func ChooseLayer(prompt, answer string, drift float64) (model.Layer, float64, float64, float64) {
	s := strings.ToLower(prompt + "\n" + answer)
	importance, confidence, stability := 0.55, 0.6, 0.55
	layer := model.LayerShort
	for _, kw := range []string{"decision", "final", "must", "rule", "constraint"} {
		if strings.Contains(s, kw) {
			importance, confidence, stability = 0.8, 0.75, 0.7
			layer = model.LayerLong
			break
		}
	}
	if drift > 0.62 {
		layer = model.LayerShort
		if stability > 0.5 {
			stability = 0.5
		}
	}
	return layer, importance, confidence, stability
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func secondsDur(s int) time.Duration {
	return time.Duration(s) * time.Second
}
