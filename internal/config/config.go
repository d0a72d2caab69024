// Package config loads and resolves omnimem.config.json, the single
// external configuration surface named in spec.md §6. The file format is
// JSON because the spec fixes it as a stable on-disk interface; this is not
// a place to substitute a different serialization library.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// StorageConfig names the three storage surfaces.
type StorageConfig struct {
	Markdown string `json:"markdown"`
	JSONL    string `json:"jsonl"`
	SQLite   string `json:"sqlite"`
}

// GitHubSyncConfig configures the Git-backed sync transport.
type GitHubSyncConfig struct {
	RemoteName    string   `json:"remote_name"`
	RemoteURL     string   `json:"remote_url"`
	Branch        string   `json:"branch"`
	IncludeLayers []string `json:"include_layers"`
	IncludeJSONL  bool     `json:"include_jsonl"`
}

// SyncConfig wraps the configured sync transport.
type SyncConfig struct {
	GitHub GitHubSyncConfig `json:"github"`
}

// DaemonConfig configures the sync/maintenance daemon's intervals, toggles,
// limits, adaptive quantiles and retry policy.
type DaemonConfig struct {
	ScanIntervalSeconds        int     `json:"scan_interval_seconds"`
	PullIntervalSeconds        int     `json:"pull_interval_seconds"`
	WeaveIntervalSeconds       int     `json:"weave_interval_seconds"`
	MaintenanceIntervalSeconds int     `json:"maintenance_interval_seconds"`

	WeaveEnabled         bool    `json:"weave_enabled"`
	WeaveLimit           int     `json:"weave_limit"`
	WeaveMinWeight       float64 `json:"weave_min_weight"`
	WeaveMaxPerSrc       int     `json:"weave_max_per_src"`
	WeaveMaxWaitSeconds  float64 `json:"weave_max_wait_seconds"`
	WeaveIncludeArchive  bool    `json:"weave_include_archive"`

	MaintenanceEnabled               bool     `json:"maintenance_enabled"`
	MaintenanceDecayDays             int      `json:"maintenance_decay_days"`
	MaintenanceDecayLimit            int      `json:"maintenance_decay_limit"`
	MaintenancePruneEnabled          bool     `json:"maintenance_prune_enabled"`
	MaintenancePruneDays             int      `json:"maintenance_prune_days"`
	MaintenancePruneLimit            int      `json:"maintenance_prune_limit"`
	MaintenancePruneLayers           []string `json:"maintenance_prune_layers"`
	MaintenancePruneKeepKinds        []string `json:"maintenance_prune_keep_kinds"`
	MaintenanceConsolidateLimit      int      `json:"maintenance_consolidate_limit"`
	MaintenanceCompressSessions      int      `json:"maintenance_compress_sessions"`
	MaintenanceCompressMinItems      int      `json:"maintenance_compress_min_items"`
	MaintenanceDistillEnabled        bool     `json:"maintenance_distill_enabled"`
	MaintenanceDistillSessions       int      `json:"maintenance_distill_sessions"`
	MaintenanceDistillMinItems       int      `json:"maintenance_distill_min_items"`
	MaintenanceTemporalTreeEnabled   bool     `json:"maintenance_temporal_tree_enabled"`
	MaintenanceTemporalTreeDays      int      `json:"maintenance_temporal_tree_days"`
	MaintenanceRehearsalEnabled      bool     `json:"maintenance_rehearsal_enabled"`
	MaintenanceRehearsalDays         int      `json:"maintenance_rehearsal_days"`
	MaintenanceRehearsalLimit       int      `json:"maintenance_rehearsal_limit"`
	MaintenanceReflectionEnabled     bool     `json:"maintenance_reflection_enabled"`
	MaintenanceReflectionDays        int      `json:"maintenance_reflection_days"`
	MaintenanceReflectionLimit       int      `json:"maintenance_reflection_limit"`
	MaintenanceReflectionMinRepeats  int      `json:"maintenance_reflection_min_repeats"`
	MaintenanceReflectionMaxAvgRetrieved float64 `json:"maintenance_reflection_max_avg_retrieved"`

	AdaptiveQPromoteImportance float64 `json:"adaptive_q_promote_importance"`
	AdaptiveQPromoteConfidence float64 `json:"adaptive_q_promote_confidence"`
	AdaptiveQPromoteStability  float64 `json:"adaptive_q_promote_stability"`
	AdaptiveQPromoteVolatility float64 `json:"adaptive_q_promote_volatility"`
	AdaptiveQDemoteVolatility  float64 `json:"adaptive_q_demote_volatility"`
	AdaptiveQDemoteStability   float64 `json:"adaptive_q_demote_stability"`
	AdaptiveQDemoteReuse       float64 `json:"adaptive_q_demote_reuse"`

	RetryMaxAttempts     int `json:"retry_max_attempts"`
	RetryInitialBackoffS int `json:"retry_initial_backoff_seconds"`
	RetryMaxBackoffS     int `json:"retry_max_backoff_seconds"`

	DecayHalfLifeDays      float64 `json:"decay_half_life_days"`
	MaxAutoReusePerPeriod  int     `json:"max_auto_reuse_per_period"`
	ReusePeriodSeconds     int     `json:"reuse_period_seconds"`
	FeedbackPConfBoost     float64 `json:"feedback_p_conf_boost"`
	FeedbackDVolRelief     float64 `json:"feedback_d_vol_relief"`
	DriftDVolBoost         float64 `json:"drift_d_vol_boost"`
	DriftPImpBoost         float64 `json:"drift_p_imp_boost"`
}

// RetrievalConfig configures the hybrid retrieval pipeline (spec.md §4.5).
type RetrievalConfig struct {
	RankingMode        string  `json:"ranking_mode"`
	Depth              int     `json:"depth"`
	PerHopCap          int     `json:"per_hop_cap"`
	MinWeight          float64 `json:"min_weight"`
	FTSFloor           int     `json:"fts_floor"`
	WeightImportance   float64 `json:"weight_importance"`
	WeightConfidence   float64 `json:"weight_confidence"`
	WeightStability    float64 `json:"weight_stability"`
	WeightReuse        float64 `json:"weight_reuse"`
	WeightVolatility   float64 `json:"weight_volatility"`
	RelevanceFloor     float64 `json:"relevance_floor"`
	ProfileBiasEnabled bool    `json:"profile_bias_enabled"`
	ProfileWeight      float64 `json:"profile_weight"`
	DriftBiasEnabled   bool    `json:"drift_bias_enabled"`
	DriftThreshold     float64 `json:"drift_threshold"`
	MMRLambda          float64 `json:"mmr_lambda"`
	CoreBlockEnabled   bool    `json:"core_block_enabled"`
	CoreBlockLimit     int     `json:"core_block_limit"`
	SelfCheckEnabled   bool    `json:"self_check_enabled"`
	AdaptiveFeedback   bool    `json:"adaptive_feedback"`
	FeedbackReuseStep  int     `json:"feedback_reuse_step"`
}

// AgentConfig configures the per-turn agent orchestrator (spec.md §4.9).
type AgentConfig struct {
	DriftThreshold       float64 `json:"drift_threshold"`
	RetrieveLimit        int     `json:"retrieve_limit"`
	ContextBudgetTokens  int     `json:"context_budget_tokens"`
	DeltaEnabled         bool    `json:"delta_enabled"`
	TopicEMAAlpha        float64 `json:"topic_ema_alpha"`
	TopicPruneThreshold  float64 `json:"topic_prune_threshold"`
	RetryMaxAttempts     int     `json:"retry_max_attempts"`
	RetryInitialBackoffS int     `json:"retry_initial_backoff_seconds"`
	RetryMaxBackoffS     int     `json:"retry_max_backoff_seconds"`
}

// CoreMergeConfig configures core-block merge policy (consumed by the
// out-of-scope CLI/webui; kept here because it is a stable config key).
type CoreMergeConfig struct {
	DefaultMergeMode      string  `json:"default_merge_mode"`
	DefaultMaxMergedLines int     `json:"default_max_merged_lines"`
	DefaultMinApplyQuality float64 `json:"default_min_apply_quality"`
	DefaultLoserAction    string  `json:"default_loser_action"`
}

// WebUIConfig is a boundary-only passthrough (the dashboard itself is out
// of scope for this core).
type WebUIConfig struct {
	ApprovalRequired           bool   `json:"approval_required"`
	MaintenancePreviewOnlyUntil string `json:"maintenance_preview_only_until"`
	AuthToken                  string `json:"auth_token"`
}

// LoggingConfig controls the categorized file logger.
type LoggingConfig struct {
	DebugMode bool `json:"debug_mode"`
}

// Config is the full shape of omnimem.config.json.
type Config struct {
	Version   string          `json:"version"`
	Home      string          `json:"home"`
	Storage   StorageConfig   `json:"storage"`
	Sync      SyncConfig      `json:"sync"`
	Daemon    DaemonConfig    `json:"daemon"`
	Agent     AgentConfig     `json:"agent"`
	Retrieval RetrievalConfig `json:"retrieval"`
	CoreMerge CoreMergeConfig `json:"core_merge"`
	WebUI     WebUIConfig     `json:"webui"`
	Logging   LoggingConfig   `json:"logging"`
}

// DefaultHome resolves the default home directory from OMNIMEM_HOME or
// ~/.omnimem, matching the reference implementation.
func DefaultHome() string {
	if env := os.Getenv("OMNIMEM_HOME"); env != "" {
		abs, err := filepath.Abs(env)
		if err == nil {
			return abs
		}
		return env
	}
	hd, err := os.UserHomeDir()
	if err != nil {
		hd = "."
	}
	return filepath.Join(hd, ".omnimem")
}

// DefaultConfigPath returns the default omnimem.config.json path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultHome(), "omnimem.config.json")
}

// Default returns a Config with every field populated from home.
func Default(home string) *Config {
	return &Config{
		Version: "1",
		Home:    home,
		Storage: StorageConfig{
			Markdown: filepath.Join(home, "data", "markdown"),
			JSONL:    filepath.Join(home, "data", "jsonl"),
			SQLite:   filepath.Join(home, "data", "omnimem.db"),
		},
		Sync: SyncConfig{
			GitHub: GitHubSyncConfig{
				RemoteName:    "origin",
				Branch:        "main",
				IncludeLayers: []string{"instant", "short", "long", "archive"},
				IncludeJSONL:  true,
			},
		},
		Daemon: DaemonConfig{
			ScanIntervalSeconds:        8,
			PullIntervalSeconds:        30,
			WeaveIntervalSeconds:       300,
			MaintenanceIntervalSeconds: 300,

			WeaveEnabled:        true,
			WeaveLimit:          220,
			WeaveMinWeight:      0.18,
			WeaveMaxPerSrc:      6,
			WeaveMaxWaitSeconds: 12.0,

			MaintenanceEnabled:              true,
			MaintenanceDecayDays:            14,
			MaintenanceDecayLimit:           120,
			MaintenancePruneDays:            45,
			MaintenancePruneLimit:           300,
			MaintenancePruneLayers:          []string{"instant", "short"},
			MaintenancePruneKeepKinds:       []string{"decision", "checkpoint"},
			MaintenanceConsolidateLimit:     80,
			MaintenanceCompressSessions:     2,
			MaintenanceCompressMinItems:     8,
			MaintenanceDistillEnabled:       true,
			MaintenanceDistillSessions:      1,
			MaintenanceDistillMinItems:      12,
			MaintenanceTemporalTreeEnabled:  true,
			MaintenanceTemporalTreeDays:     30,
			MaintenanceRehearsalEnabled:     true,
			MaintenanceRehearsalDays:        45,
			MaintenanceRehearsalLimit:       16,
			MaintenanceReflectionEnabled:    true,
			MaintenanceReflectionDays:       14,
			MaintenanceReflectionLimit:      4,
			MaintenanceReflectionMinRepeats: 2,
			MaintenanceReflectionMaxAvgRetrieved: 2.0,

			AdaptiveQPromoteImportance: 0.68,
			AdaptiveQPromoteConfidence: 0.60,
			AdaptiveQPromoteStability:  0.62,
			AdaptiveQPromoteVolatility: 0.42,
			AdaptiveQDemoteVolatility:  0.78,
			AdaptiveQDemoteStability:   0.28,
			AdaptiveQDemoteReuse:       0.30,

			RetryMaxAttempts:     3,
			RetryInitialBackoffS: 1,
			RetryMaxBackoffS:     8,

			DecayHalfLifeDays:     21,
			MaxAutoReusePerPeriod: 3,
			ReusePeriodSeconds:    3600,
			FeedbackPConfBoost:    0.05,
			FeedbackDVolRelief:    0.05,
			DriftDVolBoost:        0.08,
			DriftPImpBoost:        0.05,
		},
		Agent: AgentConfig{
			DriftThreshold:       0.62,
			RetrieveLimit:        8,
			ContextBudgetTokens:  420,
			DeltaEnabled:         true,
			TopicEMAAlpha:        0.25,
			TopicPruneThreshold:  0.001,
			RetryMaxAttempts:     3,
			RetryInitialBackoffS: 1,
			RetryMaxBackoffS:     8,
		},
		Retrieval: RetrievalConfig{
			RankingMode:        "hybrid",
			Depth:              2,
			PerHopCap:          6,
			MinWeight:          0.18,
			FTSFloor:           5,
			WeightImportance:   0.32,
			WeightConfidence:   0.24,
			WeightStability:    0.18,
			WeightReuse:        0.14,
			WeightVolatility:   0.12,
			RelevanceFloor:     0.05,
			ProfileBiasEnabled: false,
			ProfileWeight:      0.15,
			DriftBiasEnabled:   false,
			DriftThreshold:     0.55,
			MMRLambda:          0.7,
			CoreBlockEnabled:   true,
			CoreBlockLimit:     3,
			SelfCheckEnabled:   true,
			AdaptiveFeedback:   false,
			FeedbackReuseStep:  1,
		},
		CoreMerge: CoreMergeConfig{
			DefaultMergeMode:       "append",
			DefaultMaxMergedLines:  40,
			DefaultMinApplyQuality: 0.5,
			DefaultLoserAction:     "archive",
		},
		Logging: LoggingConfig{DebugMode: false},
	}
}

// Load reads path if it exists, otherwise returns Default(home-from-env).
// An explicit path that doesn't exist is an error; the implicit default
// path silently falls back to defaults (matches the reference loader).
func Load(path string) (*Config, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return Default(filepath.Dir(path)), nil
			}
			return nil, err
		}
		var cfg Config
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
		fillDefaults(&cfg)
		return &cfg, nil
	}

	def := DefaultConfigPath()
	data, err := os.ReadFile(def)
	if err != nil {
		return Default(DefaultHome()), nil
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	fillDefaults(&cfg)
	return &cfg, nil
}

// Save writes cfg to path as indented JSON, creating parent directories.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

// fillDefaults fills zero-valued fields of a loaded config with defaults
// derived from its Home, so a minimal on-disk config still resolves a
// complete, usable Config.
func fillDefaults(cfg *Config) {
	if cfg.Home == "" {
		cfg.Home = DefaultHome()
	}
	d := Default(cfg.Home)
	if cfg.Storage.Markdown == "" {
		cfg.Storage.Markdown = d.Storage.Markdown
	}
	if cfg.Storage.JSONL == "" {
		cfg.Storage.JSONL = d.Storage.JSONL
	}
	if cfg.Storage.SQLite == "" {
		cfg.Storage.SQLite = d.Storage.SQLite
	}
	if cfg.Sync.GitHub.RemoteName == "" {
		cfg.Sync.GitHub.RemoteName = d.Sync.GitHub.RemoteName
	}
	if cfg.Sync.GitHub.Branch == "" {
		cfg.Sync.GitHub.Branch = d.Sync.GitHub.Branch
	}
	if len(cfg.Sync.GitHub.IncludeLayers) == 0 {
		cfg.Sync.GitHub.IncludeLayers = d.Sync.GitHub.IncludeLayers
	}
	if cfg.Daemon.ScanIntervalSeconds == 0 {
		cfg.Daemon = d.Daemon
	}
	if cfg.CoreMerge.DefaultMergeMode == "" {
		cfg.CoreMerge = d.CoreMerge
	}
	if cfg.Retrieval.RankingMode == "" {
		cfg.Retrieval = d.Retrieval
	}
}
