// Package model defines the data model shared by every OmniMem component:
// memories, events, edges and core blocks, plus the closed string enums
// that tag them.
package model

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the envelope schema version written by this build.
const SchemaVersion = "1.0.0"

// SystemMemoryID is the reserved archive record every store seeds on first
// touch. It owns system-scoped events and satisfies foreign keys when no
// specific memory applies.
const SystemMemoryID = "system000"

// Layer is the retention tier driving lifecycle policy.
type Layer string

const (
	LayerInstant Layer = "instant"
	LayerShort   Layer = "short"
	LayerLong    Layer = "long"
	LayerArchive Layer = "archive"
)

// Valid reports whether l is one of the closed set of layers.
func (l Layer) Valid() bool {
	switch l {
	case LayerInstant, LayerShort, LayerLong, LayerArchive:
		return true
	}
	return false
}

// Kind is the semantic role of a memory.
type Kind string

const (
	KindNote       Kind = "note"
	KindDecision   Kind = "decision"
	KindTask       Kind = "task"
	KindCheckpoint Kind = "checkpoint"
	KindSummary    Kind = "summary"
	KindEvidence   Kind = "evidence"
	KindRetrieve   Kind = "retrieve"
)

// Valid reports whether k is one of the closed set of kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindNote, KindDecision, KindTask, KindCheckpoint, KindSummary, KindEvidence, KindRetrieve:
		return true
	}
	return false
}

// EventType tags a state-changing event in the append-only log.
type EventType string

const (
	EventWrite       EventType = "memory.write"
	EventUpdate      EventType = "memory.update"
	EventCheckpoint  EventType = "memory.checkpoint"
	EventPromote     EventType = "memory.promote"
	EventVerify      EventType = "memory.verify"
	EventSync        EventType = "memory.sync"
	EventDecay       EventType = "memory.decay"
	EventConsolidate EventType = "memory.consolidate"
	EventRetrieve    EventType = "memory.retrieve"
	EventFeedback    EventType = "memory.feedback"
)

// Valid reports whether e is one of the closed set of event types.
func (e EventType) Valid() bool {
	switch e {
	case EventWrite, EventUpdate, EventCheckpoint, EventPromote, EventVerify,
		EventSync, EventDecay, EventConsolidate, EventRetrieve, EventFeedback:
		return true
	}
	return false
}

// EdgeKind tags a derived inter-memory edge.
type EdgeKind string

const (
	EdgeTagCooc    EdgeKind = "tag_cooc"
	EdgeSession    EdgeKind = "session"
	EdgeTemporal   EdgeKind = "temporal"
	EdgeLexical    EdgeKind = "lexical"
	EdgeDistill    EdgeKind = "distill"
	EdgeCoreBlock  EdgeKind = "core-block"
)

// RankingMode selects the retrieval scoring strategy.
type RankingMode string

const (
	RankingLexical   RankingMode = "lexical"
	RankingCognitive RankingMode = "cognitive"
	RankingHybrid    RankingMode = "hybrid"
	RankingPPR       RankingMode = "ppr"
)

// QuotaMode is the operational pressure level fed into the context-plan resolver.
type QuotaMode string

const (
	QuotaNormal   QuotaMode = "normal"
	QuotaLow      QuotaMode = "low"
	QuotaCritical QuotaMode = "critical"
	QuotaAuto     QuotaMode = "auto"
)

// Route is the query-intent tag steering retrieval bias.
type Route string

const (
	RouteProcedural Route = "procedural"
	RouteEpisodic   Route = "episodic"
	RouteSemantic   Route = "semantic"
	RouteGeneral    Route = "general"
)

// FeedbackKind tags an explicit governance feedback event.
type FeedbackKind string

const (
	FeedbackPositive FeedbackKind = "positive"
	FeedbackNegative FeedbackKind = "negative"
	FeedbackCorrect  FeedbackKind = "correct"
	FeedbackForget   FeedbackKind = "forget"
)

// Valid reports whether f is one of the closed set of feedback kinds.
func (f FeedbackKind) Valid() bool {
	switch f {
	case FeedbackPositive, FeedbackNegative, FeedbackCorrect, FeedbackForget:
		return true
	}
	return false
}

// RefType tags what a Reference points at.
type RefType string

const (
	RefMemory RefType = "memory"
	RefURL    RefType = "url"
	RefFile   RefType = "file"
	RefOther  RefType = "other"
)

// Signals are the numeric attributes governance acts on.
type Signals struct {
	Importance float64 `json:"importance_score"`
	Confidence float64 `json:"confidence_score"`
	Stability  float64 `json:"stability_score"`
	ReuseCount int     `json:"reuse_count"`
	Volatility float64 `json:"volatility_score"`
}

// Source identifies the writer of a memory.
type Source struct {
	Tool      string `json:"tool"`
	Account   string `json:"account"`
	Device    string `json:"device"`
	SessionID string `json:"session_id"`
}

// Scope identifies the project/workspace a memory belongs to.
type Scope struct {
	ProjectID string `json:"project_id"`
	Workspace string `json:"workspace"`
}

// Integrity carries the content hash binding an envelope to its body file.
type Integrity struct {
	ContentSHA256  string `json:"content_sha256"`
	EnvelopeVersion int   `json:"envelope_version"`
}

// Reference points from a memory to another memory, URL, file, or entity.
type Reference struct {
	Type   string `json:"type"`
	Target string `json:"target"`
	Note   string `json:"note,omitempty"`
}

// Envelope is the immutable-after-write metadata record for a memory.
type Envelope struct {
	ID             string      `json:"id"`
	SchemaVersion  string      `json:"schema_version"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	Layer          Layer       `json:"layer"`
	Kind           Kind        `json:"kind"`
	Summary        string      `json:"summary"`
	BodyMDPath     string      `json:"body_md_path"`
	Tags           []string    `json:"tags"`
	Refs           []Reference `json:"refs"`
	Signals        Signals     `json:"signals"`
	CredRefs       []string    `json:"cred_refs"`
	Source         Source      `json:"source"`
	Scope          Scope       `json:"scope"`
	Integrity      Integrity   `json:"integrity"`
}

// Memory is the indexed, queryable projection of an envelope plus its
// indexed body text.
type Memory struct {
	Envelope
	BodyText string `json:"body_text"`
}

// Event is one line of the append-only event log.
type Event struct {
	EventID   string         `json:"event_id"`
	EventType EventType      `json:"event_type"`
	EventTime time.Time      `json:"event_time"`
	MemoryID  string         `json:"memory_id"`
	Payload   map[string]any `json:"payload"`
}

// Edge is a derived, weighted inter-memory link.
type Edge struct {
	SrcID  string   `json:"src_id"`
	DstID  string   `json:"dst_id"`
	Weight float64  `json:"weight"`
	Kind   EdgeKind `json:"kind"`
}

// CoreBlock is a persistent top-of-context directive.
type CoreBlock struct {
	ProjectID string   `json:"project_id"`
	SessionID string   `json:"session_id"`
	Name      string   `json:"name"`
	Lines     []string `json:"lines"`
	Priority  int      `json:"priority"`
	Topic     string   `json:"topic,omitempty"`
}

// NewID returns an opaque 32-character hex token, matching the reference
// implementation's uuid4().hex id shape.
func NewID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// UTCNow returns the current time truncated to second granularity in UTC,
// matching the on-disk timestamp precision in spec.md §3.
func UTCNow() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
