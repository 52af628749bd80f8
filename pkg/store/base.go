// Package store provides interfaces and record types for memory persistence.
//
// It defines the Store interface that all storage backends must satisfy,
// along with the two record families the memory engine maintains: the global
// deduplicated user-fact profile and the per-agent memory graph (memories,
// relationship aggregate, memory links).
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates that a requested record does not exist.
//
// Updating or deleting a missing id is normal control flow for the memory
// engine, never a fatal condition, so callers match on this sentinel.
var ErrNotFound = errors.New("store: record not found")

// ActiveStrengthFloor is the strength above which an agent memory counts as
// active. Weaker memories are kept until the decay sweep evicts them, but no
// longer surface in active-memory queries.
const ActiveStrengthFloor = 10.0

// Category classifies facts and memories by topic.
type Category string

const (
	CategoryPersonal     Category = "personal"
	CategoryPreference   Category = "preference"
	CategoryWork         Category = "work"
	CategoryHealth       Category = "health"
	CategoryRelationship Category = "relationship"
	CategoryGoal         Category = "goal"
	CategoryEvent        Category = "event"
	CategoryEmotion      Category = "emotion"
	CategoryOther        Category = "other"
)

// Vividness is a categorical proxy for memory strength, used by
// prompt-construction code to weight how prominently a memory is presented.
type Vividness string

const (
	VividnessVivid    Vividness = "vivid"
	VividnessClear    Vividness = "clear"
	VividnessHazy     Vividness = "hazy"
	VividnessFragment Vividness = "fragment"
)

// VividnessForStrength derives vividness from current strength. This is the
// downgrade rule applied on decay ticks.
func VividnessForStrength(strength float64) Vividness {
	switch {
	case strength < 20:
		return VividnessFragment
	case strength < 50:
		return VividnessHazy
	case strength < 80:
		return VividnessClear
	default:
		return VividnessVivid
	}
}

// RecallUpgrade applies the recall-count upgrade rule: fragment memories
// become hazy after more than 3 recalls, hazy memories become clear after
// more than 5.
//
// This rule is independent of VividnessForStrength; the two can disagree for
// a frequently recalled but weak memory. The engine resolves the disagreement
// last-writer-wins by event type: recalls apply this rule, decay ticks apply
// the strength rule.
func RecallUpgrade(current Vividness, recallCount int) Vividness {
	switch current {
	case VividnessFragment:
		if recallCount > 3 {
			return VividnessHazy
		}
	case VividnessHazy:
		if recallCount > 5 {
			return VividnessClear
		}
	}
	return current
}

// DecayRatePerDay returns the strength lost per day without recall.
//
// Emotionally heavy memories fade slower, floored at 2 points per day:
//
//	rate = max(2, 5 - emotionalWeight*0.03)
func DecayRatePerDay(emotionalWeight float64) float64 {
	rate := 5.0 - emotionalWeight*0.03
	if rate < 2.0 {
		return 2.0
	}
	return rate
}

// UserFact is a single deduplicated fact in the global user profile.
//
// There is one profile per installation; facts are shared across agents, and
// Sources records which agents contributed them.
type UserFact struct {
	// ID is the unique identifier of the fact.
	ID int64

	// Content is the fact text.
	Content string

	// Category classifies the fact by topic.
	Category Category

	// Confidence is how certain the extraction was, 0-100.
	Confidence int

	// Sources lists the agent IDs that surfaced this fact.
	Sources []string

	// Embedding is the vector embedding for similarity search.
	Embedding []float64

	// CreatedAt is when the fact was created.
	CreatedAt time.Time

	// UpdatedAt is when the fact was last updated.
	UpdatedAt time.Time
}

// FactUpdate describes a partial update to a user fact. Nil fields are left
// unchanged.
type FactUpdate struct {
	Content    *string
	Category   *Category
	Confidence *int

	// AddSource appends an agent ID to the fact's sources if not already
	// present.
	AddSource string
}

// AgentMemory is a single memory owned by an agent's relationship aggregate.
//
// A memory with SupersededBy set is logically retired: excluded from
// active-memory queries and similarity search but retained for audit and
// graph traversal.
type AgentMemory struct {
	// ID is the unique identifier of the memory.
	ID int64

	// AgentID identifies the owning agent.
	AgentID string

	// Content is the memory text.
	Content string

	// Category classifies the memory by topic.
	Category Category

	// Strength is the current retention strength, 0-100. It decays over
	// time and is boosted by recall.
	Strength float64

	// EmotionalWeight slows decay for emotionally significant memories.
	EmotionalWeight float64

	// CreatedAt is when the memory was formed.
	CreatedAt time.Time

	// LastRecalledAt is when the memory was last recalled. Initialized to
	// CreatedAt for new memories.
	LastRecalledAt time.Time

	// LastDecayedAt is when decay was last applied (nil before the first
	// sweep). Anchors decay so repeated sweeps never double-charge the
	// same elapsed time.
	LastDecayedAt *time.Time

	// RecallCount is how many times the memory has been recalled.
	RecallCount int

	// LinkedMemories lists target memory IDs this memory links to.
	LinkedMemories []int64

	// Vividness is the categorical strength proxy.
	Vividness Vividness

	// Embedding is the vector embedding for similarity search.
	Embedding []float64

	// SupersededBy is the ID of the memory that replaced this one, nil for
	// active memories.
	SupersededBy *int64

	// SupersededAt is when the memory was superseded.
	SupersededAt *time.Time
}

// Active reports whether the memory participates in active-memory queries
// and similarity search.
func (m *AgentMemory) Active() bool {
	return m.SupersededBy == nil && m.Strength > ActiveStrengthFloor
}

// AgentRelationship is the per-agent aggregate that owns the agent's
// memories and relationship state. Created lazily on the first memory or
// interaction.
type AgentRelationship struct {
	// AgentID identifies the agent.
	AgentID string

	// TrustLevel is how much the agent trusts the user, 0-100.
	TrustLevel int

	// Familiarity is how well the agent knows the user, 0-100.
	Familiarity int

	// LastInteraction is when the user last interacted with the agent.
	LastInteraction time.Time

	// TotalInteractions counts interactions with the agent.
	TotalInteractions int

	// CurrentMood is the agent's current mood label.
	CurrentMood string

	// MoodNotes holds free-form notes about the agent's feelings.
	MoodNotes string

	// DomainMemory holds agent-specific structured state.
	DomainMemory map[string]interface{}

	// CreatedAt is when the aggregate was created.
	CreatedAt time.Time

	// UpdatedAt is when the aggregate was last updated.
	UpdatedAt time.Time
}

// LinkKind classifies a memory-link edge.
type LinkKind string

const (
	LinkSimilar     LinkKind = "similar"
	LinkContradicts LinkKind = "contradicts"
	LinkUpdates     LinkKind = "updates"
	LinkRelated     LinkKind = "related"
)

// MemoryLink is a directed edge in the knowledge graph over agent memories.
//
// Traversal is undirected: callers follow an edge from either endpoint. Both
// endpoints must belong to the same agent; this is the caller's
// responsibility, not enforced structurally.
type MemoryLink struct {
	// ID is the unique identifier of the edge.
	ID string

	// SourceID is the memory the edge starts from.
	SourceID int64

	// TargetID is the memory the edge points to.
	TargetID int64

	// Kind classifies the relationship between the two memories.
	Kind LinkKind

	// Similarity is the cosine similarity between the two memories at the
	// time the edge was created.
	Similarity float64

	// CreatedAt is when the edge was created.
	CreatedAt time.Time
}

// Store defines the interface for memory persistence backends.
//
// Backends persist records exactly as given: embedding generation, similarity
// ranking, and decay math happen in the memory engine. All mutating methods
// that take an id return ErrNotFound when no such record exists.
type Store interface {
	// InsertFact inserts a user fact. ID and embedding must be set by the
	// caller; timestamps are assigned by the store.
	InsertFact(ctx context.Context, fact *UserFact) error

	// GetFact retrieves a user fact by ID.
	GetFact(ctx context.Context, id int64) (*UserFact, error)

	// UpdateFact applies a partial update. embedding replaces the stored
	// vector when non-nil (the caller re-embeds only on content change).
	UpdateFact(ctx context.Context, id int64, upd *FactUpdate, embedding []float64) (*UserFact, error)

	// DeleteFact removes a user fact.
	DeleteFact(ctx context.Context, id int64) error

	// ListFacts returns all user facts.
	ListFacts(ctx context.Context) ([]*UserFact, error)

	// FactsByCategory returns all facts in a category, ordered by
	// confidence descending. Used by category expansion.
	FactsByCategory(ctx context.Context, category Category) ([]*UserFact, error)

	// GetRelationship retrieves an agent's relationship aggregate.
	GetRelationship(ctx context.Context, agentID string) (*AgentRelationship, error)

	// UpsertRelationship creates or replaces an agent's relationship
	// aggregate.
	UpsertRelationship(ctx context.Context, rel *AgentRelationship) error

	// ListAgentIDs returns the IDs of all agents with a relationship
	// aggregate. Drives the decay sweep.
	ListAgentIDs(ctx context.Context) ([]string, error)

	// InsertMemory inserts an agent memory. ID and embedding must be set
	// by the caller.
	InsertMemory(ctx context.Context, memory *AgentMemory) error

	// GetMemory retrieves an agent memory by ID, superseded or not.
	GetMemory(ctx context.Context, id int64) (*AgentMemory, error)

	// ActiveMemories returns non-superseded memories with strength above
	// ActiveStrengthFloor, ordered by strength descending. limit <= 0
	// means no limit.
	ActiveMemories(ctx context.Context, agentID string, limit int) ([]*AgentMemory, error)

	// LiveMemories returns all non-superseded memories for an agent
	// regardless of strength. The decay sweep iterates these.
	LiveMemories(ctx context.Context, agentID string) ([]*AgentMemory, error)

	// UpdateMemoryContent replaces a memory's content and embedding.
	UpdateMemoryContent(ctx context.Context, id int64, content string, embedding []float64) (*AgentMemory, error)

	// SaveRecallState persists strength, recall count, last-recalled
	// timestamp and vividness after a recall, as a single statement.
	SaveRecallState(ctx context.Context, memory *AgentMemory) error

	// SaveDecayState persists strength, vividness and the decay anchor
	// after a decay tick, as a single statement.
	SaveDecayState(ctx context.Context, memory *AgentMemory) error

	// MarkSuperseded retires the old memory in favor of the new one. The
	// old record is retained for audit and graph traversal.
	MarkSuperseded(ctx context.Context, oldID, newID int64) error

	// DeleteMemory physically removes a memory. Used by the decay sweep
	// once strength reaches zero and by explicit user deletion.
	DeleteMemory(ctx context.Context, id int64) error

	// InsertLink inserts a graph edge and appends the target ID to the
	// source memory's linked-memories list.
	InsertLink(ctx context.Context, link *MemoryLink) error

	// LinksForMemory returns all edges where the memory is either source
	// or target.
	LinksForMemory(ctx context.Context, id int64) ([]*MemoryLink, error)

	// Close closes the store and releases resources.
	Close() error
}
