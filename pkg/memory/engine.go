// Package memory implements the agent memory engine: the orchestrator that
// decides, for every new fact or observation surfaced during conversation,
// whether to add it, merge it into an existing record, supersede a
// contradicted one, or discard it as redundant.
//
// The engine composes the embedding adapter, the similarity engine, the
// conflict/decision engine and the store into two public workflows —
// ProcessUserFact for the global user profile and ProcessAgentMemory for the
// per-agent memory graph — plus retrieval and decay entry points.
package memory

import (
	"sort"
	"sync"

	"github.com/bwmarrin/snowflake"

	"github.com/emberchat/ember/pkg/decision"
	"github.com/emberchat/ember/pkg/embedding"
	"github.com/emberchat/ember/pkg/llm"
	"github.com/emberchat/ember/pkg/similarity"
	"github.com/emberchat/ember/pkg/store"
)

const (
	// SameCategoryThreshold accepts moderate similarity when candidate and
	// existing item share a category; same-topic statements are related
	// even when phrased differently.
	SameCategoryThreshold = 0.25

	// CrossCategoryThreshold is the stricter acceptance bar across
	// categories.
	CrossCategoryThreshold = 0.4

	// DefaultMinSimilarity is the raw-similarity floor for retrieval.
	DefaultMinSimilarity = 0.3

	// DefaultSimilarityWeight and DefaultStrengthWeight combine similarity
	// and retention strength into the hybrid retrieval score.
	DefaultSimilarityWeight = 0.6
	DefaultStrengthWeight   = 0.4

	// DefaultMaxExpansion caps how many same-category facts category
	// expansion may append.
	DefaultMaxExpansion = 5
)

// ResultKind classifies what a processing workflow did with a candidate.
type ResultKind string

const (
	ResultAdded           ResultKind = "added"
	ResultUpdated         ResultKind = "updated"
	ResultDeletedAndAdded ResultKind = "deleted_and_added"
	ResultSkipped         ResultKind = "skipped"
)

// Outcome is the classified result of processing one candidate.
type Outcome struct {
	// Result classifies the mutation performed.
	Result ResultKind

	// ID is the surviving record's id: the new record for added and
	// deleted_and_added, the updated record for updated, zero for skipped.
	ID int64

	// Decision is the raw judge verdict for caller-side logging. Nil when
	// the workflow short-circuited or resolved heuristically.
	Decision *decision.Decision

	// Conflict is the heuristic verdict when the rule-based detector
	// resolved the candidate. Nil otherwise.
	Conflict *decision.Conflict

	// EmbeddingSource tags which backend produced the candidate's vector
	// ("remote" or "local").
	EmbeddingSource string
}

// Engine is the memory engine. All mutating entry points serialize per agent
// (and globally for the shared user profile) so the decay sweep and manual
// processing never interleave writes to the same aggregate.
type Engine struct {
	store    store.Store
	embedder *embedding.Adapter
	judge    *decision.Judge
	detector *decision.Detector
	resolver *decision.Resolver
	node     *snowflake.Node

	profileMu sync.Mutex

	agentMu sync.Mutex
	agents  map[string]*sync.Mutex

	// ownedStore is set by NewEngineFromConfig; an engine built over a
	// caller-provided store never closes it.
	ownedStore store.Store
}

// Option configures an Engine.
type Option func(*Engine)

// WithJudge sets the LLM-backed judge. Without one the engine relies on the
// rule-based conflict detector alone and adds whatever it cannot classify.
func WithJudge(provider llm.Provider) Option {
	return func(e *Engine) {
		if provider != nil {
			e.judge = decision.NewJudge(provider)
		}
	}
}

// NewEngine creates a memory engine over a store and an embedding adapter.
func NewEngine(s store.Store, embedder *embedding.Adapter, opts ...Option) (*Engine, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, opErr("init", err)
	}

	e := &Engine{
		store:    s,
		embedder: embedder,
		detector: decision.NewDetector(),
		resolver: decision.NewResolver(s),
		node:     node,
		agents:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Close releases the engine's resources. A caller-provided store stays
// open; a store built by NewEngineFromConfig is closed with the engine.
func (e *Engine) Close() error {
	err := e.embedder.Close()
	if e.ownedStore != nil {
		if storeErr := e.ownedStore.Close(); err == nil {
			err = storeErr
		}
	}
	return err
}

// nextID mints a new record id.
func (e *Engine) nextID() int64 {
	return e.node.Generate().Int64()
}

// lockAgent serializes mutating work per agent.
func (e *Engine) lockAgent(agentID string) func() {
	e.agentMu.Lock()
	mu, ok := e.agents[agentID]
	if !ok {
		mu = &sync.Mutex{}
		e.agents[agentID] = mu
	}
	e.agentMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// acceptThreshold picks the similarity bar for a candidate/existing pair.
func acceptThreshold(candidate, existing store.Category) float64 {
	if candidate != "" && candidate == existing {
		return SameCategoryThreshold
	}
	return CrossCategoryThreshold
}

// scored pairs an existing record with its similarity to the candidate.
type scored struct {
	id         int64
	content    string
	category   store.Category
	similarity float64
}

// rankAgainst scores the candidate vector against existing items, keeping
// those that clear the per-pair category threshold, best first. Items whose
// stored vector has a different dimension are skipped, never fatal.
func rankAgainst(vector []float64, category store.Category, items []scoredInput) []scored {
	var kept []scored
	for _, item := range items {
		sim, err := similarity.Cosine(vector, item.embedding)
		if err != nil {
			continue
		}
		if sim < acceptThreshold(category, item.category) {
			continue
		}
		kept = append(kept, scored{id: item.id, content: item.content, category: item.category, similarity: sim})
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].similarity > kept[j].similarity
	})
	return kept
}

type scoredInput struct {
	id        int64
	content   string
	category  store.Category
	embedding []float64
}

func toSimilarItems(ranked []scored) []decision.SimilarItem {
	items := make([]decision.SimilarItem, len(ranked))
	for i, r := range ranked {
		items[i] = decision.SimilarItem{ID: r.id, Content: r.content, Category: r.category, Similarity: r.similarity}
	}
	return items
}
