package memory

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/emberchat/ember/pkg/decision"
	"github.com/emberchat/ember/pkg/similarity"
	"github.com/emberchat/ember/pkg/store"
)

// MemoryCandidate is an observation an agent wants to remember, before
// deduplication.
type MemoryCandidate struct {
	// Content is the observation text.
	Content string

	// Category classifies the observation by topic.
	Category store.Category

	// EmotionalWeight slows decay for emotionally significant memories,
	// 0-100.
	EmotionalWeight float64
}

// ProcessAgentMemory runs the full deduplication workflow for one candidate
// memory: embed, rank against the agent's live memories, short-circuit to
// ADD when nothing similar exists, otherwise resolve via the conflict
// detector or the LLM judge. Contradicted memories are superseded, never
// deleted, so history stays traversable.
func (e *Engine) ProcessAgentMemory(ctx context.Context, agentID string, cand MemoryCandidate) (*Outcome, error) {
	result, err := e.embedder.Embed(ctx, cand.Content)
	if err != nil {
		return nil, embedErr("process memory", err)
	}

	unlock := e.lockAgent(agentID)
	defer unlock()

	if err := e.ensureRelationship(ctx, agentID); err != nil {
		return nil, err
	}

	live, err := e.store.LiveMemories(ctx, agentID)
	if err != nil {
		return nil, opErr("process memory", err)
	}

	inputs := make([]scoredInput, len(live))
	byID := make(map[int64]*store.AgentMemory, len(live))
	for i, m := range live {
		inputs[i] = scoredInput{id: m.ID, content: m.Content, category: m.Category, embedding: m.Embedding}
		byID[m.ID] = m
	}

	ranked := rankAgainst(result.Vector, cand.Category, inputs)
	if len(ranked) == 0 {
		memory := e.buildMemory(agentID, cand, result.Vector)
		if err := e.store.InsertMemory(ctx, memory); err != nil {
			return nil, opErr("process memory", err)
		}
		return &Outcome{Result: ResultAdded, ID: memory.ID, EmbeddingSource: result.Source}, nil
	}

	top := ranked[0]
	if top.similarity >= decision.ConflictThreshold {
		conflict := e.detector.Detect(top.content, cand.Content, top.similarity)
		outcome, handled, err := e.resolveMemoryConflict(ctx, conflict, byID[top.id], agentID, cand, result.Vector, result.Source)
		if err != nil {
			return nil, err
		}
		if handled {
			return outcome, nil
		}
	}

	if e.judge == nil {
		memory := e.buildMemory(agentID, cand, result.Vector)
		if err := e.store.InsertMemory(ctx, memory); err != nil {
			return nil, opErr("process memory", err)
		}
		return &Outcome{Result: ResultAdded, ID: memory.ID, EmbeddingSource: result.Source}, nil
	}

	verdict := e.judge.Decide(ctx, decision.Candidate{Content: cand.Content, Category: cand.Category}, toSimilarItems(ranked))
	return e.executeMemoryVerdict(ctx, verdict, agentID, cand, result.Vector, result.Source)
}

// resolveMemoryConflict hands a detector verdict to the resolver, which
// performs supersede-and-relink for keep_new and merge. The second return
// value is false when the candidate should go to the judge instead.
func (e *Engine) resolveMemoryConflict(ctx context.Context, conflict *decision.Conflict, existing *store.AgentMemory, agentID string, cand MemoryCandidate, vector []float64, source string) (*Outcome, bool, error) {
	switch conflict.Strategy {
	case decision.StrategyKeepOld:
		return &Outcome{Result: ResultSkipped, Conflict: conflict, EmbeddingSource: source}, true, nil

	case decision.StrategyKeepNew, decision.StrategyMerge:
		incoming := e.buildMemory(agentID, cand, vector)
		resolution, err := e.resolver.Resolve(ctx, conflict, existing, incoming)
		if err != nil {
			return nil, false, opErr("process memory", err)
		}
		result := ResultDeletedAndAdded
		if conflict.Strategy == decision.StrategyMerge {
			result = ResultUpdated
		}
		return &Outcome{Result: result, ID: resolution.NewID, Conflict: conflict, EmbeddingSource: source}, true, nil

	default:
		return nil, false, nil
	}
}

func (e *Engine) executeMemoryVerdict(ctx context.Context, verdict *decision.Decision, agentID string, cand MemoryCandidate, vector []float64, source string) (*Outcome, error) {
	switch verdict.Operation {
	case decision.OpNoop:
		return &Outcome{Result: ResultSkipped, Decision: verdict, EmbeddingSource: source}, nil

	case decision.OpUpdate:
		result, err := e.embedder.Embed(ctx, verdict.MergedContent)
		if err != nil {
			return nil, embedErr("process memory", err)
		}
		updated, err := e.store.UpdateMemoryContent(ctx, verdict.TargetID, verdict.MergedContent, result.Vector)
		if err != nil {
			return nil, opErr("process memory", err)
		}
		return &Outcome{Result: ResultUpdated, ID: updated.ID, Decision: verdict, EmbeddingSource: source}, nil

	case decision.OpDelete:
		incoming := e.buildMemory(agentID, cand, vector)
		if err := e.store.InsertMemory(ctx, incoming); err != nil {
			return nil, opErr("process memory", err)
		}
		if err := e.store.MarkSuperseded(ctx, verdict.TargetID, incoming.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, opErr("process memory", err)
		}
		link := &store.MemoryLink{
			ID:        uuid.NewString(),
			SourceID:  incoming.ID,
			TargetID:  verdict.TargetID,
			Kind:      store.LinkContradicts,
			CreatedAt: time.Now(),
		}
		if err := e.store.InsertLink(ctx, link); err != nil {
			return nil, opErr("process memory", err)
		}
		return &Outcome{Result: ResultDeletedAndAdded, ID: incoming.ID, Decision: verdict, EmbeddingSource: source}, nil

	default:
		incoming := e.buildMemory(agentID, cand, vector)
		if err := e.store.InsertMemory(ctx, incoming); err != nil {
			return nil, opErr("process memory", err)
		}
		return &Outcome{Result: ResultAdded, ID: incoming.ID, Decision: verdict, EmbeddingSource: source}, nil
	}
}

// buildMemory assembles a fresh memory at full strength.
func (e *Engine) buildMemory(agentID string, cand MemoryCandidate, vector []float64) *store.AgentMemory {
	now := time.Now()
	return &store.AgentMemory{
		ID:              e.nextID(),
		AgentID:         agentID,
		Content:         cand.Content,
		Category:        cand.Category,
		Strength:        100,
		EmotionalWeight: cand.EmotionalWeight,
		CreatedAt:       now,
		LastRecalledAt:  now,
		Vividness:       store.VividnessVivid,
		Embedding:       vector,
	}
}

// ensureRelationship lazily creates the agent's relationship aggregate on
// first contact.
func (e *Engine) ensureRelationship(ctx context.Context, agentID string) error {
	_, err := e.store.GetRelationship(ctx, agentID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return opErr("ensure relationship", err)
	}

	rel := &store.AgentRelationship{
		AgentID:         agentID,
		LastInteraction: time.Now(),
		DomainMemory:    map[string]interface{}{},
	}
	if err := e.store.UpsertRelationship(ctx, rel); err != nil {
		return opErr("ensure relationship", err)
	}
	return nil
}

// AddMemory stores a memory directly, bypassing deduplication.
func (e *Engine) AddMemory(ctx context.Context, agentID string, cand MemoryCandidate) (*store.AgentMemory, error) {
	result, err := e.embedder.Embed(ctx, cand.Content)
	if err != nil {
		return nil, embedErr("add memory", err)
	}

	unlock := e.lockAgent(agentID)
	defer unlock()

	if err := e.ensureRelationship(ctx, agentID); err != nil {
		return nil, err
	}

	memory := e.buildMemory(agentID, cand, result.Vector)
	if err := e.store.InsertMemory(ctx, memory); err != nil {
		return nil, opErr("add memory", err)
	}
	return memory, nil
}

// RecallMemory registers that a memory was used: strength is boosted by 5
// (clamped to 100), the recall count increments, and vividness may upgrade
// based on the new count.
func (e *Engine) RecallMemory(ctx context.Context, id int64) (*store.AgentMemory, error) {
	memory, err := e.store.GetMemory(ctx, id)
	if err != nil {
		return nil, opErr("recall memory", err)
	}

	unlock := e.lockAgent(memory.AgentID)
	defer unlock()

	memory.Strength += 5
	if memory.Strength > 100 {
		memory.Strength = 100
	}
	memory.RecallCount++
	memory.LastRecalledAt = time.Now()
	memory.Vividness = store.RecallUpgrade(memory.Vividness, memory.RecallCount)

	if err := e.store.SaveRecallState(ctx, memory); err != nil {
		return nil, opErr("recall memory", err)
	}
	return memory, nil
}

// GetActiveMemories returns the agent's active memories, strongest first.
func (e *Engine) GetActiveMemories(ctx context.Context, agentID string, limit int) ([]*store.AgentMemory, error) {
	memories, err := e.store.ActiveMemories(ctx, agentID, limit)
	if err != nil {
		return nil, opErr("active memories", err)
	}
	return memories, nil
}

// MemoryMatch is a retrieval hit from an agent's memory graph.
type MemoryMatch struct {
	// Memory is the matched record.
	Memory *store.AgentMemory

	// Similarity is the raw cosine similarity to the query.
	Similarity float64

	// Score is the hybrid retrieval score the results are ordered by.
	Score float64
}

// HybridOptions tunes HybridRetrieveMemories. The zero value gives the
// default 0.6/0.4 similarity/strength blend with a 0.3 similarity floor.
type HybridOptions struct {
	SimilarityWeight float64
	StrengthWeight   float64

	// MinSimilarity filters on raw similarity, not the hybrid score: a
	// very strong but unrelated memory must not surface.
	MinSimilarity float64
}

// HybridRetrieveMemories embeds the query and ranks the agent's
// non-superseded memories by a blend of similarity and retention strength.
func (e *Engine) HybridRetrieveMemories(ctx context.Context, agentID, query string, limit int, opts HybridOptions) ([]*MemoryMatch, error) {
	if opts.SimilarityWeight <= 0 {
		opts.SimilarityWeight = DefaultSimilarityWeight
	}
	if opts.StrengthWeight <= 0 {
		opts.StrengthWeight = DefaultStrengthWeight
	}
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = DefaultMinSimilarity
	}

	result, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, embedErr("retrieve memories", err)
	}

	live, err := e.store.LiveMemories(ctx, agentID)
	if err != nil {
		return nil, opErr("retrieve memories", err)
	}

	var matches []*MemoryMatch
	for _, memory := range live {
		if len(memory.Embedding) == 0 {
			continue
		}
		sim, err := similarity.Cosine(result.Vector, memory.Embedding)
		if err != nil || sim < opts.MinSimilarity {
			continue
		}
		matches = append(matches, &MemoryMatch{
			Memory:     memory,
			Similarity: sim,
			Score:      sim*opts.SimilarityWeight + (memory.Strength/100)*opts.StrengthWeight,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// RetrieveRelevantMemories is the prompt-construction entry point, a hybrid
// retrieval with default weights.
func (e *Engine) RetrieveRelevantMemories(ctx context.Context, agentID, query string, limit int, minSimilarity float64) ([]*MemoryMatch, error) {
	return e.HybridRetrieveMemories(ctx, agentID, query, limit, HybridOptions{MinSimilarity: minSimilarity})
}

// AddMemoryLink inserts a graph edge between two of an agent's memories.
func (e *Engine) AddMemoryLink(ctx context.Context, sourceID, targetID int64, kind store.LinkKind, sim float64) (*store.MemoryLink, error) {
	link := &store.MemoryLink{
		ID:         uuid.NewString(),
		SourceID:   sourceID,
		TargetID:   targetID,
		Kind:       kind,
		Similarity: sim,
		CreatedAt:  time.Now(),
	}
	if err := e.store.InsertLink(ctx, link); err != nil {
		return nil, opErr("link memories", err)
	}
	return link, nil
}

// RelatedMemory is a graph-traversal hit with its hop distance from the
// starting memory.
type RelatedMemory struct {
	Memory   *store.AgentMemory
	Distance int
}

// FindRelatedMemories walks the link graph breadth-first from a memory, up
// to maxHops edges away. Traversal follows edges in both directions and
// deduplicates visited nodes. Superseded memories stay reachable here —
// the graph is the audit trail for replacement chains — and carry their
// SupersededBy marker so callers can filter them out.
func (e *Engine) FindRelatedMemories(ctx context.Context, id int64, maxHops int) ([]*RelatedMemory, error) {
	if maxHops <= 0 {
		return nil, nil
	}

	visited := map[int64]bool{id: true}
	frontier := []int64{id}
	var related []*RelatedMemory

	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []int64
		for _, current := range frontier {
			links, err := e.store.LinksForMemory(ctx, current)
			if err != nil {
				return nil, opErr("related memories", err)
			}
			for _, link := range links {
				neighbor := link.TargetID
				if neighbor == current {
					neighbor = link.SourceID
				}
				if visited[neighbor] {
					continue
				}
				visited[neighbor] = true

				memory, err := e.store.GetMemory(ctx, neighbor)
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				if err != nil {
					return nil, opErr("related memories", err)
				}

				next = append(next, neighbor)
				related = append(related, &RelatedMemory{Memory: memory, Distance: hop})
			}
		}
		frontier = next
	}

	return related, nil
}

// TouchInteraction records one user interaction with an agent, bumping the
// relationship counters. Creates the aggregate on first contact.
func (e *Engine) TouchInteraction(ctx context.Context, agentID string) (*store.AgentRelationship, error) {
	unlock := e.lockAgent(agentID)
	defer unlock()

	rel, err := e.store.GetRelationship(ctx, agentID)
	if errors.Is(err, store.ErrNotFound) {
		rel = &store.AgentRelationship{
			AgentID:      agentID,
			DomainMemory: map[string]interface{}{},
		}
	} else if err != nil {
		return nil, opErr("touch interaction", err)
	}

	rel.TotalInteractions++
	rel.LastInteraction = time.Now()
	if rel.Familiarity < 100 {
		rel.Familiarity++
	}

	if err := e.store.UpsertRelationship(ctx, rel); err != nil {
		return nil, opErr("touch interaction", err)
	}
	return rel, nil
}
