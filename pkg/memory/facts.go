package memory

import (
	"context"
	"errors"
	"sort"

	"github.com/emberchat/ember/pkg/decision"
	"github.com/emberchat/ember/pkg/similarity"
	"github.com/emberchat/ember/pkg/store"
)

// FactCandidate is a user fact extracted from conversation, before
// deduplication.
type FactCandidate struct {
	// Content is the fact text.
	Content string

	// Category classifies the fact by topic.
	Category store.Category

	// Confidence is how certain the extraction was, 0-100.
	Confidence int

	// SourceAgentID identifies the agent that surfaced the fact. Optional.
	SourceAgentID string
}

// ProcessUserFact runs the full deduplication workflow for one candidate
// fact: embed, rank against the existing profile, short-circuit to ADD when
// nothing similar exists, otherwise resolve via the conflict detector or the
// LLM judge and execute the verdict.
func (e *Engine) ProcessUserFact(ctx context.Context, cand FactCandidate) (*Outcome, error) {
	result, err := e.embedder.Embed(ctx, cand.Content)
	if err != nil {
		return nil, embedErr("process fact", err)
	}

	e.profileMu.Lock()
	defer e.profileMu.Unlock()

	return e.processFactWithVector(ctx, cand, result.Vector, result.Source)
}

// ProcessUserFacts processes a batch of candidates, amortizing embedding
// cost over one batch call. Candidates are then resolved in order, so
// earlier candidates in the batch are visible to later ones.
func (e *Engine) ProcessUserFacts(ctx context.Context, cands []FactCandidate) ([]*Outcome, error) {
	if len(cands) == 0 {
		return nil, nil
	}

	texts := make([]string, len(cands))
	for i, cand := range cands {
		texts[i] = cand.Content
	}
	results, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, embedErr("process facts", err)
	}

	e.profileMu.Lock()
	defer e.profileMu.Unlock()

	outcomes := make([]*Outcome, len(cands))
	for i, cand := range cands {
		outcome, err := e.processFactWithVector(ctx, cand, results[i].Vector, results[i].Source)
		if err != nil {
			return outcomes, err
		}
		outcomes[i] = outcome
	}
	return outcomes, nil
}

func (e *Engine) processFactWithVector(ctx context.Context, cand FactCandidate, vector []float64, source string) (*Outcome, error) {
	existing, err := e.store.ListFacts(ctx)
	if err != nil {
		return nil, opErr("process fact", err)
	}

	inputs := make([]scoredInput, len(existing))
	byID := make(map[int64]*store.UserFact, len(existing))
	for i, fact := range existing {
		inputs[i] = scoredInput{id: fact.ID, content: fact.Content, category: fact.Category, embedding: fact.Embedding}
		byID[fact.ID] = fact
	}

	ranked := rankAgainst(vector, cand.Category, inputs)
	if len(ranked) == 0 {
		fact, err := e.insertFact(ctx, cand, vector)
		if err != nil {
			return nil, err
		}
		return &Outcome{Result: ResultAdded, ID: fact.ID, EmbeddingSource: source}, nil
	}

	// Rule-based resolution first: high-similarity pairs with a clear
	// pattern never need a model call.
	top := ranked[0]
	if top.similarity >= decision.ConflictThreshold {
		conflict := e.detector.Detect(top.content, cand.Content, top.similarity)
		outcome, handled, err := e.resolveFactConflict(ctx, conflict, byID[top.id], cand, vector, source)
		if err != nil {
			return nil, err
		}
		if handled {
			return outcome, nil
		}
	}

	if e.judge == nil {
		fact, err := e.insertFact(ctx, cand, vector)
		if err != nil {
			return nil, err
		}
		return &Outcome{Result: ResultAdded, ID: fact.ID, EmbeddingSource: source}, nil
	}

	verdict := e.judge.Decide(ctx, decision.Candidate{Content: cand.Content, Category: cand.Category}, toSimilarItems(ranked))
	return e.executeFactVerdict(ctx, verdict, cand, vector, source)
}

// resolveFactConflict applies a detector verdict to the user-fact profile.
// Facts have no superseding chain: keep_new deletes and replaces. The second
// return value is false when the verdict is too ambiguous to act on and the
// candidate should go to the judge.
func (e *Engine) resolveFactConflict(ctx context.Context, conflict *decision.Conflict, existing *store.UserFact, cand FactCandidate, vector []float64, source string) (*Outcome, bool, error) {
	switch conflict.Strategy {
	case decision.StrategyKeepOld:
		if existing != nil && cand.SourceAgentID != "" {
			if _, err := e.store.UpdateFact(ctx, existing.ID, &store.FactUpdate{AddSource: cand.SourceAgentID}, nil); err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, false, opErr("process fact", err)
			}
		}
		return &Outcome{Result: ResultSkipped, Conflict: conflict, EmbeddingSource: source}, true, nil

	case decision.StrategyKeepNew:
		if err := e.store.DeleteFact(ctx, existing.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, false, opErr("process fact", err)
		}
		fact, err := e.insertFact(ctx, cand, vector)
		if err != nil {
			return nil, false, err
		}
		return &Outcome{Result: ResultDeletedAndAdded, ID: fact.ID, Conflict: conflict, EmbeddingSource: source}, true, nil

	case decision.StrategyMerge:
		merged := decision.MergeContents(existing.Content, cand.Content)
		outcome, err := e.updateFactContent(ctx, existing.ID, merged, cand.SourceAgentID)
		if err != nil {
			return nil, false, err
		}
		outcome.Conflict = conflict
		outcome.EmbeddingSource = source
		return outcome, true, nil

	default:
		// ask_user and none defer to the judge.
		return nil, false, nil
	}
}

func (e *Engine) executeFactVerdict(ctx context.Context, verdict *decision.Decision, cand FactCandidate, vector []float64, source string) (*Outcome, error) {
	switch verdict.Operation {
	case decision.OpNoop:
		return &Outcome{Result: ResultSkipped, Decision: verdict, EmbeddingSource: source}, nil

	case decision.OpUpdate:
		outcome, err := e.updateFactContent(ctx, verdict.TargetID, verdict.MergedContent, cand.SourceAgentID)
		if err != nil {
			return nil, err
		}
		outcome.Decision = verdict
		outcome.EmbeddingSource = source
		return outcome, nil

	case decision.OpDelete:
		if err := e.store.DeleteFact(ctx, verdict.TargetID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, opErr("process fact", err)
		}
		fact, err := e.insertFact(ctx, cand, vector)
		if err != nil {
			return nil, err
		}
		return &Outcome{Result: ResultDeletedAndAdded, ID: fact.ID, Decision: verdict, EmbeddingSource: source}, nil

	default:
		fact, err := e.insertFact(ctx, cand, vector)
		if err != nil {
			return nil, err
		}
		return &Outcome{Result: ResultAdded, ID: fact.ID, Decision: verdict, EmbeddingSource: source}, nil
	}
}

// updateFactContent replaces a fact's content, re-embedding the new text.
// Embedding failure cancels the mutation.
func (e *Engine) updateFactContent(ctx context.Context, id int64, content, sourceAgentID string) (*Outcome, error) {
	result, err := e.embedder.Embed(ctx, content)
	if err != nil {
		return nil, embedErr("update fact", err)
	}

	updated, err := e.store.UpdateFact(ctx, id, &store.FactUpdate{
		Content:   &content,
		AddSource: sourceAgentID,
	}, result.Vector)
	if err != nil {
		return nil, opErr("update fact", err)
	}
	return &Outcome{Result: ResultUpdated, ID: updated.ID}, nil
}

func (e *Engine) insertFact(ctx context.Context, cand FactCandidate, vector []float64) (*store.UserFact, error) {
	fact := &store.UserFact{
		ID:         e.nextID(),
		Content:    cand.Content,
		Category:   cand.Category,
		Confidence: cand.Confidence,
		Embedding:  vector,
	}
	if cand.SourceAgentID != "" {
		fact.Sources = []string{cand.SourceAgentID}
	}
	if err := e.store.InsertFact(ctx, fact); err != nil {
		return nil, opErr("add fact", err)
	}
	return fact, nil
}

// AddFact stores a fact directly, bypassing deduplication. Used for explicit
// user-entered facts.
func (e *Engine) AddFact(ctx context.Context, cand FactCandidate) (*store.UserFact, error) {
	result, err := e.embedder.Embed(ctx, cand.Content)
	if err != nil {
		return nil, embedErr("add fact", err)
	}

	e.profileMu.Lock()
	defer e.profileMu.Unlock()

	return e.insertFact(ctx, cand, result.Vector)
}

// UpdateFact applies a partial update. When the content changes the fact is
// re-embedded first; embedding failure cancels the whole update.
func (e *Engine) UpdateFact(ctx context.Context, id int64, upd *store.FactUpdate) (*store.UserFact, error) {
	var vector []float64
	if upd.Content != nil {
		result, err := e.embedder.Embed(ctx, *upd.Content)
		if err != nil {
			return nil, embedErr("update fact", err)
		}
		vector = result.Vector
	}

	e.profileMu.Lock()
	defer e.profileMu.Unlock()

	updated, err := e.store.UpdateFact(ctx, id, upd, vector)
	if err != nil {
		return nil, opErr("update fact", err)
	}
	return updated, nil
}

// DeleteFact removes a fact on explicit user action.
func (e *Engine) DeleteFact(ctx context.Context, id int64) error {
	e.profileMu.Lock()
	defer e.profileMu.Unlock()

	if err := e.store.DeleteFact(ctx, id); err != nil {
		return opErr("delete fact", err)
	}
	return nil
}

// FactMatch is a retrieval hit from the user profile.
type FactMatch struct {
	// Fact is the matched record.
	Fact *store.UserFact

	// Similarity is the cosine similarity to the query. Zero for
	// category-expansion additions whose vector was never compared.
	Similarity float64

	// Expanded is true when the fact was appended by category expansion
	// rather than matched by similarity.
	Expanded bool
}

// FactSearchOptions tunes SearchFactsBySimilarity. The zero value gives
// similarity-only search with the default floor.
type FactSearchOptions struct {
	// Limit caps the similarity matches. <= 0 means no limit.
	Limit int

	// MinSimilarity is the raw-similarity floor. <= 0 uses
	// DefaultMinSimilarity.
	MinSimilarity float64

	// ExpandByCategory appends high-confidence facts sharing a category
	// with the top similarity matches.
	ExpandByCategory bool

	// MaxExpansion caps appended facts. <= 0 uses DefaultMaxExpansion.
	MaxExpansion int
}

// SearchFactsBySimilarity embeds the query and ranks the profile against it.
// With ExpandByCategory the result is a superset of the plain search: facts
// sharing a category with a similarity match are appended, ranked by
// confidence, never displacing a similarity match.
func (e *Engine) SearchFactsBySimilarity(ctx context.Context, query string, opts FactSearchOptions) ([]*FactMatch, error) {
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = DefaultMinSimilarity
	}
	if opts.MaxExpansion <= 0 {
		opts.MaxExpansion = DefaultMaxExpansion
	}

	result, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, embedErr("search facts", err)
	}

	facts, err := e.store.ListFacts(ctx)
	if err != nil {
		return nil, opErr("search facts", err)
	}

	byID := make(map[int64]*store.UserFact, len(facts))
	candidates := make([]similarity.Candidate, 0, len(facts))
	for _, fact := range facts {
		byID[fact.ID] = fact
		candidates = append(candidates, similarity.Candidate{ID: fact.ID, Vector: fact.Embedding})
	}

	top := similarity.TopK(result.Vector, candidates, opts.Limit, opts.MinSimilarity)

	matches := make([]*FactMatch, 0, len(top))
	seen := make(map[int64]bool, len(top))
	for _, match := range top {
		matches = append(matches, &FactMatch{Fact: byID[match.ID], Similarity: match.Score})
		seen[match.ID] = true
	}

	if !opts.ExpandByCategory || len(matches) == 0 {
		return matches, nil
	}

	categories := make(map[store.Category]bool)
	for _, match := range matches {
		categories[match.Fact.Category] = true
	}

	// Highest-confidence expansions first, across all matched categories.
	var pool []*store.UserFact
	for category := range categories {
		byCategory, err := e.store.FactsByCategory(ctx, category)
		if err != nil {
			return nil, opErr("search facts", err)
		}
		pool = append(pool, byCategory...)
	}
	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].Confidence > pool[j].Confidence
	})

	appended := 0
	for _, fact := range pool {
		if appended >= opts.MaxExpansion {
			break
		}
		if seen[fact.ID] {
			continue
		}
		matches = append(matches, &FactMatch{Fact: fact, Expanded: true})
		seen[fact.ID] = true
		appended++
	}

	return matches, nil
}

// RetrieveRelevantFacts is the prompt-construction entry point: plain
// similarity retrieval without category expansion.
func (e *Engine) RetrieveRelevantFacts(ctx context.Context, query string, limit int, minSimilarity float64) ([]*FactMatch, error) {
	return e.SearchFactsBySimilarity(ctx, query, FactSearchOptions{
		Limit:         limit,
		MinSimilarity: minSimilarity,
	})
}
