package memory_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberchat/ember/pkg/embedding"
	"github.com/emberchat/ember/pkg/llm"
	"github.com/emberchat/ember/pkg/memory"
	"github.com/emberchat/ember/pkg/store"
	"github.com/emberchat/ember/pkg/store/sqlite"
)

// vecProvider returns pre-registered vectors so tests control every
// similarity exactly.
type vecProvider struct {
	vectors map[string][]float64
	fail    bool
}

func (p *vecProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	if p.fail {
		return nil, errors.New("embedding backend down")
	}
	v, ok := p.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector registered for %q", text)
	}
	return v, nil
}

func (p *vecProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		v, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (p *vecProvider) Dimensions() int { return 3 }
func (p *vecProvider) Close() error    { return nil }

type scriptedLLM struct {
	response string
	calls    int
}

func (s *scriptedLLM) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	s.calls++
	return s.response, nil
}

func (s *scriptedLLM) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	s.calls++
	return s.response, nil
}

func (s *scriptedLLM) Close() error { return nil }

func newTestStore(t *testing.T) store.Store {
	t.Helper()

	client, err := sqlite.NewClient(&sqlite.Config{
		DBPath: filepath.Join(t.TempDir(), "memories.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func newTestEngine(t *testing.T, s store.Store, vectors map[string][]float64, judge *scriptedLLM) *memory.Engine {
	t.Helper()

	adapter := embedding.NewAdapter(&vecProvider{vectors: vectors}, nil)

	var opts []memory.Option
	if judge != nil {
		opts = append(opts, memory.WithJudge(judge))
	}
	engine, err := memory.NewEngine(s, adapter, opts...)
	require.NoError(t, err)

	return engine
}

func TestProcessUserFactAddShortCircuit(t *testing.T) {
	s := newTestStore(t)
	judge := &scriptedLLM{response: `{"operation": "NOOP"}`}
	engine := newTestEngine(t, s, map[string][]float64{
		"likes coffee": {1, 0, 0},
	}, judge)

	outcome, err := engine.ProcessUserFact(context.Background(), memory.FactCandidate{
		Content:       "likes coffee",
		Category:      store.CategoryPreference,
		Confidence:    80,
		SourceAgentID: "agent_001",
	})
	require.NoError(t, err)

	assert.Equal(t, memory.ResultAdded, outcome.Result)
	assert.NotZero(t, outcome.ID)
	assert.Equal(t, 0, judge.calls, "empty profile never consults the judge")

	facts, err := s.ListFacts(context.Background())
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, []string{"agent_001"}, facts[0].Sources)
}

func TestProcessUserFactDuplicateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	judge := &scriptedLLM{response: `{"operation": "ADD"}`}
	engine := newTestEngine(t, s, map[string][]float64{
		"likes coffee": {1, 0, 0},
	}, judge)
	ctx := context.Background()

	cand := memory.FactCandidate{Content: "likes coffee", Category: store.CategoryPreference, Confidence: 80}
	first, err := engine.ProcessUserFact(ctx, cand)
	require.NoError(t, err)
	require.Equal(t, memory.ResultAdded, first.Result)

	second, err := engine.ProcessUserFact(ctx, cand)
	require.NoError(t, err)
	assert.Equal(t, memory.ResultSkipped, second.Result)
	assert.Equal(t, 0, judge.calls, "exact duplicate is caught by the rule-based detector")

	facts, err := s.ListFacts(ctx)
	require.NoError(t, err)
	assert.Len(t, facts, 1, "net row count unchanged")
}

func TestProcessUserFactUpdateMergesIntoOneRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertFact(ctx, &store.UserFact{
		ID:         42,
		Content:    "likes coffee",
		Category:   store.CategoryPreference,
		Confidence: 80,
		Embedding:  []float64{1, 0, 0},
	}))

	judge := &scriptedLLM{response: `{"operation": "UPDATE", "reason": "refinement", "targetId": "42", "mergedContent": "likes coffee, especially loves espresso"}`}
	engine := newTestEngine(t, s, map[string][]float64{
		"loves coffee, especially espresso":       {0.95, 0.312, 0},
		"likes coffee, especially loves espresso": {0.93, 0.36, 0},
	}, judge)

	outcome, err := engine.ProcessUserFact(ctx, memory.FactCandidate{
		Content:       "loves coffee, especially espresso",
		Category:      store.CategoryPreference,
		Confidence:    85,
		SourceAgentID: "agent_002",
	})
	require.NoError(t, err)

	assert.Equal(t, memory.ResultUpdated, outcome.Result)
	assert.Equal(t, int64(42), outcome.ID)
	assert.Equal(t, 1, judge.calls)

	facts, err := s.ListFacts(ctx)
	require.NoError(t, err)
	require.Len(t, facts, 1, "exactly one fact row remains")
	assert.Equal(t, "likes coffee, especially loves espresso", facts[0].Content)
	assert.Contains(t, facts[0].Sources, "agent_002")
}

func TestProcessUserFactNegationDeletesAndAdds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertFact(ctx, &store.UserFact{
		ID:        7,
		Content:   "allergic to peanuts",
		Category:  store.CategoryHealth,
		Embedding: []float64{0, 1, 0},
	}))

	judge := &scriptedLLM{response: `{"operation": "NOOP"}`}
	engine := newTestEngine(t, s, map[string][]float64{
		"not allergic to peanuts anymore": {0.05, 0.99, 0},
	}, judge)

	outcome, err := engine.ProcessUserFact(ctx, memory.FactCandidate{
		Content:  "not allergic to peanuts anymore",
		Category: store.CategoryHealth,
	})
	require.NoError(t, err)

	assert.Equal(t, memory.ResultDeletedAndAdded, outcome.Result)
	assert.Equal(t, 0, judge.calls, "negation pattern resolves without the judge")
	require.NotNil(t, outcome.Conflict)

	facts, err := s.ListFacts(ctx)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "not allergic to peanuts anymore", facts[0].Content)

	_, err = s.GetFact(ctx, 7)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProcessAgentMemoryFirstMemory(t *testing.T) {
	s := newTestStore(t)
	judge := &scriptedLLM{response: `{"operation": "NOOP"}`}
	engine := newTestEngine(t, s, map[string][]float64{
		"user mentioned their dog Rex": {0.3, 0.3, 0.9},
	}, judge)
	ctx := context.Background()

	outcome, err := engine.ProcessAgentMemory(ctx, "agent_001", memory.MemoryCandidate{
		Content:  "user mentioned their dog Rex",
		Category: store.CategoryEvent,
	})
	require.NoError(t, err)

	assert.Equal(t, memory.ResultAdded, outcome.Result)
	assert.Equal(t, 0, judge.calls)

	created, err := s.GetMemory(ctx, outcome.ID)
	require.NoError(t, err)
	assert.InDelta(t, 100, created.Strength, 1e-9)
	assert.Equal(t, store.VividnessVivid, created.Vividness)
	assert.Equal(t, 0, created.RecallCount)

	// First contact lazily creates the relationship aggregate.
	_, err = s.GetRelationship(ctx, "agent_001")
	assert.NoError(t, err)
}

func TestProcessAgentMemoryContradictionSupersedes(t *testing.T) {
	s := newTestStore(t)
	engine := newTestEngine(t, s, map[string][]float64{
		"allergic to peanuts":             {0, 1, 0},
		"not allergic to peanuts anymore": {0.05, 0.99, 0},
	}, nil)
	ctx := context.Background()

	first, err := engine.ProcessAgentMemory(ctx, "agent_001", memory.MemoryCandidate{
		Content:  "allergic to peanuts",
		Category: store.CategoryHealth,
	})
	require.NoError(t, err)

	second, err := engine.ProcessAgentMemory(ctx, "agent_001", memory.MemoryCandidate{
		Content:  "not allergic to peanuts anymore",
		Category: store.CategoryHealth,
	})
	require.NoError(t, err)
	assert.Equal(t, memory.ResultDeletedAndAdded, second.Result)

	// Old memory is retired, not deleted.
	old, err := s.GetMemory(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, old.SupersededBy)
	assert.Equal(t, second.ID, *old.SupersededBy)

	active, err := engine.GetActiveMemories(ctx, "agent_001", 0)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)

	// History stays traversable from the replacement.
	related, err := engine.FindRelatedMemories(ctx, second.ID, 1)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, first.ID, related[0].Memory.ID)
	assert.Equal(t, 1, related[0].Distance)
}

func TestRecallBoostsAndClamps(t *testing.T) {
	s := newTestStore(t)
	engine := newTestEngine(t, s, map[string][]float64{}, nil)
	ctx := context.Background()

	require.NoError(t, s.InsertMemory(ctx, &store.AgentMemory{
		ID:        1,
		AgentID:   "agent_001",
		Content:   "user plays the violin",
		Category:  store.CategoryPersonal,
		Strength:  98,
		Vividness: store.VividnessVivid,
		Embedding: []float64{1, 0, 0},
	}))

	var recalled *store.AgentMemory
	for i := 0; i < 5; i++ {
		var err error
		recalled, err = engine.RecallMemory(ctx, 1)
		require.NoError(t, err)
	}

	assert.InDelta(t, 100, recalled.Strength, 1e-9, "strength clamps at 100")
	assert.Equal(t, 5, recalled.RecallCount)
}

func TestRecallUpgradesVividness(t *testing.T) {
	s := newTestStore(t)
	engine := newTestEngine(t, s, map[string][]float64{}, nil)
	ctx := context.Background()

	require.NoError(t, s.InsertMemory(ctx, &store.AgentMemory{
		ID:        1,
		AgentID:   "agent_001",
		Content:   "user once mentioned a trip to Lisbon",
		Category:  store.CategoryEvent,
		Strength:  15,
		Vividness: store.VividnessFragment,
		Embedding: []float64{1, 0, 0},
	}))

	for i := 0; i < 4; i++ {
		_, err := engine.RecallMemory(ctx, 1)
		require.NoError(t, err)
	}

	got, err := s.GetMemory(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, store.VividnessHazy, got.Vividness, "fragment upgrades after more than 3 recalls")
}

func seedAgedMemory(t *testing.T, s store.Store, id int64, strength, emotionalWeight float64, age time.Duration) {
	t.Helper()

	created := time.Now().Add(-age)
	require.NoError(t, s.InsertMemory(context.Background(), &store.AgentMemory{
		ID:              id,
		AgentID:         "agent_001",
		Content:         fmt.Sprintf("memory %d", id),
		Category:        store.CategoryEvent,
		Strength:        strength,
		EmotionalWeight: emotionalWeight,
		CreatedAt:       created,
		LastRecalledAt:  created,
		Vividness:       store.VividnessForStrength(strength),
		Embedding:       []float64{1, 0, 0},
	}))
}

func TestDecayTenDaysEmotionalWeight(t *testing.T) {
	s := newTestStore(t)
	engine := newTestEngine(t, s, map[string][]float64{}, nil)
	ctx := context.Background()

	// rate = max(2, 5 - 10*0.03) = 4.7/day; 10 days = 47 lost.
	seedAgedMemory(t, s, 1, 100, 10, 10*24*time.Hour)

	report, err := engine.DecayAgent(ctx, "agent_001")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Decayed)
	assert.Equal(t, 0, report.Removed)

	got, err := s.GetMemory(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, 53, got.Strength, 0.1)
	assert.Equal(t, store.VividnessClear, got.Vividness)
}

func TestDecayMonotonicityWithoutEmotionalWeight(t *testing.T) {
	s := newTestStore(t)
	engine := newTestEngine(t, s, map[string][]float64{}, nil)
	ctx := context.Background()

	// 5 points/day for 5 days.
	seedAgedMemory(t, s, 1, 80, 0, 5*24*time.Hour)

	_, err := engine.DecayAgent(ctx, "agent_001")
	require.NoError(t, err)

	got, err := s.GetMemory(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, 55, got.Strength, 0.1)
}

func TestDecayEvictsAtZeroStrength(t *testing.T) {
	s := newTestStore(t)
	engine := newTestEngine(t, s, map[string][]float64{}, nil)
	ctx := context.Background()

	// 5 points/day for 10 days wipes out strength 20.
	seedAgedMemory(t, s, 1, 20, 0, 10*24*time.Hour)

	report, err := engine.DecayAgent(ctx, "agent_001")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Removed)

	_, err = s.GetMemory(ctx, 1)
	assert.ErrorIs(t, err, store.ErrNotFound, "evicted memories are physically deleted")

	active, err := engine.GetActiveMemories(ctx, "agent_001", 0)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestDecayAnchorPreventsDoubleCharge(t *testing.T) {
	s := newTestStore(t)
	engine := newTestEngine(t, s, map[string][]float64{}, nil)
	ctx := context.Background()

	seedAgedMemory(t, s, 1, 100, 0, 4*24*time.Hour)

	_, err := engine.DecayAgent(ctx, "agent_001")
	require.NoError(t, err)
	after, err := s.GetMemory(ctx, 1)
	require.NoError(t, err)

	// An immediate second sweep charges only the instants since the first.
	_, err = engine.DecayAgent(ctx, "agent_001")
	require.NoError(t, err)
	again, err := s.GetMemory(ctx, 1)
	require.NoError(t, err)

	assert.InDelta(t, after.Strength, again.Strength, 0.01)
}

func TestSearchFactsCategoryExpansionSuperset(t *testing.T) {
	s := newTestStore(t)
	engine := newTestEngine(t, s, map[string][]float64{
		"coffee drinks": {0.9, 0.1, 0},
	}, nil)
	ctx := context.Background()

	require.NoError(t, s.InsertFact(ctx, &store.UserFact{
		ID: 1, Content: "likes coffee", Category: store.CategoryPreference,
		Confidence: 80, Embedding: []float64{1, 0, 0},
	}))
	require.NoError(t, s.InsertFact(ctx, &store.UserFact{
		ID: 2, Content: "collects teapots", Category: store.CategoryPreference,
		Confidence: 90, Embedding: []float64{0, 0, 1},
	}))
	require.NoError(t, s.InsertFact(ctx, &store.UserFact{
		ID: 3, Content: "works at a bank", Category: store.CategoryWork,
		Confidence: 70, Embedding: []float64{0, 1, 0},
	}))

	plain, err := engine.SearchFactsBySimilarity(ctx, "coffee drinks", memory.FactSearchOptions{})
	require.NoError(t, err)
	require.Len(t, plain, 1)
	assert.Equal(t, int64(1), plain[0].Fact.ID)

	expanded, err := engine.SearchFactsBySimilarity(ctx, "coffee drinks", memory.FactSearchOptions{ExpandByCategory: true})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(expanded), len(plain), "expansion returns a superset")

	for _, match := range expanded[len(plain):] {
		assert.True(t, match.Expanded)
		assert.Equal(t, store.CategoryPreference, match.Fact.Category,
			"expansion-only additions share a category with a similarity match")
	}
	require.Len(t, expanded, 2)
	assert.Equal(t, int64(2), expanded[1].Fact.ID)
}

func TestHybridRetrievalBlendsAndFiltersOnRawSimilarity(t *testing.T) {
	s := newTestStore(t)
	engine := newTestEngine(t, s, map[string][]float64{
		"recent hobbies": {1, 0, 0},
	}, nil)
	ctx := context.Background()

	insert := func(id int64, strength float64, emb []float64) {
		require.NoError(t, s.InsertMemory(ctx, &store.AgentMemory{
			ID: id, AgentID: "agent_001", Content: fmt.Sprintf("memory %d", id),
			Category: store.CategoryPersonal, Strength: strength,
			Vividness: store.VividnessForStrength(strength), Embedding: emb,
		}))
	}
	insert(1, 20, []float64{0.9, 0.4359, 0})  // sim 0.9, score 0.62
	insert(2, 100, []float64{0.5, 0.866, 0})  // sim 0.5, score 0.70
	insert(3, 100, []float64{0.2, 0.9798, 0}) // sim 0.2, below the raw floor

	matches, err := engine.HybridRetrieveMemories(ctx, "agent_001", "recent hobbies", 10, memory.HybridOptions{})
	require.NoError(t, err)

	require.Len(t, matches, 2, "raw similarity below the floor is excluded regardless of strength")
	assert.Equal(t, int64(2), matches[0].Memory.ID, "strong moderately similar memory outranks weak close one")
	assert.Equal(t, int64(1), matches[1].Memory.ID)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestEmbeddingFailureCancelsStorage(t *testing.T) {
	s := newTestStore(t)
	adapter := embedding.NewAdapter(&vecProvider{fail: true}, nil)
	engine, err := memory.NewEngine(s, adapter)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = engine.ProcessUserFact(ctx, memory.FactCandidate{Content: "likes coffee"})
	assert.ErrorIs(t, err, memory.ErrStorageCancelled)

	_, err = engine.ProcessAgentMemory(ctx, "agent_001", memory.MemoryCandidate{Content: "anything"})
	assert.ErrorIs(t, err, memory.ErrStorageCancelled)

	facts, err := s.ListFacts(ctx)
	require.NoError(t, err)
	assert.Empty(t, facts, "nothing is persisted without its vector")
}

func TestEmbeddingFailoverTagsSource(t *testing.T) {
	s := newTestStore(t)
	fallback := &vecProvider{vectors: map[string][]float64{
		"likes coffee": {1, 0, 0},
	}}
	adapter := embedding.NewAdapter(&vecProvider{fail: true}, fallback)
	engine, err := memory.NewEngine(s, adapter)
	require.NoError(t, err)

	outcome, err := engine.ProcessUserFact(context.Background(), memory.FactCandidate{Content: "likes coffee"})
	require.NoError(t, err)

	assert.Equal(t, memory.ResultAdded, outcome.Result)
	assert.Equal(t, embedding.SourceLocal, outcome.EmbeddingSource)
}

func TestTouchInteraction(t *testing.T) {
	s := newTestStore(t)
	engine := newTestEngine(t, s, map[string][]float64{}, nil)
	ctx := context.Background()

	first, err := engine.TouchInteraction(ctx, "agent_001")
	require.NoError(t, err)
	assert.Equal(t, 1, first.TotalInteractions)

	second, err := engine.TouchInteraction(ctx, "agent_001")
	require.NoError(t, err)
	assert.Equal(t, 2, second.TotalInteractions)
	assert.Equal(t, 2, second.Familiarity)
}
