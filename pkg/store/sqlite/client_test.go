package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberchat/ember/pkg/store"
	"github.com/emberchat/ember/pkg/store/sqlite"
)

func newTestClient(t *testing.T) *sqlite.Client {
	t.Helper()

	client, err := sqlite.NewClient(&sqlite.Config{
		DBPath: filepath.Join(t.TempDir(), "memories.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func testFact(id int64) *store.UserFact {
	return &store.UserFact{
		ID:         id,
		Content:    "likes coffee",
		Category:   store.CategoryPreference,
		Confidence: 80,
		Sources:    []string{"agent_001"},
		Embedding:  []float64{0.1, 0.2, 0.3},
	}
}

func testMemory(id int64, agentID string) *store.AgentMemory {
	return &store.AgentMemory{
		ID:              id,
		AgentID:         agentID,
		Content:         "user mentioned their dog Rex",
		Category:        store.CategoryEvent,
		Strength:        100,
		EmotionalWeight: 10,
		Vividness:       store.VividnessVivid,
		Embedding:       []float64{0.5, 0.5},
	}
}

func TestFactRoundtrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	fact := testFact(1)
	require.NoError(t, client.InsertFact(ctx, fact))

	got, err := client.GetFact(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "likes coffee", got.Content)
	assert.Equal(t, store.CategoryPreference, got.Category)
	assert.Equal(t, 80, got.Confidence)
	assert.Equal(t, []string{"agent_001"}, got.Sources)
	require.Len(t, got.Embedding, 3)
	assert.InDelta(t, 0.2, got.Embedding[1], 1e-6)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetFactNotFound(t *testing.T) {
	client := newTestClient(t)

	_, err := client.GetFact(context.Background(), 999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateFactPartial(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.InsertFact(ctx, testFact(1)))

	content := "loves espresso"
	confidence := 95
	updated, err := client.UpdateFact(ctx, 1, &store.FactUpdate{
		Content:    &content,
		Confidence: &confidence,
		AddSource:  "agent_002",
	}, []float64{0.9, 0.9, 0.9})
	require.NoError(t, err)

	assert.Equal(t, "loves espresso", updated.Content)
	assert.Equal(t, 95, updated.Confidence)
	assert.Equal(t, store.CategoryPreference, updated.Category, "unset fields keep their value")
	assert.Equal(t, []string{"agent_001", "agent_002"}, updated.Sources)

	// Duplicate source is not appended twice.
	again, err := client.UpdateFact(ctx, 1, &store.FactUpdate{AddSource: "agent_002"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"agent_001", "agent_002"}, again.Sources)
}

func TestFactsByCategoryOrdering(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	low := testFact(1)
	low.Confidence = 40
	high := testFact(2)
	high.Confidence = 90
	other := testFact(3)
	other.Category = store.CategoryWork

	require.NoError(t, client.InsertFact(ctx, low))
	require.NoError(t, client.InsertFact(ctx, high))
	require.NoError(t, client.InsertFact(ctx, other))

	facts, err := client.FactsByCategory(ctx, store.CategoryPreference)
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, int64(2), facts[0].ID, "highest confidence first")
}

func TestRelationshipUpsert(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	rel := &store.AgentRelationship{
		AgentID:           "agent_001",
		TrustLevel:        10,
		Familiarity:       5,
		LastInteraction:   time.Now(),
		TotalInteractions: 1,
		CurrentMood:       "curious",
		DomainMemory:      map[string]interface{}{"topic": "dogs"},
	}
	require.NoError(t, client.UpsertRelationship(ctx, rel))

	rel.TrustLevel = 20
	rel.TotalInteractions = 2
	require.NoError(t, client.UpsertRelationship(ctx, rel))

	got, err := client.GetRelationship(ctx, "agent_001")
	require.NoError(t, err)
	assert.Equal(t, 20, got.TrustLevel)
	assert.Equal(t, 2, got.TotalInteractions)
	assert.Equal(t, "dogs", got.DomainMemory["topic"])

	ids, err := client.ListAgentIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"agent_001"}, ids)
}

func TestActiveMemoriesExcludesWeakAndSuperseded(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	strong := testMemory(1, "agent_001")
	weak := testMemory(2, "agent_001")
	weak.Strength = 5
	weak.Vividness = store.VividnessFragment
	retired := testMemory(3, "agent_001")

	require.NoError(t, client.InsertMemory(ctx, strong))
	require.NoError(t, client.InsertMemory(ctx, weak))
	require.NoError(t, client.InsertMemory(ctx, retired))
	require.NoError(t, client.MarkSuperseded(ctx, 3, 1))

	active, err := client.ActiveMemories(ctx, "agent_001", 0)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, int64(1), active[0].ID)

	// Superseded record is retained and retrievable directly.
	old, err := client.GetMemory(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, old.SupersededBy)
	assert.Equal(t, int64(1), *old.SupersededBy)
	assert.NotNil(t, old.SupersededAt)

	// LiveMemories still excludes superseded but keeps the weak one.
	live, err := client.LiveMemories(ctx, "agent_001")
	require.NoError(t, err)
	assert.Len(t, live, 2)
}

func TestSaveRecallState(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	memory := testMemory(1, "agent_001")
	require.NoError(t, client.InsertMemory(ctx, memory))

	memory.Strength = 100
	memory.RecallCount = 4
	memory.LastRecalledAt = time.Now()
	memory.Vividness = store.VividnessVivid
	require.NoError(t, client.SaveRecallState(ctx, memory))

	got, err := client.GetMemory(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, got.RecallCount)
}

func TestSaveDecayState(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	memory := testMemory(1, "agent_001")
	require.NoError(t, client.InsertMemory(ctx, memory))

	now := time.Now()
	memory.Strength = 53
	memory.Vividness = store.VividnessClear
	memory.LastDecayedAt = &now
	require.NoError(t, client.SaveDecayState(ctx, memory))

	got, err := client.GetMemory(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, 53, got.Strength, 1e-9)
	assert.Equal(t, store.VividnessClear, got.Vividness)
	require.NotNil(t, got.LastDecayedAt)
}

func TestDeleteMemory(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.InsertMemory(ctx, testMemory(1, "agent_001")))
	require.NoError(t, client.DeleteMemory(ctx, 1))

	_, err := client.GetMemory(ctx, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, client.DeleteMemory(ctx, 1), store.ErrNotFound)
}

func TestInsertLinkAppendsLinkedMemories(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.InsertMemory(ctx, testMemory(1, "agent_001")))
	require.NoError(t, client.InsertMemory(ctx, testMemory(2, "agent_001")))

	link := &store.MemoryLink{
		ID:         "link-1",
		SourceID:   1,
		TargetID:   2,
		Kind:       store.LinkRelated,
		Similarity: 0.7,
	}
	require.NoError(t, client.InsertLink(ctx, link))

	source, err := client.GetMemory(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, source.LinkedMemories)

	// Bookkeeping is one-directional.
	target, err := client.GetMemory(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, target.LinkedMemories)

	// Traversal sees the edge from both endpoints.
	fromSource, err := client.LinksForMemory(ctx, 1)
	require.NoError(t, err)
	fromTarget, err := client.LinksForMemory(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, fromSource, 1)
	assert.Len(t, fromTarget, 1)
}
