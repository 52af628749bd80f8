// Package sqlite provides the SQLite storage backend.
//
// SQLite is the default store for the desktop client: a single local file,
// no server. Embeddings are stored as binary blobs (little-endian float32
// sequences) and list/map columns as JSON text; similarity ranking happens
// in the memory engine after loading candidate rows.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/emberchat/ember/pkg/store"
)

// Client implements store.Store using SQLite as the backend.
type Client struct {
	db *sql.DB
}

// Config contains configuration for the SQLite backend.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string
}

// NewClient creates a new SQLite store client and initializes the schema.
func NewClient(cfg *Config) (*Client, error) {
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	client := &Client{db: db}
	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}

	return client, nil
}

// initTables initializes the database schema: one table per entity family.
func (c *Client) initTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS user_facts (
			id INTEGER PRIMARY KEY,
			content TEXT NOT NULL,
			category TEXT NOT NULL,
			confidence INTEGER NOT NULL,
			sources TEXT NOT NULL DEFAULT '[]',
			embedding BLOB NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_user_facts_category ON user_facts(category, confidence)`,
		`CREATE TABLE IF NOT EXISTS agent_relationships (
			agent_id TEXT PRIMARY KEY,
			trust_level INTEGER NOT NULL DEFAULT 0,
			familiarity INTEGER NOT NULL DEFAULT 0,
			last_interaction DATETIME NOT NULL,
			total_interactions INTEGER NOT NULL DEFAULT 0,
			current_mood TEXT NOT NULL DEFAULT '',
			mood_notes TEXT NOT NULL DEFAULT '',
			domain_memory TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agent_memories (
			id INTEGER PRIMARY KEY,
			agent_id TEXT NOT NULL,
			content TEXT NOT NULL,
			category TEXT NOT NULL,
			strength REAL NOT NULL,
			emotional_weight REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			last_recalled_at DATETIME NOT NULL,
			last_decayed_at DATETIME,
			recall_count INTEGER NOT NULL DEFAULT 0,
			linked_memories TEXT NOT NULL DEFAULT '[]',
			vividness TEXT NOT NULL,
			embedding BLOB NOT NULL,
			superseded_by INTEGER,
			superseded_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_memories_agent ON agent_memories(agent_id, strength)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_memories_superseded ON agent_memories(superseded_by)`,
		`CREATE TABLE IF NOT EXISTS memory_links (
			id TEXT PRIMARY KEY,
			source_id INTEGER NOT NULL,
			target_id INTEGER NOT NULL,
			relationship TEXT NOT NULL,
			similarity REAL NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_links_source ON memory_links(source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_links_target ON memory_links(target_id)`,
	}

	for _, stmt := range statements {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initTables: %w", err)
		}
	}

	return nil
}

// InsertFact inserts a user fact.
func (c *Client) InsertFact(ctx context.Context, fact *store.UserFact) error {
	now := time.Now()
	fact.CreatedAt = now
	fact.UpdatedAt = now

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO user_facts
		(id, content, category, confidence, sources, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		fact.ID,
		fact.Content,
		string(fact.Category),
		fact.Confidence,
		encodeStrings(fact.Sources),
		store.EncodeEmbedding(fact.Embedding),
		fact.CreatedAt,
		fact.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("InsertFact: %w", err)
	}
	return nil
}

// GetFact retrieves a user fact by ID.
func (c *Client) GetFact(ctx context.Context, id int64) (*store.UserFact, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, content, category, confidence, sources, embedding, created_at, updated_at
		FROM user_facts WHERE id = ?
	`, id)

	fact, err := scanFact(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetFact: %w", err)
	}
	return fact, nil
}

// UpdateFact applies a partial update to a user fact.
func (c *Client) UpdateFact(ctx context.Context, id int64, upd *store.FactUpdate, embedding []float64) (*store.UserFact, error) {
	fact, err := c.GetFact(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.Content != nil {
		fact.Content = *upd.Content
	}
	if upd.Category != nil {
		fact.Category = *upd.Category
	}
	if upd.Confidence != nil {
		fact.Confidence = *upd.Confidence
	}
	if upd.AddSource != "" && !containsString(fact.Sources, upd.AddSource) {
		fact.Sources = append(fact.Sources, upd.AddSource)
	}
	if embedding != nil {
		fact.Embedding = embedding
	}
	fact.UpdatedAt = time.Now()

	result, err := c.db.ExecContext(ctx, `
		UPDATE user_facts
		SET content = ?, category = ?, confidence = ?, sources = ?, embedding = ?, updated_at = ?
		WHERE id = ?
	`,
		fact.Content,
		string(fact.Category),
		fact.Confidence,
		encodeStrings(fact.Sources),
		store.EncodeEmbedding(fact.Embedding),
		fact.UpdatedAt,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("UpdateFact: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return nil, store.ErrNotFound
	}

	return fact, nil
}

// DeleteFact removes a user fact.
func (c *Client) DeleteFact(ctx context.Context, id int64) error {
	result, err := c.db.ExecContext(ctx, `DELETE FROM user_facts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("DeleteFact: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListFacts returns all user facts.
func (c *Client) ListFacts(ctx context.Context) ([]*store.UserFact, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, content, category, confidence, sources, embedding, created_at, updated_at
		FROM user_facts ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("ListFacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectFacts(rows)
}

// FactsByCategory returns all facts in a category, ordered by confidence
// descending.
func (c *Client) FactsByCategory(ctx context.Context, category store.Category) ([]*store.UserFact, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, content, category, confidence, sources, embedding, created_at, updated_at
		FROM user_facts WHERE category = ? ORDER BY confidence DESC, id
	`, string(category))
	if err != nil {
		return nil, fmt.Errorf("FactsByCategory: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectFacts(rows)
}

// GetRelationship retrieves an agent's relationship aggregate.
func (c *Client) GetRelationship(ctx context.Context, agentID string) (*store.AgentRelationship, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT agent_id, trust_level, familiarity, last_interaction, total_interactions,
		       current_mood, mood_notes, domain_memory, created_at, updated_at
		FROM agent_relationships WHERE agent_id = ?
	`, agentID)

	rel, err := scanRelationship(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetRelationship: %w", err)
	}
	return rel, nil
}

// UpsertRelationship creates or replaces an agent's relationship aggregate.
func (c *Client) UpsertRelationship(ctx context.Context, rel *store.AgentRelationship) error {
	now := time.Now()
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = now
	}
	rel.UpdatedAt = now

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO agent_relationships
		(agent_id, trust_level, familiarity, last_interaction, total_interactions,
		 current_mood, mood_notes, domain_memory, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			trust_level = excluded.trust_level,
			familiarity = excluded.familiarity,
			last_interaction = excluded.last_interaction,
			total_interactions = excluded.total_interactions,
			current_mood = excluded.current_mood,
			mood_notes = excluded.mood_notes,
			domain_memory = excluded.domain_memory,
			updated_at = excluded.updated_at
	`,
		rel.AgentID,
		rel.TrustLevel,
		rel.Familiarity,
		rel.LastInteraction,
		rel.TotalInteractions,
		rel.CurrentMood,
		rel.MoodNotes,
		encodeMap(rel.DomainMemory),
		rel.CreatedAt,
		rel.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("UpsertRelationship: %w", err)
	}
	return nil
}

// ListAgentIDs returns the IDs of all agents with a relationship aggregate.
func (c *Client) ListAgentIDs(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT agent_id FROM agent_relationships ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("ListAgentIDs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ListAgentIDs: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertMemory inserts an agent memory.
func (c *Client) InsertMemory(ctx context.Context, memory *store.AgentMemory) error {
	now := time.Now()
	if memory.CreatedAt.IsZero() {
		memory.CreatedAt = now
	}
	if memory.LastRecalledAt.IsZero() {
		memory.LastRecalledAt = memory.CreatedAt
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO agent_memories
		(id, agent_id, content, category, strength, emotional_weight, created_at,
		 last_recalled_at, last_decayed_at, recall_count, linked_memories, vividness,
		 embedding, superseded_by, superseded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		memory.ID,
		memory.AgentID,
		memory.Content,
		string(memory.Category),
		memory.Strength,
		memory.EmotionalWeight,
		memory.CreatedAt,
		memory.LastRecalledAt,
		nullableTime(memory.LastDecayedAt),
		memory.RecallCount,
		encodeInt64s(memory.LinkedMemories),
		string(memory.Vividness),
		store.EncodeEmbedding(memory.Embedding),
		nullableInt64(memory.SupersededBy),
		nullableTime(memory.SupersededAt),
	)
	if err != nil {
		return fmt.Errorf("InsertMemory: %w", err)
	}
	return nil
}

// GetMemory retrieves an agent memory by ID, superseded or not.
func (c *Client) GetMemory(ctx context.Context, id int64) (*store.AgentMemory, error) {
	row := c.db.QueryRowContext(ctx, memorySelect+` WHERE id = ?`, id)

	memory, err := scanAgentMemory(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetMemory: %w", err)
	}
	return memory, nil
}

// ActiveMemories returns non-superseded memories above the strength floor,
// ordered by strength descending.
func (c *Client) ActiveMemories(ctx context.Context, agentID string, limit int) ([]*store.AgentMemory, error) {
	query := memorySelect + `
		WHERE agent_id = ? AND superseded_by IS NULL AND strength > ?
		ORDER BY strength DESC, id`
	args := []interface{}{agentID, store.ActiveStrengthFloor}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ActiveMemories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectMemories(rows)
}

// LiveMemories returns all non-superseded memories for an agent.
func (c *Client) LiveMemories(ctx context.Context, agentID string) ([]*store.AgentMemory, error) {
	rows, err := c.db.QueryContext(ctx, memorySelect+`
		WHERE agent_id = ? AND superseded_by IS NULL
		ORDER BY id`, agentID)
	if err != nil {
		return nil, fmt.Errorf("LiveMemories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectMemories(rows)
}

// UpdateMemoryContent replaces a memory's content and embedding.
func (c *Client) UpdateMemoryContent(ctx context.Context, id int64, content string, embedding []float64) (*store.AgentMemory, error) {
	result, err := c.db.ExecContext(ctx, `
		UPDATE agent_memories SET content = ?, embedding = ? WHERE id = ?
	`, content, store.EncodeEmbedding(embedding), id)
	if err != nil {
		return nil, fmt.Errorf("UpdateMemoryContent: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return nil, store.ErrNotFound
	}

	return c.GetMemory(ctx, id)
}

// SaveRecallState persists the recall-side mutable fields in one statement.
func (c *Client) SaveRecallState(ctx context.Context, memory *store.AgentMemory) error {
	result, err := c.db.ExecContext(ctx, `
		UPDATE agent_memories
		SET strength = ?, recall_count = ?, last_recalled_at = ?, vividness = ?
		WHERE id = ?
	`,
		memory.Strength,
		memory.RecallCount,
		memory.LastRecalledAt,
		string(memory.Vividness),
		memory.ID,
	)
	if err != nil {
		return fmt.Errorf("SaveRecallState: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SaveDecayState persists the decay-side mutable fields in one statement.
func (c *Client) SaveDecayState(ctx context.Context, memory *store.AgentMemory) error {
	result, err := c.db.ExecContext(ctx, `
		UPDATE agent_memories
		SET strength = ?, vividness = ?, last_decayed_at = ?
		WHERE id = ?
	`,
		memory.Strength,
		string(memory.Vividness),
		nullableTime(memory.LastDecayedAt),
		memory.ID,
	)
	if err != nil {
		return fmt.Errorf("SaveDecayState: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// MarkSuperseded retires the old memory in favor of the new one.
func (c *Client) MarkSuperseded(ctx context.Context, oldID, newID int64) error {
	result, err := c.db.ExecContext(ctx, `
		UPDATE agent_memories SET superseded_by = ?, superseded_at = ? WHERE id = ?
	`, newID, time.Now(), oldID)
	if err != nil {
		return fmt.Errorf("MarkSuperseded: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteMemory physically removes a memory.
func (c *Client) DeleteMemory(ctx context.Context, id int64) error {
	result, err := c.db.ExecContext(ctx, `DELETE FROM agent_memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("DeleteMemory: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// InsertLink inserts a graph edge and appends the target to the source
// memory's linked-memories list. Bookkeeping is one-directional even though
// traversal is bidirectional.
func (c *Client) InsertLink(ctx context.Context, link *store.MemoryLink) error {
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now()
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("InsertLink: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memory_links (id, source_id, target_id, relationship, similarity, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, link.ID, link.SourceID, link.TargetID, string(link.Kind), link.Similarity, link.CreatedAt)
	if err != nil {
		return fmt.Errorf("InsertLink: %w", err)
	}

	var linkedJSON string
	err = tx.QueryRowContext(ctx, `SELECT linked_memories FROM agent_memories WHERE id = ?`, link.SourceID).Scan(&linkedJSON)
	if err == sql.ErrNoRows {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("InsertLink: %w", err)
	}

	linked, err := decodeInt64s(linkedJSON)
	if err != nil {
		return fmt.Errorf("InsertLink: %w", err)
	}
	if !containsInt64(linked, link.TargetID) {
		linked = append(linked, link.TargetID)
		if _, err := tx.ExecContext(ctx, `UPDATE agent_memories SET linked_memories = ? WHERE id = ?`,
			encodeInt64s(linked), link.SourceID); err != nil {
			return fmt.Errorf("InsertLink: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("InsertLink: %w", err)
	}
	return nil
}

// LinksForMemory returns all edges touching the memory from either side.
func (c *Client) LinksForMemory(ctx context.Context, id int64) ([]*store.MemoryLink, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, source_id, target_id, relationship, similarity, created_at
		FROM memory_links WHERE source_id = ? OR target_id = ?
		ORDER BY created_at, id
	`, id, id)
	if err != nil {
		return nil, fmt.Errorf("LinksForMemory: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var links []*store.MemoryLink
	for rows.Next() {
		var link store.MemoryLink
		var kind string
		if err := rows.Scan(&link.ID, &link.SourceID, &link.TargetID, &kind, &link.Similarity, &link.CreatedAt); err != nil {
			return nil, fmt.Errorf("LinksForMemory: %w", err)
		}
		link.Kind = store.LinkKind(kind)
		links = append(links, &link)
	}
	return links, rows.Err()
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

const memorySelect = `
	SELECT id, agent_id, content, category, strength, emotional_weight, created_at,
	       last_recalled_at, last_decayed_at, recall_count, linked_memories, vividness,
	       embedding, superseded_by, superseded_at
	FROM agent_memories`
