package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/emberchat/ember/pkg/store"
)

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFact(scanner rowScanner) (*store.UserFact, error) {
	var fact store.UserFact
	var category, sourcesJSON string
	var blob []byte

	err := scanner.Scan(
		&fact.ID,
		&fact.Content,
		&category,
		&fact.Confidence,
		&sourcesJSON,
		&blob,
		&fact.CreatedAt,
		&fact.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	fact.Category = store.Category(category)
	if err := json.Unmarshal([]byte(sourcesJSON), &fact.Sources); err != nil {
		return nil, fmt.Errorf("parse sources: %w", err)
	}
	if fact.Embedding, err = store.DecodeEmbedding(blob); err != nil {
		return nil, fmt.Errorf("parse embedding: %w", err)
	}

	return &fact, nil
}

func collectFacts(rows *sql.Rows) ([]*store.UserFact, error) {
	var facts []*store.UserFact
	for rows.Next() {
		fact, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, fact)
	}
	return facts, rows.Err()
}

func scanAgentMemory(scanner rowScanner) (*store.AgentMemory, error) {
	var memory store.AgentMemory
	var category, linkedJSON, vividness string
	var blob []byte
	var lastDecayedAt, supersededAt sql.NullTime
	var supersededBy sql.NullInt64

	err := scanner.Scan(
		&memory.ID,
		&memory.AgentID,
		&memory.Content,
		&category,
		&memory.Strength,
		&memory.EmotionalWeight,
		&memory.CreatedAt,
		&memory.LastRecalledAt,
		&lastDecayedAt,
		&memory.RecallCount,
		&linkedJSON,
		&vividness,
		&blob,
		&supersededBy,
		&supersededAt,
	)
	if err != nil {
		return nil, err
	}

	memory.Category = store.Category(category)
	memory.Vividness = store.Vividness(vividness)
	if memory.LinkedMemories, err = decodeInt64s(linkedJSON); err != nil {
		return nil, fmt.Errorf("parse linked memories: %w", err)
	}
	if memory.Embedding, err = store.DecodeEmbedding(blob); err != nil {
		return nil, fmt.Errorf("parse embedding: %w", err)
	}
	if lastDecayedAt.Valid {
		memory.LastDecayedAt = &lastDecayedAt.Time
	}
	if supersededBy.Valid {
		memory.SupersededBy = &supersededBy.Int64
	}
	if supersededAt.Valid {
		memory.SupersededAt = &supersededAt.Time
	}

	return &memory, nil
}

func collectMemories(rows *sql.Rows) ([]*store.AgentMemory, error) {
	var memories []*store.AgentMemory
	for rows.Next() {
		memory, err := scanAgentMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, memory)
	}
	return memories, rows.Err()
}

func scanRelationship(scanner rowScanner) (*store.AgentRelationship, error) {
	var rel store.AgentRelationship
	var domainJSON string

	err := scanner.Scan(
		&rel.AgentID,
		&rel.TrustLevel,
		&rel.Familiarity,
		&rel.LastInteraction,
		&rel.TotalInteractions,
		&rel.CurrentMood,
		&rel.MoodNotes,
		&domainJSON,
		&rel.CreatedAt,
		&rel.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(domainJSON), &rel.DomainMemory); err != nil {
		return nil, fmt.Errorf("parse domain memory: %w", err)
	}

	return &rel, nil
}

func encodeStrings(values []string) string {
	if values == nil {
		values = []string{}
	}
	data, _ := json.Marshal(values)
	return string(data)
}

func encodeInt64s(values []int64) string {
	if values == nil {
		values = []int64{}
	}
	data, _ := json.Marshal(values)
	return string(data)
}

func decodeInt64s(raw string) ([]int64, error) {
	var values []int64
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, err
	}
	return values, nil
}

func encodeMap(values map[string]interface{}) string {
	if values == nil {
		values = map[string]interface{}{}
	}
	data, _ := json.Marshal(values)
	return string(data)
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func containsInt64(values []int64, target int64) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func nullableInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
