// Package decision provides the conflict/decision engine for incoming facts
// and memories.
//
// Two independent mechanisms live here: a language-model judge that weighs a
// candidate against similar existing items and returns one of four
// operations, and a rule-based conflict detector for high-similarity pairs
// that needs no model at all.
package decision

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"strings"

	"github.com/emberchat/ember/pkg/llm"
	"github.com/emberchat/ember/pkg/store"
)

// Operation is the terminal action for an incoming candidate.
type Operation string

const (
	// OpAdd stores the candidate as a new record.
	OpAdd Operation = "ADD"

	// OpUpdate merges the candidate into an existing record.
	OpUpdate Operation = "UPDATE"

	// OpDelete retires the contradicted record and stores the candidate.
	OpDelete Operation = "DELETE"

	// OpNoop persists nothing; the candidate is already captured.
	OpNoop Operation = "NOOP"
)

// Decision is the validated verdict for a candidate.
//
// Shapes are a tagged union: TargetID and MergedContent are only meaningful
// for the operations that require them ({UPDATE, targetId, mergedContent}
// and {DELETE, targetId}); invalid shapes fail closed to ADD at the parse
// boundary.
type Decision struct {
	// Operation is the action to execute.
	Operation Operation

	// Reason is the judge's stated reason, kept for caller-side logging.
	Reason string

	// TargetID is the existing record the operation applies to
	// (UPDATE/DELETE only).
	TargetID int64

	// MergedContent is the consolidated content (UPDATE only).
	MergedContent string
}

// Candidate is an incoming fact or memory under judgment.
type Candidate struct {
	// Content is the candidate text.
	Content string

	// Category classifies the candidate by topic.
	Category store.Category
}

// SimilarItem is an existing record offered to the judge for comparison.
type SimilarItem struct {
	// ID is the record's identifier.
	ID int64

	// Content is the record's text.
	Content string

	// Category classifies the record by topic.
	Category store.Category

	// Similarity is the cosine similarity against the candidate.
	Similarity float64
}

// Judge decides what to do with a candidate by delegating semantic judgment
// to a language model.
//
// The judge never returns an error: any model failure, malformed response or
// invalid operation defaults to ADD. Retaining a redundant record is always
// preferred over silently losing one.
type Judge struct {
	llm llm.Provider
}

// NewJudge creates a new LLM-backed judge.
func NewJudge(provider llm.Provider) *Judge {
	return &Judge{llm: provider}
}

// Decide weighs the candidate against the similar items and returns the
// operation to execute.
//
// Callers short-circuit to ADD before reaching the judge when the similar
// list is empty; the judge assumes at least one item.
func (j *Judge) Decide(ctx context.Context, candidate Candidate, similar []SimilarItem) *Decision {
	prompt := buildDecisionPrompt(candidate, similar)

	response, err := j.llm.GenerateWithMessages(ctx, []llm.Message{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		log.Printf("memory decision: llm call failed, defaulting to ADD: %v", err)
		return &Decision{Operation: OpAdd, Reason: "llm unavailable"}
	}

	decision := parseDecision(response, similar)
	return decision
}

// parseDecision extracts and validates a decision from raw model output.
// Every failure path returns ADD.
func parseDecision(response string, similar []SimilarItem) *Decision {
	raw := extractJSON(response)
	if raw == "" {
		log.Printf("memory decision: no JSON in response, defaulting to ADD: %q", truncate(response, 300))
		return &Decision{Operation: OpAdd, Reason: "unparseable response"}
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		log.Printf("memory decision: invalid JSON, defaulting to ADD: %v (%q)", err, truncate(response, 300))
		return &Decision{Operation: OpAdd, Reason: "unparseable response"}
	}

	decision := &Decision{}

	if op, ok := payload["operation"].(string); ok {
		decision.Operation = Operation(strings.ToUpper(strings.TrimSpace(op)))
	}
	if reason, ok := payload["reason"].(string); ok {
		decision.Reason = reason
	}
	decision.TargetID = parseTargetID(payload["targetId"])
	if merged, ok := payload["mergedContent"].(string); ok {
		decision.MergedContent = merged
	}

	switch decision.Operation {
	case OpAdd, OpNoop:
		return decision
	case OpUpdate:
		if decision.TargetID == 0 || decision.MergedContent == "" || !knownTarget(similar, decision.TargetID) {
			return &Decision{Operation: OpAdd, Reason: "incomplete update verdict"}
		}
		return decision
	case OpDelete:
		if decision.TargetID == 0 || !knownTarget(similar, decision.TargetID) {
			return &Decision{Operation: OpAdd, Reason: "incomplete delete verdict"}
		}
		return decision
	default:
		log.Printf("memory decision: unknown operation %q, defaulting to ADD", decision.Operation)
		return &Decision{Operation: OpAdd, Reason: "unknown operation"}
	}
}

// parseTargetID accepts both string and numeric id representations.
func parseTargetID(value interface{}) int64 {
	switch v := value.(type) {
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0
		}
		return id
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func knownTarget(similar []SimilarItem, id int64) bool {
	for _, item := range similar {
		if item.ID == id {
			return true
		}
	}
	return false
}

// extractJSON pulls a JSON object out of model output that may wrap it in a
// fenced code block or surrounding prose.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	// Strip a fenced code block if present.
	if idx := strings.Index(response, "```"); idx >= 0 {
		rest := response[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			response = strings.TrimSpace(rest[:end])
		} else {
			response = strings.TrimSpace(rest)
		}
	}

	// Take the first balanced object.
	start := strings.Index(response, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		ch := response[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return response[start : i+1]
				}
			}
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
