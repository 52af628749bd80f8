package decision

import (
	"fmt"
	"strings"
)

// decisionInstructions is the fixed instruction template for the judge. The
// model sees the candidate plus the ranked similar items and must answer
// with a single JSON object.
const decisionInstructions = `You are a memory manager for a conversational assistant. A new piece of information has arrived and it resembles one or more stored items. Decide what to do with it.

Operations:
- "ADD": the new information is genuinely new; store it alongside the existing items.
- "UPDATE": the new information extends or refines one existing item; provide "targetId" and "mergedContent" combining both without losing detail.
- "DELETE": the new information contradicts or invalidates one existing item; provide "targetId". The new information will replace it.
- "NOOP": the new information is already fully captured; store nothing.

Respond with exactly one JSON object and nothing else:
{"operation": "ADD|UPDATE|DELETE|NOOP", "reason": "<short explanation>", "targetId": "<id, for UPDATE/DELETE>", "mergedContent": "<combined text, for UPDATE>"}`

// buildDecisionPrompt renders the candidate and its similar items into the
// judge prompt. Similarity is shown as a percentage so the model can weigh
// closeness without seeing raw vectors.
func buildDecisionPrompt(candidate Candidate, similar []SimilarItem) string {
	var sb strings.Builder

	sb.WriteString(decisionInstructions)
	sb.WriteString("\n\nNew information")
	if candidate.Category != "" {
		fmt.Fprintf(&sb, " (category: %s)", candidate.Category)
	}
	fmt.Fprintf(&sb, ":\n%s\n\nExisting items:\n", candidate.Content)

	for _, item := range similar {
		fmt.Fprintf(&sb, "- id: %d | similarity: %.0f%% | category: %s | %s\n",
			item.ID, item.Similarity*100, item.Category, item.Content)
	}

	return sb.String()
}
