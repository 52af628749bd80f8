package memory

import (
	"context"
	"time"

	"github.com/emberchat/ember/pkg/decay"
	"github.com/emberchat/ember/pkg/store"
)

// ListAgentIDs returns every agent with a relationship aggregate. Together
// with DecayAgent this makes the engine the scheduler's sweeper.
func (e *Engine) ListAgentIDs(ctx context.Context) ([]string, error) {
	ids, err := e.store.ListAgentIDs(ctx)
	if err != nil {
		return nil, opErr("list agents", err)
	}
	return ids, nil
}

// DecayAgent ages one agent's memories. For each non-superseded memory the
// strength lost is the per-day rate times the days elapsed since the memory
// was last recalled or last decayed, whichever is more recent — the anchor
// guarantees repeated sweeps never charge the same elapsed time twice.
// Memories reaching zero strength are physically deleted; survivors get
// their vividness recomputed from the new strength.
func (e *Engine) DecayAgent(ctx context.Context, agentID string) (*decay.Report, error) {
	unlock := e.lockAgent(agentID)
	defer unlock()

	live, err := e.store.LiveMemories(ctx, agentID)
	if err != nil {
		return nil, opErr("decay", err)
	}

	now := time.Now()
	report := &decay.Report{AgentID: agentID}

	for _, memory := range live {
		anchor := memory.LastRecalledAt
		if memory.LastDecayedAt != nil && memory.LastDecayedAt.After(anchor) {
			anchor = *memory.LastDecayedAt
		}

		days := now.Sub(anchor).Hours() / 24
		if days <= 0 {
			continue
		}

		loss := store.DecayRatePerDay(memory.EmotionalWeight) * days
		strength := memory.Strength - loss
		if strength <= 0 {
			if err := e.store.DeleteMemory(ctx, memory.ID); err != nil {
				return report, opErr("decay", err)
			}
			report.Removed++
			continue
		}

		memory.Strength = strength
		memory.Vividness = store.VividnessForStrength(strength)
		memory.LastDecayedAt = &now

		if err := e.store.SaveDecayState(ctx, memory); err != nil {
			return report, opErr("decay", err)
		}
		report.Decayed++
	}

	return report, nil
}
