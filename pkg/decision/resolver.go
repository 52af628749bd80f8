package decision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emberchat/ember/pkg/store"
)

// Resolution reports what a Resolver did with a conflict.
type Resolution struct {
	// Applied is true when the store was mutated.
	Applied bool

	// Pending is true when the conflict needs user input; nothing was
	// persisted and the caller should surface the choice.
	Pending bool

	// NewID is the id of the inserted memory when Applied.
	NewID int64
}

// Resolver executes a detector strategy against the store. The detector
// itself never mutates anything; this separation keeps classification
// testable without a database.
type Resolver struct {
	store store.Store
}

// NewResolver creates a resolver backed by the given store.
func NewResolver(s store.Store) *Resolver {
	return &Resolver{store: s}
}

// Resolve applies the conflict's strategy to an existing agent memory and a
// fully built incoming one (id, embedding and timestamps set by the caller).
//
// keep_new and merge insert the incoming memory, mark the existing one
// superseded and link the two; merge first folds the old content into the
// new. keep_old and none touch nothing. ask_user touches nothing and flags
// the resolution as pending.
func (r *Resolver) Resolve(ctx context.Context, conflict *Conflict, existing *store.AgentMemory, incoming *store.AgentMemory) (*Resolution, error) {
	switch conflict.Strategy {
	case StrategyKeepOld, StrategyNone:
		return &Resolution{}, nil
	case StrategyAskUser:
		return &Resolution{Pending: true}, nil
	case StrategyMerge:
		incoming.Content = MergeContents(existing.Content, incoming.Content)
		return r.supersede(ctx, conflict, existing, incoming)
	case StrategyKeepNew:
		return r.supersede(ctx, conflict, existing, incoming)
	default:
		return nil, fmt.Errorf("unknown resolution strategy %q", conflict.Strategy)
	}
}

func (r *Resolver) supersede(ctx context.Context, conflict *Conflict, existing *store.AgentMemory, incoming *store.AgentMemory) (*Resolution, error) {
	if err := r.store.InsertMemory(ctx, incoming); err != nil {
		return nil, fmt.Errorf("insert replacement memory: %w", err)
	}
	if err := r.store.MarkSuperseded(ctx, existing.ID, incoming.ID); err != nil {
		return nil, fmt.Errorf("supersede memory %d: %w", existing.ID, err)
	}

	link := &store.MemoryLink{
		ID:         uuid.NewString(),
		SourceID:   incoming.ID,
		TargetID:   existing.ID,
		Kind:       linkKindFor(conflict.Type),
		Similarity: conflict.Similarity,
		CreatedAt:  time.Now(),
	}
	if err := r.store.InsertLink(ctx, link); err != nil {
		return nil, fmt.Errorf("link replacement memory: %w", err)
	}

	return &Resolution{Applied: true, NewID: incoming.ID}, nil
}

func linkKindFor(conflictType ConflictType) store.LinkKind {
	switch conflictType {
	case ConflictContradiction:
		return store.LinkContradicts
	case ConflictPartialUpdate:
		return store.LinkUpdates
	case ConflictDuplicate:
		return store.LinkSimilar
	default:
		return store.LinkRelated
	}
}

// MergeContents folds the old text into the new one. When the new text
// already restates the old, it stands alone; otherwise both are kept.
func MergeContents(old, new string) string {
	if strings.Contains(strings.ToLower(new), strings.ToLower(old)) {
		return new
	}
	return old + "; " + new
}
