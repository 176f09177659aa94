package service

import (
	"context"
	"encoding/json"
	"time"
)

// StateStore gives an adapter access to its per-Area trigger state snapshot.
// The snapshot is adapter-defined JSON (last seen id, live flag, baseline set).
type StateStore interface {
	// Snapshot returns the stored snapshot, or nil when none exists yet.
	Snapshot(ctx context.Context) (json.RawMessage, error)
	// Save replaces the stored snapshot.
	Save(ctx context.Context, snapshot json.RawMessage) error
}

// TriggerRequest carries everything an adapter needs to evaluate a trigger.
type TriggerRequest struct {
	AreaID string
	UserID string
	Kind   string
	Params map[string]any
	// Since is the Area's cursor: the exclusive lower bound for "new". Nil on
	// the first evaluation; adapters must then record a baseline and not fire.
	Since *time.Time
	// State is the Area's trigger state snapshot store.
	State StateStore
}

// TriggerResult reports the outcome of a trigger check.
type TriggerResult struct {
	Occurred bool
	// OccurredAt is the occurrence's own timestamp when the provider reports
	// one; zero means the scheduler advances the cursor to "now".
	OccurredAt time.Time
	// Data describes the occurrence and is handed to the reaction.
	Data map[string]any
}

// ReactionRequest carries everything an adapter needs to execute a reaction.
type ReactionRequest struct {
	AreaID string
	UserID string
	Kind   string
	Params map[string]any
	// TriggerData is the occurrence payload from the trigger side.
	TriggerData map[string]any
}

// ReactionResult reports the outcome of a reaction execution.
type ReactionResult struct {
	Detail map[string]any
}

// Adapter is the per-provider capability contract. Implementations must be
// safe for concurrent use; the engine bounds concurrency externally.
type Adapter interface {
	// Descriptor returns the provider's static capability declaration.
	Descriptor() Descriptor
	// CheckTrigger evaluates one trigger kind. It must be side-effect-free with
	// respect to the rule store and use req.Since as the exclusive lower bound
	// for new occurrences.
	CheckTrigger(ctx context.Context, req TriggerRequest) (TriggerResult, error)
	// ExecuteReaction performs one reaction kind. Implementations are expected
	// to tolerate at-least-once delivery.
	ExecuteReaction(ctx context.Context, req ReactionRequest) (ReactionResult, error)
}
