package models

import (
	"time"

	"gorm.io/datatypes"
)

// Execution phases.
const (
	ExecutionPhaseTrigger  = "trigger"
	ExecutionPhaseReaction = "reaction"
)

// Execution outcomes.
const (
	ExecutionOutcomeTriggered = "triggered" // Trigger occurred, reaction queued.
	ExecutionOutcomeIdle      = "idle"      // Evaluated, nothing new.
	ExecutionOutcomeSkipped   = "skipped"   // Not evaluated (config/auth error, still in flight).
	ExecutionOutcomeSuccess   = "success"   // Reaction executed.
	ExecutionOutcomeFailed    = "failed"    // Evaluation or reaction failed (after retries for reactions).
	ExecutionOutcomeDropped   = "dropped"   // Reaction rejected because the queue was full.
)

// Execution records one evaluation or reaction outcome for an Area. The ops API
// serves these rows as the Area's execution history.
type Execution struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	AreaID  string `gorm:"type:text;not null;index"`
	Phase   string `gorm:"type:text;not null"`       // trigger | reaction
	Outcome string `gorm:"type:text;not null;index"` // See ExecutionOutcome constants.

	ErrorKind string `gorm:"type:text"` // Empty on success.
	Message   string `gorm:"type:text"`
	Attempts  int    `gorm:"not null;default:0"`

	Detail datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"` // Occurrence or reaction payload.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"`
}
