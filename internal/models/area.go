package models

import (
	"time"

	"gorm.io/datatypes"
)

// Area stores a user-defined automation rule pairing one trigger with one reaction.
type Area struct {
	ID      string `gorm:"type:text;primaryKey"` // Opaque identifier (UUID).
	OwnerID string `gorm:"type:text;not null;index"`

	ActionProvider string         `gorm:"type:text;not null"`               // Trigger-side provider name.
	ActionKind     string         `gorm:"type:text;not null"`               // Trigger kind within the provider.
	ActionParams   datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"` // Trigger parameters.

	ReactionProvider string         `gorm:"type:text;not null"`               // Reaction-side provider name.
	ReactionKind     string         `gorm:"type:text;not null"`               // Reaction kind within the provider.
	ReactionParams   datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"` // Reaction parameters.

	Active bool `gorm:"type:boolean;not null;default:true;index"` // Evaluation is skipped entirely when false.

	// LastTriggeredAt is the cursor: the instant up to which trigger occurrences
	// have already been consumed. Monotonically non-decreasing once set.
	LastTriggeredAt *time.Time

	// DisabledAt/DisabledReason mark an Area unevaluable after a configuration or
	// authorization error. Cleared by the CRUD surface when the owner fixes the rule.
	DisabledAt     *time.Time
	DisabledReason string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
}
