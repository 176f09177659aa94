package models

import (
	"time"

	"gorm.io/datatypes"
)

// TriggerState stores an adapter-owned snapshot used to detect trigger edges
// that a pure timestamp cursor cannot express (last seen id, live/offline flag,
// above/below threshold). One row per Area.
type TriggerState struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	AreaID   string         `gorm:"type:text;not null;uniqueIndex"`
	Snapshot datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"` // Adapter-defined payload.

	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
}

// TableName overrides the default table name.
func (TriggerState) TableName() string {
	return "trigger_states"
}
