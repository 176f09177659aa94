package models

import (
	"time"

	"gorm.io/datatypes"
)

// Setting stores one runtime-tunable configuration value.
type Setting struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	Key   string         `gorm:"type:text;not null;uniqueIndex"`
	Value datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
}
