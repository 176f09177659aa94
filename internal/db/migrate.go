package db

import (
	"fmt"

	"github.com/area-platform/areaengine/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates the schema for all engine tables.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	return conn.AutoMigrate(
		&models.Area{},
		&models.Credential{},
		&models.TriggerState{},
		&models.Execution{},
		&models.Setting{},
	)
}
