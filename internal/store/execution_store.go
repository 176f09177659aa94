package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/area-platform/areaengine/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ExecutionStore records and serves per-Area execution history.
type ExecutionStore struct {
	db *gorm.DB
}

// NewExecutionStore constructs an ExecutionStore.
func NewExecutionStore(db *gorm.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// Record persists one evaluation or reaction outcome.
func (s *ExecutionStore) Record(ctx context.Context, areaID, phase, outcome, errorKind, message string, attempts int, detail map[string]any) error {
	payload := json.RawMessage("{}")
	if len(detail) > 0 {
		if encoded, errMarshal := json.Marshal(detail); errMarshal == nil {
			payload = encoded
		}
	}
	row := models.Execution{
		AreaID:    areaID,
		Phase:     phase,
		Outcome:   outcome,
		ErrorKind: errorKind,
		Message:   message,
		Attempts:  attempts,
		Detail:    datatypes.JSON(payload),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// List returns recent executions, newest first, optionally filtered by Area.
func (s *ExecutionStore) List(ctx context.Context, areaID string, limit int) ([]models.Execution, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := s.db.WithContext(ctx).Model(&models.Execution{})
	if areaID != "" {
		query = query.Where("area_id = ?", areaID)
	}

	var rows []models.Execution
	if errFind := query.Order("id DESC").Limit(limit).Find(&rows).Error; errFind != nil {
		return nil, errFind
	}
	return rows, nil
}

// PurgeOlderThan deletes execution rows created before the cutoff and returns
// the number of rows removed.
func (s *ExecutionStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff.UTC()).
		Delete(&models.Execution{})
	return result.RowsAffected, result.Error
}
