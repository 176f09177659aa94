package store

import (
	"context"
	"errors"
	"time"

	"github.com/area-platform/areaengine/internal/models"
	"gorm.io/gorm"
)

// ErrAreaNotFound is returned when an Area id does not exist.
var ErrAreaNotFound = errors.New("store: area not found")

// AreaStore reads automation rules and advances their cursors.
type AreaStore struct {
	db    *gorm.DB
	locks *keyedMutex
}

// NewAreaStore constructs an AreaStore.
func NewAreaStore(db *gorm.DB) *AreaStore {
	return &AreaStore{db: db, locks: newKeyedMutex()}
}

// ListActive returns all active, evaluable Areas.
func (s *AreaStore) ListActive(ctx context.Context) ([]models.Area, error) {
	var areas []models.Area
	if errFind := s.db.WithContext(ctx).
		Where("active = ? AND disabled_at IS NULL", true).
		Order("id ASC").
		Find(&areas).Error; errFind != nil {
		return nil, errFind
	}
	return areas, nil
}

// Get returns one Area by id.
func (s *AreaStore) Get(ctx context.Context, id string) (models.Area, error) {
	var area models.Area
	errFind := s.db.WithContext(ctx).Where("id = ?", id).First(&area).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return models.Area{}, ErrAreaNotFound
	}
	if errFind != nil {
		return models.Area{}, errFind
	}
	return area, nil
}

// AdvanceCursor moves last_triggered_at forward to at. The update is a no-op
// when the stored cursor is already at or past the new value, keeping the
// cursor monotonically non-decreasing under concurrent callers.
func (s *AreaStore) AdvanceCursor(ctx context.Context, id string, at time.Time) error {
	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	at = at.UTC()
	return s.db.WithContext(ctx).
		Model(&models.Area{}).
		Where("id = ? AND (last_triggered_at IS NULL OR last_triggered_at < ?)", id, at).
		Update("last_triggered_at", at).Error
}

// Disable marks an Area unevaluable after a configuration or authorization
// error. The Area stays out of ListActive until the owner fixes it.
func (s *AreaStore) Disable(ctx context.Context, id, reason string) error {
	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	now := time.Now().UTC()
	return s.db.WithContext(ctx).
		Model(&models.Area{}).
		Where("id = ? AND disabled_at IS NULL", id).
		Updates(map[string]any{
			"disabled_at":     now,
			"disabled_reason": reason,
		}).Error
}
