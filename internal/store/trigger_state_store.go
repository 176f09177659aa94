package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/area-platform/areaengine/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TriggerStateStore persists per-Area adapter snapshots.
type TriggerStateStore struct {
	db    *gorm.DB
	locks *keyedMutex
}

// NewTriggerStateStore constructs a TriggerStateStore.
func NewTriggerStateStore(db *gorm.DB) *TriggerStateStore {
	return &TriggerStateStore{db: db, locks: newKeyedMutex()}
}

// Snapshot returns the stored snapshot for an Area, or nil when none exists.
func (s *TriggerStateStore) Snapshot(ctx context.Context, areaID string) (json.RawMessage, error) {
	var state models.TriggerState
	errFind := s.db.WithContext(ctx).Where("area_id = ?", areaID).First(&state).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if errFind != nil {
		return nil, errFind
	}
	return json.RawMessage(state.Snapshot), nil
}

// Save creates or replaces the snapshot for an Area.
func (s *TriggerStateStore) Save(ctx context.Context, areaID string, snapshot json.RawMessage) error {
	s.locks.Lock(areaID)
	defer s.locks.Unlock(areaID)

	if len(snapshot) == 0 {
		snapshot = json.RawMessage("{}")
	}

	var existing models.TriggerState
	errFind := s.db.WithContext(ctx).Where("area_id = ?", areaID).First(&existing).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return s.db.WithContext(ctx).Create(&models.TriggerState{
			AreaID:   areaID,
			Snapshot: datatypes.JSON(snapshot),
		}).Error
	}
	if errFind != nil {
		return errFind
	}
	return s.db.WithContext(ctx).
		Model(&models.TriggerState{}).
		Where("id = ?", existing.ID).
		Update("snapshot", datatypes.JSON(snapshot)).Error
}

// Delete removes the snapshot for an Area (on Area deletion).
func (s *TriggerStateStore) Delete(ctx context.Context, areaID string) error {
	s.locks.Lock(areaID)
	defer s.locks.Unlock(areaID)

	return s.db.WithContext(ctx).
		Where("area_id = ?", areaID).
		Delete(&models.TriggerState{}).Error
}

// areaStateView binds the store to one Area for the adapter-facing contract.
type areaStateView struct {
	store  *TriggerStateStore
	areaID string
}

// ForArea returns an adapter-facing view scoped to one Area.
func (s *TriggerStateStore) ForArea(areaID string) *areaStateView {
	return &areaStateView{store: s, areaID: areaID}
}

func (v *areaStateView) Snapshot(ctx context.Context) (json.RawMessage, error) {
	return v.store.Snapshot(ctx, v.areaID)
}

func (v *areaStateView) Save(ctx context.Context, snapshot json.RawMessage) error {
	return v.store.Save(ctx, v.areaID, snapshot)
}
