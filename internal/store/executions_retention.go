package store

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/area-platform/areaengine/internal/settings"
)

const (
	defaultRetentionInterval = 6 * time.Hour
	retentionDeleteBatchSize = 5000
	maxDeleteBatchesPerRun   = 2000
)

// ExecutionRetentionCleaner periodically deletes old rows from the executions
// table. Retention days come from the settings snapshot so operators can tune
// it without a restart.
type ExecutionRetentionCleaner struct {
	db        *gorm.DB
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewExecutionRetentionCleaner constructs the cleaner.
func NewExecutionRetentionCleaner(db *gorm.DB) *ExecutionRetentionCleaner {
	if db == nil {
		return nil
	}
	return &ExecutionRetentionCleaner{
		db:        db,
		interval:  defaultRetentionInterval,
		batchSize: retentionDeleteBatchSize,
		now:       time.Now,
	}
}

// Start launches the cleanup loop in a background goroutine.
func (c *ExecutionRetentionCleaner) Start(ctx context.Context) {
	if c == nil {
		return
	}
	go c.run(ctx)
	log.Infof("execution retention cleaner started (interval=%s)", c.interval)
}

func (c *ExecutionRetentionCleaner) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.cleanupOnce(ctx)
		timer := time.NewTimer(c.interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

func (c *ExecutionRetentionCleaner) cleanupOnce(ctx context.Context) {
	retentionDays := settings.DBConfigInt(settings.ExecutionsRetentionDaysKey, settings.DefaultExecutionsRetentionDays)
	if retentionDays <= 0 {
		return
	}
	cutoff := c.now().UTC().AddDate(0, 0, -retentionDays)

	deletedTotal := int64(0)
	for i := 0; i < maxDeleteBatchesPerRun; i++ {
		if ctx.Err() != nil {
			return
		}
		n, err := c.deleteBatch(ctx, cutoff)
		if err != nil {
			log.WithError(err).Warn("execution retention cleaner: delete batch failed")
			break
		}
		if n <= 0 {
			break
		}
		deletedTotal += n
	}

	if deletedTotal > 0 {
		log.Infof("execution retention cleaner: deleted %d rows (cutoff=%s retention_days=%d)", deletedTotal, cutoff.Format(time.RFC3339), retentionDays)
	}
}

func (c *ExecutionRetentionCleaner) deleteBatch(ctx context.Context, cutoff time.Time) (int64, error) {
	limit := c.batchSize
	if limit <= 0 {
		limit = retentionDeleteBatchSize
	}

	// A limited subquery keeps each delete short and avoids table locks.
	res := c.db.WithContext(ctx).Exec(`
		DELETE FROM executions
		WHERE id IN (
			SELECT id FROM executions
			WHERE created_at < ?
			ORDER BY created_at ASC
			LIMIT ?
		)
	`, cutoff, limit)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
