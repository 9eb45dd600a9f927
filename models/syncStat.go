package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/meditrust/medsync_backend/config"
	"gorm.io/gorm"
)

// SyncStat is one row per calendar day on the central node, upserted by the
// reconciliation engine and the arbitration service.
type SyncStat struct {
	SyncDate           string `gorm:"primaryKey;size:10;column:sync_date" json:"sync_date"`
	AutoSyncCount      int    `gorm:"default:0" json:"auto_sync_count"`
	ConflictCount      int    `gorm:"default:0" json:"conflict_count"`
	ManualResolveCount int    `gorm:"default:0" json:"manual_resolve_count"`
}

func (SyncStat) TableName() string { return "sync_stats" }

func statDateKey(t time.Time) string { return t.Format("2006-01-02") }

func incrementSyncStat(ctx context.Context, column string, n int) error {
	if n <= 0 {
		return nil
	}
	db := config.GetCentralDB()
	if db == nil {
		return errors.New("central node not connected")
	}

	key := statDateKey(time.Now())
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stat SyncStat
		err := tx.Where("sync_date = ?", key).First(&stat).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := tx.Create(&SyncStat{SyncDate: key}).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		return tx.Model(&SyncStat{}).Where("sync_date = ?", key).
			UpdateColumn(column, gorm.Expr(column+" + ?", n)).Error
	})
}

func IncrementAutoSyncCount(ctx context.Context, n int) error {
	return incrementSyncStat(ctx, "auto_sync_count", n)
}

func IncrementConflictCount(ctx context.Context) error {
	return incrementSyncStat(ctx, "conflict_count", 1)
}

func IncrementManualResolveCount(ctx context.Context) error {
	return incrementSyncStat(ctx, "manual_resolve_count", 1)
}

// GetRecentSyncStats returns the last n daily rows, oldest first.
func GetRecentSyncStats(ctx context.Context, n int) ([]*SyncStat, error) {
	db := config.GetCentralDB()
	if db == nil {
		return nil, errors.New("central node not connected")
	}
	if n <= 0 {
		n = 7
	}
	var results []*SyncStat
	if err := db.WithContext(ctx).
		Order("sync_date DESC").
		Limit(n).
		Find(&results).Error; err != nil {
		return nil, err
	}
	// Reverse so charts read left to right.
	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
	}
	return results, nil
}
