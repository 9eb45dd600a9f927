package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/meditrust/medsync_backend/config"
)

const (
	ConflictStatusPending  = "PENDING"
	ConflictStatusResolved = "RESOLVED"
)

// SyncConflictLog is the durable conflict ledger. It lives on the central
// node only. RecordId is a string so the same ledger covers integer-keyed and
// uuid-keyed tables. At most one PENDING row may exist per
// (table_name, record_id); rows are never deleted.
type SyncConflictLog struct {
	ID             int        `gorm:"primaryKey;autoIncrement" json:"id"`
	EntityTable    string     `gorm:"column:table_name;size:50;index:idx_conflict_key" json:"table_name"`
	RecordId       string     `gorm:"size:64;index:idx_conflict_key" json:"record_id"`
	SourceDb       string     `gorm:"size:20" json:"source_db"`
	TargetDb       string     `gorm:"size:20" json:"target_db"`
	ConflictReason string     `gorm:"size:500" json:"conflict_reason"`
	Status         string     `gorm:"size:20;default:PENDING;index" json:"status"`
	ResolvedChoice *string    `gorm:"size:20" json:"resolved_choice"`
	CreateTime     time.Time  `gorm:"column:create_time" json:"create_time"`
	ResolvedTime   *time.Time `gorm:"column:resolved_time" json:"resolved_time"`
}

func (SyncConflictLog) TableName() string { return "sync_conflict_logs" }

func GetPendingConflicts(ctx context.Context) ([]*SyncConflictLog, error) {
	db := config.GetCentralDB()
	if db == nil {
		return nil, errors.New("central node not connected")
	}
	var results []*SyncConflictLog
	if err := db.WithContext(ctx).
		Where("status = ?", ConflictStatusPending).
		Order("create_time DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func GetResolvedConflicts(ctx context.Context, limit int) ([]*SyncConflictLog, error) {
	db := config.GetCentralDB()
	if db == nil {
		return nil, errors.New("central node not connected")
	}
	if limit <= 0 {
		limit = 100
	}
	var results []*SyncConflictLog
	if err := db.WithContext(ctx).
		Where("status = ?", ConflictStatusResolved).
		Order("resolved_time DESC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func GetConflict(ctx context.Context, id int) (*SyncConflictLog, error) {
	db := config.GetCentralDB()
	if db == nil {
		return nil, errors.New("central node not connected")
	}
	var log SyncConflictLog
	if err := db.WithContext(ctx).Where("id = ?", id).First(&log).Error; err != nil {
		return nil, err
	}
	return &log, nil
}
