package syncengine

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/meditrust/medsync_backend/config"
	"bitbucket.org/meditrust/medsync_backend/models"
	"bitbucket.org/meditrust/medsync_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Notifier is the outbound alerting collaborator. Delivery is best-effort:
// a failure is logged and swallowed, never propagated into the scan.
type Notifier interface {
	NotifyConflict(ctx context.Context, tableName string, recordId string, reason string) error
}

// ErrConflictAlreadyResolved is returned when a resolution races another and
// loses the status re-check.
var ErrConflictAlreadyResolved = errors.New("conflict already resolved")

// conflictReasonMaxLen matches the ConflictReason column. Reasons embed field
// values of unbounded length; recording the conflict matters more than the
// tail of the diff, so anything longer is clipped before the insert.
const conflictReasonMaxLen = 500

func clipReason(s string) string {
	r := []rune(s)
	if len(r) <= conflictReasonMaxLen {
		return s
	}
	return string(r[:conflictReasonMaxLen-3]) + "..."
}

// Ledger is the durable conflict log on the central node plus the lock
// predicate the engine consults before touching any record.
type Ledger struct {
	notifier Notifier
	logger   *logrus.Logger
}

func NewLedger(notifier Notifier) *Ledger {
	return &Ledger{
		notifier: notifier,
		logger:   config.GetLogger(),
	}
}

// IsLocked reports whether a PENDING conflict exists for the record. Locked
// records are skipped entirely by reconciliation until an operator resolves
// them.
func (l *Ledger) IsLocked(ctx context.Context, tableName string, recordId string) (bool, error) {
	db := config.GetCentralDB()
	if db == nil {
		return false, errors.New("central node not connected")
	}
	var count int64
	err := db.WithContext(ctx).Model(&models.SyncConflictLog{}).
		Where("table_name = ? AND record_id = ? AND status = ?",
			tableName, recordId, models.ConflictStatusPending).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Raise records a conflict. Idempotent: when a PENDING row already exists
// for the key, nothing happens, so repeated scan cycles never stack duplicate
// conflicts. A fresh conflict also bumps the daily statistic and pings the
// notifier.
func (l *Ledger) Raise(ctx context.Context, tableName string, recordId string, ownerNode string, intruderNode string, reason string) error {
	db := config.GetCentralDB()
	if db == nil {
		return errors.New("central node not connected")
	}

	var existing models.SyncConflictLog
	err := db.WithContext(ctx).
		Where("table_name = ? AND record_id = ? AND status = ?",
			tableName, recordId, models.ConflictStatusPending).
		First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	row := models.SyncConflictLog{
		EntityTable:    tableName,
		RecordId:       recordId,
		SourceDb:       ownerNode,
		TargetDb:       intruderNode,
		ConflictReason: clipReason(reason),
		Status:         models.ConflictStatusPending,
		CreateTime:     utils.TruncateToSecond(time.Now()),
	}
	if err := db.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}

	l.logger.WithFields(logrus.Fields{
		"table":    tableName,
		"recordId": recordId,
		"owner":    ownerNode,
		"intruder": intruderNode,
	}).Warn("sync conflict raised")

	if err := models.IncrementConflictCount(ctx); err != nil {
		config.LogError(l.logger, "syncengine", "Raise", "increment conflict stat", recordId, err)
	}
	if l.notifier != nil {
		if err := l.notifier.NotifyConflict(ctx, tableName, recordId, reason); err != nil {
			config.LogError(l.logger, "syncengine", "Raise", "notify conflict", recordId, err)
		}
	}
	return nil
}

// Resolve flips a conflict to RESOLVED. The WHERE clause re-checks PENDING
// status, so a concurrent resolution attempt loses cleanly instead of
// double-resolving.
func (l *Ledger) Resolve(ctx context.Context, conflictId int, chosenNode string, resolvedAt time.Time) error {
	db := config.GetCentralDB()
	if db == nil {
		return errors.New("central node not connected")
	}

	res := db.WithContext(ctx).Model(&models.SyncConflictLog{}).
		Where("id = ? AND status = ?", conflictId, models.ConflictStatusPending).
		Updates(map[string]interface{}{
			"status":          models.ConflictStatusResolved,
			"resolved_choice": chosenNode,
			"resolved_time":   resolvedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflictAlreadyResolved
	}

	if err := models.IncrementManualResolveCount(ctx); err != nil {
		config.LogError(l.logger, "syncengine", "Resolve", "increment resolve stat", conflictId, err)
	}
	return nil
}
