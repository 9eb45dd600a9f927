package models

import (
	"sync/atomic"

	"gorm.io/gorm"
)

// postWriteSync is installed by the sync engine at startup. Business writes
// invoke it after commit so a scan runs without waiting for the next tick.
// It must never block the caller.
var postWriteSync atomic.Value // func()

// RegisterPostWriteSync installs the fire-and-forget trigger invoked after
// every business write to a replicated table.
func RegisterPostWriteSync(fn func()) {
	postWriteSync.Store(fn)
}

func notifyBusinessWrite() {
	if fn, ok := postWriteSync.Load().(func()); ok && fn != nil {
		fn()
	}
}

// nextIntID mints the next integer primary key at the owning node. Replicated
// integer keys are generated exactly once, at the owner, and copied verbatim
// to the other nodes, so the column cannot rely on per-engine auto-increment.
func nextIntID(tx *gorm.DB, table string) (int, error) {
	var maxID int
	if err := tx.Table(table).Select("COALESCE(MAX(id), 0)").Scan(&maxID).Error; err != nil {
		return 0, err
	}
	return maxID + 1, nil
}
