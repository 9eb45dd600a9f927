package syncengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/meditrust/medsync_backend/config"
	"bitbucket.org/meditrust/medsync_backend/models"
	"bitbucket.org/meditrust/medsync_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Arbitrator applies operator decisions to conflicts the engine froze. The
// chosen node's copy becomes truth everywhere, ownership notwithstanding.
type Arbitrator struct {
	ledger *Ledger
	nodes  []string
	logger *logrus.Logger
}

func NewArbitrator(ledger *Ledger) *Arbitrator {
	return &Arbitrator{
		ledger: ledger,
		nodes:  config.AllNodes,
		logger: config.GetLogger(),
	}
}

// Resolve rewrites the conflicted record at every node from the chosen node's
// copy, then marks the conflict resolved. Partial failures leave the conflict
// PENDING so a retry can finish the job; the error names the nodes that did
// not take the write.
func (a *Arbitrator) Resolve(ctx context.Context, conflictId int, chosenNode string) error {
	conflict, err := models.GetConflict(ctx, conflictId)
	if err != nil {
		return err
	}
	if conflict.Status == models.ConflictStatusResolved {
		return ErrConflictAlreadyResolved
	}
	if _, ok := NodeHomeWarehouse[chosenNode]; !ok {
		return fmt.Errorf("%w: %s", utils.ErrorUnknownNode, chosenNode)
	}

	resolvedAt := utils.TruncateToSecond(time.Now())

	switch conflict.EntityTable {
	case userSchema.Table:
		err = resolveEntity(ctx, a, userSchema, conflict, chosenNode, resolvedAt)
	case inventorySchema.Table:
		err = resolveEntity(ctx, a, inventorySchema, conflict, chosenNode, resolvedAt)
	case prescriptionSchema.Table:
		err = resolveEntity(ctx, a, prescriptionSchema, conflict, chosenNode, resolvedAt)
	case prescriptionItemSchema.Table:
		err = resolveEntity(ctx, a, prescriptionItemSchema, conflict, chosenNode, resolvedAt)
	case alertSchema.Table:
		err = resolveEntity(ctx, a, alertSchema, conflict, chosenNode, resolvedAt)
	default:
		err = fmt.Errorf("no replicated entity registered for table %s", conflict.EntityTable)
	}
	if err != nil {
		return err
	}

	if err := a.ledger.Resolve(ctx, conflictId, chosenNode, resolvedAt); err != nil {
		return err
	}

	a.logger.WithFields(logrus.Fields{
		"conflictId": conflictId,
		"table":      conflict.EntityTable,
		"recordId":   conflict.RecordId,
		"chosen":     chosenNode,
	}).Info("conflict resolved")
	return nil
}

// resolveEntity reads the authoritative copy at the chosen node and rewrites
// it at every other node, each write in its own transaction. The shared
// resolution timestamp keeps the next scan cycle from re-flagging the record.
func resolveEntity[T any](ctx context.Context, a *Arbitrator, sc *Schema[T], conflict *models.SyncConflictLog, chosenNode string, resolvedAt time.Time) error {
	idv, err := sc.ParseKey(conflict.RecordId)
	if err != nil {
		return fmt.Errorf("conflict %d carries unparseable record id %q: %w", conflict.ID, conflict.RecordId, err)
	}

	srcDB := config.GetNode(chosenNode)
	if srcDB == nil {
		return fmt.Errorf("chosen node %s not connected", chosenNode)
	}

	var chosen T
	err = srcDB.WithContext(ctx).Where("id = ?", idv).First(&chosen).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("record %s:%s not found at chosen node %s", conflict.EntityTable, conflict.RecordId, chosenNode)
	}
	if err != nil {
		return err
	}

	canon := sc.clone(&chosen)
	sc.canonicalize(canon, chosenNode)
	sc.SetLastUpdated(canon, resolvedAt)

	var failed []string
	for _, node := range a.nodes {
		db := config.GetNode(node)
		if db == nil {
			failed = append(failed, node)
			continue
		}
		local := sc.clone(canon)
		sc.localize(local, node)

		var existing T
		err := db.WithContext(ctx).Where("id = ?", idv).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = db.WithContext(ctx).Create(local).Error
		} else if err == nil {
			err = db.WithContext(ctx).Model(new(T)).Where("id = ?", idv).
				Updates(sc.columnValues(local)).Error
		}
		if err != nil {
			config.LogError(a.logger, "syncengine", "resolveEntity",
				"rewrite "+conflict.EntityTable+":"+conflict.RecordId+" at "+node, nil, err)
			failed = append(failed, node)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("resolution incomplete, conflict stays pending; failed nodes: %v", failed)
	}
	return nil
}
