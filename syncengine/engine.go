package syncengine

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/meditrust/medsync_backend/config"
	"bitbucket.org/meditrust/medsync_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DefaultSkewTolerance is the maximum timestamp lead a replica may show over
// its owner before a content mismatch is a real conflict instead of clock
// drift.
const DefaultSkewTolerance = 10 * time.Second

const defaultOpTimeout = 10 * time.Second

// Engine runs the broadcast-compare-propagate scan: for every replicated
// entity kind, each node's records are checked for ownership and the owner's
// state is pushed to the other nodes. Non-owner divergence within the skew
// window is re-aligned silently; beyond it, a conflict is raised and the
// record is frozen until arbitration.
type Engine struct {
	nodes         []string
	getNode       func(string) *gorm.DB
	ledger        *Ledger
	skewTolerance time.Duration
	opTimeout     time.Duration
	logger        *logrus.Logger
}

// CycleResult aggregates one scan cycle. Inserted and Updated count as
// automatic syncs; Aligned covers silent timestamp alignment, which is not
// real synchronization work.
type CycleResult struct {
	Inserted  int
	Updated   int
	Aligned   int
	Conflicts int
	Skipped   int
	Errors    int
}

func (r *CycleResult) merge(o CycleResult) {
	r.Inserted += o.Inserted
	r.Updated += o.Updated
	r.Aligned += o.Aligned
	r.Conflicts += o.Conflicts
	r.Skipped += o.Skipped
	r.Errors += o.Errors
}

// AutoSyncs is the number of record propagations performed.
func (r CycleResult) AutoSyncs() int { return r.Inserted + r.Updated }

func NewEngine(ledger *Ledger, skewTolerance time.Duration) *Engine {
	if skewTolerance <= 0 {
		skewTolerance = DefaultSkewTolerance
	}
	return &Engine{
		nodes:         config.AllNodes,
		getNode:       config.GetNode,
		ledger:        ledger,
		skewTolerance: skewTolerance,
		opTimeout:     defaultOpTimeout,
		logger:        config.GetLogger(),
	}
}

// RunCycle scans every replicated entity kind once. Each kind is independent;
// a failure in one never aborts the others.
func (e *Engine) RunCycle(ctx context.Context) CycleResult {
	var res CycleResult
	res.merge(syncEntity(ctx, e, userSchema))
	res.merge(syncEntity(ctx, e, inventorySchema))
	res.merge(syncEntity(ctx, e, prescriptionSchema))
	res.merge(syncEntity(ctx, e, prescriptionItemSchema))
	res.merge(syncEntity(ctx, e, alertSchema))
	return res
}

// syncEntity runs one entity kind across all (source, target) node pairs.
// Only the owner of a record broadcasts it; every other node's copy of the
// same record is handled when its owner is the scan source.
func syncEntity[T any](ctx context.Context, e *Engine, sc *Schema[T]) CycleResult {
	var res CycleResult

	for _, source := range e.nodes {
		srcDB := e.getNode(source)
		if srcDB == nil {
			e.logger.WithField("node", source).Warn("node unavailable, skipping as scan source")
			res.Errors++
			continue
		}

		var records []T
		opCtx, cancel := context.WithTimeout(ctx, e.opTimeout)
		err := srcDB.WithContext(opCtx).Find(&records).Error
		cancel()
		if err != nil {
			config.LogError(e.logger, "syncengine", "syncEntity", "list "+sc.Table+" at "+source, nil, err)
			res.Errors++
			continue
		}

		for i := range records {
			r := &records[i]
			key := sc.Key(r)

			locked, err := e.ledger.IsLocked(ctx, sc.Table, key)
			if err != nil {
				config.LogError(e.logger, "syncengine", "syncEntity", "lock check "+sc.Table+":"+key, nil, err)
				res.Errors++
				continue
			}
			if locked {
				res.Skipped++
				continue
			}

			pk, err := sc.PartitionKey(r, source)
			if err != nil {
				config.LogError(e.logger, "syncengine", "syncEntity", "partition key "+sc.Table+":"+key, nil, err)
				res.Errors++
				continue
			}
			owner, ok := OwnerOf(pk)
			if !ok {
				// Configuration error: a partition nobody owns. Skip the
				// record, never the scan.
				config.LogError(e.logger, "syncengine", "syncEntity", "ownership",
					map[string]any{"table": sc.Table, "record": key, "partition": pk},
					&unmappedPartitionError{table: sc.Table, key: key, pk: pk})
				res.Errors++
				continue
			}
			if owner != source {
				continue
			}

			canon := sc.clone(r)
			sc.canonicalize(canon, source)

			for _, target := range e.nodes {
				if target == source {
					continue
				}
				res.merge(pushToTarget(ctx, e, sc, canon, key, source, target))
			}
		}
	}

	if n := res.AutoSyncs(); n > 0 {
		if err := models.IncrementAutoSyncCount(ctx, n); err != nil {
			config.LogError(e.logger, "syncengine", "syncEntity", "increment auto sync stat", sc.Table, err)
		}
	}
	return res
}

// pushToTarget reconciles one canonicalized owner record against one target
// node. Every write here is its own transaction; a failure affects neither
// the other targets nor the rest of the scan.
func pushToTarget[T any](ctx context.Context, e *Engine, sc *Schema[T], canon *T, key string, source string, target string) CycleResult {
	var res CycleResult

	db := e.getNode(target)
	if db == nil {
		e.logger.WithFields(logrus.Fields{"node": target, "table": sc.Table, "record": key}).
			Warn("target node unavailable, skipping record")
		res.Errors++
		return res
	}

	opCtx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()
	tdb := db.WithContext(opCtx)

	var existing T
	err := tdb.Where("id = ?", sc.ID(canon)).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Broadcast a fresh copy, stamped with the owner's timestamp so the
		// replica converges exactly, not "as of insert time".
		ins := sc.clone(canon)
		sc.localize(ins, target)
		if err := tdb.Create(ins).Error; err != nil {
			config.LogError(e.logger, "syncengine", "pushToTarget", "insert "+sc.Table+":"+key+" -> "+target, nil, err)
			res.Errors++
			return res
		}
		e.logger.WithFields(logrus.Fields{"table": sc.Table, "record": key, "from": source, "to": target}).
			Debug("replicated new record")
		res.Inserted++
		return res
	}
	if err != nil {
		config.LogError(e.logger, "syncengine", "pushToTarget", "read "+sc.Table+":"+key+" at "+target, nil, err)
		res.Errors++
		return res
	}

	srcTime := sc.LastUpdated(canon)
	dstTime := sc.LastUpdated(&existing)

	canonTarget := sc.clone(&existing)
	sc.canonicalize(canonTarget, target)
	diffs := diffFields(sc, canon, canonTarget)

	switch {
	case srcTime.After(dstTime):
		// Owner is newer: the expected steady state.
		if len(diffs) == 0 {
			// Content already matches; only the clocks disagree. Align the
			// timestamp without counting a sync.
			if err := tdb.Model(new(T)).Where("id = ?", sc.ID(canon)).
				UpdateColumn("last_updated", srcTime).Error; err != nil {
				config.LogError(e.logger, "syncengine", "pushToTarget", "align "+sc.Table+":"+key+" at "+target, nil, err)
				res.Errors++
				return res
			}
			res.Aligned++
			return res
		}
		if err := overwriteTarget(tdb, sc, canon, target); err != nil {
			config.LogError(e.logger, "syncengine", "pushToTarget", "update "+sc.Table+":"+key+" -> "+target, nil, err)
			res.Errors++
			return res
		}
		e.logger.WithFields(logrus.Fields{"table": sc.Table, "record": key, "from": source, "to": target}).
			Debug("propagated owner update")
		res.Updated++

	case dstTime.After(srcTime):
		// Replica ahead of its owner: anomalous.
		if len(diffs) == 0 {
			return res
		}
		if dstTime.Sub(srcTime) <= e.skewTolerance {
			// Benign clock drift; the owner's view wins.
			if err := overwriteTarget(tdb, sc, canon, target); err != nil {
				config.LogError(e.logger, "syncengine", "pushToTarget", "realign "+sc.Table+":"+key+" -> "+target, nil, err)
				res.Errors++
				return res
			}
			res.Updated++
			return res
		}
		// Genuine unauthorized modification at the target. Freeze both
		// copies and hand it to an operator.
		reason := DiffText(sc.Table, key, source, target, diffs)
		if err := e.ledger.Raise(ctx, sc.Table, key, source, target, reason); err != nil {
			config.LogError(e.logger, "syncengine", "pushToTarget", "raise conflict "+sc.Table+":"+key, nil, err)
			res.Errors++
			return res
		}
		res.Conflicts++
	}

	return res
}

// overwriteTarget writes every payload column plus last_updated from the
// canonical record, re-offset for the target node.
func overwriteTarget[T any](tdb *gorm.DB, sc *Schema[T], canon *T, target string) error {
	upd := sc.clone(canon)
	sc.localize(upd, target)
	return tdb.Model(new(T)).Where("id = ?", sc.ID(canon)).
		Updates(sc.columnValues(upd)).Error
}
