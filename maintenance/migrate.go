package maintenance

import (
	"context"
	"errors"
	"fmt"

	"bitbucket.org/meditrust/medsync_backend/config"
	"bitbucket.org/meditrust/medsync_backend/models"
	"bitbucket.org/meditrust/medsync_backend/syncengine"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const copyBatchSize = 500

// Report summarizes a whole-node migration: rows copied per table.
type Report struct {
	SourceNode string         `json:"source_node"`
	TargetNode string         `json:"target_node"`
	Copied     map[string]int `json:"copied"`
}

// MigrateNode rebuilds one node's business tables from another node's copy.
// The target is cleared first (children before parents), then every table is
// copied parents-first with medicine references re-numbered for the target.
// Meant for (re)provisioning a node, not for routine use; the reconciliation
// engine handles steady-state drift.
func MigrateNode(ctx context.Context, sourceNode string, targetNode string) (*Report, error) {
	if sourceNode == targetNode {
		return nil, errors.New("source and target node must differ")
	}
	src := config.GetNode(sourceNode)
	dst := config.GetNode(targetNode)
	if src == nil {
		return nil, errors.New("node not connected: " + sourceNode)
	}
	if dst == nil {
		return nil, errors.New("node not connected: " + targetNode)
	}

	logger := config.GetLogger()
	logger.WithFields(logrus.Fields{"source": sourceNode, "target": targetNode}).
		Warn("whole-node migration starting, target tables will be cleared")

	if err := models.MigrateNodeTables(dst); err != nil {
		return nil, err
	}

	for i := len(models.ReplicatedTables) - 1; i >= 0; i-- {
		table := models.ReplicatedTables[i]
		if err := dst.WithContext(ctx).Exec("DELETE FROM " + table).Error; err != nil {
			return nil, fmt.Errorf("clear %s at %s: %w", table, targetNode, err)
		}
	}

	report := &Report{SourceNode: sourceNode, TargetNode: targetNode, Copied: map[string]int{}}

	steps := []struct {
		table string
		copy  func() (int, error)
	}{
		{"medicines", func() (int, error) {
			return copyTable(ctx, src, dst, func(m *models.Medicine) {
				canonical := syncengine.ToCanonicalMedicineID(sourceNode, m.ID)
				m.ID = syncengine.FromCanonicalMedicineID(targetNode, canonical)
			})
		}},
		{"warehouses", func() (int, error) {
			return copyTable[models.Warehouse](ctx, src, dst, nil)
		}},
		{"users", func() (int, error) {
			return copyTable[models.User](ctx, src, dst, nil)
		}},
		{"inventory", func() (int, error) {
			return copyTable(ctx, src, dst, func(r *models.Inventory) {
				canonical := syncengine.ToCanonicalMedicineID(sourceNode, r.MedicineId)
				r.MedicineId = syncengine.FromCanonicalMedicineID(targetNode, canonical)
			})
		}},
		{"prescriptions", func() (int, error) {
			return copyTable[models.Prescription](ctx, src, dst, nil)
		}},
		{"prescription_items", func() (int, error) {
			return copyTable(ctx, src, dst, func(r *models.PrescriptionItem) {
				canonical := syncengine.ToCanonicalMedicineID(sourceNode, r.MedicineId)
				r.MedicineId = syncengine.FromCanonicalMedicineID(targetNode, canonical)
			})
		}},
		{"alert_messages", func() (int, error) {
			return copyTable(ctx, src, dst, func(r *models.AlertMessage) {
				if r.MedicineId != nil {
					canonical := syncengine.ToCanonicalMedicineID(sourceNode, *r.MedicineId)
					local := syncengine.FromCanonicalMedicineID(targetNode, canonical)
					r.MedicineId = &local
				}
			})
		}},
	}

	for _, step := range steps {
		n, err := step.copy()
		if err != nil {
			return nil, fmt.Errorf("copy %s: %w", step.table, err)
		}
		report.Copied[step.table] = n
	}

	logger.WithFields(logrus.Fields{"source": sourceNode, "target": targetNode, "copied": report.Copied}).
		Info("whole-node migration finished")
	return report, nil
}

// copyTable streams every row of T from src to dst, running transform on
// each row first. transform may be nil for verbatim copies.
func copyTable[T any](ctx context.Context, src *gorm.DB, dst *gorm.DB, transform func(*T)) (int, error) {
	var rows []T
	if err := src.WithContext(ctx).Find(&rows).Error; err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if transform != nil {
		for i := range rows {
			transform(&rows[i])
		}
	}
	if err := dst.WithContext(ctx).CreateInBatches(rows, copyBatchSize).Error; err != nil {
		return 0, err
	}
	return len(rows), nil
}
