package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/meditrust/medsync_backend/config"
	"bitbucket.org/meditrust/medsync_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Prescription is a replicated entity keyed by a client-minted uuid, so the
// identifier is stable across nodes without any sequence coordination.
// WarehouseId is the partition key.
type Prescription struct {
	ID             string          `gorm:"primaryKey;size:36" json:"id"`
	PrescriptionNo string          `gorm:"size:30;index" json:"prescription_no"`
	PatientName    string          `gorm:"size:100" json:"patient_name"`
	DoctorId       int             `gorm:"not null;index" json:"doctor_id"`
	WarehouseId    int             `gorm:"not null;index" json:"warehouse_id"`
	TotalAmount    decimal.Decimal `gorm:"type:decimal(12,2)" json:"total_amount"`
	IsWarned       int             `json:"is_warned"`
	CreateTime     time.Time       `gorm:"column:create_time" json:"create_time"`
	LastUpdated    time.Time       `gorm:"column:last_updated;index" json:"last_updated"`
}

func (Prescription) TableName() string { return "prescriptions" }

// PrescriptionItem is a replicated line item. Its partition key is inherited
// from the parent prescription's warehouse.
type PrescriptionItem struct {
	ID             string          `gorm:"primaryKey;size:36" json:"id"`
	PrescriptionId string          `gorm:"size:36;not null;index" json:"prescription_id"`
	MedicineId     int             `gorm:"not null" json:"medicine_id"`
	Quantity       int             `gorm:"not null" json:"quantity"`
	PriceSnapshot  decimal.Decimal `gorm:"type:decimal(12,2)" json:"price_snapshot"`
	LastUpdated    time.Time       `gorm:"column:last_updated;index" json:"last_updated"`
}

func (PrescriptionItem) TableName() string { return "prescription_items" }

type NewPrescriptionItem struct {
	MedicineId int `json:"medicine_id" binding:"required"`
	Quantity   int `json:"quantity" binding:"required,gt=0"`
}

type NewPrescription struct {
	PatientName string                `json:"patient_name" binding:"required"`
	Items       []NewPrescriptionItem `json:"items" binding:"required,min=1,dive"`
}

// warnThreshold marks unusually expensive prescriptions for review.
var warnThreshold = decimal.NewFromInt(2000)

// CreatePrescription writes the header and line items at the caller's node,
// which must own the warehouse, and deducts stock for each line. The whole
// write is one local transaction; propagation to the other nodes is the
// reconciliation engine's job.
func CreatePrescription(ctx context.Context, nodeId string, warehouseId int, input *NewPrescription) (*Prescription, error) {
	db := config.GetNode(nodeId)
	if db == nil {
		return nil, errors.New("node not connected: " + nodeId)
	}

	doctorId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, errors.New("user id is required")
	}

	now := utils.TruncateToSecond(time.Now())
	pres := Prescription{
		ID:             uuid.NewString(),
		PrescriptionNo: fmt.Sprintf("RX-%s-%s", now.Format("20060102"), uuid.NewString()[:8]),
		PatientName:    input.PatientName,
		DoctorId:       doctorId,
		WarehouseId:    warehouseId,
		CreateTime:     now,
		LastUpdated:    now,
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		total := decimal.Zero
		items := make([]PrescriptionItem, 0, len(input.Items))

		for _, line := range input.Items {
			var med Medicine
			if terr := tx.Where("id = ?", line.MedicineId).First(&med).Error; terr != nil {
				return fmt.Errorf("medicine %d: %w", line.MedicineId, terr)
			}

			var inv Inventory
			if terr := tx.Where("warehouse_id = ? AND medicine_id = ?", warehouseId, line.MedicineId).
				First(&inv).Error; terr != nil {
				return fmt.Errorf("stock for medicine %d: %w", line.MedicineId, terr)
			}
			if inv.Quantity < line.Quantity {
				return ErrInsufficientStock
			}
			if terr := tx.Model(&Inventory{}).Where("id = ?", inv.ID).Updates(map[string]interface{}{
				"quantity":     inv.Quantity - line.Quantity,
				"last_updated": now,
			}).Error; terr != nil {
				return terr
			}

			price := decimal.NewFromFloat(med.Price)
			total = total.Add(price.Mul(decimal.NewFromInt(int64(line.Quantity))))
			items = append(items, PrescriptionItem{
				ID:             uuid.NewString(),
				PrescriptionId: pres.ID,
				MedicineId:     line.MedicineId,
				Quantity:       line.Quantity,
				PriceSnapshot:  price,
				LastUpdated:    now,
			})
		}

		pres.TotalAmount = total
		if total.GreaterThan(warnThreshold) {
			pres.IsWarned = 1
		}
		if terr := tx.Create(&pres).Error; terr != nil {
			return terr
		}
		if terr := tx.Create(&items).Error; terr != nil {
			return terr
		}

		if pres.IsWarned == 1 {
			alert := AlertMessage{
				ID:          uuid.NewString(),
				WarehouseId: warehouseId,
				AlertType:   AlertTypeRisk,
				Message:     fmt.Sprintf("prescription %s total %s exceeds review threshold", pres.PrescriptionNo, total.StringFixed(2)),
				CreateTime:  now,
				LastUpdated: now,
			}
			return tx.Create(&alert).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	notifyBusinessWrite()
	return &pres, nil
}

func GetPrescription(ctx context.Context, nodeId string, id string) (*Prescription, []*PrescriptionItem, error) {
	db := config.GetNode(nodeId)
	if db == nil {
		return nil, nil, errors.New("node not connected: " + nodeId)
	}

	var pres Prescription
	if err := db.WithContext(ctx).Where("id = ?", id).First(&pres).Error; err != nil {
		return nil, nil, err
	}
	var items []*PrescriptionItem
	if err := db.WithContext(ctx).Where("prescription_id = ?", id).Find(&items).Error; err != nil {
		return nil, nil, err
	}
	return &pres, items, nil
}
