package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/meditrust/medsync_backend/config"
	"bitbucket.org/meditrust/medsync_backend/utils"
	"gorm.io/gorm"
)

// Inventory is a replicated entity. WarehouseId is the partition key.
// MedicineId is node-local numbering; it is canonicalized by the identifier
// translator whenever a row crosses node boundaries.
type Inventory struct {
	ID          int       `gorm:"primaryKey;autoIncrement:false" json:"id"`
	MedicineId  int       `gorm:"not null;index" json:"medicine_id"`
	WarehouseId int       `gorm:"not null;index" json:"warehouse_id"`
	Quantity    int       `gorm:"default:0" json:"quantity"`
	LastUpdated time.Time `gorm:"column:last_updated;index" json:"last_updated"`
}

func (Inventory) TableName() string { return "inventory" }

var ErrInsufficientStock = errors.New("insufficient stock")

// AdjustStock applies a quantity delta at the owning node (inbound receiving
// uses a positive delta, allocation a negative one). The row's last_updated
// moves forward so the reconciliation engine picks the change up; an audit
// row records the movement locally.
func AdjustStock(ctx context.Context, nodeId string, warehouseId int, medicineId int, delta int, operationType string) (*Inventory, error) {
	db := config.GetNode(nodeId)
	if db == nil {
		return nil, errors.New("node not connected: " + nodeId)
	}

	var inv Inventory
	now := utils.TruncateToSecond(time.Now())

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("warehouse_id = ? AND medicine_id = ?", warehouseId, medicineId).First(&inv).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if delta < 0 {
				return ErrInsufficientStock
			}
			id, terr := nextIntID(tx, "inventory")
			if terr != nil {
				return terr
			}
			inv = Inventory{
				ID:          id,
				MedicineId:  medicineId,
				WarehouseId: warehouseId,
				Quantity:    delta,
				LastUpdated: now,
			}
			if terr := tx.Create(&inv).Error; terr != nil {
				return terr
			}
		case err != nil:
			return err
		default:
			if inv.Quantity+delta < 0 {
				return ErrInsufficientStock
			}
			inv.Quantity += delta
			inv.LastUpdated = now
			if terr := tx.Model(&Inventory{}).Where("id = ?", inv.ID).Updates(map[string]interface{}{
				"quantity":     inv.Quantity,
				"last_updated": inv.LastUpdated,
			}).Error; terr != nil {
				return terr
			}
		}

		operatorId, _ := utils.GetUserIdFromContext(ctx)
		return tx.Create(&AuditLog{
			MedicineId:    medicineId,
			WarehouseId:   warehouseId,
			ChangeAmount:  delta,
			OperationType: operationType,
			OperatorId:    operatorId,
			CreateTime:    now,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	notifyBusinessWrite()
	return &inv, nil
}

// GetWarehouseStock returns the stock rows belonging to one warehouse.
func GetWarehouseStock(ctx context.Context, nodeId string, warehouseId int) ([]*Inventory, error) {
	db := config.GetNode(nodeId)
	if db == nil {
		return nil, errors.New("node not connected: " + nodeId)
	}
	var results []*Inventory
	if err := db.WithContext(ctx).
		Where("warehouse_id = ?", warehouseId).
		Order("medicine_id").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
