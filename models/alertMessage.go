package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/meditrust/medsync_backend/config"
	"bitbucket.org/meditrust/medsync_backend/utils"
)

const (
	AlertTypeStock = "STOCK"
	AlertTypeRisk  = "RISK"
)

// AlertMessage is a replicated entity. MedicineId is optional (risk alerts
// about a warehouse as a whole carry none) and, when present, uses node-local
// medicine numbering like the inventory rows.
type AlertMessage struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	WarehouseId int       `gorm:"not null;index" json:"warehouse_id"`
	AlertType   string    `gorm:"size:20;not null" json:"alert_type"`
	Message     string    `gorm:"size:500" json:"message"`
	MedicineId  *int      `json:"medicine_id"`
	CreateTime  time.Time `gorm:"column:create_time" json:"create_time"`
	LastUpdated time.Time `gorm:"column:last_updated;index" json:"last_updated"`
}

func (AlertMessage) TableName() string { return "alert_messages" }

// GetRiskAlerts lists RISK alerts scoped by role: super admins see every
// warehouse, everyone else only their own branch's.
func GetRiskAlerts(ctx context.Context, nodeId string) ([]*AlertMessage, error) {
	db := config.GetNode(nodeId)
	if db == nil {
		return nil, errors.New("node not connected: " + nodeId)
	}

	dbCtx := db.WithContext(ctx).Where("alert_type = ?", AlertTypeRisk)
	role, _ := utils.GetRoleFromContext(ctx)
	if role != RoleSuperAdmin {
		branchId, ok := utils.GetBranchIdFromContext(ctx)
		if !ok {
			return nil, errors.New("branch id is required")
		}
		dbCtx = dbCtx.Where("warehouse_id = ?", branchId)
	}

	var results []*AlertMessage
	if err := dbCtx.Order("create_time DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
