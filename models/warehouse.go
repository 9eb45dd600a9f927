package models

import (
	"context"
	"errors"

	"bitbucket.org/meditrust/medsync_backend/config"
)

type Warehouse struct {
	ID       int    `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name     string `gorm:"size:100;not null" json:"name" binding:"required"`
	Location string `gorm:"size:200" json:"location"`
}

func (Warehouse) TableName() string { return "warehouses" }

func GetWarehouses(ctx context.Context, nodeId string) ([]*Warehouse, error) {
	db := config.GetNode(nodeId)
	if db == nil {
		return nil, errors.New("node not connected: " + nodeId)
	}
	var results []*Warehouse
	if err := db.WithContext(ctx).Order("id").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
