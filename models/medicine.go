package models

import (
	"context"
	"errors"

	"bitbucket.org/meditrust/medsync_backend/config"
)

// Medicine is the reference catalog. It is seeded on every node rather than
// replicated; the pg node's numbering is offset from the canonical one, which
// is what the identifier translator corrects for.
type Medicine struct {
	ID          int     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name        string  `gorm:"size:100;not null" json:"name" binding:"required"`
	Category    string  `gorm:"size:50" json:"category"`
	Price       float64 `gorm:"not null" json:"price"`
	DangerLevel string  `gorm:"size:20" json:"danger_level"`
}

func (Medicine) TableName() string { return "medicines" }

func GetMedicine(ctx context.Context, nodeId string, id int) (*Medicine, error) {
	db := config.GetNode(nodeId)
	if db == nil {
		return nil, errors.New("node not connected: " + nodeId)
	}
	var m Medicine
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func GetMedicines(ctx context.Context, nodeId string, name *string) ([]*Medicine, error) {
	db := config.GetNode(nodeId)
	if db == nil {
		return nil, errors.New("node not connected: " + nodeId)
	}
	dbCtx := db.WithContext(ctx)
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	var results []*Medicine
	if err := dbCtx.Order("id").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
