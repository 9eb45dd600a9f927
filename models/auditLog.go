package models

import "time"

// AuditLog is node-local; stock movements are audited where they happen and
// never replicated.
type AuditLog struct {
	ID            int       `gorm:"primaryKey;autoIncrement" json:"id"`
	MedicineId    int       `gorm:"not null" json:"medicine_id"`
	WarehouseId   int       `gorm:"not null" json:"warehouse_id"`
	ChangeAmount  int       `gorm:"not null" json:"change_amount"`
	OperationType string    `gorm:"size:20" json:"operation_type"`
	OperatorId    int       `json:"operator_id"`
	CreateTime    time.Time `gorm:"column:create_time" json:"create_time"`
}

func (AuditLog) TableName() string { return "audit_logs" }
