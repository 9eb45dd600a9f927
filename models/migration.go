package models

import (
	"errors"

	"bitbucket.org/meditrust/medsync_backend/config"
	"gorm.io/gorm"
)

// ReplicatedTables lists the business tables kept in sync across all nodes,
// in foreign-key order (parents before children). The maintenance migration
// and backup paths iterate this order; clearing uses the reverse.
var ReplicatedTables = []string{
	"medicines",
	"warehouses",
	"users",
	"inventory",
	"prescriptions",
	"prescription_items",
	"alert_messages",
}

// MigrateNodeTables creates the business schema on one node. Every node
// carries a full copy of the replicated tables plus its local audit trail.
func MigrateNodeTables(db *gorm.DB) error {
	return db.AutoMigrate(
		&Medicine{},
		&Warehouse{},
		&User{},
		&Inventory{},
		&Prescription{},
		&PrescriptionItem{},
		&AlertMessage{},
		&AuditLog{},
	)
}

// MigrateCentralTables creates the tables that exist only on the central
// node: the conflict ledger, daily statistics and the settings row.
func MigrateCentralTables(db *gorm.DB) error {
	return db.AutoMigrate(
		&SyncConflictLog{},
		&SyncStat{},
		&SystemSetting{},
	)
}

// MigrateAll runs the per-node schema on every registered node and the
// central-only schema on the central node.
func MigrateAll() error {
	for _, nodeId := range config.AllNodes {
		db := config.GetNode(nodeId)
		if db == nil {
			return errors.New("node not connected: " + nodeId)
		}
		if err := MigrateNodeTables(db); err != nil {
			return err
		}
	}
	central := config.GetCentralDB()
	if central == nil {
		return errors.New("central node not connected")
	}
	return MigrateCentralTables(central)
}
