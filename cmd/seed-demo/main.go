// seed-demo provisions the three-node demo dataset: the medicine catalog on
// every node (the pg node with its offset numbering), the warehouses, one
// user per role per branch (password: 123) and a baseline stock row for every
// medicine in every warehouse, all stamped with one shared timestamp so the
// first reconciliation cycle finds nothing to do.
//
// Usage:
//
//	NODE_MYSQL_DSN=... NODE_PG_DSN=... NODE_MSSQL_DSN=... go run ./cmd/seed-demo
package main

import (
	"fmt"
	"os"
	"time"

	"bitbucket.org/meditrust/medsync_backend/config"
	"bitbucket.org/meditrust/medsync_backend/models"
	"bitbucket.org/meditrust/medsync_backend/syncengine"
	"bitbucket.org/meditrust/medsync_backend/utils"
	"gorm.io/gorm"
)

const seedPassword = "123"

var catalog = []models.Medicine{
	{ID: 1, Name: "Amoxicillin 500mg", Category: "antibiotic", Price: 12.50, DangerLevel: "low"},
	{ID: 2, Name: "Ibuprofen 200mg", Category: "analgesic", Price: 4.80, DangerLevel: "low"},
	{ID: 3, Name: "Morphine 10mg", Category: "opioid", Price: 86.00, DangerLevel: "high"},
	{ID: 4, Name: "Insulin Glargine", Category: "hormone", Price: 54.30, DangerLevel: "medium"},
	{ID: 5, Name: "Warfarin 5mg", Category: "anticoagulant", Price: 9.90, DangerLevel: "high"},
	{ID: 6, Name: "Omeprazole 20mg", Category: "gastric", Price: 6.40, DangerLevel: "low"},
	{ID: 7, Name: "Fentanyl Patch 25mcg", Category: "opioid", Price: 132.00, DangerLevel: "high"},
	{ID: 8, Name: "Metformin 850mg", Category: "antidiabetic", Price: 5.20, DangerLevel: "low"},
}

var warehouses = []models.Warehouse{
	{ID: 1, Name: "Central Hospital Pharmacy", Location: "Building A"},
	{ID: 2, Name: "East Branch Pharmacy", Location: "Riverside"},
	{ID: 3, Name: "West Branch Pharmacy", Location: "Hillside"},
}

var roles = []string{
	models.RoleNurse,
	models.RoleDoctor,
	models.RoleEmergency,
	models.RoleBranchAdmin,
}

func main() {
	if err := config.ConnectNodesWithRetry(); err != nil {
		fmt.Fprintf(os.Stderr, "connect nodes: %v\n", err)
		os.Exit(1)
	}
	if err := models.MigrateAll(); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}

	now := utils.TruncateToSecond(time.Now())

	hash, err := utils.HashPassword(seedPassword)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash password: %v\n", err)
		os.Exit(1)
	}

	users := buildUsers(string(hash), now)

	for _, nodeId := range config.AllNodes {
		db := config.GetNode(nodeId)
		if err := seedNode(db, nodeId, users, now); err != nil {
			fmt.Fprintf(os.Stderr, "seed node %s: %v\n", nodeId, err)
			os.Exit(1)
		}
		fmt.Printf("seeded node %s\n", nodeId)
	}

	central := config.GetCentralDB()
	if err := central.Create(&models.SystemSetting{
		ID:            1,
		RealTimeSync:  1,
		ScheduledSync: 1,
		SyncInterval:  config.DefaultSyncIntervalSeconds,
		SMTPPort:      465,
	}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "seed system settings: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("demo dataset ready; every account logs in with password 123")
}

// buildUsers lays out one user of each role per branch, plus one super admin
// at the central branch. Ids are minted here because the rows are inserted
// identically on all three nodes.
func buildUsers(passwordHash string, now time.Time) []models.User {
	users := []models.User{{
		ID:          1,
		Username:    "superadmin",
		Password:    passwordHash,
		Role:        models.RoleSuperAdmin,
		BranchId:    3,
		LastUpdated: now,
	}}
	id := 2
	for _, w := range warehouses {
		for _, role := range roles {
			users = append(users, models.User{
				ID:          id,
				Username:    fmt.Sprintf("%s%d", role, w.ID),
				Password:    passwordHash,
				Role:        role,
				BranchId:    w.ID,
				LastUpdated: now,
			})
			id++
		}
	}
	return users
}

func seedNode(db *gorm.DB, nodeId string, users []models.User, now time.Time) error {
	meds := make([]models.Medicine, len(catalog))
	copy(meds, catalog)
	for i := range meds {
		meds[i].ID = syncengine.FromCanonicalMedicineID(nodeId, meds[i].ID)
	}

	stock := make([]models.Inventory, 0, len(meds)*len(warehouses))
	invId := 1
	for _, w := range warehouses {
		for _, m := range meds {
			stock = append(stock, models.Inventory{
				ID:          invId,
				MedicineId:  m.ID,
				WarehouseId: w.ID,
				Quantity:    100,
				LastUpdated: now,
			})
			invId++
		}
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&meds).Error; err != nil {
			return err
		}
		if err := tx.Create(&warehouses).Error; err != nil {
			return err
		}
		if err := tx.Create(&users).Error; err != nil {
			return err
		}
		return tx.Create(&stock).Error
	})
}
