package models

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"bitbucket.org/meditrust/medsync_backend/config"
	"bitbucket.org/meditrust/medsync_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq atomic.Int64

func setupBranchNode(t *testing.T) string {
	t.Helper()
	nodeId := config.NodeMySQL
	dsn := fmt.Sprintf("file:models_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := MigrateNodeTables(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	config.RegisterNode(nodeId, db)
	return nodeId
}

func seedMedicineWithStock(t *testing.T, nodeId string, med Medicine, qty int) {
	t.Helper()
	db := config.GetNode(nodeId)
	if err := db.Create(&med).Error; err != nil {
		t.Fatalf("seed medicine: %v", err)
	}
	inv := Inventory{
		ID: med.ID, MedicineId: med.ID, WarehouseId: 1, Quantity: qty,
		LastUpdated: utils.TruncateToSecond(time.Now()),
	}
	if err := db.Create(&inv).Error; err != nil {
		t.Fatalf("seed stock: %v", err)
	}
}

func doctorContext() context.Context {
	ctx := utils.SetUserIdInContext(context.Background(), 7)
	ctx = utils.SetRoleInContext(ctx, RoleDoctor)
	return utils.SetBranchIdInContext(ctx, 1)
}

func TestCreatePrescriptionDeductsStockAndTotals(t *testing.T) {
	nodeId := setupBranchNode(t)
	seedMedicineWithStock(t, nodeId, Medicine{ID: 1, Name: "Amoxicillin", Price: 12.50}, 50)
	seedMedicineWithStock(t, nodeId, Medicine{ID: 2, Name: "Ibuprofen", Price: 4.80}, 50)

	pres, err := CreatePrescription(doctorContext(), nodeId, 1, &NewPrescription{
		PatientName: "Chan Mya",
		Items: []NewPrescriptionItem{
			{MedicineId: 1, Quantity: 2},
			{MedicineId: 2, Quantity: 5},
		},
	})
	if err != nil {
		t.Fatalf("create prescription: %v", err)
	}

	want := decimal.RequireFromString("49.00")
	if !pres.TotalAmount.Equal(want) {
		t.Fatalf("total = %s, want %s", pres.TotalAmount, want)
	}
	if pres.IsWarned != 0 {
		t.Fatalf("cheap prescription must not be warned: %+v", pres)
	}
	if pres.DoctorId != 7 {
		t.Fatalf("doctor id = %d, want 7", pres.DoctorId)
	}

	_, items, err := GetPrescription(doctorContext(), nodeId, pres.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("want 2 items, got %d", len(items))
	}

	stock, err := GetWarehouseStock(context.Background(), nodeId, 1)
	if err != nil {
		t.Fatalf("stock: %v", err)
	}
	for _, inv := range stock {
		wantQty := 48
		if inv.MedicineId == 2 {
			wantQty = 45
		}
		if inv.Quantity != wantQty {
			t.Fatalf("medicine %d stock = %d, want %d", inv.MedicineId, inv.Quantity, wantQty)
		}
	}
}

func TestCreatePrescriptionInsufficientStock(t *testing.T) {
	nodeId := setupBranchNode(t)
	seedMedicineWithStock(t, nodeId, Medicine{ID: 1, Name: "Amoxicillin", Price: 12.50}, 1)

	_, err := CreatePrescription(doctorContext(), nodeId, 1, &NewPrescription{
		PatientName: "Chan Mya",
		Items:       []NewPrescriptionItem{{MedicineId: 1, Quantity: 5}},
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("want ErrInsufficientStock, got %v", err)
	}

	// The rejected write must leave no partial rows behind.
	var count int64
	config.GetNode(nodeId).Model(&Prescription{}).Count(&count)
	if count != 0 {
		t.Fatalf("rolled-back prescription leaked %d rows", count)
	}
	stock, _ := GetWarehouseStock(context.Background(), nodeId, 1)
	if len(stock) != 1 || stock[0].Quantity != 1 {
		t.Fatalf("stock must be untouched, got %+v", stock)
	}
}

func TestExpensivePrescriptionRaisesRiskAlert(t *testing.T) {
	nodeId := setupBranchNode(t)
	seedMedicineWithStock(t, nodeId, Medicine{ID: 1, Name: "Fentanyl Patch", Price: 132.00}, 50)

	pres, err := CreatePrescription(doctorContext(), nodeId, 1, &NewPrescription{
		PatientName: "Chan Mya",
		Items:       []NewPrescriptionItem{{MedicineId: 1, Quantity: 20}},
	})
	if err != nil {
		t.Fatalf("create prescription: %v", err)
	}
	if pres.IsWarned != 1 {
		t.Fatalf("2640.00 total must be warned: %+v", pres)
	}

	alerts, err := GetRiskAlerts(doctorContext(), nodeId)
	if err != nil {
		t.Fatalf("alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("want 1 risk alert, got %d", len(alerts))
	}
	if alerts[0].WarehouseId != 1 || alerts[0].AlertType != AlertTypeRisk {
		t.Fatalf("unexpected alert: %+v", alerts[0])
	}
}

func TestAdjustStockCreatesRowAndAudits(t *testing.T) {
	nodeId := setupBranchNode(t)
	if err := config.GetNode(nodeId).Create(&Medicine{ID: 1, Name: "Amoxicillin", Price: 12.50}).Error; err != nil {
		t.Fatalf("seed medicine: %v", err)
	}

	ctx := utils.SetUserIdInContext(context.Background(), 3)
	inv, err := AdjustStock(ctx, nodeId, 1, 1, 30, "RECEIVE")
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if inv.Quantity != 30 {
		t.Fatalf("quantity = %d, want 30", inv.Quantity)
	}

	inv, err = AdjustStock(ctx, nodeId, 1, 1, -10, "DISPENSE")
	if err != nil {
		t.Fatalf("adjust down: %v", err)
	}
	if inv.Quantity != 20 {
		t.Fatalf("quantity = %d, want 20", inv.Quantity)
	}

	if _, err := AdjustStock(ctx, nodeId, 1, 1, -100, "DISPENSE"); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("over-dispense must fail, got %v", err)
	}

	var audits []AuditLog
	if err := config.GetNode(nodeId).Find(&audits).Error; err != nil {
		t.Fatalf("audits: %v", err)
	}
	if len(audits) != 2 {
		t.Fatalf("want 2 audit rows, got %d", len(audits))
	}
	if audits[0].OperatorId != 3 {
		t.Fatalf("audit must record the operator, got %+v", audits[0])
	}
}

func TestCreateUserMintsSequentialIds(t *testing.T) {
	nodeId := setupBranchNode(t)
	ctx := context.Background()

	u1, err := CreateUser(ctx, nodeId, &NewUser{Username: "a", Password: "123", Role: RoleNurse, BranchId: 1})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	u2, err := CreateUser(ctx, nodeId, &NewUser{Username: "b", Password: "123", Role: RoleDoctor, BranchId: 1})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u1.ID != 1 || u2.ID != 2 {
		t.Fatalf("minted ids %d, %d; want 1, 2", u1.ID, u2.ID)
	}
	if u2.Password == "123" {
		t.Fatal("password must be stored hashed")
	}
	if err := utils.ComparePassword(u2.Password, "123"); err != nil {
		t.Fatalf("stored hash must verify: %v", err)
	}
}
