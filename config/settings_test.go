package config

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var settingsDBSeq atomic.Int64

// setupCentralSettings registers an in-memory sqlite database as the central
// node, seeded with the given settings row when one is provided.
func setupCentralSettings(t *testing.T, row *systemSettingRow) {
	t.Helper()
	dsn := fmt.Sprintf("file:settings_%d?mode=memory&cache=shared", settingsDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&systemSettingRow{}); err != nil {
		t.Fatalf("migrate settings table: %v", err)
	}
	if row != nil {
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("seed settings row: %v", err)
		}
	}
	RegisterNode(CentralNode, db)
}

func TestRefreshAppliesSMTPOnlyChange(t *testing.T) {
	setupCentralSettings(t, &systemSettingRow{
		ID: 1, RealTimeSync: 1, ScheduledSync: 1, SyncInterval: 90,
		SMTPServer: "smtp.example.org", SMTPPort: 587,
	})
	c := &SystemConfig{v: SystemConfigValues{
		RealTimeSync: true, ScheduledSync: true, SyncInterval: 90,
		SMTPServer: "smtp.qq.com", SMTPPort: 465,
	}}

	if !c.Refresh(context.Background()) {
		t.Fatal("an smtp-only change must be reported")
	}
	v := c.Snapshot()
	if v.SMTPServer != "smtp.example.org" || v.SMTPPort != 587 {
		t.Fatalf("smtp values not applied: %+v", v)
	}
	if v.SyncInterval != 90 || !v.RealTimeSync || !v.ScheduledSync {
		t.Fatalf("unrelated values must survive the refresh: %+v", v)
	}

	if c.Refresh(context.Background()) {
		t.Fatal("an unchanged row must report no change")
	}
}

func TestRefreshKeepsValuesWhenRowMissing(t *testing.T) {
	setupCentralSettings(t, nil)
	c := &SystemConfig{v: SystemConfigValues{
		SyncInterval: 90, SMTPServer: "smtp.qq.com", SMTPPort: 465,
	}}

	if c.Refresh(context.Background()) {
		t.Fatal("a missing row must report no change")
	}
	if got := c.Snapshot(); got.SyncInterval != 90 || got.SMTPServer != "smtp.qq.com" {
		t.Fatalf("values must stay untouched: %+v", got)
	}
}
