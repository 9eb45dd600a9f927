package config

import (
	"context"
	"sync"
)

// SystemConfigValues is the plain value set of the central system_settings
// row. Handlers and the scheduler work on copies of it.
type SystemConfigValues struct {
	RealTimeSync  bool
	ScheduledSync bool
	SyncInterval  int // seconds

	SMTPServer   string
	SMTPPort     int
	SenderEmail  string
	SMTPPassword string
	AdminEmail   string
	FrontendURL  string
}

// SystemConfig is the live copy of the central system_settings row. The
// reconciliation scheduler re-reads it at the start of every cycle, so
// operator changes take effect without a restart.
type SystemConfig struct {
	mu sync.RWMutex
	v  SystemConfigValues
}

// systemSettingRow mirrors models.SystemSetting. The config package cannot
// import models (models imports config), so it reads the table through its
// own row type.
type systemSettingRow struct {
	ID            int    `gorm:"primary_key"`
	RealTimeSync  int    `gorm:"column:real_time_sync"`
	ScheduledSync int    `gorm:"column:scheduled_sync"`
	SyncInterval  int    `gorm:"column:sync_interval"`
	SMTPServer    string `gorm:"column:smtp_server"`
	SMTPPort      int    `gorm:"column:smtp_port"`
	SenderEmail   string `gorm:"column:sender_email"`
	SMTPPassword  string `gorm:"column:smtp_password"`
	AdminEmail    string `gorm:"column:admin_email"`
	FrontendURL   string `gorm:"column:frontend_url"`
}

func (systemSettingRow) TableName() string { return "system_settings" }

// DefaultSyncIntervalSeconds is the scheduler cadence used until the central
// settings row says otherwise.
const DefaultSyncIntervalSeconds = 90

var settings = &SystemConfig{
	v: SystemConfigValues{
		RealTimeSync:  true,
		ScheduledSync: true,
		SyncInterval:  90,
		SMTPServer:    "smtp.qq.com",
		SMTPPort:      465,
		FrontendURL:   "http://127.0.0.1:5173",
	},
}

func Settings() *SystemConfig {
	return settings
}

// Refresh loads the latest settings from the central node. Returns true when
// any value changed. A missing row or an unreachable central node leaves the
// current values untouched; the previous cycle's settings stay in force.
func (c *SystemConfig) Refresh(ctx context.Context) bool {
	db := GetCentralDB()
	if db == nil {
		return false
	}

	var row systemSettingRow
	if err := db.WithContext(ctx).Where("id = ?", 1).First(&row).Error; err != nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	changed := c.v.RealTimeSync != (row.RealTimeSync != 0) ||
		c.v.ScheduledSync != (row.ScheduledSync != 0) ||
		(row.SyncInterval > 0 && c.v.SyncInterval != row.SyncInterval) ||
		(row.SMTPServer != "" && c.v.SMTPServer != row.SMTPServer) ||
		(row.SMTPPort > 0 && c.v.SMTPPort != row.SMTPPort) ||
		c.v.SenderEmail != row.SenderEmail ||
		c.v.SMTPPassword != row.SMTPPassword ||
		c.v.AdminEmail != row.AdminEmail ||
		c.v.FrontendURL != row.FrontendURL

	if changed {
		c.v.RealTimeSync = row.RealTimeSync != 0
		c.v.ScheduledSync = row.ScheduledSync != 0
		if row.SyncInterval > 0 {
			c.v.SyncInterval = row.SyncInterval
		}
		if row.SMTPServer != "" {
			c.v.SMTPServer = row.SMTPServer
		}
		if row.SMTPPort > 0 {
			c.v.SMTPPort = row.SMTPPort
		}
		c.v.SenderEmail = row.SenderEmail
		c.v.SMTPPassword = row.SMTPPassword
		c.v.AdminEmail = row.AdminEmail
		c.v.FrontendURL = row.FrontendURL
	}
	return changed
}

func (c *SystemConfig) Snapshot() SystemConfigValues {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v
}

// Override replaces the in-memory values. The settings handler uses it right
// after persisting the row so the scheduler sees the change without waiting
// for the next Refresh.
func (c *SystemConfig) Override(v SystemConfigValues) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v.SyncInterval <= 0 {
		v.SyncInterval = c.v.SyncInterval
	}
	if v.SMTPServer == "" {
		v.SMTPServer = c.v.SMTPServer
	}
	if v.SMTPPort <= 0 {
		v.SMTPPort = c.v.SMTPPort
	}
	c.v = v
}
