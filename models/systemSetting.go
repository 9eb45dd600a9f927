package models

import (
	"context"
	"errors"

	"bitbucket.org/meditrust/medsync_backend/config"
	"gorm.io/gorm"
)

// SystemSetting is the single settings row (id = 1) on the central node.
// Boolean flags are stored as ints for cross-engine portability.
type SystemSetting struct {
	ID            int    `gorm:"primaryKey;autoIncrement:false" json:"id"`
	RealTimeSync  int    `gorm:"column:real_time_sync;default:1" json:"real_time_sync"`
	ScheduledSync int    `gorm:"column:scheduled_sync;default:1" json:"scheduled_sync"`
	SyncInterval  int    `gorm:"column:sync_interval;default:90" json:"sync_interval"`
	SMTPServer    string `gorm:"column:smtp_server;size:100" json:"smtp_server"`
	SMTPPort      int    `gorm:"column:smtp_port;default:465" json:"smtp_port"`
	SenderEmail   string `gorm:"column:sender_email;size:100" json:"sender_email"`
	SMTPPassword  string `gorm:"column:smtp_password;size:100" json:"-"`
	AdminEmail    string `gorm:"column:admin_email;size:100" json:"admin_email"`
	FrontendURL   string `gorm:"column:frontend_url;size:200" json:"frontend_url"`
}

func (SystemSetting) TableName() string { return "system_settings" }

func GetSystemSetting(ctx context.Context) (*SystemSetting, error) {
	db := config.GetCentralDB()
	if db == nil {
		return nil, errors.New("central node not connected")
	}
	var setting SystemSetting
	err := db.WithContext(ctx).Where("id = ?", 1).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &SystemSetting{ID: 1, RealTimeSync: 1, ScheduledSync: 1, SyncInterval: 90, SMTPPort: 465}, nil
	}
	if err != nil {
		return nil, err
	}
	return &setting, nil
}

func UpsertSystemSetting(ctx context.Context, setting *SystemSetting) error {
	db := config.GetCentralDB()
	if db == nil {
		return errors.New("central node not connected")
	}
	setting.ID = 1
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing SystemSetting
		err := tx.Where("id = ?", 1).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(setting).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&SystemSetting{}).Where("id = ?", 1).Updates(map[string]interface{}{
			"real_time_sync": setting.RealTimeSync,
			"scheduled_sync": setting.ScheduledSync,
			"sync_interval":  setting.SyncInterval,
			"smtp_server":    setting.SMTPServer,
			"smtp_port":      setting.SMTPPort,
			"sender_email":   setting.SenderEmail,
			"smtp_password":  setting.SMTPPassword,
			"admin_email":    setting.AdminEmail,
			"frontend_url":   setting.FrontendURL,
		}).Error
	})
}
