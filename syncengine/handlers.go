package syncengine

import (
	"errors"
	"net/http"
	"strconv"

	"bitbucket.org/meditrust/medsync_backend/config"
	"bitbucket.org/meditrust/medsync_backend/models"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// PendingConflictsHandler lists unresolved conflicts, newest first.
func PendingConflictsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		conflicts, err := models.GetPendingConflicts(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"conflicts": conflicts})
	}
}

// ConflictHistoryHandler lists resolved conflicts, most recent first.
func ConflictHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 100
		if raw := c.Query("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}
		conflicts, err := models.GetResolvedConflicts(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"conflicts": conflicts})
	}
}

type resolveConflictRequest struct {
	ConflictId int    `json:"conflict_id" validate:"required,gt=0"`
	NodeId     string `json:"node_id" validate:"required,oneof=mysql pg mssql"`
}

// ResolveConflictHandler applies an operator decision. Repeat resolutions of
// the same conflict come back as a distinct message, not an error.
func ResolveConflictHandler(arbitrator *Arbitrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req resolveConflictRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := validate.Struct(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		err := arbitrator.Resolve(c.Request.Context(), req.ConflictId, req.NodeId)
		if errors.Is(err, ErrConflictAlreadyResolved) {
			c.JSON(http.StatusOK, gin.H{"message": "conflict was already resolved"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "conflict resolved", "chosen_node": req.NodeId})
	}
}

// SyncReportHandler returns the recent daily synchronization counters.
func SyncReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		days := 7
		if raw := c.Query("days"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 90 {
				days = n
			}
		}
		stats, err := models.GetRecentSyncStats(c.Request.Context(), days)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"stats": stats})
	}
}

// TriggerSyncHandler queues an immediate scan cycle and returns without
// waiting for it.
func TriggerSyncHandler(scheduler *Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		scheduler.TriggerNow()
		c.JSON(http.StatusAccepted, gin.H{"message": "sync cycle triggered"})
	}
}

// GetSettingsHandler returns the central settings row.
func GetSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		setting, err := models.GetSystemSetting(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, setting)
	}
}

type updateSettingsRequest struct {
	RealTimeSync  *bool  `json:"real_time_sync" validate:"required"`
	ScheduledSync *bool  `json:"scheduled_sync" validate:"required"`
	SyncInterval  int    `json:"sync_interval" validate:"required,gte=5,lte=86400"`
	SMTPServer    string `json:"smtp_server" validate:"omitempty,hostname"`
	SMTPPort      int    `json:"smtp_port" validate:"omitempty,gt=0,lte=65535"`
	SenderEmail   string `json:"sender_email" validate:"omitempty,email"`
	SMTPPassword  string `json:"smtp_password"`
	AdminEmail    string `json:"admin_email" validate:"omitempty,email"`
	FrontendURL   string `json:"frontend_url" validate:"omitempty,url"`
}

// UpdateSettingsHandler persists the settings row, swaps the in-memory copy
// and pokes the scheduler so an interval change applies immediately.
func UpdateSettingsHandler(settings *config.SystemConfig, scheduler *Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateSettingsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := validate.Struct(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		boolToInt := func(b *bool) int {
			if b != nil && *b {
				return 1
			}
			return 0
		}
		row := &models.SystemSetting{
			RealTimeSync:  boolToInt(req.RealTimeSync),
			ScheduledSync: boolToInt(req.ScheduledSync),
			SyncInterval:  req.SyncInterval,
			SMTPServer:    req.SMTPServer,
			SMTPPort:      req.SMTPPort,
			SenderEmail:   req.SenderEmail,
			SMTPPassword:  req.SMTPPassword,
			AdminEmail:    req.AdminEmail,
			FrontendURL:   req.FrontendURL,
		}
		if err := models.UpsertSystemSetting(c.Request.Context(), row); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		settings.Override(config.SystemConfigValues{
			RealTimeSync:  row.RealTimeSync != 0,
			ScheduledSync: row.ScheduledSync != 0,
			SyncInterval:  row.SyncInterval,
			SMTPServer:    row.SMTPServer,
			SMTPPort:      row.SMTPPort,
			SenderEmail:   row.SenderEmail,
			SMTPPassword:  row.SMTPPassword,
			AdminEmail:    row.AdminEmail,
			FrontendURL:   row.FrontendURL,
		})
		if scheduler != nil {
			scheduler.Reschedule()
		}
		c.JSON(http.StatusOK, gin.H{"message": "settings updated"})
	}
}
