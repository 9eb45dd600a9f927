package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/meditrust/medsync_backend/config"
	"bitbucket.org/meditrust/medsync_backend/maintenance"
	"bitbucket.org/meditrust/medsync_backend/middlewares"
	"bitbucket.org/meditrust/medsync_backend/models"
	"bitbucket.org/meditrust/medsync_backend/syncengine"
	"bitbucket.org/meditrust/medsync_backend/utils"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	settings := config.Settings()
	notifier := syncengine.NewEmailNotifier(settings)
	ledger := syncengine.NewLedger(notifier)
	engine := syncengine.NewEngine(ledger, syncengine.DefaultSkewTolerance)
	scheduler := syncengine.NewScheduler(engine, settings, nil)
	arbitrator := syncengine.NewArbitrator(ledger)

	// Start the HTTP server first; until the three nodes are connected the
	// app endpoints answer 503.
	r := gin.New()
	r.Use(middlewares.CorrelationId())
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if !config.NodesReady() {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = utils.SplitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/auth/login", loginHandler())

	api := r.Group("/", middlewares.RequireAuth())
	{
		api.GET("/conflicts", syncengine.PendingConflictsHandler())
		api.GET("/conflicts/history", syncengine.ConflictHistoryHandler())
		api.POST("/conflicts/resolve",
			middlewares.RequireRole(models.RoleSuperAdmin),
			syncengine.ResolveConflictHandler(arbitrator))
		api.GET("/stats/sync-report", syncengine.SyncReportHandler())
		api.POST("/sync/trigger",
			middlewares.RequireRole(models.RoleSuperAdmin, models.RoleBranchAdmin),
			syncengine.TriggerSyncHandler(scheduler))
		api.GET("/settings", syncengine.GetSettingsHandler())
		api.PUT("/settings",
			middlewares.RequireRole(models.RoleSuperAdmin),
			syncengine.UpdateSettingsHandler(settings, scheduler))

		api.GET("/medicines", medicinesHandler())
		api.GET("/medicines/:id", getMedicineHandler())
		api.GET("/warehouses", warehousesHandler())
		api.GET("/inventory", warehouseStockHandler())
		api.POST("/inventory/adjust",
			middlewares.RequireRole(models.RoleSuperAdmin, models.RoleBranchAdmin, models.RoleEmergency),
			adjustStockHandler())
		api.POST("/prescriptions",
			middlewares.RequireRole(models.RoleDoctor, models.RoleNurse),
			createPrescriptionHandler())
		api.GET("/prescriptions/:id", getPrescriptionHandler())
		api.GET("/alerts", riskAlertsHandler())
		api.GET("/users", usersHandler())
		api.POST("/users",
			middlewares.RequireRole(models.RoleSuperAdmin, models.RoleBranchAdmin),
			createUserHandler())

		api.POST("/maintenance/migrate-node",
			middlewares.RequireRole(models.RoleSuperAdmin),
			migrateNodeHandler())
		api.GET("/maintenance/backup",
			middlewares.RequireRole(models.RoleSuperAdmin),
			backupHandler())
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect the three nodes after the port is open.
	if err := config.ConnectNodesWithRetry(); err != nil {
		logger.WithFields(logrus.Fields{"field": "database"}).Panic(err.Error())
	}

	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		if err := models.MigrateAll(); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Panic(err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	refreshCtx, cancelRefresh := context.WithTimeout(context.Background(), 10*time.Second)
	settings.Refresh(refreshCtx)
	cancelRefresh()

	// Business writes trigger an immediate scan while real-time sync is on.
	models.RegisterPostWriteSync(func() {
		if settings.Snapshot().RealTimeSync {
			scheduler.TriggerNow()
		}
	})

	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	defer cancelScheduler()
	go scheduler.Start(schedulerCtx)

	logger.WithFields(logrus.Fields{"port": port}).Info("medsync backend listening")
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	cancelScheduler()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	for _, nodeId := range config.AllNodes {
		if db := config.GetNode(nodeId); db != nil {
			if sqlDB, err := db.DB(); err == nil && sqlDB != nil {
				_ = sqlDB.Close()
			}
		}
	}
}

// customErrorLogger logs only requests that collected gin errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	NodeId   string `json:"node_id" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if config.GetNode(req.NodeId) == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown node"})
			return
		}

		user, err := models.GetUserByUsername(c.Request.Context(), req.NodeId, req.Username)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		if err := utils.ComparePassword(user.Password, req.Password); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}

		token, err := utils.JwtGenerate(user.ID, user.Role, user.BranchId, req.NodeId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"token": token,
			"user": gin.H{
				"id":        user.ID,
				"username":  user.Username,
				"role":      user.Role,
				"branch_id": user.BranchId,
			},
		})
	}
}

// callerNode reads the node id baked into the caller's token.
func callerNode(c *gin.Context) (string, bool) {
	nodeId, ok := utils.GetNodeIdFromContext(c.Request.Context())
	if !ok || config.GetNode(nodeId) == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown node"})
		return "", false
	}
	return nodeId, true
}

func medicinesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		nodeId, ok := callerNode(c)
		if !ok {
			return
		}
		var name *string
		if q := c.Query("name"); q != "" {
			name = &q
		}
		meds, err := models.GetMedicines(c.Request.Context(), nodeId, name)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"medicines": meds})
	}
}

func getMedicineHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		nodeId, ok := callerNode(c)
		if !ok {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid medicine id"})
			return
		}
		med, err := models.GetMedicine(c.Request.Context(), nodeId, id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "medicine not found"})
			return
		}
		c.JSON(http.StatusOK, med)
	}
}

func warehousesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		nodeId, ok := callerNode(c)
		if !ok {
			return
		}
		whs, err := models.GetWarehouses(c.Request.Context(), nodeId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"warehouses": whs})
	}
}

func warehouseStockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		nodeId, ok := callerNode(c)
		if !ok {
			return
		}
		branchId, ok := utils.GetBranchIdFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "branch id is required"})
			return
		}
		stock, err := models.GetWarehouseStock(c.Request.Context(), nodeId, branchId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"inventory": stock})
	}
}

type adjustStockRequest struct {
	MedicineId    int    `json:"medicine_id" binding:"required"`
	Delta         int    `json:"delta" binding:"required"`
	OperationType string `json:"operation_type" binding:"required"`
}

func adjustStockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		nodeId, ok := callerNode(c)
		if !ok {
			return
		}
		branchId, ok := utils.GetBranchIdFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "branch id is required"})
			return
		}

		var req adjustStockRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		inv, err := models.AdjustStock(c.Request.Context(), nodeId, branchId, req.MedicineId, req.Delta, req.OperationType)
		if errors.Is(err, models.ErrInsufficientStock) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, inv)
	}
}

func createPrescriptionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		nodeId, ok := callerNode(c)
		if !ok {
			return
		}
		branchId, ok := utils.GetBranchIdFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "branch id is required"})
			return
		}

		var req models.NewPrescription
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		pres, err := models.CreatePrescription(c.Request.Context(), nodeId, branchId, &req)
		if errors.Is(err, models.ErrInsufficientStock) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, pres)
	}
}

func getPrescriptionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		nodeId, ok := callerNode(c)
		if !ok {
			return
		}
		pres, items, err := models.GetPrescription(c.Request.Context(), nodeId, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "prescription not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"prescription": pres, "items": items})
	}
}

func riskAlertsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		nodeId, ok := callerNode(c)
		if !ok {
			return
		}
		alerts, err := models.GetRiskAlerts(c.Request.Context(), nodeId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"alerts": alerts})
	}
}

func usersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		nodeId, ok := callerNode(c)
		if !ok {
			return
		}
		users, err := models.GetUsers(c.Request.Context(), nodeId)
		if err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"users": users})
	}
}

func createUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		nodeId, ok := callerNode(c)
		if !ok {
			return
		}
		var req models.NewUser
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		user, err := models.CreateUser(c.Request.Context(), nodeId, &req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, user)
	}
}

type migrateNodeRequest struct {
	SourceNode string `json:"source_node" binding:"required"`
	TargetNode string `json:"target_node" binding:"required"`
}

func migrateNodeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req migrateNodeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		report, err := maintenance.MigrateNode(c.Request.Context(), req.SourceNode, req.TargetNode)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func backupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		nodeId := c.Query("node")
		if nodeId == "" {
			if n, ok := utils.GetNodeIdFromContext(c.Request.Context()); ok {
				nodeId = n
			}
		}
		if config.GetNode(nodeId) == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown node"})
			return
		}

		c.Header("Content-Type", "application/sql")
		c.Header("Content-Disposition", "attachment; filename=medsync_"+nodeId+"_backup.sql")
		if err := maintenance.BackupNode(c.Request.Context(), nodeId, c.Writer); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
}
