package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/joho/godotenv"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// Node identifiers. Fixed for the process lifetime: one relational store per
// branch, with the SQL Server node doubling as the central ledger.
const (
	NodeMySQL     = "mysql"
	NodePostgres  = "pg"
	NodeSQLServer = "mssql"
)

// CentralNode holds the conflict ledger, sync statistics and system settings.
const CentralNode = NodeSQLServer

// AllNodes is the fixed scan order of the reconciliation engine.
var AllNodes = []string{NodeMySQL, NodePostgres, NodeSQLServer}

var (
	nodeMu sync.RWMutex
	nodes  = map[string]*gorm.DB{}
)

func init() {
	// Load env from .env
	godotenv.Load()
	// Do NOT block startup in init() waiting for DBs; main() connects after
	// the HTTP server is listening.
}

// GetNode returns the live connection for a node, or nil when the node is not
// registered (not yet connected, or unknown id).
func GetNode(nodeId string) *gorm.DB {
	nodeMu.RLock()
	defer nodeMu.RUnlock()
	return nodes[nodeId]
}

// GetCentralDB returns the connection of the central node.
func GetCentralDB() *gorm.DB {
	return GetNode(CentralNode)
}

// RegisterNode installs a connection under a node id. Used by the connect
// path and by tests that stand up in-memory sqlite nodes.
func RegisterNode(nodeId string, db *gorm.DB) {
	nodeMu.Lock()
	defer nodeMu.Unlock()
	nodes[nodeId] = db
}

// NodesReady reports whether every node in AllNodes has a registered
// connection. The HTTP readiness gate uses this.
func NodesReady() bool {
	nodeMu.RLock()
	defer nodeMu.RUnlock()
	for _, id := range AllNodes {
		if nodes[id] == nil {
			return false
		}
	}
	return true
}

// ConnectNodesWithRetry connects every node and registers it. Call from
// main() AFTER the HTTP server is listening. Each node retries with
// exponential backoff independently; one slow node does not delay another
// from a connection standpoint, but this call returns only when all three
// are up.
//
// Env, per node (the node id is upper-cased into the variable name):
//   - NODE_MYSQL_DSN, NODE_PG_DSN, NODE_MSSQL_DSN
//   - NODE_<ID>_DRIVER overrides the engine (mysql|postgres|sqlserver|sqlite);
//     defaults follow the node's native engine. The sqlite override exists for
//     local development against file-backed nodes.
func ConnectNodesWithRetry() error {
	for _, nodeId := range AllNodes {
		if err := connectNode(nodeId); err != nil {
			return err
		}
	}
	return nil
}

func connectNode(nodeId string) error {
	envKey := "NODE_" + strings.ToUpper(nodeId) + "_DSN"
	dsn := os.Getenv(envKey)
	if dsn == "" {
		return fmt.Errorf("missing %s", envKey)
	}

	driver := strings.ToLower(strings.TrimSpace(os.Getenv("NODE_" + strings.ToUpper(nodeId) + "_DRIVER")))
	if driver == "" {
		driver = defaultDriver(nodeId)
	}

	var attempt int
	connect := func() error {
		attempt++
		db, err := gorm.Open(openDialector(driver, dsn), initConfig())
		if err != nil {
			log.Printf("failed to connect node %s (attempt=%d): %v", nodeId, attempt, err)
			return err
		}

		// Tune database/sql pool.
		// Env overrides (optional):
		// - DB_MAX_OPEN_CONNS (default 25)
		// - DB_MAX_IDLE_CONNS (default 10)
		// - DB_CONN_MAX_LIFETIME_SECONDS (default 300)
		if sqlDB, derr := db.DB(); derr == nil && sqlDB != nil {
			sqlDB.SetMaxOpenConns(intFromEnv("DB_MAX_OPEN_CONNS", 25))
			sqlDB.SetMaxIdleConns(intFromEnv("DB_MAX_IDLE_CONNS", 10))
			sqlDB.SetConnMaxLifetime(time.Duration(intFromEnv("DB_CONN_MAX_LIFETIME_SECONDS", 300)) * time.Second)
		}

		if pluginErr := db.Use(otelgorm.NewPlugin()); pluginErr != nil {
			log.Printf("node %s connected but failed to install otelgorm plugin: %v", nodeId, pluginErr)
		}

		RegisterNode(nodeId, db)
		log.Printf("connected node %s (attempt=%d)", nodeId, attempt)
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = time.Duration(intFromEnv("DB_CONNECT_MAX_ELAPSED_SECONDS", 300)) * time.Second
	return backoff.Retry(connect, bo)
}

func defaultDriver(nodeId string) string {
	switch nodeId {
	case NodeMySQL:
		return "mysql"
	case NodePostgres:
		return "postgres"
	case NodeSQLServer:
		return "sqlserver"
	}
	return "mysql"
}

func openDialector(driver string, dsn string) gorm.Dialector {
	switch driver {
	case "postgres":
		return postgres.Open(dsn)
	case "sqlserver":
		return sqlserver.Open(dsn)
	case "sqlite":
		return sqlite.Open(dsn)
	default:
		return mysql.Open(dsn)
	}
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// InitConfig Initialize Config
func initConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         initLog(),
		NamingStrategy: initNamingStrategy(),
	}
}

// InitLog Connection Log Configuration
func initLog() logger.Interface {
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			Colorful:      false,
			LogLevel:      logger.Error,
			SlowThreshold: time.Second,
		},
	)
	return newLogger
}

// InitNamingStrategy Init NamingStrategy
func initNamingStrategy() *schema.NamingStrategy {
	return &schema.NamingStrategy{
		SingularTable: false,
		TablePrefix:   "",
	}
}
