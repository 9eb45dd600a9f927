package syncengine

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"bitbucket.org/meditrust/medsync_backend/config"
	"bitbucket.org/meditrust/medsync_backend/models"
	"bitbucket.org/meditrust/medsync_backend/utils"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq atomic.Int64

// setupNodes stands up the three-node topology on in-memory sqlite and
// registers the connections where the engine looks for them.
func setupNodes(t *testing.T) {
	t.Helper()
	seq := testDBSeq.Add(1)
	for _, nodeId := range config.AllNodes {
		dsn := fmt.Sprintf("file:sync_%d_%s?mode=memory&cache=shared", seq, nodeId)
		db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			t.Fatalf("open sqlite node %s: %v", nodeId, err)
		}
		if err := models.MigrateNodeTables(db); err != nil {
			t.Fatalf("migrate node %s: %v", nodeId, err)
		}
		config.RegisterNode(nodeId, db)
	}
	if err := models.MigrateCentralTables(config.GetCentralDB()); err != nil {
		t.Fatalf("migrate central tables: %v", err)
	}
}

func newTestEngine(t *testing.T, skew time.Duration) *Engine {
	t.Helper()
	setupNodes(t)
	return NewEngine(NewLedger(nil), skew)
}

func seedUser(t *testing.T, nodeId string, u models.User) {
	t.Helper()
	if err := config.GetNode(nodeId).Create(&u).Error; err != nil {
		t.Fatalf("seed user at %s: %v", nodeId, err)
	}
}

func loadUser(t *testing.T, nodeId string, id int) *models.User {
	t.Helper()
	var u models.User
	err := config.GetNode(nodeId).Where("id = ?", id).First(&u).Error
	if err != nil {
		t.Fatalf("load user %d at %s: %v", id, nodeId, err)
	}
	return &u
}

func testTime(offset time.Duration) time.Time {
	base := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	return utils.TruncateToSecond(base.Add(offset))
}
