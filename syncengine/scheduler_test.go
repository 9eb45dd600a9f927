package syncengine

import (
	"context"
	"errors"
	"testing"
	"time"

	"bitbucket.org/meditrust/medsync_backend/config"
	"bitbucket.org/meditrust/medsync_backend/models"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// waitForUser polls a node until the record shows up or the deadline passes.
// Cycles run on their own goroutines, so tests observe them by effect.
func waitForUser(t *testing.T, nodeId string, id int) *models.User {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		var u models.User
		err := config.GetNode(nodeId).Where("id = ?", id).First(&u).Error
		if err == nil {
			return &u
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			t.Fatalf("load user %d at %s: %v", id, nodeId, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("user %d never reached node %s", id, nodeId)
	return nil
}

func TestSchedulerRunsCycleOnTick(t *testing.T) {
	e := newTestEngine(t, DefaultSkewTolerance)
	fc := clockwork.NewFakeClock()
	s := NewScheduler(e, config.Settings(), fc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)
	fc.BlockUntil(1)

	seedUser(t, config.NodeMySQL, models.User{
		ID: 1, Username: "nurse1", Password: "x", Role: models.RoleNurse,
		BranchId: 1, LastUpdated: testTime(0),
	})

	fc.Advance(time.Duration(config.DefaultSyncIntervalSeconds) * time.Second)
	waitForUser(t, config.NodePostgres, 1)
	waitForUser(t, config.NodeSQLServer, 1)
}

func TestTriggerNowBypassesTheTicker(t *testing.T) {
	e := newTestEngine(t, DefaultSkewTolerance)
	fc := clockwork.NewFakeClock()
	s := NewScheduler(e, config.Settings(), fc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)
	fc.BlockUntil(1)

	seedUser(t, config.NodeMySQL, models.User{
		ID: 1, Username: "nurse1", Password: "x", Role: models.RoleNurse,
		BranchId: 1, LastUpdated: testTime(0),
	})

	// No clock advance at all; the manual trigger alone must run a cycle.
	// Repeated triggers coalesce instead of blocking the caller.
	s.TriggerNow()
	s.TriggerNow()
	s.TriggerNow()

	waitForUser(t, config.NodePostgres, 1)
}

func TestRescheduleAppliesNewInterval(t *testing.T) {
	e := newTestEngine(t, DefaultSkewTolerance)
	fc := clockwork.NewFakeClock()
	settings := config.Settings()
	s := NewScheduler(e, settings, fc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)
	fc.BlockUntil(1)

	v := settings.Snapshot()
	prevInterval := v.SyncInterval
	v.SyncInterval = 15
	settings.Override(v)
	defer func() {
		v.SyncInterval = prevInterval
		settings.Override(v)
	}()

	s.Reschedule()
	// Give the loop a moment to pick up the reschedule before advancing.
	time.Sleep(50 * time.Millisecond)

	seedUser(t, config.NodeMySQL, models.User{
		ID: 1, Username: "nurse1", Password: "x", Role: models.RoleNurse,
		BranchId: 1, LastUpdated: testTime(0),
	})

	// 15s is enough after rescheduling; the old 90s cadence would not fire.
	fc.Advance(15 * time.Second)
	waitForUser(t, config.NodePostgres, 1)
}
