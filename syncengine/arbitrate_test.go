package syncengine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"bitbucket.org/meditrust/medsync_backend/config"
	"bitbucket.org/meditrust/medsync_backend/models"
)

// freezeDivergedUser seeds a user whose pg copy was modified far outside the
// skew window, runs a cycle and returns the raised conflict.
func freezeDivergedUser(t *testing.T, e *Engine) *models.SyncConflictLog {
	t.Helper()
	ctx := context.Background()

	seedUser(t, config.NodeMySQL, models.User{
		ID: 1, Username: "nurse1", Password: "x", Role: models.RoleNurse,
		BranchId: 1, LastUpdated: testTime(0),
	})
	seedUser(t, config.NodePostgres, models.User{
		ID: 1, Username: "nurse1", Password: "x", Role: models.RoleDoctor,
		BranchId: 1, LastUpdated: testTime(time.Minute),
	})
	seedUser(t, config.NodeSQLServer, models.User{
		ID: 1, Username: "nurse1", Password: "x", Role: models.RoleNurse,
		BranchId: 1, LastUpdated: testTime(0),
	})

	if res := e.RunCycle(ctx); res.Conflicts != 1 {
		t.Fatalf("setup: want 1 conflict, got %+v", res)
	}
	conflicts, err := models.GetPendingConflicts(ctx)
	if err != nil || len(conflicts) != 1 {
		t.Fatalf("setup: pending conflicts %v %v", conflicts, err)
	}
	return conflicts[0]
}

func TestResolveAppliesChosenCopyEverywhere(t *testing.T) {
	e := newTestEngine(t, 10*time.Second)
	ctx := context.Background()
	conflict := freezeDivergedUser(t, e)

	arb := NewArbitrator(e.ledger)
	if err := arb.Resolve(ctx, conflict.ID, config.NodePostgres); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	var resolvedAt time.Time
	for i, nodeId := range config.AllNodes {
		u := loadUser(t, nodeId, 1)
		if u.Role != models.RoleDoctor {
			t.Fatalf("node %s must carry the chosen copy, got role %s", nodeId, u.Role)
		}
		if i == 0 {
			resolvedAt = u.LastUpdated
		} else if !u.LastUpdated.Equal(resolvedAt) {
			t.Fatalf("resolution timestamp must be shared, %s has %v vs %v", nodeId, u.LastUpdated, resolvedAt)
		}
	}

	row, err := models.GetConflict(ctx, conflict.ID)
	if err != nil {
		t.Fatalf("reload conflict: %v", err)
	}
	if row.Status != models.ConflictStatusResolved {
		t.Fatalf("status = %s, want RESOLVED", row.Status)
	}

	stats, err := models.GetRecentSyncStats(ctx, 1)
	if err != nil || len(stats) != 1 {
		t.Fatalf("stats: %v %v", stats, err)
	}
	if stats[0].ManualResolveCount != 1 {
		t.Fatalf("manual resolve stat = %d, want 1", stats[0].ManualResolveCount)
	}

	// The repaired record is unlocked and stable.
	if res := e.RunCycle(ctx); res.AutoSyncs() != 0 || res.Conflicts != 0 {
		t.Fatalf("resolved record must not churn, got %+v", res)
	}
}

func TestResolveKeepingOwnerCopy(t *testing.T) {
	e := newTestEngine(t, 10*time.Second)
	ctx := context.Background()
	conflict := freezeDivergedUser(t, e)

	arb := NewArbitrator(e.ledger)
	if err := arb.Resolve(ctx, conflict.ID, config.NodeMySQL); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := loadUser(t, config.NodePostgres, 1).Role; got != models.RoleNurse {
		t.Fatalf("intruding copy must be overwritten, got role %s", got)
	}
}

func TestResolveRecreatesMissingCopy(t *testing.T) {
	e := newTestEngine(t, 10*time.Second)
	ctx := context.Background()
	conflict := freezeDivergedUser(t, e)

	// The mssql copy disappeared between the freeze and the decision.
	if err := config.GetNode(config.NodeSQLServer).Delete(&models.User{}, "id = ?", 1).Error; err != nil {
		t.Fatalf("delete mssql copy: %v", err)
	}

	arb := NewArbitrator(e.ledger)
	if err := arb.Resolve(ctx, conflict.ID, config.NodePostgres); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	u := loadUser(t, config.NodeSQLServer, 1)
	if u.Role != models.RoleDoctor {
		t.Fatalf("recreated copy must carry the chosen role, got %s", u.Role)
	}
	if !u.LastUpdated.Equal(loadUser(t, config.NodePostgres, 1).LastUpdated) {
		t.Fatal("recreated copy must share the resolution timestamp")
	}
	row, err := models.GetConflict(ctx, conflict.ID)
	if err != nil {
		t.Fatalf("reload conflict: %v", err)
	}
	if row.Status != models.ConflictStatusResolved {
		t.Fatalf("status = %s, want RESOLVED", row.Status)
	}
}

func TestResolvePartialFailureKeepsConflictPending(t *testing.T) {
	e := newTestEngine(t, 10*time.Second)
	ctx := context.Background()
	conflict := freezeDivergedUser(t, e)

	// Take the mysql node offline. The central ledger lives on mssql and
	// stays reachable throughout.
	mysqlDB := config.GetNode(config.NodeMySQL)
	config.RegisterNode(config.NodeMySQL, nil)
	defer config.RegisterNode(config.NodeMySQL, mysqlDB)

	arb := NewArbitrator(e.ledger)
	err := arb.Resolve(ctx, conflict.ID, config.NodePostgres)
	if err == nil {
		t.Fatal("resolution with an unreachable node must fail")
	}
	if !strings.Contains(err.Error(), config.NodeMySQL) {
		t.Fatalf("error must name the failed node, got %v", err)
	}

	row, err := models.GetConflict(ctx, conflict.ID)
	if err != nil {
		t.Fatalf("reload conflict: %v", err)
	}
	if row.Status != models.ConflictStatusPending {
		t.Fatalf("partial failure must leave the conflict pending, got %s", row.Status)
	}

	// The node comes back and the same decision is retried.
	config.RegisterNode(config.NodeMySQL, mysqlDB)
	if err := arb.Resolve(ctx, conflict.ID, config.NodePostgres); err != nil {
		t.Fatalf("retry: %v", err)
	}
	for _, nodeId := range config.AllNodes {
		if got := loadUser(t, nodeId, 1).Role; got != models.RoleDoctor {
			t.Fatalf("node %s must carry the chosen copy after retry, got %s", nodeId, got)
		}
	}
	row, err = models.GetConflict(ctx, conflict.ID)
	if err != nil {
		t.Fatalf("reload conflict: %v", err)
	}
	if row.Status != models.ConflictStatusResolved {
		t.Fatalf("retry must resolve the conflict, got %s", row.Status)
	}
}

func TestResolveTwiceReportsAlreadyResolved(t *testing.T) {
	e := newTestEngine(t, 10*time.Second)
	ctx := context.Background()
	conflict := freezeDivergedUser(t, e)

	arb := NewArbitrator(e.ledger)
	if err := arb.Resolve(ctx, conflict.ID, config.NodePostgres); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	err := arb.Resolve(ctx, conflict.ID, config.NodeMySQL)
	if !errors.Is(err, ErrConflictAlreadyResolved) {
		t.Fatalf("second resolve must report already resolved, got %v", err)
	}
	// The losing decision must not change any data.
	if got := loadUser(t, config.NodeMySQL, 1).Role; got != models.RoleDoctor {
		t.Fatalf("late decision must not rewrite records, got role %s", got)
	}
}

func TestResolveRejectsUnknownNode(t *testing.T) {
	e := newTestEngine(t, 10*time.Second)
	ctx := context.Background()
	conflict := freezeDivergedUser(t, e)

	arb := NewArbitrator(e.ledger)
	if err := arb.Resolve(ctx, conflict.ID, "oracle"); err == nil {
		t.Fatal("unknown node must be rejected")
	}
	row, err := models.GetConflict(ctx, conflict.ID)
	if err != nil {
		t.Fatalf("reload conflict: %v", err)
	}
	if row.Status != models.ConflictStatusPending {
		t.Fatalf("failed resolution must leave the conflict pending, got %s", row.Status)
	}
}
