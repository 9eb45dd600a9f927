package syncengine

import (
	"strings"
	"testing"
	"time"

	"bitbucket.org/meditrust/medsync_backend/models"
	"bitbucket.org/meditrust/medsync_backend/utils"
	"github.com/shopspring/decimal"
)

func TestDiffFieldsFindsDivergence(t *testing.T) {
	a := &models.User{ID: 1, Username: "alice", Role: models.RoleNurse, BranchId: 1}
	b := &models.User{ID: 1, Username: "alice", Role: models.RoleDoctor, BranchId: 1}

	diffs := diffFields(userSchema, a, b)
	if len(diffs) != 1 {
		t.Fatalf("want 1 diff, got %d: %v", len(diffs), diffs)
	}
	if diffs[0].Field != "role" || diffs[0].Source != "nurse" || diffs[0].Target != "doctor" {
		t.Fatalf("unexpected diff: %+v", diffs[0])
	}
}

func TestDiffFieldsIgnoresTimestamps(t *testing.T) {
	a := &models.User{ID: 1, Username: "alice", Role: models.RoleNurse, BranchId: 1, LastUpdated: testTime(0)}
	b := &models.User{ID: 1, Username: "alice", Role: models.RoleNurse, BranchId: 1, LastUpdated: testTime(time.Hour)}

	if diffs := diffFields(userSchema, a, b); len(diffs) != 0 {
		t.Fatalf("timestamp-only difference must not diff, got %v", diffs)
	}
}

func TestDecimalTolerance(t *testing.T) {
	a := &models.Prescription{ID: "p1", TotalAmount: decimal.RequireFromString("100.0000001")}
	b := &models.Prescription{ID: "p1", TotalAmount: decimal.RequireFromString("100.0000002")}
	if diffs := diffFields(prescriptionSchema, a, b); len(diffs) != 0 {
		t.Fatalf("sub-tolerance decimal difference must not diff, got %v", diffs)
	}

	c := &models.Prescription{ID: "p1", TotalAmount: decimal.RequireFromString("100.01")}
	if diffs := diffFields(prescriptionSchema, a, c); len(diffs) != 1 {
		t.Fatalf("want a diff for 100.0000001 vs 100.01, got %v", diffs)
	}
}

func TestNilPointerCompare(t *testing.T) {
	a := &models.AlertMessage{ID: "a1", AlertType: models.AlertTypeRisk}
	b := &models.AlertMessage{ID: "a1", AlertType: models.AlertTypeRisk}
	if diffs := diffFields(alertSchema, a, b); len(diffs) != 0 {
		t.Fatalf("two nil medicine refs must be equal, got %v", diffs)
	}

	b.MedicineId = utils.IntPtr(7)
	diffs := diffFields(alertSchema, a, b)
	if len(diffs) != 1 {
		t.Fatalf("nil vs 7 must diff, got %v", diffs)
	}
	if diffs[0].Source != "NULL" || diffs[0].Target != "7" {
		t.Fatalf("unexpected rendering: %+v", diffs[0])
	}
}

func TestDiffTextNamesBothNodes(t *testing.T) {
	text := DiffText("users", "12", "mysql", "pg", []FieldDiff{
		{Field: "role", Source: "nurse", Target: "doctor"},
	})
	for _, want := range []string{"mysql", "pg", "users:12", "role: nurse -> doctor"} {
		if !strings.Contains(text, want) {
			t.Fatalf("diff text %q is missing %q", text, want)
		}
	}
}
