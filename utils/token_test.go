package utils

import (
	"testing"
	"time"
)

func TestJwtRoundTrip(t *testing.T) {
	token, err := JwtGenerate(7, "branch_admin", 2, "pg")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	parsed, err := JwtValidate(token)
	if err != nil || !parsed.Valid {
		t.Fatalf("validate: %v", err)
	}
	claims, ok := parsed.Claims.(*JwtCustomClaim)
	if !ok {
		t.Fatal("claims have the wrong type")
	}
	if claims.ID != 7 || claims.Role != "branch_admin" || claims.BranchId != 2 || claims.NodeId != "pg" {
		t.Fatalf("claims did not survive the round trip: %+v", claims)
	}
}

func TestJwtRejectsTampering(t *testing.T) {
	token, err := JwtGenerate(7, "nurse", 1, "mysql")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	tampered := token[:len(token)-2] + "xx"
	if parsed, err := JwtValidate(tampered); err == nil && parsed.Valid {
		t.Fatal("tampered token must not validate")
	}
}

func TestTruncateToSecond(t *testing.T) {
	in := time.Date(2026, 3, 14, 9, 30, 12, 987654321, time.UTC)
	got := TruncateToSecond(in)
	if got.Nanosecond() != 0 {
		t.Fatalf("sub-second precision must be dropped, got %v", got)
	}
	if !got.Equal(time.Date(2026, 3, 14, 9, 30, 12, 0, time.UTC)) {
		t.Fatalf("unexpected truncation result: %v", got)
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := SplitAndTrim(" a, b ,, c ")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected result: %v", got)
	}
}
