package utils

import (
	"strings"
	"time"
)

func IntPtr(v int) *int {
	return &v
}

// TruncateToSecond drops sub-second precision before a timestamp crosses node
// boundaries. MySQL DATETIME, Postgres timestamp and SQL Server datetime carry
// different fractional-second resolutions, so replicated rows must agree at
// whole-second granularity.
func TruncateToSecond(t time.Time) time.Time {
	return t.Truncate(time.Second)
}

func SplitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
