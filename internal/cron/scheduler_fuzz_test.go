package cron

import (
	"testing"
	"time"
)

func FuzzParseSchedule(f *testing.F) {
	for _, seed := range []string{
		"*/5 * * * *", "0 0 * * *", "* * * * *", "@every 90s", "@hourly",
		"invalid", "", "60 * * * *", "0 25 * * *", "@every -1s",
	} {
		f.Add(seed)
	}

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.Fuzz(func(t *testing.T, expr string) {
		sched, err := ParseSchedule(expr)
		if err != nil {
			return
		}
		if next := sched.Next(now); !next.IsZero() && !next.After(now) {
			t.Errorf("ParseSchedule(%q).Next = %v, want after %v", expr, next, now)
		}
	})
}
