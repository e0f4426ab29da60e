package calls

import (
	"testing"
	"time"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

func mustLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skipf("timezone %s unavailable: %v", name, err)
	}
	return loc
}

func TestNextEligibleInstant(t *testing.T) {
	ams := mustLocation(t, "Europe/Amsterdam")

	cases := []struct {
		name string
		now  string
		want string
	}{
		{name: "inside window", now: "2026-01-15T10:00:00Z", want: "2026-01-15T10:00:00Z"},
		{name: "before start", now: "2026-01-15T05:30:00Z", want: "2026-01-15T08:00:00Z"},
		{name: "after end", now: "2026-01-15T19:00:00Z", want: "2026-01-16T08:00:00Z"},
		{name: "at end hour", now: "2026-01-15T17:00:00Z", want: "2026-01-16T08:00:00Z"},
	}
	for _, tc := range cases {
		got := NextEligibleInstant(mustTime(t, tc.now), ams, 9, 18)
		if !got.Equal(mustTime(t, tc.want)) {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got.Format(time.RFC3339))
		}
	}
}

func TestInWindow(t *testing.T) {
	ams := mustLocation(t, "Europe/Amsterdam")
	if !InWindow(mustTime(t, "2026-01-15T08:00:00Z"), ams, 9, 18) {
		t.Fatalf("09:00 local should be inside [9,18)")
	}
	if InWindow(mustTime(t, "2026-01-15T17:00:00Z"), ams, 9, 18) {
		t.Fatalf("18:00 local should be outside [9,18)")
	}
}
