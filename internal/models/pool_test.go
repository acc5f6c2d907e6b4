package models

import (
	"testing"
	"time"
)

func startedPool(start time.Time, durationDays int) *Pool {
	return &Pool{
		PoolID:         "pool-1",
		DurationDays:   durationDays,
		StartTimestamp: &start,
	}
}

func TestDayWindowBounds(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	pool := startedPool(start, 30)

	tests := []struct {
		day       int
		wantStart time.Time
	}{
		{1, start},
		{2, start.Add(24 * time.Hour)},
		{30, start.Add(29 * 24 * time.Hour)},
	}

	for _, tt := range tests {
		gotStart, gotEnd := pool.DayWindow(tt.day)
		if !gotStart.Equal(tt.wantStart) {
			t.Errorf("Day %d: expected start %v, got %v", tt.day, tt.wantStart, gotStart)
		}
		if gotEnd.Sub(gotStart) != 24*time.Hour {
			t.Errorf("Day %d: expected 24h window, got %v", tt.day, gotEnd.Sub(gotStart))
		}
	}
}

func TestDayWindowStableAcrossDST(t *testing.T) {
	// US DST starts 2026-03-08; wall-clock days shift but challenge windows
	// must stay exact 24h UTC slices
	start := time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)
	pool := startedPool(start, 10)

	for day := 1; day <= 10; day++ {
		winStart, winEnd := pool.DayWindow(day)
		if winEnd.Sub(winStart) != 24*time.Hour {
			t.Errorf("Day %d spans %v, expected 24h", day, winEnd.Sub(winStart))
		}
		if winStart.Location() != time.UTC {
			t.Errorf("Day %d start not in UTC", day)
		}
	}

	nextStart, _ := pool.DayWindow(4)
	_, prevEnd := pool.DayWindow(3)
	if !nextStart.Equal(prevEnd) {
		t.Errorf("Windows not contiguous across DST boundary: day 3 ends %v, day 4 starts %v", prevEnd, nextStart)
	}
}

func TestCurrentDay(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	pool := startedPool(start, 30)

	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"before start", start.Add(-time.Second), 0},
		{"at start", start, 1},
		{"mid day one", start.Add(12 * time.Hour), 1},
		{"day two boundary", start.Add(24 * time.Hour), 2},
		{"last day", start.Add(29*24*time.Hour + time.Hour), 30},
		{"clamped past end", start.Add(45 * 24 * time.Hour), 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pool.CurrentDay(tt.now); got != tt.want {
				t.Errorf("Expected day %d, got %d", tt.want, got)
			}
		})
	}
}

func TestCurrentDayUnstartedPool(t *testing.T) {
	pool := &Pool{PoolID: "pool-1", DurationDays: 30}
	if got := pool.CurrentDay(time.Now()); got != 0 {
		t.Errorf("Expected day 0 for unstarted pool, got %d", got)
	}
}

func TestCurrentDayNonUTCInput(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	pool := startedPool(start, 30)

	zone := time.FixedZone("UTC+9", 9*3600)
	local := time.Date(2026, 3, 2, 8, 0, 0, 0, zone) // 2026-03-01T23:00Z
	if got := pool.CurrentDay(local); got != 1 {
		t.Errorf("Expected day 1 for %v, got %d", local, got)
	}
}
