package availability

import (
	"testing"
	"time"
)

func TestFreeSlotsBasic(t *testing.T) {
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	windowStart := day.Add(9 * time.Hour)
	windowEnd := day.Add(10 * time.Hour)

	booked := []Interval{
		{Start: day.Add(9*time.Hour + 15*time.Minute), End: day.Add(9*time.Hour + 45*time.Minute)},
	}

	slots := FreeSlots(windowStart, windowEnd, 15*time.Minute, 15*time.Minute, booked, day)
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	if !slots[0].Equal(day.Add(9 * time.Hour)) {
		t.Fatalf("expected first slot 09:00, got %s", slots[0].Format(time.RFC3339))
	}
	if !slots[1].Equal(day.Add(9*time.Hour + 45*time.Minute)) {
		t.Fatalf("expected second slot 09:45, got %s", slots[1].Format(time.RFC3339))
	}
}

func TestFreeSlotsSkipsPast(t *testing.T) {
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	windowStart := day.Add(9 * time.Hour)
	windowEnd := day.Add(10 * time.Hour)

	now := day.Add(9*time.Hour + 31*time.Minute)
	slots := FreeSlots(windowStart, windowEnd, 15*time.Minute, 15*time.Minute, nil, now)
	// 09:00, 09:15, 09:30 start before now; only 09:45 remains.
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	if !slots[0].Equal(day.Add(9*time.Hour + 45*time.Minute)) {
		t.Fatalf("expected slot 09:45, got %s", slots[0].Format(time.RFC3339))
	}
}

func TestFreeSlotsRejectsBadWindow(t *testing.T) {
	day := time.Date(2026, 1, 28, 9, 0, 0, 0, time.UTC)
	if got := FreeSlots(day, day, 15*time.Minute, 15*time.Minute, nil, day); got != nil {
		t.Fatalf("expected nil for empty window, got %v", got)
	}
	if got := FreeSlots(day, day.Add(time.Hour), 0, 15*time.Minute, nil, day); got != nil {
		t.Fatalf("expected nil for zero duration, got %v", got)
	}
}
