package scheduler

import (
	"testing"
	"time"

	"almejal/eldorado/internal/models"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.DataStatus
		want     bool
	}{
		{models.DataNew, models.DataBackfilling, true},
		{models.DataBackfilling, models.DataSyncing, true},
		{models.DataSyncing, models.DataLive, true},
		{models.DataLive, models.DataValidating, true},
		{models.DataValidating, models.DataLive, true},
		{models.DataLive, models.DataArchived, true},
		{models.DataLive, models.DataError, true},
		{models.DataNew, models.DataLive, false},
		{models.DataBackfilling, models.DataLive, false},
		{models.DataArchived, models.DataLive, false},
		{models.DataError, models.DataLive, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestGapClosedIntegerIDs(t *testing.T) {
	t1 := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	// Backfill ended at 999, websocket starts at 1005: five trades are
	// missing, the gap stays open until the REST chase lands 1000..1004.
	if GapClosed("999", "1005", t1, t2, 15*time.Minute) {
		t.Error("gap 999 -> 1005 must stay open")
	}
	if !GapClosed("1004", "1005", t1, t2, 15*time.Minute) {
		t.Error("gap 1004 -> 1005 must close")
	}
	// Contiguity is exact even when timestamps are close.
	if GapClosed("1003", "1005", t1, t2, 15*time.Minute) {
		t.Error("a one-trade hole must keep the gap open")
	}
}

func TestGapClosedOpaqueIDs(t *testing.T) {
	t1 := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)

	if !GapClosed("3855995", "abc-123", t1, t1.Add(time.Second), 15*time.Minute) {
		t.Error("opaque ids inside one bucket should close on timestamps")
	}
	if GapClosed("abc-122", "abc-123", t1, t1.Add(16*time.Minute), 15*time.Minute) {
		t.Error("opaque ids a bucket apart must stay open")
	}
}

func TestRestartDelay(t *testing.T) {
	want := []time.Duration{5 * time.Second, 30 * time.Second, 60 * time.Second, 60 * time.Second}
	for i, w := range want {
		if got := RestartDelay(i + 1); got != w {
			t.Errorf("RestartDelay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestNextRestartCount(t *testing.T) {
	now := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)

	if got := NextRestartCount(3, nil, now); got != 1 {
		t.Errorf("first restart should count 1, got %d", got)
	}

	recent := now.Add(-time.Hour)
	if got := NextRestartCount(2, &recent, now); got != 3 {
		t.Errorf("restart within a day should increment, got %d", got)
	}

	old := now.Add(-25 * time.Hour)
	if got := NextRestartCount(3, &old, now); got != 1 {
		t.Errorf("restart after a healthy day should reset, got %d", got)
	}
}
