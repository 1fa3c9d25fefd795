package timeframe

import (
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeFrame
		wantErr bool
	}{
		{"t15", T15, false},
		{"d01", D01, false},
		{"h04", H04, false},
		{"15m", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := Parse(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Parse(%q): expected error, got %v", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): unexpected error %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFloorAlignsToUTC(t *testing.T) {
	ts := time.Date(2022, 3, 14, 9, 26, 53, 589000000, time.UTC)

	got := T15.Floor(ts)
	want := time.Date(2022, 3, 14, 9, 15, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("T15.Floor = %v, want %v", got, want)
	}

	got = D01.Floor(ts)
	want = time.Date(2022, 3, 14, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("D01.Floor = %v, want %v", got, want)
	}
}

func TestCeilingOnBoundary(t *testing.T) {
	boundary := time.Date(2022, 3, 14, 9, 15, 0, 0, time.UTC)
	got := T15.Ceiling(boundary)
	want := boundary.Add(15 * time.Minute)
	if !got.Equal(want) {
		t.Errorf("Ceiling on boundary = %v, want %v", got, want)
	}
}

func TestContainsHalfOpen(t *testing.T) {
	start := time.Unix(1700000000, 0).UTC()
	if !T15.Contains(start, start) {
		t.Error("bucket start should be contained")
	}
	if !T15.Contains(start, start.Add(899*time.Second)) {
		t.Error("last second of bucket should be contained")
	}
	if T15.Contains(start, start.Add(900*time.Second)) {
		t.Error("bucket end should not be contained")
	}
}

func TestRangeCoversDay(t *testing.T) {
	day := time.Date(2022, 5, 1, 0, 0, 0, 0, time.UTC)
	buckets := T15.Range(day, day.AddDate(0, 0, 1))
	if len(buckets) != 96 {
		t.Fatalf("expected 96 buckets in a day, got %d", len(buckets))
	}
	if !buckets[0].Equal(day) {
		t.Errorf("first bucket = %v, want %v", buckets[0], day)
	}
	last := day.Add(23*time.Hour + 45*time.Minute)
	if !buckets[95].Equal(last) {
		t.Errorf("last bucket = %v, want %v", buckets[95], last)
	}
}
