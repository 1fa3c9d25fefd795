package events

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"almejal/eldorado/internal/models"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func TestMembersOfDay(t *testing.T) {
	id := uuid.New()
	base := []models.Candle{
		{MarketID: id, Datetime: day("2023-03-01").Add(23*time.Hour + 45*time.Minute)},
		{MarketID: id, Datetime: day("2023-03-02")},
		{MarketID: id, Datetime: day("2023-03-02").Add(15 * time.Minute)},
		{MarketID: id, Datetime: day("2023-03-03")},
	}
	got := membersOfDay(base, day("2023-03-02"))
	if len(got) != 2 {
		t.Fatalf("membersOfDay returned %d candles, want 2", len(got))
	}
	for _, c := range got {
		if c.Datetime.Before(day("2023-03-02")) || !c.Datetime.Before(day("2023-03-03")) {
			t.Errorf("candle %v outside day", c.Datetime)
		}
	}
}

func TestAllValidated(t *testing.T) {
	members := []models.Candle{{IsValidated: true}, {IsValidated: true}}
	if !allValidated(members) {
		t.Error("allValidated = false for fully validated members")
	}
	members[1].IsValidated = false
	if allValidated(members) {
		t.Error("allValidated = true with an unvalidated member")
	}
}

func TestMonthFloor(t *testing.T) {
	got := monthFloor(time.Date(2023, 3, 17, 9, 30, 12, 0, time.UTC))
	want := day("2023-03-01")
	if !got.Equal(want) {
		t.Errorf("monthFloor = %v, want %v", got, want)
	}
}

func TestMonthValidated(t *testing.T) {
	full := func(n int) []models.DailyCandle {
		out := make([]models.DailyCandle, n)
		for i := range out {
			out[i] = models.DailyCandle{IsComplete: true, IsValidated: true}
		}
		return out
	}

	if monthValidated(nil) {
		t.Error("empty month reported validated")
	}
	if !monthValidated(full(31)) {
		t.Error("fully validated month reported unvalidated")
	}
	days := full(31)
	days[12].IsValidated = false
	if monthValidated(days) {
		t.Error("month with unvalidated day reported validated")
	}
	days = full(31)
	days[30].IsComplete = false
	if monthValidated(days) {
		t.Error("month with incomplete day reported validated")
	}
}
