package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestSortDedupOrders(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	trades := []Trade{
		{TradeID: "3", Time: base.Add(2 * time.Second)},
		{TradeID: "1", Time: base},
		{TradeID: "2", Time: base.Add(time.Second)},
	}

	out := SortDedup(trades)
	if len(out) != 3 {
		t.Fatalf("expected 3 trades, got %d", len(out))
	}
	for i, want := range []string{"1", "2", "3"} {
		if out[i].TradeID != want {
			t.Errorf("position %d = %s, want %s", i, out[i].TradeID, want)
		}
	}
}

func TestSortDedupWsWins(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	price := decimal.NewFromInt(100)
	size := decimal.NewFromInt(1)

	// Same trade observed on both feeds; the ws copy arrived 50ms later on
	// the exchange clock but must survive the merge.
	trades := []Trade{
		{TradeID: "42", Time: base, Price: price, Size: size, Source: BucketRest},
		{TradeID: "42", Time: base.Add(50 * time.Millisecond), Price: price, Size: size, Source: BucketWs},
	}

	out := SortDedup(trades)
	if len(out) != 1 {
		t.Fatalf("expected 1 trade after dedup, got %d", len(out))
	}
	if out[0].Source != BucketWs {
		t.Error("rest copy survived dedup, want ws")
	}
	if !out[0].Time.Equal(base.Add(50 * time.Millisecond)) {
		t.Errorf("kept timestamp %v, want ws timestamp", out[0].Time)
	}
}

func TestSortDedupIdempotent(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	trades := []Trade{
		{TradeID: "1", Time: base, Source: BucketRest},
		{TradeID: "1", Time: base, Source: BucketWs},
		{TradeID: "2", Time: base.Add(time.Second), Source: BucketWs},
	}
	once := SortDedup(trades)
	twice := SortDedup(append([]Trade(nil), once...))
	if len(once) != len(twice) {
		t.Fatalf("dedup not idempotent: %d vs %d", len(once), len(twice))
	}
	for i := range once {
		if once[i].TradeID != twice[i].TradeID {
			t.Errorf("position %d changed across applications", i)
		}
	}
}

func TestTradeValue(t *testing.T) {
	tr := Trade{Price: decimal.RequireFromString("11"), Size: decimal.RequireFromString("0.5")}
	if !tr.Value().Equal(decimal.RequireFromString("5.5")) {
		t.Errorf("value = %s, want 5.5", tr.Value())
	}
}
