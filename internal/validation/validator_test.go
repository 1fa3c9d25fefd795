package validation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"almejal/eldorado/internal/models"
	"almejal/eldorado/internal/timeframe"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func matchedDay() (models.Candle, models.DailyCandle) {
	computed := models.Candle{
		Open:       d("36700"),
		High:       d("37900"),
		Low:        d("35666"),
		Close:      d("36680.5"),
		Volume:     d("1000.00000"),
		Value:      d("36700000.123"),
		TradeCount: 48231,
	}
	authority := models.DailyCandle{
		Open:   d("36700"),
		High:   d("37900"),
		Low:    d("35666"),
		Close:  d("36680.5"),
		Volume: d("1000.00000"),
	}
	return computed, authority
}

func TestCompareDailyMatch(t *testing.T) {
	computed, authority := matchedDay()
	verdict := CompareDaily(computed, authority)
	if !verdict.Match {
		t.Fatalf("expected match, got %s", verdict)
	}
}

func TestCompareDailyVolumeExact(t *testing.T) {
	// A 1e-5 absolute volume drift is well inside any relative tolerance
	// but base volume must match exactly, so the day fails reconciliation.
	computed, authority := matchedDay()
	computed.Volume = d("1000.00001")
	verdict := CompareDaily(computed, authority)
	if verdict.Match {
		t.Fatal("volume drift must fail reconciliation")
	}
	if len(verdict.Fields) != 1 || verdict.Fields[0] != "volume" {
		t.Errorf("fields = %v, want [volume]", verdict.Fields)
	}
}

func TestCompareDailyOHLCTolerance(t *testing.T) {
	computed, authority := matchedDay()

	// Inside 1e-8 relative: accepted.
	computed.Close = authority.Close.Mul(d("1.000000005"))
	if verdict := CompareDaily(computed, authority); !verdict.Match {
		t.Errorf("rounding-level close drift should pass, got %s", verdict)
	}

	// Outside 1e-8 relative: rejected.
	computed.Close = authority.Close.Mul(d("1.000001"))
	if verdict := CompareDaily(computed, authority); verdict.Match {
		t.Error("real close drift should fail")
	}
}

func TestCompareDailyQuoteVolumeVenue(t *testing.T) {
	// When the venue reports daily volume in quote currency the computed
	// base volume never matches, but the quote value does within 1e-4.
	computed, authority := matchedDay()
	authority.Volume = computed.Value.Mul(d("1.00005"))
	verdict := CompareDaily(computed, authority)
	if !verdict.Match {
		t.Fatalf("quote-volume venue should reconcile on value, got %s", verdict)
	}
}

func TestCompareDailyTradeCount(t *testing.T) {
	computed, authority := matchedDay()

	// Venue reports no trade count: not compared.
	authority.TradeCount = 0
	if verdict := CompareDaily(computed, authority); !verdict.Match {
		t.Errorf("absent venue trade count should not fail, got %s", verdict)
	}

	// Venue reports one: exact.
	authority.TradeCount = computed.TradeCount + 1
	if verdict := CompareDaily(computed, authority); verdict.Match {
		t.Error("trade count drift should fail")
	}
}

func TestRelWithin(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		tol  decimal.Decimal
		want bool
	}{
		{"equal", "100", "100", ohlcTolerance, true},
		{"both zero", "0", "0", ohlcTolerance, true},
		{"one zero", "0", "1", ohlcTolerance, false},
		{"inside", "100.000000001", "100", ohlcTolerance, true},
		{"outside", "100.001", "100", ohlcTolerance, false},
		{"negative inside", "-100.000000001", "-100", ohlcTolerance, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := relWithin(d(tt.a), d(tt.b), tt.tol); got != tt.want {
				t.Errorf("relWithin(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestCompareCandles(t *testing.T) {
	base := models.Candle{
		Datetime:     time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC),
		Open:         d("10"),
		High:         d("12"),
		Low:          d("10"),
		Close:        d("11"),
		Volume:       d("3.5"),
		VolumeNet:    d("-1.5"),
		Value:        d("39.5"),
		TradeCount:   3,
		FirstTradeID: "1",
		LastTradeID:  "3",
	}

	same := base
	same.IsValidated = true
	if !CompareCandles(base, same) {
		t.Error("validated flag must not affect comparison")
	}

	drift := base
	drift.Volume = d("3.6")
	if CompareCandles(base, drift) {
		t.Error("volume drift must be detected")
	}

	missing := base
	missing.TradeCount = 2
	missing.LastTradeID = "2"
	if CompareCandles(base, missing) {
		t.Error("dropped trade must be detected")
	}
}

func TestRepairScope(t *testing.T) {
	market := &models.Market{
		MarketName:   "BTC-PERP",
		ExchangeName: "ftx",
		TimeFrame:    timeframe.T15,
	}
	day := time.Date(2022, 3, 14, 0, 0, 0, 0, time.UTC)
	val := &models.CandleValidation{
		ExchangeName: "ftx",
		Datetime:     day,
		Duration:     86400,
	}

	tf, start, end, err := repairScope(market, val)
	if err != nil {
		t.Fatalf("repairScope: %v", err)
	}
	// The rebuild targets the base candle table; d01 here would point the
	// delete at a per-exchange daily table that is never created.
	if tf != timeframe.T15 {
		t.Errorf("timeframe = %s, want %s", tf, timeframe.T15)
	}
	if !start.Equal(day) || !end.Equal(day.Add(24*time.Hour)) {
		t.Errorf("window = [%s, %s), want the full day", start, end)
	}

	val.Duration = 12345
	if _, _, _, err := repairScope(market, val); err == nil {
		t.Error("unknown duration must be rejected")
	}
}
