package candles

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"almejal/eldorado/internal/models"
	"almejal/eldorado/internal/timeframe"
)

var testMarket = uuid.MustParse("bb8a0b07-9864-40eb-aa8d-0f87c2ac7464")

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func bucketTrades(start time.Time) []models.Trade {
	return []models.Trade{
		{MarketID: testMarket, TradeID: "1", Time: start.Add(10 * time.Second), Price: dec("10"), Size: dec("1"), Side: models.SideBuy},
		{MarketID: testMarket, TradeID: "2", Time: start.Add(100 * time.Second), Price: dec("12"), Size: dec("2"), Side: models.SideSell},
		{MarketID: testMarket, TradeID: "3", Time: start.Add(500 * time.Second), Price: dec("11"), Size: dec("0.5"), Side: models.SideSell, Liquidation: true},
	}
}

func TestAggregate(t *testing.T) {
	start := time.Unix(1700000000, 0).UTC()
	c, err := Aggregate(bucketTrades(start), start, timeframe.T15)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	checks := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"open", c.Open, "10"},
		{"high", c.High, "12"},
		{"low", c.Low, "10"},
		{"close", c.Close, "11"},
		{"volume", c.Volume, "3.5"},
		{"volume_net", c.VolumeNet, "-1.5"},
		{"volume_liquidation", c.VolumeLiquidation, "0.5"},
		{"value", c.Value, "39.5"},
	}
	for _, ck := range checks {
		if !ck.got.Equal(dec(ck.want)) {
			t.Errorf("%s = %s, want %s", ck.name, ck.got, ck.want)
		}
	}
	if c.TradeCount != 3 {
		t.Errorf("trade_count = %d, want 3", c.TradeCount)
	}
	if c.LiquidationCount != 1 {
		t.Errorf("liquidation_count = %d, want 1", c.LiquidationCount)
	}
	if c.FirstTradeID != "1" || c.LastTradeID != "3" {
		t.Errorf("trade id chain = %s..%s, want 1..3", c.FirstTradeID, c.LastTradeID)
	}
	if c.IsValidated {
		t.Error("new candle must not be validated")
	}
	if c.IsForwardFill() {
		t.Error("aggregated candle reported as forward-fill")
	}
}

func TestAggregateInvariants(t *testing.T) {
	start := time.Unix(1700000000, 0).UTC()
	c, err := Aggregate(bucketTrades(start), start, timeframe.T15)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if c.Low.GreaterThan(c.Open) || c.Low.GreaterThan(c.Close) {
		t.Error("low must not exceed open or close")
	}
	if c.High.LessThan(c.Open) || c.High.LessThan(c.Close) {
		t.Error("high must not be below open or close")
	}
	if c.TradeCount < c.LiquidationCount {
		t.Error("trade_count must cover liquidation_count")
	}
	if c.FirstTradeTs.After(c.LastTradeTs) {
		t.Error("first trade after last trade")
	}
	if !timeframe.T15.Contains(start, c.FirstTradeTs) || !timeframe.T15.Contains(start, c.LastTradeTs) {
		t.Error("trade timestamps outside bucket")
	}
}

func TestAggregateDeterministic(t *testing.T) {
	start := time.Unix(1700000000, 0).UTC()
	a, _ := Aggregate(bucketTrades(start), start, timeframe.T15)
	b, _ := Aggregate(bucketTrades(start), start, timeframe.T15)
	if !a.Volume.Equal(b.Volume) || !a.Open.Equal(b.Open) || a.TradeCount != b.TradeCount || !a.Value.Equal(b.Value) {
		t.Error("same sorted trades produced different candles")
	}
}

func TestAggregateRejectsStraddlingTrade(t *testing.T) {
	start := time.Unix(1700000000, 0).UTC()
	trades := []models.Trade{
		{MarketID: testMarket, TradeID: "1", Time: start.Add(901 * time.Second), Price: dec("10"), Size: dec("1"), Side: models.SideBuy},
	}
	if _, err := Aggregate(trades, start, timeframe.T15); err == nil {
		t.Error("expected error for trade outside bucket")
	}
}

func TestAggregateEmpty(t *testing.T) {
	start := time.Unix(1700000000, 0).UTC()
	if _, err := Aggregate(nil, start, timeframe.T15); err == nil {
		t.Error("expected error for empty trade set")
	}
}

func TestForwardFill(t *testing.T) {
	start := time.Unix(1700000000, 0).UTC()
	c := ForwardFill(testMarket, start, dec("100.25"))

	for _, p := range []decimal.Decimal{c.Open, c.High, c.Low, c.Close} {
		if !p.Equal(dec("100.25")) {
			t.Errorf("OHLC = %s, want 100.25", p)
		}
	}
	if !c.Volume.IsZero() || !c.VolumeNet.IsZero() || !c.Value.IsZero() {
		t.Error("forward-fill must carry zero volume and value")
	}
	if c.TradeCount != 0 {
		t.Errorf("trade_count = %d, want 0", c.TradeCount)
	}
	if c.FirstTradeID != models.ForwardFillID || c.LastTradeID != models.ForwardFillID {
		t.Errorf("trade ids = %s/%s, want ff/ff", c.FirstTradeID, c.LastTradeID)
	}
	if !c.FirstTradeTs.Equal(start) || !c.LastTradeTs.Equal(start) {
		t.Error("forward-fill trade timestamps must equal bucket start")
	}
	if c.IsValidated {
		t.Error("forward-fill must not be validated")
	}
	if !c.IsForwardFill() {
		t.Error("forward-fill not detected by IsForwardFill")
	}
}

func TestResampleDay(t *testing.T) {
	day := time.Date(2022, 5, 1, 0, 0, 0, 0, time.UTC)

	// Two 15-minute candles plus a forward-fill between them.
	base := []models.Candle{
		{MarketID: testMarket, Datetime: day, Open: dec("10"), High: dec("15"), Low: dec("9"), Close: dec("14"),
			Volume: dec("5"), VolumeNet: dec("1"), Value: dec("60"), TradeCount: 4,
			FirstTradeTs: day.Add(time.Second), FirstTradeID: "100", LastTradeTs: day.Add(800 * time.Second), LastTradeID: "103"},
		{MarketID: testMarket, Datetime: day.Add(15 * time.Minute), Open: dec("14"), High: dec("14"), Low: dec("14"), Close: dec("14"),
			FirstTradeTs: day.Add(15 * time.Minute), FirstTradeID: models.ForwardFillID,
			LastTradeTs: day.Add(15 * time.Minute), LastTradeID: models.ForwardFillID},
		{MarketID: testMarket, Datetime: day.Add(30 * time.Minute), Open: dec("14"), High: dec("16"), Low: dec("13"), Close: dec("13"),
			Volume: dec("2"), VolumeNet: dec("-2"), Value: dec("28"), TradeCount: 2, LiquidationCount: 1, VolumeLiquidation: dec("1"),
			FirstTradeTs: day.Add(31 * time.Minute), FirstTradeID: "104", LastTradeTs: day.Add(40 * time.Minute), LastTradeID: "105"},
	}

	out := Resample(base, timeframe.D01)
	if len(out) != 1 {
		t.Fatalf("expected 1 daily candle, got %d", len(out))
	}
	d := out[0]
	if !d.Datetime.Equal(day) {
		t.Errorf("datetime = %v, want %v", d.Datetime, day)
	}
	if !d.Open.Equal(dec("10")) || !d.Close.Equal(dec("13")) {
		t.Errorf("open/close = %s/%s, want 10/13", d.Open, d.Close)
	}
	if !d.High.Equal(dec("16")) || !d.Low.Equal(dec("9")) {
		t.Errorf("high/low = %s/%s, want 16/9", d.High, d.Low)
	}
	if !d.Volume.Equal(dec("7")) || d.TradeCount != 6 {
		t.Errorf("volume/trade_count = %s/%d, want 7/6", d.Volume, d.TradeCount)
	}
	if d.FirstTradeID != "100" || d.LastTradeID != "105" {
		t.Errorf("trade id chain = %s..%s, want 100..105", d.FirstTradeID, d.LastTradeID)
	}
}

func TestResampleEmpty(t *testing.T) {
	if out := Resample(nil, timeframe.D01); out != nil {
		t.Errorf("expected nil, got %v", out)
	}
}
