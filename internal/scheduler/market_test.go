package scheduler

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"almejal/eldorado/internal/models"
	"almejal/eldorado/internal/timeframe"
)

func testMarket() *models.Market {
	return &models.Market{
		MarketID:     uuid.New(),
		ExchangeName: "ftx",
		MarketName:   "BTC-PERP",
		TimeFrame:    timeframe.T15,
		DataStatus:   models.DataLive,
	}
}

func TestBufferTradeTracksBounds(t *testing.T) {
	rt := newMarketRuntime(testMarket())
	base := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, offset := range []time.Duration{0, time.Second, 2 * time.Second} {
		rt.bufferTrade(models.Trade{
			TradeID: string(rune('a' + i)),
			Price:   decimal.NewFromInt(100),
			Size:    decimal.NewFromInt(1),
			Side:    models.SideBuy,
			Time:    base.Add(offset),
		})
	}

	first, last := rt.wsBounds()
	if first == nil || first.TradeID != "a" {
		t.Fatalf("first ws trade = %+v, want id a", first)
	}
	if last == nil || last.TradeID != "c" {
		t.Fatalf("last ws trade = %+v, want id c", last)
	}

	buffered := rt.takeBuffer()
	if len(buffered) != 3 {
		t.Fatalf("buffer drained %d trades, want 3", len(buffered))
	}
	if buffered[0].MarketID != rt.market.MarketID || buffered[0].Source != models.BucketWs {
		t.Error("buffered trades must be stamped with market id and ws source")
	}
	if got := rt.takeBuffer(); len(got) != 0 {
		t.Error("second drain should be empty")
	}

	// Bounds survive the drain.
	if first, _ := rt.wsBounds(); first == nil {
		t.Error("ws bounds must survive a buffer drain")
	}
}

func TestBucketClosed(t *testing.T) {
	rt := newMarketRuntime(testMarket())
	bucketStart := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)

	if bucketClosed(bucketStart, rt) {
		t.Error("no trades seen, bucket cannot be provably closed")
	}

	rt.bufferTrade(models.Trade{TradeID: "1", Time: bucketStart.Add(14 * time.Minute)})
	if bucketClosed(bucketStart, rt) {
		t.Error("a trade inside the bucket does not prove it closed")
	}

	rt.bufferTrade(models.Trade{TradeID: "2", Time: bucketStart.Add(15 * time.Minute)})
	if !bucketClosed(bucketStart, rt) {
		t.Error("a trade at bucket end proves the bucket closed")
	}
}

func TestLastBucketOfDay(t *testing.T) {
	period := 15 * time.Minute
	lastStart := time.Date(2021, 6, 1, 23, 45, 0, 0, time.UTC)
	if !lastBucketOfDay(lastStart, period) {
		t.Error("23:45 bucket should close out the day")
	}
	if lastBucketOfDay(lastStart.Add(-period), period) {
		t.Error("23:30 bucket should not close out the day")
	}
	if lastBucketOfDay(time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC), period) {
		t.Error("midnight bucket belongs to the new day")
	}
}

func TestSealableByClock(t *testing.T) {
	tick := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	period := 15 * time.Minute

	if sealableByClock(tick, tick) {
		t.Error("the tick's own bucket still needs a proving trade")
	}
	if !sealableByClock(tick.Add(-period), tick) {
		t.Error("a bucket one period behind the tick seals on wall clock")
	}
	if !sealableByClock(tick.Add(-6*time.Hour), tick) {
		t.Error("a long-silent market must still seal its backlog")
	}
	if sealableByClock(tick.Add(period), tick) {
		t.Error("a future bucket can never seal")
	}
}

func TestHeartbeatPeriodInsideLease(t *testing.T) {
	for _, tf := range []timeframe.TimeFrame{timeframe.S15, timeframe.T15, timeframe.H01} {
		expiry := time.Duration(DefaultConfig("d").LeaseMultiple) * tf.Duration()
		period := heartbeatPeriod(tf)
		if period <= 0 {
			t.Fatalf("%s: period %v must be positive", tf, period)
		}
		// Two consecutive missed beats must not look like an expired lease.
		if 3*period > expiry {
			t.Errorf("%s: beating every %v cannot keep a %v lease alive", tf, period, expiry)
		}
	}
}

func TestSortedRuntimesOrder(t *testing.T) {
	s := &Scheduler{runtimes: make(map[string]*marketRuntime)}
	for _, name := range []string{"SOL-PERP", "BTC-PERP", "ETH-PERP", "ADA-PERP"} {
		m := testMarket()
		m.MarketName = name
		s.runtimes[name] = newMarketRuntime(m)
	}
	var got []string
	for _, rt := range s.sortedRuntimes() {
		got = append(got, rt.market.MarketName)
	}
	want := []string{"ADA-PERP", "BTC-PERP", "ETH-PERP", "SOL-PERP"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}
