package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"almejal/eldorado/internal/candles"
	"almejal/eldorado/internal/models"
)

// marketRuntime is the in-process state for one leased market: the websocket
// buffer, the candle cursor and the current data status. All cross-instance
// state lives in the database; losing this struct loses nothing that a
// restart cannot rebuild.
type marketRuntime struct {
	market *models.Market
	token  string

	mu        sync.Mutex
	buffer    []models.Trade
	firstWs   *models.Trade
	lastWs    *models.Trade
	prevClose decimal.Decimal
	hasClose  bool

	// tickMu serializes tick work per market; nextSeal is the oldest
	// unsealed bucket and is touched only under tickMu.
	tickMu   sync.Mutex
	nextSeal time.Time
}

func newMarketRuntime(market *models.Market) *marketRuntime {
	return &marketRuntime{market: market, token: market.StripName()}
}

// bufferTrade queues one websocket trade for the next flush and tracks the
// first/last websocket trade for gap closure.
func (m *marketRuntime) bufferTrade(t models.Trade) {
	t.MarketID = m.market.MarketID
	t.Source = models.BucketWs

	m.mu.Lock()
	defer m.mu.Unlock()
	m.buffer = append(m.buffer, t)
	if m.firstWs == nil {
		first := t
		m.firstWs = &first
	}
	last := t
	m.lastWs = &last
}

// takeBuffer drains the pending websocket trades.
func (m *marketRuntime) takeBuffer() []models.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.buffer
	m.buffer = nil
	return out
}

// wsBounds returns the first and last websocket trades seen this session.
func (m *marketRuntime) wsBounds() (first, last *models.Trade) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.firstWs, m.lastWs
}

// lastSeen returns the newest trade timestamp observed on the websocket.
func (m *marketRuntime) lastSeen() *time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastWs == nil {
		return nil
	}
	ts := m.lastWs.Time
	return &ts
}

// setPrevClose seeds the forward-fill carry from the stored candle tail.
func (m *marketRuntime) setPrevClose(c decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prevClose = c
	m.hasClose = true
}

func (m *marketRuntime) previousClose() (decimal.Decimal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prevClose, m.hasClose
}

// flushBuffer persists the buffered websocket trades to the ws bucket.
func (s *Scheduler) flushBuffer(ctx context.Context, rt *marketRuntime) error {
	trades := rt.takeBuffer()
	if len(trades) == 0 {
		return nil
	}
	return s.store.InsertTrades(ctx, models.BucketWs, rt.market.ExchangeName, rt.token, trades)
}

// closeBucket seals the bucket [bucketStart, bucketStart+tf): flush the ws
// buffer, promote rest and ws rows into processed, aggregate, upsert the
// candle and advance the candle watermark. Empty buckets forward-fill from
// the previous close. The whole routine is idempotent, so re-running after
// a crash or for a heartbeat repair converges to the same rows.
func (s *Scheduler) closeBucket(ctx context.Context, rt *marketRuntime, bucketStart time.Time) error {
	market := rt.market
	tf := market.TimeFrame
	bucketEnd := bucketStart.Add(tf.Duration())
	log := s.logger.WithFields(logrus.Fields{
		"market": market.MarketName,
		"bucket": bucketStart.Format(time.RFC3339),
	})

	if err := s.flushBuffer(ctx, rt); err != nil {
		return err
	}
	if err := s.store.PromoteTrades(ctx, market.ExchangeName, rt.token, market.MarketID, bucketStart, bucketEnd); err != nil {
		return err
	}
	trades, err := s.store.ReadTrades(ctx, models.BucketProcessed, market.ExchangeName, rt.token, market.MarketID, bucketStart, bucketEnd)
	if err != nil {
		return err
	}
	trades = models.SortDedup(trades)

	var candle models.Candle
	if len(trades) == 0 {
		prev, ok := rt.previousClose()
		if !ok {
			stored, err := s.store.LastCandle(ctx, tf, market.ExchangeName, market.MarketID)
			if err != nil {
				return err
			}
			if stored == nil {
				// Nothing before the market's first trade to carry.
				log.Debug("empty bucket before first candle, skipping")
				return nil
			}
			prev = stored.Close
		}
		candle = candles.ForwardFill(market.MarketID, bucketStart, prev)
		log.WithField("close", prev).Debug("forward-filled empty bucket")
	} else {
		candle, err = candles.Aggregate(trades, bucketStart, tf)
		if err != nil {
			return fmt.Errorf("aggregate %s: %w", market.MarketName, err)
		}
	}

	if err := s.store.UpsertCandles(ctx, tf, market.ExchangeName, []models.Candle{candle}); err != nil {
		return err
	}
	rt.setPrevClose(candle.Close)

	detail, err := s.store.SelectCandleDetail(ctx, market.MarketID)
	if err != nil {
		return err
	}
	if detail == nil {
		detail = &models.MarketCandleDetail{MarketID: market.MarketID, TimeFrame: tf}
	}
	if detail.FirstCandle == nil || bucketStart.Before(*detail.FirstCandle) {
		first := bucketStart
		detail.FirstCandle = &first
	}
	if detail.LastCandle == nil || bucketStart.After(*detail.LastCandle) {
		last := bucketStart
		detail.LastCandle = &last
	}
	return s.store.UpsertCandleDetail(ctx, detail)
}

// bucketClosed reports whether [bucketStart, bucketStart+tf) can be sealed:
// a later trade proves every trade of the bucket has been published.
func bucketClosed(bucketStart time.Time, rt *marketRuntime) bool {
	threshold := bucketStart.Add(rt.market.TimeFrame.Duration())
	last := rt.lastSeen()
	return last != nil && !last.Before(threshold)
}

// sealableByClock reports whether a bucket has aged a full timeframe past
// its end with no proving trade. tickBucket is the bucket the current tick
// closes, so anything strictly older has had a whole extra period for late
// trades and seals regardless of websocket silence.
func sealableByClock(bucketStart, tickBucket time.Time) bool {
	return bucketStart.Before(tickBucket)
}

// transition persists a data status change after checking the state machine.
func (s *Scheduler) transition(ctx context.Context, rt *marketRuntime, to models.DataStatus) error {
	from := rt.market.DataStatus
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("market %s: illegal transition %s -> %s", rt.market.MarketName, from, to)
	}
	if err := s.store.UpdateMarketDataStatus(ctx, rt.market.MarketID, to); err != nil {
		return err
	}
	rt.market.DataStatus = to
	s.logger.WithFields(logrus.Fields{
		"market": rt.market.MarketName,
		"from":   from,
		"to":     to,
	}).Info("market status transition")
	return nil
}

// ensureTables creates the per-market trade tables and the per-exchange
// candle table a market needs before any data flows.
func (s *Scheduler) ensureTables(ctx context.Context, rt *marketRuntime) error {
	for _, bucket := range []models.TradeBucket{models.BucketRest, models.BucketWs, models.BucketProcessed, models.BucketValidated} {
		if err := s.store.CreateTradeTable(ctx, bucket, rt.market.ExchangeName, rt.token); err != nil {
			return err
		}
	}
	if err := s.store.CreateCandleTable(ctx, rt.market.TimeFrame, rt.market.ExchangeName); err != nil {
		return err
	}
	return s.store.CreateDailyCandleTable(ctx)
}
