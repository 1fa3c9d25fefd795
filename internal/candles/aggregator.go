// Package candles turns ordered trade sequences into OHLCV candles.
//
// Aggregation is pure and CPU-bound: no I/O, no clock reads. Callers are
// responsible for sorting and deduplicating trades and for aligning bucket
// starts; the scheduler and validator both feed this package from the
// processed trade set.
package candles

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"almejal/eldorado/internal/models"
	"almejal/eldorado/internal/timeframe"
)

// Aggregate folds trades into the candle for the bucket starting at
// bucketStart. Trades must be non-empty, sorted ascending by (time, trade id)
// and all fall within [bucketStart, bucketStart+tf). The candle is returned
// unvalidated.
func Aggregate(trades []models.Trade, bucketStart time.Time, tf timeframe.TimeFrame) (models.Candle, error) {
	if len(trades) == 0 {
		return models.Candle{}, fmt.Errorf("aggregate: empty trade set for bucket %v", bucketStart)
	}
	for i := range trades {
		if !tf.Contains(bucketStart, trades[i].Time) {
			return models.Candle{}, fmt.Errorf("aggregate: trade %s at %v outside bucket [%v, %v)",
				trades[i].TradeID, trades[i].Time, bucketStart, bucketStart.Add(tf.Duration()))
		}
	}

	first := trades[0]
	c := models.Candle{
		MarketID:     first.MarketID,
		Datetime:     bucketStart,
		Open:         first.Price,
		High:         first.Price,
		Low:          first.Price,
		FirstTradeTs: first.Time,
		FirstTradeID: first.TradeID,
	}
	for i := range trades {
		t := &trades[i]
		if t.Price.GreaterThan(c.High) {
			c.High = t.Price
		}
		if t.Price.LessThan(c.Low) {
			c.Low = t.Price
		}
		c.Close = t.Price
		c.Volume = c.Volume.Add(t.Size)
		if t.Side == models.SideSell {
			c.VolumeNet = c.VolumeNet.Sub(t.Size)
		} else {
			c.VolumeNet = c.VolumeNet.Add(t.Size)
		}
		if t.Liquidation {
			c.VolumeLiquidation = c.VolumeLiquidation.Add(t.Size)
			c.LiquidationCount++
		}
		c.Value = c.Value.Add(t.Value())
		c.TradeCount++
		c.LastTradeTs = t.Time
		c.LastTradeID = t.TradeID
	}
	return c, nil
}

// ForwardFill synthesizes the candle for a bucket with no trades, carrying
// prevClose through it. Trade ids are the "ff" sentinel and both trade
// timestamps sit on the bucket start. The result always requires a
// validation pass.
func ForwardFill(marketID uuid.UUID, bucketStart time.Time, prevClose decimal.Decimal) models.Candle {
	return models.Candle{
		MarketID:     marketID,
		Datetime:     bucketStart,
		Open:         prevClose,
		High:         prevClose,
		Low:          prevClose,
		Close:        prevClose,
		FirstTradeTs: bucketStart,
		FirstTradeID: models.ForwardFillID,
		LastTradeTs:  bucketStart,
		LastTradeID:  models.ForwardFillID,
	}
}

// Resample folds base-timeframe candles into candles of the larger duration
// tf, one output candle per bucket of tf covered by the input. Candles must
// be sorted ascending by Datetime. Forward-fill members contribute no volume
// but do extend the OHLC carry, matching the live path. The outputs are
// returned unvalidated.
func Resample(in []models.Candle, tf timeframe.TimeFrame) []models.Candle {
	if len(in) == 0 {
		return nil
	}
	var out []models.Candle
	buckets := tf.Range(in[0].Datetime, in[len(in)-1].Datetime.Add(time.Second))
	for _, b := range buckets {
		var members []models.Candle
		for i := range in {
			if tf.Floor(in[i].Datetime).Equal(b) {
				members = append(members, in[i])
			}
		}
		if len(members) == 0 {
			continue
		}
		out = append(out, merge(b, members))
	}
	return out
}

func merge(bucketStart time.Time, members []models.Candle) models.Candle {
	first := members[0]
	c := models.Candle{
		MarketID:     first.MarketID,
		Datetime:     bucketStart,
		Open:         first.Open,
		High:         first.High,
		Low:          first.Low,
		FirstTradeTs: first.FirstTradeTs,
		FirstTradeID: first.FirstTradeID,
	}
	for i := range members {
		m := &members[i]
		if m.High.GreaterThan(c.High) {
			c.High = m.High
		}
		if m.Low.LessThan(c.Low) {
			c.Low = m.Low
		}
		c.Close = m.Close
		c.Volume = c.Volume.Add(m.Volume)
		c.VolumeNet = c.VolumeNet.Add(m.VolumeNet)
		c.VolumeLiquidation = c.VolumeLiquidation.Add(m.VolumeLiquidation)
		c.Value = c.Value.Add(m.Value)
		c.TradeCount += m.TradeCount
		c.LiquidationCount += m.LiquidationCount
		c.LastTradeTs = m.LastTradeTs
		c.LastTradeID = m.LastTradeID
	}
	return c
}
