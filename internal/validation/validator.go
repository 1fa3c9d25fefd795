// Package validation reconciles locally built candles against the exchange's
// own numbers. A day that reconciles flips its candles and trades to
// validated; a day that does not becomes a queued validation for the manage
// workers to repair.
package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"almejal/eldorado/internal/candles"
	"almejal/eldorado/internal/exchange"
	"almejal/eldorado/internal/models"
	"almejal/eldorado/internal/storage"
	"almejal/eldorado/internal/timeframe"
)

var (
	// ohlcTolerance absorbs exchange-side rounding on reported prices.
	ohlcTolerance = decimal.New(1, -8)

	// volumeTolerance applies only on the quote-value channel, for venues
	// whose daily volume is denominated in quote currency and rounded.
	// Base volume must match exactly.
	volumeTolerance = decimal.New(1, -4)

	// maxRepairAttempts bounds the repair loop before escalating to manual.
	maxRepairAttempts = 2
)

// ErrRepairExhausted is returned by Repair once a window has failed
// maxRepairAttempts times; the validation is resolved as error and human
// attention is needed.
var ErrRepairExhausted = errors.New("repair attempts exhausted")

// Validator runs the daily and heartbeat reconciliation for one exchange.
type Validator struct {
	store  *storage.Store
	client exchange.Client
	logger *logrus.Logger
}

func New(store *storage.Store, client exchange.Client, logger *logrus.Logger) *Validator {
	return &Validator{store: store, client: client, logger: logger}
}

// Verdict is the outcome of comparing a computed day against the exchange.
type Verdict struct {
	Match  bool
	Fields []string // the fields that disagreed
}

func (v Verdict) String() string {
	if v.Match {
		return "match"
	}
	return fmt.Sprintf("mismatch on %v", v.Fields)
}

// relWithin reports whether a and b agree within the relative tolerance tol.
func relWithin(a, b, tol decimal.Decimal) bool {
	if a.Equal(b) {
		return true
	}
	scale := a.Abs()
	if b.Abs().GreaterThan(scale) {
		scale = b.Abs()
	}
	if scale.IsZero() {
		return false
	}
	return a.Sub(b).Abs().Div(scale).LessThanOrEqual(tol)
}

// CompareDaily checks a locally computed day against the exchange-reported
// daily candle. OHLC carry the rounding tolerance; volume must be exact with
// two escapes: the trade-count-overflow tolerance, and venues whose daily
// volume is denominated in quote currency, where the computed quote value is
// the comparable number.
func CompareDaily(computed models.Candle, authority models.DailyCandle) Verdict {
	var bad []string
	for _, f := range []struct {
		name string
		a, b decimal.Decimal
	}{
		{"open", computed.Open, authority.Open},
		{"high", computed.High, authority.High},
		{"low", computed.Low, authority.Low},
		{"close", computed.Close, authority.Close},
	} {
		if !relWithin(f.a, f.b, ohlcTolerance) {
			bad = append(bad, f.name)
		}
	}
	volumeOk := computed.Volume.Equal(authority.Volume) ||
		relWithin(computed.Value, authority.Volume, volumeTolerance)
	if !volumeOk {
		bad = append(bad, "volume")
	}
	// Venues rarely report a daily trade count; compare only when they do.
	if authority.TradeCount > 0 && computed.TradeCount != authority.TradeCount {
		bad = append(bad, "trade_count")
	}
	return Verdict{Match: len(bad) == 0, Fields: bad}
}

// CompareCandles reports whether a recomputed candle agrees with the stored
// one on every aggregated field. Identity and the validated flag are not
// part of the comparison.
func CompareCandles(a, b models.Candle) bool {
	return a.Open.Equal(b.Open) && a.High.Equal(b.High) &&
		a.Low.Equal(b.Low) && a.Close.Equal(b.Close) &&
		a.Volume.Equal(b.Volume) && a.VolumeNet.Equal(b.VolumeNet) &&
		a.VolumeLiquidation.Equal(b.VolumeLiquidation) && a.Value.Equal(b.Value) &&
		a.TradeCount == b.TradeCount && a.LiquidationCount == b.LiquidationCount &&
		a.FirstTradeID == b.FirstTradeID && a.LastTradeID == b.LastTradeID
}

// ValidateDay runs daily reconciliation for market on the UTC day containing
// day. A full day of base candles is required; a short day is a mismatch by
// definition since the daily sum would be wrong anyway.
func (v *Validator) ValidateDay(ctx context.Context, market *models.Market, day time.Time) (Verdict, error) {
	dayStart := timeframe.D01.Floor(day)
	dayEnd := dayStart.Add(24 * time.Hour)
	log := v.logger.WithFields(logrus.Fields{
		"market": market.MarketName,
		"day":    dayStart.Format("2006-01-02"),
	})

	base, err := v.store.ReadCandles(ctx, market.TimeFrame, market.ExchangeName, market.MarketID, dayStart, dayEnd)
	if err != nil {
		return Verdict{}, err
	}
	expected := int(86400 / market.TimeFrame.Seconds())
	if len(base) != expected {
		verdict := Verdict{Fields: []string{fmt.Sprintf("candle_count %d/%d", len(base), expected)}}
		log.WithField("verdict", verdict.String()).Warn("daily reconciliation failed")
		return verdict, v.queueMismatch(ctx, market, dayStart)
	}

	computed := candles.Resample(base, timeframe.D01)
	if len(computed) != 1 {
		return Verdict{}, fmt.Errorf("resample of %s produced %d days", dayStart.Format("2006-01-02"), len(computed))
	}

	authority, err := v.client.GetDailyCandle(ctx, market.MarketName, dayStart)
	if err != nil {
		return Verdict{}, fmt.Errorf("daily candle for %s: %w", market.MarketName, err)
	}
	authority.MarketID = market.MarketID

	verdict := CompareDaily(computed[0], authority)
	if !verdict.Match {
		log.WithField("verdict", verdict.String()).Warn("daily reconciliation failed")
		return verdict, v.queueMismatch(ctx, market, dayStart)
	}

	if err := v.store.MarkCandlesValidated(ctx, market.TimeFrame, market.ExchangeName, market.MarketID, dayStart, dayEnd); err != nil {
		return verdict, err
	}
	if err := v.store.ValidateTrades(ctx, market.ExchangeName, market.StripName(), market.MarketID, dayStart, dayEnd); err != nil {
		return verdict, err
	}
	authority.IsValidated = true
	authority.IsComplete = true
	if err := v.store.UpsertDailyCandle(ctx, authority); err != nil {
		return verdict, err
	}
	log.Info("day validated")
	return verdict, nil
}

func (v *Validator) queueMismatch(ctx context.Context, market *models.Market, dayStart time.Time) error {
	return v.store.InsertValidation(ctx, &models.CandleValidation{
		ExchangeName: market.ExchangeName,
		MarketID:     market.MarketID,
		Datetime:     dayStart,
		Duration:     86400,
		Type:         models.ValidationAuto,
	})
}

// Heartbeat recomputes one closed bucket from the processed trade set and
// compares it to the stored candle. A discrepancy means a concurrent write
// or a dropped websocket message slipped through; it is queued as a
// revalidation rather than silently overwritten.
func (v *Validator) Heartbeat(ctx context.Context, market *models.Market, bucketStart time.Time) error {
	bucketEnd := bucketStart.Add(market.TimeFrame.Duration())
	stored, err := v.store.ReadCandles(ctx, market.TimeFrame, market.ExchangeName, market.MarketID, bucketStart, bucketEnd)
	if err != nil {
		return err
	}
	if len(stored) == 0 {
		return nil
	}

	trades, err := v.store.ReadTrades(ctx, models.BucketProcessed, market.ExchangeName, market.StripName(), market.MarketID, bucketStart, bucketEnd)
	if err != nil {
		return err
	}
	if len(trades) == 0 {
		// Forward-filled bucket, nothing to recompute against.
		if stored[0].IsForwardFill() {
			return nil
		}
	}

	var recomputed models.Candle
	if len(trades) > 0 {
		recomputed, err = candles.Aggregate(trades, bucketStart, market.TimeFrame)
		if err != nil {
			return err
		}
	}
	if len(trades) > 0 && CompareCandles(recomputed, stored[0]) {
		return nil
	}

	v.logger.WithFields(logrus.Fields{
		"market": market.MarketName,
		"bucket": bucketStart.Format(time.RFC3339),
	}).Warn("heartbeat recompute disagrees with stored candle")
	return v.store.InsertEvent(ctx, &models.Event{
		EventType:    models.EventRevalidate,
		ExchangeName: market.ExchangeName,
		MarketID:     market.MarketID,
		StartTs:      &bucketStart,
		EndTs:        &bucketEnd,
	})
}

// Repair re-pulls the mismatched window from the venue archive, rebuilds the
// candles from scratch and re-runs reconciliation. After maxRepairAttempts
// failures the validation resolves to error and the caller raises an alert.
// Each step is idempotent so an interrupted repair re-runs cleanly.
func (v *Validator) Repair(ctx context.Context, market *models.Market, val *models.CandleValidation) (bool, error) {
	tf, start, end, err := repairScope(market, val)
	if err != nil {
		return false, err
	}
	log := v.logger.WithFields(logrus.Fields{
		"market": market.MarketName,
		"window": start.Format(time.RFC3339),
	})
	log.Info("repairing mismatched window")

	// Rebuilding only overwrites buckets that still have trades; clear the
	// window first so stale candles cannot linger in buckets that lost theirs.
	if err := v.store.DeleteCandles(ctx, tf, market.ExchangeName, market.MarketID, start, end); err != nil {
		return false, err
	}
	if err := v.RebuildWindow(ctx, market, start, end); err != nil {
		return false, err
	}

	verdict, err := v.ValidateDay(ctx, market, start)
	if err != nil {
		return false, err
	}
	if verdict.Match {
		return true, v.store.CompleteValidation(ctx, val, models.EventDone, nil)
	}

	failures, err := v.store.CountValidationFailures(ctx, val.MarketID, val.Datetime, val.Duration)
	if err != nil {
		return false, err
	}
	notes := verdict.String()
	if failures+1 >= maxRepairAttempts {
		log.WithField("failures", failures+1).Error("repair exhausted, escalating")
		if err := v.store.CompleteValidation(ctx, val, models.EventError, &notes); err != nil {
			return false, err
		}
		return false, ErrRepairExhausted
	}
	// Leave a failed attempt on record and requeue for another pass.
	if err := v.store.CompleteValidation(ctx, val, models.EventError, &notes); err != nil {
		return false, err
	}
	requeue := *val
	requeue.Type = models.ValidationAuto
	return false, v.store.InsertValidation(ctx, &requeue)
}

// repairScope resolves what a repair rebuilds: the validation's duration
// spans the window, but the candles live in the market's base table, never
// in a table keyed by the validation span.
func repairScope(market *models.Market, val *models.CandleValidation) (timeframe.TimeFrame, time.Time, time.Time, error) {
	span, err := val.TimeFrame()
	if err != nil {
		return "", time.Time{}, time.Time{}, err
	}
	start := val.Datetime
	return market.TimeFrame, start, start.Add(span.Duration()), nil
}

// RebuildWindow re-pulls [start, end) from the venue archive and rebuilds
// the trade buckets and candles for the range from scratch. Also the
// workhorse behind backfill and revalidate events; idempotent throughout.
func (v *Validator) RebuildWindow(ctx context.Context, market *models.Market, start, end time.Time) error {
	token := market.StripName()
	trades, err := v.pullWindow(ctx, market.MarketName, start, end)
	if err != nil {
		return err
	}
	for i := range trades {
		trades[i].MarketID = market.MarketID
		trades[i].Source = models.BucketRest
	}

	if err := v.store.DeleteTrades(ctx, models.BucketRest, market.ExchangeName, token, market.MarketID, start, end); err != nil {
		return err
	}
	if err := v.store.InsertTrades(ctx, models.BucketRest, market.ExchangeName, token, trades); err != nil {
		return err
	}
	if err := v.store.DeleteTrades(ctx, models.BucketProcessed, market.ExchangeName, token, market.MarketID, start, end); err != nil {
		return err
	}
	if err := v.store.DeleteTrades(ctx, models.BucketValidated, market.ExchangeName, token, market.MarketID, start, end); err != nil {
		return err
	}
	if err := v.store.PromoteTrades(ctx, market.ExchangeName, token, market.MarketID, start, end); err != nil {
		return err
	}
	return v.rebuildCandles(ctx, market, start, end)
}

// pullWindow pages the venue archive until the whole [start, end) window is
// covered, tolerating either pagination style the adapters use.
func (v *Validator) pullWindow(ctx context.Context, symbol string, start, end time.Time) ([]models.Trade, error) {
	var out []models.Trade
	query := exchange.TradeQuery{Start: &start, End: &end}
	for {
		page, err := v.client.GetTrades(ctx, symbol, query)
		if err != nil {
			return nil, err
		}
		for _, t := range page.Trades {
			if !t.Time.Before(start) && t.Time.Before(end) {
				out = append(out, t)
			}
		}
		if !page.HasMore {
			break
		}
		query.AfterID = page.NextAfterID
		query.End = page.NextEnd
		if page.NextEnd != nil && !page.NextEnd.After(start) {
			break
		}
	}
	return models.SortDedup(out), nil
}

// rebuildCandles re-aggregates every bucket of [start, end) from the
// processed set, forward-filling empties from the previous close.
func (v *Validator) rebuildCandles(ctx context.Context, market *models.Market, start, end time.Time) error {
	token := market.StripName()
	trades, err := v.store.ReadTrades(ctx, models.BucketProcessed, market.ExchangeName, token, market.MarketID, start, end)
	if err != nil {
		return err
	}

	byBucket := make(map[time.Time][]models.Trade)
	for _, t := range trades {
		bs := market.TimeFrame.Floor(t.Time)
		byBucket[bs] = append(byBucket[bs], t)
	}

	prevClose, err := v.previousClose(ctx, market, start)
	if err != nil {
		return err
	}

	var rebuilt []models.Candle
	for _, bucketStart := range market.TimeFrame.Range(start, end) {
		members := byBucket[bucketStart]
		if len(members) == 0 {
			rebuilt = append(rebuilt, candles.ForwardFill(market.MarketID, bucketStart, prevClose))
			continue
		}
		c, err := candles.Aggregate(members, bucketStart, market.TimeFrame)
		if err != nil {
			return err
		}
		rebuilt = append(rebuilt, c)
		prevClose = c.Close
	}
	return v.store.UpsertCandles(ctx, market.TimeFrame, market.ExchangeName, rebuilt)
}

func (v *Validator) previousClose(ctx context.Context, market *models.Market, before time.Time) (decimal.Decimal, error) {
	prev, err := v.store.ReadCandles(ctx, market.TimeFrame, market.ExchangeName, market.MarketID,
		before.Add(-24*time.Hour), before)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(prev) == 0 {
		return decimal.Zero, nil
	}
	return prev[len(prev)-1].Close, nil
}
