// Package events runs the consumers of the database-backed work queue: the
// backfill worker drains backfill-type events, the manage worker drains
// candle validations and keeps the daily candles rolled up. Both poll the
// queue; delivery is at least once and every handler is idempotent.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"almejal/eldorado/internal/candles"
	"almejal/eldorado/internal/models"
	"almejal/eldorado/internal/storage"
	"almejal/eldorado/internal/timeframe"
	"almejal/eldorado/internal/validation"
)

const (
	// Queue poll cadence when idle.
	pollInterval = 5 * time.Second

	// Manage heartbeat: reconcile recent days every 15 minutes, half a
	// minute after the boundary so in-flight bucket seals settle first.
	manageInterval = 15 * time.Minute
	settleDelay    = 30 * time.Second

	// Open events older than this are assumed orphaned by a dead claimer.
	staleAfter = time.Hour
)

// Worker consumes queue work for one exchange.
type Worker struct {
	droplet      string
	exchangeName string
	store        *storage.Store
	validator    *validation.Validator
	logger       *logrus.Logger
}

func NewWorker(droplet, exchangeName string, store *storage.Store, validator *validation.Validator, logger *logrus.Logger) *Worker {
	return &Worker{
		droplet:      droplet,
		exchangeName: exchangeName,
		store:        store,
		validator:    validator,
		logger:       logger,
	}
}

// RunBackfill drains the event queue until ctx is cancelled, sleeping on an
// empty queue.
func (w *Worker) RunBackfill(ctx context.Context) error {
	w.logger.WithField("exchange", w.exchangeName).Info("backfill worker starting")
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		event, err := w.store.ClaimEvent(ctx, w.droplet, w.exchangeName)
		if err != nil {
			return err
		}
		if event != nil {
			w.handleEvent(ctx, event)
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Worker) handleEvent(ctx context.Context, event *models.Event) {
	log := w.logger.WithFields(logrus.Fields{
		"event":  event.EventID,
		"type":   event.EventType,
		"market": event.MarketID,
	})
	if err := w.processEvent(ctx, event); err != nil {
		log.WithError(err).Error("event failed")
		notes := err.Error()
		if err := w.store.CompleteEvent(ctx, event.EventID, models.EventError, &notes); err != nil {
			log.WithError(err).Error("event error resolution failed")
		}
		return
	}
	if err := w.store.CompleteEvent(ctx, event.EventID, models.EventDone, nil); err != nil {
		log.WithError(err).Error("event completion failed")
		return
	}
	log.Info("event done")
}

func (w *Worker) processEvent(ctx context.Context, event *models.Event) error {
	market, err := w.store.SelectMarket(ctx, event.MarketID)
	if err != nil {
		return err
	}
	if market == nil {
		return fmt.Errorf("market %s does not exist", event.MarketID)
	}
	if event.StartTs == nil || event.EndTs == nil {
		return fmt.Errorf("event %s has no window", event.EventID)
	}
	start, end := event.StartTs.UTC(), event.EndTs.UTC()

	switch event.EventType {
	case models.EventBackfill:
		return w.validator.RebuildWindow(ctx, market, start, end)
	case models.EventForwardFill:
		return w.forwardFill(ctx, market, start, end)
	case models.EventRevalidate:
		return w.revalidate(ctx, market, start, end)
	default:
		return fmt.Errorf("unhandled event type %q", event.EventType)
	}
}

// forwardFill writes synthetic candles over [start, end) for buckets with no
// stored candle, carrying the last close before the window.
func (w *Worker) forwardFill(ctx context.Context, market *models.Market, start, end time.Time) error {
	tf := market.TimeFrame
	existing, err := w.store.ReadCandles(ctx, tf, market.ExchangeName, market.MarketID, start, end)
	if err != nil {
		return err
	}
	have := make(map[time.Time]models.Candle, len(existing))
	for _, c := range existing {
		have[c.Datetime] = c
	}

	prev, err := w.store.ReadCandles(ctx, tf, market.ExchangeName, market.MarketID, start.Add(-24*time.Hour), start)
	if err != nil {
		return err
	}
	if len(prev) == 0 {
		return fmt.Errorf("no close before %s to carry", start.Format(time.RFC3339))
	}
	carry := prev[len(prev)-1].Close

	var fills []models.Candle
	for _, bs := range tf.Range(start, end) {
		if c, ok := have[bs]; ok {
			carry = c.Close
			continue
		}
		fills = append(fills, candles.ForwardFill(market.MarketID, bs, carry))
	}
	return w.store.UpsertCandles(ctx, tf, market.ExchangeName, fills)
}

// revalidate clears the validated flag on the window's buckets and rebuilds
// them from the venue archive.
func (w *Worker) revalidate(ctx context.Context, market *models.Market, start, end time.Time) error {
	for _, bs := range market.TimeFrame.Range(start, end) {
		if err := w.store.UnvalidateCandle(ctx, market.TimeFrame, market.ExchangeName, market.MarketID, bs); err != nil {
			return err
		}
	}
	return w.validator.RebuildWindow(ctx, market, start, end)
}

// RunManage drains candle validations and rolls daily candles on the
// 15-minute heartbeat until ctx is cancelled.
func (w *Worker) RunManage(ctx context.Context) error {
	w.logger.WithField("exchange", w.exchangeName).Info("manage worker starting")
	for {
		next := time.Now().UTC().Truncate(manageInterval).Add(manageInterval).Add(settleDelay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(next)):
		}

		if n, err := w.store.ReopenStaleEvents(ctx, time.Now().UTC().Add(-staleAfter)); err != nil {
			w.logger.WithError(err).Error("stale event sweep failed")
		} else if n > 0 {
			w.logger.WithField("count", n).Warn("recycled orphaned events")
		}

		if err := w.drainValidations(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.WithError(err).Error("validation drain failed")
		}
		if err := w.recomputeRecent(ctx); err != nil {
			w.logger.WithError(err).Error("heartbeat recompute failed")
		}
		if err := w.rollDailyCandles(ctx); err != nil {
			w.logger.WithError(err).Error("daily candle rollup failed")
		}
		if err := w.archivePass(ctx); err != nil {
			w.logger.WithError(err).Error("archive pass failed")
		}
		if n, err := w.store.PruneAlerts(ctx, time.Now().UTC().AddDate(0, 0, -retentionDays)); err != nil {
			w.logger.WithError(err).Error("alert prune failed")
		} else if n > 0 {
			w.logger.WithField("count", n).Info("pruned expired alerts")
		}
	}
}

func (w *Worker) drainValidations(ctx context.Context) error {
	for {
		val, err := w.store.ClaimValidation(ctx, w.exchangeName)
		if err != nil {
			return err
		}
		if val == nil {
			return nil
		}
		market, err := w.store.SelectMarket(ctx, val.MarketID)
		if err != nil {
			return err
		}
		if market == nil {
			notes := "market does not exist"
			if err := w.store.CompleteValidation(ctx, val, models.EventError, &notes); err != nil {
				return err
			}
			continue
		}
		_, err = w.validator.Repair(ctx, market, val)
		if errors.Is(err, validation.ErrRepairExhausted) {
			w.raiseAlert(ctx, fmt.Sprintf("validation for %s %s could not be repaired",
				market.MarketName, val.Datetime.Format("2006-01-02")))
			continue
		}
		if err != nil {
			return err
		}
	}
}

// recomputeRecent replays the last heartbeat interval's sealed buckets from
// the processed trade set for every live market. A bucket that no longer
// agrees with its stored candle is queued for revalidation.
func (w *Worker) recomputeRecent(ctx context.Context) error {
	markets, err := w.store.SelectMarketsByExchange(ctx, w.exchangeName, nil)
	if err != nil {
		return err
	}
	for i := range markets {
		market := &markets[i]
		if market.DataStatus != models.DataLive {
			continue
		}
		tf := market.TimeFrame
		if tf.Seconds() == 0 {
			continue
		}
		end := tf.Floor(time.Now().UTC())
		for _, bs := range tf.Range(end.Add(-manageInterval), end) {
			if err := w.validator.Heartbeat(ctx, market, bs); err != nil {
				w.logger.WithError(err).WithField("market", market.MarketName).
					Error("bucket recompute failed")
			}
		}
	}
	return nil
}

// rollDailyCandles resamples each market's recent validated base candles
// into the global daily table. A day is complete once all of its base
// candles exist and validated once all of them are validated.
func (w *Worker) rollDailyCandles(ctx context.Context) error {
	markets, err := w.store.SelectMarketsByExchange(ctx, w.exchangeName, nil)
	if err != nil {
		return err
	}
	today := timeframe.D01.Floor(time.Now().UTC())
	start := today.AddDate(0, 0, -2)

	for i := range markets {
		market := &markets[i]
		if market.DataStatus != models.DataLive && market.DataStatus != models.DataValidating {
			continue
		}
		secs := market.TimeFrame.Seconds()
		if secs == 0 {
			continue
		}
		base, err := w.store.ReadCandles(ctx, market.TimeFrame, market.ExchangeName, market.MarketID, start, today)
		if err != nil {
			return err
		}
		if len(base) == 0 {
			continue
		}
		expected := int(86400 / secs)
		for _, daily := range candles.Resample(base, timeframe.D01) {
			members := membersOfDay(base, daily.Datetime)
			dc := models.DailyCandle{
				MarketID:    market.MarketID,
				Datetime:    daily.Datetime,
				Open:        daily.Open,
				High:        daily.High,
				Low:         daily.Low,
				Close:       daily.Close,
				Volume:      daily.Volume,
				TradeCount:  daily.TradeCount,
				IsComplete:  len(members) == expected,
				IsValidated: len(members) == expected && allValidated(members),
			}
			if err := w.store.UpsertDailyCandle(ctx, dc); err != nil {
				return err
			}
		}
	}
	return nil
}

func membersOfDay(base []models.Candle, day time.Time) []models.Candle {
	var out []models.Candle
	end := day.Add(24 * time.Hour)
	for _, c := range base {
		if !c.Datetime.Before(day) && c.Datetime.Before(end) {
			out = append(out, c)
		}
	}
	return out
}

func allValidated(members []models.Candle) bool {
	for _, c := range members {
		if !c.IsValidated {
			return false
		}
	}
	return true
}

func (w *Worker) raiseAlert(ctx context.Context, message string) {
	exchangeName := w.exchangeName
	err := w.store.InsertAlert(ctx, &models.Alert{
		InstanceType: models.InstanceIg,
		Droplet:      w.droplet,
		ExchangeName: &exchangeName,
		Message:      message,
	})
	if err != nil {
		w.logger.WithError(err).Error("alert insert failed")
	}
}
