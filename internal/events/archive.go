package events

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"almejal/eldorado/internal/models"
	"almejal/eldorado/internal/timeframe"
)

// Raw trades older than this are purged once their candles are validated.
const retentionDays = 90

// archivePass freezes fully validated months into the daily table and purges
// raw trades past retention. A terminated market whose history is entirely
// frozen has its trade tables dropped and moves to archived.
func (w *Worker) archivePass(ctx context.Context) error {
	markets, err := w.store.SelectMarketsByExchange(ctx, w.exchangeName, nil)
	if err != nil {
		return err
	}
	for i := range markets {
		market := &markets[i]
		if market.DataStatus == models.DataArchived || market.DataStatus == models.DataError {
			continue
		}
		log := w.logger.WithFields(logrus.Fields{
			"exchange": market.ExchangeName,
			"market":   market.MarketName,
		})
		if err := w.archiveMarket(ctx, market, log); err != nil {
			log.WithError(err).Error("archive pass failed")
		}
	}
	return nil
}

func (w *Worker) archiveMarket(ctx context.Context, market *models.Market, log *logrus.Entry) error {
	cursor, err := w.archiveCursor(ctx, market)
	if err != nil || cursor == nil {
		return err
	}
	month := *cursor

	// Freeze every fully validated month strictly behind the current one.
	currentMonth := monthFloor(time.Now().UTC())
	for month.Before(currentMonth) {
		days, err := w.store.ReadDailyCandles(ctx, market.MarketID, month, month.AddDate(0, 1, 0))
		if err != nil {
			return err
		}
		if !monthValidated(days) {
			break
		}
		for _, d := range days {
			if d.IsArchived {
				continue
			}
			if err := w.store.MarkDailyArchived(ctx, market.MarketID, d.Datetime); err != nil {
				return err
			}
		}
		month = month.AddDate(0, 1, 0)
		if err := w.store.UpsertArchiveDetail(ctx, market.MarketID, month); err != nil {
			return err
		}
		log.WithField("month", month.AddDate(0, -1, 0).Format("2006-01")).Info("month archived")
	}

	if err := w.purgeTrades(ctx, market, month); err != nil {
		return err
	}
	if market.Status == models.MarketTerminated {
		return w.retireMarket(ctx, market, month, log)
	}
	return nil
}

// archiveCursor returns the first month not yet frozen, nil when the market
// has no daily history at all.
func (w *Worker) archiveCursor(ctx context.Context, market *models.Market) (*time.Time, error) {
	detail, err := w.store.SelectArchiveDetail(ctx, market.MarketID)
	if err != nil {
		return nil, err
	}
	if detail != nil && detail.NextMonth != nil {
		m := monthFloor(*detail.NextMonth)
		return &m, nil
	}
	days, err := w.store.ReadDailyCandles(ctx, market.MarketID, time.Time{}, monthFloor(time.Now().UTC()))
	if err != nil {
		return nil, err
	}
	if len(days) == 0 {
		return nil, nil
	}
	m := monthFloor(days[0].Datetime)
	return &m, nil
}

// purgeTrades deletes validated raw trades past retention, but never past the
// archive cursor: a trade is only dropped once its month is frozen.
func (w *Worker) purgeTrades(ctx context.Context, market *models.Market, frozenBefore time.Time) error {
	horizon := timeframe.D01.Floor(time.Now().UTC()).AddDate(0, 0, -retentionDays)
	if frozenBefore.Before(horizon) {
		horizon = frozenBefore
	}
	token := market.StripName()
	first, _, err := w.store.TradeBounds(ctx, models.BucketValidated, market.ExchangeName, token, market.MarketID)
	if err != nil {
		return err
	}
	if first == nil || !first.Time.Before(horizon) {
		return nil
	}
	return w.store.DeleteTrades(ctx, models.BucketValidated, market.ExchangeName, token,
		market.MarketID, first.Time, horizon)
}

// retireMarket drops a terminated market's trade tables once its entire daily
// history is frozen, then parks it as archived.
func (w *Worker) retireMarket(ctx context.Context, market *models.Market, frozenBefore time.Time, log *logrus.Entry) error {
	remaining, err := w.store.ReadDailyCandles(ctx, market.MarketID, frozenBefore, timeframe.D01.Ceiling(time.Now().UTC()))
	if err != nil {
		return err
	}
	for _, d := range remaining {
		if !d.IsArchived {
			return nil
		}
	}
	token := market.StripName()
	for _, bucket := range []models.TradeBucket{
		models.BucketRest, models.BucketWs, models.BucketProcessed, models.BucketValidated,
	} {
		if err := w.store.DropTradeTable(ctx, bucket, market.ExchangeName, token); err != nil {
			return err
		}
	}
	log.Info("market retired")
	return w.store.UpdateMarketDataStatus(ctx, market.MarketID, models.DataArchived)
}

func monthFloor(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// monthValidated reports whether a month's daily history is complete and
// validated end to end. An empty month is not.
func monthValidated(days []models.DailyCandle) bool {
	if len(days) == 0 {
		return false
	}
	for _, d := range days {
		if !d.IsComplete || !d.IsValidated {
			return false
		}
	}
	return true
}
