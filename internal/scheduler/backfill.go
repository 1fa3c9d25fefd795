package scheduler

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"

	"almejal/eldorado/internal/exchange"
	"almejal/eldorado/internal/models"
)

// backfill walks the venue's trade archive backwards from anchor until the
// market's start horizon, persisting every page to the rest bucket and
// recording progress in market_trade_details so an interrupted walk resumes
// from its watermark instead of the top.
func (s *Scheduler) backfill(ctx context.Context, rt *marketRuntime, anchor time.Time) error {
	market := rt.market
	log := s.logger.WithField("market", market.MarketName)

	detail, err := s.store.SelectTradeDetail(ctx, market.MarketID)
	if err != nil {
		return err
	}
	horizon := time.Now().UTC().AddDate(0, 0, -s.cfg.HorizonDays)
	if detail == nil {
		detail = &models.MarketTradeDetail{MarketID: market.MarketID, MarketStartTs: &horizon}
	} else if detail.MarketStartTs != nil {
		horizon = *detail.MarketStartTs
	}

	// Resume below the oldest trade already landed.
	end := anchor
	if detail.FirstTradeTs != nil && detail.FirstTradeTs.Before(end) {
		end = *detail.FirstTradeTs
	}
	log.WithFields(logrus.Fields{
		"from": end.Format(time.RFC3339),
		"to":   horizon.Format(time.RFC3339),
	}).Info("backfill starting")

	query := exchange.TradeQuery{Start: &horizon, End: &end}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var page exchange.TradePage
		err := s.withRetry(ctx, func(ctx context.Context) error {
			var err error
			page, err = s.client.GetTrades(ctx, market.MarketName, query)
			return markRetryable(err)
		})
		if err != nil {
			return err
		}

		kept := page.Trades[:0]
		for _, t := range page.Trades {
			if t.Time.Before(horizon) {
				continue
			}
			t.MarketID = market.MarketID
			t.Source = models.BucketRest
			kept = append(kept, t)
		}
		if err := s.store.InsertTrades(ctx, models.BucketRest, market.ExchangeName, rt.token, kept); err != nil {
			return err
		}
		if len(kept) > 0 {
			if err := s.advanceTradeDetail(ctx, detail, kept); err != nil {
				return err
			}
		}

		if !page.HasMore || len(kept) < len(page.Trades) {
			break
		}
		query.AfterID = page.NextAfterID
		query.End = page.NextEnd
		if page.NextEnd != nil && !page.NextEnd.After(horizon) {
			break
		}
	}

	log.Info("backfill reached horizon, promoting")
	promoteEnd := rt.market.TimeFrame.Floor(end)
	if err := s.store.PromoteTrades(ctx, market.ExchangeName, rt.token, market.MarketID, horizon, promoteEnd); err != nil {
		return err
	}
	return s.store.UpsertTradeDetail(ctx, detail)
}

// advanceTradeDetail widens the watermarks to cover one landed page. Pages
// arrive newest first, so the first page fixes last_trade and every later
// page lowers first_trade.
func (s *Scheduler) advanceTradeDetail(ctx context.Context, detail *models.MarketTradeDetail, trades []models.Trade) error {
	oldest, newest := trades[0], trades[0]
	for _, t := range trades[1:] {
		if t.Time.Before(oldest.Time) {
			oldest = t
		}
		if t.Time.After(newest.Time) {
			newest = t
		}
	}
	if detail.FirstTradeTs == nil || oldest.Time.Before(*detail.FirstTradeTs) {
		ts, id := oldest.Time, oldest.TradeID
		detail.FirstTradeTs, detail.FirstTradeID = &ts, &id
	}
	if detail.LastTradeTs == nil || newest.Time.After(*detail.LastTradeTs) {
		ts, id := newest.Time, newest.TradeID
		detail.LastTradeTs, detail.LastTradeID = &ts, &id
	}
	return s.store.UpsertTradeDetail(ctx, detail)
}

// chaseGap REST-fetches the window between the backfill watermark and the
// first websocket trade, then re-checks contiguity. Returns true once the
// gap is closed and the market may go live.
func (s *Scheduler) chaseGap(ctx context.Context, rt *marketRuntime) (bool, error) {
	market := rt.market
	wsFirst, _ := rt.wsBounds()
	if wsFirst == nil {
		return false, nil
	}
	_, restLast, err := s.store.TradeBounds(ctx, models.BucketProcessed, market.ExchangeName, rt.token, market.MarketID)
	if err != nil {
		return false, err
	}
	if restLast == nil {
		// No archive trades at all: a brand new listing. The websocket
		// trade itself is the start of history.
		return true, nil
	}
	if GapClosed(restLast.TradeID, wsFirst.TradeID, restLast.Time, wsFirst.Time, market.TimeFrame.Duration()) {
		return true, nil
	}

	start := restLast.Time
	end := wsFirst.Time.Add(time.Second)
	s.logger.WithFields(logrus.Fields{
		"market": market.MarketName,
		"from":   start.Format(time.RFC3339),
		"to":     end.Format(time.RFC3339),
	}).Info("chasing sync gap")

	query := exchange.TradeQuery{Start: &start, End: &end, AfterID: wsFirst.TradeID}
	for {
		var page exchange.TradePage
		err := s.withRetry(ctx, func(ctx context.Context) error {
			var err error
			page, err = s.client.GetTrades(ctx, market.MarketName, query)
			return markRetryable(err)
		})
		if err != nil {
			return false, err
		}
		kept := page.Trades[:0]
		for _, t := range page.Trades {
			if t.Time.Before(start) {
				continue
			}
			t.MarketID = market.MarketID
			t.Source = models.BucketRest
			kept = append(kept, t)
		}
		if err := s.store.InsertTrades(ctx, models.BucketRest, market.ExchangeName, rt.token, kept); err != nil {
			return false, err
		}
		if !page.HasMore || len(kept) < len(page.Trades) {
			break
		}
		query.AfterID = page.NextAfterID
		query.End = page.NextEnd
	}

	if err := s.store.PromoteTrades(ctx, market.ExchangeName, rt.token, market.MarketID, start, end); err != nil {
		return false, err
	}
	_, restLast, err = s.store.TradeBounds(ctx, models.BucketProcessed, market.ExchangeName, rt.token, market.MarketID)
	if err != nil || restLast == nil {
		return false, err
	}
	return GapClosed(restLast.TradeID, wsFirst.TradeID, restLast.Time, wsFirst.Time, market.TimeFrame.Duration()), nil
}

// withRetry runs fn with capped exponential backoff. Rate-limit and
// transient failures retry; anything else fails immediately.
func (s *Scheduler) withRetry(ctx context.Context, fn func(context.Context) error) error {
	backoff := retry.WithCappedDuration(s.cfg.RetryCap,
		retry.WithMaxRetries(uint64(s.cfg.RetryAttempts), retry.NewExponential(s.cfg.RetryBase)))
	return retry.Do(ctx, backoff, fn)
}

// markRetryable wraps venue errors so the backoff policy retries the ones
// worth retrying.
func markRetryable(err error) error {
	if err == nil {
		return nil
	}
	if exchange.IsRetryable(err) {
		return retry.RetryableError(err)
	}
	return err
}
