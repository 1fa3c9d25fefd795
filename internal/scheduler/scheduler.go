// Package scheduler owns the per-market ingest state machine and the
// wall-clock loop that drives it. One Scheduler serves one exchange on one
// instance; ownership of markets is arbitrated through the instances table.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"almejal/eldorado/internal/exchange"
	"almejal/eldorado/internal/models"
	"almejal/eldorado/internal/storage"
	"almejal/eldorado/internal/timeframe"
	"almejal/eldorado/internal/validation"
)

// Config tunes one scheduler instance.
type Config struct {
	// Droplet names this instance in the instances table.
	Droplet string

	// Mita filters the exchange's markets to the ones tagged for this
	// instance; nil takes every market of the exchange.
	Mita *string

	// HorizonDays is how far back live-mode backfills reach.
	HorizonDays int

	// Workers bounds the per-tick worker pool.
	Workers int

	// LeaseMultiple expresses lease expiry in base-timeframe multiples.
	LeaseMultiple int

	// ShutdownGrace bounds the final buffer flush on termination.
	ShutdownGrace time.Duration

	RetryBase     time.Duration
	RetryCap      time.Duration
	RetryAttempts int
}

// DefaultConfig returns the production defaults.
func DefaultConfig(droplet string) Config {
	return Config{
		Droplet:       droplet,
		HorizonDays:   90,
		Workers:       4,
		LeaseMultiple: 2,
		ShutdownGrace: 30 * time.Second,
		RetryBase:     time.Second,
		RetryCap:      60 * time.Second,
		RetryAttempts: 8,
	}
}

// Scheduler runs the ingest pipeline for one exchange's markets.
type Scheduler struct {
	cfg       Config
	store     *storage.Store
	client    exchange.Client
	validator *validation.Validator
	logger    *logrus.Logger

	mu       sync.Mutex
	runtimes map[string]*marketRuntime // keyed by venue symbol
}

func New(cfg Config, store *storage.Store, client exchange.Client, validator *validation.Validator, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		store:     store,
		client:    client,
		validator: validator,
		logger:    logger,
		runtimes:  make(map[string]*marketRuntime),
	}
}

// Run drives the exchange's markets until ctx is cancelled: acquire the
// lease, bring every market to Live, then seal buckets on each timeframe
// boundary and validate each completed UTC day. Returns nil on a clean
// shutdown.
func (s *Scheduler) Run(ctx context.Context) error {
	markets, err := s.loadMarkets(ctx)
	if err != nil {
		return err
	}
	if len(markets) == 0 {
		return fmt.Errorf("no tradable markets for %s", s.client.Name())
	}
	tf := markets[0].TimeFrame

	if err := s.acquireLease(ctx, tf, len(markets)); err != nil {
		return err
	}
	defer s.releaseLease()

	symbols := make([]string, 0, len(markets))
	for i := range markets {
		rt := newMarketRuntime(&markets[i])
		if err := s.ensureTables(ctx, rt); err != nil {
			return err
		}
		if last, err := s.store.LastCandle(ctx, rt.market.TimeFrame, rt.market.ExchangeName, rt.market.MarketID); err != nil {
			return err
		} else if last != nil {
			rt.setPrevClose(last.Close)
			rt.nextSeal = last.Datetime.Add(rt.market.TimeFrame.Duration())
		}
		s.runtimes[rt.market.MarketName] = rt
		symbols = append(symbols, rt.market.MarketName)
	}

	stream, err := s.client.SubscribeTrades(ctx, symbols)
	if err != nil {
		return err
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pump(ctx, stream)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.heartbeatLoop(ctx, tf)
	}()

	if err := s.advanceToLive(ctx); err != nil {
		if ctx.Err() != nil {
			wg.Wait()
			return s.shutdown()
		}
		return err
	}

	if err := s.loop(ctx, tf); err != nil && ctx.Err() == nil {
		return err
	}
	wg.Wait()
	return s.shutdown()
}

func (s *Scheduler) loadMarkets(ctx context.Context) ([]models.Market, error) {
	all, err := s.store.SelectMarketsByExchange(ctx, s.client.Name(), s.cfg.Mita)
	if err != nil {
		return nil, err
	}
	markets := all[:0]
	for _, m := range all {
		if m.Status != models.MarketActive || !m.Tradable {
			continue
		}
		if m.DataStatus == models.DataArchived || m.DataStatus == models.DataError {
			continue
		}
		markets = append(markets, m)
	}
	return markets, nil
}

// acquireLease claims this exchange for the instance. A fresh lease held by
// another droplet blocks the start; an expired one is taken over, which is
// exactly the crash-handoff path.
func (s *Scheduler) acquireLease(ctx context.Context, tf timeframe.TimeFrame, numMarkets int) error {
	exchangeName := s.client.Name()
	instances, err := s.store.SelectInstances(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	expiry := time.Duration(s.cfg.LeaseMultiple) * tf.Duration()
	for i := range instances {
		other := &instances[i]
		if other.Droplet == s.cfg.Droplet || other.ExchangeName == nil || *other.ExchangeName != exchangeName {
			continue
		}
		if other.Status == models.InstanceTerminated {
			continue
		}
		if now.Sub(other.LastUpdateTs) <= expiry {
			return fmt.Errorf("exchange %s is leased to %s until its heartbeat expires", exchangeName, other.Droplet)
		}
		s.logger.WithFields(logrus.Fields{
			"holder":   other.Droplet,
			"lastBeat": other.LastUpdateTs.Format(time.RFC3339),
		}).Warn("taking over expired lease")
	}

	return s.store.UpsertInstance(ctx, &models.Instance{
		Type:         models.InstanceMita,
		Droplet:      s.cfg.Droplet,
		ExchangeName: &exchangeName,
		Status:       models.InstanceSync,
		NumMarkets:   numMarkets,
		LastUpdateTs: now,
	})
}

func (s *Scheduler) releaseLease() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exchangeName := s.client.Name()
	if err := s.store.UpdateInstanceStatus(ctx, s.cfg.Droplet, &exchangeName, models.InstanceTerminated); err != nil {
		s.logger.WithError(err).Error("lease release failed")
	}
}

// pump routes stream trades into the market runtimes until the stream ends.
func (s *Scheduler) pump(ctx context.Context, stream *exchange.Stream) {
	errs := stream.Err
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				s.logger.WithError(err).Error("trade stream failed")
			}
		case st, ok := <-stream.Trades:
			if !ok {
				return
			}
			s.mu.Lock()
			rt := s.runtimes[st.Symbol]
			s.mu.Unlock()
			if rt == nil {
				continue
			}
			rt.bufferTrade(st.Trade)
		}
	}
}

// advanceToLive walks every market through New -> Backfilling -> Syncing ->
// Live. Markets resuming from a later persisted status skip the earlier legs.
func (s *Scheduler) advanceToLive(ctx context.Context) error {
	for _, rt := range s.sortedRuntimes() {
		if err := s.advanceMarket(ctx, rt); err != nil {
			return err
		}
	}
	exchangeName := s.client.Name()
	return s.store.UpdateInstanceStatus(ctx, s.cfg.Droplet, &exchangeName, models.InstanceActive)
}

func (s *Scheduler) advanceMarket(ctx context.Context, rt *marketRuntime) error {
	if rt.market.DataStatus == models.DataNew {
		if err := s.transition(ctx, rt, models.DataBackfilling); err != nil {
			return err
		}
	}
	if rt.market.DataStatus == models.DataBackfilling {
		anchor := time.Now().UTC()
		if first, _ := rt.wsBounds(); first != nil {
			anchor = first.Time
		}
		if err := s.backfill(ctx, rt, anchor); err != nil {
			return s.failMarket(ctx, rt, err)
		}
		if err := s.transition(ctx, rt, models.DataSyncing); err != nil {
			return err
		}
	}
	if rt.market.DataStatus == models.DataSyncing {
		if err := s.sync(ctx, rt); err != nil {
			return s.failMarket(ctx, rt, err)
		}
	}
	if rt.market.DataStatus == models.DataValidating {
		// Crashed mid-validation; the day will re-validate at its next
		// boundary or through a queued event.
		return s.transition(ctx, rt, models.DataLive)
	}
	return nil
}

// syncPatience bounds how long sync waits for a first websocket trade. A
// market that trades rarely would otherwise hold up every market behind it.
const syncPatience = 30 * time.Second

// sync waits for the first websocket trade, then chases the REST gap until
// contiguity holds and the market can go Live. A market with no websocket
// activity goes live after syncPatience; anything published in the meantime
// is caught by the daily reconciliation and repaired over REST.
func (s *Scheduler) sync(ctx context.Context, rt *marketRuntime) error {
	deadline := time.Now().UTC().Add(syncPatience)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		closed, err := s.chaseGap(ctx, rt)
		if err != nil {
			return err
		}
		if closed {
			return s.transition(ctx, rt, models.DataLive)
		}
		if first, _ := rt.wsBounds(); first == nil && !time.Now().UTC().Before(deadline) {
			s.logger.WithField("market", rt.market.MarketName).Info("no websocket activity, going live")
			return s.transition(ctx, rt, models.DataLive)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// loop is the wall-clock heart: one ticker aligned to the base timeframe
// drives bucket sealing and the daily validation across every market through
// a bounded worker pool.
func (s *Scheduler) loop(ctx context.Context, tf timeframe.TimeFrame) error {
	period := tf.Duration()
	next := tf.Floor(time.Now().UTC()).Add(period)
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	sem := make(chan struct{}, s.cfg.Workers)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			bucketStart := next.Add(-period)
			for _, rt := range s.sortedRuntimes() {
				rt := rt
				wg.Add(1)
				sem <- struct{}{}
				go func() {
					defer wg.Done()
					defer func() { <-sem }()
					s.tickMarket(ctx, rt, bucketStart)
				}()
			}
			next = next.Add(period)
			timer.Reset(time.Until(next))
		}
	}
}

// lastBucketOfDay reports whether the bucket starting at bucketStart closes
// out its UTC day, i.e. its end lands exactly on midnight.
func lastBucketOfDay(bucketStart time.Time, period time.Duration) bool {
	end := bucketStart.Add(period)
	return end.Equal(end.Truncate(24 * time.Hour))
}

// tickMarket seals every due bucket up to bucketStart, then validates any
// UTC day a sealed bucket closed out. The newest bucket needs a proving
// later trade; older buckets seal on wall clock alone, forward-filling when
// empty, so a silent market still emits its full candle sequence.
func (s *Scheduler) tickMarket(ctx context.Context, rt *marketRuntime, bucketStart time.Time) {
	if rt.market.DataStatus != models.DataLive {
		return
	}
	if !rt.tickMu.TryLock() {
		// The previous tick is still working this market.
		return
	}
	defer rt.tickMu.Unlock()
	log := s.logger.WithField("market", rt.market.MarketName)

	if err := s.flushBuffer(ctx, rt); err != nil {
		log.WithError(err).Error("ws flush failed")
		return
	}

	period := rt.market.TimeFrame.Duration()
	if rt.nextSeal.IsZero() {
		rt.nextSeal = bucketStart
	}
	for bs := rt.nextSeal; !bs.After(bucketStart); bs = bs.Add(period) {
		if !bucketClosed(bs, rt) && !sealableByClock(bs, bucketStart) {
			return
		}
		if err := s.closeBucket(ctx, rt, bs); err != nil {
			log.WithError(err).Error("bucket close failed")
			if err := s.failMarket(ctx, rt, err); err != nil {
				log.WithError(err).Error("error transition failed")
			}
			return
		}
		rt.nextSeal = bs.Add(period)

		if lastBucketOfDay(bs, period) {
			day := bs.Truncate(24 * time.Hour)
			if err := s.validateDay(ctx, rt, day); err != nil {
				log.WithError(err).Error("daily validation failed")
			}
		}
	}
}

// validateDay runs the Live -> Validating -> Live excursion for one day.
func (s *Scheduler) validateDay(ctx context.Context, rt *marketRuntime, day time.Time) error {
	if err := s.transition(ctx, rt, models.DataValidating); err != nil {
		return err
	}
	if _, err := s.validator.ValidateDay(ctx, rt.market, day); err != nil {
		// The mismatch path is queued work, not an error; a hard error
		// still returns the market to Live to keep ingesting.
		s.logger.WithError(err).WithField("market", rt.market.MarketName).Warn("validation pass errored")
	}
	return s.transition(ctx, rt, models.DataLive)
}

// heartbeatPeriod keeps the lease clock well inside its expiry window. The
// lease expires after leaseMultiple timeframes, so beating every half
// timeframe survives a missed beat or two.
func heartbeatPeriod(tf timeframe.TimeFrame) time.Duration {
	return tf.Duration() / 2
}

// heartbeatLoop refreshes the instance row for the whole session. It starts
// before the markets advance: a multi-hour backfill must not leave the lease
// looking expired to another instance's takeover check.
func (s *Scheduler) heartbeatLoop(ctx context.Context, tf timeframe.TimeFrame) {
	ticker := time.NewTicker(heartbeatPeriod(tf))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.heartbeat(ctx)
		}
	}
}

func (s *Scheduler) heartbeat(ctx context.Context) {
	var newest *time.Time
	for _, rt := range s.sortedRuntimes() {
		if ts := rt.lastSeen(); ts != nil && (newest == nil || ts.After(*newest)) {
			newest = ts
		}
	}
	exchangeName := s.client.Name()
	if err := s.store.HeartbeatInstance(ctx, s.cfg.Droplet, &exchangeName, newest); err != nil {
		s.logger.WithError(err).Error("instance heartbeat failed")
	}
}

// failMarket records a hard failure: Error status plus an alert row.
func (s *Scheduler) failMarket(ctx context.Context, rt *marketRuntime, cause error) error {
	if err := s.transition(ctx, rt, models.DataError); err != nil {
		return err
	}
	exchangeName := s.client.Name()
	return s.store.InsertAlert(ctx, &models.Alert{
		InstanceType: models.InstanceMita,
		Droplet:      s.cfg.Droplet,
		ExchangeName: &exchangeName,
		Message:      fmt.Sprintf("market %s failed: %v", rt.market.MarketName, cause),
	})
}

// shutdown flushes every buffer under the grace deadline. Anything missed
// is re-fetched over REST on the next start.
func (s *Scheduler) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()
	var firstErr error
	for _, rt := range s.sortedRuntimes() {
		if err := s.flushBuffer(ctx, rt); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Scheduler) sortedRuntimes() []*marketRuntime {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*marketRuntime, 0, len(s.runtimes))
	for _, rt := range s.runtimes {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].market.MarketName < out[j].market.MarketName
	})
	return out
}
