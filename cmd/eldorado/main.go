// Command eldorado runs the trade ingest platform. One process works one
// exchange in one of four modes:
//
//	eldorado run       ingest and seal candles for the exchange's markets
//	eldorado backfill  drain the backfill event queue
//	eldorado manage    drain validations, roll daily candles, archive
//	eldorado refresh   sync the market registry from the exchange listing
//
// Exit codes: 0 clean shutdown, 1 bad configuration or startup failure,
// 2 fatal runtime failure.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"almejal/eldorado/configs"
	"almejal/eldorado/internal/alerts"
	"almejal/eldorado/internal/events"
	"almejal/eldorado/internal/exchange"
	"almejal/eldorado/internal/exchange/ftx"
	"almejal/eldorado/internal/exchange/gdax"
	"almejal/eldorado/internal/logger"
	"almejal/eldorado/internal/models"
	"almejal/eldorado/internal/scheduler"
	"almejal/eldorado/internal/storage"
	"almejal/eldorado/internal/validation"
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: eldorado run|backfill|manage|refresh [flags]")
		return 1
	}
	mode := os.Args[1]

	cfg := configs.AppLoad()

	flags := flag.NewFlagSet(mode, flag.ExitOnError)
	instance := flags.String("instance", cfg.Droplet, "instance name for leases and queue claims")
	exchangeName := flags.String("exchange", cfg.Exchange, "exchange to work: ftx, ftxus or gdax")
	dryRun := flags.Bool("dry-run", false, "refresh only: report changes without writing")
	if err := flags.Parse(os.Args[2:]); err != nil {
		return 1
	}
	cfg.Droplet = *instance
	cfg.Exchange = *exchangeName

	log := logger.New(cfg.Log.Level, cfg.Log.File)

	client, err := newClient(cfg.Exchange, log)
	if err != nil {
		log.WithError(err).Error("bad configuration")
		return 1
	}

	store, err := storage.New(cfg.DBDSN, log)
	if err != nil {
		log.WithError(err).Error("database unavailable")
		return 1
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	validator := validation.New(store, client, log)

	switch mode {
	case "run":
		err = runScheduler(ctx, cfg, store, client, validator, log)
	case "backfill":
		err = newWorker(cfg, store, validator, log).RunBackfill(ctx)
	case "manage":
		err = newWorker(cfg, store, validator, log).RunManage(ctx)
	case "refresh":
		err = refresh(ctx, cfg, store, client, *dryRun, log)
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", mode)
		return 1
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("exited with failure")
		return 2
	}
	log.Info("stopped")
	return 0
}

func newClient(name string, log *logrus.Logger) (exchange.Client, error) {
	switch name {
	case exchange.NameFtx:
		return ftx.New(log), nil
	case exchange.NameFtxUs:
		return ftx.NewUs(log), nil
	case exchange.NameGdax:
		return gdax.New(log), nil
	default:
		return nil, fmt.Errorf("unsupported exchange %q", name)
	}
}

func newWorker(cfg *configs.AppConfig, store *storage.Store, validator *validation.Validator, log *logrus.Logger) *events.Worker {
	return events.NewWorker(cfg.Droplet, cfg.Exchange, store, validator, log)
}

// runScheduler supervises the ingest scheduler under the restart ladder: a
// crashed run comes back after an escalating delay, and a day of healthy
// running resets the ladder.
func runScheduler(ctx context.Context, cfg *configs.AppConfig, store *storage.Store, client exchange.Client, validator *validation.Validator, log *logrus.Logger) error {
	schedCfg := scheduler.DefaultConfig(cfg.Droplet)
	if cfg.Mita != "" {
		mita := cfg.Mita
		schedCfg.Mita = &mita
	}
	if cfg.HorizonDays > 0 {
		schedCfg.HorizonDays = cfg.HorizonDays
	}
	if cfg.Workers > 0 {
		schedCfg.Workers = cfg.Workers
	}

	restartCount := 0
	var lastRestart *time.Time

	for {
		sched := scheduler.New(schedCfg, store, client, validator, log)
		err := sched.Run(ctx)
		if err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return err
		}

		restartCount = scheduler.NextRestartCount(restartCount, lastRestart, time.Now().UTC())
		now := time.Now().UTC()
		lastRestart = &now
		delay := scheduler.RestartDelay(restartCount)
		log.WithError(err).WithFields(logrus.Fields{
			"restart": restartCount,
			"delay":   delay,
		}).Error("scheduler crashed, restarting")
		recordRestart(store, cfg, restartCount, now, log)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func recordRestart(store *storage.Store, cfg *configs.AppConfig, count int, at time.Time, log *logrus.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exchangeName := cfg.Exchange
	err := store.UpsertInstance(ctx, &models.Instance{
		Type:          models.InstanceMita,
		Droplet:       cfg.Droplet,
		ExchangeName:  &exchangeName,
		Status:        models.InstanceRestart,
		Restart:       true,
		LastRestartTs: &at,
		RestartCount:  count,
		LastUpdateTs:  at,
	})
	if err != nil {
		log.WithError(err).Error("restart bookkeeping failed")
	}
	notifier := alerts.New(store, alerts.TwilioConfig{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		From:       cfg.Twilio.From,
		To:         cfg.Twilio.To,
	}, log)
	alert := &models.Alert{
		InstanceType: models.InstanceMita,
		Droplet:      cfg.Droplet,
		ExchangeName: &exchangeName,
		Message:      fmt.Sprintf("scheduler restart %d on %s/%s", count, cfg.Droplet, cfg.Exchange),
	}
	if err := notifier.Notify(ctx, alert); err != nil {
		log.WithError(err).Error("restart alert failed")
	}
}

// refresh pulls the venue's market listing and syncs the markets registry,
// creating the exchange's candle tables on the way.
func refresh(ctx context.Context, cfg *configs.AppConfig, store *storage.Store, client exchange.Client, dryRun bool, log *logrus.Logger) error {
	listing, err := client.ListMarkets(ctx)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"exchange": cfg.Exchange,
		"markets":  len(listing),
	}).Info("listing fetched")

	known, err := store.SelectMarketsByExchange(ctx, cfg.Exchange, nil)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(known))
	for _, m := range known {
		seen[m.MarketName] = true
	}

	if dryRun {
		for _, info := range listing {
			if !seen[info.Symbol] {
				log.WithField("market", info.Symbol).Info("would add market")
			}
		}
		return nil
	}

	if err := store.CreateDailyCandleTable(ctx); err != nil {
		return err
	}
	if err := store.CreateCandleTable(ctx, cfg.TimeFrame, cfg.Exchange); err != nil {
		return err
	}

	now := time.Now().UTC()
	err = store.UpsertExchange(ctx, &models.Exchange{
		ExchangeID:      uuid.New(),
		Name:            cfg.Exchange,
		Rank:            1,
		IsSpot:          true,
		Status:          "active",
		AddedDate:       now,
		LastRefreshDate: now,
	})
	if err != nil {
		return err
	}

	for _, info := range listing {
		market := marketFromInfo(cfg, info)
		if err := store.UpsertMarket(ctx, market); err != nil {
			return err
		}
		if !seen[info.Symbol] {
			log.WithField("market", info.Symbol).Info("market added")
		}
	}
	return nil
}

func marketFromInfo(cfg *configs.AppConfig, info exchange.MarketInfo) *models.Market {
	// gorm serializes the id as given, so the column default never fires;
	// a zero uuid here would collide on markets_pkey from the second insert on.
	market := &models.Market{
		MarketID:       uuid.New(),
		ExchangeName:   cfg.Exchange,
		MarketName:     info.Symbol,
		MarketType:     info.MarketType,
		SizeIncrement:  &info.SizeIncrement,
		MinProvideSize: &info.MinProvideSize,
		Status:         models.MarketActive,
		DataStatus:     models.DataNew,
		TimeFrame:      cfg.TimeFrame,
		Tradable:       info.Enabled,
		LastUpdateTs:   time.Now().UTC(),
	}
	if info.BaseCurrency != "" {
		market.BaseCurrency = &info.BaseCurrency
	}
	if info.QuoteCurrency != "" {
		market.QuoteCurrency = &info.QuoteCurrency
	}
	if info.Underlying != "" {
		market.Underlying = &info.Underlying
	}
	if cfg.Mita != "" {
		mita := cfg.Mita
		market.Mita = &mita
	}
	return market
}
