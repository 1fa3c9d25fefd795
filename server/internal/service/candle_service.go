package service

import (
	"context"
	"fmt"
	"time"

	"almejal/eldorado/internal/models"
	"almejal/eldorado/server/internal/repository"
)

// maxWindow caps one candle query; wider requests are rejected.
const maxWindow = 90 * 24 * time.Hour

type CandleService struct {
	repo repository.CandleRepository
}

func NewCandleService(repo repository.CandleRepository) *CandleService {
	return &CandleService{
		repo: repo,
	}
}

func (cs *CandleService) GetMarkets(ctx context.Context, exchange string) ([]models.Market, error) {
	return cs.repo.GetMarkets(ctx, exchange)
}

func (cs *CandleService) GetExchanges(ctx context.Context) ([]models.Exchange, error) {
	return cs.repo.GetExchanges(ctx)
}

func (cs *CandleService) GetCandles(ctx context.Context, exchange, name string, start, end time.Time) ([]models.Candle, error) {
	market, err := cs.lookupMarket(ctx, exchange, name)
	if err != nil {
		return nil, err
	}
	if end.Sub(start) > maxWindow {
		return nil, fmt.Errorf("window wider than %v", maxWindow)
	}
	return cs.repo.GetCandles(ctx, market, start, end)
}

func (cs *CandleService) GetLatestCandle(ctx context.Context, exchange, name string) (*models.Candle, error) {
	market, err := cs.lookupMarket(ctx, exchange, name)
	if err != nil {
		return nil, err
	}
	return cs.repo.GetLatestCandle(ctx, market)
}

func (cs *CandleService) GetDailyCandles(ctx context.Context, exchange, name string, start, end time.Time) ([]models.DailyCandle, error) {
	market, err := cs.lookupMarket(ctx, exchange, name)
	if err != nil {
		return nil, err
	}
	return cs.repo.GetDailyCandles(ctx, market.MarketID, start, end)
}

func (cs *CandleService) GetInstances(ctx context.Context) ([]models.Instance, error) {
	return cs.repo.GetInstances(ctx)
}

func (cs *CandleService) GetAlerts(ctx context.Context, since time.Time) ([]models.Alert, error) {
	return cs.repo.GetAlerts(ctx, since)
}

func (cs *CandleService) GetOpenEvents(ctx context.Context, exchange string) ([]models.Event, error) {
	return cs.repo.GetOpenEvents(ctx, exchange)
}

func (cs *CandleService) lookupMarket(ctx context.Context, exchange, name string) (*models.Market, error) {
	market, err := cs.repo.GetMarket(ctx, exchange, name)
	if err != nil {
		return nil, err
	}
	if market == nil {
		return nil, fmt.Errorf("unknown market %s on %s", name, exchange)
	}
	return market, nil
}
