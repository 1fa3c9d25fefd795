package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"almejal/eldorado/internal/models"
	"almejal/eldorado/internal/storage"
)

type CandleRepository interface {
	GetMarkets(ctx context.Context, exchange string) ([]models.Market, error)
	GetMarket(ctx context.Context, exchange, name string) (*models.Market, error)
	GetCandles(ctx context.Context, market *models.Market, start, end time.Time) ([]models.Candle, error)
	GetLatestCandle(ctx context.Context, market *models.Market) (*models.Candle, error)
	GetDailyCandles(ctx context.Context, marketID uuid.UUID, start, end time.Time) ([]models.DailyCandle, error)
	GetExchanges(ctx context.Context) ([]models.Exchange, error)
	GetInstances(ctx context.Context) ([]models.Instance, error)
	GetAlerts(ctx context.Context, since time.Time) ([]models.Alert, error)
	GetOpenEvents(ctx context.Context, exchange string) ([]models.Event, error)
}

type storeCandleRepository struct {
	store *storage.Store
}

func NewStoreCandleRepository(store *storage.Store) CandleRepository {
	return &storeCandleRepository{store: store}
}

func (r *storeCandleRepository) GetMarkets(ctx context.Context, exchange string) ([]models.Market, error) {
	if exchange == "" {
		return r.store.SelectMarkets(ctx)
	}
	return r.store.SelectMarketsByExchange(ctx, exchange, nil)
}

func (r *storeCandleRepository) GetMarket(ctx context.Context, exchange, name string) (*models.Market, error) {
	markets, err := r.store.SelectMarketsByExchange(ctx, exchange, nil)
	if err != nil {
		return nil, err
	}
	for i := range markets {
		if markets[i].MarketName == name {
			return &markets[i], nil
		}
	}
	return nil, nil
}

func (r *storeCandleRepository) GetCandles(ctx context.Context, market *models.Market, start, end time.Time) ([]models.Candle, error) {
	return r.store.ReadCandles(ctx, market.TimeFrame, market.ExchangeName, market.MarketID, start, end)
}

func (r *storeCandleRepository) GetLatestCandle(ctx context.Context, market *models.Market) (*models.Candle, error) {
	return r.store.LastCandle(ctx, market.TimeFrame, market.ExchangeName, market.MarketID)
}

func (r *storeCandleRepository) GetDailyCandles(ctx context.Context, marketID uuid.UUID, start, end time.Time) ([]models.DailyCandle, error) {
	return r.store.ReadDailyCandles(ctx, marketID, start, end)
}

func (r *storeCandleRepository) GetExchanges(ctx context.Context) ([]models.Exchange, error) {
	return r.store.SelectExchanges(ctx)
}

func (r *storeCandleRepository) GetInstances(ctx context.Context) ([]models.Instance, error) {
	return r.store.SelectInstances(ctx)
}

func (r *storeCandleRepository) GetAlerts(ctx context.Context, since time.Time) ([]models.Alert, error) {
	return r.store.SelectAlerts(ctx, since)
}

func (r *storeCandleRepository) GetOpenEvents(ctx context.Context, exchange string) ([]models.Event, error) {
	return r.store.SelectOpenEvents(ctx, exchange)
}
