package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"almejal/eldorado/internal/models"
)

// SelectMarkets returns every market row.
func (s *Store) SelectMarkets(ctx context.Context) ([]models.Market, error) {
	var markets []models.Market
	if err := s.orm.WithContext(ctx).Order("exchange_name, market_name").Find(&markets).Error; err != nil {
		return nil, fmt.Errorf("select markets: %w", err)
	}
	return markets, nil
}

// SelectMarketsByExchange returns the markets of one exchange, optionally
// filtered to one mita tag.
func (s *Store) SelectMarketsByExchange(ctx context.Context, exchangeName string, mita *string) ([]models.Market, error) {
	q := s.orm.WithContext(ctx).Where("exchange_name = ?", exchangeName)
	if mita != nil {
		q = q.Where("mita = ?", *mita)
	}
	var markets []models.Market
	if err := q.Order("market_name").Find(&markets).Error; err != nil {
		return nil, fmt.Errorf("select markets for %s: %w", exchangeName, err)
	}
	return markets, nil
}

// SelectMarket returns one market by id, or nil when it does not exist.
func (s *Store) SelectMarket(ctx context.Context, marketID uuid.UUID) (*models.Market, error) {
	var market models.Market
	err := s.orm.WithContext(ctx).Where("market_id = ?", marketID).First(&market).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("select market %s: %w", marketID, err)
	}
	return &market, nil
}

// UpsertMarket inserts or refreshes a market on its (exchange, symbol)
// identity. Operator-set fields survive the refresh: status, data status,
// timeframe, mita and tradable belong to the lifecycle, not the listing.
func (s *Store) UpsertMarket(ctx context.Context, market *models.Market) error {
	err := s.orm.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "exchange_name"}, {Name: "market_name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"market_type", "base_currency", "quote_currency", "underlying",
			"size_increment", "min_provide_size", "last_update_ts",
		}),
	}).Create(market).Error
	if err != nil {
		return fmt.Errorf("upsert market %s %s: %w", market.ExchangeName, market.MarketName, err)
	}
	return nil
}

// UpdateMarketDataStatus persists a data status transition.
func (s *Store) UpdateMarketDataStatus(ctx context.Context, marketID uuid.UUID, status models.DataStatus) error {
	err := s.orm.WithContext(ctx).Model(&models.Market{}).
		Where("market_id = ?", marketID).
		Updates(map[string]any{
			"market_data_status": status,
			"last_update_ts":     time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("update market %s status: %w", marketID, err)
	}
	return nil
}

// SelectExchanges returns the exchange registry.
func (s *Store) SelectExchanges(ctx context.Context) ([]models.Exchange, error) {
	var exchanges []models.Exchange
	if err := s.orm.WithContext(ctx).Order("exchange_rank").Find(&exchanges).Error; err != nil {
		return nil, fmt.Errorf("select exchanges: %w", err)
	}
	return exchanges, nil
}

// UpsertExchange inserts or refreshes one exchange row by name.
func (s *Store) UpsertExchange(ctx context.Context, exchange *models.Exchange) error {
	err := s.orm.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "exchange_name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"exchange_rank", "is_spot", "is_derivative", "exchange_status", "last_refresh_date",
		}),
	}).Create(exchange).Error
	if err != nil {
		return fmt.Errorf("upsert exchange %s: %w", exchange.Name, err)
	}
	return nil
}
