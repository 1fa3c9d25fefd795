package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"almejal/eldorado/internal/models"
	"almejal/eldorado/internal/timeframe"
)

// SelectTradeDetail returns the trade watermark row for market, or nil when
// the market has never been backfilled.
func (s *Store) SelectTradeDetail(ctx context.Context, marketID uuid.UUID) (*models.MarketTradeDetail, error) {
	const query = `
		SELECT market_id, market_start_ts, first_trade_ts, first_trade_id,
			last_trade_ts, last_trade_id,
			previous_trade_day, previous_status, next_trade_day, next_status
		FROM market_trade_details
		WHERE market_id = $1`
	var d models.MarketTradeDetail
	var prevStatus, nextStatus string
	err := s.db.QueryRowContext(ctx, query, marketID).Scan(
		&d.MarketID, &d.MarketStartTs, &d.FirstTradeTs, &d.FirstTradeID,
		&d.LastTradeTs, &d.LastTradeID,
		&d.PreviousTradeDay, &prevStatus, &d.NextTradeDay, &nextStatus)
	switch {
	case err == sql.ErrNoRows:
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("select trade detail %s: %w", marketID, err)
	}
	d.PreviousStatus = models.DetailStatus(prevStatus)
	d.NextStatus = models.DetailStatus(nextStatus)
	return &d, nil
}

// UpsertTradeDetail writes the trade watermark row for market.
func (s *Store) UpsertTradeDetail(ctx context.Context, d *models.MarketTradeDetail) error {
	const query = `
		INSERT INTO market_trade_details (market_id, market_start_ts,
			first_trade_ts, first_trade_id, last_trade_ts, last_trade_id,
			previous_trade_day, previous_status, next_trade_day, next_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (market_id) DO UPDATE SET
			market_start_ts = EXCLUDED.market_start_ts,
			first_trade_ts = EXCLUDED.first_trade_ts,
			first_trade_id = EXCLUDED.first_trade_id,
			last_trade_ts = EXCLUDED.last_trade_ts,
			last_trade_id = EXCLUDED.last_trade_id,
			previous_trade_day = EXCLUDED.previous_trade_day,
			previous_status = EXCLUDED.previous_status,
			next_trade_day = EXCLUDED.next_trade_day,
			next_status = EXCLUDED.next_status`
	_, err := s.db.ExecContext(ctx, query,
		d.MarketID, d.MarketStartTs, d.FirstTradeTs, d.FirstTradeID,
		d.LastTradeTs, d.LastTradeID,
		d.PreviousTradeDay, string(d.PreviousStatus), d.NextTradeDay, string(d.NextStatus))
	if err != nil {
		return fmt.Errorf("upsert trade detail %s: %w", d.MarketID, err)
	}
	return nil
}

// SelectCandleDetail returns the candle watermark row for market, or nil.
func (s *Store) SelectCandleDetail(ctx context.Context, marketID uuid.UUID) (*models.MarketCandleDetail, error) {
	const query = `
		SELECT market_id, first_candle, last_candle, candle_timeframe
		FROM market_candle_details
		WHERE market_id = $1`
	var d models.MarketCandleDetail
	var tf string
	err := s.db.QueryRowContext(ctx, query, marketID).Scan(&d.MarketID, &d.FirstCandle, &d.LastCandle, &tf)
	switch {
	case err == sql.ErrNoRows:
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("select candle detail %s: %w", marketID, err)
	}
	parsed, err := timeframe.Parse(tf)
	if err != nil {
		return nil, fmt.Errorf("candle detail %s: %w", marketID, err)
	}
	d.TimeFrame = parsed
	return &d, nil
}

// UpsertCandleDetail writes the candle watermark row for market.
func (s *Store) UpsertCandleDetail(ctx context.Context, d *models.MarketCandleDetail) error {
	const query = `
		INSERT INTO market_candle_details (market_id, first_candle, last_candle, candle_timeframe)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (market_id) DO UPDATE SET
			first_candle = EXCLUDED.first_candle,
			last_candle = EXCLUDED.last_candle,
			candle_timeframe = EXCLUDED.candle_timeframe`
	_, err := s.db.ExecContext(ctx, query, d.MarketID, d.FirstCandle, d.LastCandle, string(d.TimeFrame))
	if err != nil {
		return fmt.Errorf("upsert candle detail %s: %w", d.MarketID, err)
	}
	return nil
}

// SelectArchiveDetail returns the archive cursor for market, or nil.
func (s *Store) SelectArchiveDetail(ctx context.Context, marketID uuid.UUID) (*models.MarketArchiveDetail, error) {
	const query = `SELECT market_id, next_month FROM market_archive_details WHERE market_id = $1`
	var d models.MarketArchiveDetail
	err := s.db.QueryRowContext(ctx, query, marketID).Scan(&d.MarketID, &d.NextMonth)
	switch {
	case err == sql.ErrNoRows:
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("select archive detail %s: %w", marketID, err)
	}
	return &d, nil
}

// UpsertArchiveDetail advances the archive cursor for market.
func (s *Store) UpsertArchiveDetail(ctx context.Context, marketID uuid.UUID, nextMonth time.Time) error {
	const query = `
		INSERT INTO market_archive_details (market_id, next_month)
		VALUES ($1,$2)
		ON CONFLICT (market_id) DO UPDATE SET next_month = EXCLUDED.next_month`
	if _, err := s.db.ExecContext(ctx, query, marketID, nextMonth); err != nil {
		return fmt.Errorf("upsert archive detail %s: %w", marketID, err)
	}
	return nil
}
