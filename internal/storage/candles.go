package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"almejal/eldorado/internal/models"
	"almejal/eldorado/internal/timeframe"
)

// DailyCandleTable holds the exchange-reported daily candles for every
// market, one row per (market, day).
const DailyCandleTable = "candles_01d"

// CreateCandleTable creates the per-exchange candle table for one timeframe
// if it does not exist.
func (s *Store) CreateCandleTable(ctx context.Context, tf timeframe.TimeFrame, exchangeName string) error {
	table, err := CandleTable(tf, exchangeName)
	if err != nil {
		return err
	}
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			market_id          uuid        NOT NULL,
			datetime           timestamptz NOT NULL,
			open               numeric     NOT NULL,
			high               numeric     NOT NULL,
			low                numeric     NOT NULL,
			close              numeric     NOT NULL,
			volume             numeric     NOT NULL,
			volume_net         numeric     NOT NULL,
			volume_liquidation numeric     NOT NULL,
			value              numeric     NOT NULL,
			trade_count        bigint      NOT NULL,
			liquidation_count  bigint      NOT NULL,
			first_trade_ts     timestamptz NOT NULL,
			first_trade_id     text        NOT NULL,
			last_trade_ts      timestamptz NOT NULL,
			last_trade_id      text        NOT NULL,
			is_validated       boolean     NOT NULL DEFAULT false,
			PRIMARY KEY (market_id, datetime)
		)`, table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}
	return nil
}

// CreateDailyCandleTable creates the global daily candle table if it does
// not exist.
func (s *Store) CreateDailyCandleTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			market_id    uuid        NOT NULL,
			datetime     timestamptz NOT NULL,
			open         numeric     NOT NULL,
			high         numeric     NOT NULL,
			low          numeric     NOT NULL,
			close        numeric     NOT NULL,
			volume       numeric     NOT NULL,
			trade_count  bigint      NOT NULL DEFAULT 0,
			is_validated boolean     NOT NULL DEFAULT false,
			is_archived  boolean     NOT NULL DEFAULT false,
			is_complete  boolean     NOT NULL DEFAULT false,
			PRIMARY KEY (market_id, datetime)
		)`, DailyCandleTable)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", DailyCandleTable, err)
	}
	return nil
}

const candleColumns = `market_id, datetime, open, high, low, close, volume, volume_net,
	volume_liquidation, value, trade_count, liquidation_count,
	first_trade_ts, first_trade_id, last_trade_ts, last_trade_id, is_validated`

// UpsertCandles writes candles, replacing every field on conflict except
// is_validated, which is sticky: once a bucket is validated a recompute
// cannot silently unvalidate it. Only a revalidation event may clear the
// flag, through UnvalidateCandle.
func (s *Store) UpsertCandles(ctx context.Context, tf timeframe.TimeFrame, exchangeName string, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	table, err := CandleTable(tf, exchangeName)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for offset := 0; offset < len(candles); offset += insertBatchSize {
			end := offset + insertBatchSize
			if end > len(candles) {
				end = len(candles)
			}
			if err := upsertCandleBatch(ctx, tx, table, candles[offset:end]); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertCandleBatch(ctx context.Context, tx *sql.Tx, table string, candles []models.Candle) error {
	const cols = 17
	var (
		sb   strings.Builder
		args = make([]any, 0, len(candles)*cols)
	)
	fmt.Fprintf(&sb, `INSERT INTO %s (%s) VALUES `, table, candleColumns)
	for i, c := range candles {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte('(')
		for j := 0; j < cols; j++ {
			if j > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, "$%d", i*cols+j+1)
		}
		sb.WriteByte(')')
		args = append(args, c.MarketID, c.Datetime, c.Open, c.High, c.Low, c.Close,
			c.Volume, c.VolumeNet, c.VolumeLiquidation, c.Value,
			c.TradeCount, c.LiquidationCount,
			c.FirstTradeTs, c.FirstTradeID, c.LastTradeTs, c.LastTradeID, c.IsValidated)
	}
	sb.WriteString(` ON CONFLICT (market_id, datetime) DO UPDATE SET
		open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low, close = EXCLUDED.close,
		volume = EXCLUDED.volume, volume_net = EXCLUDED.volume_net,
		volume_liquidation = EXCLUDED.volume_liquidation, value = EXCLUDED.value,
		trade_count = EXCLUDED.trade_count, liquidation_count = EXCLUDED.liquidation_count,
		first_trade_ts = EXCLUDED.first_trade_ts, first_trade_id = EXCLUDED.first_trade_id,
		last_trade_ts = EXCLUDED.last_trade_ts, last_trade_id = EXCLUDED.last_trade_id,
		is_validated = ` + table + `.is_validated OR EXCLUDED.is_validated`)
	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("upsert into %s: %w", table, err)
	}
	return nil
}

// ReadCandles returns candles for market in [start, end) ordered by datetime.
func (s *Store) ReadCandles(ctx context.Context, tf timeframe.TimeFrame, exchangeName string, marketID uuid.UUID, start, end time.Time) ([]models.Candle, error) {
	table, err := CandleTable(tf, exchangeName)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE market_id = $1 AND datetime >= $2 AND datetime < $3
		ORDER BY datetime`, candleColumns, table)
	rows, err := s.db.QueryContext(ctx, query, marketID, start, end)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.MarketID, &c.Datetime, &c.Open, &c.High, &c.Low, &c.Close,
			&c.Volume, &c.VolumeNet, &c.VolumeLiquidation, &c.Value,
			&c.TradeCount, &c.LiquidationCount,
			&c.FirstTradeTs, &c.FirstTradeID, &c.LastTradeTs, &c.LastTradeID, &c.IsValidated); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Datetime = c.Datetime.UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// LastCandle returns the newest candle for market, or nil when none exist.
func (s *Store) LastCandle(ctx context.Context, tf timeframe.TimeFrame, exchangeName string, marketID uuid.UUID) (*models.Candle, error) {
	table, err := CandleTable(tf, exchangeName)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE market_id = $1
		ORDER BY datetime DESC
		LIMIT 1`, candleColumns, table)
	var c models.Candle
	err = s.db.QueryRowContext(ctx, query, marketID).
		Scan(&c.MarketID, &c.Datetime, &c.Open, &c.High, &c.Low, &c.Close,
			&c.Volume, &c.VolumeNet, &c.VolumeLiquidation, &c.Value,
			&c.TradeCount, &c.LiquidationCount,
			&c.FirstTradeTs, &c.FirstTradeID, &c.LastTradeTs, &c.LastTradeID, &c.IsValidated)
	switch {
	case err == sql.ErrNoRows:
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("last candle of %s: %w", table, err)
	}
	c.Datetime = c.Datetime.UTC()
	return &c, nil
}

// MarkCandlesValidated flips is_validated for market buckets in [start, end).
func (s *Store) MarkCandlesValidated(ctx context.Context, tf timeframe.TimeFrame, exchangeName string, marketID uuid.UUID, start, end time.Time) error {
	table, err := CandleTable(tf, exchangeName)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		UPDATE %s SET is_validated = true
		WHERE market_id = $1 AND datetime >= $2 AND datetime < $3`, table)
	if _, err := s.db.ExecContext(ctx, query, marketID, start, end); err != nil {
		return fmt.Errorf("validate %s: %w", table, err)
	}
	return nil
}

// UnvalidateCandle clears is_validated for one bucket. Only a revalidation
// event calls this.
func (s *Store) UnvalidateCandle(ctx context.Context, tf timeframe.TimeFrame, exchangeName string, marketID uuid.UUID, bucketStart time.Time) error {
	table, err := CandleTable(tf, exchangeName)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET is_validated = false WHERE market_id = $1 AND datetime = $2`, table)
	if _, err := s.db.ExecContext(ctx, query, marketID, bucketStart); err != nil {
		return fmt.Errorf("unvalidate %s: %w", table, err)
	}
	return nil
}

// DeleteCandles removes market buckets in [start, end).
func (s *Store) DeleteCandles(ctx context.Context, tf timeframe.TimeFrame, exchangeName string, marketID uuid.UUID, start, end time.Time) error {
	table, err := CandleTable(tf, exchangeName)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE market_id = $1 AND datetime >= $2 AND datetime < $3`, table)
	if _, err := s.db.ExecContext(ctx, query, marketID, start, end); err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	return nil
}

// UpsertDailyCandle writes one exchange-reported daily candle. The flag
// columns follow the same sticky rule as the base candles.
func (s *Store) UpsertDailyCandle(ctx context.Context, c models.DailyCandle) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (market_id, datetime, open, high, low, close, volume, trade_count,
			is_validated, is_archived, is_complete)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (market_id, datetime) DO UPDATE SET
			open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
			close = EXCLUDED.close, volume = EXCLUDED.volume,
			trade_count = EXCLUDED.trade_count,
			is_validated = %s.is_validated OR EXCLUDED.is_validated,
			is_archived = %s.is_archived OR EXCLUDED.is_archived,
			is_complete = EXCLUDED.is_complete`,
		DailyCandleTable, DailyCandleTable, DailyCandleTable)
	_, err := s.db.ExecContext(ctx, query,
		c.MarketID, c.Datetime, c.Open, c.High, c.Low, c.Close, c.Volume, c.TradeCount,
		c.IsValidated, c.IsArchived, c.IsComplete)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", DailyCandleTable, err)
	}
	return nil
}

// ReadDailyCandles returns daily candles for market in [start, end).
func (s *Store) ReadDailyCandles(ctx context.Context, marketID uuid.UUID, start, end time.Time) ([]models.DailyCandle, error) {
	query := fmt.Sprintf(`
		SELECT market_id, datetime, open, high, low, close, volume, trade_count,
			is_validated, is_archived, is_complete
		FROM %s
		WHERE market_id = $1 AND datetime >= $2 AND datetime < $3
		ORDER BY datetime`, DailyCandleTable)
	rows, err := s.db.QueryContext(ctx, query, marketID, start, end)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", DailyCandleTable, err)
	}
	defer rows.Close()

	var candles []models.DailyCandle
	for rows.Next() {
		var c models.DailyCandle
		if err := rows.Scan(&c.MarketID, &c.Datetime, &c.Open, &c.High, &c.Low, &c.Close,
			&c.Volume, &c.TradeCount, &c.IsValidated, &c.IsArchived, &c.IsComplete); err != nil {
			return nil, fmt.Errorf("scan daily candle: %w", err)
		}
		c.Datetime = c.Datetime.UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// MarkDailyArchived flips is_archived on one daily row after the month's
// trades are compressed away.
func (s *Store) MarkDailyArchived(ctx context.Context, marketID uuid.UUID, day time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET is_archived = true WHERE market_id = $1 AND datetime = $2`, DailyCandleTable)
	if _, err := s.db.ExecContext(ctx, query, marketID, day); err != nil {
		return fmt.Errorf("archive %s: %w", DailyCandleTable, err)
	}
	return nil
}
