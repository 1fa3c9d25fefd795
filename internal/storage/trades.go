package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"almejal/eldorado/internal/models"
)

// CreateTradeTable creates the table for one (bucket, market) pair if it does
// not exist. Identity is (market_id, trade_id); reads are always ordered by
// (time, trade_id) so that pair gets the secondary index.
func (s *Store) CreateTradeTable(ctx context.Context, bucket models.TradeBucket, exchangeName, marketToken string) error {
	table, err := TradeTable(bucket, exchangeName, marketToken)
	if err != nil {
		return err
	}
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			market_id   uuid        NOT NULL,
			trade_id    text        NOT NULL,
			price       numeric     NOT NULL,
			size        numeric     NOT NULL,
			side        text        NOT NULL,
			liquidation boolean     NOT NULL,
			time        timestamptz NOT NULL,
			PRIMARY KEY (market_id, trade_id)
		)`, table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}
	index := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_time_idx ON %s (time, trade_id)`, table, table)
	if _, err := s.db.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("index %s: %w", table, err)
	}
	return nil
}

// DropTradeTable removes one (bucket, market) table. Used by the archive
// step once a market's history is validated and compressed away.
func (s *Store) DropTradeTable(ctx context.Context, bucket models.TradeBucket, exchangeName, marketToken string) error {
	table, err := TradeTable(bucket, exchangeName, marketToken)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table)); err != nil {
		return fmt.Errorf("drop %s: %w", table, err)
	}
	return nil
}

// InsertTrades writes trades into one bucket table in batches, ignoring
// duplicates on (market_id, trade_id). Re-delivery from either feed is
// expected, so conflicts are not an error.
func (s *Store) InsertTrades(ctx context.Context, bucket models.TradeBucket, exchangeName, marketToken string, trades []models.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	table, err := TradeTable(bucket, exchangeName, marketToken)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for offset := 0; offset < len(trades); offset += insertBatchSize {
			end := offset + insertBatchSize
			if end > len(trades) {
				end = len(trades)
			}
			if err := insertTradeBatch(ctx, tx, table, trades[offset:end]); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertTradeBatch(ctx context.Context, tx *sql.Tx, table string, trades []models.Trade) error {
	var (
		sb   strings.Builder
		args = make([]any, 0, len(trades)*7)
	)
	fmt.Fprintf(&sb, `INSERT INTO %s (market_id, trade_id, price, size, side, liquidation, time) VALUES `, table)
	for i, t := range trades {
		if i > 0 {
			sb.WriteByte(',')
		}
		base := i * 7
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d)", base+1, base+2, base+3, base+4, base+5, base+6, base+7)
		args = append(args, t.MarketID, t.TradeID, t.Price, t.Size, t.Side, t.Liquidation, t.Time)
	}
	sb.WriteString(` ON CONFLICT (market_id, trade_id) DO NOTHING`)
	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

const tradeColumns = `market_id, trade_id, price, size, side, liquidation, time`

// ReadTrades returns trades for market in [start, end), ordered ascending by
// (time, trade_id).
func (s *Store) ReadTrades(ctx context.Context, bucket models.TradeBucket, exchangeName, marketToken string, marketID uuid.UUID, start, end time.Time) ([]models.Trade, error) {
	table, err := TradeTable(bucket, exchangeName, marketToken)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE market_id = $1 AND time >= $2 AND time < $3
		ORDER BY time, trade_id`, tradeColumns, table)
	rows, err := s.db.QueryContext(ctx, query, marketID, start, end)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	defer rows.Close()
	return scanTrades(rows, bucket)
}

func scanTrades(rows *sql.Rows, bucket models.TradeBucket) ([]models.Trade, error) {
	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		if err := rows.Scan(&t.MarketID, &t.TradeID, &t.Price, &t.Size, &t.Side, &t.Liquidation, &t.Time); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Time = t.Time.UTC()
		t.Source = bucket
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// DeleteTrades removes market rows in [start, end) from one bucket table.
func (s *Store) DeleteTrades(ctx context.Context, bucket models.TradeBucket, exchangeName, marketToken string, marketID uuid.UUID, start, end time.Time) error {
	table, err := TradeTable(bucket, exchangeName, marketToken)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE market_id = $1 AND time >= $2 AND time < $3`, table)
	if _, err := s.db.ExecContext(ctx, query, marketID, start, end); err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	return nil
}

// PromoteTrades moves market rows in [start, end) from the ws and rest
// buckets into processed atomically. Websocket rows are copied first so that
// on an id collision the websocket copy is the one that lands; the rest copy
// hits ON CONFLICT DO NOTHING. Both source ranges are cleared in the same
// transaction.
func (s *Store) PromoteTrades(ctx context.Context, exchangeName, marketToken string, marketID uuid.UUID, start, end time.Time) error {
	wsTable, err := TradeTable(models.BucketWs, exchangeName, marketToken)
	if err != nil {
		return err
	}
	restTable, err := TradeTable(models.BucketRest, exchangeName, marketToken)
	if err != nil {
		return err
	}
	processedTable, err := TradeTable(models.BucketProcessed, exchangeName, marketToken)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, src := range []string{wsTable, restTable} {
			move := fmt.Sprintf(`
				INSERT INTO %s (%s)
				SELECT %s FROM %s
				WHERE market_id = $1 AND time >= $2 AND time < $3
				ON CONFLICT (market_id, trade_id) DO NOTHING`,
				processedTable, tradeColumns, tradeColumns, src)
			if _, err := tx.ExecContext(ctx, move, marketID, start, end); err != nil {
				return fmt.Errorf("promote %s: %w", src, err)
			}
			clear := fmt.Sprintf(`DELETE FROM %s WHERE market_id = $1 AND time >= $2 AND time < $3`, src)
			if _, err := tx.ExecContext(ctx, clear, marketID, start, end); err != nil {
				return fmt.Errorf("clear %s: %w", src, err)
			}
		}
		return nil
	})
}

// ValidateTrades moves market rows in [start, end) from processed to
// validated once the covering candle passed validation.
func (s *Store) ValidateTrades(ctx context.Context, exchangeName, marketToken string, marketID uuid.UUID, start, end time.Time) error {
	processedTable, err := TradeTable(models.BucketProcessed, exchangeName, marketToken)
	if err != nil {
		return err
	}
	validatedTable, err := TradeTable(models.BucketValidated, exchangeName, marketToken)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		move := fmt.Sprintf(`
			INSERT INTO %s (%s)
			SELECT %s FROM %s
			WHERE market_id = $1 AND time >= $2 AND time < $3
			ON CONFLICT (market_id, trade_id) DO NOTHING`,
			validatedTable, tradeColumns, tradeColumns, processedTable)
		if _, err := tx.ExecContext(ctx, move, marketID, start, end); err != nil {
			return fmt.Errorf("promote %s: %w", processedTable, err)
		}
		clear := fmt.Sprintf(`DELETE FROM %s WHERE market_id = $1 AND time >= $2 AND time < $3`, processedTable)
		if _, err := tx.ExecContext(ctx, clear, marketID, start, end); err != nil {
			return fmt.Errorf("clear %s: %w", processedTable, err)
		}
		return nil
	})
}

// TradeBounds returns the first and last trade for market in one bucket
// table, or nils when the table range is empty.
func (s *Store) TradeBounds(ctx context.Context, bucket models.TradeBucket, exchangeName, marketToken string, marketID uuid.UUID) (first, last *models.Trade, err error) {
	table, err := TradeTable(bucket, exchangeName, marketToken)
	if err != nil {
		return nil, nil, err
	}
	for _, q := range []struct {
		dst   **models.Trade
		order string
	}{
		{&first, "ASC"},
		{&last, "DESC"},
	} {
		query := fmt.Sprintf(`
			SELECT %s FROM %s
			WHERE market_id = $1
			ORDER BY time %s, trade_id %s
			LIMIT 1`, tradeColumns, table, q.order, q.order)
		var t models.Trade
		err := s.db.QueryRowContext(ctx, query, marketID).
			Scan(&t.MarketID, &t.TradeID, &t.Price, &t.Size, &t.Side, &t.Liquidation, &t.Time)
		switch {
		case err == sql.ErrNoRows:
			return nil, nil, nil
		case err != nil:
			return nil, nil, fmt.Errorf("bounds of %s: %w", table, err)
		}
		t.Time = t.Time.UTC()
		t.Source = bucket
		*q.dst = &t
	}
	return first, last, nil
}
