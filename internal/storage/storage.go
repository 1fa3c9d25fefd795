// Package storage persists the pipeline's state in Postgres. Registry
// tables (markets, exchanges) go through gorm; the hot per-market trade and
// candle tables and the multi-writer queue tables use database/sql directly
// because their names are composed at runtime and their upserts need exact
// ON CONFLICT clauses.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"almejal/eldorado/internal/models"
	"almejal/eldorado/internal/timeframe"
)

const (
	connectTimeout  = 5 * time.Second
	maxOpenConns    = 20
	maxIdleConns    = 5
	connMaxLifetime = 30 * time.Minute

	insertBatchSize = 500
)

// Store is the shared handle to the database. Safe for concurrent use.
type Store struct {
	db     *sql.DB
	orm    *gorm.DB
	logger *logrus.Logger
}

// New opens the connection pool, verifies connectivity with a ping, and
// layers gorm over the same pool for the registry tables.
func New(dsn string, logger *logrus.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	orm, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}

	return &Store{db: db, orm: orm, logger: logger}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying pool for callers that run their own SQL, such as
// the migration runner.
func (s *Store) DB() *sql.DB {
	return s.db
}

var tokenPattern = regexp.MustCompile(`^[a-z0-9]+$`)

// TradeTable returns the per-market trade table name for one logical bucket,
// e.g. trades_ws_ftx_btcperp. The market token must already be stripped via
// Market.StripName; anything else is rejected rather than quoted because
// these names are spliced into DDL.
func TradeTable(bucket models.TradeBucket, exchangeName, marketToken string) (string, error) {
	for _, part := range []string{string(bucket), exchangeName, marketToken} {
		if !tokenPattern.MatchString(part) {
			return "", fmt.Errorf("table name part %q is not a lowercase token", part)
		}
	}
	return fmt.Sprintf("trades_%s_%s_%s", bucket, exchangeName, marketToken), nil
}

// CandleTable returns the per-exchange candle table name for a timeframe,
// e.g. candles_t15_ftx.
func CandleTable(tf timeframe.TimeFrame, exchangeName string) (string, error) {
	for _, part := range []string{string(tf), exchangeName} {
		if !tokenPattern.MatchString(part) {
			return "", fmt.Errorf("table name part %q is not a lowercase token", part)
		}
	}
	return fmt.Sprintf("candles_%s_%s", tf, exchangeName), nil
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			s.logger.WithError(rbErr).Error("transaction rollback failed")
		}
		return err
	}
	return tx.Commit()
}
