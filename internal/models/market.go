package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"almejal/eldorado/internal/timeframe"
)

// MarketStatus is the lifecycle status of a market listing.
type MarketStatus string

const (
	MarketNew        MarketStatus = "new"
	MarketActive     MarketStatus = "active"
	MarketTerminated MarketStatus = "terminated"
)

// DataStatus tracks where a market sits in the ingest state machine. It is
// persisted on the markets row so an instance can resume after restart.
type DataStatus string

const (
	DataNew         DataStatus = "new"
	DataBackfilling DataStatus = "backfilling"
	DataSyncing     DataStatus = "syncing"
	DataLive        DataStatus = "live"
	DataValidating  DataStatus = "validating"
	DataArchived    DataStatus = "archived"
	DataError       DataStatus = "error"
)

// ParseDataStatus validates a data status read from the database.
func ParseDataStatus(s string) (DataStatus, error) {
	switch ds := DataStatus(strings.ToLower(s)); ds {
	case DataNew, DataBackfilling, DataSyncing, DataLive, DataValidating, DataArchived, DataError:
		return ds, nil
	default:
		return "", fmt.Errorf("%q is not a supported data status", s)
	}
}

// Market is a tradable symbol on a specific exchange. (ExchangeName,
// MarketName) is unique; TimeFrame is non-null once the market is active.
type Market struct {
	MarketID       uuid.UUID           `gorm:"column:market_id;primaryKey"`
	ExchangeName   string              `gorm:"column:exchange_name"`
	MarketName     string              `gorm:"column:market_name"`
	MarketType     string              `gorm:"column:market_type"` // spot | perpetual | future
	BaseCurrency   *string             `gorm:"column:base_currency"`
	QuoteCurrency  *string             `gorm:"column:quote_currency"`
	Underlying     *string             `gorm:"column:underlying"`
	SizeIncrement  *decimal.Decimal    `gorm:"column:size_increment"`
	MinProvideSize *decimal.Decimal    `gorm:"column:min_provide_size"`
	Status         MarketStatus        `gorm:"column:market_status"`
	DataStatus     DataStatus          `gorm:"column:market_data_status"`
	TimeFrame      timeframe.TimeFrame `gorm:"column:candle_timeframe"`
	Mita           *string             `gorm:"column:mita"`
	Tradable       bool                `gorm:"column:tradable"`
	LastUpdateTs   time.Time           `gorm:"column:last_update_ts"`
}

// TableName implements gorm's naming override.
func (Market) TableName() string { return "markets" }

// StripName strips the separators from a market name for use as a table
// token: "BTC-PERP" -> "btcperp", "BTC/USD" -> "btcusd".
func (m *Market) StripName() string {
	return strings.ToLower(strings.NewReplacer("/", "", "-", "").Replace(m.MarketName))
}

// Exchange is a supported venue row from the exchanges registry.
type Exchange struct {
	ExchangeID      uuid.UUID `gorm:"column:exchange_id;primaryKey"`
	Name            string    `gorm:"column:exchange_name"`
	Rank            int       `gorm:"column:exchange_rank"`
	IsSpot          bool      `gorm:"column:is_spot"`
	IsDerivative    bool      `gorm:"column:is_derivative"`
	Status          string    `gorm:"column:exchange_status"`
	AddedDate       time.Time `gorm:"column:added_date"`
	LastRefreshDate time.Time `gorm:"column:last_refresh_date"`
}

func (Exchange) TableName() string { return "exchanges" }

// DetailStatus tracks the progress of per-day bookkeeping on the market
// detail rows.
type DetailStatus string

const (
	DetailPending   DetailStatus = "pending"
	DetailCompleted DetailStatus = "completed"
	DetailArchived  DetailStatus = "archived"
)

// MarketTradeDetail records per-market trade watermarks so the scheduler can
// resume a backfill without rescanning trade tables.
type MarketTradeDetail struct {
	MarketID         uuid.UUID
	MarketStartTs    *time.Time
	FirstTradeTs     *time.Time
	FirstTradeID     *string
	LastTradeTs      *time.Time
	LastTradeID      *string
	PreviousTradeDay *time.Time
	PreviousStatus   DetailStatus
	NextTradeDay     *time.Time
	NextStatus       DetailStatus
}

// MarketCandleDetail records per-market candle watermarks.
type MarketCandleDetail struct {
	MarketID    uuid.UUID
	FirstCandle *time.Time
	LastCandle  *time.Time
	TimeFrame   timeframe.TimeFrame
}

// MarketArchiveDetail records the monthly archive cursor for a market.
type MarketArchiveDetail struct {
	MarketID  uuid.UUID
	NextMonth *time.Time
}
