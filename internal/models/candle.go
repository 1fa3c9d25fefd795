package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ForwardFillID is the sentinel trade id written on synthetic candles that
// carry the previous close through an empty bucket.
const ForwardFillID = "ff"

// Candle is one OHLCV bucket for a market, keyed by (MarketID, Datetime)
// where Datetime is the bucket start aligned to the market timeframe in UTC.
type Candle struct {
	MarketID          uuid.UUID
	Datetime          time.Time
	Open              decimal.Decimal
	High              decimal.Decimal
	Low               decimal.Decimal
	Close             decimal.Decimal
	Volume            decimal.Decimal
	VolumeNet         decimal.Decimal
	VolumeLiquidation decimal.Decimal
	Value             decimal.Decimal
	TradeCount        int64
	LiquidationCount  int64
	FirstTradeTs      time.Time
	FirstTradeID      string
	LastTradeTs       time.Time
	LastTradeID       string
	IsValidated       bool
}

// IsForwardFill reports whether the candle was synthesized for an empty
// bucket rather than aggregated from trades.
func (c *Candle) IsForwardFill() bool {
	return c.TradeCount == 0
}

// DailyCandle is the exchange-reported daily OHLCV used as the authoritative
// source for validation, keyed by (MarketID, Datetime) at day resolution.
type DailyCandle struct {
	MarketID    uuid.UUID
	Datetime    time.Time
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
	TradeCount  int64
	IsValidated bool
	IsArchived  bool
	IsComplete  bool
}
