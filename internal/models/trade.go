// Package models defines the domain types shared across the pipeline.
package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Trade sides as reported by every supported exchange.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// TradeBucket is one of the per-market logical trade tables. A trade moves
// rest/ws -> processed -> validated as candles are built and validated.
type TradeBucket string

const (
	BucketRest      TradeBucket = "rest"
	BucketWs        TradeBucket = "ws"
	BucketProcessed TradeBucket = "processed"
	BucketValidated TradeBucket = "validated"
)

// Trade is a single executed trade, normalized from an exchange payload.
// Identity is (market, TradeID); trades are immutable once persisted.
type Trade struct {
	// MarketID links the trade to its market row.
	MarketID uuid.UUID

	// TradeID is the exchange-assigned id, kept as a string because gdax
	// uses integers and other venues use opaque strings. Monotonicity per
	// market is declared by the adapter, never assumed.
	TradeID string

	// Price in quote currency, exact decimal.
	Price decimal.Decimal

	// Size in base currency, exact decimal.
	Size decimal.Decimal

	// Side is "buy" or "sell" (taker side).
	Side string

	// Liquidation marks forced liquidation trades on derivative markets.
	Liquidation bool

	// Time is the exchange-reported execution time in UTC.
	Time time.Time

	// Source records which feed delivered the trade ("ws" or "rest").
	// Used only to break id ties at deduplication, not persisted.
	Source TradeBucket
}

// Value returns price*size in quote currency.
func (t *Trade) Value() decimal.Decimal {
	return t.Price.Mul(t.Size)
}

// SortDedup sorts trades ascending by (time, trade id) and removes duplicate
// trade ids in place. When the same id arrives from both the websocket and
// the REST archive the websocket copy wins: its timestamp was taken closer
// to observation. Returns the deduplicated slice.
func SortDedup(trades []Trade) []Trade {
	sort.SliceStable(trades, func(i, j int) bool {
		if trades[i].Time.Equal(trades[j].Time) {
			return trades[i].TradeID < trades[j].TradeID
		}
		return trades[i].Time.Before(trades[j].Time)
	})

	out := trades[:0]
	seen := make(map[string]int, len(trades))
	for _, t := range trades {
		if i, ok := seen[t.TradeID]; ok {
			if t.Source == BucketWs && out[i].Source != BucketWs {
				out[i] = t
			}
			continue
		}
		seen[t.TradeID] = len(out)
		out = append(out, t)
	}
	// A ws copy can carry a different timestamp than the rest copy it
	// replaced, so restore order after conflict resolution.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Time.Equal(out[j].Time) {
			return out[i].TradeID < out[j].TradeID
		}
		return out[i].Time.Before(out[j].Time)
	})
	return out
}
