// Package exchange defines the capability surface the pipeline needs from a
// venue: a market listing, a paginated historical trade read, an
// authoritative daily candle, and a streaming trade subscription. Adapters
// live in subpackages (ftx, gdax) and normalize wire payloads into the
// internal types; everything downstream of this interface is
// exchange-agnostic.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"almejal/eldorado/internal/models"
)

// Supported venue names. A new exchange is a new adapter subpackage plus a
// constant here.
const (
	NameFtx   = "ftx"
	NameFtxUs = "ftxus"
	NameGdax  = "gdax"
)

// SortOrder declares how an adapter orders trade pages by trade id.
type SortOrder int

const (
	Ascending SortOrder = iota
	Descending
)

// MarketInfo is a venue's description of one tradable symbol.
type MarketInfo struct {
	Symbol         string
	MarketType     string // spot | perpetual | future
	BaseCurrency   string
	QuoteCurrency  string
	Underlying     string
	SizeIncrement  decimal.Decimal
	MinProvideSize decimal.Decimal
	Enabled        bool
}

// TradeQuery selects a page of historical trades. Callers pass either a
// monotonic AfterID cursor or a (Start, End) window; adapters document which
// they honor. Limit caps the page size, 0 meaning the venue default.
type TradeQuery struct {
	AfterID string
	Start   *time.Time
	End     *time.Time
	Limit   int
}

// TradePage is one bounded page of historical trades plus the continuation
// hint for the next request. Pages may overlap the previous page by one
// trade at the boundary; callers deduplicate on trade id.
type TradePage struct {
	Trades []models.Trade
	Order  SortOrder

	// NextAfterID continues an id-cursor walk, NextEnd a window walk.
	// HasMore is false once the venue reports the page was not full.
	NextAfterID string
	NextEnd     *time.Time
	HasMore     bool
}

// StreamTrade is one trade delivered by a websocket subscription, tagged
// with the venue symbol it arrived on.
type StreamTrade struct {
	Symbol string
	Trade  models.Trade
}

// Stream is a live trade subscription. Trades closes when the subscription
// ends; a terminal failure is delivered on Err before closing.
type Stream struct {
	Trades <-chan StreamTrade
	Err    <-chan error
}

// Client is the per-venue adapter. Implementations perform no retries beyond
// honoring explicit rate-limit delays; retry policy belongs to the caller.
type Client interface {
	Name() string

	// ListMarkets returns the venue's current market listing.
	ListMarkets(ctx context.Context) ([]MarketInfo, error)

	// GetTrades returns one page of historical trades for symbol. Returned
	// trades carry a zero MarketID; callers stamp their market row id.
	GetTrades(ctx context.Context, symbol string, q TradeQuery) (TradePage, error)

	// GetDailyCandle returns the venue-reported daily candle for the UTC day
	// containing date.
	GetDailyCandle(ctx context.Context, symbol string, date time.Time) (models.DailyCandle, error)

	// SubscribeTrades opens a websocket subscription for symbols. The stream
	// reconnects internally on transient failures and ends when ctx is
	// cancelled.
	SubscribeTrades(ctx context.Context, symbols []string) (*Stream, error)
}
