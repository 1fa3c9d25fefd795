// Package gdax implements the exchange client for Coinbase Exchange,
// historically GDAX. Coinbase rejects requests without a User-Agent, numbers
// arrive as strings on trades and as bare arrays on candles, and trade ids
// are sequential integers so pagination walks the id cursor.
package gdax

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"almejal/eldorado/internal/exchange"
	"almejal/eldorado/internal/models"
)

const (
	restURL   = "https://api.exchange.coinbase.com"
	wsFeedURL = "wss://ws-feed.exchange.coinbase.com"

	userAgent = "eldorado/1.0"

	// Maximum trades per REST page.
	tradePageLimit = 1000

	dailyGranularity = 86400
)

type Client struct {
	name   string
	rest   *exchange.RestCore
	wsURL  string
	logger *logrus.Logger
}

func New(logger *logrus.Logger) *Client {
	return &Client{
		name:   exchange.NameGdax,
		rest:   exchange.NewRestCore(exchange.NameGdax, restURL, userAgent),
		wsURL:  wsFeedURL,
		logger: logger,
	}
}

func (c *Client) Name() string { return c.name }

type wireProduct struct {
	ID              string          `json:"id"`
	BaseCurrency    string          `json:"base_currency"`
	QuoteCurrency   string          `json:"quote_currency"`
	BaseIncrement   decimal.Decimal `json:"base_increment"`
	BaseMinSize     decimal.Decimal `json:"base_min_size"`
	Status          string          `json:"status"`
	TradingDisabled bool            `json:"trading_disabled"`
}

type wireTrade struct {
	TradeID int64           `json:"trade_id"`
	Price   decimal.Decimal `json:"price"`
	Size    decimal.Decimal `json:"size"`
	Side    string          `json:"side"`
	Time    time.Time       `json:"time"`
}

func (c *Client) ListMarkets(ctx context.Context) ([]exchange.MarketInfo, error) {
	var products []wireProduct
	if err := c.rest.Get(ctx, "/products", nil, &products); err != nil {
		return nil, err
	}
	infos := make([]exchange.MarketInfo, 0, len(products))
	for _, p := range products {
		infos = append(infos, exchange.MarketInfo{
			Symbol:         p.ID,
			MarketType:     "spot",
			BaseCurrency:   p.BaseCurrency,
			QuoteCurrency:  p.QuoteCurrency,
			Enabled:        p.Status == "online" && !p.TradingDisabled,
			SizeIncrement:  p.BaseIncrement,
			MinProvideSize: p.BaseMinSize,
		})
	}
	return infos, nil
}

// GetTrades fetches one page of trades, newest first. Coinbase paginates on
// the integer trade id: after=N returns trades with id strictly below N, so
// the caller walks backwards by passing the returned NextAfterID.
func (c *Client) GetTrades(ctx context.Context, symbol string, query exchange.TradeQuery) (exchange.TradePage, error) {
	limit := query.Limit
	if limit <= 0 || limit > tradePageLimit {
		limit = tradePageLimit
	}
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	if query.AfterID != "" {
		if _, err := strconv.ParseInt(query.AfterID, 10, 64); err != nil {
			return exchange.TradePage{}, exchange.NewError(c.name, exchange.InvalidRequest,
				fmt.Errorf("after cursor %q is not an integer trade id", query.AfterID))
		}
		params.Set("after", query.AfterID)
	}

	var wire []wireTrade
	path := fmt.Sprintf("/products/%s/trades", url.PathEscape(symbol))
	if err := c.rest.Get(ctx, path, params, &wire); err != nil {
		return exchange.TradePage{}, err
	}

	page := exchange.TradePage{Order: exchange.Descending}
	page.Trades = make([]models.Trade, 0, len(wire))
	lowest := int64(0)
	for _, t := range wire {
		page.Trades = append(page.Trades, toTrade(t))
		if lowest == 0 || t.TradeID < lowest {
			lowest = t.TradeID
		}
	}
	if len(wire) == 0 {
		return page, nil
	}
	page.NextAfterID = strconv.FormatInt(lowest, 10)
	// Trade id 1 is the first print on every product.
	page.HasMore = len(wire) == limit && lowest > 1
	if query.Start != nil {
		earliest := wire[len(wire)-1].Time
		if earliest.Before(*query.Start) {
			page.HasMore = false
		}
	}
	return page, nil
}

// candleRow is [ time, low, high, open, close, volume ].
type candleRow [6]json.Number

func (c *Client) GetDailyCandle(ctx context.Context, symbol string, day time.Time) (models.DailyCandle, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	params := url.Values{}
	params.Set("granularity", strconv.Itoa(dailyGranularity))
	params.Set("start", start.Format(time.RFC3339))
	params.Set("end", start.Format(time.RFC3339))

	var rows []candleRow
	path := fmt.Sprintf("/products/%s/candles", url.PathEscape(symbol))
	if err := c.rest.Get(ctx, path, params, &rows); err != nil {
		return models.DailyCandle{}, err
	}
	for _, row := range rows {
		ts, err := row[0].Int64()
		if err != nil {
			return models.DailyCandle{}, exchange.NewError(c.name, exchange.SchemaMismatch,
				fmt.Errorf("candle timestamp %q: %w", row[0], err))
		}
		if !time.Unix(ts, 0).UTC().Equal(start) {
			continue
		}
		candle := models.DailyCandle{Datetime: start}
		fields := []struct {
			dst *decimal.Decimal
			src json.Number
		}{
			{&candle.Low, row[1]},
			{&candle.High, row[2]},
			{&candle.Open, row[3]},
			{&candle.Close, row[4]},
			{&candle.Volume, row[5]},
		}
		for _, f := range fields {
			d, err := decimal.NewFromString(f.src.String())
			if err != nil {
				return models.DailyCandle{}, exchange.NewError(c.name, exchange.SchemaMismatch,
					fmt.Errorf("candle field %q: %w", f.src, err))
			}
			*f.dst = d
		}
		return candle, nil
	}
	return models.DailyCandle{}, exchange.NewError(c.name, exchange.InvalidRequest,
		fmt.Errorf("no daily candle for %s on %s", symbol, start.Format("2006-01-02")))
}

// Coinbase reports the maker side. Flip it so Side carries the taker
// direction and matches the aggressor convention used everywhere else.
func toTrade(t wireTrade) models.Trade {
	side := models.SideSell
	if t.Side == models.SideSell {
		side = models.SideBuy
	}
	return models.Trade{
		TradeID: strconv.FormatInt(t.TradeID, 10),
		Price:   t.Price,
		Size:    t.Size,
		Side:    side,
		Time:    t.Time.UTC(),
	}
}
