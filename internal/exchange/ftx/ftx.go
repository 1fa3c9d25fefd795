// Package ftx implements the exchange client for FTX and FTX US. The two
// venues share one API shape and differ only in host and market catalog.
package ftx

import (
	"context"
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
	restURL   = "https://ftx.com/api"
	restURLUs = "https://ftx.us/api"
	wsURL     = "wss://ftx.com/ws/"
	wsURLUs   = "wss://ftx.us/ws/"

	// Maximum trades per REST page.
	tradePageLimit = 5000

	dailyResolution = 86400
)

type Client struct {
	name   string
	rest   *exchange.RestCore
	wsURL  string
	logger *logrus.Logger
}

// New returns a client for ftx.com.
func New(logger *logrus.Logger) *Client {
	return &Client{
		name:   exchange.NameFtx,
		rest:   exchange.NewRestCore(exchange.NameFtx, restURL, ""),
		wsURL:  wsURL,
		logger: logger,
	}
}

// NewUs returns a client for ftx.us.
func NewUs(logger *logrus.Logger) *Client {
	return &Client{
		name:   exchange.NameFtxUs,
		rest:   exchange.NewRestCore(exchange.NameFtxUs, restURLUs, ""),
		wsURL:  wsURLUs,
		logger: logger,
	}
}

func (c *Client) Name() string { return c.name }

// envelope is the wrapper around every FTX REST response.
type envelope[T any] struct {
	Success bool   `json:"success"`
	Result  T      `json:"result"`
	Error   string `json:"error"`
}

type wireMarket struct {
	Name           string          `json:"name"`
	BaseCurrency   *string         `json:"baseCurrency"`
	QuoteCurrency  *string         `json:"quoteCurrency"`
	Type           string          `json:"type"`
	Underlying     *string         `json:"underlying"`
	Enabled        bool            `json:"enabled"`
	SizeIncrement  decimal.Decimal `json:"sizeIncrement"`
	MinProvideSize decimal.Decimal `json:"minProvideSize"`
}

type wireTrade struct {
	ID          int64           `json:"id"`
	Price       decimal.Decimal `json:"price"`
	Size        decimal.Decimal `json:"size"`
	Side        string          `json:"side"`
	Liquidation bool            `json:"liquidation"`
	Time        time.Time       `json:"time"`
}

type wireCandle struct {
	StartTime time.Time       `json:"startTime"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

func (c *Client) ListMarkets(ctx context.Context) ([]exchange.MarketInfo, error) {
	var resp envelope[[]wireMarket]
	if err := c.rest.Get(ctx, "/markets", nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, exchange.NewError(c.name, exchange.SchemaMismatch, fmt.Errorf("markets: %s", resp.Error))
	}
	infos := make([]exchange.MarketInfo, 0, len(resp.Result))
	for _, m := range resp.Result {
		info := exchange.MarketInfo{
			Symbol:         m.Name,
			MarketType:     m.Type,
			Enabled:        m.Enabled,
			SizeIncrement:  m.SizeIncrement,
			MinProvideSize: m.MinProvideSize,
		}
		if m.BaseCurrency != nil {
			info.BaseCurrency = *m.BaseCurrency
		}
		if m.QuoteCurrency != nil {
			info.QuoteCurrency = *m.QuoteCurrency
		}
		if m.Underlying != nil {
			info.Underlying = *m.Underlying
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// GetTrades fetches one page of trades inside (query.Start, query.End],
// newest first. The caller pages backwards by moving End to the returned
// NextEnd. FTX ids are not strictly time ordered across the book so the
// window walk is by timestamp, not id.
func (c *Client) GetTrades(ctx context.Context, symbol string, query exchange.TradeQuery) (exchange.TradePage, error) {
	limit := query.Limit
	if limit <= 0 || limit > tradePageLimit {
		limit = tradePageLimit
	}
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	if query.Start != nil {
		params.Set("start_time", formatSeconds(*query.Start))
	}
	if query.End != nil {
		params.Set("end_time", formatSeconds(*query.End))
	}

	var resp envelope[[]wireTrade]
	path := fmt.Sprintf("/markets/%s/trades", url.PathEscape(symbol))
	if err := c.rest.Get(ctx, path, params, &resp); err != nil {
		return exchange.TradePage{}, err
	}
	if !resp.Success {
		return exchange.TradePage{}, exchange.NewError(c.name, exchange.SchemaMismatch, fmt.Errorf("trades: %s", resp.Error))
	}

	page := exchange.TradePage{Order: exchange.Descending}
	page.Trades = make([]models.Trade, 0, len(resp.Result))
	for _, t := range resp.Result {
		page.Trades = append(page.Trades, toTrade(t))
	}
	if len(resp.Result) == 0 {
		return page, nil
	}

	earliest := resp.Result[len(resp.Result)-1].Time
	for _, t := range resp.Result {
		if t.Time.Before(earliest) {
			earliest = t.Time
		}
	}
	next := earliest
	if len(resp.Result) == limit && sameInstant(resp.Result) {
		// A full page at a single microsecond cannot advance on the
		// timestamp alone. Step back one microsecond and accept the
		// duplicate ids, dedup drops them downstream.
		next = earliest.Add(-time.Microsecond)
	}
	page.NextEnd = &next
	page.HasMore = len(resp.Result) == limit
	return page, nil
}

func (c *Client) GetDailyCandle(ctx context.Context, symbol string, day time.Time) (models.DailyCandle, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)
	params := url.Values{}
	params.Set("resolution", strconv.Itoa(dailyResolution))
	params.Set("start_time", strconv.FormatInt(start.Unix(), 10))
	params.Set("end_time", strconv.FormatInt(end.Add(-time.Second).Unix(), 10))

	var resp envelope[[]wireCandle]
	path := fmt.Sprintf("/markets/%s/candles", url.PathEscape(symbol))
	if err := c.rest.Get(ctx, path, params, &resp); err != nil {
		return models.DailyCandle{}, err
	}
	if !resp.Success {
		return models.DailyCandle{}, exchange.NewError(c.name, exchange.SchemaMismatch, fmt.Errorf("candles: %s", resp.Error))
	}
	for _, wc := range resp.Result {
		if wc.StartTime.UTC().Equal(start) {
			return models.DailyCandle{
				Datetime: start,
				Open:     wc.Open,
				High:     wc.High,
				Low:      wc.Low,
				Close:    wc.Close,
				Volume:   wc.Volume,
			}, nil
		}
	}
	return models.DailyCandle{}, exchange.NewError(c.name, exchange.InvalidRequest,
		fmt.Errorf("no daily candle for %s on %s", symbol, start.Format("2006-01-02")))
}

func toTrade(t wireTrade) models.Trade {
	return models.Trade{
		TradeID:     strconv.FormatInt(t.ID, 10),
		Price:       t.Price,
		Size:        t.Size,
		Side:        t.Side,
		Liquidation: t.Liquidation,
		Time:        t.Time.UTC(),
	}
}

func sameInstant(trades []wireTrade) bool {
	for _, t := range trades[1:] {
		if !t.Time.Equal(trades[0].Time) {
			return false
		}
	}
	return true
}

// formatSeconds renders t as fractional unix seconds with microsecond
// precision, the granularity FTX window parameters accept.
func formatSeconds(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixMicro())/1e6, 'f', 6, 64)
}
