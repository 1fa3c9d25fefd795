package gdax

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"almejal/eldorado/internal/exchange"
	"almejal/eldorado/internal/models"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &Client{
		name:   exchange.NameGdax,
		rest:   exchange.NewRestCore(exchange.NameGdax, server.URL, userAgent),
		logger: logger,
	}
}

func TestListMarkets(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != userAgent {
			t.Errorf("User-Agent = %q, want %q", got, userAgent)
		}
		w.Write([]byte(`[
			{"id":"BTC-USD","base_currency":"BTC","quote_currency":"USD","base_increment":"0.00000001","base_min_size":"0.0001","status":"online","trading_disabled":false},
			{"id":"OLD-USD","base_currency":"OLD","quote_currency":"USD","base_increment":"0.01","base_min_size":"1","status":"delisted","trading_disabled":true}
		]`))
	})

	markets, err := client.ListMarkets(context.Background())
	if err != nil {
		t.Fatalf("ListMarkets: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("got %d markets, want 2", len(markets))
	}
	if !markets[0].Enabled || markets[0].Symbol != "BTC-USD" {
		t.Errorf("live product mismatch: %+v", markets[0])
	}
	if markets[1].Enabled {
		t.Error("delisted product should be disabled")
	}
}

func TestGetTradesCursor(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("after"); got != "500" {
			t.Errorf("after = %s, want 500", got)
		}
		w.Write([]byte(`[
			{"trade_id":499,"price":"100.10","size":"0.25","side":"sell","time":"2021-06-01T12:00:02.000000Z"},
			{"trade_id":498,"price":"100.05","size":"1.5","side":"buy","time":"2021-06-01T12:00:01.000000Z"}
		]`))
	})

	page, err := client.GetTrades(context.Background(), "BTC-USD", exchange.TradeQuery{AfterID: "500", Limit: 2})
	if err != nil {
		t.Fatalf("GetTrades: %v", err)
	}
	if page.Order != exchange.Descending {
		t.Error("gdax pages should be descending")
	}
	if page.NextAfterID != "498" {
		t.Errorf("NextAfterID = %s, want 498", page.NextAfterID)
	}
	if !page.HasMore {
		t.Error("full page above id 1 should report HasMore")
	}
	// Maker sell means the taker bought.
	if page.Trades[0].Side != models.SideBuy {
		t.Errorf("side = %s, want flipped to buy", page.Trades[0].Side)
	}
	if page.Trades[1].Side != models.SideSell {
		t.Errorf("side = %s, want flipped to sell", page.Trades[1].Side)
	}
}

func TestGetTradesStopsAtFirstTrade(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"trade_id":2,"price":"1","size":"1","side":"buy","time":"2016-01-01T00:00:01Z"},
			{"trade_id":1,"price":"1","size":"1","side":"buy","time":"2016-01-01T00:00:00Z"}
		]`))
	})

	page, err := client.GetTrades(context.Background(), "BTC-USD", exchange.TradeQuery{Limit: 2})
	if err != nil {
		t.Fatalf("GetTrades: %v", err)
	}
	if page.HasMore {
		t.Error("page reaching trade id 1 should not report HasMore")
	}
}

func TestGetTradesStopsBeforeStart(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"trade_id":100,"price":"1","size":"1","side":"buy","time":"2021-06-01T00:00:00Z"},
			{"trade_id":99,"price":"1","size":"1","side":"buy","time":"2021-05-30T00:00:00Z"}
		]`))
	})

	start := time.Date(2021, 5, 31, 0, 0, 0, 0, time.UTC)
	page, err := client.GetTrades(context.Background(), "BTC-USD", exchange.TradeQuery{Start: &start, Limit: 2})
	if err != nil {
		t.Fatalf("GetTrades: %v", err)
	}
	if page.HasMore {
		t.Error("page crossing the start boundary should not report HasMore")
	}
}

func TestGetTradesBadCursor(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not be sent for a bad cursor")
	})

	_, err := client.GetTrades(context.Background(), "BTC-USD", exchange.TradeQuery{AfterID: "not-a-number"})
	if !exchange.IsKind(err, exchange.InvalidRequest) {
		t.Errorf("bad cursor should be InvalidRequest, got %v", err)
	}
}

func TestGetDailyCandle(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("granularity"); got != "86400" {
			t.Errorf("granularity = %s, want 86400", got)
		}
		// [ time, low, high, open, close, volume ]
		w.Write([]byte(`[[1622505600,35666.0,37900.0,36700.0,36680.5,40123.75]]`))
	})

	candle, err := client.GetDailyCandle(context.Background(), "BTC-USD", time.Date(2021, 6, 1, 15, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("GetDailyCandle: %v", err)
	}
	if candle.Open.String() != "36700" || candle.Close.String() != "36680.5" {
		t.Errorf("open/close mismatch: %s %s", candle.Open, candle.Close)
	}
	if candle.Low.String() != "35666" || candle.High.String() != "37900" {
		t.Errorf("low/high mismatch: %s %s", candle.Low, candle.High)
	}
	if candle.Volume.String() != "40123.75" {
		t.Errorf("volume = %s", candle.Volume)
	}
}

func TestDecodeFrame(t *testing.T) {
	client := &Client{name: exchange.NameGdax, logger: logrus.New()}

	tests := []struct {
		name    string
		frame   string
		want    int
		wantErr bool
	}{
		{
			name:  "match",
			frame: `{"type":"match","trade_id":74,"product_id":"BTC-USD","price":"100.10","size":"0.5","side":"sell","time":"2021-06-01T12:00:00.050000Z"}`,
			want:  1,
		},
		{
			name:  "last_match replay",
			frame: `{"type":"last_match","trade_id":73,"product_id":"BTC-USD","price":"100.00","size":"1","side":"buy","time":"2021-06-01T11:59:59Z"}`,
			want:  0,
		},
		{
			name:  "heartbeat",
			frame: `{"type":"heartbeat","product_id":"BTC-USD","sequence":90}`,
			want:  0,
		},
		{
			name:    "error",
			frame:   `{"type":"error","message":"Failed to subscribe","reason":"product not found"}`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trades, err := client.decodeFrame([]byte(tt.frame))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeFrame: %v", err)
			}
			if len(trades) != tt.want {
				t.Fatalf("got %d trades, want %d", len(trades), tt.want)
			}
			if tt.want > 0 {
				if trades[0].Symbol != "BTC-USD" || trades[0].Trade.Side != models.SideBuy {
					t.Errorf("trade mismatch: %+v", trades[0])
				}
			}
		})
	}
}
