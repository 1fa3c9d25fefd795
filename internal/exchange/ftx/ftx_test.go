package ftx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"almejal/eldorado/internal/exchange"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &Client{
		name:   exchange.NameFtx,
		rest:   exchange.NewRestCore(exchange.NameFtx, server.URL, ""),
		logger: logger,
	}
}

func TestListMarkets(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"success":true,"result":[
			{"name":"BTC/USD","baseCurrency":"BTC","quoteCurrency":"USD","type":"spot","enabled":true,"sizeIncrement":0.0001,"minProvideSize":0.0001},
			{"name":"BTC-PERP","baseCurrency":null,"quoteCurrency":null,"underlying":"BTC","type":"future","enabled":true,"sizeIncrement":0.0001,"minProvideSize":0.001}
		]}`))
	})

	markets, err := client.ListMarkets(context.Background())
	if err != nil {
		t.Fatalf("ListMarkets: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("got %d markets, want 2", len(markets))
	}
	if markets[0].Symbol != "BTC/USD" || markets[0].BaseCurrency != "BTC" {
		t.Errorf("spot market mismatch: %+v", markets[0])
	}
	if markets[1].Underlying != "BTC" || markets[1].BaseCurrency != "" {
		t.Errorf("future market mismatch: %+v", markets[1])
	}
}

func TestGetTradesPagesBackwards(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "3" {
			t.Errorf("limit = %s, want 3", got)
		}
		w.Write([]byte(`{"success":true,"result":[
			{"id":103,"price":"100.5","size":"1","side":"buy","liquidation":false,"time":"2021-06-01T12:00:03.500000+00:00"},
			{"id":102,"price":"100.4","size":"2","side":"sell","liquidation":true,"time":"2021-06-01T12:00:02.250000+00:00"},
			{"id":101,"price":"100.3","size":"0.5","side":"buy","liquidation":false,"time":"2021-06-01T12:00:01.000000+00:00"}
		]}`))
	})

	end := time.Date(2021, 6, 1, 12, 0, 4, 0, time.UTC)
	page, err := client.GetTrades(context.Background(), "BTC/USD", exchange.TradeQuery{End: &end, Limit: 3})
	if err != nil {
		t.Fatalf("GetTrades: %v", err)
	}
	if page.Order != exchange.Descending {
		t.Error("ftx pages should be descending")
	}
	if len(page.Trades) != 3 {
		t.Fatalf("got %d trades, want 3", len(page.Trades))
	}
	if page.Trades[0].TradeID != "103" {
		t.Errorf("first trade id = %s, want 103", page.Trades[0].TradeID)
	}
	if !page.HasMore {
		t.Error("full page should report HasMore")
	}
	wantNext := time.Date(2021, 6, 1, 12, 0, 1, 0, time.UTC)
	if page.NextEnd == nil || !page.NextEnd.Equal(wantNext) {
		t.Errorf("NextEnd = %v, want %v", page.NextEnd, wantNext)
	}
}

func TestGetTradesSingleMicrosecondPage(t *testing.T) {
	// A full page where every trade shares one timestamp must step the
	// window back a microsecond or pagination would loop forever.
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"result":[
			{"id":202,"price":"50","size":"1","side":"buy","liquidation":false,"time":"2021-06-01T12:00:05.123456+00:00"},
			{"id":201,"price":"50","size":"1","side":"sell","liquidation":false,"time":"2021-06-01T12:00:05.123456+00:00"}
		]}`))
	})

	page, err := client.GetTrades(context.Background(), "BTC/USD", exchange.TradeQuery{Limit: 2})
	if err != nil {
		t.Fatalf("GetTrades: %v", err)
	}
	shared := time.Date(2021, 6, 1, 12, 0, 5, 123456000, time.UTC)
	want := shared.Add(-time.Microsecond)
	if page.NextEnd == nil || !page.NextEnd.Equal(want) {
		t.Errorf("NextEnd = %v, want %v", page.NextEnd, want)
	}
}

func TestGetTradesEmptyWindow(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"result":[]}`))
	})

	page, err := client.GetTrades(context.Background(), "BTC/USD", exchange.TradeQuery{Limit: 100})
	if err != nil {
		t.Fatalf("GetTrades: %v", err)
	}
	if len(page.Trades) != 0 || page.HasMore || page.NextEnd != nil {
		t.Errorf("empty window should terminate pagination: %+v", page)
	}
}

func TestGetDailyCandle(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("resolution"); got != "86400" {
			t.Errorf("resolution = %s, want 86400", got)
		}
		w.Write([]byte(`{"success":true,"result":[
			{"startTime":"2021-06-01T00:00:00+00:00","open":"36700","high":"37900","low":"35666","close":"36680","volume":"1470934818.9"}
		]}`))
	})

	day := time.Date(2021, 6, 1, 8, 30, 0, 0, time.UTC)
	candle, err := client.GetDailyCandle(context.Background(), "BTC/USD", day)
	if err != nil {
		t.Fatalf("GetDailyCandle: %v", err)
	}
	if !candle.Datetime.Equal(time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("datetime = %v, want midnight", candle.Datetime)
	}
	if candle.Volume.String() != "1470934818.9" {
		t.Errorf("volume = %s", candle.Volume)
	}
}

func TestGetDailyCandleMissing(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"result":[]}`))
	})

	_, err := client.GetDailyCandle(context.Background(), "BTC/USD", time.Now())
	if !exchange.IsKind(err, exchange.InvalidRequest) {
		t.Errorf("missing candle should be InvalidRequest, got %v", err)
	}
}

func TestGetTradesAPIError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"success":false,"error":"rate limit"}`))
	})

	_, err := client.GetTrades(context.Background(), "BTC/USD", exchange.TradeQuery{})
	if !exchange.IsKind(err, exchange.RateLimited) {
		t.Errorf("429 should be RateLimited, got %v", err)
	}
}

func TestDecodeFrame(t *testing.T) {
	client := &Client{name: exchange.NameFtx, logger: logrus.New()}

	tests := []struct {
		name    string
		frame   string
		want    int
		wantErr bool
	}{
		{
			name:  "trade update",
			frame: `{"channel":"trades","market":"BTC-PERP","type":"update","data":[{"id":42,"price":"100.10","size":"0.5","side":"buy","liquidation":false,"time":"2021-06-01T12:00:00.050000+00:00"}]}`,
			want:  1,
		},
		{
			name:  "subscribed ack",
			frame: `{"type":"subscribed","channel":"trades","market":"BTC-PERP"}`,
			want:  0,
		},
		{
			name:  "pong",
			frame: `{"type":"pong"}`,
			want:  0,
		},
		{
			name:    "server error",
			frame:   `{"type":"error","code":400,"msg":"Already subscribed"}`,
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
				if trades[0].Symbol != "BTC-PERP" || trades[0].Trade.TradeID != "42" {
					t.Errorf("trade mismatch: %+v", trades[0])
				}
			}
		})
	}
}
