package storage

import (
	"testing"

	"almejal/eldorado/internal/models"
	"almejal/eldorado/internal/timeframe"
)

func TestTradeTable(t *testing.T) {
	tests := []struct {
		name     string
		bucket   models.TradeBucket
		exchange string
		token    string
		want     string
		wantErr  bool
	}{
		{"ws bucket", models.BucketWs, "ftx", "btcperp", "trades_ws_ftx_btcperp", false},
		{"validated bucket", models.BucketValidated, "gdax", "btcusd", "trades_validated_gdax_btcusd", false},
		{"unstripped token", models.BucketRest, "ftx", "BTC-PERP", "", true},
		{"injection attempt", models.BucketRest, "ftx", "x; drop table", "", true},
		{"empty token", models.BucketRest, "ftx", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TradeTable(tt.bucket, tt.exchange, tt.token)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("TradeTable: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCandleTable(t *testing.T) {
	got, err := CandleTable(timeframe.T15, "ftxus")
	if err != nil {
		t.Fatalf("CandleTable: %v", err)
	}
	if got != "candles_t15_ftxus" {
		t.Errorf("got %q, want candles_t15_ftxus", got)
	}
	if _, err := CandleTable(timeframe.T15, "ftx us"); err == nil {
		t.Error("space in exchange name should be rejected")
	}
}
