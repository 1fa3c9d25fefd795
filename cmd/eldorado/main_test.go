package main

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"almejal/eldorado/configs"
	"almejal/eldorado/internal/exchange"
	"almejal/eldorado/internal/timeframe"
)

func TestMarketFromInfo(t *testing.T) {
	cfg := &configs.AppConfig{
		Exchange:  "ftx",
		TimeFrame: timeframe.T15,
		Mita:      "mita-2",
	}
	info := exchange.MarketInfo{
		Symbol:         "BTC-PERP",
		MarketType:     "perpetual",
		BaseCurrency:   "BTC",
		SizeIncrement:  decimal.RequireFromString("0.0001"),
		MinProvideSize: decimal.RequireFromString("0.001"),
		Enabled:        true,
	}

	market := marketFromInfo(cfg, info)

	// The registry insert carries the id; a zero uuid would collide on the
	// primary key for every market after the first.
	if market.MarketID == uuid.Nil {
		t.Fatal("market id must be generated, not zero")
	}
	if other := marketFromInfo(cfg, info); other.MarketID == market.MarketID {
		t.Error("each built market must get its own id")
	}

	if market.ExchangeName != "ftx" || market.MarketName != "BTC-PERP" {
		t.Errorf("identity = %s %s, want ftx BTC-PERP", market.ExchangeName, market.MarketName)
	}
	if market.TimeFrame != timeframe.T15 {
		t.Errorf("timeframe = %s, want t15", market.TimeFrame)
	}
	if market.BaseCurrency == nil || *market.BaseCurrency != "BTC" {
		t.Error("base currency not carried over")
	}
	if market.QuoteCurrency != nil {
		t.Error("empty quote currency must stay nil")
	}
	if market.Mita == nil || *market.Mita != "mita-2" {
		t.Error("mita tag not carried over")
	}
	if !market.Tradable {
		t.Error("enabled listing must be tradable")
	}
}
