package ftx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"almejal/eldorado/internal/exchange"
)

// FTX expects an application level ping at least every 15 seconds on top of
// the protocol level one.
const appPingInterval = 15 * time.Second

type wsRequest struct {
	Op      string `json:"op"`
	Channel string `json:"channel,omitempty"`
	Market  string `json:"market,omitempty"`
}

type wsMessage struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	Market  string          `json:"market"`
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

// SubscribeTrades opens the trades channel for each symbol and streams
// decoded trades until ctx is cancelled.
func (c *Client) SubscribeTrades(ctx context.Context, symbols []string) (*exchange.Stream, error) {
	if len(symbols) == 0 {
		return nil, exchange.NewError(c.name, exchange.InvalidRequest, fmt.Errorf("no symbols to subscribe"))
	}

	config := exchange.DefaultWsConfig(c.wsURL)
	config.PingInterval = appPingInterval
	worker := exchange.NewWsWorker(config, c.logger)

	worker.OnSubscribe = func(conn *websocket.Conn, symbols []string) error {
		for _, symbol := range symbols {
			req := wsRequest{Op: "subscribe", Channel: "trades", Market: symbol}
			if err := worker.WriteJSON(conn, req); err != nil {
				return fmt.Errorf("subscribe %s: %w", symbol, err)
			}
		}
		return nil
	}
	// FTX ignores protocol pings, keepalive is an op frame.
	worker.OnConnect = func(conn *websocket.Conn) error {
		go func() {
			ticker := time.NewTicker(appPingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := worker.WriteJSON(conn, wsRequest{Op: "ping"}); err != nil {
						return
					}
				}
			}
		}()
		return nil
	}
	worker.OnMessage = c.decodeFrame

	return worker.Run(ctx, symbols), nil
}

func (c *Client) decodeFrame(frame []byte) ([]exchange.StreamTrade, error) {
	var msg wsMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	switch msg.Type {
	case "update":
	case "error":
		return nil, fmt.Errorf("server error %d: %s", msg.Code, msg.Msg)
	default:
		// subscribed, pong, info frames carry no trades
		return nil, nil
	}
	if msg.Channel != "trades" {
		return nil, nil
	}

	var wire []wireTrade
	if err := json.Unmarshal(msg.Data, &wire); err != nil {
		return nil, fmt.Errorf("decode trades for %s: %w", msg.Market, err)
	}
	out := make([]exchange.StreamTrade, 0, len(wire))
	for _, t := range wire {
		out = append(out, exchange.StreamTrade{Symbol: msg.Market, Trade: toTrade(t)})
	}
	return out, nil
}
