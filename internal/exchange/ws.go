package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// Websocket connection timeouts and intervals.
	InitialReconnectDelay = 1 * time.Second
	MaxReconnectDelay     = 60 * time.Second
	HandshakeTimeout      = 5 * time.Second
	ReadTimeout           = 60 * time.Second
	WriteTimeout          = 10 * time.Second
	PingInterval          = 30 * time.Second

	streamBuffer = 1024
)

// WsConfig holds websocket-specific configuration for one venue.
type WsConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
}

// DefaultWsConfig returns the defaults shared by all venue feeds.
func DefaultWsConfig(wsURL string) *WsConfig {
	return &WsConfig{
		URL:              wsURL,
		HandshakeTimeout: HandshakeTimeout,
		ReadTimeout:      ReadTimeout,
		WriteTimeout:     WriteTimeout,
		PingInterval:     PingInterval,
	}
}

// WsWorker owns one reconnecting websocket connection. Adapters plug in the
// venue protocol via the hooks: OnSubscribe sends the subscription frames,
// OnMessage decodes one wire frame into zero or more trades.
type WsWorker struct {
	Config *WsConfig
	Logger *logrus.Logger

	OnConnect   func(conn *websocket.Conn) error
	OnSubscribe func(conn *websocket.Conn, symbols []string) error
	OnMessage   func(frame []byte) ([]StreamTrade, error)
}

// NewWsWorker creates a worker for a venue feed.
func NewWsWorker(config *WsConfig, logger *logrus.Logger) *WsWorker {
	return &WsWorker{Config: config, Logger: logger}
}

// Run connects, subscribes and pumps trades until ctx is cancelled,
// reconnecting with exponential backoff on connection failures. The returned
// stream's channels are closed when the worker exits.
func (w *WsWorker) Run(ctx context.Context, symbols []string) *Stream {
	trades := make(chan StreamTrade, streamBuffer)
	errs := make(chan error, 1)

	go func() {
		defer close(trades)
		defer close(errs)

		delay := InitialReconnectDelay
		for {
			err := w.handleConnection(ctx, symbols, trades)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				w.Logger.WithError(err).Warnf("websocket dropped, reconnecting in %v", delay)
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
				if delay *= 2; delay > MaxReconnectDelay {
					delay = MaxReconnectDelay
				}
				continue
			}
			delay = InitialReconnectDelay
		}
	}()

	return &Stream{Trades: trades, Err: errs}
}

// handleConnection manages a single connection lifecycle: dial, subscribe,
// read loop with idle deadline, ping keepalive.
func (w *WsWorker) handleConnection(ctx context.Context, symbols []string, out chan<- StreamTrade) error {
	dialer := websocket.Dialer{HandshakeTimeout: w.Config.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, w.Config.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.Config.URL, err)
	}
	defer conn.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn.SetPingHandler(func(message string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(message), time.Now().Add(w.Config.WriteTimeout))
	})

	if w.OnConnect != nil {
		if err := w.OnConnect(conn); err != nil {
			return fmt.Errorf("connect handshake: %w", err)
		}
	}
	if w.OnSubscribe != nil {
		if err := w.OnSubscribe(conn, symbols); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}
	w.Logger.Infof("websocket connected, %d symbols", len(symbols))

	// Close the connection when the context ends so the blocked read
	// returns instead of waiting for the idle deadline.
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	pingTicker := time.NewTicker(w.Config.PingInterval)
	defer pingTicker.Stop()
	go func() {
		for {
			select {
			case <-connCtx.Done():
				return
			case <-pingTicker.C:
				conn.SetWriteDeadline(time.Now().Add(w.Config.WriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(w.Config.ReadTimeout))
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		trades, err := w.OnMessage(frame)
		if err != nil {
			w.Logger.WithError(err).Warn("unparseable websocket frame")
			continue
		}
		for _, t := range trades {
			select {
			case out <- t:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// WriteJSON sends v on conn with the configured write deadline.
func (w *WsWorker) WriteJSON(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(w.Config.WriteTimeout))
	return conn.WriteJSON(v)
}
