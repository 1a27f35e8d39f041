package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/driftware/depthbot/internal/crypto"
	"github.com/driftware/depthbot/internal/domain"
)

const (
	// handshakeTimeout bounds the WebSocket dial.
	handshakeTimeout = 15 * time.Second

	// readWait is the time allowed between messages before the connection is
	// considered dead. The exchange pings every few minutes; depth streams
	// tick far more often.
	readWait = 3 * time.Minute

	// deltaBuffer sizes the delta channel so a snapshot fetch downstream does
	// not immediately stall the read loop.
	deltaBuffer = 256
)

// StreamClient opens diff-depth WebSocket streams. Each OpenStream call is an
// independent connection; the feed supervisor owns reconnect policy.
type StreamClient struct {
	wsURL  string
	logger *slog.Logger
}

// NewStreamClient creates a stream client. wsURL is the stream root, e.g.
// "wss://stream.binance.com:9443".
func NewStreamClient(wsURL string, logger *slog.Logger) *StreamClient {
	return &StreamClient{
		wsURL:  strings.TrimRight(wsURL, "/"),
		logger: logger.With(slog.String("component", "binance_ws")),
	}
}

// OpenStream connects to the symbol's diff-depth stream. The returned delta
// channel is closed when the stream ends; exactly one error (nil on a clean
// close) is then delivered on the error channel.
func (s *StreamClient) OpenStream(ctx context.Context, symbol string) (<-chan domain.DeltaEvent, <-chan error, error) {
	endpoint := fmt.Sprintf("%s/ws/%s@depth@100ms", s.wsURL, strings.ToLower(symbol))

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("binance: dial %s: %w", endpoint, err)
	}

	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(payload string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		return conn.WriteControl(websocket.PongMessage, []byte(payload), time.Now().Add(10*time.Second))
	})

	deltas := make(chan domain.DeltaEvent, deltaBuffer)
	errs := make(chan error, 1)
	done := make(chan struct{})

	// Close the connection when the caller gives up so the read loop
	// unblocks. The done channel bounds this goroutine to the session: a
	// session that dies on its own must not pin the caller's context.
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	go func() {
		defer close(done)
		s.readLoop(ctx, conn, deltas, errs)
	}()

	s.logger.Info("depth stream opened", slog.String("symbol", symbol))
	return deltas, errs, nil
}

// readLoop reads and converts stream messages until the connection breaks.
// It owns the connection: whatever ends the loop, the socket is released.
func (s *StreamClient) readLoop(ctx context.Context, conn *websocket.Conn, deltas chan<- domain.DeltaEvent, errs chan<- error) {
	defer close(deltas)
	defer conn.Close()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				errs <- nil
				return
			}
			errs <- fmt.Errorf("binance: read stream: %w", err)
			return
		}
		conn.SetReadDeadline(time.Now().Add(readWait))

		var event wsDepthEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			s.logger.Debug("unparseable stream message skipped",
				slog.String("error", err.Error()),
				slog.Int("payload_len", len(payload)),
			)
			continue
		}
		if event.EventType != "depthUpdate" {
			continue
		}

		// A depth event that fails conversion is dropped like any other
		// unusable message; the missing update surfaces as a sequence gap
		// downstream and forces a resnapshot.
		delta, err := event.toDelta()
		if err != nil {
			s.logger.Warn("malformed depth event dropped",
				slog.String("error", err.Error()),
			)
			continue
		}

		select {
		case deltas <- delta:
		case <-ctx.Done():
			errs <- nil
			return
		}
	}
}

// Client bundles the REST and stream clients into the full exchange adapter:
// market data source, candle source, and execution gateway.
type Client struct {
	*RestClient
	*StreamClient
}

// NewClient creates the combined adapter.
func NewClient(baseURL, wsURL string, auth *crypto.HMACAuth, logger *slog.Logger) *Client {
	return &Client{
		RestClient:   NewRestClient(baseURL, auth),
		StreamClient: NewStreamClient(wsURL, logger),
	}
}

var (
	_ domain.MarketDataSource = (*Client)(nil)
	_ domain.CandleSource     = (*Client)(nil)
	_ domain.ExecutionGateway = (*Client)(nil)
)
