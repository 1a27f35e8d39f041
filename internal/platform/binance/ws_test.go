package binance

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

// wsServer runs handler against each upgraded connection and closes it when
// the handler returns.
func wsServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenStreamDropsMalformedDepthEvents(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) {
		// An event with an unparseable price, then a good one. The first must
		// not end the session.
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"e":"depthUpdate","s":"BTCUSDT","U":5,"u":6,"b":[["oops","1"]],"a":[]}`))
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"e":"depthUpdate","s":"BTCUSDT","U":7,"u":8,"b":[["100","1"]],"a":[]}`))
		// Hold the connection until the client hangs up.
		conn.ReadMessage()
	})
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := NewStreamClient(wsURL(srv), quietLogger())
	deltas, _, err := c.OpenStream(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	select {
	case delta := <-deltas:
		if delta.FirstSeq != 7 || delta.FinalSeq != 8 {
			t.Errorf("seq range = [%d,%d], want [7,8] (malformed event skipped)",
				delta.FirstSeq, delta.FinalSeq)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the delta after the malformed event")
	}
}

func TestOpenStreamReleasesSessionOnReadFailure(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"e":"depthUpdate","s":"BTCUSDT","U":1,"u":2,"b":[["100","1"]],"a":[]}`))
		// Handler returns and the connection is dropped without a close
		// handshake, as a dying exchange endpoint would.
	})
	defer srv.Close()

	before := runtime.NumGoroutine()

	// The caller's context stays live for the whole test: session teardown
	// must not depend on it being cancelled.
	c := NewStreamClient(wsURL(srv), quietLogger())
	deltas, errs, err := c.OpenStream(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	select {
	case <-deltas:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the first delta")
	}
	if _, ok := <-deltas; ok {
		t.Error("delta channel delivered after the connection dropped, want closed")
	}
	if err := <-errs; err == nil {
		t.Error("stream error = nil, want read failure")
	}

	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := runtime.NumGoroutine(); got > before {
		t.Errorf("goroutines = %d after the session ended, want <= %d", got, before)
	}
}
