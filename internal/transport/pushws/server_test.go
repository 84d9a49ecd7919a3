package pushws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"proofwatch/internal/metric"
	"proofwatch/internal/ports"
)

type recordingSink struct {
	mu   sync.Mutex
	seen []ports.EventCreate
}

func (s *recordingSink) HandleEvent(_ context.Context, input ports.EventCreate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, input)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func (s *recordingSink) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.count() >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("sink received %d events, want %d", s.count(), n)
}

func startServer(t *testing.T) (*httptest.Server, *recordingSink, string) {
	t.Helper()

	sink := &recordingSink{}
	srv := httptest.NewServer(http.HandlerFunc(NewServer(sink, metric.New()).ServeHTTP))
	t.Cleanup(srv.Close)
	return srv, sink, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialRaw(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func TestServerHandlesEventFrame(t *testing.T) {
	_, sink, url := startServer(t)

	client := NewClient(ClientConfig{URL: url, ConnectDelay: 10 * time.Millisecond})
	input := ports.EventCreate{
		Prover:      "0xaabbccddeeff00112233445566778899aabbccdd",
		Result:      true,
		Timestamp:   1700000000,
		BlockNumber: 100,
		TxHash:      "0xabc",
	}
	if err := client.NotifyEvent(context.Background(), input); err != nil {
		t.Fatalf("NotifyEvent() error = %v", err)
	}

	sink.waitFor(t, 1)
	if sink.seen[0] != input {
		t.Fatalf("sink received %+v", sink.seen[0])
	}
}

func TestServerIgnoresUnknownType(t *testing.T) {
	_, sink, url := startServer(t)
	conn := dialRaw(t, url)

	unknown := `{"type":"heartbeat","data":{}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(unknown)); err != nil {
		t.Fatalf("write unknown frame: %v", err)
	}

	event := `{"type":"blockchain_event","data":{"prover":"0xaa","result":true,"timestamp":1,"block_number":2,"transaction_hash":"0xabc"}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(event)); err != nil {
		t.Fatalf("write event frame: %v", err)
	}

	// The event after the unknown frame still arrives, so the session
	// survived it.
	sink.waitFor(t, 1)
}

func TestServerClosesSessionOnMalformedFrame(t *testing.T) {
	_, sink, url := startServer(t)
	conn := dialRaw(t, url)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write malformed frame: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("server should close the session after a malformed frame")
	}
	if sink.count() != 0 {
		t.Fatalf("sink received %d events from a malformed session", sink.count())
	}
}

func TestClientBoundedConnectRetry(t *testing.T) {
	client := NewClient(ClientConfig{
		URL:             "ws://127.0.0.1:1/ws",
		ConnectAttempts: 2,
		ConnectDelay:    10 * time.Millisecond,
	})

	start := time.Now()
	err := client.Connect(context.Background())
	if err == nil {
		t.Fatal("Connect() to a dead endpoint should fail")
	}
	if client.Connected() {
		t.Fatal("client must stay disconnected after exhausted attempts")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("retry not bounded, took %v", elapsed)
	}
}

func TestClientReconnectsOnWriteFailure(t *testing.T) {
	srv, sink, url := startServer(t)

	client := NewClient(ClientConfig{URL: url, ConnectDelay: 10 * time.Millisecond})
	input := ports.EventCreate{Prover: "0xaa", Result: true, BlockNumber: 1, TxHash: "0x01"}
	if err := client.NotifyEvent(context.Background(), input); err != nil {
		t.Fatalf("NotifyEvent() error = %v", err)
	}
	sink.waitFor(t, 1)

	// Kill the transport underneath the client. A buffered write can still
	// look successful right after the drop, so keep sending until the
	// event lands on a fresh session.
	srv.CloseClientConnections()
	time.Sleep(50 * time.Millisecond)

	input.TxHash = "0x02"
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && sink.count() < 2 {
		_ = client.NotifyEvent(context.Background(), input)
		time.Sleep(20 * time.Millisecond)
	}
	sink.waitFor(t, 2)
}
