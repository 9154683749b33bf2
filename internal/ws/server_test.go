package ws

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/obiente/translate/livescribe/internal/audio"
	"github.com/obiente/translate/livescribe/internal/capture"
	"github.com/obiente/translate/livescribe/internal/session"
	"github.com/obiente/translate/livescribe/internal/whisper"
)

type clientCounter struct{ connected, disconnected chan struct{} }

func (c clientCounter) ClientConnected() { c.connected <- struct{}{} }

func (c clientCounter) ClientDisconnected() { c.disconnected <- struct{}{} }

func newTestServer(t *testing.T, feed bool, configure ...func(*Server)) (*httptest.Server, *session.Controller, clientCounter) {
	t.Helper()
	opener := &audio.StreamOpener{BufferMillis: 100, IdleTimeout: 20 * time.Millisecond}
	ctrl := session.New(
		whisper.NewStubEngine(zerolog.Nop(), true),
		opener,
		capture.ModelPathFunc(func(context.Context) (string, error) { return "", nil }),
		session.Options{CaptureAllowed: true, Logger: zerolog.Nop()},
	)
	counter := clientCounter{connected: make(chan struct{}, 1), disconnected: make(chan struct{}, 1)}
	var feeder Feeder
	if feed {
		feeder = opener
	}
	server := NewServer(ctrl, feeder, counter, zerolog.Nop())
	for _, fn := range configure {
		fn(server)
	}
	srv := httptest.NewServer(http.HandlerFunc(server.Handle))
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = ctrl.Shutdown(ctx)
	})
	return srv, ctrl, counter
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// expect reads messages until one of type typ arrives.
func expect(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %q: %v", typ, err)
		}
		if msg["type"] == typ {
			return msg
		}
	}
}

func TestStreamedChunksAreTranscribed(t *testing.T) {
	srv, ctrl, counter := newTestServer(t, true)
	conn := dial(t, srv)
	<-counter.connected

	hello := expect(t, conn, "hello")
	if status := hello["status"].(map[string]any); status["state"] != "idle" {
		t.Fatalf("unexpected hello %v", hello)
	}

	if err := conn.WriteJSON(map[string]any{"type": "start", "language": "en"}); err != nil {
		t.Fatal(err)
	}
	expect(t, conn, "started")

	pcm := make([]byte, 3200) // 100ms at 16kHz
	if err := conn.WriteJSON(map[string]any{
		"type":        "chunk",
		"data":        base64.StdEncoding.EncodeToString(pcm),
		"mime_type":   "audio/pcm",
		"sample_rate": 16000,
	}); err != nil {
		t.Fatal(err)
	}
	msg := expect(t, conn, "transcript")
	if msg["text"] != "[stub:en] 100ms" || msg["fullText"] != "[stub:en] 100ms " || msg["language"] != "en" {
		t.Fatalf("unexpected transcript %v", msg)
	}

	if err := conn.WriteJSON(map[string]any{"type": "toggle_language"}); err != nil {
		t.Fatal(err)
	}
	if msg := expect(t, conn, "language"); msg["language"] != "es" {
		t.Fatalf("unexpected language %v", msg)
	}

	if err := conn.WriteJSON(map[string]any{"type": "end"}); err != nil {
		t.Fatal(err)
	}
	expect(t, conn, "ended")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ctrl.Wait(ctx); err != nil {
		t.Fatalf("session did not end: %v", err)
	}
	if got := ctrl.Status().State; got != capture.Idle.String() {
		t.Fatalf("state = %s", got)
	}

	conn.Close()
	select {
	case <-counter.disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect not observed")
	}
}

func TestChunkRefusedWithoutFeed(t *testing.T) {
	srv, _, _ := newTestServer(t, false)
	conn := dial(t, srv)
	expect(t, conn, "hello")

	if err := conn.WriteJSON(map[string]any{"type": "chunk", "data": base64.StdEncoding.EncodeToString([]byte{0, 0})}); err != nil {
		t.Fatal(err)
	}
	if msg := expect(t, conn, "error"); !strings.Contains(msg["detail"].(string), "not accepted") {
		t.Fatalf("unexpected error %v", msg)
	}
}

func TestControlErrors(t *testing.T) {
	srv, _, _ := newTestServer(t, true)
	conn := dial(t, srv)
	expect(t, conn, "hello")

	cases := []struct {
		send   any
		detail string
	}{
		{map[string]any{"type": "bogus"}, "unknown message type"},
		{map[string]any{"type": "set_language", "language": "fr"}, "unsupported language"},
		{map[string]any{"type": "chunk", "data": "%%%"}, "invalid base64 audio"},
		{map[string]any{"type": "chunk", "data": base64.StdEncoding.EncodeToString([]byte{0, 0})}, "not capturing"},
	}
	for _, tc := range cases {
		if err := conn.WriteJSON(tc.send); err != nil {
			t.Fatal(err)
		}
		msg := expect(t, conn, "error")
		if !strings.Contains(msg["detail"].(string), tc.detail) {
			t.Fatalf("sent %v, got %v", tc.send, msg)
		}
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{")); err != nil {
		t.Fatal(err)
	}
	if msg := expect(t, conn, "error"); msg["detail"] != "invalid json" {
		t.Fatalf("unexpected %v", msg)
	}
	if err := conn.WriteJSON(map[string]any{"type": "ping", "ts": 7}); err != nil {
		t.Fatal(err)
	}
	if msg := expect(t, conn, "pong"); msg["ts"] != float64(7) {
		t.Fatalf("unexpected %v", msg)
	}
}

func TestListeningClientOutlivesReadTimeout(t *testing.T) {
	srv, _, counter := newTestServer(t, false, func(s *Server) {
		s.ReadTimeout = 150 * time.Millisecond
		s.PingInterval = 40 * time.Millisecond
	})
	conn := dial(t, srv)
	<-counter.connected

	var pings atomic.Int32
	conn.SetPingHandler(func(data string) error {
		pings.Add(1)
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	msgs := make(chan map[string]any, 16)
	go func() {
		defer close(msgs)
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			msgs <- msg
		}
	}()

	// the client only listens for four read timeouts
	select {
	case <-counter.disconnected:
		t.Fatal("listening client was disconnected")
	case <-time.After(600 * time.Millisecond):
	}
	if n := pings.Load(); n < 2 {
		t.Fatalf("expected server pings, got %d", n)
	}

	if err := conn.WriteJSON(map[string]any{"type": "ping", "ts": 1}); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				t.Fatal("connection closed")
			}
			if msg["type"] == "pong" {
				return
			}
		case <-deadline:
			t.Fatal("no pong")
		}
	}
}
