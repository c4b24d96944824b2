package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dkeye/tsstatus/internal/core"
)

type mutableStatus struct {
	mu     sync.Mutex
	report core.StatusReport
}

func (m *mutableStatus) Status() core.StatusReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.report
}

func (m *mutableStatus) set(conn string) {
	m.mu.Lock()
	m.report.Connection = conn
	m.mu.Unlock()
}

type wsFrame struct {
	Type       string `json:"type"`
	Connection string `json:"connection"`
}

func dialStatus(t *testing.T, cfg Config, status core.StatusProvider) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := httptest.NewServer(SetupRouter(ctx, cfg, status))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/status"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// readUntil skips frames until one of the wanted type arrives.
func readUntil(t *testing.T, ws *websocket.Conn, typ string, match func(wsFrame) bool) wsFrame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		var f wsFrame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		if f.Type == typ && (match == nil || match(f)) {
			return f
		}
	}
}

func TestStatusStream_PushesChanges(t *testing.T) {
	st := &mutableStatus{report: core.StatusReport{Connection: "connecting"}}
	ws := dialStatus(t, Config{Mode: "test", StreamInterval: 10 * time.Millisecond}, st)

	first := readUntil(t, ws, "status", nil)
	if first.Connection != "connecting" {
		t.Fatalf("first frame = %+v", first)
	}

	st.set("connected")
	readUntil(t, ws, "status", func(f wsFrame) bool { return f.Connection == "connected" })
}

func TestStatusStream_PingAndRefresh(t *testing.T) {
	st := &mutableStatus{report: core.StatusReport{Connection: "connected"}}
	ws := dialStatus(t, Config{Mode: "test", StreamInterval: time.Hour}, st)
	readUntil(t, ws, "status", nil)

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, ws, "pong", nil)

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"status"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, ws, "status", nil)
}

func TestStatusStream_RequiresTokenWhenConfigured(t *testing.T) {
	srv := httptest.NewServer(SetupRouter(context.Background(), Config{Mode: "test", JWTSecret: "k"}, &mutableStatus{}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/status"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("resp = %v", resp)
	}
}

func TestConnRateLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewConnRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	if !rl.Allow("1.2.3.4") || !rl.Allow("1.2.3.4") {
		t.Fatal("first two must pass")
	}
	if rl.Allow("1.2.3.4") {
		t.Fatal("third inside the window must be refused")
	}
	if !rl.Allow("5.6.7.8") {
		t.Fatal("keys are independent")
	}
	now = now.Add(61 * time.Second)
	if !rl.Allow("1.2.3.4") {
		t.Fatal("window should have slid")
	}
}

func TestConnRateLimiter_ForgetsIdleClients(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewConnRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		rl.Allow(ip)
	}
	if len(rl.history) != 3 {
		t.Fatalf("tracked %d clients", len(rl.history))
	}

	now = now.Add(2 * time.Minute)
	rl.Allow("10.0.0.4")
	if len(rl.history) != 1 {
		t.Fatalf("idle clients kept: %v", rl.history)
	}
	if _, ok := rl.history["10.0.0.4"]; !ok {
		t.Fatal("current client missing")
	}
}
