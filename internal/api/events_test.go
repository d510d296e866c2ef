package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sydlexius/intake/internal/event"
)

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Clients() == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("hub has %d clients, want %d", h.Clients(), n)
}

func TestEventsWebsocket(t *testing.T) {
	env := newTestEnv(t, "")
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	waitForClients(t, env.router.hub, 1)

	env.bus.Publish(event.Event{
		Type: event.SyncCompleted,
		Data: map[string]any{"synced": 4, "failed": 3},
	})

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	var got event.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	if got.Type != event.SyncCompleted {
		t.Errorf("type = %s", got.Type)
	}
	if got.Data["synced"] != float64(4) {
		t.Errorf("data = %v", got.Data)
	}

	conn.Close() //nolint:errcheck
	waitForClients(t, env.router.hub, 0)
}

func TestEventsWebsocket_RejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t, "")
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events"
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
	waitForClients(t, env.router.hub, 0)
}

func TestHub_CloseRejectsNewClients(t *testing.T) {
	h := NewHub(testLogger())
	c, ok := h.register()
	if !ok {
		t.Fatal("register failed on open hub")
	}

	h.Close()
	if _, open := <-c.send; open {
		t.Error("client channel should be closed")
	}
	if _, ok := h.register(); ok {
		t.Error("register should fail after Close")
	}
	h.Close()
}

func TestHub_CloseDetachesFromBus(t *testing.T) {
	bus := event.NewBus(testLogger(), 16)
	h := NewHub(testLogger())
	h.Attach(bus)
	if len(h.detach) != 1 {
		t.Fatalf("detach funcs = %d, want 1", len(h.detach))
	}

	h.Close()
	if h.detach != nil {
		t.Error("Close should release bus subscriptions")
	}
	h.Attach(bus)
	if h.detach != nil {
		t.Error("Attach after Close should not subscribe")
	}
}

func TestHub_BroadcastDropsForLaggingClient(t *testing.T) {
	h := NewHub(testLogger())
	c, _ := h.register()

	for i := 0; i < wsClientSize+10; i++ {
		h.Broadcast(event.Event{Type: event.ScanProgress})
	}
	if got := len(c.send); got != wsClientSize {
		t.Errorf("queued = %d, want %d", got, wsClientSize)
	}
	h.unregister(c)
	if h.Clients() != 0 {
		t.Error("expected client removed")
	}
}

func TestLoopbackOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:5173", true},
		{"http://127.0.0.1:3000", true},
		{"http://[::1]:3000", true},
		{"http://intake.local:8484", true},
		{"https://evil.example", false},
		{"::bad", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "http://intake.local:8484/api/v1/events", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		if got := loopbackOrigin(req); got != tt.want {
			t.Errorf("loopbackOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}
