package hub

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// dialPair upgrades one server-side connection, attaches it to the hub for
// the tenant, and returns the client end.
func dialPair(t *testing.T, h *Hub, tenantID string) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	attached := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		h.Attach(tenantID, ws)
		close(attached)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	select {
	case <-attached:
	case <-time.After(2 * time.Second):
		t.Fatalf("server never attached")
	}
	return client
}

func readText(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(data)
}

func TestBroadcastReachesTenantObservers(t *testing.T) {
	h := New()
	a := dialPair(t, h, "acme")
	b := dialPair(t, h, "acme")

	h.Broadcast("acme", []byte(`{"event":"pairing"}`))

	for _, ws := range []*websocket.Conn{a, b} {
		if got := readText(t, ws); got != `{"event":"pairing"}` {
			t.Fatalf("observer got %q", got)
		}
	}
}

func TestBroadcastIsTenantScoped(t *testing.T) {
	h := New()
	acme := dialPair(t, h, "acme")
	other := dialPair(t, h, "foobar")

	h.Broadcast("acme", []byte("secret"))
	h.Broadcast("foobar", []byte("theirs"))

	if got := readText(t, acme); got != "secret" {
		t.Fatalf("acme observer got %q", got)
	}
	// The first frame foobar sees must be its own event, not acme's.
	if got := readText(t, other); got != "theirs" {
		t.Fatalf("foobar observer got %q", got)
	}
}

func TestBroadcastJSON(t *testing.T) {
	h := New()
	ws := dialPair(t, h, "acme")

	if err := h.BroadcastJSON("acme", map[string]string{"event": "connected"}); err != nil {
		t.Fatalf("BroadcastJSON: %v", err)
	}
	if got := readText(t, ws); got != `{"event":"connected"}` {
		t.Fatalf("observer got %q", got)
	}
}

func TestDetachRemovesObserver(t *testing.T) {
	h := New()
	_ = dialPair(t, h, "acme")

	if n := h.ObserverCount("acme"); n != 1 {
		t.Fatalf("expected 1 observer, got %d", n)
	}

	// Grab the attached conn and detach it twice.
	h.mu.RLock()
	var c *Conn
	for _, v := range h.conns {
		c = v
	}
	h.mu.RUnlock()

	h.Detach(c)
	h.Detach(c) // idempotent

	if n := h.ObserverCount("acme"); n != 0 {
		t.Fatalf("expected 0 observers after detach, got %d", n)
	}
}

func TestBroadcastToAbsentTenantIsNoOp(t *testing.T) {
	h := New()
	h.Broadcast("nobody", []byte("hello")) // must not panic
	if n := h.ObserverCount("nobody"); n != 0 {
		t.Fatalf("phantom observers: %d", n)
	}
}
