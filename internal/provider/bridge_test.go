package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type recordingHandler struct {
	pairings  []string
	connected []string
	dropped   []string
}

func (r *recordingHandler) OnPairingUpdated(tenantID, payload string) {
	r.pairings = append(r.pairings, tenantID+":"+payload)
}
func (r *recordingHandler) OnConnected(tenantID string)    { r.connected = append(r.connected, tenantID) }
func (r *recordingHandler) OnDisconnected(tenantID string) { r.dropped = append(r.dropped, tenantID) }

func TestBridgeStart(t *testing.T) {
	var gotPath, gotMethod string
	status := http.StatusOK

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		w.WriteHeader(status)
	}))
	defer srv.Close()

	b := NewBridge(srv.URL, 1000, 3, 1000)

	if err := b.Start(context.Background(), "acme"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/sessions/acme/start" {
		t.Fatalf("unexpected request %s %s", gotMethod, gotPath)
	}

	status = http.StatusConflict
	if err := b.Start(context.Background(), "acme"); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists on 409, got %v", err)
	}

	status = http.StatusInternalServerError
	if err := b.Start(context.Background(), "acme"); err == nil {
		t.Fatalf("expected error on 500")
	}
}

func TestBridgeForceDeleteToleratesMissingSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	b := NewBridge(srv.URL, 1000, 3, 1000)
	if err := b.ForceDelete(context.Background(), "acme"); err != nil {
		t.Fatalf("ForceDelete on missing session: %v", err)
	}
}

func TestBridgeSendBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req sendReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.To == "" {
			t.Errorf("bad send body: %v %+v", err, req)
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	b := NewBridge(srv.URL, 1000, 2, 60_000)

	for i := 0; i < 2; i++ {
		if err := b.Send(context.Background(), "acme", "+15550001111", "hi"); err == nil {
			t.Fatalf("expected send %d to fail", i)
		}
	}

	// Two failures tripped the breaker; the next call is rejected locally.
	err := b.Send(context.Background(), "acme", "+15550001111", "hi")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from open breaker, got %v", err)
	}
}

func TestBridgeGroups(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/sessions/acme/groups" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"g1","name":"general"},{"id":"g2","name":"ops"}]`))
	}))
	defer srv.Close()

	b := NewBridge(srv.URL, 1000, 3, 1000)
	groups, err := b.Groups(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Groups: %v", err)
	}
	if len(groups) != 2 || groups[0].ID != "g1" || groups[1].Name != "ops" {
		t.Fatalf("unexpected groups %+v", groups)
	}
}

func TestBridgeGroupsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	b := NewBridge(srv.URL, 1000, 3, 1000)
	if _, err := b.Groups(context.Background(), "acme"); err == nil {
		t.Fatalf("expected error on 404")
	}
}

func TestBridgeHandleEventFansOut(t *testing.T) {
	b := NewBridge("http://unused", 1000, 3, 1000)
	first := &recordingHandler{}
	second := &recordingHandler{}
	b.Subscribe(first)
	b.Subscribe(second)

	b.HandleEvent(Event{Kind: EventPairingUpdated, TenantID: "acme", Payload: "raw"})
	b.HandleEvent(Event{Kind: EventConnected, TenantID: "acme"})
	b.HandleEvent(Event{Kind: EventDisconnected, TenantID: "acme"})

	for i, h := range []*recordingHandler{first, second} {
		if len(h.pairings) != 1 || h.pairings[0] != "acme:raw" {
			t.Fatalf("handler %d pairings: %v", i, h.pairings)
		}
		if len(h.connected) != 1 || len(h.dropped) != 1 {
			t.Fatalf("handler %d missed lifecycle events", i)
		}
	}
}
