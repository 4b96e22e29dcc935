package provider

import (
	"context"
	"fmt"
)

var (
	// ErrSessionExists is returned by Start when the bridge already holds a
	// live session for the tenant.
	ErrSessionExists = fmt.Errorf("provider: session already exists")
	// ErrUnavailable is returned when the bridge is not accepting work
	// (circuit open).
	ErrUnavailable = fmt.Errorf("provider: unavailable")
)

// SessionProvider is the boundary to the external component that owns the
// actual messaging-network connection per tenant.
type SessionProvider interface {
	// Start asks the provider to begin a connection handshake for the
	// tenant. The handshake itself is asynchronous: progress arrives as
	// events, not as the return value.
	Start(ctx context.Context, tenantID string) error
	// ForceDelete tears down any provider-side session. Best-effort;
	// callers swallow the error.
	ForceDelete(ctx context.Context, tenantID string) error
	// Send delivers one text message through the tenant's session.
	Send(ctx context.Context, tenantID, recipient, text string) error
	// Groups lists the chat groups visible to the tenant's session.
	Groups(ctx context.Context, tenantID string) ([]Group, error)
	// Subscribe registers an event handler. Call before any session is
	// started; handlers are fanned out in registration order.
	Subscribe(h EventHandler)
}

// Group is one chat group of a connected session.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EventHandler receives asynchronous session lifecycle events. Events may
// arrive at any time, in any order, possibly duplicated.
type EventHandler interface {
	OnPairingUpdated(tenantID, payload string)
	OnConnected(tenantID string)
	OnDisconnected(tenantID string)
}

// EventKind names the wire-level event types delivered by the bridge webhook.
type EventKind string

const (
	EventPairingUpdated EventKind = "pairing_updated"
	EventConnected      EventKind = "connected"
	EventDisconnected   EventKind = "disconnected"
)

// Event is the webhook payload shape.
type Event struct {
	Kind     EventKind `json:"kind"`
	TenantID string    `json:"tenant_id"`
	Payload  string    `json:"payload,omitempty"` // raw pairing code for pairing_updated
}
