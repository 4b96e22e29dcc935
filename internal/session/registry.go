// Package session owns the per-tenant connection lifecycle: one state
// machine per tenant id, driven by asynchronous provider events.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wagate/wa-gateway/internal/logger"
	"github.com/wagate/wa-gateway/internal/metrics"
	"github.com/wagate/wa-gateway/internal/model"
	"github.com/wagate/wa-gateway/internal/pairing"
	"github.com/wagate/wa-gateway/internal/provider"
)

var (
	// ErrAlreadyActive means a start was requested while a session is
	// already connecting or connected. Benign for polling callers.
	ErrAlreadyActive = errors.New("session already active")
	// ErrNotFound means no session entry exists for the tenant.
	ErrNotFound = errors.New("session not found")
	// ErrNotConnected means the tenant is not authenticated and cannot send.
	ErrNotConnected = errors.New("session not connected")
)

// Record is a read-only snapshot of one tenant's session state.
type Record struct {
	Phase     model.Phase
	Artifact  string // display artifact, set only while pairing is pending
	UpdatedAt time.Time
}

// Registry holds session records keyed by tenant id. Commands and provider
// events for the same tenant may race; Connected/Disconnected events are
// authoritative overrides regardless of current phase (last-event-wins).
type Registry struct {
	provider provider.SessionProvider

	mu       sync.RWMutex
	sessions map[string]Record
}

// NewRegistry builds a registry and subscribes it to the provider's event
// stream. Subscription happens exactly once, here.
func NewRegistry(p provider.SessionProvider) *Registry {
	r := &Registry{
		provider: p,
		sessions: make(map[string]Record),
	}
	p.Subscribe(r)
	return r
}

// Start begins a connection for the tenant. Allowed only when no session
// exists or the previous one is disconnected; otherwise ErrAlreadyActive.
func (r *Registry) Start(ctx context.Context, tenantID string) error {
	r.mu.Lock()
	prev, existed := r.sessions[tenantID]
	if existed && prev.Phase != model.PhaseDisconnected {
		r.mu.Unlock()
		return ErrAlreadyActive
	}
	// Reserve the slot before the provider call so concurrent starts for
	// the same tenant collapse into one.
	reserved := Record{Phase: model.PhaseIdle, UpdatedAt: time.Now()}
	r.sessions[tenantID] = reserved
	r.mu.Unlock()

	if err := r.provider.Start(ctx, tenantID); err != nil {
		r.mu.Lock()
		// Roll back only while the reservation is still in place. An event
		// handled during the provider call is authoritative and stays.
		if cur, ok := r.sessions[tenantID]; ok && cur == reserved {
			if existed {
				r.sessions[tenantID] = prev
			} else {
				delete(r.sessions, tenantID)
			}
		}
		r.mu.Unlock()
		return fmt.Errorf("provider start: %w", err)
	}

	return nil
}

// ForceStart unconditionally tears down any provider-side session, resets
// the entry, and starts fresh. Teardown failures are logged and swallowed.
func (r *Registry) ForceStart(ctx context.Context, tenantID string) error {
	if err := r.provider.ForceDelete(ctx, tenantID); err != nil {
		logger.Log.Warn("force-start: teardown failed",
			zap.String("tenant_id", tenantID), zap.Error(err))
	}

	r.mu.Lock()
	delete(r.sessions, tenantID)
	r.mu.Unlock()

	return r.Start(ctx, tenantID)
}

// Delete removes the session entry regardless of phase. Provider-side
// teardown is best-effort; Delete itself never fails and is idempotent.
func (r *Registry) Delete(ctx context.Context, tenantID string) {
	if err := r.provider.ForceDelete(ctx, tenantID); err != nil {
		logger.Log.Warn("delete: provider teardown failed",
			zap.String("tenant_id", tenantID), zap.Error(err))
	}

	r.mu.Lock()
	delete(r.sessions, tenantID)
	r.mu.Unlock()
}

// Status returns the externally visible status for the tenant.
func (r *Registry) Status(tenantID string) model.Status {
	r.mu.RLock()
	rec, ok := r.sessions[tenantID]
	r.mu.RUnlock()

	if !ok {
		return model.StatusNotFound
	}
	return model.StatusOf(rec.Phase)
}

// Snapshot returns a copy of the tenant's record.
func (r *Registry) Snapshot(tenantID string) (Record, bool) {
	r.mu.RLock()
	rec, ok := r.sessions[tenantID]
	r.mu.RUnlock()
	return rec, ok
}

// Artifact returns the pending pairing artifact, if one is waiting for
// confirmation.
func (r *Registry) Artifact(tenantID string) (string, bool) {
	r.mu.RLock()
	rec, ok := r.sessions[tenantID]
	r.mu.RUnlock()

	if !ok || rec.Phase != model.PhasePairingIssued || rec.Artifact == "" {
		return "", false
	}
	return rec.Artifact, true
}

// Send delivers one message through the tenant's session. Fails with
// ErrNotConnected unless the tenant is authenticated.
func (r *Registry) Send(ctx context.Context, tenantID, recipient, text string) error {
	r.mu.RLock()
	rec, ok := r.sessions[tenantID]
	r.mu.RUnlock()

	if !ok || rec.Phase != model.PhaseAuthenticated {
		return ErrNotConnected
	}

	return r.provider.Send(ctx, tenantID, recipient, text)
}

// Groups lists the chat groups of the tenant's session. Same guard as Send.
func (r *Registry) Groups(ctx context.Context, tenantID string) ([]provider.Group, error) {
	r.mu.RLock()
	rec, ok := r.sessions[tenantID]
	r.mu.RUnlock()

	if !ok || rec.Phase != model.PhaseAuthenticated {
		return nil, ErrNotConnected
	}

	return r.provider.Groups(ctx, tenantID)
}

// ---- provider.EventHandler ----

// OnPairingUpdated stores the display artifact and promotes idle or
// disconnected entries to pairing-issued. A stale pairing event arriving
// after Connected does not demote the session.
func (r *Registry) OnPairingUpdated(tenantID, payload string) {
	metrics.SessionEventsTotal.WithLabelValues("pairing_updated").Inc()

	r.mu.Lock()
	rec, ok := r.sessions[tenantID]
	if ok && rec.Phase == model.PhaseAuthenticated {
		r.mu.Unlock()
		return
	}
	r.sessions[tenantID] = Record{
		Phase:     model.PhasePairingIssued,
		Artifact:  pairing.Artifact(payload),
		UpdatedAt: time.Now(),
	}
	r.mu.Unlock()

	logger.Log.Info("pairing artifact issued", zap.String("tenant_id", tenantID))
}

// OnConnected is authoritative: any phase becomes authenticated and the
// artifact is cleared.
func (r *Registry) OnConnected(tenantID string) {
	metrics.SessionEventsTotal.WithLabelValues("connected").Inc()

	r.mu.Lock()
	r.sessions[tenantID] = Record{Phase: model.PhaseAuthenticated, UpdatedAt: time.Now()}
	r.mu.Unlock()

	logger.Log.Info("session connected", zap.String("tenant_id", tenantID))
}

// OnDisconnected is authoritative: any phase becomes disconnected and the
// artifact is cleared. The entry stays so the tenant can restart.
func (r *Registry) OnDisconnected(tenantID string) {
	metrics.SessionEventsTotal.WithLabelValues("disconnected").Inc()

	r.mu.Lock()
	r.sessions[tenantID] = Record{Phase: model.PhaseDisconnected, UpdatedAt: time.Now()}
	r.mu.Unlock()

	logger.Log.Info("session disconnected", zap.String("tenant_id", tenantID))
}
