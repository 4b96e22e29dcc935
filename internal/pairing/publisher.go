// Package pairing turns raw pairing payloads into display-ready artifacts
// and pushes session phase changes to live observers.
package pairing

import (
	"encoding/base64"

	"go.uber.org/zap"

	"github.com/wagate/wa-gateway/internal/logger"
	"github.com/wagate/wa-gateway/internal/model"
)

// Artifact wraps a raw pairing payload as a data URL the frontend can
// render directly. Image encoding happens client-side.
func Artifact(raw string) string {
	return "data:text/plain;base64," + base64.StdEncoding.EncodeToString([]byte(raw))
}

// Broadcaster is the push channel the publisher emits on (the hub).
type Broadcaster interface {
	BroadcastJSON(tenantID string, v any) error
}

// Message is the event shape pushed to observers.
type Message struct {
	Event    string `json:"event"` // pairing|connected|disconnected
	Artifact string `json:"artifact,omitempty"`
}

// Publisher consumes provider session events and broadcasts them to the
// tenant's observers. It keeps no state of its own.
type Publisher struct {
	b Broadcaster
}

func NewPublisher(b Broadcaster) *Publisher {
	return &Publisher{b: b}
}

func (p *Publisher) OnPairingUpdated(tenantID, payload string) {
	p.emit(tenantID, Message{Event: "pairing", Artifact: Artifact(payload)})
}

func (p *Publisher) OnConnected(tenantID string) {
	p.emit(tenantID, Message{Event: model.StatusConnected.String()})
}

func (p *Publisher) OnDisconnected(tenantID string) {
	p.emit(tenantID, Message{Event: model.PhaseDisconnected.String()})
}

func (p *Publisher) emit(tenantID string, m Message) {
	if err := p.b.BroadcastJSON(tenantID, m); err != nil {
		logger.Log.Warn("pairing: broadcast failed",
			zap.String("tenant_id", tenantID), zap.Error(err))
	}
}
