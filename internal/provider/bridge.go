package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Bridge talks to the external session bridge over HTTP. Lifecycle events
// come back asynchronously through a webhook; HandleEvent fans them out to
// the subscribed handlers.
type Bridge struct {
	baseURL string
	client  *http.Client
	br      *Breaker

	mu       sync.RWMutex
	handlers []EventHandler
}

func NewBridge(baseURL string, timeoutMs, failThreshold, openForMs int) *Bridge {
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}

	return &Bridge{
		baseURL: baseURL,
		client:  &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		br:      NewBreaker(failThreshold, time.Duration(openForMs)*time.Millisecond),
	}
}

var _ SessionProvider = (*Bridge)(nil)

func (b *Bridge) Subscribe(h EventHandler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// HandleEvent delivers a webhook event to all subscribers, in order.
func (b *Bridge) HandleEvent(ev Event) {
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, h := range handlers {
		switch ev.Kind {
		case EventPairingUpdated:
			h.OnPairingUpdated(ev.TenantID, ev.Payload)
		case EventConnected:
			h.OnConnected(ev.TenantID)
		case EventDisconnected:
			h.OnDisconnected(ev.TenantID)
		}
	}
}

func (b *Bridge) Start(ctx context.Context, tenantID string) error {
	res, err := b.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(tenantID)+"/start", nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode/100 == 2:
		return nil
	case res.StatusCode == http.StatusConflict:
		return ErrSessionExists
	default:
		return fmt.Errorf("bridge start: status=%d", res.StatusCode)
	}
}

func (b *Bridge) ForceDelete(ctx context.Context, tenantID string) error {
	res, err := b.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(tenantID), nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("bridge delete: status=%d", res.StatusCode)
	}
	return nil
}

type sendReq struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

func (b *Bridge) Send(ctx context.Context, tenantID, recipient, text string) error {
	if !b.br.TryAcquire() {
		return ErrUnavailable
	}

	res, err := b.do(ctx, http.MethodPost,
		"/sessions/"+url.PathEscape(tenantID)+"/messages",
		sendReq{To: recipient, Text: text})
	if err != nil {
		b.br.OnFailure()
		return err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		b.br.OnFailure()
		return fmt.Errorf("bridge send: status=%d", res.StatusCode)
	}

	b.br.OnSuccess()
	return nil
}

func (b *Bridge) Groups(ctx context.Context, tenantID string) ([]Group, error) {
	res, err := b.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(tenantID)+"/groups", nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return nil, fmt.Errorf("bridge groups: status=%d", res.StatusCode)
	}

	var groups []Group
	if err := json.NewDecoder(res.Body).Decode(&groups); err != nil {
		return nil, fmt.Errorf("bridge groups: decode: %w", err)
	}
	return groups, nil
}

func (b *Bridge) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rd *bytes.Reader
	if body != nil {
		buf, _ := json.Marshal(body)
		rd = bytes.NewReader(buf)
	} else {
		rd = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	return b.client.Do(req)
}
