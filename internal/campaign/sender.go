package campaign

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPSender delivers sends through the gateway's session API, so the
// dispatcher can run as a separate process from the registry. A 400 from
// the gateway means the tenant is not authenticated.
type HTTPSender struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSender(baseURL string, timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSender{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

var _ Sender = (*HTTPSender)(nil)

func (s *HTTPSender) Send(ctx context.Context, tenantID, recipient, text string) error {
	body, _ := json.Marshal(map[string]string{"to": recipient, "text": text})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/v1/sessions/"+url.PathEscape(tenantID)+"/messages",
		bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode/100 == 2:
		return nil
	case res.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("tenant %s not connected", tenantID)
	default:
		return fmt.Errorf("gateway send: status=%d", res.StatusCode)
	}
}
