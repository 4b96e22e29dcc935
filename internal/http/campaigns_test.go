package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	echo "github.com/labstack/echo/v4"

	"github.com/wagate/wa-gateway/internal/model"
)

type fakeCampaigns struct {
	inserted []model.Campaign
	byID     map[string]*model.Campaign
}

func (f *fakeCampaigns) Insert(_ context.Context, c model.Campaign) error {
	f.inserted = append(f.inserted, c)
	return nil
}

func (f *fakeCampaigns) GetByID(_ context.Context, id string) (*model.Campaign, error) {
	return f.byID[id], nil
}

func (f *fakeCampaigns) ListDue(context.Context, time.Time) ([]model.Campaign, error) {
	return nil, nil
}
func (f *fakeCampaigns) MarkQueued(context.Context, string) (bool, error) { return false, nil }
func (f *fakeCampaigns) MarkFailed(context.Context, string) error         { return nil }
func (f *fakeCampaigns) FinalizeSent(context.Context, string, string, int64) error {
	return nil
}

func doCampaign(t *testing.T, h echo.HandlerFunc, tenantID, body, paramID string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	e := echo.New()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		r = httptest.NewRequest(http.MethodGet, "/", nil)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(r, rec)
	if tenantID != "" {
		c.Set("tenant_id", tenantID)
	}
	if paramID != "" {
		c.SetParamNames("id")
		c.SetParamValues(paramID)
	}

	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}

	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
	}
	return rec, out
}

func TestCreateCampaign(t *testing.T) {
	repo := &fakeCampaigns{}
	rec, out := doCampaign(t, createCampaignHandler(repo), "acme",
		`{"message":"hi there","recipients":["+1 555 000 1111","15550002222"]}`, "")

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if len(repo.inserted) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(repo.inserted))
	}

	c := repo.inserted[0]
	if c.TenantID != "acme" || c.Status != model.CampaignScheduled {
		t.Fatalf("unexpected campaign %+v", c)
	}
	if !c.ScheduledAt.Valid {
		t.Fatalf("immediate campaign must carry a schedule time")
	}
	recipients, err := c.Recipients()
	if err != nil {
		t.Fatalf("Recipients: %v", err)
	}
	if len(recipients) != 2 || recipients[0] != "+15550001111" || recipients[1] != "15550002222" {
		t.Fatalf("recipients not canonicalized: %v", recipients)
	}
	if out["id"] == "" {
		t.Fatalf("response missing campaign id")
	}
}

func TestCreateCampaignScheduled(t *testing.T) {
	repo := &fakeCampaigns{}
	rec, _ := doCampaign(t, createCampaignHandler(repo), "acme",
		`{"message":"hi","recipients":["+15550001111"],"scheduled_at":"2026-09-01T10:00:00Z"}`, "")

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	want := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	if got := repo.inserted[0].ScheduledAt.Time; !got.Equal(want) {
		t.Fatalf("scheduled_at = %v, want %v", got, want)
	}
}

func TestCreateCampaignValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"empty message", `{"message":"   ","recipients":["+15550001111"]}`},
		{"no recipients", `{"message":"hi","recipients":[]}`},
		{"bad recipient", `{"message":"hi","recipients":["+15550001111","junk"]}`},
		{"bad schedule", `{"message":"hi","recipients":["+15550001111"],"scheduled_at":"tomorrow"}`},
	}
	for _, tc := range cases {
		repo := &fakeCampaigns{}
		rec, _ := doCampaign(t, createCampaignHandler(repo), "acme", tc.body, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.name, rec.Code)
		}
		if len(repo.inserted) != 0 {
			t.Fatalf("%s: rejected campaign was inserted", tc.name)
		}
	}
}

func TestCreateCampaignRequiresTenant(t *testing.T) {
	rec, _ := doCampaign(t, createCampaignHandler(&fakeCampaigns{}), "",
		`{"message":"hi","recipients":["+15550001111"]}`, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestGetCampaignScopedToTenant(t *testing.T) {
	c := model.Campaign{ID: "c1", TenantID: "acme", Message: "hi",
		Status: model.CampaignSent, CreatedAt: time.Now()}
	if err := c.SetRecipients([]string{"+15550001111"}); err != nil {
		t.Fatalf("SetRecipients: %v", err)
	}
	repo := &fakeCampaigns{byID: map[string]*model.Campaign{"c1": &c}}

	rec, out := doCampaign(t, getCampaignHandler(repo), "acme", "", "c1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if out["status"] != "Sent" {
		t.Fatalf("unexpected status %v", out["status"])
	}

	// Another tenant must not see it.
	rec, _ = doCampaign(t, getCampaignHandler(repo), "foobar", "", "c1")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign tenant, got %d", rec.Code)
	}

	rec, _ = doCampaign(t, getCampaignHandler(repo), "acme", "", "missing")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", rec.Code)
	}
}
