package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v4"

	"github.com/wagate/wa-gateway/internal/model"
)

type fakeTenants struct {
	byKey map[string]*model.Tenant
}

func (f *fakeTenants) GetByAPIKey(_ context.Context, key string) (*model.Tenant, error) {
	return f.byKey[key], nil
}

func (f *fakeTenants) GetByID(context.Context, string) (*model.Tenant, error) { return nil, nil }

func runAuth(t *testing.T, tenants *fakeTenants, apiKey string) (*httptest.ResponseRecorder, string) {
	t.Helper()

	e := echo.New()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if apiKey != "" {
		r.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(r, rec)

	var gotTenant string
	h := APIKeyMiddleware(tenants)(func(c echo.Context) error {
		gotTenant, _ = TenantIDFromCtx(c)
		return c.NoContent(http.StatusOK)
	})

	if err := h(c); err != nil {
		t.Fatalf("middleware: %v", err)
	}
	return rec, gotTenant
}

func TestAPIKeyMiddleware(t *testing.T) {
	rps := 5
	tenants := &fakeTenants{byKey: map[string]*model.Tenant{
		"good-key":      {ID: "acme", Status: "active", RateLimitRPS: &rps},
		"suspended-key": {ID: "frozen", Status: "suspended"},
	}}

	rec, tenant := runAuth(t, tenants, "good-key")
	if rec.Code != http.StatusOK || tenant != "acme" {
		t.Fatalf("expected authenticated acme, got %d tenant=%q", rec.Code, tenant)
	}

	rec, _ = runAuth(t, tenants, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}

	rec, _ = runAuth(t, tenants, "unknown-key")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown key, got %d", rec.Code)
	}

	rec, _ = runAuth(t, tenants, "suspended-key")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for suspended tenant, got %d", rec.Code)
	}
}
