package middleware

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"

	"github.com/wagate/wa-gateway/internal/repository"
)

// TenantIDFromCtx extracts the authenticated tenant_id set by APIKeyMiddleware.
func TenantIDFromCtx(c echo.Context) (string, bool) {
	v := c.Get("tenant_id")
	id, ok := v.(string)
	return id, ok && id != ""
}

// APIKeyMiddleware authenticates requests using X-API-Key header.
// On success it stores tenant_id in context and blocks suspended accounts.
func APIKeyMiddleware(tenants repository.TenantsRepository) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get("X-API-Key"))
			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing api key"})
			}
			t, err := tenants.GetByAPIKey(c.Request().Context(), key)
			if err != nil {
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "auth error"})
			}
			if t == nil || t.Status != "active" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			}
			c.Set("tenant_id", t.ID)
			if t.RateLimitRPS != nil {
				c.Set("tenant_rps", *t.RateLimitRPS)
			}
			return next(c)
		}
	}
}
