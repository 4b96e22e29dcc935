package http

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v4"

	"github.com/wagate/wa-gateway/internal/http/middleware"
	"github.com/wagate/wa-gateway/internal/model"
	"github.com/wagate/wa-gateway/internal/repository"
)

func listSendsHandler(sendLog repository.SendLogRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID, ok := middleware.TenantIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		limit := 50
		offset := 0
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		var result string
		if raw := strings.TrimSpace(c.QueryParam("result")); raw != "" {
			if model.SendResult(raw).Valid() {
				result = raw
			}
		}

		campaignID := strings.TrimSpace(c.QueryParam("campaign_id"))

		rows, err := sendLog.ListByTenant(
			c.Request().Context(),
			tenantID,
			campaignID,
			result,
			limit,
			offset,
		)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(rows),
			"results": rows,
		})
	}
}
