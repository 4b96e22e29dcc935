package http

import (
	"net/http"
	"strings"

	"github.com/jmoiron/sqlx"
	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/wagate/wa-gateway/internal/http/middleware"
	"github.com/wagate/wa-gateway/internal/repository"
)

type topupReq struct {
	Amount    int64  `json:"amount"`
	RequestID string `json:"request_id"`
}

// topupHandler : token topup endpoint (idempotent).
func topupHandler(db *sqlx.DB, ledger repository.LedgerRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID, ok := middleware.TenantIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var req topupReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		req.RequestID = strings.TrimSpace(req.RequestID)
		if req.Amount <= 0 || req.RequestID == "" || len(req.RequestID) > 128 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		}

		idem := "topup-" + req.RequestID

		ctx := c.Request().Context()
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		defer func() { _ = tx.Rollback() }()

		if err := ledger.UpsertAccount(ctx, tx, tenantID); err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		exists, err := ledger.ExistsByIdem(ctx, tx, idem)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		if exists {
			if err := tx.Commit(); err != nil {
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
			}

			return c.JSON(http.StatusOK, map[string]any{
				"topup":      true,
				"idempotent": true,
				"amount":     req.Amount,
				"tenant_id":  tenantID,
				"request_id": req.RequestID,
			})
		}

		if err := ledger.InsertTopup(ctx, tx, tenantID, req.Amount, idem); err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		if err := ledger.AddTokens(ctx, tx, tenantID, req.Amount); err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		if err := tx.Commit(); err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"topup":      true,
			"idempotent": false,
			"amount":     req.Amount,
			"tenant_id":  tenantID,
			"request_id": req.RequestID,
		})
	}
}

func balanceHandler(ledger repository.LedgerRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID, ok := middleware.TenantIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		tokens, err := ledger.Balance(c.Request().Context(), tenantID)
		if err != nil {
			log.Errorf("balance query: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"tenant_id": tenantID,
			"tokens":    tokens,
		})
	}
}
