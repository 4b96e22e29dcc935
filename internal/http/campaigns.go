package http

import (
	"database/sql"
	"net/http"
	"strings"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/wagate/wa-gateway/internal/http/middleware"
	"github.com/wagate/wa-gateway/internal/model"
	"github.com/wagate/wa-gateway/internal/repository"
	"github.com/wagate/wa-gateway/internal/util"
)

const maxRecipients = 5000

type createCampaignReq struct {
	Message     string   `json:"message"`
	Recipients  []string `json:"recipients"`
	ScheduledAt string   `json:"scheduled_at,omitempty"` // RFC3339; empty = next cycle
}

func createCampaignHandler(campaigns repository.CampaignsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID, ok := middleware.TenantIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var req createCampaignReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		req.Message = strings.TrimSpace(req.Message)
		if req.Message == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "empty message"})
		}
		if len(req.Recipients) == 0 || len(req.Recipients) > maxRecipients {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid recipient count"})
		}

		// Recipients are canonicalized at ingestion; the dispatcher sends
		// to exactly what is stored.
		recipients := make([]string, 0, len(req.Recipients))
		for _, raw := range req.Recipients {
			phone := util.NormalizePhone(raw)
			if phone == "" || !util.ValidPhone(phone) {
				return c.JSON(http.StatusBadRequest, map[string]any{
					"error":     "invalid recipient",
					"recipient": raw,
				})
			}
			recipients = append(recipients, phone)
		}

		scheduledAt := time.Now()
		if req.ScheduledAt != "" {
			t, err := time.Parse(time.RFC3339, req.ScheduledAt)
			if err != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid scheduled_at"})
			}
			scheduledAt = t
		}

		camp := model.Campaign{
			ID:          util.NewULID(),
			TenantID:    tenantID,
			Message:     req.Message,
			Status:      model.CampaignScheduled,
			ScheduledAt: sql.NullTime{Time: scheduledAt, Valid: true},
		}
		if err := camp.SetRecipients(recipients); err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "encode error"})
		}

		if err := campaigns.Insert(c.Request().Context(), camp); err != nil {
			log.Errorf("insert campaign: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusAccepted, map[string]any{
			"id":           camp.ID,
			"status":       camp.Status.String(),
			"recipients":   len(recipients),
			"scheduled_at": scheduledAt.UTC().Format(time.RFC3339),
		})
	}
}

func getCampaignHandler(campaigns repository.CampaignsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID, ok := middleware.TenantIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		camp, err := campaigns.GetByID(c.Request().Context(), c.Param("id"))
		if err != nil {
			log.Errorf("get campaign: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if camp == nil || camp.TenantID != tenantID {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "campaign not found"})
		}

		recipients, err := camp.Recipients()
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "decode error"})
		}

		resp := map[string]any{
			"id":         camp.ID,
			"message":    camp.Message,
			"recipients": recipients,
			"status":     camp.Status.String(),
			"created_at": camp.CreatedAt.UTC().Format(time.RFC3339),
		}
		if camp.ScheduledAt.Valid {
			resp["scheduled_at"] = camp.ScheduledAt.Time.UTC().Format(time.RFC3339)
		}

		return c.JSON(http.StatusOK, resp)
	}
}
