package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/wagate/wa-gateway/internal/model"
	"github.com/wagate/wa-gateway/internal/provider"
	"github.com/wagate/wa-gateway/internal/session"
	"github.com/wagate/wa-gateway/internal/util"
)

// SessionRegistry is the slice of the registry the session handlers use.
type SessionRegistry interface {
	Start(ctx context.Context, tenantID string) error
	ForceStart(ctx context.Context, tenantID string) error
	Delete(ctx context.Context, tenantID string)
	Status(tenantID string) model.Status
	Artifact(tenantID string) (string, bool)
	Send(ctx context.Context, tenantID, recipient, text string) error
	Groups(ctx context.Context, tenantID string) ([]provider.Group, error)
}

func startSessionHandler(reg SessionRegistry) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")

		err := reg.Start(c.Request().Context(), id)
		if err == nil {
			return c.JSON(http.StatusOK, map[string]string{
				"message":   "Session started. QR will be ready shortly.",
				"tenant_id": id,
			})
		}

		// Repeated polling while a session is connecting or connected is
		// benign: answer with a status notice, not an error.
		if errors.Is(err, session.ErrAlreadyActive) {
			return c.JSON(http.StatusOK, map[string]string{
				"message":   startNotice(reg.Status(id)),
				"tenant_id": id,
			})
		}

		if errors.Is(err, provider.ErrSessionExists) {
			return c.JSON(http.StatusConflict, map[string]string{
				"error": "session already exists on provider",
			})
		}

		log.Errorf("start session %s: %v", id, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to start session"})
	}
}

func startNotice(st model.Status) string {
	switch st {
	case model.StatusConnected:
		return "Session already connected."
	case model.StatusWaitingForScan:
		return "QR already generated. Waiting for scan."
	default:
		return "QR is being generated. Please wait."
	}
}

func forceStartSessionHandler(reg SessionRegistry) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")

		if err := reg.ForceStart(c.Request().Context(), id); err != nil {
			log.Errorf("force start session %s: %v", id, err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to force start session"})
		}

		return c.JSON(http.StatusOK, map[string]string{
			"message":   "Old session cleared. New session started.",
			"tenant_id": id,
		})
	}
}

func getQRHandler(reg SessionRegistry) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")

		artifact, ok := reg.Artifact(id)
		if !ok {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "QR not ready or already scanned"})
		}

		return c.JSON(http.StatusOK, map[string]string{
			"tenant_id": id,
			"qr":        artifact,
		})
	}
}

func sessionStatusHandler(reg SessionRegistry) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")

		st := reg.Status(id)
		code := http.StatusOK
		if st == model.StatusNotFound {
			code = http.StatusNotFound
		}

		return c.JSON(code, map[string]string{
			"tenant_id": id,
			"status":    st.String(),
		})
	}
}

func deleteSessionHandler(reg SessionRegistry) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")

		reg.Delete(c.Request().Context(), id)

		return c.JSON(http.StatusOK, map[string]string{
			"message":   "Session deleted.",
			"tenant_id": id,
		})
	}
}

type sendMessageReq struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

func sendMessageHandler(reg SessionRegistry) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")

		var req sendMessageReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		to := util.NormalizePhone(req.To)
		text := strings.TrimSpace(req.Text)
		if to == "" || !util.ValidPhone(to) || text == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		err := reg.Send(c.Request().Context(), id, to, text)
		if err == nil {
			return c.JSON(http.StatusOK, map[string]string{"message": "Message sent successfully."})
		}

		if errors.Is(err, session.ErrNotConnected) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "session not connected"})
		}

		log.Errorf("send message %s: %v", id, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to send message"})
	}
}

func listGroupsHandler(reg SessionRegistry) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")

		groups, err := reg.Groups(c.Request().Context(), id)
		if err == nil {
			if groups == nil {
				groups = []provider.Group{}
			}
			return c.JSON(http.StatusOK, map[string]any{
				"tenant_id": id,
				"groups":    groups,
			})
		}

		if errors.Is(err, session.ErrNotConnected) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "session not connected"})
		}

		log.Errorf("list groups %s: %v", id, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list groups"})
	}
}

// EventReceiver accepts provider webhook events (the bridge implements it).
type EventReceiver interface {
	HandleEvent(ev provider.Event)
}

func providerEventsHandler(recv EventReceiver, token string) echo.HandlerFunc {
	return func(c echo.Context) error {
		if token != "" && c.Request().Header.Get("X-Webhook-Token") != token {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var ev provider.Event
		if err := c.Bind(&ev); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if ev.TenantID == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing tenant_id"})
		}

		switch ev.Kind {
		case provider.EventPairingUpdated, provider.EventConnected, provider.EventDisconnected:
		default:
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown event kind"})
		}

		recv.HandleEvent(ev)

		return c.NoContent(http.StatusNoContent)
	}
}
