package http

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/wagate/wa-gateway/internal/hub"
)

const wsReadTimeout = 60 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Dashboard clients connect cross-origin.
		return true
	},
}

// sessionEventsWS upgrades the connection and registers it as an observer
// of the tenant's pairing/phase events. The client is not expected to send
// anything; the read loop only watches for close.
func sessionEventsWS(h *hub.Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")

		ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			log.Errorf("ws upgrade %s: %v", id, err)
			return err
		}

		conn := h.Attach(id, ws)

		go func() {
			defer h.Detach(conn)
			ws.SetPongHandler(func(string) error {
				return ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
			})
			_ = ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
				_ = ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
			}
		}()

		return nil
	}
}
