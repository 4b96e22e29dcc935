package http

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wagate/wa-gateway/internal/config"
	"github.com/wagate/wa-gateway/internal/http/middleware"
	"github.com/wagate/wa-gateway/internal/hub"
	"github.com/wagate/wa-gateway/internal/metrics"
	"github.com/wagate/wa-gateway/internal/repository"
)

type Server struct{ e *echo.Echo }

func NewServer(
	cfg config.Config,
	mysqlDB, clickhouseDB *sqlx.DB,
	rds *redis.Client,
	reg SessionRegistry,
	recv EventReceiver,
	h *hub.Hub,
) *Server {
	// repos (MySQL)
	tenantsRepo := repository.NewTenantsRepository(mysqlDB)
	ledgerRepo := repository.NewLedgerRepository(mysqlDB)
	campaignsRepo := repository.NewCampaignsRepository(mysqlDB, ledgerRepo)

	// repos (ClickHouse)
	sendLogRepo := repository.NewSendLogRepository(clickhouseDB)

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// session lifecycle (internal surface, no tenant auth)
	e.GET("/v1/sessions/:id/start", startSessionHandler(reg))
	e.GET("/v1/sessions/:id/force-start", forceStartSessionHandler(reg))
	e.GET("/v1/sessions/:id/qr", getQRHandler(reg))
	e.GET("/v1/sessions/:id/status", sessionStatusHandler(reg))
	e.DELETE("/v1/sessions/:id", deleteSessionHandler(reg))
	e.POST("/v1/sessions/:id/messages", sendMessageHandler(reg))
	e.GET("/v1/sessions/:id/groups", listGroupsHandler(reg))
	e.GET("/ws/sessions/:id", sessionEventsWS(h))

	// provider webhook
	e.POST("/internal/provider/events", providerEventsHandler(recv, cfg.Provider.WebhookToken))

	// middlewares
	authMW := middleware.APIKeyMiddleware(tenantsRepo)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          rds,
		DefaultRPS:     cfg.RateLimit.RPS,
		KeyPrefix:      "rl:tenant:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// tenant routes
	v1 := e.Group("/v1", authMW, rlMW)
	v1.POST("/campaigns", createCampaignHandler(campaignsRepo))
	v1.GET("/campaigns/:id", getCampaignHandler(campaignsRepo))
	v1.POST("/tokens/topup", topupHandler(mysqlDB, ledgerRepo))
	v1.GET("/tokens/balance", balanceHandler(ledgerRepo))
	v1.GET("/reports/sends", listSendsHandler(sendLogRepo))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	log.Printf("http: listening on %s", addr)
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
