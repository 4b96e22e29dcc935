package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/wagate/wa-gateway/internal/campaign"
	"github.com/wagate/wa-gateway/internal/config"
	"github.com/wagate/wa-gateway/internal/db"
	"github.com/wagate/wa-gateway/internal/kafka"
	"github.com/wagate/wa-gateway/internal/logger"
	"github.com/wagate/wa-gateway/internal/metrics"
	"github.com/wagate/wa-gateway/internal/repository"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Run the campaign dispatcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger.Init(cfg.Log.Level)
		metrics.MustRegister(prometheus.DefaultRegisterer)

		dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer dbx.Close()

		ledgerRepo := repository.NewLedgerRepository(dbx)
		campaignsRepo := repository.NewCampaignsRepository(dbx, ledgerRepo)

		sender := campaign.NewHTTPSender(cfg.Dispatcher.GatewayURL, cfg.Dispatcher.SendTimeout)

		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.SendsTopic)
		defer func() { _ = producer.Close() }()

		disp := campaign.NewDispatcher(
			campaignsRepo,
			sender,
			producer,
			cfg.Dispatcher.Interval,
			cfg.Dispatcher.SendTimeout,
		)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go func() {
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			log.Printf("signal received: %s, shutting down...", sig)
			cancel()
		}()

		log.Printf("dispatcher: interval=%s gateway=%s", cfg.Dispatcher.Interval, cfg.Dispatcher.GatewayURL)
		if err := disp.Run(ctx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	},
}
