package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wagate/wa-gateway/internal/config"
	"github.com/wagate/wa-gateway/internal/db"
	"github.com/wagate/wa-gateway/internal/kafka"
	"github.com/wagate/wa-gateway/internal/logger"
	"github.com/wagate/wa-gateway/internal/repository"
	"github.com/wagate/wa-gateway/internal/worker"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run the send-log ingest worker (Kafka -> ClickHouse)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger.Init(cfg.Log.Level)

		chDB, err := db.NewClickHouseConnection(db.ClickHouseOpts{
			DSN:             cfg.ClickHouse.DSN,
			MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
			MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
			ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
			PingTimeout:     cfg.ClickHouse.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer func() { _ = chDB.Close() }()

		groupID := cfg.Kafka.GroupID
		if groupID == "" {
			groupID = "wagw-ingest"
		}

		consumer := kafka.NewConsumerFromConfig(kafka.Config{
			Brokers:        cfg.Kafka.Brokers,
			Topic:          cfg.Kafka.SendsTopic,
			GroupID:        groupID,
			MinBytes:       cfg.Kafka.MinBytes,
			MaxBytes:       cfg.Kafka.MaxBytes,
			CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
		})
		defer func() { _ = consumer.Close() }()

		ing := worker.NewIngest(
			consumer,
			repository.NewSendLogRepository(chDB),
			cfg.Ingest.BatchSize,
			cfg.Ingest.BatchWait,
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

		log.Printf("ingest: topic=%s group=%s", cfg.Kafka.SendsTopic, groupID)
		if err := ing.Run(ctx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	},
}
