package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/wagate/wa-gateway/internal/kafka"
	"github.com/wagate/wa-gateway/internal/logger"
	"github.com/wagate/wa-gateway/internal/model"
	"github.com/wagate/wa-gateway/internal/repository"
)

// MessageSource is the slice of the Kafka consumer the ingester needs.
type MessageSource interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

// Ingest drains send events from Kafka and batch-inserts them into the
// ClickHouse delivery log. At-least-once: events are committed after they
// are buffered, so a crash can replay a partial batch.
type Ingest struct {
	Consumer MessageSource
	SendLog  repository.SendLogRepository

	BatchSize int           // max buffered rows per flush
	BatchWait time.Duration // max time to wait before flush
}

func NewIngest(consumer MessageSource, sendLog repository.SendLogRepository, batchSize int, batchWait time.Duration) *Ingest {
	if batchSize <= 0 {
		batchSize = 200
	}
	if batchWait <= 0 {
		batchWait = 300 * time.Millisecond
	}
	return &Ingest{
		Consumer:  consumer,
		SendLog:   sendLog,
		BatchSize: batchSize,
		BatchWait: batchWait,
	}
}

// Run blocks until ctx is cancelled.
func (w *Ingest) Run(ctx context.Context) error {
	rows := make(chan model.SendRecord, w.BatchSize*2)

	go w.fetchLoop(ctx, rows)

	tick := time.NewTicker(w.BatchWait)
	defer tick.Stop()

	buf := make([]model.SendRecord, 0, w.BatchSize)

	flush := func() {
		if len(buf) == 0 {
			return
		}
		if err := w.SendLog.InsertBatch(ctx, buf); err != nil {
			logger.Log.Error("ingest: batch insert failed",
				zap.Int("rows", len(buf)), zap.Error(err))
			// rows already committed in kafka; drop the batch
		} else {
			logger.Log.Debug("ingest: flushed", zap.Int("rows", len(buf)))
		}
		buf = buf[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return ctx.Err()
		case rec := <-rows:
			buf = append(buf, rec)
			if len(buf) >= w.BatchSize {
				flush()
			}
		case <-tick.C:
			flush()
		}
	}
}

func (w *Ingest) fetchLoop(ctx context.Context, out chan<- model.SendRecord) {
	for {
		m, err := w.Consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Log.Warn("ingest: kafka fetch failed", zap.Error(err))
			time.Sleep(200 * time.Millisecond)
			continue
		}

		var ev model.SendEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil || ev.CampaignID == "" || !ev.Result.Valid() {
			// poison message: commit and skip
			logger.Log.Warn("ingest: bad send event", zap.Error(err))
			_ = w.Consumer.Commit(ctx, m)
			continue
		}

		select {
		case out <- model.SendRecord{
			CampaignID: ev.CampaignID,
			TenantID:   ev.TenantID,
			Phone:      ev.Phone,
			Result:     ev.Result.String(),
			Detail:     ev.Detail,
			SentAt:     ev.SentAt,
		}:
		case <-ctx.Done():
			return
		}

		if err := w.Consumer.Commit(ctx, m); err != nil {
			logger.Log.Warn("ingest: commit failed", zap.Error(err))
		}
	}
}
