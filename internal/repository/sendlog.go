package repository

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/wagate/wa-gateway/internal/model"
)

// SendLogRepository is the ClickHouse-backed delivery log.
type SendLogRepository interface {
	InsertBatch(ctx context.Context, rows []model.SendRecord) error
	ListByTenant(ctx context.Context, tenantID, campaignID, result string, limit, offset int) ([]model.SendRecord, error)
}

type sendLogRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewSendLogRepository(ch *sqlx.DB) SendLogRepository {
	return &sendLogRepository{ch: ch}
}

func (r *sendLogRepository) InsertBatch(ctx context.Context, rows []model.SendRecord) error {
	if len(rows) == 0 {
		return nil
	}

	var sb strings.Builder
	args := make([]any, 0, len(rows)*6)

	sb.WriteString(`INSERT INTO wagw.send_log (campaign_id, tenant_id, phone, result, detail, sent_at) VALUES `)
	for i, rw := range rows {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?)")
		args = append(args, rw.CampaignID, rw.TenantID, rw.Phone, rw.Result, rw.Detail, rw.SentAt)
	}

	_, err := r.ch.ExecContext(ctx, sb.String(), args...)
	return err
}

func (r *sendLogRepository) ListByTenant(ctx context.Context, tenantID, campaignID, result string, limit, offset int) ([]model.SendRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT campaign_id, tenant_id, phone, result, detail, sent_at
		FROM wagw.send_log
		WHERE tenant_id = ?
	`
	args := []any{tenantID}

	if campaignID != "" {
		q += " AND campaign_id = ?"
		args = append(args, campaignID)
	}
	if result != "" {
		q += " AND result = ?"
		args = append(args, result)
	}

	q += " ORDER BY sent_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.SendRecord
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
