package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/wagate/wa-gateway/internal/model"
)

// CampaignsRepository persists campaigns and drives their status
// transitions. The (status, scheduled_at) selection shape is covered by a
// compound index.
type CampaignsRepository interface {
	Insert(ctx context.Context, c model.Campaign) error
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	// ListDue selects Scheduled campaigns whose time has come plus Queued
	// campaigns with a cleared schedule (crash-recovery retries).
	ListDue(ctx context.Context, now time.Time) ([]model.Campaign, error)
	// MarkQueued transitions Scheduled -> Queued and clears scheduled_at.
	// Returns false when another cycle won the transition.
	MarkQueued(ctx context.Context, id string) (bool, error)
	MarkFailed(ctx context.Context, id string) error
	// FinalizeSent applies the charge and marks the campaign Sent in one
	// transaction. Re-running after a crash never double-bills: the charge
	// ledger row is idempotency-keyed by campaign id.
	FinalizeSent(ctx context.Context, id, tenantID string, tokens int64) error
}

type CampaignsRepositoryImpl struct {
	db     *sqlx.DB
	ledger LedgerRepository
}

func NewCampaignsRepository(db *sqlx.DB, ledger LedgerRepository) *CampaignsRepositoryImpl {
	return &CampaignsRepositoryImpl{db: db, ledger: ledger}
}

var _ CampaignsRepository = (*CampaignsRepositoryImpl)(nil)

func (r *CampaignsRepositoryImpl) Insert(ctx context.Context, c model.Campaign) error {
	const q = `
		INSERT INTO campaigns
		    (id, tenant_id, message, recipients, status, scheduled_at, created_at, updated_at)
		VALUES
		    (?,  ?,         ?,       ?,          ?,      ?,            NOW(),      NOW())
	`
	_, err := r.db.ExecContext(ctx, q,
		c.ID, c.TenantID, c.Message, c.RecipientsRaw, c.Status.String(), c.ScheduledAt,
	)
	return err
}

func (r *CampaignsRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	var c model.Campaign
	err := r.db.GetContext(ctx, &c, `
		SELECT id, tenant_id, message, recipients, status, scheduled_at, created_at, updated_at
		  FROM campaigns
		 WHERE id = ? LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignsRepositoryImpl) ListDue(ctx context.Context, now time.Time) ([]model.Campaign, error) {
	var rows []model.Campaign
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, tenant_id, message, recipients, status, scheduled_at, created_at, updated_at
		  FROM campaigns
		 WHERE (status = 'Scheduled' AND scheduled_at <= ?)
		    OR (status = 'Queued' AND scheduled_at IS NULL)
		 ORDER BY created_at
	`, now)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *CampaignsRepositoryImpl) MarkQueued(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		   SET status = 'Queued', scheduled_at = NULL, updated_at = NOW()
		 WHERE id = ? AND status = 'Scheduled'
	`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *CampaignsRepositoryImpl) MarkFailed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = 'Failed', updated_at = NOW() WHERE id = ?
	`, id)
	return err
}

func (r *CampaignsRepositoryImpl) FinalizeSent(ctx context.Context, id, tenantID string, tokens int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := r.ledger.UpsertAccount(ctx, tx, tenantID); err != nil {
		return err
	}

	charged, err := r.ledger.InsertCharge(ctx, tx, tenantID, tokens, id)
	if err != nil {
		return err
	}
	// Skip the decrement when the charge row already existed (a prior
	// cycle billed this campaign and crashed before the status write).
	if charged && tokens > 0 {
		if err := r.ledger.AddTokens(ctx, tx, tenantID, -tokens); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE campaigns SET status = 'Sent', updated_at = NOW() WHERE id = ?
	`, id); err != nil {
		return err
	}

	return tx.Commit()
}
