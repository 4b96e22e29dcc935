package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// LedgerRepository mutates per-tenant token balances. Balances only move by
// relative increments so concurrent dispatch cycles stay correct, and every
// movement leaves an idempotency-keyed ledger row.
type LedgerRepository interface {
	UpsertAccount(ctx context.Context, tx *sqlx.Tx, tenantID string) error
	Balance(ctx context.Context, tenantID string) (int64, error)
	ExistsByIdem(ctx context.Context, tx *sqlx.Tx, idem string) (bool, error)
	InsertTopup(ctx context.Context, tx *sqlx.Tx, tenantID string, amount int64, idem string) error
	// InsertCharge writes the charge row for a campaign. Returns false when
	// the row already existed, meaning the charge was applied before.
	InsertCharge(ctx context.Context, tx *sqlx.Tx, tenantID string, amount int64, campaignID string) (bool, error)
	// AddTokens applies an atomic relative delta to the tenant's balance.
	AddTokens(ctx context.Context, tx *sqlx.Tx, tenantID string, delta int64) error
}

type ledgerRepo struct {
	db *sqlx.DB
}

func NewLedgerRepository(db *sqlx.DB) LedgerRepository { return &ledgerRepo{db: db} }

func (r *ledgerRepo) UpsertAccount(ctx context.Context, tx *sqlx.Tx, tenantID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO token_accounts (tenant_id, tokens, created_at, updated_at)
		VALUES (?, 0, NOW(), NOW())
		ON DUPLICATE KEY UPDATE updated_at = VALUES(updated_at)
	`, tenantID)
	return err
}

func (r *ledgerRepo) Balance(ctx context.Context, tenantID string) (int64, error) {
	var tokens int64
	err := r.db.QueryRowxContext(ctx,
		`SELECT tokens FROM token_accounts WHERE tenant_id = ?`, tenantID,
	).Scan(&tokens)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return tokens, err
}

func (r *ledgerRepo) ExistsByIdem(ctx context.Context, tx *sqlx.Tx, idem string) (bool, error) {
	var one int
	err := tx.QueryRowxContext(ctx,
		`SELECT 1 FROM token_ledger WHERE idempotency_key = ? LIMIT 1`, idem,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *ledgerRepo) InsertTopup(ctx context.Context, tx *sqlx.Tx, tenantID string, amount int64, idem string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO token_ledger (tenant_id, op, amount, idempotency_key)
		VALUES (?, 'topup', ?, ?)
		ON DUPLICATE KEY UPDATE id = id
	`, tenantID, amount, idem)
	return err
}

func (r *ledgerRepo) InsertCharge(ctx context.Context, tx *sqlx.Tx, tenantID string, amount int64, campaignID string) (bool, error) {
	// idempotency_key: charge-<campaign>; a duplicate insert is a no-op
	// with zero affected rows, which tells the caller the charge already
	// happened.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO token_ledger (tenant_id, op, amount, idempotency_key, campaign_id)
		VALUES (?, 'charge', ?, ?, ?)
		ON DUPLICATE KEY UPDATE id = id
	`, tenantID, amount, "charge-"+campaignID, campaignID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *ledgerRepo) AddTokens(ctx context.Context, tx *sqlx.Tx, tenantID string, delta int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE token_accounts
		SET tokens = tokens + ?, updated_at = NOW()
		WHERE tenant_id = ?
	`, delta, tenantID)
	return err
}
