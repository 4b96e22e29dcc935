package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/wagate/wa-gateway/internal/config"
	"github.com/wagate/wa-gateway/internal/db"
	"github.com/wagate/wa-gateway/internal/model"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo tenants",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo tenants...")

		if err := seedTenants(sqlDB); err != nil {
			return err
		}
		if err := ensureTokenAccounts(sqlDB); err != nil {
			return err
		}

		log.Println(">> Seed completed")
		return nil
	},
}

// seedTenants inserts deterministic demo tenants (idempotent).
func seedTenants(dbx *sqlx.DB) error {
	tenants := []model.Tenant{
		{
			ID:           "acme",
			Name:         "Acme Corp",
			APIKey:       "11111111111111111111111111111111",
			Status:       "active",
			RateLimitRPS: intptr(20),
		},
		{
			ID:           "foobar",
			Name:         "Foobar LLC",
			APIKey:       "22222222222222222222222222222222",
			Status:       "active",
			RateLimitRPS: intptr(50),
		},
		{
			ID:           "beta",
			Name:         "Beta Testers",
			APIKey:       "33333333333333333333333333333333",
			Status:       "active",
			RateLimitRPS: intptr(5),
		},
		{
			ID:           "suspended",
			Name:         "Suspended Inc",
			APIKey:       "44444444444444444444444444444444",
			Status:       "suspended",
			RateLimitRPS: nil,
		},
	}

	// idempotent upsert based on api_key (UNIQUE)
	const q = `
INSERT INTO tenants
    (id, name, api_key, status, rate_limit_rps, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name        = VALUES(name),
    status      = VALUES(status),
    rate_limit_rps = VALUES(rate_limit_rps),
    updated_at  = VALUES(updated_at)
`
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	for _, t := range tenants {
		if _, err := tx.Exec(q, t.ID, t.Name, t.APIKey, t.Status, t.RateLimitRPS, now, now); err != nil {
			return fmt.Errorf("insert tenant %q: %w", t.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tenants: %w", err)
	}
	return nil
}

// ensureTokenAccounts creates token accounts for tenants who don't have
// one yet, with a starter balance.
func ensureTokenAccounts(dbx *sqlx.DB) error {
	const q = `
INSERT INTO token_accounts (tenant_id, tokens, created_at, updated_at)
SELECT t.id, 100, NOW(), NOW()
FROM tenants t
LEFT JOIN token_accounts a ON a.tenant_id = t.id
WHERE a.tenant_id IS NULL
`
	if _, err := dbx.Exec(q); err != nil {
		return fmt.Errorf("ensure token accounts: %w", err)
	}
	return nil
}

func intptr(i int) *int { return &i }
