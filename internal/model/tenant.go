package model

import "time"

type Tenant struct {
	ID           string    `db:"id"`
	Name         string    `db:"name"`
	APIKey       string    `db:"api_key"`
	Status       string    `db:"status"`         // active|suspended
	RateLimitRPS *int      `db:"rate_limit_rps"` // nullable
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// TokenAccount holds a tenant's prepaid message-word balance.
type TokenAccount struct {
	TenantID  string    `db:"tenant_id"`
	Tokens    int64     `db:"tokens"`
	UpdatedAt time.Time `db:"updated_at"`
	CreatedAt time.Time `db:"created_at"`
}
