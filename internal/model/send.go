package model

import "time"

type SendResult string

const (
	SendOK     SendResult = "ok"
	SendFailed SendResult = "failed"
)

func (r SendResult) String() string { return string(r) }

func (r SendResult) Valid() bool {
	return r == SendOK || r == SendFailed
}

// SendEvent is the per-recipient outcome published to Kafka by the
// dispatcher and consumed by the ingest worker.
type SendEvent struct {
	CampaignID string     `json:"campaign_id"`
	TenantID   string     `json:"tenant_id"`
	Phone      string     `json:"phone"`
	Result     SendResult `json:"result"`
	Detail     string     `json:"detail,omitempty"`
	SentAt     time.Time  `json:"sent_at"`
}

// SendRecord is the ClickHouse row shape of the send log.
type SendRecord struct {
	CampaignID string    `db:"campaign_id"`
	TenantID   string    `db:"tenant_id"`
	Phone      string    `db:"phone"`
	Result     string    `db:"result"`
	Detail     string    `db:"detail"`
	SentAt     time.Time `db:"sent_at"`
}
