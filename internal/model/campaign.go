package model

import (
	"database/sql"
	"encoding/json"
	"time"
)

type CampaignStatus string

const (
	CampaignScheduled CampaignStatus = "Scheduled"
	CampaignQueued    CampaignStatus = "Queued"
	CampaignSent      CampaignStatus = "Sent"
	CampaignFailed    CampaignStatus = "Failed"
)

func (s CampaignStatus) String() string { return string(s) }

func (s CampaignStatus) Valid() bool {
	return s == CampaignScheduled || s == CampaignQueued || s == CampaignSent || s == CampaignFailed
}

// Terminal reports whether the status is final; terminal campaigns are
// never re-selected by the dispatcher.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignSent || s == CampaignFailed
}

// Campaign is the DB entity persisted in the campaigns table. Recipients
// are stored as a JSON array of canonical phone strings.
type Campaign struct {
	ID            string         `db:"id"`
	TenantID      string         `db:"tenant_id"`
	Message       string         `db:"message"`
	RecipientsRaw []byte         `db:"recipients"`
	Status        CampaignStatus `db:"status"`
	ScheduledAt   sql.NullTime   `db:"scheduled_at"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

// Recipients decodes the stored recipient list. Duplicates are permitted.
func (c *Campaign) Recipients() ([]string, error) {
	if len(c.RecipientsRaw) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(c.RecipientsRaw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Campaign) SetRecipients(rs []string) error {
	b, err := json.Marshal(rs)
	if err != nil {
		return err
	}
	c.RecipientsRaw = b
	return nil
}
