// internal/model/campaign.go
package model

import "time"

type ContactStatus string

const (
	StatusPending  ContactStatus = "pending"
	StatusSaved    ContactStatus = "saved"
	StatusExisted  ContactStatus = "existed"
	StatusExcluded ContactStatus = "excluded"
)

// Terminal reports whether the sync engine will never touch the row again.
func (s ContactStatus) Terminal() bool {
	return s == StatusSaved || s == StatusExisted || s == StatusExcluded
}

// PendingContact is one row of campaign_contacts: a registered contact waiting to be
// filed into one customer's directory.
type PendingContact struct {
	ID            int64         `db:"id" json:"id"`
	Campaign      string        `db:"campaign" json:"campaign"`
	ContactPhone  string        `db:"contact_phone" json:"contact_phone"`
	ContactName   string        `db:"contact_name" json:"contact_name"`
	CustomerPhone string        `db:"customer_phone" json:"customer_phone"`
	Status        ContactStatus `db:"status" json:"status"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     *time.Time    `db:"updated_at" json:"updated_at,omitempty"`
}

type CampaignStats struct {
	Campaign  string                    `json:"campaign"`
	Customers map[string]map[string]int `json:"customers"`
	Totals    map[string]int            `json:"totals"`
}
