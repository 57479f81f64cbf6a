// internal/model/activity.go
package model

import "time"

type ActivityAction string

const (
	ActionSaved    ActivityAction = "saved"
	ActionExisted  ActivityAction = "existed"
	ActionExcluded ActivityAction = "excluded"
	ActionFailed   ActivityAction = "failed"
	ActionSkipped  ActivityAction = "skipped"
)

// ActivityEvent is one append-only line of the sync activity log.
type ActivityEvent struct {
	ID            string         `db:"id" json:"id"`
	CustomerPhone string         `db:"customer_phone" json:"customer_phone"`
	Campaign      string         `db:"campaign" json:"campaign"`
	ContactPhone  string         `db:"contact_phone" json:"contact_phone"`
	ContactName   string         `db:"contact_name" json:"contact_name"`
	AccountEmail  string         `db:"account_email" json:"account_email,omitempty"`
	Action        ActivityAction `db:"action" json:"action"`
	ErrorKind     string         `db:"error_kind" json:"error_kind,omitempty"`
	Message       string         `db:"message" json:"message,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}

// Alert is what the notifier publishes for an operator.
type Alert struct {
	CustomerPhone string    `json:"customer_phone"`
	Kind          string    `json:"kind"`
	Message       string    `json:"message"`
	RaisedAt      time.Time `json:"raised_at"`
}
