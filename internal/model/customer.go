// internal/model/customer.go
package model

import "time"

// Account is one external directory identity linked by a customer. Tokens are stored
// encrypted; ContactCount is the last capacity seen by the sync engine.
type Account struct {
	ID              int64      `db:"id" json:"id"`
	CustomerPhone   string     `db:"customer_phone" json:"customer_phone"`
	Email           string     `db:"email" json:"email"`
	AccessTokenEnc  string     `db:"access_token_enc" json:"-"`
	RefreshTokenEnc string     `db:"refresh_token_enc" json:"-"`
	ContactCount    *int       `db:"contact_count" json:"contact_count,omitempty"`
	CountUpdatedAt  *time.Time `db:"count_updated_at" json:"count_updated_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// ErrorState is the persisted notification dedup record of a customer.
type ErrorState struct {
	CustomerPhone string    `db:"customer_phone" json:"customer_phone"`
	Kind          string    `db:"error_kind" json:"error_kind"`
	Message       string    `db:"error_message" json:"error_message"`
	Notified      bool      `db:"notified" json:"notified"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}
