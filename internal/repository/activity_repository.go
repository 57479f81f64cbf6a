package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/contactsync-backend/internal/model"
)

// ActivityRepositoryInterface is the append-only sync activity log
type ActivityRepositoryInterface interface {
	RecordActivity(ctx context.Context, event model.ActivityEvent) error
	ListRecentActivity(ctx context.Context, customer string, limit int) ([]model.ActivityEvent, error)
}

type ActivityRepository struct {
	DB *sql.DB
}

func (r *ActivityRepository) RecordActivity(ctx context.Context, ev model.ActivityEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	query := `
        INSERT INTO sync_activity
            (id, customer_phone, campaign, contact_phone, contact_name, account_email, action, error_kind, message, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `
	_, err := r.DB.ExecContext(ctx, query, ev.ID, ev.CustomerPhone, ev.Campaign, ev.ContactPhone, ev.ContactName,
		ev.AccountEmail, string(ev.Action), ev.ErrorKind, ev.Message, ev.CreatedAt)
	return err
}

// ListRecentActivity returns the customer's newest events first
func (r *ActivityRepository) ListRecentActivity(ctx context.Context, customer string, limit int) ([]model.ActivityEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := `
        SELECT id, customer_phone, campaign, contact_phone, contact_name, account_email, action, error_kind, message, created_at
        FROM sync_activity
        WHERE customer_phone = $1
        ORDER BY created_at DESC
        LIMIT $2
    `
	rows, err := r.DB.QueryContext(ctx, query, customer, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []model.ActivityEvent{}
	for rows.Next() {
		var ev model.ActivityEvent
		if err := rows.Scan(&ev.ID, &ev.CustomerPhone, &ev.Campaign, &ev.ContactPhone, &ev.ContactName,
			&ev.AccountEmail, &ev.Action, &ev.ErrorKind, &ev.Message, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
