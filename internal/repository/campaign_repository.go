package repository

import (
	"context"
	"database/sql"

	appErrors "github.com/unclebandit/contactsync-backend/internal/errors"
	"github.com/unclebandit/contactsync-backend/internal/model"
)

type ContactRepositoryInterface interface {
	ListCampaignsWithPendingWork(ctx context.Context) ([]string, error)
	ListCustomersInCampaign(ctx context.Context, campaign string) ([]string, error)
	ListPendingContacts(ctx context.Context, campaign, customer string) ([]model.PendingContact, error)
	SetContactStatus(ctx context.Context, campaign, contactPhone, customer string, status model.ContactStatus) error
	GetCampaignStats(ctx context.Context, campaign string) (*model.CampaignStats, error)
}

// ContactRepository reads and updates campaign_contacts
type ContactRepository struct {
	DB *sql.DB
}

// ListCampaignsWithPendingWork returns campaigns that still have at least one pending row
func (r *ContactRepository) ListCampaignsWithPendingWork(ctx context.Context) ([]string, error) {
	query := `
        SELECT campaign
        FROM campaign_contacts
        WHERE status = 'pending'
        GROUP BY campaign
        ORDER BY MIN(id)
    `
	return r.strings(ctx, query)
}

// ListCustomersInCampaign returns customers with pending rows in the campaign
func (r *ContactRepository) ListCustomersInCampaign(ctx context.Context, campaign string) ([]string, error) {
	query := `
        SELECT customer_phone
        FROM campaign_contacts
        WHERE campaign = $1 AND status = 'pending'
        GROUP BY customer_phone
        ORDER BY MIN(id)
    `
	return r.strings(ctx, query, campaign)
}

func (r *ContactRepository) ListPendingContacts(ctx context.Context, campaign, customer string) ([]model.PendingContact, error) {
	query := `
        SELECT id, campaign, contact_phone, contact_name, customer_phone, status, created_at, updated_at
        FROM campaign_contacts
        WHERE campaign = $1 AND customer_phone = $2 AND status = 'pending'
        ORDER BY id
    `
	rows, err := r.DB.QueryContext(ctx, query, campaign, customer)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []model.PendingContact{}
	for rows.Next() {
		var c model.PendingContact
		if err := rows.Scan(&c.ID, &c.Campaign, &c.ContactPhone, &c.ContactName, &c.CustomerPhone, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// SetContactStatus moves a pending row to status. Terminal rows are never rewritten.
func (r *ContactRepository) SetContactStatus(ctx context.Context, campaign, contactPhone, customer string, status model.ContactStatus) error {
	query := `
        UPDATE campaign_contacts
        SET status = $1, updated_at = NOW()
        WHERE campaign = $2 AND contact_phone = $3 AND customer_phone = $4 AND status = 'pending'
    `
	_, err := r.DB.ExecContext(ctx, query, string(status), campaign, contactPhone, customer)
	return err
}

// GetCampaignStats counts rows per customer and status
func (r *ContactRepository) GetCampaignStats(ctx context.Context, campaign string) (*model.CampaignStats, error) {
	query := `
        SELECT customer_phone, status, COUNT(*)
        FROM campaign_contacts
        WHERE campaign = $1
        GROUP BY customer_phone, status
    `
	rows, err := r.DB.QueryContext(ctx, query, campaign)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &model.CampaignStats{
		Campaign:  campaign,
		Customers: map[string]map[string]int{},
		Totals:    map[string]int{},
	}
	for rows.Next() {
		var customer, status string
		var count int
		if err := rows.Scan(&customer, &status, &count); err != nil {
			return nil, err
		}
		if stats.Customers[customer] == nil {
			stats.Customers[customer] = map[string]int{}
		}
		stats.Customers[customer][status] = count
		stats.Totals[status] += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(stats.Customers) == 0 {
		return nil, appErrors.NewCampaignNotFound(campaign)
	}
	return stats, nil
}

func (r *ContactRepository) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
