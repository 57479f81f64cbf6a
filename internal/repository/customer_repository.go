package repository

import (
	"context"
	"database/sql"
	"errors"

	appErrors "github.com/unclebandit/contactsync-backend/internal/errors"
	"github.com/unclebandit/contactsync-backend/internal/model"
)

// AccountRepositoryInterface defines methods used by the sync engine
type AccountRepositoryInterface interface {
	GetAccounts(ctx context.Context, customer string) ([]model.Account, error)
	UpdateAccountCredentials(ctx context.Context, accountID int64, accessTokenEnc, refreshTokenEnc string) error
	UpdateAccountContactCount(ctx context.Context, accountID int64, count int) error
}

// AccountRepository is the concrete implementation
type AccountRepository struct {
	DB *sql.DB
}

// GetAccounts returns the customer's accounts that hold a refresh token, oldest first
func (r *AccountRepository) GetAccounts(ctx context.Context, customer string) ([]model.Account, error) {
	query := `
        SELECT id, customer_phone, email, access_token_enc, refresh_token_enc,
               contact_count, count_updated_at, created_at, updated_at
        FROM accounts
        WHERE customer_phone = $1 AND refresh_token_enc <> ''
        ORDER BY id
    `
	rows, err := r.DB.QueryContext(ctx, query, customer)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := []model.Account{}
	for rows.Next() {
		var a model.Account
		var count sql.NullInt64
		if err := rows.Scan(&a.ID, &a.CustomerPhone, &a.Email, &a.AccessTokenEnc, &a.RefreshTokenEnc,
			&count, &a.CountUpdatedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		if count.Valid {
			n := int(count.Int64)
			a.ContactCount = &n
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *AccountRepository) UpdateAccountCredentials(ctx context.Context, accountID int64, accessTokenEnc, refreshTokenEnc string) error {
	query := `
        UPDATE accounts
        SET access_token_enc = $1, refresh_token_enc = $2, updated_at = NOW()
        WHERE id = $3
    `
	return r.exec1(ctx, accountID, query, accessTokenEnc, refreshTokenEnc, accountID)
}

func (r *AccountRepository) UpdateAccountContactCount(ctx context.Context, accountID int64, count int) error {
	query := `
        UPDATE accounts
        SET contact_count = $1, count_updated_at = NOW()
        WHERE id = $2
    `
	return r.exec1(ctx, accountID, query, count, accountID)
}

func (r *AccountRepository) exec1(ctx context.Context, accountID int64, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErrors.NewAccountNotFound(accountID)
	}
	return nil
}

// ErrorStateRepositoryInterface persists the per-customer notification dedup record
type ErrorStateRepositoryInterface interface {
	GetErrorState(ctx context.Context, customer string) (*model.ErrorState, error)
	SetErrorState(ctx context.Context, customer, kind, message string, notified bool) error
	ClearErrorState(ctx context.Context, customer string) error
}

type ErrorStateRepository struct {
	DB *sql.DB
}

// GetErrorState returns nil when the customer has no recorded error
func (r *ErrorStateRepository) GetErrorState(ctx context.Context, customer string) (*model.ErrorState, error) {
	query := `
        SELECT customer_phone, error_kind, error_message, notified, updated_at
        FROM sync_error_states
        WHERE customer_phone = $1
    `
	var s model.ErrorState
	err := r.DB.QueryRowContext(ctx, query, customer).Scan(&s.CustomerPhone, &s.Kind, &s.Message, &s.Notified, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *ErrorStateRepository) SetErrorState(ctx context.Context, customer, kind, message string, notified bool) error {
	query := `
        INSERT INTO sync_error_states (customer_phone, error_kind, error_message, notified, updated_at)
        VALUES ($1, $2, $3, $4, NOW())
        ON CONFLICT (customer_phone) DO UPDATE
        SET error_kind = EXCLUDED.error_kind,
            error_message = EXCLUDED.error_message,
            notified = EXCLUDED.notified,
            updated_at = NOW()
    `
	_, err := r.DB.ExecContext(ctx, query, customer, kind, message, notified)
	return err
}

func (r *ErrorStateRepository) ClearErrorState(ctx context.Context, customer string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM sync_error_states WHERE customer_phone = $1`, customer)
	return err
}
