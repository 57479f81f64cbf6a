package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/unclebandit/contactsync-backend/internal/model"
)

// ActivityCounter keeps rolling counters next to the activity log
type ActivityCounter interface {
	Incr(ctx context.Context, customer string, action model.ActivityAction) error
}

// Store is the record store the sync engine runs against
type Store struct {
	*ContactRepository
	*AccountRepository
	*ErrorStateRepository
	*ActivityRepository

	Counter ActivityCounter
}

func NewStore(db *sql.DB, counter ActivityCounter) *Store {
	return &Store{
		ContactRepository:    &ContactRepository{DB: db},
		AccountRepository:    &AccountRepository{DB: db},
		ErrorStateRepository: &ErrorStateRepository{DB: db},
		ActivityRepository:   &ActivityRepository{DB: db},
		Counter:              counter,
	}
}

// RecordActivity appends the event and bumps its counter
func (s *Store) RecordActivity(ctx context.Context, ev model.ActivityEvent) error {
	if err := s.ActivityRepository.RecordActivity(ctx, ev); err != nil {
		return err
	}
	if s.Counter == nil {
		return nil
	}
	if err := s.Counter.Incr(ctx, ev.CustomerPhone, ev.Action); err != nil {
		return fmt.Errorf("count activity: %w", err)
	}
	return nil
}

var (
	_ ContactRepositoryInterface    = (*ContactRepository)(nil)
	_ AccountRepositoryInterface    = (*AccountRepository)(nil)
	_ ErrorStateRepositoryInterface = (*ErrorStateRepository)(nil)
	_ ActivityRepositoryInterface   = (*ActivityRepository)(nil)
	_ ActivityRepositoryInterface   = (*Store)(nil)
)
