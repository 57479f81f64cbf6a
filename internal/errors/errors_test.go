package appErrors_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	appErrors "github.com/unclebandit/contactsync-backend/internal/errors"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want appErrors.Kind
	}{
		{"rate limit", appErrors.NewRateLimited(30*time.Second, "slow down"), appErrors.KindRateLimitTemporary},
		{"wrapped quota", fmt.Errorf("create contact: %w", appErrors.NewContactLimitExceeded("quota")), appErrors.KindContactLimitExceeded},
		{"token", appErrors.NewTokenInvalid("refresh failed", errors.New("invalid_grant")), appErrors.KindTokenInvalid},
		{"plain error", errors.New("boom"), appErrors.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, appErrors.KindOf(tt.err))
		})
	}
}

func TestIsCritical(t *testing.T) {
	assert.True(t, appErrors.KindContactLimitExceeded.IsCritical())
	assert.True(t, appErrors.KindContactLimitMax.IsCritical())
	assert.True(t, appErrors.KindTokenInvalid.IsCritical())
	assert.True(t, appErrors.KindPermissionDenied.IsCritical())
	assert.False(t, appErrors.KindRateLimitTemporary.IsCritical())
	assert.False(t, appErrors.KindUnknown.IsCritical())
}

func TestRetryAfterOf(t *testing.T) {
	err := fmt.Errorf("search: %w", appErrors.NewRateLimited(30*time.Second, "429"))
	assert.Equal(t, 30*time.Second, appErrors.RetryAfterOf(err))
	assert.Zero(t, appErrors.RetryAfterOf(errors.New("other")))
}

func TestSyncErrorUnwrap(t *testing.T) {
	cause := errors.New("invalid_grant")
	err := appErrors.NewTokenInvalid("refresh failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "TOKEN_INVALID")
}
