// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
	"time"
)

// ErrCampaignNotFound is returned when a campaign has no contact rows at all
type ErrCampaignNotFound struct {
	Campaign string
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign %q not found", e.Campaign)
}

// Helper constructor
func NewCampaignNotFound(campaign string) error {
	return &ErrCampaignNotFound{Campaign: campaign}
}

// ErrAccountNotFound is returned when an account id does not exist
type ErrAccountNotFound struct {
	AccountID int64
}

func (e *ErrAccountNotFound) Error() string {
	return fmt.Sprintf("account with ID %d not found", e.AccountID)
}

func NewAccountNotFound(id int64) error {
	return &ErrAccountNotFound{AccountID: id}
}

// Kind classifies a directory failure. The orchestrator switches on it exhaustively.
type Kind string

const (
	KindRateLimitTemporary   Kind = "RATE_LIMIT_TEMPORARY"
	KindContactLimitExceeded Kind = "CONTACT_LIMIT_EXCEEDED"
	KindContactLimitMax      Kind = "CONTACT_LIMIT_MAX"
	KindPermissionDenied     Kind = "PERMISSION_DENIED"
	KindTokenInvalid         Kind = "TOKEN_INVALID"
	KindUnknown              Kind = "UNKNOWN_ERROR"
)

// IsCritical reports whether the kind needs an operator and stops the customer's run.
func (k Kind) IsCritical() bool {
	switch k {
	case KindContactLimitExceeded, KindContactLimitMax, KindPermissionDenied, KindTokenInvalid:
		return true
	default:
		return false
	}
}

// SyncError is the tagged error returned by the directory client.
type SyncError struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	StatusCode int
	Err        error
}

func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

func NewRateLimited(retryAfter time.Duration, message string) error {
	return &SyncError{Kind: KindRateLimitTemporary, Message: message, RetryAfter: retryAfter, StatusCode: 429}
}

func NewContactLimitExceeded(message string) error {
	return &SyncError{Kind: KindContactLimitExceeded, Message: message, StatusCode: 403}
}

func NewContactLimitMax(message string) error {
	return &SyncError{Kind: KindContactLimitMax, Message: message}
}

func NewPermissionDenied(message string) error {
	return &SyncError{Kind: KindPermissionDenied, Message: message, StatusCode: 403}
}

func NewTokenInvalid(message string, err error) error {
	return &SyncError{Kind: KindTokenInvalid, Message: message, StatusCode: 401, Err: err}
}

func NewUnknown(status int, message string, err error) error {
	return &SyncError{Kind: KindUnknown, Message: message, StatusCode: status, Err: err}
}

// KindOf extracts the kind from err; untagged errors are KindUnknown.
func KindOf(err error) Kind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// RetryAfterOf returns the retry-after carried by a rate limit error, or zero.
func RetryAfterOf(err error) time.Duration {
	var se *SyncError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}
