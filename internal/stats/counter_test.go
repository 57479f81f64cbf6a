package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/contactsync-backend/internal/model"
)

func TestHourlyCounter_NilClientIsNoop(t *testing.T) {
	c := NewHourlyCounter(nil)
	require.NoError(t, c.Incr(context.Background(), "0501111111", model.ActionSaved))

	got, err := c.Hour(context.Background(), "0501111111", time.Now())
	require.NoError(t, err)
	assert.Empty(t, got)

	var unset *HourlyCounter
	assert.NoError(t, unset.Incr(context.Background(), "0501111111", model.ActionSaved))
}

func TestBucketKey(t *testing.T) {
	at := time.Date(2025, time.March, 14, 10, 59, 0, 0, time.UTC)
	assert.Equal(t, "contactsync:activity:0501111111:2025031410", bucketKey("0501111111", at))
}

func TestNewRedisClient_EmptyURL(t *testing.T) {
	client, err := NewRedisClient(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestNewRedisClient_BadURL(t *testing.T) {
	_, err := NewRedisClient(context.Background(), "://nope")
	assert.Error(t, err)
}
