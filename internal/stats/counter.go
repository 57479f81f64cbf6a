// internal/stats/counter.go
package stats

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unclebandit/contactsync-backend/internal/model"
)

// bucketTTL keeps two days of hourly buckets.
const bucketTTL = 48 * time.Hour

// HourlyCounter counts activity per customer in hourly redis hashes. A nil client turns
// it into a no-op.
type HourlyCounter struct {
	client *redis.Client
	now    func() time.Time
}

func NewHourlyCounter(client *redis.Client) *HourlyCounter {
	return &HourlyCounter{client: client, now: time.Now}
}

// NewRedisClient parses url, pings the server, and returns the client. An empty url
// returns nil.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func bucketKey(customer string, hour time.Time) string {
	return "contactsync:activity:" + customer + ":" + hour.UTC().Format("2006010215")
}

func (c *HourlyCounter) Incr(ctx context.Context, customer string, action model.ActivityAction) error {
	if c == nil || c.client == nil {
		return nil
	}
	key := bucketKey(customer, c.now())
	pipe := c.client.TxPipeline()
	pipe.HIncrBy(ctx, key, string(action), 1)
	pipe.Expire(ctx, key, bucketTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Hour returns the counters of the hour containing at.
func (c *HourlyCounter) Hour(ctx context.Context, customer string, at time.Time) (map[string]int, error) {
	out := map[string]int{}
	if c == nil || c.client == nil {
		return out, nil
	}
	raw, err := c.client.HGetAll(ctx, bucketKey(customer, at)).Result()
	if err != nil {
		return nil, err
	}
	for action, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		out[action] = n
	}
	return out, nil
}
