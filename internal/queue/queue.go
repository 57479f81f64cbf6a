package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/contactsync-backend/internal/model"
)

// AlertTopic carries model.Alert payloads from the sync engine to the alert publisher.
const AlertTopic = "sync_alerts"

// Queue interface
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler func(payload any) error) error
}

// InMemoryQueue fans each message out to the topic's subscribers, retrying failed handlers
type InMemoryQueue struct {
	mu         sync.Mutex
	handlers   map[string][]func(payload any) error
	wg         sync.WaitGroup
	logger     *zap.Logger
	maxRetries int
	retryStep  time.Duration
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(logger *zap.Logger) *InMemoryQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryQueue{
		handlers:   make(map[string][]func(payload any) error),
		logger:     logger,
		maxRetries: 3,
		retryStep:  500 * time.Millisecond,
	}
}

// JobPayload wraps a message payload with retry info
type JobPayload struct {
	Topic      string
	Payload    any
	RetryCount int
	MaxRetries int
}

// Publish hands the payload to every subscriber without waiting for them
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	job := JobPayload{
		Topic:      topic,
		Payload:    payload,
		MaxRetries: q.maxRetries,
	}

	for _, handler := range handlers {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.processJob(handler, job)
		}()
	}

	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(handler func(payload any) error, job JobPayload) {
	for {
		err := handler(job.Payload)
		if err == nil {
			q.logger.Debug("job processed", zap.String("topic", job.Topic))
			return
		}

		job.RetryCount++
		if job.RetryCount > job.MaxRetries {
			q.logger.Error("job permanently failed",
				zap.String("topic", job.Topic), zap.Int("attempts", job.RetryCount), zap.Error(err))
			return
		}
		q.logger.Warn("job failed, retrying",
			zap.String("topic", job.Topic), zap.Int("attempt", job.RetryCount), zap.Int("max_retries", job.MaxRetries), zap.Error(err))

		// Linear backoff before retry
		time.Sleep(time.Duration(job.RetryCount) * q.retryStep)
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Drain waits for in-flight jobs or ctx, whichever comes first
func (q *InMemoryQueue) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AlertPublisher delivers alerts beyond the process
type AlertPublisher interface {
	PublishAlert(ctx context.Context, alert model.Alert) error
}

// StartAlertSubscriber forwards every alert published on AlertTopic to pub
func StartAlertSubscriber(q Queue, pub AlertPublisher, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	return q.Subscribe(AlertTopic, func(payload any) error {
		alert, ok := payload.(model.Alert)
		if !ok {
			logger.Warn("invalid alert payload type", zap.String("type", fmt.Sprintf("%T", payload)))
			return nil // no retry
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pub.PublishAlert(ctx, alert); err != nil {
			return err // retry
		}
		logger.Info("alert forwarded", zap.String("customer", alert.CustomerPhone), zap.String("kind", alert.Kind))
		return nil
	})
}
