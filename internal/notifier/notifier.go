// Package notifier carries critical sync errors to operators: in process through the
// queue, across processes through RabbitMQ, and finally to a webhook.
package notifier

import (
	"context"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/contactsync-backend/internal/errors"
	"github.com/unclebandit/contactsync-backend/internal/model"
	"github.com/unclebandit/contactsync-backend/internal/queue"
)

// QueueNotifier hands alerts to the in-process queue and returns immediately.
type QueueNotifier struct {
	Queue queue.Queue
	Now   func() time.Time
}

func NewQueueNotifier(q queue.Queue) *QueueNotifier {
	return &QueueNotifier{Queue: q, Now: time.Now}
}

func (n *QueueNotifier) Notify(_ context.Context, customer string, kind appErrors.Kind, message string) error {
	return n.Queue.Publish(queue.AlertTopic, model.Alert{
		CustomerPhone: customer,
		Kind:          string(kind),
		Message:       message,
		RaisedAt:      n.Now(),
	})
}

// LogPublisher stands in for the broker when none is configured.
type LogPublisher struct {
	Logger *zap.Logger
}

func (p LogPublisher) PublishAlert(_ context.Context, alert model.Alert) error {
	p.Logger.Error("operator alert",
		zap.String("customer", alert.CustomerPhone),
		zap.String("kind", alert.Kind),
		zap.String("message", alert.Message),
		zap.Time("raised_at", alert.RaisedAt))
	return nil
}
