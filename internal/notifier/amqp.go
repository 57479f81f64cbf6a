package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/unclebandit/contactsync-backend/internal/model"
)

// dialRetries bounds how long startup waits for the broker.
const dialRetries = 6

// channel is the part of *amqp.Channel the broker uses.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

type dialFunc func(url string) (io.Closer, channel, error)

func dialAMQP(url string) (io.Closer, channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

// Broker owns one RabbitMQ connection and channel bound to a durable queue.
type Broker struct {
	url    string
	queue  string
	logger *zap.Logger
	dial   dialFunc

	// reconnectMu serializes reconnects so concurrent publishers dial once.
	reconnectMu sync.Mutex

	mu   sync.Mutex
	conn io.Closer
	ch   channel
}

// DialBroker connects with exponential backoff and declares the queue.
func DialBroker(ctx context.Context, url, queue string, logger *zap.Logger) (*Broker, error) {
	return newBroker(ctx, url, queue, logger, dialAMQP)
}

func newBroker(ctx context.Context, url, queue string, logger *zap.Logger, dial dialFunc) (*Broker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Broker{url: url, queue: queue, logger: logger, dial: dial}
	if err := b.connect(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// connect dials a fresh connection and swaps it in, closing the one it replaces.
func (b *Broker) connect(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		conn, ch, err := b.dial(b.url)
		if err != nil {
			return struct{}{}, err
		}
		if _, err := ch.QueueDeclare(b.queue, true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return struct{}{}, err
		}
		b.mu.Lock()
		oldConn, oldCh := b.conn, b.ch
		b.conn, b.ch = conn, ch
		b.mu.Unlock()
		if oldCh != nil {
			_ = oldCh.Close()
		}
		if oldConn != nil {
			_ = oldConn.Close()
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(dialRetries),
		backoff.WithNotify(func(err error, next time.Duration) {
			b.logger.Warn("rabbitmq not reachable, retrying", zap.Duration("in", next), zap.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	b.logger.Info("connected to rabbitmq", zap.String("queue", b.queue))
	return nil
}

// reconnect replaces stale unless another publisher has already replaced it.
func (b *Broker) reconnect(ctx context.Context, stale channel) error {
	b.reconnectMu.Lock()
	defer b.reconnectMu.Unlock()

	b.mu.Lock()
	current := b.ch
	b.mu.Unlock()
	if current != stale {
		return nil
	}
	return b.connect(ctx)
}

// PublishAlert publishes one persistent JSON message. A closed channel triggers one reconnect.
func (b *Broker) PublishAlert(ctx context.Context, alert model.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    alert.RaisedAt,
		Body:         body,
	}

	used, err := b.publish(msg)
	if err == nil {
		return nil
	}
	if !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("publish alert: %w", err)
	}
	if err := b.reconnect(ctx, used); err != nil {
		return err
	}
	if _, err := b.publish(msg); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// publish returns the channel it used so a failed publish can name what went stale.
func (b *Broker) publish(msg amqp.Publishing) (channel, error) {
	b.mu.Lock()
	ch := b.ch
	b.mu.Unlock()
	if ch == nil {
		return nil, amqp.ErrClosed
	}
	return ch, ch.Publish("", b.queue, false, false, msg)
}

// Consume starts delivering the queue's messages with manual acknowledgement.
func (b *Broker) Consume(consumer string, prefetch int) (<-chan amqp.Delivery, error) {
	b.mu.Lock()
	ch := b.ch
	b.mu.Unlock()
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(b.queue, consumer, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", b.queue, err)
	}
	return deliveries, nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch != nil {
		b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
