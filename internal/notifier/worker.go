package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/unclebandit/contactsync-backend/internal/model"
)

// Sender delivers one alert to its final destination.
type Sender interface {
	Send(ctx context.Context, alert model.Alert) error
}

// Worker drains alert deliveries into a Sender
type Worker struct {
	Deliveries <-chan amqp.Delivery
	Sender     Sender
	Logger     *zap.Logger
	MaxTries   uint
	BackOff    func() backoff.BackOff
}

// Constructor
func NewWorker(deliveries <-chan amqp.Delivery, sender Sender, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		Deliveries: deliveries,
		Sender:     sender,
		Logger:     logger,
		MaxTries:   5,
		BackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = time.Second
			bo.MaxInterval = 30 * time.Second
			return bo
		},
	}
}

// Start processes deliveries until the channel closes or ctx is done
func (w *Worker) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-w.Deliveries:
			if !ok {
				return
			}
			w.handle(ctx, d)
		}
	}
}

func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	var alert model.Alert
	if err := json.Unmarshal(d.Body, &alert); err != nil {
		w.Logger.Warn("dropping malformed alert", zap.Error(err))
		_ = d.Reject(false)
		return
	}
	log := w.Logger.With(zap.String("customer", alert.CustomerPhone), zap.String("kind", alert.Kind))

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, w.Sender.Send(ctx, alert)
	}, backoff.WithBackOff(w.BackOff()), backoff.WithMaxTries(w.MaxTries))
	if err != nil {
		log.Error("alert delivery failed", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	log.Info("alert delivered")
	_ = d.Ack(false)
}

// WebhookSender POSTs the alert as JSON. 4xx answers are not retried.
type WebhookSender struct {
	URL    string
	Client *http.Client
}

func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *WebhookSender) Send(ctx context.Context, alert model.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("encode alert: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return backoff.Permanent(fmt.Errorf("webhook rejected alert: %s", resp.Status))
	default:
		return fmt.Errorf("webhook unavailable: %s", resp.Status)
	}
}
