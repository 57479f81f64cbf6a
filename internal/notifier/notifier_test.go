package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/contactsync-backend/internal/errors"
	"github.com/unclebandit/contactsync-backend/internal/model"
	"github.com/unclebandit/contactsync-backend/internal/queue"
)

type recordingQueue struct {
	topic   string
	payload any
}

func (q *recordingQueue) Publish(topic string, payload any) error {
	q.topic, q.payload = topic, payload
	return nil
}

func (q *recordingQueue) Subscribe(string, func(any) error) error { return nil }

func TestQueueNotifier_PublishesAlert(t *testing.T) {
	q := &recordingQueue{}
	at := time.Date(2025, time.March, 14, 10, 0, 0, 0, time.UTC)
	n := &QueueNotifier{Queue: q, Now: func() time.Time { return at }}

	require.NoError(t, n.Notify(context.Background(), "0501111111", appErrors.KindTokenInvalid, "revoked"))
	assert.Equal(t, queue.AlertTopic, q.topic)
	assert.Equal(t, model.Alert{CustomerPhone: "0501111111", Kind: "TOKEN_INVALID", Message: "revoked", RaisedAt: at}, q.payload)
}

type fakeAck struct {
	mu                   sync.Mutex
	acks, nacks, rejects int
}

func (a *fakeAck) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *fakeAck) Nack(uint64, bool, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	return nil
}

func (a *fakeAck) Reject(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejects++
	return nil
}

type flakySender struct {
	failures int
	sent     []model.Alert
	calls    int
}

func (s *flakySender) Send(_ context.Context, alert model.Alert) error {
	s.calls++
	if s.failures > 0 {
		s.failures--
		return errors.New("timeout")
	}
	s.sent = append(s.sent, alert)
	return nil
}

func runWorker(t *testing.T, sender Sender, bodies ...[]byte) *fakeAck {
	t.Helper()
	ack := &fakeAck{}
	deliveries := make(chan amqp.Delivery, len(bodies))
	for i, b := range bodies {
		deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: uint64(i + 1), Body: b}
	}
	close(deliveries)

	w := NewWorker(deliveries, sender, nil)
	w.MaxTries = 3
	w.BackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	w.Start(context.Background())
	return ack
}

func alertBody(t *testing.T) []byte {
	b, err := json.Marshal(model.Alert{CustomerPhone: "0501111111", Kind: "CONTACT_LIMIT_MAX", Message: "full"})
	require.NoError(t, err)
	return b
}

func TestWorker_AcksAfterRetry(t *testing.T) {
	sender := &flakySender{failures: 2}
	ack := runWorker(t, sender, alertBody(t))

	assert.Equal(t, 3, sender.calls)
	assert.Equal(t, 1, ack.acks)
	assert.Len(t, sender.sent, 1)
}

func TestWorker_NacksWhenRetriesExhausted(t *testing.T) {
	sender := &flakySender{failures: 10}
	ack := runWorker(t, sender, alertBody(t))

	assert.Equal(t, 3, sender.calls)
	assert.Equal(t, 0, ack.acks)
	assert.Equal(t, 1, ack.nacks)
}

func TestWorker_RejectsMalformedBody(t *testing.T) {
	sender := &flakySender{}
	ack := runWorker(t, sender, []byte("{not json"))

	assert.Zero(t, sender.calls)
	assert.Equal(t, 1, ack.rejects)
}

func TestWebhookSender(t *testing.T) {
	var mu sync.Mutex
	var got model.Alert
	status := http.StatusNoContent
	setStatus := func(code int) {
		mu.Lock()
		status = code
		mu.Unlock()
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var a model.Alert
		_ = json.NewDecoder(r.Body).Decode(&a)
		mu.Lock()
		got = a
		code := status
		mu.Unlock()
		w.WriteHeader(code)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL)
	alert := model.Alert{CustomerPhone: "0501111111", Kind: "TOKEN_INVALID"}
	require.NoError(t, s.Send(context.Background(), alert))
	mu.Lock()
	assert.Equal(t, "TOKEN_INVALID", got.Kind)
	mu.Unlock()

	setStatus(http.StatusBadRequest)
	err := s.Send(context.Background(), alert)
	require.Error(t, err)
	var perm *backoff.PermanentError
	assert.True(t, errors.As(err, &perm))

	setStatus(http.StatusBadGateway)
	err = s.Send(context.Background(), alert)
	require.Error(t, err)
	assert.False(t, errors.As(err, &perm))
}
