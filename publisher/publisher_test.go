package publisher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventflow/eventflow"
	"github.com/eventflow/eventflow/broker"
)

// captureSender records sent records and fails on demand.
type captureSender struct {
	mu      sync.Mutex
	records []Record
	txn     []Record
	fail    error
}

type Record = broker.Record

func (s *captureSender) Send(_ context.Context, records ...Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.records = append(s.records, records...)
	return nil
}

func (s *captureSender) SendTransactional(_ context.Context, records ...Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.txn = append(s.txn, records...)
	return nil
}

func (s *captureSender) sent() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

func newTestPublisher(t *testing.T, sender broker.Sender) *Publisher {
	t.Helper()
	pub, err := New(Config{Topic: "orders", Sender: sender})
	require.NoError(t, err)
	require.NoError(t, pub.Connect(context.Background()))
	return pub
}

func orderEnvelope(t *testing.T, data any) *eventflow.Envelope {
	t.Helper()
	env, err := eventflow.New(eventflow.Attributes{
		eventflow.AttrType:   "order.placed",
		eventflow.AttrSource: "test/orders",
	}, data)
	require.NoError(t, err)
	return env
}

func TestPublishMapsAttributesToHeaders(t *testing.T) {
	sender := &captureSender{}
	pub := newTestPublisher(t, sender)

	env := orderEnvelope(t, map[string]any{"amount": 99.99})
	env.Attributes[eventflow.AttrSubject] = "eu-west"
	env.Attributes[eventflow.AttrTraceparent] = "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01"

	require.NoError(t, pub.Publish(context.Background(), env))

	sent := sender.sent()
	require.Len(t, sent, 1)
	rec := sent[0]
	assert.Equal(t, "orders", rec.Topic)
	assert.Equal(t, env.ID(), rec.Key)
	assert.Equal(t, eventflow.SpecVersion, rec.Headers[broker.HeaderSpecVersion])
	assert.Equal(t, env.ID(), rec.Headers[broker.HeaderID])
	assert.Equal(t, "order.placed", rec.Headers[broker.HeaderType])
	assert.Equal(t, "test/orders", rec.Headers[broker.HeaderSource])
	assert.Equal(t, "eu-west", rec.Headers[broker.HeaderSubject])
	assert.Equal(t, env.CorrelationID(), rec.Headers[broker.HeaderCorrelationID])
	assert.Equal(t, env.Attributes[eventflow.AttrTraceparent], rec.Headers[broker.HeaderTraceparent])
	assert.Empty(t, rec.Headers[broker.HeaderContentEncoding])
}

func TestPublishCompressesLargePayloads(t *testing.T) {
	sender := &captureSender{}
	pub := newTestPublisher(t, sender)

	big := orderEnvelope(t, map[string]any{
		"blob": strings.Repeat("all work and no play ", 200),
	})
	require.NoError(t, pub.Publish(context.Background(), big))

	rec := sender.sent()[0]
	assert.Equal(t, "gzip", rec.Headers[broker.HeaderContentEncoding])

	decoded, err := eventflow.Decompress(rec.Value)
	require.NoError(t, err)
	assert.Equal(t, big.ID(), decoded.ID())
}

func TestPublishCustomKeyFunc(t *testing.T) {
	sender := &captureSender{}
	pub, err := New(Config{
		Topic:   "orders",
		Sender:  sender,
		KeyFunc: func(e *eventflow.Envelope) string { return e.CorrelationID() },
	})
	require.NoError(t, err)
	require.NoError(t, pub.Connect(context.Background()))

	env := orderEnvelope(t, nil)
	require.NoError(t, pub.Publish(context.Background(), env))
	assert.Equal(t, env.CorrelationID(), sender.sent()[0].Key)
}

func TestPublishRequiresConnect(t *testing.T) {
	pub, err := New(Config{Topic: "orders", Sender: &captureSender{}})
	require.NoError(t, err)

	env := orderEnvelope(t, nil)
	assert.ErrorIs(t, pub.Publish(context.Background(), env), ErrNotConnected)

	require.NoError(t, pub.Connect(context.Background()))
	require.NoError(t, pub.Connect(context.Background())) // idempotent
	require.NoError(t, pub.Publish(context.Background(), env))

	pub.Disconnect()
	pub.Disconnect() // idempotent
	assert.ErrorIs(t, pub.Publish(context.Background(), env), ErrNotConnected)
}

func TestPublishBatchKeepsOrder(t *testing.T) {
	sender := &captureSender{}
	pub := newTestPublisher(t, sender)

	envs := []*eventflow.Envelope{
		orderEnvelope(t, map[string]any{"n": 1}),
		orderEnvelope(t, map[string]any{"n": 2}),
		orderEnvelope(t, map[string]any{"n": 3}),
	}
	require.NoError(t, pub.PublishBatch(context.Background(), envs))

	sent := sender.sent()
	require.Len(t, sent, 3)
	for i, env := range envs {
		assert.Equal(t, env.ID(), sent[i].Headers[broker.HeaderID])
	}
}

func TestPublishTransactional(t *testing.T) {
	sender := &captureSender{}
	pub := newTestPublisher(t, sender)

	envs := []*eventflow.Envelope{orderEnvelope(t, nil), orderEnvelope(t, nil)}
	require.NoError(t, pub.PublishTransactional(context.Background(), envs))
	assert.Len(t, sender.txn, 2)
	assert.Empty(t, sender.records)
}

// plainSender has no transaction support.
type plainSender struct{}

func (plainSender) Send(context.Context, ...Record) error { return nil }

func TestPublishTransactionalRequiresTransactor(t *testing.T) {
	pub, err := New(Config{Topic: "orders", Sender: plainSender{}})
	require.NoError(t, err)
	require.NoError(t, pub.Connect(context.Background()))

	err = pub.PublishTransactional(context.Background(), []*eventflow.Envelope{orderEnvelope(t, nil)})
	require.Error(t, err)
}

func TestPublishWrapsTransportError(t *testing.T) {
	sender := &captureSender{fail: errors.New("broker down")}
	pub := newTestPublisher(t, sender)

	err := pub.Publish(context.Background(), orderEnvelope(t, nil))
	var terr *eventflow.TransportError
	require.ErrorAs(t, err, &terr)
}
