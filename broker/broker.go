// Package broker defines the transport contract between publishers and
// consumers: keyed, header-carrying records on named topics, delivered
// with explicit ack/nack. The in-memory broker implements it for tests
// and single-process deployments; production deployments adapt a real
// broker client behind the same interfaces.
package broker

import (
	"context"
	"errors"
)

var (
	// ErrBrokerClosed is returned when operations are attempted on a closed broker.
	ErrBrokerClosed = errors.New("broker is closed")
	// ErrTxnAborted is returned when a transactional send is rolled back.
	ErrTxnAborted = errors.New("transaction aborted")
)

// Header names for envelope attributes mapped onto transport records.
// The ce- prefix follows the CloudEvents HTTP binding.
const (
	HeaderSpecVersion     = "ce-specversion"
	HeaderID              = "ce-id"
	HeaderSource          = "ce-source"
	HeaderType            = "ce-type"
	HeaderSubject         = "ce-subject"
	HeaderTime            = "ce-time"
	HeaderCorrelationID   = "ce-correlationid"
	HeaderCausationID     = "ce-causationid"
	HeaderTraceparent     = "traceparent"
	HeaderTracestate      = "tracestate"
	HeaderContentType     = "content-type"
	HeaderContentEncoding = "content-encoding"
)

// Record is one keyed message on a topic. Records with the same key land
// on the same partition, preserving their relative order.
type Record struct {
	Topic   string
	Key     string
	Headers map[string]string
	Value   []byte
}

// Delivery is a record handed to a consumer. Exactly one of Ack or Nack
// must be called; Nack requeues the record for redelivery on the same
// partition.
type Delivery struct {
	Record Record
	Ack    func()
	Nack   func()
}

// Sender sends records to topics.
type Sender interface {
	// Send appends records to their topics. Returns an error if the send
	// fails or times out.
	Send(ctx context.Context, records ...Record) error
}

// Receiver subscribes a consumer group to a topic.
type Receiver interface {
	// Receive returns a channel of deliveries for the topic, load-shared
	// among subscribers of the same group. The channel is closed when the
	// context is canceled or the broker is closed.
	Receive(ctx context.Context, topic, group string) (<-chan Delivery, error)
}

// Transactor sends a set of records atomically: either all become
// visible to consumers, or none do.
type Transactor interface {
	SendTransactional(ctx context.Context, records ...Record) error
}

// Broker combines Sender, Receiver and Transactor capabilities.
type Broker interface {
	Sender
	Receiver
	Transactor
	// Close gracefully shuts down the broker.
	Close() error
}

// Config configures the in-memory broker.
type Config struct {
	// Partitions is the number of partitions per topic. Default: 4.
	Partitions int

	// BufferSize is the per-subscriber channel buffer. Default: 100.
	BufferSize int
}

func (c *Config) defaults() Config {
	cfg := *c
	if cfg.Partitions <= 0 {
		cfg.Partitions = 4
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}
	return cfg
}
