// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package stream defines the durable message stream contract the
// monitor publishes to and the event handler consumes from, together
// with its NATS JetStream implementation.
//
// The contract is deliberately narrow: publish with a deduplication
// identity, pull batches from a named durable consumer, and per-message
// acknowledgment (ack, nak, term, in-progress deadline extension).
// Storage, replication, and retention belong to the broker.
package stream

import (
	"context"
	"time"
)

// Msg is one delivered message handle. All acknowledgment methods are
// terminal except InProgress, which extends the broker's redelivery
// deadline without resolving the message.
type Msg interface {
	// Subject returns the subject the message was published on.
	Subject() string

	// Data returns the message payload.
	Data() []byte

	// Ack acknowledges successful processing; the broker will not
	// redeliver.
	Ack() error

	// Nak negatively acknowledges; the broker redelivers the message.
	Nak() error

	// Term terminally rejects; the broker records the failure and
	// never redelivers.
	Term() error

	// InProgress signals that processing is ongoing, resetting the
	// broker's acknowledgment-wait timer.
	InProgress() error

	// Deliveries returns the broker-tracked delivery attempt count,
	// starting at 1.
	Deliveries() int
}

// Consumer pulls message batches from a durable cursor. A durable
// consumer's cursor is exclusively owned by one consuming loop;
// running two loops against the same durable name causes competing
// redelivery.
type Consumer interface {
	// Fetch pulls up to batch messages, waiting at most maxWait for
	// the first one. An empty result with a nil error means no
	// messages were available before the deadline.
	Fetch(ctx context.Context, batch int, maxWait time.Duration) ([]Msg, error)
}

// Publisher appends messages to the stream.
type Publisher interface {
	// Publish sends a payload on a subject. The dedupKey is the
	// message's deduplication identity; brokers that support
	// publish-side dedup drop duplicate keys within their dedup
	// window.
	Publish(ctx context.Context, subject string, data []byte, dedupKey string) error
}
