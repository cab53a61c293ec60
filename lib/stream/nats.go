// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Config describes the NATS connection and the JetStream stream the
// events live on.
type Config struct {
	// URL is the NATS server URL. Defaults to nats.DefaultURL.
	URL string

	// Stream is the JetStream stream name. Defaults to
	// "GITHUB_EVENTS".
	Stream string

	// Subjects bound to the stream. Defaults to ["github.>"].
	Subjects []string

	// MaxAge bounds message retention by age. Zero means unlimited.
	MaxAge time.Duration

	// MaxMsgs bounds message retention by count. Zero means unlimited.
	MaxMsgs int64

	// MaxBytes bounds message retention by total size. Zero means
	// unlimited.
	MaxBytes int64

	// Logger is used for structured logging. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// ConsumerConfig describes a durable pull consumer.
type ConsumerConfig struct {
	// Name is the durable consumer name. Defaults to
	// "github-event-handler".
	Name string

	// AckWait is how long the broker waits for an acknowledgment
	// before redelivering. Defaults to 5 minutes. Long-running
	// handlers extend it via Msg.InProgress.
	AckWait time.Duration

	// Recreate deletes an existing consumer of the same name before
	// creating, resetting the cursor to the start of the stream.
	Recreate bool
}

// Client wraps a NATS connection with the JetStream stream ensured.
// It implements Publisher.
type Client struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream string
	logger *slog.Logger
}

// Connect dials NATS and ensures the stream exists with limits-based
// retention (oldest messages are discarded first when a limit is
// exceeded). A broker that cannot be reached at all is a fatal startup
// condition for both binaries, so errors here should abort startup.
func Connect(ctx context.Context, config Config) (*Client, error) {
	url := config.URL
	if url == "" {
		url = nats.DefaultURL
	}
	streamName := config.Stream
	if streamName == "" {
		streamName = "GITHUB_EVENTS"
	}
	subjects := config.Subjects
	if len(subjects) == 0 {
		subjects = []string{"github.>"}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("stream: connecting to NATS at %s: %w", url, err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("stream: creating JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  subjects,
		Retention: jetstream.LimitsPolicy,
		Discard:   jetstream.DiscardOld,
		MaxAge:    config.MaxAge,
		MaxMsgs:   config.MaxMsgs,
		MaxBytes:  config.MaxBytes,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("stream: ensuring stream %s: %w", streamName, err)
	}

	logger.Info("stream ready", "url", url, "stream", streamName, "subjects", subjects)

	return &Client{
		conn:   conn,
		js:     js,
		stream: streamName,
		logger: logger,
	}, nil
}

// Close drains and closes the NATS connection.
func (c *Client) Close() {
	c.conn.Close()
}

// Publish appends a message to the stream. The dedup key is attached
// as the Nats-Msg-Id header, which JetStream uses for publish-side
// deduplication within the stream's dedup window.
func (c *Client) Publish(ctx context.Context, subject string, data []byte, dedupKey string) error {
	var opts []jetstream.PublishOpt
	if dedupKey != "" {
		opts = append(opts, jetstream.WithMsgID(dedupKey))
	}
	if _, err := c.js.Publish(ctx, subject, data, opts...); err != nil {
		return fmt.Errorf("stream: publishing to %s: %w", subject, err)
	}
	return nil
}

// EnsureConsumer creates (or recreates) the durable pull consumer and
// returns a Consumer bound to it. The consumer starts at the beginning
// of the stream, uses explicit acknowledgment, and waits
// config.AckWait before redelivering unacknowledged messages.
func (c *Client) EnsureConsumer(ctx context.Context, config ConsumerConfig) (Consumer, error) {
	name := config.Name
	if name == "" {
		name = "github-event-handler"
	}
	ackWait := config.AckWait
	if ackWait == 0 {
		ackWait = 5 * time.Minute
	}

	if config.Recreate {
		err := c.js.DeleteConsumer(ctx, c.stream, name)
		if err != nil && !errors.Is(err, jetstream.ErrConsumerNotFound) {
			return nil, fmt.Errorf("stream: deleting consumer %s: %w", name, err)
		}
		if err == nil {
			c.logger.Info("recreating consumer", "consumer", name)
		}
	}

	consumer, err := c.js.CreateOrUpdateConsumer(ctx, c.stream, jetstream.ConsumerConfig{
		Durable:       name,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		FilterSubject: "github.>",
	})
	if err != nil {
		return nil, fmt.Errorf("stream: ensuring consumer %s on %s: %w", name, c.stream, err)
	}

	info, err := consumer.Info(ctx)
	if err == nil {
		c.logger.Info("consumer ready",
			"consumer", name,
			"stream", c.stream,
			"pending", info.NumPending,
			"ack_wait", ackWait,
		)
	}

	return &pullConsumer{consumer: consumer}, nil
}

// pullConsumer adapts a jetstream.Consumer to the Consumer interface.
type pullConsumer struct {
	consumer jetstream.Consumer
}

func (p *pullConsumer) Fetch(ctx context.Context, batch int, maxWait time.Duration) ([]Msg, error) {
	result, err := p.consumer.Fetch(batch, jetstream.FetchMaxWait(maxWait))
	if err != nil {
		return nil, fmt.Errorf("stream: fetching batch: %w", err)
	}

	var messages []Msg
	for msg := range result.Messages() {
		messages = append(messages, &natsMsg{msg: msg})
	}
	if err := result.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
		return messages, fmt.Errorf("stream: draining batch: %w", err)
	}
	return messages, nil
}

// natsMsg adapts a jetstream.Msg to the Msg interface.
type natsMsg struct {
	msg jetstream.Msg
}

func (m *natsMsg) Subject() string { return m.msg.Subject() }

func (m *natsMsg) Data() []byte { return m.msg.Data() }

func (m *natsMsg) Ack() error { return m.msg.Ack() }

func (m *natsMsg) Nak() error { return m.msg.Nak() }

func (m *natsMsg) Term() error { return m.msg.Term() }

func (m *natsMsg) InProgress() error { return m.msg.InProgress() }

func (m *natsMsg) Deliveries() int {
	metadata, err := m.msg.Metadata()
	if err != nil {
		return 1
	}
	return int(metadata.NumDelivered)
}
