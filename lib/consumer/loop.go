// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package consumer implements the durable stream consuming loop: pull
// batches, run handlers under a bounded concurrency pool, keep long
// running handlers alive with periodic in-progress signals, and resolve
// every message with an explicit ack, nak, or terminal rejection.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/github-monitor/lib/clock"
	"github.com/bureau-foundation/github-monitor/lib/stream"
)

// ErrTerminal classifies a handler failure as permanent. A handler
// that returns (or wraps) ErrTerminal causes the message to be
// terminally rejected instead of redelivered.
var ErrTerminal = errors.New("terminal failure")

// Handler processes one delivered message. A nil return acknowledges
// the message; ErrTerminal rejects it permanently; any other error
// requests redelivery.
type Handler func(ctx context.Context, msg stream.Msg) error

const (
	defaultBatchSize        = 10
	defaultFetchTimeout     = 5 * time.Second
	defaultMaxConcurrent    = 5
	defaultProgressInterval = 20 * time.Second

	// fetchBackoff is the pause after a failed fetch before retrying.
	fetchBackoff = time.Second
)

// Config controls one consuming loop.
type Config struct {
	// BatchSize is the maximum messages pulled per fetch. Default 10.
	BatchSize int

	// FetchTimeout bounds how long a fetch waits for the first
	// message. Default 5s.
	FetchTimeout time.Duration

	// MaxConcurrent bounds simultaneous in-flight handlers. Admission
	// blocks when the pool is full. Default 5.
	MaxConcurrent int

	// ProgressInterval is the period between in-progress signals for
	// an in-flight message. Must be well inside the consumer's
	// acknowledgment wait. Default 20s.
	ProgressInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = defaultMaxConcurrent
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = defaultProgressInterval
	}
}

// Loop pulls messages from one durable consumer and dispatches them.
// A durable consumer's cursor must be owned by exactly one Loop;
// running two against the same durable name causes competing
// redelivery.
type Loop struct {
	config    Config
	source    stream.Consumer
	handler   Handler
	clock     clock.Clock
	logger    *slog.Logger
	semaphore chan struct{}
	inflight  sync.WaitGroup
}

// New creates a consuming loop. A nil clock defaults to the real
// clock; a nil logger defaults to slog.Default().
func New(config Config, source stream.Consumer, handler Handler, clk clock.Clock, logger *slog.Logger) *Loop {
	config.applyDefaults()
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		config:    config,
		source:    source,
		handler:   handler,
		clock:     clk,
		logger:    logger,
		semaphore: make(chan struct{}, config.MaxConcurrent),
	}
}

// Run fetches and dispatches until the context is cancelled. It
// returns after every in-flight handler has resolved its message.
func (l *Loop) Run(ctx context.Context) error {
	defer l.inflight.Wait()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msgs, err := l.source.Fetch(ctx, l.config.BatchSize, l.config.FetchTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Error("fetch failed", "error", err)
			select {
			case <-l.clock.After(fetchBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		for _, msg := range msgs {
			// Admission into the pool blocks when it is full. This
			// is backpressure, not an error: unadmitted messages
			// simply wait.
			select {
			case l.semaphore <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			l.inflight.Add(1)
			go l.process(ctx, msg)
		}
	}
}

// process runs the handler for one message with a paired liveness
// goroutine, then resolves the message according to the outcome.
// Failures are isolated: nothing here propagates to sibling messages.
func (l *Loop) process(ctx context.Context, msg stream.Msg) {
	defer l.inflight.Done()
	defer func() { <-l.semaphore }()

	livenessCtx, cancel := context.WithCancel(context.Background())
	var liveness sync.WaitGroup
	liveness.Add(1)
	go func() {
		defer liveness.Done()
		l.keepAlive(livenessCtx, msg)
	}()

	err := l.handler(ctx, msg)

	// The liveness goroutine stops the moment the handler returns,
	// whatever the outcome.
	cancel()
	liveness.Wait()

	switch {
	case err == nil:
		if ackErr := msg.Ack(); ackErr != nil {
			l.logger.Error("ack failed", "subject", msg.Subject(), "error", ackErr)
		}
	case errors.Is(err, ErrTerminal):
		l.logger.Error("handler failed terminally",
			"subject", msg.Subject(),
			"deliveries", msg.Deliveries(),
			"error", err,
		)
		if termErr := msg.Term(); termErr != nil {
			l.logger.Error("term failed", "subject", msg.Subject(), "error", termErr)
		}
	default:
		l.logger.Error("handler failed, requesting redelivery",
			"subject", msg.Subject(),
			"deliveries", msg.Deliveries(),
			"error", err,
		)
		if nakErr := msg.Nak(); nakErr != nil {
			l.logger.Error("nak failed", "subject", msg.Subject(), "error", nakErr)
		}
	}
}

// keepAlive signals in-progress at the configured interval until
// cancelled. If the handler hangs forever the deadline keeps being
// extended; bounding that is left to process-level supervision.
func (l *Loop) keepAlive(ctx context.Context, msg stream.Msg) {
	ticker := l.clock.NewTicker(l.config.ProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := msg.InProgress(); err != nil {
				l.logger.Warn("in-progress signal failed",
					"subject", msg.Subject(),
					"error", err,
				)
			}
		}
	}
}
