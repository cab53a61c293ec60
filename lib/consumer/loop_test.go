// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/github-monitor/lib/clock"
	"github.com/bureau-foundation/github-monitor/lib/stream"
)

type fakeMsg struct {
	subject string
	data    []byte

	mu         sync.Mutex
	acked      bool
	naked      bool
	termed     bool
	inProgress int
}

func (m *fakeMsg) Subject() string { return m.subject }
func (m *fakeMsg) Data() []byte    { return m.data }
func (m *fakeMsg) Deliveries() int { return 1 }

func (m *fakeMsg) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = true
	return nil
}

func (m *fakeMsg) Nak() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.naked = true
	return nil
}

func (m *fakeMsg) Term() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.termed = true
	return nil
}

func (m *fakeMsg) InProgress() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inProgress++
	return nil
}

func (m *fakeMsg) resolved() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acked || m.naked || m.termed
}

func (m *fakeMsg) progressCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inProgress
}

type fetchResult struct {
	msgs []stream.Msg
	err  error
}

// fakeConsumer serves a scripted sequence of fetch results, then
// blocks until the context is cancelled.
type fakeConsumer struct {
	mu      sync.Mutex
	script  []fetchResult
	fetches int
}

func (c *fakeConsumer) Fetch(ctx context.Context, batch int, maxWait time.Duration) ([]stream.Msg, error) {
	c.mu.Lock()
	c.fetches++
	if len(c.script) > 0 {
		result := c.script[0]
		c.script = c.script[1:]
		c.mu.Unlock()
		return result.msgs, result.err
	}
	c.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *fakeConsumer) fetchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetches
}

// waitUntil polls condition until it holds or the deadline passes.
func waitUntil(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHandlerSuccessAcks(t *testing.T) {
	msg := &fakeMsg{subject: "github.issue.new"}
	source := &fakeConsumer{script: []fetchResult{{msgs: []stream.Msg{msg}}}}
	loop := New(Config{}, source, func(ctx context.Context, msg stream.Msg) error {
		return nil
	}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	waitUntil(t, "ack", msg.resolved)
	cancel()
	<-done

	if !msg.acked || msg.naked || msg.termed {
		t.Errorf("msg state: acked=%v naked=%v termed=%v, want ack only", msg.acked, msg.naked, msg.termed)
	}
}

func TestLongRunningHandlerStaysAlive(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	msg := &fakeMsg{subject: "github.issue.updated"}
	source := &fakeConsumer{script: []fetchResult{{msgs: []stream.Msg{msg}}}}

	release := make(chan struct{})
	loop := New(Config{ProgressInterval: 20 * time.Second}, source, func(ctx context.Context, msg stream.Msg) error {
		<-release
		return nil
	}, clk, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	// A handler running for 280 seconds against a 300-second ack wait
	// sees an in-progress signal every 20 seconds, so the broker never
	// redelivers.
	clk.WaitForTimers(1)
	for tick := 1; tick <= 13; tick++ {
		clk.Advance(20 * time.Second)
		want := tick
		waitUntil(t, fmt.Sprintf("in-progress signal %d", want), func() bool {
			return msg.progressCount() >= want
		})
	}

	close(release)
	waitUntil(t, "ack after release", msg.resolved)
	if !msg.acked {
		t.Error("long-running handler should still ack on success")
	}

	// The liveness goroutine is cancelled with the handler; no further
	// signals arrive.
	count := msg.progressCount()
	clk.Advance(100 * time.Second)
	if got := msg.progressCount(); got != count {
		t.Errorf("in-progress signals after completion: %d -> %d", count, got)
	}

	cancel()
	<-done
}

func TestConcurrencyLimitOnePreservesOrder(t *testing.T) {
	msgs := make([]stream.Msg, 5)
	for i := range msgs {
		msgs[i] = &fakeMsg{subject: fmt.Sprintf("github.issue.updated.%d", i)}
	}
	source := &fakeConsumer{script: []fetchResult{{msgs: msgs}}}

	var mu sync.Mutex
	var order []string
	loop := New(Config{MaxConcurrent: 1}, source, func(ctx context.Context, msg stream.Msg) error {
		mu.Lock()
		order = append(order, msg.Subject())
		mu.Unlock()
		return nil
	}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	waitUntil(t, "all messages resolved", func() bool {
		for _, msg := range msgs {
			if !msg.(*fakeMsg).resolved() {
				return false
			}
		}
		return true
	})
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	for i, subject := range order {
		if want := msgs[i].Subject(); subject != want {
			t.Errorf("order[%d] = %q, want %q", i, subject, want)
		}
	}
}

func TestFailuresAreIsolated(t *testing.T) {
	good := &fakeMsg{subject: "github.issue.new"}
	flaky := &fakeMsg{subject: "github.issue.updated"}
	poison := &fakeMsg{subject: "github.pr.new"}
	source := &fakeConsumer{script: []fetchResult{
		{msgs: []stream.Msg{good, flaky, poison}},
	}}

	loop := New(Config{MaxConcurrent: 3}, source, func(ctx context.Context, msg stream.Msg) error {
		switch msg {
		case flaky:
			return errors.New("downstream hiccup")
		case poison:
			return fmt.Errorf("undecodable payload: %w", ErrTerminal)
		}
		return nil
	}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	waitUntil(t, "all messages resolved", func() bool {
		return good.resolved() && flaky.resolved() && poison.resolved()
	})
	cancel()
	<-done

	if !good.acked {
		t.Error("good message should ack despite sibling failures")
	}
	if !flaky.naked {
		t.Error("transient failure should nak")
	}
	if !poison.termed {
		t.Error("terminal failure should term")
	}
}

func TestFetchErrorBacksOff(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	msg := &fakeMsg{subject: "github.issue.new"}
	source := &fakeConsumer{script: []fetchResult{
		{err: errors.New("connection reset")},
		{msgs: []stream.Msg{msg}},
	}}

	loop := New(Config{}, source, func(ctx context.Context, msg stream.Msg) error {
		return nil
	}, clk, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	// The failed fetch pauses before retrying.
	clk.WaitForTimers(1)
	clk.Advance(fetchBackoff)

	waitUntil(t, "ack after retry", msg.resolved)
	cancel()
	<-done

	if source.fetchCount() < 2 {
		t.Errorf("fetches = %d, want at least 2", source.fetchCount())
	}
}

func TestEmptyFetchIsNotAnError(t *testing.T) {
	msg := &fakeMsg{subject: "github.issue.new"}
	source := &fakeConsumer{script: []fetchResult{
		{}, // empty result, nil error
		{msgs: []stream.Msg{msg}},
	}}

	loop := New(Config{}, source, func(ctx context.Context, msg stream.Msg) error {
		return nil
	}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	waitUntil(t, "ack after empty poll", msg.resolved)
	cancel()
	<-done
}
