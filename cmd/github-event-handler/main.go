// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// github-event-handler consumes GitHub change events from a JetStream
// durable consumer and dispatches each one to a templated claude
// invocation.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/github-monitor/lib/clock"
	"github.com/bureau-foundation/github-monitor/lib/config"
	"github.com/bureau-foundation/github-monitor/lib/consumer"
	"github.com/bureau-foundation/github-monitor/lib/handler"
	"github.com/bureau-foundation/github-monitor/lib/markers"
	"github.com/bureau-foundation/github-monitor/lib/process"
	"github.com/bureau-foundation/github-monitor/lib/stream"
	"github.com/bureau-foundation/github-monitor/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	flags := pflag.NewFlagSet("github-event-handler", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to YAML configuration file (flags override it)")
	path := flags.String("path", "", "base path containing {owner}/{repo}/{number} directories")
	templatesDir := flags.String("templates-dir", "", "templates directory for event markdown files")
	natsServer := flags.String("nats-server", "", "NATS server URL")
	streamName := flags.String("stream", "", "JetStream stream name")
	consumerName := flags.String("consumer", "", "durable consumer name")
	batchSize := flags.Int("batch-size", 0, "messages fetched per batch")
	fetchTimeout := flags.String("fetch-timeout", "", "fetch wait per batch (e.g. 5s)")
	ackWait := flags.String("ack-wait", "", "broker redelivery deadline (e.g. 5m, 300s)")
	maxConcurrent := flags.Int("max-concurrent", 0, "maximum concurrent event handlers")
	skipUsers := flags.String("skip-users", "", "regex of usernames whose events are skipped")
	repositories := flags.String("repositories", "", "regex restricting which repositories are processed")
	recreateConsumer := flags.Bool("recreate-consumer", false, "delete and recreate the consumer, replaying the stream")
	claudeVerbose := flags.Bool("claude-verbose", false, "print raw claude output instead of a summary")
	showVersion := flags.Bool("version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	if *showVersion {
		version.Print("github-event-handler")
		return nil
	}

	cfg, err := config.LoadHandler(*configPath)
	if err != nil {
		return err
	}
	if flags.Changed("path") {
		cfg.Path = *path
	}
	if flags.Changed("templates-dir") {
		cfg.TemplatesDir = *templatesDir
	}
	if flags.Changed("nats-server") {
		cfg.NATSServer = *natsServer
	}
	if flags.Changed("stream") {
		cfg.Stream = *streamName
	}
	if flags.Changed("consumer") {
		cfg.Consumer = *consumerName
	}
	if flags.Changed("batch-size") {
		cfg.BatchSize = *batchSize
	}
	if flags.Changed("fetch-timeout") {
		parsed, err := config.ParseDuration(*fetchTimeout)
		if err != nil {
			return err
		}
		cfg.FetchTimeout = config.Duration(parsed)
	}
	if flags.Changed("ack-wait") {
		parsed, err := config.ParseDuration(*ackWait)
		if err != nil {
			return err
		}
		cfg.AckWait = config.Duration(parsed)
	}
	if flags.Changed("max-concurrent") {
		cfg.MaxConcurrent = *maxConcurrent
	}
	if flags.Changed("skip-users") {
		cfg.SkipUsers = *skipUsers
	}
	if flags.Changed("repositories") {
		cfg.Repositories = *repositories
	}
	if flags.Changed("recreate-consumer") {
		cfg.RecreateConsumer = *recreateConsumer
	}
	if flags.Changed("claude-verbose") {
		cfg.ClaudeVerbose = *claudeVerbose
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	handlerConfig := handler.Config{TemplatesDir: cfg.TemplatesDir}
	if cfg.SkipUsers != "" {
		pattern, err := regexp.Compile(cfg.SkipUsers)
		if err != nil {
			return fmt.Errorf("invalid skip_users pattern: %w", err)
		}
		handlerConfig.SkipUsers = pattern
	}
	if cfg.Repositories != "" {
		pattern, err := regexp.Compile(cfg.Repositories)
		if err != nil {
			return fmt.Errorf("invalid repositories pattern: %w", err)
		}
		handlerConfig.Repositories = pattern
	}

	logger := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	streamClient, err := stream.Connect(ctx, stream.Config{
		URL:    cfg.NATSServer,
		Stream: cfg.Stream,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer streamClient.Close()

	source, err := streamClient.EnsureConsumer(ctx, stream.ConsumerConfig{
		Name:     cfg.Consumer,
		AckWait:  cfg.AckWait.Std(),
		Recreate: cfg.RecreateConsumer,
	})
	if err != nil {
		return err
	}

	runner := handler.NewClaudeRunner(cfg.ClaudeVerbose, logger)
	events := handler.New(handlerConfig, markers.NewFS(cfg.Path), runner, logger)

	loop := consumer.New(consumer.Config{
		BatchSize:     cfg.BatchSize,
		FetchTimeout:  cfg.FetchTimeout.Std(),
		MaxConcurrent: cfg.MaxConcurrent,
	}, source, events.Handle, clock.Real(), logger)

	logger.Info("event handler starting",
		"stream", cfg.Stream,
		"consumer", cfg.Consumer,
		"batch_size", cfg.BatchSize,
		"max_concurrent", cfg.MaxConcurrent,
		"ack_wait", cfg.AckWait.Std(),
	)

	err = loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
