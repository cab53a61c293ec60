// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// github-monitor polls GitHub repositories for issue, pull request,
// and comment changes and publishes them as events to a JetStream
// stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/github-monitor/lib/clock"
	"github.com/bureau-foundation/github-monitor/lib/config"
	"github.com/bureau-foundation/github-monitor/lib/github"
	"github.com/bureau-foundation/github-monitor/lib/markers"
	"github.com/bureau-foundation/github-monitor/lib/monitor"
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
	flags := pflag.NewFlagSet("github-monitor", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to YAML configuration file (flags override it)")
	path := flags.String("path", "", "base path containing {owner}/{repo}/{number} directories")
	repositories := flags.StringSlice("repositories", nil, "repositories to poll (owner/repo); default discovers from the base path")
	natsServer := flags.String("nats-server", "", "NATS server URL")
	streamName := flags.String("stream", "", "JetStream stream name")
	interval := flags.String("interval", "", "poll interval (e.g. 30s, 5m); empty runs a single cycle")
	updatedSince := flags.String("updated-since", "", "RFC3339 lower bound for discovery queries")
	monitorIssues := flags.Bool("monitor-issues", true, "detect issue and pull request state changes")
	monitorIssueComments := flags.Bool("monitor-issue-comments", true, "detect new issue comments")
	monitorPRComments := flags.Bool("monitor-pr-comments", true, "detect new pull request review comments")
	activeOnly := flags.Bool("active-only", true, "poll only entities with an .active flag")
	dryRun := flags.Bool("dry-run", false, "log events instead of publishing, without advancing watermarks")
	showVersion := flags.Bool("version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	if *showVersion {
		version.Print("github-monitor")
		return nil
	}

	cfg, err := config.LoadMonitor(*configPath)
	if err != nil {
		return err
	}
	if flags.Changed("path") {
		cfg.Path = *path
	}
	if flags.Changed("repositories") {
		cfg.Repositories = *repositories
	}
	if flags.Changed("nats-server") {
		cfg.NATSServer = *natsServer
	}
	if flags.Changed("stream") {
		cfg.Stream = *streamName
	}
	if flags.Changed("interval") {
		parsed, err := config.ParseDuration(*interval)
		if err != nil {
			return err
		}
		cfg.Interval = config.Duration(parsed)
	}
	if flags.Changed("updated-since") {
		cfg.UpdatedSince = *updatedSince
	}
	if flags.Changed("monitor-issues") {
		cfg.MonitorIssues = *monitorIssues
	}
	if flags.Changed("monitor-issue-comments") {
		cfg.MonitorIssueComments = *monitorIssueComments
	}
	if flags.Changed("monitor-pr-comments") {
		cfg.MonitorPRComments = *monitorPRComments
	}
	if flags.Changed("active-only") {
		cfg.ActiveOnly = *activeOnly
	}
	if flags.Changed("dry-run") {
		cfg.DryRun = *dryRun
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	since, err := cfg.UpdatedSinceTime()
	if err != nil {
		return err
	}
	repos, err := parseRepositories(cfg.Repositories)
	if err != nil {
		return err
	}

	logger := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := github.NewClient(github.Config{
		Token:  os.Getenv("GITHUB_TOKEN"),
		Logger: logger,
	})
	if err != nil {
		return err
	}

	streamClient, err := stream.Connect(ctx, stream.Config{
		URL:    cfg.NATSServer,
		Stream: cfg.Stream,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer streamClient.Close()

	mon := monitor.New(monitor.Config{
		Repositories:         repos,
		Interval:             cfg.Interval.Std(),
		UpdatedSince:         since,
		MonitorIssues:        cfg.MonitorIssues,
		MonitorIssueComments: cfg.MonitorIssueComments,
		MonitorPRComments:    cfg.MonitorPRComments,
		ActiveOnly:           cfg.ActiveOnly,
		DryRun:               cfg.DryRun,
	}, &monitor.GitHubSource{Client: client}, markers.NewFS(cfg.Path), streamClient, clock.Real(), logger)

	logger.Info("monitor starting",
		"path", cfg.Path,
		"stream", cfg.Stream,
		"interval", cfg.Interval.Std(),
		"dry_run", cfg.DryRun,
	)

	err = mon.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// parseRepositories parses "owner/repo" strings.
func parseRepositories(specs []string) ([]markers.Repository, error) {
	repos := make([]markers.Repository, 0, len(specs))
	for _, spec := range specs {
		owner, name, ok := strings.Cut(spec, "/")
		if !ok || owner == "" || name == "" {
			return nil, fmt.Errorf("invalid repository %q (expected owner/repo)", spec)
		}
		repos = append(repos, markers.Repository{Owner: owner, Name: name})
	}
	return repos, nil
}
