// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package monitor implements the polling side: it fetches repository
// state from GitHub, classifies changes against per-entity watermarks,
// and publishes the resulting events to the durable stream. Watermarks
// advance only after the corresponding publish succeeds, so a failed
// publish is retried on the next cycle instead of being lost.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/bureau-foundation/github-monitor/lib/clock"
	"github.com/bureau-foundation/github-monitor/lib/github"
	"github.com/bureau-foundation/github-monitor/lib/markers"
	"github.com/bureau-foundation/github-monitor/lib/stream"
)

// Config controls one Monitor instance.
type Config struct {
	// Repositories to poll. Empty means discover repositories from
	// the marker store's directory layout.
	Repositories []markers.Repository

	// Interval between poll cycles. Zero or negative runs a single
	// cycle. Scheduling is fixed-rate: the next cycle starts
	// interval after the previous one started, or immediately when a
	// cycle overruns.
	Interval time.Duration

	// UpdatedSince overrides the lower bound for item discovery
	// queries. Zero derives the bound from stored watermarks.
	UpdatedSince time.Time

	// MonitorIssues enables item (issue and pull request) state
	// detection, including discovery of unknown entities.
	MonitorIssues bool

	// MonitorIssueComments enables the repository-wide issue comment
	// fetch (covers issue and pull request conversation comments).
	MonitorIssueComments bool

	// MonitorPRComments enables the pull request review comment
	// fetch.
	MonitorPRComments bool

	// ActiveOnly restricts update/closed/comment polling to entities
	// whose active flag is set.
	ActiveOnly bool

	// DryRun logs the events a cycle would publish without sending
	// them or advancing any watermark.
	DryRun bool
}

// Monitor runs detection cycles over a set of repositories.
type Monitor struct {
	config    Config
	source    Source
	store     markers.Store
	publisher stream.Publisher
	detector  *Detector
	clock     clock.Clock
	logger    *slog.Logger
}

// New creates a Monitor. A nil clock defaults to the real clock; a nil
// logger defaults to slog.Default().
func New(config Config, source Source, store markers.Store, publisher stream.Publisher, clk clock.Clock, logger *slog.Logger) *Monitor {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		config:    config,
		source:    source,
		store:     store,
		publisher: publisher,
		detector:  NewDetector(store, config.MonitorIssues, config.ActiveOnly, logger),
		clock:     clk,
		logger:    logger,
	}
}

// Run executes poll cycles until the context is cancelled. With a zero
// interval it runs exactly one cycle and returns.
func (m *Monitor) Run(ctx context.Context) error {
	if m.config.Interval <= 0 {
		return m.RunCycle(ctx)
	}

	for {
		start := m.clock.Now()
		if err := m.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Error("poll cycle failed", "error", err)
		}

		wait := m.config.Interval - m.clock.Now().Sub(start)
		if wait <= 0 {
			// Cycle overran the interval; start the next one
			// immediately, but still honor cancellation.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		select {
		case <-m.clock.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunCycle executes one detection pass over every configured
// repository. Per-repository failures are logged and do not stop the
// cycle; only context cancellation aborts it.
func (m *Monitor) RunCycle(ctx context.Context) error {
	repositories := m.config.Repositories
	if len(repositories) == 0 {
		discovered, err := m.store.Repositories()
		if err != nil {
			return err
		}
		repositories = discovered
	}

	for _, repo := range repositories {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := m.pollRepository(ctx, repo); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Error("repository poll failed",
				"repository", repo.String(),
				"error", err,
			)
		}
	}
	return nil
}

func (m *Monitor) pollRepository(ctx context.Context, repo markers.Repository) error {
	if m.config.MonitorIssues {
		if err := m.pollItems(ctx, repo); err != nil {
			return err
		}
	}
	if m.config.MonitorIssueComments || m.config.MonitorPRComments {
		if err := m.pollComments(ctx, repo); err != nil {
			return err
		}
	}
	return nil
}

// pollItems fetches items updated since the repository's watermark
// floor and publishes the transitions they produce. The watermark for
// an entity advances to the fetch-issue time, and only after its
// change (if any) published successfully.
func (m *Monitor) pollItems(ctx context.Context, repo markers.Repository) error {
	since, err := m.itemFloor(repo)
	if err != nil {
		return err
	}

	fetchTime := m.clock.Now()
	items, err := m.source.Items(ctx, repo, since)
	if err != nil {
		return err
	}

	for i := range items {
		item := &items[i]
		entity := markers.Entity{Owner: repo.Owner, Repo: repo.Name, Number: item.Number}

		change, err := m.detector.Classify(item, entity)
		if err != nil {
			m.logger.Error("classification failed", "entity", entity.String(), "error", err)
			continue
		}
		if change == nil {
			// No transition; still advance the watermark to bound
			// the next query window.
			known, err := m.store.Known(entity)
			if err != nil || !known || m.config.DryRun {
				continue
			}
			if err := m.store.SetLastChecked(entity, fetchTime); err != nil {
				m.logger.Error("watermark advance failed", "entity", entity.String(), "error", err)
			}
			continue
		}

		if err := m.publish(ctx, change); err != nil {
			// Watermark stays put; the change is re-detected and
			// re-published next cycle.
			m.logger.Error("publish failed",
				"subject", change.Event().Subject,
				"entity", entity.String(),
				"error", err,
			)
			continue
		}
		if m.config.DryRun {
			continue
		}
		if err := m.detector.Commit(change, fetchTime); err != nil {
			m.logger.Error("commit failed", "entity", entity.String(), "error", err)
		}
	}
	return nil
}

// itemFloor computes the lower bound for the repository item query:
// the configured override if set, otherwise the minimum last-checked
// watermark across tracked entities (zero if any entity has never been
// checked, fetching everything).
func (m *Monitor) itemFloor(repo markers.Repository) (time.Time, error) {
	if !m.config.UpdatedSince.IsZero() {
		return m.config.UpdatedSince, nil
	}

	entities, err := m.store.Entities(repo, m.config.ActiveOnly)
	if err != nil {
		return time.Time{}, err
	}

	var floor time.Time
	floorSet := false
	for _, entity := range entities {
		checked, ok, err := m.store.LastChecked(entity)
		if err != nil {
			return time.Time{}, err
		}
		if !ok {
			return time.Time{}, nil
		}
		if !floorSet || checked.Before(floor) {
			floor = checked
			floorSet = true
		}
	}
	return floor, nil
}

// pollComments runs the batched comment pass: one repository-wide
// fetch bounded by the shared floor, redistributed per entity with
// each entity's own cutoff. Comment watermarks advance to the
// fetch-issue time so a comment written mid-fetch is picked up next
// cycle.
func (m *Monitor) pollComments(ctx context.Context, repo markers.Repository) error {
	entities, err := m.store.Entities(repo, m.config.ActiveOnly)
	if err != nil {
		return err
	}
	if len(entities) == 0 {
		return nil
	}

	plan, err := PlanComments(m.store, repo, entities)
	if err != nil {
		return err
	}

	fetchTime := m.clock.Now()
	var all []github.Comment
	if m.config.MonitorIssueComments {
		result, err := m.source.Comments(ctx, repo, plan.Floor())
		if err != nil {
			return err
		}
		all = append(all, result...)
	}
	if m.config.MonitorPRComments {
		result, err := m.source.ReviewComments(ctx, repo, plan.Floor())
		if err != nil {
			return err
		}
		all = append(all, result...)
	}
	assigned := plan.Assign(all)

	for _, entity := range plan.Entities() {
		published := true
		for i := range assigned[entity] {
			change := commentChange(entity, plan.Kind(entity), &assigned[entity][i])
			if err := m.publish(ctx, &change); err != nil {
				m.logger.Error("comment publish failed",
					"entity", entity.String(),
					"error", err,
				)
				published = false
				break
			}
		}
		if !published || m.config.DryRun {
			continue
		}
		if err := m.store.SetLastCommentCheck(entity, fetchTime); err != nil {
			m.logger.Error("comment watermark advance failed",
				"entity", entity.String(),
				"error", err,
			)
		}
	}
	return nil
}

// publish encodes and sends one change, or logs it in dry-run mode.
func (m *Monitor) publish(ctx context.Context, change *Change) error {
	ev := change.Event()
	if m.config.DryRun {
		m.logger.Info("dry run: would publish",
			"subject", ev.Subject,
			"entity", change.Entity.String(),
			"timestamp", ev.Payload.Timestamp,
		)
		return nil
	}
	data, err := ev.Encode()
	if err != nil {
		return err
	}
	return m.publisher.Publish(ctx, ev.Subject, data, ev.DedupKey)
}
