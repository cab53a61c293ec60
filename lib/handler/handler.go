// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package handler routes consumed GitHub events to their effects:
// entity directory scaffolding, active-flag removal on close, and a
// templated claude invocation per event. A subject's template is
// resolved through a per-repository hierarchy; a missing or empty
// template means the event is deliberately ignored.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/bureau-foundation/github-monitor/lib/consumer"
	"github.com/bureau-foundation/github-monitor/lib/event"
	"github.com/bureau-foundation/github-monitor/lib/markers"
	"github.com/bureau-foundation/github-monitor/lib/stream"
)

// legacySubject is the pre-taxonomy processing subject, handled as an
// issue update.
const legacySubject = "github.issue.process"

// Config controls one event handler.
type Config struct {
	// TemplatesDir is the root of the per-repository template
	// hierarchy. Empty disables claude invocations.
	TemplatesDir string

	// SkipUsers drops events authored by matching usernames.
	SkipUsers *regexp.Regexp

	// Repositories processes only events for matching repositories.
	// Nil processes everything.
	Repositories *regexp.Regexp
}

// Handler processes one decoded event per message.
type Handler struct {
	config Config
	store  *markers.FS
	runner Runner
	logger *slog.Logger

	// runnerAvailable is checked once at construction; an absent
	// claude binary downgrades every invocation to a logged skip.
	runnerAvailable bool
}

// New creates a Handler over the given marker store and runner.
func New(config Config, store *markers.FS, runner Runner, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	available := runner != nil && runner.Available()
	if !available {
		logger.Warn("claude CLI not available, invocations will be skipped")
	}
	return &Handler{
		config:          config,
		store:           store,
		runner:          runner,
		logger:          logger,
		runnerAvailable: available,
	}
}

// Handle processes one message. A nil return acknowledges it; an
// undecodable or incomplete payload is a terminal failure; everything
// else requests redelivery.
func (h *Handler) Handle(ctx context.Context, msg stream.Msg) error {
	var payload event.Payload
	if err := json.Unmarshal(msg.Data(), &payload); err != nil {
		return fmt.Errorf("decoding payload on %s: %v: %w", msg.Subject(), err, consumer.ErrTerminal)
	}
	if payload.Repository == "" || payload.Number == 0 {
		return fmt.Errorf("payload on %s missing repository or number: %w", msg.Subject(), consumer.ErrTerminal)
	}

	logger := h.logger.With(
		"subject", msg.Subject(),
		"repository", payload.Repository,
		"number", payload.Number,
	)

	if h.config.Repositories != nil && !h.config.Repositories.MatchString(payload.Repository) {
		logger.Debug("repository filtered, skipping")
		return nil
	}
	if h.config.SkipUsers != nil && payload.Author != "" && h.config.SkipUsers.MatchString(payload.Author) {
		logger.Info("skipping event from filtered user", "author", payload.Author)
		return nil
	}

	entity, err := entityFor(payload)
	if err != nil {
		return fmt.Errorf("%v: %w", err, consumer.ErrTerminal)
	}

	subject := msg.Subject()
	if subject == legacySubject {
		subject = event.Subject(markers.KindIssue, event.TransitionUpdated)
	}

	switch {
	case strings.HasSuffix(subject, ".new") && !strings.Contains(subject, ".comment."):
		logger.Info("creating entity directory")
		if err := h.store.Ensure(entity); err != nil {
			return fmt.Errorf("creating directory for %s: %w", entity, err)
		}

	case strings.HasSuffix(subject, ".closed"):
		removed, err := h.store.Deactivate(entity)
		if err != nil {
			return fmt.Errorf("deactivating %s: %w", entity, err)
		}
		if removed {
			logger.Info("marked entity inactive")
		} else {
			logger.Warn("active flag was not set")
		}

	case strings.HasSuffix(subject, ".updated"), strings.HasSuffix(subject, ".comment.new"):
		// Effect is the claude invocation alone.

	default:
		logger.Warn("unknown subject, ignoring")
		return nil
	}

	return h.invoke(ctx, subject, payload, logger)
}

// invoke resolves the subject's template and runs claude with it.
// Missing or empty templates skip the invocation; claude failures
// surface as retryable errors.
func (h *Handler) invoke(ctx context.Context, subject string, payload event.Payload, logger *slog.Logger) error {
	if !h.runnerAvailable {
		logger.Info("claude unavailable, skipping invocation")
		return nil
	}

	templatePath := FindTemplate(h.config.TemplatesDir, payload.Repository, subject)
	if templatePath == "" {
		logger.Info("no template for subject, skipping")
		return nil
	}

	content, err := os.ReadFile(templatePath)
	if err != nil {
		return fmt.Errorf("reading template %s: %w", templatePath, err)
	}
	if strings.TrimSpace(string(content)) == "" {
		logger.Info("template is empty, event ignored", "template", templatePath)
		return nil
	}

	prompt := fmt.Sprintf("REPOSITORY=%s NUMBER=%d BASE_DIR=%s\n\n%s",
		payload.Repository, payload.Number, h.store.Base(), content)

	logger.Info("invoking claude", "template", templatePath)
	if err := h.runner.Run(ctx, prompt); err != nil {
		return fmt.Errorf("claude invocation for %s#%d: %w", payload.Repository, payload.Number, err)
	}
	logger.Info("claude invocation finished")
	return nil
}

// entityFor maps a payload's repository string to a marker store
// entity.
func entityFor(payload event.Payload) (markers.Entity, error) {
	owner, repo, ok := strings.Cut(payload.Repository, "/")
	if !ok || owner == "" || repo == "" {
		return markers.Entity{}, fmt.Errorf("malformed repository %q", payload.Repository)
	}
	return markers.Entity{Owner: owner, Repo: repo, Number: payload.Number}, nil
}
