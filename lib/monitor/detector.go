// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/github-monitor/lib/event"
	"github.com/bureau-foundation/github-monitor/lib/github"
	"github.com/bureau-foundation/github-monitor/lib/markers"
)

// Change is one classified transition ready for publication. Changes
// are transient: they drive a single publish and the watermark commit
// that follows it, and are never persisted.
type Change struct {
	Entity     markers.Entity
	Kind       markers.Kind
	Transition event.Transition
	Payload    event.Payload
}

// Event converts the change into its publishable form.
func (c *Change) Event() event.Event {
	return event.New(c.Kind, c.Transition, c.Payload)
}

// Detector classifies fetched entity state against the marker store.
//
// Classification rules:
//   - Unknown entity, open, discovery enabled: "new". The entity's
//     scaffolding is created and its kind cached, but the active flag
//     is not set; activation is an external decision.
//   - Known entity, open, updated past the watermark (or never
//     checked): "updated".
//   - Known entity, closed, active flag still set (it was being polled
//     as open): "closed". The flag is cleared when the change commits.
//   - Anything else: no transition.
type Detector struct {
	store    markers.Store
	discover bool
	// activeOnly restricts "updated" classification to entities
	// whose active flag is set.
	activeOnly bool
	logger     *slog.Logger
}

// NewDetector creates a detector over the given store. With discover,
// unknown open entities produce "new" transitions and local
// scaffolding; without it they are ignored.
func NewDetector(store markers.Store, discover, activeOnly bool, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		store:      store,
		discover:   discover,
		activeOnly: activeOnly,
		logger:     logger,
	}
}

// Classify inspects one fetched item and returns the transition it
// produces, or nil when there is none. Classify does not advance
// watermarks; the caller commits after a successful publish.
func (d *Detector) Classify(item *github.Issue, entity markers.Entity) (*Change, error) {
	known, err := d.store.Known(entity)
	if err != nil {
		return nil, fmt.Errorf("monitor: checking %s: %w", entity, err)
	}

	if !known {
		if !d.discover || item.State != "open" {
			return nil, nil
		}
		if err := d.store.Ensure(entity); err != nil {
			return nil, fmt.Errorf("monitor: creating scaffolding for %s: %w", entity, err)
		}
		kind := kindOf(item)
		if err := d.store.SetKind(entity, kind); err != nil {
			return nil, fmt.Errorf("monitor: caching kind for %s: %w", entity, err)
		}
		return &Change{
			Entity:     entity,
			Kind:       kind,
			Transition: event.TransitionNew,
			Payload:    itemPayload(entity, item),
		}, nil
	}

	kind, err := d.cachedKind(entity, item)
	if err != nil {
		return nil, err
	}

	active, err := d.store.Active(entity)
	if err != nil {
		return nil, fmt.Errorf("monitor: reading active flag for %s: %w", entity, err)
	}

	if item.State == "open" {
		if d.activeOnly && !active {
			return nil, nil
		}
		lastChecked, checked, err := d.store.LastChecked(entity)
		if err != nil {
			return nil, fmt.Errorf("monitor: reading watermark for %s: %w", entity, err)
		}
		if !checked || item.UpdatedAt.After(lastChecked) {
			return &Change{
				Entity:     entity,
				Kind:       kind,
				Transition: event.TransitionUpdated,
				Payload:    itemPayload(entity, item),
			}, nil
		}
		return nil, nil
	}

	// Closed. Emit only if the entity was still being polled as open,
	// inferred from the active flag; a closed entity without the flag
	// has already had its closure observed.
	if !active {
		return nil, nil
	}
	return &Change{
		Entity:     entity,
		Kind:       kind,
		Transition: event.TransitionClosed,
		Payload:    itemPayload(entity, item),
	}, nil
}

// Commit advances the entity's watermark after a successful publish.
// For a closed transition it also clears the active flag so the entity
// stops being polled. Must not be called before the publish succeeds;
// committing first would lose the change if the publish fails.
func (d *Detector) Commit(change *Change, fetchTime time.Time) error {
	if change.Transition == event.TransitionClosed {
		if _, err := d.store.Deactivate(change.Entity); err != nil {
			return fmt.Errorf("monitor: deactivating %s: %w", change.Entity, err)
		}
	}
	if err := d.store.SetLastChecked(change.Entity, fetchTime); err != nil {
		return fmt.Errorf("monitor: advancing watermark for %s: %w", change.Entity, err)
	}
	return nil
}

// cachedKind returns the entity's cached kind, re-deriving and
// re-caching it from the fetched item if the cache is absent.
func (d *Detector) cachedKind(entity markers.Entity, item *github.Issue) (markers.Kind, error) {
	kind, ok, err := d.store.Kind(entity)
	if err != nil {
		return "", fmt.Errorf("monitor: reading kind for %s: %w", entity, err)
	}
	if ok {
		return kind, nil
	}
	kind = kindOf(item)
	if err := d.store.SetKind(entity, kind); err != nil {
		return "", fmt.Errorf("monitor: caching kind for %s: %w", entity, err)
	}
	return kind, nil
}

func kindOf(item *github.Issue) markers.Kind {
	if item.IsPullRequest() {
		return markers.KindPullRequest
	}
	return markers.KindIssue
}

func itemPayload(entity markers.Entity, item *github.Issue) event.Payload {
	return event.Payload{
		Repository: entity.Repository().String(),
		Number:     entity.Number,
		Title:      item.Title,
		Author:     item.Author(),
		URL:        item.HTMLURL,
		State:      item.State,
		Timestamp:  item.UpdatedAt,
	}
}
