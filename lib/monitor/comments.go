// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"fmt"
	"time"

	"github.com/bureau-foundation/github-monitor/lib/event"
	"github.com/bureau-foundation/github-monitor/lib/github"
	"github.com/bureau-foundation/github-monitor/lib/markers"
)

// CommentPlan bounds a single repository-wide comment fetch across all
// tracked entities. The floor is the minimum comment watermark over
// the planned entities and only bounds the fetch; each entity keeps
// its own cutoff for filtering, so a batched result never re-emits
// comments an entity has already seen.
type CommentPlan struct {
	repo    markers.Repository
	floor   time.Time
	cutoffs map[markers.Entity]time.Time
	kinds   map[markers.Entity]markers.Kind
}

// PlanComments builds the fetch plan for a repository's tracked
// entities. An entity that has never been comment-checked pulls the
// floor down to the epoch (a zero time, fetching everything).
func PlanComments(store markers.Store, repo markers.Repository, entities []markers.Entity) (*CommentPlan, error) {
	plan := &CommentPlan{
		repo:    repo,
		cutoffs: make(map[markers.Entity]time.Time, len(entities)),
		kinds:   make(map[markers.Entity]markers.Kind, len(entities)),
	}

	floorSet := false
	unchecked := false
	for _, entity := range entities {
		cutoff, checked, err := store.LastCommentCheck(entity)
		if err != nil {
			return nil, fmt.Errorf("monitor: reading comment watermark for %s: %w", entity, err)
		}
		if !checked {
			cutoff = time.Time{}
			unchecked = true
		}
		plan.cutoffs[entity] = cutoff

		kind, ok, err := store.Kind(entity)
		if err != nil {
			return nil, fmt.Errorf("monitor: reading kind for %s: %w", entity, err)
		}
		if !ok {
			kind = markers.KindIssue
		}
		plan.kinds[entity] = kind

		if checked && (!floorSet || cutoff.Before(plan.floor)) {
			plan.floor = cutoff
			floorSet = true
		}
	}
	if unchecked {
		plan.floor = time.Time{}
	}
	return plan, nil
}

// Floor returns the shared fetch boundary. It is never later than any
// planned entity's own cutoff.
func (plan *CommentPlan) Floor() time.Time { return plan.floor }

// Entities returns the planned entities in unspecified order.
func (plan *CommentPlan) Entities() []markers.Entity {
	entities := make([]markers.Entity, 0, len(plan.cutoffs))
	for entity := range plan.cutoffs {
		entities = append(entities, entity)
	}
	return entities
}

// Cutoff returns an entity's own filter boundary and whether the
// entity is part of the plan.
func (plan *CommentPlan) Cutoff(entity markers.Entity) (time.Time, bool) {
	cutoff, ok := plan.cutoffs[entity]
	return cutoff, ok
}

// Kind returns the planned entity's cached kind.
func (plan *CommentPlan) Kind(entity markers.Entity) markers.Kind {
	return plan.kinds[entity]
}

// Assign redistributes a batched fetch result to the planned entities,
// keeping for each entity only the comments newer than that entity's
// own cutoff. Comments for entities outside the plan, and comments at
// or before the cutoff, are dropped even though the shared floor let
// the fetch return them.
func (plan *CommentPlan) Assign(comments []github.Comment) map[markers.Entity][]github.Comment {
	assigned := make(map[markers.Entity][]github.Comment)
	for _, comment := range comments {
		number := comment.ParentNumber()
		if number == 0 {
			continue
		}
		entity := markers.Entity{Owner: plan.repo.Owner, Repo: plan.repo.Name, Number: number}
		cutoff, tracked := plan.cutoffs[entity]
		if !tracked {
			continue
		}
		if !comment.UpdatedAt.After(cutoff) {
			continue
		}
		assigned[entity] = append(assigned[entity], comment)
	}
	return assigned
}

// commentChange builds the publishable change for one new comment.
func commentChange(entity markers.Entity, kind markers.Kind, comment *github.Comment) Change {
	return Change{
		Entity:     entity,
		Kind:       kind,
		Transition: event.TransitionCommentNew,
		Payload: event.Payload{
			Repository: entity.Repository().String(),
			Number:     entity.Number,
			Timestamp:  comment.UpdatedAt,
			Comment: &event.Comment{
				Author:    comment.Author(),
				Body:      comment.Body,
				URL:       comment.HTMLURL,
				CreatedAt: comment.CreatedAt,
				UpdatedAt: comment.UpdatedAt,
			},
		},
	}
}
