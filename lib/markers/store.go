// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package markers

import (
	"fmt"
	"time"
)

// Kind classifies a tracked entity as an issue or a pull request. The
// kind is cached the first time an entity is observed and never
// re-derived while the cache is present.
type Kind string

const (
	// KindIssue marks a tracked GitHub issue.
	KindIssue Kind = "issue"
	// KindPullRequest marks a tracked GitHub pull request.
	KindPullRequest Kind = "pr"
)

// Repository identifies a GitHub repository by owner and name.
type Repository struct {
	Owner string
	Name  string
}

func (r Repository) String() string {
	return r.Owner + "/" + r.Name
}

// Entity identifies one tracked issue or pull request within a
// repository.
type Entity struct {
	Owner  string
	Repo   string
	Number int
}

// Repository returns the entity's repository.
func (e Entity) Repository() Repository {
	return Repository{Owner: e.Owner, Name: e.Repo}
}

func (e Entity) String() string {
	return fmt.Sprintf("%s/%s#%d", e.Owner, e.Repo, e.Number)
}

// Store persists per-entity watermarks and flags. All setters are
// idempotent upserts. A setter that fails must leave the previous value
// readable, so that the caller re-attempts the same window on the next
// poll (fail-closed).
//
// The store is not safe for concurrent writers to the same entity from
// multiple processes; a single monitor instance owns a base path.
type Store interface {
	// Known reports whether the entity has been observed before
	// (its scaffolding exists).
	Known(entity Entity) (bool, error)

	// Ensure creates the entity's scaffolding if absent. It does not
	// set the active flag; activation is an explicit external
	// decision.
	Ensure(entity Entity) error

	// Active reports whether the entity is flagged for ongoing
	// monitoring.
	Active(entity Entity) (bool, error)

	// Activate sets the entity's active flag.
	Activate(entity Entity) error

	// Deactivate clears the entity's active flag. Returns false if
	// the flag was not set.
	Deactivate(entity Entity) (bool, error)

	// Kind returns the cached entity kind. The second return is false
	// when no kind is cached (or the cached value is unreadable, in
	// which case the caller re-derives and re-caches it).
	Kind(entity Entity) (Kind, bool, error)

	// SetKind caches the entity kind.
	SetKind(entity Entity, kind Kind) error

	// LastChecked returns the entity-level poll watermark. The second
	// return is false when the entity has never been checked.
	LastChecked(entity Entity) (time.Time, bool, error)

	// SetLastChecked advances the entity-level poll watermark.
	SetLastChecked(entity Entity, t time.Time) error

	// LastCommentCheck returns the comment poll watermark. The second
	// return is false when comments have never been checked.
	LastCommentCheck(entity Entity) (time.Time, bool, error)

	// SetLastCommentCheck advances the comment poll watermark.
	SetLastCommentCheck(entity Entity, t time.Time) error

	// Repositories lists the repositories that have scaffolding under
	// the store.
	Repositories() ([]Repository, error)

	// Entities lists the entities tracked under a repository. With
	// activeOnly, only entities whose active flag is set are returned.
	Entities(repo Repository, activeOnly bool) ([]Entity, error)
}
