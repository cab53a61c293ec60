// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package markers

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Marker file names within an entity directory. Each marker holds a
// single scalar value: presence (active flag), an enum (kind), or an
// RFC3339 timestamp (watermarks).
const (
	activeMarker           = ".active"
	kindMarker             = ".type"
	lastCheckedMarker      = ".last_checked"
	lastCommentCheckMarker = ".last_comment_check"
)

// FS is a Store backed by marker files in a directory tree. Each
// entity owns the directory {base}/{owner}/{repo}/{number}; each
// concern is one marker file inside it.
//
// Watermark writes are atomic: the value is written to a temporary
// file in the entity directory, synced, and renamed into place.
// Readers never observe a partial marker.
type FS struct {
	base string
}

// NewFS returns a marker store rooted at base. The base directory is
// created on first write, not here.
func NewFS(base string) *FS {
	return &FS{base: base}
}

// Base returns the store's root directory.
func (s *FS) Base() string { return s.base }

// EntityDir returns the directory that holds an entity's markers.
func (s *FS) EntityDir(entity Entity) string {
	return filepath.Join(s.base, entity.Owner, entity.Repo, strconv.Itoa(entity.Number))
}

func (s *FS) markerPath(entity Entity, marker string) string {
	return filepath.Join(s.EntityDir(entity), marker)
}

// Known reports whether the entity's directory exists.
func (s *FS) Known(entity Entity) (bool, error) {
	info, err := os.Stat(s.EntityDir(entity))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("markers: stat %s: %w", entity, err)
	}
	return info.IsDir(), nil
}

// Ensure creates the entity's directory if absent.
func (s *FS) Ensure(entity Entity) error {
	if err := os.MkdirAll(s.EntityDir(entity), 0o755); err != nil {
		return fmt.Errorf("markers: creating directory for %s: %w", entity, err)
	}
	return nil
}

// Active reports whether the entity's active flag file exists.
func (s *FS) Active(entity Entity) (bool, error) {
	_, err := os.Stat(s.markerPath(entity, activeMarker))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("markers: stat active flag for %s: %w", entity, err)
	}
	return true, nil
}

// Activate creates the entity's active flag file.
func (s *FS) Activate(entity Entity) error {
	if err := s.Ensure(entity); err != nil {
		return err
	}
	file, err := os.OpenFile(s.markerPath(entity, activeMarker), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("markers: creating active flag for %s: %w", entity, err)
	}
	return file.Close()
}

// Deactivate removes the entity's active flag file. Returns false if
// the flag was not set.
func (s *FS) Deactivate(entity Entity) (bool, error) {
	err := os.Remove(s.markerPath(entity, activeMarker))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("markers: removing active flag for %s: %w", entity, err)
	}
	return true, nil
}

// Kind returns the cached entity kind. An unreadable or unrecognized
// cached value is treated as absent so the caller re-derives it.
func (s *FS) Kind(entity Entity) (Kind, bool, error) {
	value, present, err := s.readMarker(entity, kindMarker)
	if err != nil || !present {
		return "", false, err
	}
	switch Kind(value) {
	case KindIssue, KindPullRequest:
		return Kind(value), true, nil
	}
	return "", false, nil
}

// SetKind caches the entity kind.
func (s *FS) SetKind(entity Entity, kind Kind) error {
	return s.writeMarker(entity, kindMarker, string(kind))
}

// LastChecked returns the entity-level poll watermark.
func (s *FS) LastChecked(entity Entity) (time.Time, bool, error) {
	return s.readTimestamp(entity, lastCheckedMarker)
}

// SetLastChecked advances the entity-level poll watermark.
func (s *FS) SetLastChecked(entity Entity, t time.Time) error {
	return s.writeMarker(entity, lastCheckedMarker, t.UTC().Format(time.RFC3339Nano))
}

// LastCommentCheck returns the comment poll watermark.
func (s *FS) LastCommentCheck(entity Entity) (time.Time, bool, error) {
	return s.readTimestamp(entity, lastCommentCheckMarker)
}

// SetLastCommentCheck advances the comment poll watermark.
func (s *FS) SetLastCommentCheck(entity Entity, t time.Time) error {
	return s.writeMarker(entity, lastCommentCheckMarker, t.UTC().Format(time.RFC3339Nano))
}

// Repositories lists the {owner}/{repo} directory pairs under the base
// path. Hidden directories are skipped at both levels.
func (s *FS) Repositories() ([]Repository, error) {
	owners, err := os.ReadDir(s.base)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("markers: reading base directory %s: %w", s.base, err)
	}

	var repositories []Repository
	for _, owner := range owners {
		if !owner.IsDir() || strings.HasPrefix(owner.Name(), ".") {
			continue
		}
		repos, err := os.ReadDir(filepath.Join(s.base, owner.Name()))
		if err != nil {
			return nil, fmt.Errorf("markers: reading owner directory %s: %w", owner.Name(), err)
		}
		for _, repo := range repos {
			if !repo.IsDir() || strings.HasPrefix(repo.Name(), ".") {
				continue
			}
			repositories = append(repositories, Repository{Owner: owner.Name(), Name: repo.Name()})
		}
	}
	return repositories, nil
}

// Entities lists the numeric entity directories under a repository.
func (s *FS) Entities(repo Repository, activeOnly bool) ([]Entity, error) {
	repoDir := filepath.Join(s.base, repo.Owner, repo.Name)
	entries, err := os.ReadDir(repoDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("markers: reading repository directory %s: %w", repo, err)
	}

	var entities []Entity
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		number, err := strconv.Atoi(entry.Name())
		if err != nil {
			// Non-numeric directories are not entities.
			continue
		}
		entity := Entity{Owner: repo.Owner, Repo: repo.Name, Number: number}
		if activeOnly {
			active, err := s.Active(entity)
			if err != nil {
				return nil, err
			}
			if !active {
				continue
			}
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

// readMarker reads a marker file's trimmed contents. The second return
// is false when the marker does not exist.
func (s *FS) readMarker(entity Entity, marker string) (string, bool, error) {
	data, err := os.ReadFile(s.markerPath(entity, marker))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("markers: reading %s for %s: %w", marker, entity, err)
	}
	return strings.TrimSpace(string(data)), true, nil
}

func (s *FS) readTimestamp(entity Entity, marker string) (time.Time, bool, error) {
	value, present, err := s.readMarker(entity, marker)
	if err != nil || !present {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("markers: parsing %s for %s: %w", marker, entity, err)
	}
	return t, true, nil
}

// writeMarker atomically replaces a marker file: write to a temporary
// file in the entity directory, sync, rename into place. Any failure
// leaves the previous marker intact.
func (s *FS) writeMarker(entity Entity, marker, value string) error {
	if err := s.Ensure(entity); err != nil {
		return err
	}

	dir := s.EntityDir(entity)
	tmp, err := os.CreateTemp(dir, marker+".tmp-*")
	if err != nil {
		return fmt.Errorf("markers: creating temporary %s for %s: %w", marker, entity, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(value + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("markers: writing %s for %s: %w", marker, entity, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("markers: syncing %s for %s: %w", marker, entity, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("markers: closing %s for %s: %w", marker, entity, err)
	}
	if err := os.Rename(tmpName, s.markerPath(entity, marker)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("markers: installing %s for %s: %w", marker, entity, err)
	}
	return nil
}
