// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package markers persists per-entity monitoring state as marker files
// in a directory tree.
//
// Each tracked issue or pull request owns one directory,
// {base}/{owner}/{repo}/{number}, holding up to four markers:
//
//   - .active -- presence flag; the entity is polled only while set
//   - .type -- cached entity kind ("issue" or "pr")
//   - .last_checked -- RFC3339 watermark for entity-level polls
//   - .last_comment_check -- RFC3339 watermark for comment polls
//
// The directory layout is shared state between the monitor (which
// writes watermarks and clears the active flag on close) and external
// collaborators (which create the .active flag to opt an entity into
// monitoring). The Store interface keeps detection logic independent
// of the backing layout so the storage can be swapped without touching
// the change detector.
package markers
