// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"time"

	"github.com/bureau-foundation/github-monitor/lib/github"
	"github.com/bureau-foundation/github-monitor/lib/markers"
)

// Source fetches repository state from GitHub. Each call returns a
// fully materialized result (pagination is handled inside the source).
type Source interface {
	// Items returns issues and pull requests updated at or after
	// since. A zero since returns everything.
	Items(ctx context.Context, repo markers.Repository, since time.Time) ([]github.Issue, error)

	// Comments returns issue comments (covering both issues and pull
	// request conversations) updated at or after since.
	Comments(ctx context.Context, repo markers.Repository, since time.Time) ([]github.Comment, error)

	// ReviewComments returns pull request review comments updated at
	// or after since.
	ReviewComments(ctx context.Context, repo markers.Repository, since time.Time) ([]github.Comment, error)
}

// GitHubSource adapts the GitHub API client to the Source interface.
type GitHubSource struct {
	Client *github.Client
}

func (s *GitHubSource) Items(ctx context.Context, repo markers.Repository, since time.Time) ([]github.Issue, error) {
	return s.Client.ListItemsSince(repo.Owner, repo.Name, since).Collect(ctx)
}

func (s *GitHubSource) Comments(ctx context.Context, repo markers.Repository, since time.Time) ([]github.Comment, error) {
	return s.Client.ListCommentsSince(repo.Owner, repo.Name, since).Collect(ctx)
}

func (s *GitHubSource) ReviewComments(ctx context.Context, repo markers.Repository, since time.Time) ([]github.Comment, error) {
	return s.Client.ListReviewCommentsSince(repo.Owner, repo.Name, since).Collect(ctx)
}
