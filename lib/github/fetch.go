// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// listPageSize is the per_page value for list endpoints; 100 is the
// GitHub API maximum.
const listPageSize = 100

// ListItemsSince returns an iterator over issues and pull requests in
// a repository updated at or after the given time, most recently
// updated first. A zero since time lists everything. The issues
// endpoint returns both issues and pull requests; callers distinguish
// them with Issue.IsPullRequest.
func (client *Client) ListItemsSince(owner, repo string, since time.Time) *PageIterator[Issue] {
	query := url.Values{}
	query.Set("state", "all")
	query.Set("sort", "updated")
	query.Set("direction", "desc")
	query.Set("per_page", fmt.Sprint(listPageSize))
	if !since.IsZero() {
		query.Set("since", since.UTC().Format(time.RFC3339))
	}

	return &PageIterator[Issue]{
		client:  client,
		nextURL: fmt.Sprintf("%s/repos/%s/%s/issues?%s", client.baseURL, owner, repo, query.Encode()),
	}
}

// ListCommentsSince returns an iterator over issue comments across a
// repository created or updated at or after the given time. Covers
// comments on both issues and pull requests (GitHub treats PR
// conversation comments as issue comments). A zero since time lists
// everything.
func (client *Client) ListCommentsSince(owner, repo string, since time.Time) *PageIterator[Comment] {
	query := url.Values{}
	query.Set("sort", "created")
	query.Set("direction", "asc")
	query.Set("per_page", fmt.Sprint(listPageSize))
	if !since.IsZero() {
		query.Set("since", since.UTC().Format(time.RFC3339))
	}

	return &PageIterator[Comment]{
		client:  client,
		nextURL: fmt.Sprintf("%s/repos/%s/%s/issues/comments?%s", client.baseURL, owner, repo, query.Encode()),
	}
}

// ListReviewCommentsSince returns an iterator over pull request review
// comments (inline diff comments) across a repository updated at or
// after the given time. A zero since time lists everything.
func (client *Client) ListReviewCommentsSince(owner, repo string, since time.Time) *PageIterator[Comment] {
	query := url.Values{}
	query.Set("sort", "created")
	query.Set("direction", "asc")
	query.Set("per_page", fmt.Sprint(listPageSize))
	if !since.IsZero() {
		query.Set("since", since.UTC().Format(time.RFC3339))
	}

	return &PageIterator[Comment]{
		client:  client,
		nextURL: fmt.Sprintf("%s/repos/%s/%s/pulls/comments?%s", client.baseURL, owner, repo, query.Encode()),
	}
}

// GetIssue fetches a single issue or pull request by number.
func (client *Client) GetIssue(ctx context.Context, owner, repo string, number int) (*Issue, error) {
	var issue Issue
	path := fmt.Sprintf("/repos/%s/%s/issues/%d", owner, repo, number)
	if err := client.get(ctx, path, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}
