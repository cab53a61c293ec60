// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestListItemsSinceQuery(t *testing.T) {
	var gotPath, gotQuery string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, `[
			{"number": 1, "title": "bug", "state": "open", "updated_at": "2026-01-05T10:00:00Z", "user": {"login": "alice"}},
			{"number": 2, "title": "feature", "state": "open", "updated_at": "2026-01-05T09:00:00Z", "pull_request": {"url": "https://api.github.com/repos/acme/widgets/pulls/2"}}
		]`)
	}))

	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	items, err := client.ListItemsSince("acme", "widgets", since).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	if gotPath != "/repos/acme/widgets/issues" {
		t.Errorf("path = %q", gotPath)
	}
	for _, want := range []string{"state=all", "sort=updated", "since=2026-01-01T00%3A00%3A00Z", "per_page=100"} {
		if !containsParam(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}

	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	if items[0].IsPullRequest() {
		t.Error("items[0] should be an issue")
	}
	if items[0].Author() != "alice" {
		t.Errorf("items[0].Author() = %q", items[0].Author())
	}
	if !items[1].IsPullRequest() {
		t.Error("items[1] should be a pull request")
	}
	if items[1].Author() != "" {
		t.Errorf("items[1].Author() = %q, want empty for absent user", items[1].Author())
	}
}

func TestListItemsSinceZeroTimeOmitsSince(t *testing.T) {
	var gotQuery string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, `[]`)
	}))

	if _, err := client.ListItemsSince("acme", "widgets", time.Time{}).Collect(context.Background()); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if containsParam(gotQuery, "since=") {
		t.Errorf("query %q should not have a since parameter", gotQuery)
	}
}

func TestListCommentsSinceEndpoints(t *testing.T) {
	var paths []string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		fmt.Fprint(w, `[]`)
	}))

	since := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()
	if _, err := client.ListCommentsSince("acme", "widgets", since).Collect(ctx); err != nil {
		t.Fatalf("issue comments: %v", err)
	}
	if _, err := client.ListReviewCommentsSince("acme", "widgets", since).Collect(ctx); err != nil {
		t.Fatalf("review comments: %v", err)
	}

	want := []string{
		"/repos/acme/widgets/issues/comments",
		"/repos/acme/widgets/pulls/comments",
	}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v", paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestCommentParentNumber(t *testing.T) {
	tests := []struct {
		comment Comment
		want    int
	}{
		{Comment{IssueURL: "https://api.github.com/repos/acme/widgets/issues/42"}, 42},
		{Comment{PullRequestURL: "https://api.github.com/repos/acme/widgets/pulls/7"}, 7},
		{Comment{}, 0},
		{Comment{IssueURL: "https://api.github.com/repos/acme/widgets/issues/"}, 0},
	}
	for _, test := range tests {
		if got := test.comment.ParentNumber(); got != test.want {
			t.Errorf("ParentNumber() = %d, want %d (issue_url=%q pull_request_url=%q)",
				got, test.want, test.comment.IssueURL, test.comment.PullRequestURL)
		}
	}
}

func TestGetIssue(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/widgets/issues/42" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{"number": 42, "title": "panic on startup", "state": "closed", "closed_at": "2026-01-09T08:00:00Z"}`)
	}))

	issue, err := client.GetIssue(context.Background(), "acme", "widgets", 42)
	if err != nil {
		t.Fatalf("GetIssue: %v", err)
	}
	if issue.Number != 42 || issue.State != "closed" {
		t.Errorf("issue = %+v", issue)
	}
	if issue.ClosedAt == nil {
		t.Error("closed_at should be set")
	}
}

// containsParam reports whether a raw query string contains the given
// key=value fragment as a whole parameter prefix.
func containsParam(query, fragment string) bool {
	for _, param := range strings.Split(query, "&") {
		if strings.HasPrefix(param, fragment) {
			return true
		}
	}
	return false
}
