// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"time"
)

// User is a GitHub account reference as embedded in issues and
// comments.
type User struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
	Type  string `json:"type"`
}

// Label is a repository label attached to an issue or pull request.
type Label struct {
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description"`
}

// Issue is an issue or pull request as returned by the issues list
// endpoint. GitHub's REST API represents pull requests as issues with
// an extra pull_request field; IsPullRequest distinguishes the two.
type Issue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	HTMLURL   string    `json:"html_url"`
	Body      string    `json:"body"`
	User      *User     `json:"user"`
	Labels    []Label   `json:"labels"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at"`

	// PullRequest is present only when this issue is a pull request.
	PullRequest *struct {
		URL string `json:"url"`
	} `json:"pull_request,omitempty"`
}

// IsPullRequest reports whether this issue is actually a pull request.
func (issue *Issue) IsPullRequest() bool {
	return issue.PullRequest != nil
}

// Author returns the login of the issue author, or empty if the user
// is absent (deleted accounts).
func (issue *Issue) Author() string {
	if issue.User == nil {
		return ""
	}
	return issue.User.Login
}

// Comment is an issue comment or pull request review comment. Exactly
// one of IssueURL or PullRequestURL is set depending on which list
// endpoint returned it; ParentNumber extracts the parent entity number
// from whichever is present.
type Comment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	HTMLURL   string    `json:"html_url"`
	User      *User     `json:"user"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	IssueURL       string `json:"issue_url,omitempty"`
	PullRequestURL string `json:"pull_request_url,omitempty"`
}

// Author returns the login of the comment author, or empty if the
// user is absent.
func (comment *Comment) Author() string {
	if comment.User == nil {
		return ""
	}
	return comment.User.Login
}

// ParentNumber parses the parent issue or pull request number from
// the comment's issue_url or pull_request_url. Returns 0 if neither
// is present or the URL does not end in a number.
func (comment *Comment) ParentNumber() int {
	url := comment.IssueURL
	if url == "" {
		url = comment.PullRequestURL
	}
	return trailingNumber(url)
}

// trailingNumber parses the final path segment of an API URL as an
// integer, e.g. ".../issues/42" yields 42.
func trailingNumber(url string) int {
	if url == "" {
		return 0
	}
	number := 0
	start := len(url)
	for start > 0 && url[start-1] >= '0' && url[start-1] <= '9' {
		start--
	}
	if start == len(url) {
		return 0
	}
	for _, digit := range url[start:] {
		number = number*10 + int(digit-'0')
	}
	return number
}
