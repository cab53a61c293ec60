// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package event defines the wire format for GitHub change events: the
// subject taxonomy, the JSON payload, and the deduplication identity
// attached to every published message.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bureau-foundation/github-monitor/lib/markers"
)

// Transition classifies a detected change.
type Transition string

const (
	// TransitionNew fires when an open entity is observed for the
	// first time.
	TransitionNew Transition = "new"
	// TransitionUpdated fires when a tracked open entity's updated_at
	// moves past the watermark.
	TransitionUpdated Transition = "updated"
	// TransitionClosed fires when a tracked entity that was still
	// being polled is observed closed.
	TransitionClosed Transition = "closed"
	// TransitionCommentNew fires once per comment newer than the
	// entity's comment watermark.
	TransitionCommentNew Transition = "comment.new"
)

// Subject builds the stream subject for a kind and transition, e.g.
// "github.issue.new" or "github.pr.comment.new".
func Subject(kind markers.Kind, transition Transition) string {
	return fmt.Sprintf("github.%s.%s", kind, transition)
}

// Comment is the nested comment object on comment.new events.
type Comment struct {
	Author    string    `json:"author"`
	Body      string    `json:"body,omitempty"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Payload is the JSON body of a published event.
type Payload struct {
	Repository string    `json:"repository"`
	Number     int       `json:"number"`
	Title      string    `json:"title,omitempty"`
	Author     string    `json:"author,omitempty"`
	URL        string    `json:"url,omitempty"`
	State      string    `json:"state,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Comment    *Comment  `json:"comment,omitempty"`
}

// Event is one publishable unit: a subject, an encoded payload, and a
// deduplication key derived from the payload's identity fields.
type Event struct {
	Subject  string
	Payload  Payload
	DedupKey string
}

// New builds an Event for the given kind and transition. The dedup key
// is deterministic from (repository, number, transition, timestamp) so
// that republishing an unchanged detection is a no-op even if the
// broker delivers the message more than once.
func New(kind markers.Kind, transition Transition, payload Payload) Event {
	return Event{
		Subject:  Subject(kind, transition),
		Payload:  payload,
		DedupKey: dedupKey(payload.Repository, payload.Number, transition, payload.Timestamp),
	}
}

// Encode serializes the event payload to JSON.
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("event: encoding payload for %s: %w", e.Subject, err)
	}
	return data, nil
}
