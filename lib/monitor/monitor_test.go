// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/github-monitor/lib/clock"
	"github.com/bureau-foundation/github-monitor/lib/event"
	"github.com/bureau-foundation/github-monitor/lib/github"
	"github.com/bureau-foundation/github-monitor/lib/markers"
)

var testRepo = markers.Repository{Owner: "acme", Name: "widgets"}

// fakeSource serves canned fetch results and records call activity.
type fakeSource struct {
	mu             sync.Mutex
	items          []github.Issue
	comments       []github.Comment
	reviewComments []github.Comment
	itemCalls      int
	lastItemSince  time.Time
}

func (s *fakeSource) Items(ctx context.Context, repo markers.Repository, since time.Time) ([]github.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.itemCalls++
	s.lastItemSince = since
	return append([]github.Issue(nil), s.items...), nil
}

func (s *fakeSource) Comments(ctx context.Context, repo markers.Repository, since time.Time) ([]github.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]github.Comment(nil), s.comments...), nil
}

func (s *fakeSource) ReviewComments(ctx context.Context, repo markers.Repository, since time.Time) ([]github.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]github.Comment(nil), s.reviewComments...), nil
}

type published struct {
	subject  string
	dedupKey string
}

// fakePublisher records publishes and can fail the first failures
// calls.
type fakePublisher struct {
	mu        sync.Mutex
	published []published
	failures  int
}

func (p *fakePublisher) Publish(ctx context.Context, subject string, data []byte, dedupKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, published{subject: subject, dedupKey: dedupKey})
	return nil
}

func (p *fakePublisher) subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	subjects := make([]string, len(p.published))
	for i, msg := range p.published {
		subjects[i] = msg.subject
	}
	return subjects
}

func newTestMonitor(t *testing.T, config Config, source *fakeSource, publisher *fakePublisher, clk clock.Clock) (*Monitor, *markers.FS) {
	t.Helper()
	store := markers.NewFS(t.TempDir())
	if config.Repositories == nil {
		config.Repositories = []markers.Repository{testRepo}
	}
	return New(config, source, store, publisher, clk, slog.Default()), store
}

func openIssue(number int, title string, updatedAt time.Time) github.Issue {
	return github.Issue{
		Number:    number,
		Title:     title,
		State:     "open",
		HTMLURL:   fmt.Sprintf("https://github.com/acme/widgets/issues/%d", number),
		UpdatedAt: updatedAt,
	}
}

func TestLifecycleNewUpdatedClosed(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clk := clock.Fake(t0)
	source := &fakeSource{}
	publisher := &fakePublisher{}
	monitor, store := newTestMonitor(t, Config{
		MonitorIssues: true,
		ActiveOnly:    true,
	}, source, publisher, clk)

	entity := markers.Entity{Owner: "acme", Repo: "widgets", Number: 42}
	ctx := context.Background()

	// First observation: open, unknown. Discovery emits "new" and
	// creates scaffolding without activating.
	source.items = []github.Issue{openIssue(42, "flaky build", t0.Add(-time.Hour))}
	if err := monitor.RunCycle(ctx); err != nil {
		t.Fatalf("cycle 1: %v", err)
	}
	if got := publisher.subjects(); len(got) != 1 || got[0] != "github.issue.new" {
		t.Fatalf("cycle 1 subjects = %v", got)
	}
	if active, _ := store.Active(entity); active {
		t.Error("discovery must not set the active flag")
	}

	// Activation is an external decision.
	if err := store.Activate(entity); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	// Same state again: no transition.
	clk.Advance(time.Minute)
	if err := monitor.RunCycle(ctx); err != nil {
		t.Fatalf("cycle 2: %v", err)
	}
	if got := publisher.subjects(); len(got) != 1 {
		t.Fatalf("cycle 2 subjects = %v, want no new events", got)
	}

	// updated_at advances past the watermark: "updated".
	clk.Advance(time.Minute)
	source.items = []github.Issue{openIssue(42, "flaky build", clk.Now().Add(time.Second))}
	if err := monitor.RunCycle(ctx); err != nil {
		t.Fatalf("cycle 3: %v", err)
	}
	if got := publisher.subjects(); len(got) != 2 || got[1] != "github.issue.updated" {
		t.Fatalf("cycle 3 subjects = %v", got)
	}

	// Closed while active: "closed", and the flag is cleared.
	clk.Advance(time.Minute)
	closed := openIssue(42, "flaky build", clk.Now().Add(time.Second))
	closed.State = "closed"
	source.items = []github.Issue{closed}
	if err := monitor.RunCycle(ctx); err != nil {
		t.Fatalf("cycle 4: %v", err)
	}
	if got := publisher.subjects(); len(got) != 3 || got[2] != "github.issue.closed" {
		t.Fatalf("cycle 4 subjects = %v", got)
	}
	if active, _ := store.Active(entity); active {
		t.Error("closed transition must clear the active flag")
	}

	// Subsequent polls of the closed entity emit nothing.
	clk.Advance(time.Minute)
	if err := monitor.RunCycle(ctx); err != nil {
		t.Fatalf("cycle 5: %v", err)
	}
	if got := publisher.subjects(); len(got) != 3 {
		t.Fatalf("cycle 5 subjects = %v, want no new events", got)
	}
}

func TestDetectionIdempotent(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clk := clock.Fake(t0)
	source := &fakeSource{
		items: []github.Issue{
			openIssue(1, "a", t0.Add(-2*time.Hour)),
			openIssue(2, "b", t0.Add(-time.Hour)),
		},
	}
	publisher := &fakePublisher{}
	monitor, _ := newTestMonitor(t, Config{MonitorIssues: true}, source, publisher, clk)

	ctx := context.Background()
	if err := monitor.RunCycle(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	first := len(publisher.subjects())
	if first != 2 {
		t.Fatalf("first cycle published %d events, want 2", first)
	}

	// Unchanged external state: a second pass produces zero new
	// transitions.
	clk.Advance(time.Minute)
	if err := monitor.RunCycle(ctx); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if got := len(publisher.subjects()); got != first {
		t.Errorf("second cycle added %d events, want 0", got-first)
	}
}

func TestUnknownEntityIgnoredWithoutDiscovery(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := markers.NewFS(t.TempDir())
	detector := NewDetector(store, false, true, slog.Default())

	item := openIssue(7, "x", t0)
	change, err := detector.Classify(&item, markers.Entity{Owner: "acme", Repo: "widgets", Number: 7})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if change != nil {
		t.Errorf("change = %+v, want nil without discovery", change)
	}
	if known, _ := store.Known(markers.Entity{Owner: "acme", Repo: "widgets", Number: 7}); known {
		t.Error("no scaffolding should be created without discovery")
	}
}

func TestPullRequestKindCached(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := markers.NewFS(t.TempDir())
	detector := NewDetector(store, true, true, slog.Default())

	item := openIssue(9, "speed up ci", t0)
	item.PullRequest = &struct {
		URL string `json:"url"`
	}{URL: "https://api.github.com/repos/acme/widgets/pulls/9"}

	entity := markers.Entity{Owner: "acme", Repo: "widgets", Number: 9}
	change, err := detector.Classify(&item, entity)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if change == nil || change.Transition != event.TransitionNew {
		t.Fatalf("change = %+v, want new", change)
	}
	if change.Event().Subject != "github.pr.new" {
		t.Errorf("subject = %q", change.Event().Subject)
	}
	if kind, ok, _ := store.Kind(entity); !ok || kind != markers.KindPullRequest {
		t.Errorf("cached kind = %q (ok=%v), want pr", kind, ok)
	}
}

func TestPublishFailureBlocksWatermark(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clk := clock.Fake(t0)
	source := &fakeSource{items: []github.Issue{openIssue(5, "c", t0.Add(-time.Hour))}}
	publisher := &fakePublisher{failures: 1}
	monitor, store := newTestMonitor(t, Config{MonitorIssues: true}, source, publisher, clk)

	ctx := context.Background()
	if err := monitor.RunCycle(ctx); err != nil {
		t.Fatalf("cycle 1: %v", err)
	}
	if got := publisher.subjects(); len(got) != 0 {
		t.Fatalf("cycle 1 published %v despite broker failure", got)
	}

	entity := markers.Entity{Owner: "acme", Repo: "widgets", Number: 5}
	if _, checked, _ := store.LastChecked(entity); checked {
		t.Error("watermark advanced despite failed publish")
	}

	// Next cycle re-detects the change. The scaffolding already
	// exists and the watermark never advanced, so it resurfaces as an
	// update rather than being lost.
	clk.Advance(time.Minute)
	if err := monitor.RunCycle(ctx); err != nil {
		t.Fatalf("cycle 2: %v", err)
	}
	if got := publisher.subjects(); len(got) != 1 || got[0] != "github.issue.updated" {
		t.Fatalf("cycle 2 subjects = %v", got)
	}
	if _, checked, _ := store.LastChecked(entity); !checked {
		t.Error("watermark should advance after successful publish")
	}
}

func TestDryRunPublishesNothingAndHoldsWatermarks(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clk := clock.Fake(t0)
	source := &fakeSource{items: []github.Issue{openIssue(3, "d", t0.Add(-time.Hour))}}
	publisher := &fakePublisher{}
	monitor, store := newTestMonitor(t, Config{
		MonitorIssues: true,
		DryRun:        true,
	}, source, publisher, clk)

	if err := monitor.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if got := publisher.subjects(); len(got) != 0 {
		t.Errorf("dry run published %v", got)
	}
	entity := markers.Entity{Owner: "acme", Repo: "widgets", Number: 3}
	if _, checked, _ := store.LastChecked(entity); checked {
		t.Error("dry run advanced a watermark")
	}
}

func TestCommentPlanFloor(t *testing.T) {
	store := markers.NewFS(t.TempDir())
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	entities := make([]markers.Entity, 3)
	for i := range entities {
		entities[i] = markers.Entity{Owner: "acme", Repo: "widgets", Number: i + 1}
		if err := store.Ensure(entities[i]); err != nil {
			t.Fatalf("Ensure: %v", err)
		}
		if err := store.SetLastCommentCheck(entities[i], t0.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("SetLastCommentCheck: %v", err)
		}
	}

	plan, err := PlanComments(store, testRepo, entities)
	if err != nil {
		t.Fatalf("PlanComments: %v", err)
	}
	if !plan.Floor().Equal(t0) {
		t.Errorf("floor = %v, want %v", plan.Floor(), t0)
	}

	// Floor soundness: the shared floor never exceeds any entity's
	// own cutoff.
	for _, entity := range entities {
		cutoff, ok := plan.Cutoff(entity)
		if !ok {
			t.Fatalf("entity %s missing from plan", entity)
		}
		if plan.Floor().After(cutoff) {
			t.Errorf("floor %v after cutoff %v for %s", plan.Floor(), cutoff, entity)
		}
	}

	// An entity that was never comment-checked drags the floor to the
	// epoch.
	fresh := markers.Entity{Owner: "acme", Repo: "widgets", Number: 4}
	if err := store.Ensure(fresh); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	plan, err = PlanComments(store, testRepo, append(entities, fresh))
	if err != nil {
		t.Fatalf("PlanComments: %v", err)
	}
	if !plan.Floor().IsZero() {
		t.Errorf("floor = %v, want zero with an unchecked entity", plan.Floor())
	}
}

func TestCommentBatchPerEntityCutoff(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	t2 := t0.Add(2 * time.Hour)
	t3 := t0.Add(3 * time.Hour)
	fetchAt := t0.Add(4 * time.Hour)

	clk := clock.Fake(fetchAt)
	store := markers.NewFS(t.TempDir())

	// Three active entities with comment watermarks at t0, t1, t2.
	watermarks := []time.Time{t0, t1, t2}
	entities := make([]markers.Entity, 3)
	for i, watermark := range watermarks {
		entities[i] = markers.Entity{Owner: "acme", Repo: "widgets", Number: i + 1}
		if err := store.Ensure(entities[i]); err != nil {
			t.Fatalf("Ensure: %v", err)
		}
		if err := store.Activate(entities[i]); err != nil {
			t.Fatalf("Activate: %v", err)
		}
		if err := store.SetKind(entities[i], markers.KindIssue); err != nil {
			t.Fatalf("SetKind: %v", err)
		}
		if err := store.SetLastCommentCheck(entities[i], watermark); err != nil {
			t.Fatalf("SetLastCommentCheck: %v", err)
		}
	}

	issueURL := func(number int) string {
		return fmt.Sprintf("https://api.github.com/repos/acme/widgets/issues/%d", number)
	}
	source := &fakeSource{comments: []github.Comment{
		// At entity 1's watermark exactly: filtered (not strictly newer).
		{ID: 10, IssueURL: issueURL(1), UpdatedAt: t0},
		// Newer than t0 but older than t1: only entity 1 sees its own.
		{ID: 11, IssueURL: issueURL(1), UpdatedAt: t0.Add(30 * time.Minute)},
		{ID: 12, IssueURL: issueURL(2), UpdatedAt: t0.Add(30 * time.Minute)},
		// Newer than every watermark.
		{ID: 13, IssueURL: issueURL(3), UpdatedAt: t3},
	}}
	publisher := &fakePublisher{}
	monitor := New(Config{
		Repositories:         []markers.Repository{testRepo},
		MonitorIssueComments: true,
		ActiveOnly:           true,
	}, source, store, publisher, clk, slog.Default())

	if err := monitor.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	// Entity 1 gets comment 11, entity 3 gets comment 13. Comment 10
	// is at the watermark and comment 12 is behind entity 2's.
	got := publisher.subjects()
	if len(got) != 2 {
		t.Fatalf("published %d comment events, want 2: %v", len(got), got)
	}
	for _, subject := range got {
		if subject != "github.issue.comment.new" {
			t.Errorf("subject = %q", subject)
		}
	}

	// All three watermarks advance to the fetch-issue time, not to
	// the newest comment's timestamp.
	for _, entity := range entities {
		watermark, ok, err := store.LastCommentCheck(entity)
		if err != nil || !ok {
			t.Fatalf("LastCommentCheck(%s): ok=%v err=%v", entity, ok, err)
		}
		if !watermark.Equal(fetchAt) {
			t.Errorf("%s watermark = %v, want fetch time %v", entity, watermark, fetchAt)
		}
	}
}

func TestRunFixedRateInterval(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clk := clock.Fake(t0)
	source := &fakeSource{}
	publisher := &fakePublisher{}
	monitor, _ := newTestMonitor(t, Config{
		MonitorIssues: true,
		Interval:      time.Minute,
	}, source, publisher, clk)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- monitor.Run(ctx) }()

	// First cycle runs immediately; the loop then sleeps the full
	// interval.
	clk.WaitForTimers(1)
	clk.Advance(time.Minute)
	clk.WaitForTimers(1)

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v", err)
	}

	source.mu.Lock()
	calls := source.itemCalls
	source.mu.Unlock()
	if calls != 2 {
		t.Errorf("item fetches = %d, want 2", calls)
	}
}
