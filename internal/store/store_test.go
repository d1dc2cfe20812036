package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"deepresearch/backend/internal/research"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	db.SetMaxOpenConns(1)

	s := NewStore(db, time.Hour)
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return s
}

func TestCreateAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateRun(ctx, "run-1", "  go scheduler internals ")
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if created.Status != StatusPending {
		t.Fatalf("unexpected status: %s", created.Status)
	}
	if created.Topic != "go scheduler internals" {
		t.Fatalf("topic not trimmed: %q", created.Topic)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.ID != "run-1" || got.Topic != created.Topic {
		t.Fatalf("unexpected run: %+v", got)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetRun(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCompleteRunRecordsArtifacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateRun(ctx, "run-1", "topic"); err != nil {
		t.Fatalf("create run: %v", err)
	}
	sources := []Source{
		{URL: "https://a.example", Title: "A"},
		{URL: "https://b.example", Title: "B"},
	}
	if err := s.CompleteRun(ctx, "run-1", "The Title", "# The Title\nbody", "https://img.example/c.jpg", sources); err != nil {
		t.Fatalf("complete run: %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != StatusCompleted || got.Title != "The Title" || got.CoverImageURL != "https://img.example/c.jpg" {
		t.Fatalf("unexpected run after completion: %+v", got)
	}
	if len(got.Sources) != 2 || got.Sources[0].URL != "https://a.example" {
		t.Fatalf("sources not round-tripped: %+v", got.Sources)
	}
}

func TestCancelRunKeepsRecordDropsStateAndEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateRun(ctx, "run-1", "topic"); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := s.SaveState(ctx, "run-1", research.State{Topic: "topic", Budget: 1}); err != nil {
		t.Fatalf("save state: %v", err)
	}
	if _, err := s.AppendEvent(ctx, "run-1", research.PlanningStarted("topic")); err != nil {
		t.Fatalf("append event: %v", err)
	}

	if err := s.CancelRun(ctx, "run-1"); err != nil {
		t.Fatalf("cancel run: %v", err)
	}

	run, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("run must survive cancel: %v", err)
	}
	if run.Status != StatusCanceled {
		t.Fatalf("expected canceled status, got %q", run.Status)
	}
	if _, err := s.LoadState(ctx, "run-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("state should be gone, got %v", err)
	}
	events, err := s.ListEvents(ctx, "run-1", 0, 0)
	if err != nil || len(events) != 0 {
		t.Fatalf("event log should read empty after cancel: %v %v", events, err)
	}
}

func TestSetRunStatusMissingRun(t *testing.T) {
	s := newTestStore(t)
	if err := s.SetRunStatus(context.Background(), "nope", StatusProcessing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveAndLoadStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateRun(ctx, "run-1", "topic"); err != nil {
		t.Fatalf("create run: %v", err)
	}

	state := research.State{
		Topic:      "topic",
		AllQueries: []string{"q1", "q2"},
		SearchResults: []research.SearchResult{
			{Title: "A", Link: "https://a.example", Content: "c", Summary: "s"},
		},
		Budget:    1,
		Iteration: 1,
	}
	if err := s.SaveState(ctx, "run-1", state); err != nil {
		t.Fatalf("save state: %v", err)
	}

	// Saving again must overwrite, not duplicate.
	state.Iteration = 2
	if err := s.SaveState(ctx, "run-1", state); err != nil {
		t.Fatalf("resave state: %v", err)
	}

	loaded, err := s.LoadState(ctx, "run-1")
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if loaded.Iteration != 2 || len(loaded.SearchResults) != 1 || loaded.SearchResults[0].Link != "https://a.example" {
		t.Fatalf("unexpected state: %+v", loaded)
	}
}

func TestAppendAndListEventsOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateRun(ctx, "run-1", "topic"); err != nil {
		t.Fatalf("create run: %v", err)
	}

	// Identical timestamps: order must come from the log position.
	stamp := time.Now().UnixMilli()
	for _, event := range []research.Event{
		{Type: research.EventPlanningStarted, Topic: "topic", Timestamp: stamp},
		{Type: research.EventPlanningCompleted, Queries: []string{"q"}, Timestamp: stamp},
		{Type: research.EventSearchStarted, Query: "q", Iteration: 1, Timestamp: stamp},
	} {
		if _, err := s.AppendEvent(ctx, "run-1", event); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}

	events, err := s.ListEvents(ctx, "run-1", 0, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Type != research.EventPlanningStarted || events[2].Type != research.EventSearchStarted {
		t.Fatalf("events out of order: %+v", events)
	}

	tail, err := s.ListEvents(ctx, "run-1", events[1].ID, 0)
	if err != nil {
		t.Fatalf("list events after cursor: %v", err)
	}
	if len(tail) != 1 || tail[0].Type != research.EventSearchStarted {
		t.Fatalf("unexpected tail: %+v", tail)
	}
}

func TestAppendEventStampsMissingTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateRun(ctx, "run-1", "topic"); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if _, err := s.AppendEvent(ctx, "run-1", research.ReportStarted()); err != nil {
		t.Fatalf("append event: %v", err)
	}

	events, err := s.ListEvents(ctx, "run-1", 0, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].Timestamp == 0 {
		t.Fatalf("expected stamped event, got %+v", events)
	}
}

func TestExpiredRowsAreInvisibleAndPurged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateRun(ctx, "run-1", "topic"); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := s.SaveState(ctx, "run-1", research.State{Topic: "topic", Budget: 2}); err != nil {
		t.Fatalf("save state: %v", err)
	}
	if _, err := s.AppendEvent(ctx, "run-1", research.PlanningStarted("topic")); err != nil {
		t.Fatalf("append event: %v", err)
	}

	// Move the clock past the ttl.
	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	if _, err := s.GetRun(ctx, "run-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired run hidden, got %v", err)
	}
	if _, err := s.LoadState(ctx, "run-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired state hidden, got %v", err)
	}
	events, err := s.ListEvents(ctx, "run-1", 0, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected expired events hidden, got %d", len(events))
	}

	removed, err := s.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 run purged, got %d", removed)
	}
}

func TestDeleteRunRemovesEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateRun(ctx, "run-1", "topic"); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := s.SaveState(ctx, "run-1", research.State{Topic: "topic"}); err != nil {
		t.Fatalf("save state: %v", err)
	}
	if _, err := s.AppendEvent(ctx, "run-1", research.PlanningStarted("topic")); err != nil {
		t.Fatalf("append event: %v", err)
	}

	if err := s.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("delete run: %v", err)
	}

	if _, err := s.GetRun(ctx, "run-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected run gone, got %v", err)
	}
	events, err := s.ListEvents(ctx, "run-1", 0, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected events gone, got %d", len(events))
	}
}
