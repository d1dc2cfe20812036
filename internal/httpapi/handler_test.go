package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"deepresearch/backend/internal/config"
	"deepresearch/backend/internal/research"
	"deepresearch/backend/internal/store"

	_ "modernc.org/sqlite"
)

type launcherStub struct {
	started   []string
	canceled  []string
	budgets   []int
	startErr  error
	cancelErr error
}

func (l *launcherStub) StartResearch(_ context.Context, runID, topic string, budget int) error {
	if l.startErr != nil {
		return l.startErr
	}
	l.started = append(l.started, runID)
	l.budgets = append(l.budgets, budget)
	return nil
}

func (l *launcherStub) CancelResearch(_ context.Context, runID string) error {
	if l.cancelErr != nil {
		return l.cancelErr
	}
	l.canceled = append(l.canceled, runID)
	return nil
}

func newTestServer(t *testing.T, launcher *launcherStub) (*httptest.Server, store.Store) {
	t.Helper()
	server, st, _ := newTestServerDB(t, launcher)
	return server, st
}

func newTestServerDB(t *testing.T, launcher *launcherStub) (*httptest.Server, store.Store, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	st := store.NewStore(db, time.Hour)
	if err := st.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	cfg := config.Config{
		AllowedOrigins: []string{"http://localhost:5173"},
		Budget:         2,
	}
	server := httptest.NewServer(NewRouter(cfg, st, launcher, nil))
	t.Cleanup(server.Close)
	return server, st, db
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestCreateResearchStartsWorkflow(t *testing.T) {
	launcher := &launcherStub{}
	server, st := newTestServer(t, launcher)

	resp := postJSON(t, server.URL+"/v1/research", `{"topic": "  solid state batteries  "}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	var run researchRunResponse
	decodeBody(t, resp, &run)
	if run.ID == "" {
		t.Fatal("response carries no run id")
	}
	if run.Topic != "solid state batteries" {
		t.Fatalf("topic not trimmed: %q", run.Topic)
	}
	if run.Status != store.StatusPending {
		t.Fatalf("expected pending status, got %q", run.Status)
	}

	if len(launcher.started) != 1 || launcher.started[0] != run.ID {
		t.Fatalf("workflow not started for run: %v", launcher.started)
	}
	if launcher.budgets[0] != 2 {
		t.Fatalf("expected configured default budget 2, got %d", launcher.budgets[0])
	}

	stored, err := st.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("run not persisted: %v", err)
	}
	if stored.Topic != "solid state batteries" {
		t.Fatalf("persisted topic wrong: %q", stored.Topic)
	}
}

func TestCreateResearchHonorsExplicitBudget(t *testing.T) {
	launcher := &launcherStub{}
	server, _ := newTestServer(t, launcher)

	resp := postJSON(t, server.URL+"/v1/research", `{"topic": "fusion", "budget": 5}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	if launcher.budgets[0] != 5 {
		t.Fatalf("expected budget 5, got %d", launcher.budgets[0])
	}
}

func TestCreateResearchRejectsBadInput(t *testing.T) {
	launcher := &launcherStub{}
	server, _ := newTestServer(t, launcher)

	cases := []struct {
		name string
		body string
	}{
		{"empty topic", `{"topic": "   "}`},
		{"zero budget", `{"topic": "fusion", "budget": 0}`},
		{"unknown field", `{"topic": "fusion", "depth": 3}`},
		{"not json", `topic=fusion`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, server.URL+"/v1/research", tc.body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
		})
	}
	if len(launcher.started) != 0 {
		t.Fatalf("no workflow should start on bad input, got %v", launcher.started)
	}
}

func TestCreateResearchCleansUpWhenWorkflowFails(t *testing.T) {
	launcher := &launcherStub{startErr: errors.New("temporal down")}
	server, _, db := newTestServerDB(t, launcher)

	resp := postJSON(t, server.URL+"/v1/research", `{"topic": "fusion"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}

	// The orphaned run row must be gone.
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM research_runs").Scan(&count); err != nil {
		t.Fatalf("count runs: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no runs after cleanup, got %d", count)
	}
}

func TestGetResearchReturnsRun(t *testing.T) {
	launcher := &launcherStub{}
	server, st := newTestServer(t, launcher)
	ctx := context.Background()

	if _, err := st.CreateRun(ctx, "run-1", "fusion"); err != nil {
		t.Fatalf("create run: %v", err)
	}
	sources := []store.Source{{URL: "https://a.example", Title: "A"}}
	if err := st.CompleteRun(ctx, "run-1", "Fusion Report", "# Fusion Report", "https://cdn.example/cover.jpg", sources); err != nil {
		t.Fatalf("complete run: %v", err)
	}

	resp, err := http.Get(server.URL + "/v1/research/run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var run researchRunResponse
	decodeBody(t, resp, &run)
	if run.Status != store.StatusCompleted || run.Title != "Fusion Report" {
		t.Fatalf("unexpected run payload: %+v", run)
	}
	if run.CoverImageURL != "https://cdn.example/cover.jpg" {
		t.Fatalf("cover url missing: %+v", run)
	}
	if len(run.Sources) != 1 || run.Sources[0].URL != "https://a.example" {
		t.Fatalf("sources missing from response: %+v", run)
	}
}

func TestGetResearchReportsProgressFromState(t *testing.T) {
	server, st := newTestServer(t, &launcherStub{})
	ctx := context.Background()

	if _, err := st.CreateRun(ctx, "run-1", "fusion"); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := st.SaveState(ctx, "run-1", research.State{
		Topic:         "fusion",
		Iteration:     2,
		Budget:        1,
		SearchResults: []research.SearchResult{{Link: "https://a.example", Content: "aa"}},
	}); err != nil {
		t.Fatalf("save state: %v", err)
	}

	resp, err := http.Get(server.URL + "/v1/research/run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var run researchRunResponse
	decodeBody(t, resp, &run)
	if run.Iteration != 2 || run.Budget != 1 || run.ResultCount != 1 {
		t.Fatalf("state-derived progress missing from response: %+v", run)
	}

	// A run without a state record reads as zero progress.
	if _, err := st.CreateRun(ctx, "run-2", "fission"); err != nil {
		t.Fatalf("create run: %v", err)
	}
	resp, err = http.Get(server.URL + "/v1/research/run-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var fresh researchRunResponse
	decodeBody(t, resp, &fresh)
	if fresh.Iteration != 0 || fresh.Budget != 0 || fresh.ResultCount != 0 {
		t.Fatalf("expected zero progress for a stateless run: %+v", fresh)
	}
}

func TestGetResearchUnknownRunIs404(t *testing.T) {
	server, _ := newTestServer(t, &launcherStub{})

	resp, err := http.Get(server.URL + "/v1/research/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestListResearchEventsTailsWithCursor(t *testing.T) {
	server, st := newTestServer(t, &launcherStub{})
	ctx := context.Background()

	if _, err := st.CreateRun(ctx, "run-1", "fusion"); err != nil {
		t.Fatalf("create run: %v", err)
	}
	for i := 0; i < 5; i++ {
		event := research.IterationCompleted(i+1, (i+1)*3)
		if _, err := st.AppendEvent(ctx, "run-1", event); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}

	resp, err := http.Get(server.URL + "/v1/research/run-1/events")
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	var page eventsResponse
	decodeBody(t, resp, &page)
	if len(page.Events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(page.Events))
	}

	// Tail from the third event onward.
	cursor := page.Events[2].ID
	resp, err = http.Get(fmt.Sprintf("%s/v1/research/run-1/events?after=%d", server.URL, cursor))
	if err != nil {
		t.Fatalf("get events after cursor: %v", err)
	}
	var tail eventsResponse
	decodeBody(t, resp, &tail)
	if len(tail.Events) != 2 {
		t.Fatalf("expected 2 events after cursor, got %d", len(tail.Events))
	}
	if tail.LastID != page.Events[4].ID {
		t.Fatalf("lastId should point at the newest event, got %d", tail.LastID)
	}

	// An exhausted cursor echoes itself back.
	resp, err = http.Get(fmt.Sprintf("%s/v1/research/run-1/events?after=%d", server.URL, tail.LastID))
	if err != nil {
		t.Fatalf("get events at end: %v", err)
	}
	var empty eventsResponse
	decodeBody(t, resp, &empty)
	if len(empty.Events) != 0 || empty.LastID != tail.LastID {
		t.Fatalf("unexpected tail page: %+v", empty)
	}
}

func TestListResearchEventsRejectsBadCursor(t *testing.T) {
	server, st := newTestServer(t, &launcherStub{})
	if _, err := st.CreateRun(context.Background(), "run-1", "fusion"); err != nil {
		t.Fatalf("create run: %v", err)
	}

	for _, query := range []string{"after=-1", "after=abc", "limit=0", "limit=x"} {
		resp, err := http.Get(server.URL + "/v1/research/run-1/events?" + query)
		if err != nil {
			t.Fatalf("get events: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("query %q: expected 400, got %d", query, resp.StatusCode)
		}
	}
}

func TestDeleteResearchCancelsAndClearsLog(t *testing.T) {
	launcher := &launcherStub{}
	server, st := newTestServer(t, launcher)
	ctx := context.Background()

	if _, err := st.CreateRun(ctx, "run-1", "fusion"); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if _, err := st.AppendEvent(ctx, "run-1", research.PlanningStarted("fusion")); err != nil {
		t.Fatalf("append event: %v", err)
	}

	req, err := http.NewRequest(http.MethodDelete, server.URL+"/v1/research/run-1", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	if len(launcher.canceled) != 1 || launcher.canceled[0] != "run-1" {
		t.Fatalf("workflow not canceled: %v", launcher.canceled)
	}

	run, err := st.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("record must survive as canceled: %v", err)
	}
	if run.Status != store.StatusCanceled {
		t.Fatalf("expected canceled status, got %q", run.Status)
	}

	// A subsequent event read returns an empty sequence.
	resp, err = http.Get(server.URL + "/v1/research/run-1/events")
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	var page eventsResponse
	decodeBody(t, resp, &page)
	if len(page.Events) != 0 {
		t.Fatalf("event log should read empty after cancel, got %d events", len(page.Events))
	}
}

func TestDeleteResearchKeepsRunWhenCancelFails(t *testing.T) {
	launcher := &launcherStub{cancelErr: errors.New("temporal down")}
	server, st := newTestServer(t, launcher)
	ctx := context.Background()

	if _, err := st.CreateRun(ctx, "run-1", "fusion"); err != nil {
		t.Fatalf("create run: %v", err)
	}

	req, err := http.NewRequest(http.MethodDelete, server.URL+"/v1/research/run-1", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}

	if _, err := st.GetRun(ctx, "run-1"); err != nil {
		t.Fatalf("run must survive a failed cancel: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	server, _ := newTestServer(t, &launcherStub{})

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
