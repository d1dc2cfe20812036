package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"deepresearch/backend/internal/research"
)

var ErrNotFound = errors.New("research run not found")

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// Run is the durable record of one research request.
type Run struct {
	ID            string   `json:"id"`
	Topic         string   `json:"topic"`
	Status        string   `json:"status"`
	Title         string   `json:"title,omitempty"`
	Report        string   `json:"report,omitempty"`
	CoverImageURL string   `json:"coverImageUrl,omitempty"`
	Sources       []Source `json:"sources,omitempty"`
	CreatedAt     string   `json:"createdAt"`
	UpdatedAt     string   `json:"updatedAt"`
}

// Source is one consulted page, kept with the finished run.
type Source struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// StoredEvent pairs a progress event with its log position. IDs are
// strictly increasing in insertion order, which breaks timestamp ties.
type StoredEvent struct {
	ID int64 `json:"id"`
	research.Event
}

// Store keeps runs, their accumulated state and their event logs in
// sqlite. Every row carries an expiry; expired rows are invisible to
// reads and reaped by PurgeExpired.
type Store struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

func NewStore(db *sql.DB, ttl time.Duration) Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return Store{db: db, ttl: ttl, now: time.Now}
}

const schema = `
CREATE TABLE IF NOT EXISTS research_runs (
  id TEXT PRIMARY KEY,
  topic TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  title TEXT,
  report TEXT,
  cover_image_url TEXT,
  sources TEXT,
  created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  expires_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS research_state (
  run_id TEXT PRIMARY KEY,
  payload TEXT NOT NULL,
  updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  expires_at TEXT NOT NULL,
  FOREIGN KEY (run_id) REFERENCES research_runs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS research_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  timestamp_ms INTEGER NOT NULL,
  expires_at TEXT NOT NULL,
  FOREIGN KEY (run_id) REFERENCES research_runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_research_events_run ON research_events(run_id, id);
`

func (s Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s Store) CreateRun(ctx context.Context, id, topic string) (Run, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Run{}, errors.New("topic is required")
	}

	query := `
INSERT INTO research_runs (id, topic, status, expires_at)
VALUES (?, ?, ?, ?)
RETURNING id, topic, status, COALESCE(title, ''), COALESCE(report, ''), COALESCE(cover_image_url, ''), COALESCE(sources, ''), created_at, updated_at;
`

	out, err := scanRun(s.db.QueryRowContext(ctx, query, id, topic, StatusPending, s.expiry()))
	if err != nil {
		return Run{}, fmt.Errorf("create run: %w", err)
	}
	return out, nil
}

func (s Store) GetRun(ctx context.Context, id string) (Run, error) {
	query := `
SELECT id, topic, status, COALESCE(title, ''), COALESCE(report, ''), COALESCE(cover_image_url, ''), COALESCE(sources, ''), created_at, updated_at
FROM research_runs
WHERE id = ? AND expires_at > ?
LIMIT 1;
`

	out, err := scanRun(s.db.QueryRowContext(ctx, query, id, s.nowString()))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	return out, nil
}

func scanRun(row *sql.Row) (Run, error) {
	var out Run
	var sources string
	err := row.Scan(
		&out.ID,
		&out.Topic,
		&out.Status,
		&out.Title,
		&out.Report,
		&out.CoverImageURL,
		&sources,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	if err != nil {
		return Run{}, err
	}
	if sources != "" {
		if err := json.Unmarshal([]byte(sources), &out.Sources); err != nil {
			return Run{}, fmt.Errorf("unmarshal run sources: %w", err)
		}
	}
	return out, nil
}

func (s Store) SetRunStatus(ctx context.Context, id, status string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE research_runs SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;`,
		status, id)
	if err != nil {
		return fmt.Errorf("set run status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set run status: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteRun records the finished artifacts and flips the run to
// completed in one statement.
func (s Store) CompleteRun(ctx context.Context, id, title, report, coverImageURL string, sources []Source) error {
	var sourcesJSON string
	if len(sources) > 0 {
		encoded, err := json.Marshal(sources)
		if err != nil {
			return fmt.Errorf("marshal run sources: %w", err)
		}
		sourcesJSON = string(encoded)
	}

	result, err := s.db.ExecContext(ctx, `
UPDATE research_runs
SET status = ?, title = ?, report = ?, cover_image_url = ?, sources = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ?;
`, StatusCompleted, title, report, coverImageURL, sourcesJSON, id)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CancelRun marks the run canceled and drops its state and event log.
// The run row stays so the read API reports the cancellation instead
// of a missing run.
func (s Store) CancelRun(ctx context.Context, id string) error {
	if err := s.SetRunStatus(ctx, id, StatusCanceled); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM research_events WHERE run_id = ?;`, id); err != nil {
		return fmt.Errorf("cancel run events: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM research_state WHERE run_id = ?;`, id); err != nil {
		return fmt.Errorf("cancel run state: %w", err)
	}
	return nil
}

// DeleteRun removes the run entirely, with its state and event log.
// Used to clean up runs whose workflow never started, and by the
// expiry sweep.
func (s Store) DeleteRun(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM research_events WHERE run_id = ?;`, id); err != nil {
		return fmt.Errorf("delete run events: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM research_state WHERE run_id = ?;`, id); err != nil {
		return fmt.Errorf("delete run state: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM research_runs WHERE id = ?;`, id); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

func (s Store) SaveState(ctx context.Context, runID string, state research.State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	query := `
INSERT INTO research_state (run_id, payload, expires_at)
VALUES (?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
  payload = excluded.payload,
  updated_at = CURRENT_TIMESTAMP,
  expires_at = excluded.expires_at;
`
	if _, err := s.db.ExecContext(ctx, query, runID, string(payload), s.expiry()); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (s Store) LoadState(ctx context.Context, runID string) (research.State, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM research_state WHERE run_id = ? AND expires_at > ? LIMIT 1;`,
		runID, s.nowString()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return research.State{}, ErrNotFound
	}
	if err != nil {
		return research.State{}, fmt.Errorf("load state: %w", err)
	}

	var state research.State
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return research.State{}, fmt.Errorf("unmarshal state: %w", err)
	}
	return state, nil
}

// AppendEvent stamps the event if unstamped and appends it to the log,
// returning its log position.
func (s Store) AppendEvent(ctx context.Context, runID string, event research.Event) (int64, error) {
	if event.Timestamp == 0 {
		event.Timestamp = s.now().UnixMilli()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("marshal event: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
INSERT INTO research_events (run_id, payload, timestamp_ms, expires_at)
VALUES (?, ?, ?, ?)
RETURNING id;
`, runID, string(payload), event.Timestamp, s.expiry()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	return id, nil
}

// ListEvents returns events after the given log position in insertion
// order. afterID = 0 replays the log from the start.
func (s Store) ListEvents(ctx context.Context, runID string, afterID int64, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, payload
FROM research_events
WHERE run_id = ? AND id > ? AND expires_at > ?
ORDER BY id ASC
LIMIT ?;
`, runID, afterID, s.nowString(), limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var (
			id      int64
			payload string
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var event research.Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		out = append(out, StoredEvent{ID: id, Event: event})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}

// PurgeExpired reaps rows whose expiry has passed. Returns the number
// of runs removed.
func (s Store) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.nowString()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM research_events WHERE expires_at <= ?;`, now); err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM research_state WHERE expires_at <= ?;`, now); err != nil {
		return 0, fmt.Errorf("purge state: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM research_runs WHERE expires_at <= ?;`, now)
	if err != nil {
		return 0, fmt.Errorf("purge runs: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge runs: %w", err)
	}
	return removed, nil
}

func (s Store) expiry() string {
	return s.now().Add(s.ttl).UTC().Format(time.RFC3339)
}

func (s Store) nowString() string {
	return s.now().UTC().Format(time.RFC3339)
}
