// Package store implements the durable, append-only event log plus two
// auxiliary tables: the rolling-comment mapping and the evidence index. It
// is backed by embedded SQLite in WAL mode; the database is the only durable
// state the relay keeps between requests.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentrelay/relay/internal/model"
)

// Store manages all SQLite operations for the relay.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and runs migrations.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(30000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// Ping reports whether the underlying database is reachable, for the
// liveness endpoint.
func (s *Store) Ping() error { return s.db.Ping() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		event_id          TEXT PRIMARY KEY,
		repo              TEXT NOT NULL,
		issue_number      INTEGER NOT NULL,
		event_type        TEXT NOT NULL,
		payload_hash      TEXT NOT NULL,
		payload_json      TEXT NOT NULL,
		effective_verdict TEXT NOT NULL DEFAULT '',
		created_at        TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_issue_type ON events(repo, issue_number, event_type, created_at);
	CREATE INDEX IF NOT EXISTS idx_events_issue ON events(repo, issue_number, created_at);

	CREATE TABLE IF NOT EXISTS rolling_comments (
		repo         TEXT NOT NULL,
		issue_number INTEGER NOT NULL,
		comment_id   INTEGER NOT NULL,
		updated_at   TEXT NOT NULL,
		PRIMARY KEY (repo, issue_number)
	);

	CREATE TABLE IF NOT EXISTS evidence (
		id            TEXT PRIMARY KEY,
		repo          TEXT NOT NULL,
		issue_number  INTEGER NOT NULL,
		event_id      TEXT,
		filename      TEXT NOT NULL,
		content_type  TEXT NOT NULL,
		size_bytes    INTEGER NOT NULL,
		object_key    TEXT NOT NULL,
		created_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_evidence_issue ON evidence(repo, issue_number);

	-- Forward-compatible extension. The core pipeline never writes to this
	-- table.
	CREATE TABLE IF NOT EXISTS approval_queue (
		id           TEXT PRIMARY KEY,
		repo         TEXT NOT NULL,
		issue_number INTEGER NOT NULL,
		event_id     TEXT,
		status       TEXT NOT NULL,
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ErrConflict is returned by Insert when event_id is reused with a payload
// whose hash differs from the stored one.
type ErrConflict struct {
	Existing *model.StoredEvent
	NewHash  string
}

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("event_id %s already stored with a different payload (existing hash %s, new hash %s)",
		e.Existing.EventID, e.Existing.PayloadHash, e.NewHash)
}

// CheckIdempotency is the read-only half of the insertion protocol: it
// looks up ev.EventID and reports whether the
// caller should short-circuit before doing any further work (minting a
// forge token, checking provenance). Handlers call this first so that an
// idempotent replay or a conflicting resubmission never triggers an
// upstream forge call.
//
// Returns (existing, true, nil) on an idempotent replay (same hash);
// (nil, false, *ErrConflict) when the stored hash differs; (nil, false, nil)
// when event_id is unseen and the caller should proceed to insert.
func (s *Store) CheckIdempotency(ev *model.Event) (*model.StoredEvent, bool, error) {
	canonical, err := ev.Canonicalize()
	if err != nil {
		return nil, false, err
	}
	hash := model.PayloadHash(canonical)

	existing, err := s.GetByEventID(ev.EventID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, nil
	}
	if existing.PayloadHash == hash {
		return existing, true, nil
	}
	return nil, false, &ErrConflict{Existing: existing, NewHash: hash}
}

// Insert re-runs the
// idempotency check (to resolve the race against a concurrent insert of the
// same event_id that happened between the caller's CheckIdempotency call and
// now) and, only if the event is still unseen, writes the row.
//
// effectiveVerdict is the post-provenance-downgrade verdict; it is
// stored in its own column, separate from PayloadHash/PayloadJSON, which
// always reflect ev verbatim as validated: hash determinism must hold
// independent of any downgrade outcome.
//
// The PRIMARY KEY on events.event_id makes only one concurrent INSERT win;
// the loser observes the unique-constraint failure, re-reads the row the
// winner just committed, and returns exactly as if its own lookup had found
// it first.
func (s *Store) Insert(ev *model.Event, effectiveVerdict model.Verdict, now time.Time) (*model.StoredEvent, bool, error) {
	existing, idempotent, err := s.CheckIdempotency(ev)
	if err != nil {
		return nil, false, err
	}
	if idempotent {
		return existing, true, nil
	}

	canonical, err := ev.Canonicalize()
	if err != nil {
		return nil, false, err
	}
	hash := model.PayloadHash(canonical)

	row := &model.StoredEvent{
		Event:            *ev,
		CreatedAt:        now.UTC(),
		PayloadHash:      hash,
		PayloadJSON:      canonical,
		EffectiveVerdict: effectiveVerdict,
	}

	err = retryOnContention(func() error {
		_, execErr := s.db.Exec(
			`INSERT INTO events (event_id, repo, issue_number, event_type, payload_hash, payload_json, effective_verdict, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			row.EventID, row.Repo, row.IssueNumber, row.EventType, row.PayloadHash, string(row.PayloadJSON), string(row.EffectiveVerdict),
			row.CreatedAt.Format(time.RFC3339Nano),
		)
		return execErr
	})
	if err != nil {
		// Lost the race: another writer inserted the same event_id first.
		// Re-read and resolve exactly as the protocol's lookup step would.
		if again, getErr := s.GetByEventID(ev.EventID); getErr == nil && again != nil {
			if again.PayloadHash == hash {
				return again, true, nil
			}
			return nil, false, &ErrConflict{Existing: again, NewHash: hash}
		}
		return nil, false, fmt.Errorf("insert event %s: %w", ev.EventID, err)
	}

	return row, false, nil
}

// GetByEventID looks up a stored event by its caller-supplied identifier.
// Returns (nil, nil) when not found.
func (s *Store) GetByEventID(eventID string) (*model.StoredEvent, error) {
	row := s.db.QueryRow(
		`SELECT event_id, repo, issue_number, event_type, payload_hash, payload_json, effective_verdict, created_at
		 FROM events WHERE event_id = ?`, eventID)
	return scanStoredEvent(row)
}

// LatestByType returns the most recent event for (repo, issue, event_type),
// or (nil, nil) if none exists.
func (s *Store) LatestByType(repo string, issue int, eventType string) (*model.StoredEvent, error) {
	row := s.db.QueryRow(
		`SELECT event_id, repo, issue_number, event_type, payload_hash, payload_json, effective_verdict, created_at
		 FROM events WHERE repo = ? AND issue_number = ? AND event_type = ?
		 ORDER BY created_at DESC LIMIT 1`, repo, issue, eventType)
	return scanStoredEvent(row)
}

// RecentActivity returns up to 5 most recent events for (repo, issue),
// regardless of event_type.
func (s *Store) RecentActivity(repo string, issue int) ([]*model.StoredEvent, error) {
	rows, err := s.db.Query(
		`SELECT event_id, repo, issue_number, event_type, payload_hash, payload_json, effective_verdict, created_at
		 FROM events WHERE repo = ? AND issue_number = ?
		 ORDER BY created_at DESC LIMIT 5`, repo, issue)
	if err != nil {
		return nil, fmt.Errorf("recent activity query: %w", err)
	}
	defer rows.Close()

	var out []*model.StoredEvent
	for rows.Next() {
		ev, err := scanStoredEventRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStoredEvent(row *sql.Row) (*model.StoredEvent, error) {
	return scan(row)
}

func scanStoredEventRows(rows *sql.Rows) (*model.StoredEvent, error) {
	return scan(rows)
}

func scan(r rowScanner) (*model.StoredEvent, error) {
	var (
		payloadJSON      string
		effectiveVerdict string
		createdAt        string
		se               model.StoredEvent
	)
	err := r.Scan(&se.EventID, &se.Repo, &se.IssueNumber, &se.EventType, &se.PayloadHash, &payloadJSON, &effectiveVerdict, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan event row: %w", err)
	}
	se.PayloadJSON = []byte(payloadJSON)
	if err := json.Unmarshal(se.PayloadJSON, &se.Event); err != nil {
		return nil, fmt.Errorf("unmarshal stored payload for %s: %w", se.EventID, err)
	}
	se.EffectiveVerdict = model.Verdict(effectiveVerdict)
	se.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at for %s: %w", se.EventID, err)
	}
	return &se, nil
}

// CommentMapping is the rolling-comment mapping row: (repo, issue) -> the
// last known forge comment id carrying the status marker.
type CommentMapping struct {
	Repo        string
	IssueNumber int
	CommentID   int64
	UpdatedAt   time.Time
}

// GetCommentMapping returns the mapping row for (repo, issue), or (nil, nil)
// if no mapping has ever been recorded.
func (s *Store) GetCommentMapping(repo string, issue int) (*CommentMapping, error) {
	var (
		m         CommentMapping
		updatedAt string
	)
	err := s.db.QueryRow(
		`SELECT repo, issue_number, comment_id, updated_at FROM rolling_comments WHERE repo = ? AND issue_number = ?`,
		repo, issue,
	).Scan(&m.Repo, &m.IssueNumber, &m.CommentID, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get comment mapping: %w", err)
	}
	m.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse comment mapping updated_at: %w", err)
	}
	return &m, nil
}

// UpsertCommentMapping creates or updates the mapping row for (repo, issue).
// At most one row exists per issue.
func (s *Store) UpsertCommentMapping(repo string, issue int, commentID int64, now time.Time) error {
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO rolling_comments (repo, issue_number, comment_id, updated_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(repo, issue_number) DO UPDATE SET comment_id = excluded.comment_id, updated_at = excluded.updated_at`,
			repo, issue, commentID, now.UTC().Format(time.RFC3339Nano),
		)
		return err
	})
}

// EvidenceAsset is a row in the evidence index.
type EvidenceAsset struct {
	ID          string
	Repo        string
	IssueNumber int
	EventID     string
	Filename    string
	ContentType string
	SizeBytes   int64
	ObjectKey   string
	CreatedAt   time.Time
}

// InsertEvidence records a newly uploaded evidence asset. Rows are immutable.
func (s *Store) InsertEvidence(a *EvidenceAsset) error {
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO evidence (id, repo, issue_number, event_id, filename, content_type, size_bytes, object_key, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.Repo, a.IssueNumber, nullableString(a.EventID), a.Filename, a.ContentType, a.SizeBytes, a.ObjectKey,
			a.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		return err
	})
}

// GetEvidence looks up an evidence asset by id. Returns (nil, nil) if absent.
func (s *Store) GetEvidence(id string) (*EvidenceAsset, error) {
	var (
		a         EvidenceAsset
		eventID   sql.NullString
		createdAt string
	)
	err := s.db.QueryRow(
		`SELECT id, repo, issue_number, event_id, filename, content_type, size_bytes, object_key, created_at
		 FROM evidence WHERE id = ?`, id,
	).Scan(&a.ID, &a.Repo, &a.IssueNumber, &eventID, &a.Filename, &a.ContentType, &a.SizeBytes, &a.ObjectKey, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get evidence %s: %w", id, err)
	}
	a.EventID = eventID.String
	a.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse evidence created_at: %w", err)
	}
	return &a, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
