// internal/collector/store.go
package collector

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/searchlab/searchtrace/internal/types"
	_ "modernc.org/sqlite" // CGO-free SQLite
)

// ErrInvalidUpload wraps validation failures so the server can map them to
// a 400 instead of a 500.
var ErrInvalidUpload = errors.New("invalid upload")

// Store persists acknowledged uploads. The upload id is the idempotency
// key: re-delivered batches (at-least-once upstream) insert no new rows.
type Store struct {
	db *sql.DB
}

func Open(databasePath string) (*Store, error) {
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", databasePath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS sessions(
	  id             INTEGER PRIMARY KEY,
	  session_id     TEXT NOT NULL UNIQUE,
	  participant_id TEXT NOT NULL,
	  user_agent     TEXT,
	  timezone       TEXT,
	  started_at     INTEGER,
	  created_at     INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS uploads(
	  id               INTEGER PRIMARY KEY,
	  upload_id        TEXT NOT NULL UNIQUE,
	  session_id       TEXT NOT NULL,
	  upload_timestamp INTEGER,
	  event_count      INTEGER NOT NULL,
	  received_at      INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS events(
	  id         INTEGER PRIMARY KEY,
	  upload_id  TEXT    NOT NULL,
	  session_id TEXT    NOT NULL,
	  type       TEXT    NOT NULL,
	  ts         INTEGER NOT NULL,
	  url        TEXT,
	  title      TEXT,
	  tab_id     INTEGER,
	  event_json TEXT    NOT NULL CHECK (json_valid(event_json))
	);
	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
	CREATE INDEX IF NOT EXISTS idx_events_type    ON events(type);
	CREATE INDEX IF NOT EXISTS idx_events_ts      ON events(ts);
	`)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ValidateUpload mirrors what the collector will accept: identity fields
// present, at least one event, every event carrying a type and a positive
// timestamp.
func ValidateUpload(req *types.UploadRequest) error {
	if req.SessionID == "" {
		return fmt.Errorf("invalid sessionId")
	}
	if req.ParticipantID == "" {
		return fmt.Errorf("invalid participantId")
	}
	if len(req.Events) == 0 {
		return fmt.Errorf("no events provided")
	}
	for i, event := range req.Events {
		if event.Type == "" {
			return fmt.Errorf("event %d missing type", i)
		}
		if event.Timestamp <= 0 {
			return fmt.Errorf("event %d missing timestamp", i)
		}
	}
	return nil
}

// InsertUpload stores one upload batch. Returns duplicate=true without
// touching any rows when the upload id was seen before.
func (s *Store) InsertUpload(req *types.UploadRequest) (duplicate bool, err error) {
	if err := ValidateUpload(req); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidUpload, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UnixMilli()
	res, err := tx.Exec(
		`INSERT OR IGNORE INTO uploads(upload_id, session_id, upload_timestamp, event_count, received_at) VALUES(?,?,?,?,?)`,
		string(req.UploadID), string(req.SessionID), req.UploadTimestamp, len(req.Events), now,
	)
	if err != nil {
		return false, fmt.Errorf("insert upload: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		if err = tx.Commit(); err != nil {
			return false, fmt.Errorf("commit transaction: %w", err)
		}
		return true, nil
	}

	if err = s.upsertSession(tx, req, now); err != nil {
		return false, err
	}

	stmt, err := tx.Prepare(
		`INSERT INTO events(upload_id, session_id, type, ts, url, title, tab_id, event_json) VALUES(?,?,?,?,?,?,?,json(?))`,
	)
	if err != nil {
		return false, fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for i := range req.Events {
		event := &req.Events[i]
		eventJSON, merr := json.Marshal(event)
		if merr != nil {
			err = fmt.Errorf("marshal event: %w", merr)
			return false, err
		}
		if _, err = stmt.Exec(
			string(req.UploadID), string(req.SessionID), event.Type, event.Timestamp,
			event.URL, event.Title, event.TabID, string(eventJSON),
		); err != nil {
			return false, fmt.Errorf("insert event: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}
	return false, nil
}

// upsertSession creates the session row on first sight, pulling user agent
// and timezone from the session_start event when the batch carries one.
func (s *Store) upsertSession(tx *sql.Tx, req *types.UploadRequest, now int64) error {
	var userAgent, timezone string
	var startedAt int64
	for i := range req.Events {
		if req.Events[i].Type != types.KindSessionStart {
			continue
		}
		startedAt = req.Events[i].Timestamp
		if ua, ok := req.Events[i].Payload["userAgent"].(string); ok {
			userAgent = ua
		}
		if tz, ok := req.Events[i].Payload["timezone"].(string); ok {
			timezone = tz
		}
		break
	}
	_, err := tx.Exec(
		`INSERT OR IGNORE INTO sessions(session_id, participant_id, user_agent, timezone, started_at, created_at) VALUES(?,?,?,?,?,?)`,
		string(req.SessionID), req.ParticipantID, userAgent, timezone, startedAt, now,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// SessionSummary is one row of the collector's session listing.
type SessionSummary struct {
	SessionID     string `json:"session_id"`
	ParticipantID string `json:"participant_id"`
	EventCount    int64  `json:"event_count"`
	UploadCount   int64  `json:"upload_count"`
}

// Sessions lists stored sessions with event and upload counts.
func (s *Store) Sessions() ([]SessionSummary, error) {
	rows, err := s.db.Query(`
	SELECT s.session_id, s.participant_id,
	       (SELECT COUNT(*) FROM events e WHERE e.session_id = s.session_id),
	       (SELECT COUNT(*) FROM uploads u WHERE u.session_id = s.session_id)
	FROM sessions s ORDER BY s.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var summary SessionSummary
		if err := rows.Scan(&summary.SessionID, &summary.ParticipantID, &summary.EventCount, &summary.UploadCount); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}

// EventCount returns the number of stored events for a session.
func (s *Store) EventCount(sessionID types.SessionID) (int64, error) {
	var count int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM events WHERE session_id = ?`, string(sessionID)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}
