// Package sink is a reference collection endpoint for local development and
// integration tests. It implements the server side of the wire contract:
// per-action idempotency via dedup tokens, sticky session attributes, and
// clock-skew correction from sent_at. Production ingestion lives elsewhere.
package sink

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sitepulse/sitepulse-go/internal/wire"
	_ "modernc.org/sqlite" // CGO-free SQLite
)

// skewThreshold is how far sent_at may drift from receipt before stored
// action times are shifted by the difference.
const skewThreshold = 5 * time.Second

type Store struct {
	db *sql.DB
}

func NewStore(databasePath string) (*Store, error) {
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", databasePath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
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
	  id              TEXT PRIMARY KEY,
	  workspace_id    TEXT    NOT NULL,
	  visitor_id      TEXT,
	  user_id         TEXT,
	  attributes_json TEXT,
	  created_at      INTEGER NOT NULL,
	  last_seen_at    INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS actions(
	  token           TEXT PRIMARY KEY,
	  session_id      TEXT    NOT NULL,
	  type            TEXT    NOT NULL CHECK (type IN ('pageview','goal')),
	  path            TEXT    NOT NULL,
	  page_number     INTEGER NOT NULL,
	  name            TEXT,
	  duration_ms     INTEGER,
	  scroll          REAL,
	  occurred_at     INTEGER NOT NULL,
	  value           REAL,
	  currency        TEXT,
	  properties_json TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_actions_session ON actions(session_id);
	CREATE INDEX IF NOT EXISTS idx_actions_time    ON actions(occurred_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ValidatePayload rejects payloads the schema cannot hold.
func (s *Store) ValidatePayload(p wire.Payload) error {
	if p.WorkspaceID == "" {
		return errors.New("workspace_id cannot be empty")
	}
	if p.SessionID == "" {
		return errors.New("session_id cannot be empty")
	}
	if p.SentAt <= 0 {
		return errors.New("sent_at must be positive")
	}
	for _, a := range p.Actions {
		if err := validateAction(a); err != nil {
			return err
		}
	}
	return nil
}

func validateAction(a wire.Action) error {
	if a.Token == "" {
		return errors.New("action token cannot be empty")
	}
	switch a.Type {
	case wire.ActionPageview:
		if a.Path == "" {
			return errors.New("pageview path cannot be empty")
		}
		if a.PageNumber < 1 {
			return fmt.Errorf("pageview page_number must be >= 1, got %d", a.PageNumber)
		}
		if a.DurationMS < 0 {
			return errors.New("pageview duration cannot be negative")
		}
	case wire.ActionGoal:
		if a.Name == "" {
			return errors.New("goal name cannot be empty")
		}
	default:
		return fmt.Errorf("invalid action type: %s", a.Type)
	}
	return nil
}

// InsertPayload stores one payload. Re-delivered actions are collapsed on
// their dedup token; session attributes stick to whatever arrived first;
// when sent_at drifts from receipt beyond the threshold, action times are
// shifted by the skew. It returns how many actions were newly inserted and
// whether the payload was skew-corrected.
func (s *Store) InsertPayload(p wire.Payload, receivedAt time.Time) (inserted int, skewed bool, err error) {
	if err := s.ValidatePayload(p); err != nil {
		return 0, false, fmt.Errorf("invalid payload: %w", err)
	}

	skew := receivedAt.UnixMilli() - p.SentAt
	var adjust int64
	if skew > skewThreshold.Milliseconds() || skew < -skewThreshold.Milliseconds() {
		skewed = true
		adjust = skew
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := upsertSession(tx, p, receivedAt); err != nil {
		_ = tx.Rollback()
		return 0, false, err
	}

	stmt, err := tx.Prepare(`
	INSERT OR IGNORE INTO actions(
	  token, session_id, type, path, page_number, name,
	  duration_ms, scroll, occurred_at, value, currency, properties_json
	) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		_ = tx.Rollback()
		return 0, false, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, a := range p.Actions {
		occurred := a.ExitedAt
		if a.Type == wire.ActionGoal {
			occurred = a.Timestamp
		}
		occurred += adjust

		var properties any
		if a.Properties != nil {
			b, err := json.Marshal(a.Properties)
			if err != nil {
				_ = tx.Rollback()
				return 0, false, fmt.Errorf("failed to marshal action properties: %w", err)
			}
			properties = string(b)
		}

		res, err := stmt.Exec(
			a.Token, p.SessionID, string(a.Type), a.Path, a.PageNumber,
			nullable(a.Name), a.DurationMS, a.Scroll, occurred,
			a.Value, nullable(a.Currency), properties,
		)
		if err != nil {
			_ = tx.Rollback()
			return 0, false, fmt.Errorf("failed to insert action: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inserted, skewed, nil
}

// upsertSession keeps the session row current. Attributes are sticky: once a
// non-null value is stored, retransmissions never overwrite it.
func upsertSession(tx *sql.Tx, p wire.Payload, receivedAt time.Time) error {
	var attributes any
	if p.Attributes != nil {
		b, err := json.Marshal(p.Attributes)
		if err != nil {
			return fmt.Errorf("failed to marshal attributes: %w", err)
		}
		attributes = string(b)
	}
	_, err := tx.Exec(`
	INSERT INTO sessions(id, workspace_id, visitor_id, user_id, attributes_json, created_at, last_seen_at)
	VALUES(?,?,?,?,?,?,?)
	ON CONFLICT(id) DO UPDATE SET
	  visitor_id      = COALESCE(sessions.visitor_id, excluded.visitor_id),
	  user_id         = COALESCE(excluded.user_id, sessions.user_id),
	  attributes_json = COALESCE(sessions.attributes_json, excluded.attributes_json),
	  last_seen_at    = excluded.last_seen_at
	`, p.SessionID, p.WorkspaceID, nullable(p.VisitorID), nullable(p.UserID),
		attributes, p.CreatedAt, receivedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CountActions returns how many actions are stored for a session.
func (s *Store) CountActions(sessionID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM actions WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// SessionAttributes returns the stored attributes JSON for a session.
func (s *Store) SessionAttributes(sessionID string) (string, bool, error) {
	var attrs sql.NullString
	err := s.db.QueryRow(`SELECT attributes_json FROM sessions WHERE id = ?`, sessionID).Scan(&attrs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return attrs.String, attrs.Valid, nil
}
