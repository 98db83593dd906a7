// Package store is the SQLite-backed persistence collaborator for the
// participation pipeline. The hub treats it as write-behind: ingestion
// acks and broadcasts never wait on it.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/classpulse/classpulse/internal/session"
)

// ErrClassHasActiveSession is returned by StartSession when the class
// already has an active session. At most one active session per class.
var ErrClassHasActiveSession = fmt.Errorf("class already has an active session")

// ErrSessionNotFound is returned when a session id is unknown.
var ErrSessionNotFound = fmt.Errorf("session not found")

type Store struct {
	sql *sql.DB
}

func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}
	s := &Store{sql: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.sql.Close()
}

func (s *Store) migrate() error {
	_, err := s.sql.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id           TEXT PRIMARY KEY,
			class_id     TEXT NOT NULL,
			class_name   TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL DEFAULT 'scheduled',
			meeting_link TEXT NOT NULL DEFAULT '',
			started_at   INTEGER NOT NULL DEFAULT 0,
			ended_at     INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("create sessions: %w", err)
	}

	_, err = s.sql.Exec(`
		CREATE TABLE IF NOT EXISTS participation_events (
			id           TEXT PRIMARY KEY,
			session_id   TEXT NOT NULL REFERENCES sessions(id),
			student_id   TEXT,
			display_name TEXT NOT NULL DEFAULT '',
			type         TEXT NOT NULL,
			value        TEXT NOT NULL DEFAULT '',
			occurred_at  INTEGER NOT NULL,
			dedup_key    TEXT NOT NULL,
			seq          INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("create participation_events: %w", err)
	}

	// The at-least-once delivery contract relies on this index: a
	// redelivered event collapses onto the first row.
	_, err = s.sql.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_events_dedup
		ON participation_events(session_id, dedup_key)
	`)
	if err != nil {
		return fmt.Errorf("create dedup index: %w", err)
	}

	_, err = s.sql.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_one_active_per_class
		ON sessions(class_id) WHERE status = 'active'
	`)
	if err != nil {
		return fmt.Errorf("create active index: %w", err)
	}
	return nil
}

// StartSession creates and activates a session for the class. Fails
// with ErrClassHasActiveSession when one is already active.
func (s *Store) StartSession(classID, className, meetingLink string) (*session.Session, error) {
	var active int
	err := s.sql.QueryRow(
		`SELECT COUNT(*) FROM sessions WHERE class_id = ? AND status = 'active'`, classID,
	).Scan(&active)
	if err != nil {
		return nil, fmt.Errorf("check active: %w", err)
	}
	if active > 0 {
		return nil, ErrClassHasActiveSession
	}

	now := time.Now().UTC()
	sess := &session.Session{
		ID:          uuid.NewString(),
		ClassID:     classID,
		ClassName:   className,
		Status:      session.Active,
		MeetingLink: meetingLink,
		StartedAt:   now,
	}
	_, err = s.sql.Exec(
		`INSERT INTO sessions (id, class_id, class_name, status, meeting_link, started_at)
		 VALUES (?, ?, ?, 'active', ?, ?)`,
		sess.ID, classID, className, meetingLink, now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// EndSession marks the session ended. Ending an already-ended session
// is a no-op; unknown ids return ErrSessionNotFound.
func (s *Store) EndSession(sessionID string, at time.Time) error {
	res, err := s.sql.Exec(
		`UPDATE sessions SET status = 'ended', ended_at = ? WHERE id = ? AND status = 'active'`,
		at.UTC().Unix(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := s.sql.QueryRow(`SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrSessionNotFound
		}
	}
	return nil
}

// GetSession loads a session by id.
func (s *Store) GetSession(sessionID string) (*session.Session, error) {
	row := s.sql.QueryRow(
		`SELECT id, class_id, class_name, status, meeting_link, started_at, ended_at
		 FROM sessions WHERE id = ?`, sessionID,
	)
	var (
		sess               session.Session
		status             string
		startedAt, endedAt int64
	)
	err := row.Scan(&sess.ID, &sess.ClassID, &sess.ClassName, &status, &sess.MeetingLink, &startedAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if st, ok := statusFromDB(status); ok {
		sess.Status = st
	}
	sess.StartedAt = time.Unix(startedAt, 0).UTC()
	if endedAt > 0 {
		t := time.Unix(endedAt, 0).UTC()
		sess.EndedAt = &t
	}
	return &sess, nil
}

func statusFromDB(s string) (session.Status, bool) {
	switch s {
	case "scheduled":
		return session.Scheduled, true
	case "active":
		return session.Active, true
	case "ended":
		return session.Ended, true
	}
	return session.Scheduled, false
}

// AppendEvent persists an accepted event. Idempotent on the
// (session_id, dedup_key) pair: a duplicate insert is acknowledged
// without creating a second row. Returns true when a new row was
// written.
func (s *Store) AppendEvent(ev *session.ParticipationEvent) (bool, error) {
	var studentID any
	if ev.StudentID != "" {
		studentID = ev.StudentID
	}
	res, err := s.sql.Exec(
		`INSERT INTO participation_events
		   (id, session_id, student_id, display_name, type, value, occurred_at, dedup_key, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, dedup_key) DO NOTHING`,
		ev.ID, ev.SessionID, studentID, ev.DisplayName, ev.Type.String(), ev.Value,
		ev.OccurredAt.UTC().UnixMilli(), ev.DedupKey, ev.Seq,
	)
	if err != nil {
		return false, fmt.Errorf("append event: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// EventCount returns the number of persisted events for a session.
func (s *Store) EventCount(sessionID string) (int, error) {
	var n int
	err := s.sql.QueryRow(
		`SELECT COUNT(*) FROM participation_events WHERE session_id = ?`, sessionID,
	).Scan(&n)
	return n, err
}

// ActiveSessions rebuilds the live registry projection from persisted
// state. Used on hub restart; the in-memory registry is authoritative
// afterwards.
func (s *Store) ActiveSessions() ([]session.RegistryEntry, error) {
	rows, err := s.sql.Query(`
		SELECT s.id, s.class_name, s.started_at,
		       COUNT(e.id),
		       COUNT(DISTINCT COALESCE(e.student_id, e.display_name)),
		       COALESCE(MAX(e.occurred_at), 0)
		FROM sessions s
		LEFT JOIN participation_events e ON e.session_id = s.id
		WHERE s.status = 'active'
		GROUP BY s.id
		ORDER BY s.id
	`)
	if err != nil {
		return nil, fmt.Errorf("query active sessions: %w", err)
	}
	defer rows.Close()

	var entries []session.RegistryEntry
	for rows.Next() {
		var (
			e                    session.RegistryEntry
			startedAt, lastAtMil int64
		)
		if err := rows.Scan(&e.SessionID, &e.ClassName, &startedAt, &e.EventCount, &e.ParticipantCount, &lastAtMil); err != nil {
			return nil, err
		}
		e.StartedAt = time.Unix(startedAt, 0).UTC()
		if lastAtMil > 0 {
			e.LastActivityAt = time.UnixMilli(lastAtMil).UTC()
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MaxSeq returns the highest sequence number persisted for a session.
// The hub seeds its per-session counter from this on restart so that
// numbering keeps rising across process restarts.
func (s *Store) MaxSeq(sessionID string) (uint64, error) {
	var max uint64
	err := s.sql.QueryRow(
		`SELECT COALESCE(MAX(seq), 0) FROM participation_events WHERE session_id = ?`, sessionID,
	).Scan(&max)
	return max, err
}
