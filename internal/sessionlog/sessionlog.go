// Package sessionlog persists a row per completed streaming session to a
// SQLite database, so diagnosing a flaky satellite link doesn't depend
// on whoever was tailing the log at the time. Plain database/sql with a
// CREATE TABLE IF NOT EXISTS bootstrap — no ORM.
package sessionlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cbx-nz/sanchez/internal/sanchezerr"
)

// Session is one completed (or aborted) streaming session's summary.
type Session struct {
	ID              string
	Transport       string
	Satellite       bool
	StartedAt       time.Time
	EndedAt         time.Time
	FramesSent      int
	FramesLost      int
	FramesRecovered int
	BytesSent       uint64
}

// Store wraps a SQLite database holding the sessions table. A nil
// *Store is valid and silently disables persistence — the stream server
// accepts one. The stream client does not record sessions.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	ended_at TEXT,
	transport TEXT NOT NULL,
	frames_sent INTEGER NOT NULL DEFAULT 0,
	frames_lost INTEGER NOT NULL DEFAULT 0,
	frames_recovered INTEGER NOT NULL DEFAULT 0,
	bytes_sent INTEGER NOT NULL DEFAULT 0,
	satellite INTEGER NOT NULL DEFAULT 0
)`

// Open creates (if needed) and opens the sessions database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, sanchezerr.Wrap(sanchezerr.ClassIO, "open sessionlog db", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, sanchezerr.Wrap(sanchezerr.ClassIO, "create sessions table", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordSession upserts one session's summary row.
func (s *Store) RecordSession(ctx context.Context, sess Session) error {
	if s == nil {
		return nil
	}
	satellite := 0
	if sess.Satellite {
		satellite = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, started_at, ended_at, transport, frames_sent, frames_lost, frames_recovered, bytes_sent, satellite)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ended_at = excluded.ended_at,
			frames_sent = excluded.frames_sent,
			frames_lost = excluded.frames_lost,
			frames_recovered = excluded.frames_recovered,
			bytes_sent = excluded.bytes_sent`,
		sess.ID, sess.StartedAt.UTC().Format(time.RFC3339Nano), sess.EndedAt.UTC().Format(time.RFC3339Nano),
		sess.Transport, sess.FramesSent, sess.FramesLost, sess.FramesRecovered, sess.BytesSent, satellite,
	)
	if err != nil {
		return sanchezerr.Wrap(sanchezerr.ClassIO, "record session", err)
	}
	return nil
}

// Recent returns up to limit most-recently-started sessions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Session, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, ended_at, transport, frames_sent, frames_lost, frames_recovered, bytes_sent, satellite
		FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, sanchezerr.Wrap(sanchezerr.ClassIO, "query recent sessions", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var started, ended string
		var satellite int
		if err := rows.Scan(&sess.ID, &started, &ended, &sess.Transport,
			&sess.FramesSent, &sess.FramesLost, &sess.FramesRecovered, &sess.BytesSent, &satellite); err != nil {
			return nil, sanchezerr.Wrap(sanchezerr.ClassIO, "scan session row", err)
		}
		sess.Satellite = satellite != 0
		if t, err := time.Parse(time.RFC3339Nano, started); err == nil {
			sess.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, ended); err == nil {
			sess.EndedAt = t
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, sanchezerr.Wrap(sanchezerr.ClassIO, fmt.Sprintf("iterate session rows (got %d)", len(out)), err)
	}
	return out, nil
}
