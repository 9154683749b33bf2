package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned for unknown session ids.
var ErrNotFound = errors.New("archive: session not found")

// Session is one capture session.
type Session struct {
	ID        string
	Language  string
	StartedAt time.Time
	EndedAt   time.Time // zero while running
	Error     string
	Fragments int
}

// Fragment is one archived transcript fragment.
type Fragment struct {
	SessionID string
	Seq       uint64
	Text      string
	Language  string
	CreatedAt time.Time
}

// Store persists capture sessions and their fragments in SQLite.
type Store struct {
	db    *sql.DB
	log   zerolog.Logger
	clock func() time.Time
}

// Open creates the database file (and its directory) when missing.
func Open(ctx context.Context, path string, log zerolog.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &Store{db: db, log: log.With().Str("component", "archive").Logger(), clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    language TEXT NOT NULL,
    started_at TEXT NOT NULL,
    ended_at TEXT,
    error TEXT
);
CREATE TABLE IF NOT EXISTS fragments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    text TEXT NOT NULL,
    language TEXT NOT NULL,
    created_at TEXT NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_fragments_session_seq ON fragments(session_id, seq);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) now() string { return s.clock().UTC().Format(time.RFC3339Nano) }

// BeginSession records a new session and returns its id.
func (s *Store) BeginSession(ctx context.Context, language string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, language, started_at) VALUES(?, ?, ?)`,
		id, language, s.now())
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

// EndSession stamps the end time and the terminal error, if any.
func (s *Store) EndSession(ctx context.Context, id string, cause error) error {
	var msg sql.NullString
	if cause != nil {
		msg = sql.NullString{String: cause.Error(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, error = ? WHERE session_id = ?`, s.now(), msg, id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendFragment stores one fragment of a session.
func (s *Store) AppendFragment(ctx context.Context, f Fragment) error {
	created := f.CreatedAt
	if created.IsZero() {
		created = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fragments(session_id, seq, text, language, created_at) VALUES(?, ?, ?, ?, ?)`,
		f.SessionID, int64(f.Seq), f.Text, f.Language, created.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert fragment: %w", err)
	}
	return nil
}

// Sessions lists the most recent sessions first.
func (s *Store) Sessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT s.session_id, s.language, s.started_at, s.ended_at, s.error,
       (SELECT COUNT(*) FROM fragments f WHERE f.session_id = s.session_id)
FROM sessions s ORDER BY s.started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			sess           Session
			started        string
			ended, errText sql.NullString
		)
		if err := rows.Scan(&sess.ID, &sess.Language, &started, &ended, &errText, &sess.Fragments); err != nil {
			return nil, err
		}
		sess.StartedAt = parseTime(started)
		if ended.Valid {
			sess.EndedAt = parseTime(ended.String)
		}
		sess.Error = errText.String
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Fragments returns a session's fragments in capture order.
func (s *Store) Fragments(ctx context.Context, sessionID string) ([]Fragment, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE session_id = ?`, sessionID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, ErrNotFound
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, seq, text, language, created_at FROM fragments WHERE session_id = ? ORDER BY seq ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Fragment
	for rows.Next() {
		var (
			f       Fragment
			seq     int64
			created string
		)
		if err := rows.Scan(&f.SessionID, &seq, &f.Text, &f.Language, &created); err != nil {
			return nil, err
		}
		f.Seq = uint64(seq)
		f.CreatedAt = parseTime(created)
		out = append(out, f)
	}
	return out, rows.Err()
}

func parseTime(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return ts
}
