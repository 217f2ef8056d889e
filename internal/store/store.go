// Package store persists sessions, the append-only message log and custom
// persona records in SQLite via the pure-Go modernc driver.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/yuechen/ai-roleplay/backend/internal/model/chat"
)

var ErrSessionNotFound = errors.New("session not found")

// Store wraps the SQLite handle. Each write is a single atomic statement, so
// callers never observe partial appends; concurrent turns interleave at row
// granularity only.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// The modernc driver serializes writes per connection; a single
	// connection avoids SQLITE_BUSY under concurrent turns.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			persona_slug TEXT,
			summary TEXT,
			created_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT,
			role TEXT CHECK (role IN ('system','user','assistant')),
			content TEXT,
			created_at INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);`,
		`CREATE TABLE IF NOT EXISTS personas (
			slug TEXT PRIMARY KEY,
			data TEXT,
			created_at INTEGER
		);`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// CreateSession 生成会话并落库；summary 初始为空。
func (s *Store) CreateSession(ctx context.Context, personaSlug string) (chat.Session, error) {
	session := chat.Session{
		ID:          uuid.NewString(),
		PersonaSlug: personaSlug,
		CreatedAt:   time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, persona_slug, summary, created_at) VALUES (?,?,?,?)`,
		session.ID, nullable(personaSlug), nil, session.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return chat.Session{}, fmt.Errorf("insert session: %w", err)
	}
	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *Store) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	var (
		session     chat.Session
		personaSlug sql.NullString
		summary     sql.NullString
		createdAt   int64
	)

	row := s.db.QueryRowContext(ctx,
		`SELECT id, persona_slug, summary, created_at FROM sessions WHERE id = ?`, sessionID)
	if err := row.Scan(&session.ID, &personaSlug, &summary, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chat.Session{}, ErrSessionNotFound
		}
		return chat.Session{}, fmt.Errorf("select session: %w", err)
	}

	session.PersonaSlug = personaSlug.String
	session.Summary = summary.String
	session.CreatedAt = time.UnixMilli(createdAt).UTC()
	return session, nil
}

// AppendMessage durably inserts one message. The insert commits before the
// call returns, which is what lets the chat pipeline log the user turn
// before touching the completion provider.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, role chat.Role, content string) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, created_at) VALUES (?,?,?,?)`,
		sessionID, string(role), content, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// RecentMessages returns the newest limit messages of a session, reordered
// oldest-to-newest so callers can splice them straight into a prompt.
func (s *Store) RecentMessages(ctx context.Context, sessionID string, limit int) ([]chat.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM messages WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	var reversed []chat.Turn
	for rows.Next() {
		var turn chat.Turn
		if err := rows.Scan(&turn.Role, &turn.Content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		reversed = append(reversed, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Retrieval order is newest-first; flip to chronological.
	turns := make([]chat.Turn, len(reversed))
	for i, turn := range reversed {
		turns[len(reversed)-1-i] = turn
	}
	return turns, nil
}

// CountMessages 返回会话内的消息总数。
func (s *Store) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var count int
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM messages WHERE session_id = ?`, sessionID)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// SetSummary overwrites the session's rolling summary. Reserved for context
// compression; nothing populates it yet.
func (s *Store) SetSummary(ctx context.Context, sessionID, summary string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET summary = ? WHERE id = ?`, summary, sessionID)
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// SavePersona upserts a custom persona record keyed by slug, last write wins.
func (s *Store) SavePersona(ctx context.Context, slug, data string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO personas (slug, data, created_at) VALUES (?,?,?)`,
		slug, data, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save persona: %w", err)
	}
	return nil
}

// LoadPersonas returns every custom persona record as slug -> raw JSON.
func (s *Store) LoadPersonas(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slug, data FROM personas`)
	if err != nil {
		return nil, fmt.Errorf("select personas: %w", err)
	}
	defer rows.Close()

	records := make(map[string]string)
	for rows.Next() {
		var slug, data string
		if err := rows.Scan(&slug, &data); err != nil {
			return nil, fmt.Errorf("scan persona: %w", err)
		}
		records[slug] = data
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate personas: %w", err)
	}
	return records, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
