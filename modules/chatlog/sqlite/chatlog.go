package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/flemzord/tierllm/internal/history"

	_ "modernc.org/sqlite" // SQLite driver registration
)

const timeLayout = "2006-01-02T15:04:05.999Z07:00"

// Recorder persists completed exchanges.
type Recorder interface {
	Record(ctx context.Context, userID, sessionID, message, response string) error
}

// ChatLog stores exchanges in the chats table. It implements
// history.Source and Recorder.
type ChatLog struct {
	db    *sql.DB
	limit int
}

// Open opens (creating if needed) a chat log database at path with WAL
// mode, the default busy timeout and a single connection.
func Open(ctx context.Context, path string) (*ChatLog, error) {
	cfg := Config{Path: path}
	cfg.defaults()
	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &ChatLog{db: db, limit: cfg.LoadLimit}, nil
}

func openDB(ctx context.Context, cfg Config) (*sql.DB, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("chatlog: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("chatlog: open %s: %w", cfg.Path, err)
	}

	// One writer at a time; a single connection keeps the PRAGMAs applied.
	db.SetMaxOpenConns(1)

	if cfg.walEnabled() {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("chatlog: enable WAL: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("chatlog: set busy_timeout: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database.
func (c *ChatLog) Close() error {
	return c.db.Close()
}

// Record appends one exchange.
func (c *ChatLog) Record(ctx context.Context, userID, sessionID, message, response string) error {
	if sessionID == "" {
		return fmt.Errorf("chatlog: record: empty session id")
	}
	_, err := c.db.ExecContext(ctx,
		"INSERT INTO chats (user_id, session_id, message, response) VALUES (?, ?, ?, ?)",
		userID, sessionID, message, response,
	)
	if err != nil {
		return fmt.Errorf("chatlog: record: %w", err)
	}
	return nil
}

// LoadHistory implements history.Source. It returns the most recent
// exchanges of the session, oldest first. An empty userID matches every
// user of the session.
func (c *ChatLog) LoadHistory(ctx context.Context, userID, sessionID string) ([]history.Exchange, error) {
	limit := c.limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT message, response, created_at
		FROM chats
		WHERE session_id = ? AND (? = '' OR user_id = ?)
		ORDER BY id DESC
		LIMIT ?`,
		sessionID, userID, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("chatlog: load history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []history.Exchange
	for rows.Next() {
		var (
			ex      history.Exchange
			created string
		)
		if err := rows.Scan(&ex.UserMessage, &ex.AssistantMessage, &created); err != nil {
			return nil, fmt.Errorf("chatlog: scan: %w", err)
		}
		if ts, err := time.Parse(timeLayout, created); err == nil {
			ex.CreatedAt = ts
		}
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatlog: load history rows: %w", err)
	}

	slices.Reverse(out)
	return out, nil
}

// Purge deletes every exchange of a session and returns how many were removed.
func (c *ChatLog) Purge(ctx context.Context, sessionID string) (int64, error) {
	res, err := c.db.ExecContext(ctx, "DELETE FROM chats WHERE session_id = ?", sessionID)
	if err != nil {
		return 0, fmt.Errorf("chatlog: purge: %w", err)
	}
	return res.RowsAffected()
}

// Sessions lists the known session IDs, most recently active first.
func (c *ChatLog) Sessions(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT session_id FROM chats GROUP BY session_id ORDER BY MAX(id) DESC")
	if err != nil {
		return nil, fmt.Errorf("chatlog: sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("chatlog: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
