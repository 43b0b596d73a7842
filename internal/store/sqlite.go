package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/vidsync-labs/internal/domain"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db            *sql.DB
	interactionMu sync.Mutex // serializes snapshot writes to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	return newSQLite(dbPath)
}

func newSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets the persister write while API reads run.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reflections (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		video_id TEXT NOT NULL,
		course_id TEXT,
		video_timestamp REAL NOT NULL,
		type TEXT NOT NULL,
		text_content TEXT,
		loom_link TEXT,
		media_url TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reflections_user ON reflections(user_id, created_at);

	CREATE TABLE IF NOT EXISTS interactions (
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		video_id TEXT,
		context_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_interactions_updated ON interactions(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var lastSeen, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username, user.LastSeenAt.Unix(),
		user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}
	return nil
}

// SaveReflection inserts a reflection, retrying on lock contention.
func (s *SQLiteStore) SaveReflection(ctx context.Context, r *domain.Reflection) error {
	query := `
	INSERT INTO reflections (
		id, user_id, session_id, video_id, course_id, video_timestamp,
		type, text_content, loom_link, media_url, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	return withBusyRetry(ctx, "save reflection", func() error {
		_, err := s.db.ExecContext(ctx, query,
			r.ID, r.UserID, r.SessionID, r.VideoID, nullString(r.CourseID), r.VideoTimestamp,
			r.Type, nullString(r.TextContent), nullString(r.LoomLink), nullString(r.MediaURL),
			r.CreatedAt.Unix(),
		)
		return err
	})
}

const reflectionColumns = `id, user_id, session_id, video_id, course_id, video_timestamp,
	type, text_content, loom_link, media_url, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReflection(row rowScanner) (*domain.Reflection, error) {
	var r domain.Reflection
	var courseID, text, loom, media sql.NullString
	var createdAt int64
	if err := row.Scan(
		&r.ID, &r.UserID, &r.SessionID, &r.VideoID, &courseID, &r.VideoTimestamp,
		&r.Type, &text, &loom, &media, &createdAt,
	); err != nil {
		return nil, err
	}
	r.CourseID = courseID.String
	r.TextContent = text.String
	r.LoomLink = loom.String
	r.MediaURL = media.String
	r.CreatedAt = time.Unix(createdAt, 0)
	return &r, nil
}

// GetReflection retrieves a reflection by id.
func (s *SQLiteStore) GetReflection(ctx context.Context, id string) (*domain.Reflection, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reflectionColumns+` FROM reflections WHERE id = ?`, id)
	r, err := scanReflection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan reflection: %w", err)
	}
	return r, nil
}

// ListReflections returns a user's reflections, newest first.
func (s *SQLiteStore) ListReflections(ctx context.Context, userID, videoID string, limit int) ([]*domain.Reflection, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + reflectionColumns + ` FROM reflections WHERE user_id = ?`
	args := []any{userID}
	if videoID != "" {
		query += ` AND video_id = ?`
		args = append(args, videoID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reflections: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close reflection rows", "error", closeErr)
		}
	}()

	var out []*domain.Reflection
	for rows.Next() {
		r, err := scanReflection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reflection row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reflections: %w", err)
	}
	return out, nil
}

// GetInteraction retrieves the latest snapshot of a tab session.
func (s *SQLiteStore) GetInteraction(ctx context.Context, userID, sessionID string) (*domain.InteractionSnapshot, error) {
	query := `
		SELECT user_id, session_id, video_id, context_json, created_at, updated_at
		FROM interactions WHERE user_id = ? AND session_id = ?`

	var snap domain.InteractionSnapshot
	var videoID sql.NullString
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, userID, sessionID).Scan(
		&snap.UserID, &snap.SessionID, &videoID, &snap.ContextJSON, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan interaction: %w", err)
	}
	snap.VideoID = videoID.String
	snap.CreatedAt = time.Unix(createdAt, 0)
	snap.UpdatedAt = time.Unix(updatedAt, 0)
	return &snap, nil
}

// UpsertInteraction stores the latest snapshot of a tab session.
func (s *SQLiteStore) UpsertInteraction(ctx context.Context, snap *domain.InteractionSnapshot) error {
	s.interactionMu.Lock()
	defer s.interactionMu.Unlock()

	query := `
		INSERT INTO interactions (user_id, session_id, video_id, context_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, session_id) DO UPDATE SET
			video_id = excluded.video_id,
			context_json = excluded.context_json,
			updated_at = excluded.updated_at`

	createdAt := snap.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	updatedAt := snap.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	return withBusyRetry(ctx, "upsert interaction", func() error {
		_, err := s.db.ExecContext(ctx, query,
			snap.UserID, snap.SessionID, nullString(snap.VideoID), snap.ContextJSON,
			createdAt.Unix(), updatedAt.Unix(),
		)
		return err
	})
}

// DeleteInteraction removes a tab session snapshot.
func (s *SQLiteStore) DeleteInteraction(ctx context.Context, userID, sessionID string) error {
	s.interactionMu.Lock()
	defer s.interactionMu.Unlock()

	return withBusyRetry(ctx, "delete interaction", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM interactions WHERE user_id = ? AND session_id = ?`, userID, sessionID)
		return err
	})
}

// CleanupExpiredInteractions removes snapshots older than ttl.
func (s *SQLiteStore) CleanupExpiredInteractions(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM interactions WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired interactions: %w", err)
	}
	return result.RowsAffected()
}

// withBusyRetry runs fn, retrying SQLite lock conflicts with exponential
// backoff (100ms, 200ms).
func withBusyRetry(ctx context.Context, op string, fn func() error) error {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsConflict(err) || i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("sqlite write conflict, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsConflict reports whether err is a SQLITE_BUSY or SQLITE_LOCKED error,
// the concurrency failures that warrant a retry.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
