package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	logstd "log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"followup/internal/model"

	"github.com/charmbracelet/log"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// ErrStorage wraps every failure of the underlying database.
var ErrStorage = errors.New("suppression storage error")

// ErrIncompleteKey is returned when a suppression lacks part of its key.
var ErrIncompleteKey = errors.New("suppression key requires conversation, latest message and owner")

// timestamps are stored as fixed-width UTC text so they compare lexically
const tsLayout = "2006-01-02T15:04:05.000000Z"

// SQLiteStore is the durable suppression store. It is safe for concurrent use
// by runs and the webhook; every mutation is a single atomic statement.
type SQLiteStore struct {
	db     *sql.DB
	logger *log.Logger
	now    func() time.Time
	// ttl, when set, hides suppressions older than it from IsSuppressed.
	ttl time.Duration
}

type options struct {
	expiry time.Duration
}

type Option func(*options)

// WithExpiry makes suppressions older than ttl stop counting, and removes them
// right after opening.
func WithExpiry(ttl time.Duration) Option {
	return func(o *options) { o.expiry = ttl }
}

// Open opens (or creates) the database at dbPath and runs migrations.
func Open(dbPath string, logger *log.Logger, opts ...Option) (*SQLiteStore, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w: %w", ErrStorage, err)
	}

	// WAL lets the webhook read while a run writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w: %w", ErrStorage, err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, logger: logger, now: time.Now, ttl: o.expiry}
	if o.expiry > 0 {
		n, err := s.Expire(context.Background(), o.expiry)
		if err != nil {
			db.Close()
			return nil, err
		}
		if n > 0 {
			logger.Info("expired suppressions", "removed", n, "ttl", o.expiry)
		}
	}
	return s, nil
}

func migrate(db *sql.DB) error {
	goose.SetLogger(logstd.New(io.Discard, "", 0))
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("migrate schema: %w: %w", ErrStorage, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w: %w", ErrStorage, err)
	}
	return nil
}

func normOwner(owner string) string {
	return strings.ToLower(strings.TrimSpace(owner))
}

func formatTS(t time.Time) string { return t.UTC().Format(tsLayout) }

func parseTS(s string) time.Time {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

// IsSuppressed reports whether the exact (conversation, latest message, owner)
// snapshot is marked as dealt with. With an expiry set, a mark older than the
// ttl no longer counts even before Expire removes it.
func (s *SQLiteStore) IsSuppressed(ctx context.Context, conversationID, latestMessageID, owner string) (bool, error) {
	cutoff := ""
	if s.ttl > 0 {
		cutoff = formatTS(s.now().Add(-s.ttl))
	}
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM excluded_instances
		WHERE conversation_id = ? AND latest_message_id = ? AND user_email = ? AND excluded_at >= ?
	`, conversationID, latestMessageID, normOwner(owner), cutoff).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query suppression: %w: %w", ErrStorage, err)
	}
	return true, nil
}

// Suppress inserts or replaces the suppression for its key. A zero
// SuppressedAt is set to now.
func (s *SQLiteStore) Suppress(ctx context.Context, sup model.Suppression) error {
	owner := normOwner(sup.Owner)
	if sup.ConversationID == "" || sup.LatestMessageID == "" || owner == "" {
		return ErrIncompleteKey
	}
	at := sup.SuppressedAt
	if at.IsZero() {
		at = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO excluded_instances (conversation_id, latest_message_id, user_email, subject, reason, excluded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, latest_message_id, user_email) DO UPDATE SET
			subject     = excluded.subject,
			reason      = excluded.reason,
			excluded_at = excluded.excluded_at
	`, sup.ConversationID, sup.LatestMessageID, owner, sup.Subject, sup.Reason, formatTS(at))
	if err != nil {
		return fmt.Errorf("upsert suppression: %w: %w", ErrStorage, err)
	}
	return nil
}

// Unsuppress deletes the suppression and reports whether one existed.
func (s *SQLiteStore) Unsuppress(ctx context.Context, conversationID, latestMessageID, owner string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM excluded_instances
		WHERE conversation_id = ? AND latest_message_id = ? AND user_email = ?
	`, conversationID, latestMessageID, normOwner(owner))
	if err != nil {
		return false, fmt.Errorf("delete suppression: %w: %w", ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete suppression: %w: %w", ErrStorage, err)
	}
	return n > 0, nil
}

// Expire removes suppressions older than ttl and returns how many were removed.
func (s *SQLiteStore) Expire(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := formatTS(s.now().Add(-ttl))
	res, err := s.db.ExecContext(ctx, "DELETE FROM excluded_instances WHERE excluded_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire suppressions: %w: %w", ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire suppressions: %w: %w", ErrStorage, err)
	}
	return n, nil
}

// Get returns a single suppression.
func (s *SQLiteStore) Get(ctx context.Context, conversationID, latestMessageID, owner string) (model.Suppression, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, latest_message_id, user_email, subject, reason, excluded_at
		FROM excluded_instances
		WHERE conversation_id = ? AND latest_message_id = ? AND user_email = ?
	`, conversationID, latestMessageID, normOwner(owner))
	sup, err := scanSuppression(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Suppression{}, false, nil
	}
	if err != nil {
		return model.Suppression{}, false, fmt.Errorf("get suppression: %w: %w", ErrStorage, err)
	}
	return sup, true, nil
}

// List returns the owner's active suppressions, newest first.
func (s *SQLiteStore) List(ctx context.Context, owner string) ([]model.Suppression, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, latest_message_id, user_email, subject, reason, excluded_at
		FROM excluded_instances
		WHERE user_email = ?
		ORDER BY excluded_at DESC
	`, normOwner(owner))
	if err != nil {
		return nil, fmt.Errorf("list suppressions: %w: %w", ErrStorage, err)
	}
	defer rows.Close()

	var out []model.Suppression
	for rows.Next() {
		sup, err := scanSuppression(rows)
		if err != nil {
			return nil, fmt.Errorf("scan suppression: %w: %w", ErrStorage, err)
		}
		out = append(out, sup)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list suppressions: %w: %w", ErrStorage, err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSuppression(r scanner) (model.Suppression, error) {
	var sup model.Suppression
	var at string
	if err := r.Scan(&sup.ConversationID, &sup.LatestMessageID, &sup.Owner, &sup.Subject, &sup.Reason, &at); err != nil {
		return model.Suppression{}, err
	}
	sup.SuppressedAt = parseTS(at)
	return sup, nil
}
