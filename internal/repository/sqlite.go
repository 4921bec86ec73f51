package repository

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"chat-widget/internal/domain"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'content'
	)`,
	`CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

// SQLiteBackend keeps the log in a local SQLite file. AUTOINCREMENT keeps ids
// from being reused after the log is cleared.
type SQLiteBackend struct {
	path string
	db   *sql.DB
}

func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("repository: sqlite path must not be empty")
	}
	return &SQLiteBackend{path: filepath.Clean(p)}, nil
}

func (b *SQLiteBackend) Open(ctx context.Context) error {
	if b.db != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return errors.Wrap(err, "create db dir")
	}
	db, err := sql.Open("sqlite", b.path)
	if err != nil {
		return errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return errors.Wrap(err, "ping sqlite")
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return errors.Wrap(err, "set busy timeout")
	}
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return errors.Wrap(err, "init schema")
		}
	}
	if err := addKindColumn(ctx, db); err != nil {
		_ = db.Close()
		return err
	}
	b.db = db
	return nil
}

// addKindColumn upgrades message tables created before the kind column
// existed. Existing rows read back as content.
func addKindColumn(ctx context.Context, db *sql.DB) error {
	var n int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pragma_table_info('messages') WHERE name = 'kind'").Scan(&n)
	if err != nil {
		return errors.Wrap(err, "inspect messages table")
	}
	if n > 0 {
		return nil
	}
	if _, err := db.ExecContext(ctx, "ALTER TABLE messages ADD COLUMN kind TEXT NOT NULL DEFAULT 'content'"); err != nil {
		return errors.Wrap(err, "add kind column")
	}
	return nil
}

func (b *SQLiteBackend) Insert(ctx context.Context, role domain.Role, content string, kind domain.Kind) (int64, error) {
	if b.db == nil {
		return 0, errors.New("sqlite backend not open")
	}
	res, err := b.db.ExecContext(ctx, "INSERT INTO messages(role, content, kind) VALUES(?,?,?)", string(role), content, string(kind))
	if err != nil {
		return 0, errors.Wrap(err, "insert message")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "last insert id")
	}
	return id, nil
}

func (b *SQLiteBackend) List(ctx context.Context) ([]domain.Message, error) {
	if b.db == nil {
		return nil, errors.New("sqlite backend not open")
	}
	rows, err := b.db.QueryContext(ctx, "SELECT id, role, content, kind FROM messages ORDER BY id ASC")
	if err != nil {
		return nil, errors.Wrap(err, "query messages")
	}
	defer func() { _ = rows.Close() }()

	msgs := []domain.Message{}
	for rows.Next() {
		var (
			m          domain.Message
			role, kind string
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &kind); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		m.Role = domain.Role(role)
		m.Kind = domain.Kind(kind)
		if m.Kind == "" {
			m.Kind = domain.KindContent
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate messages")
	}
	return msgs, nil
}

func (b *SQLiteBackend) Clear(ctx context.Context) error {
	if b.db == nil {
		return errors.New("sqlite backend not open")
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin clear")
	}
	for _, stmt := range []string{"DELETE FROM messages", "DELETE FROM metadata"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "clear: %s", stmt)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit clear")
	}
	return nil
}

func (b *SQLiteBackend) PutMeta(ctx context.Context, key, value string) error {
	if b.db == nil {
		return errors.New("sqlite backend not open")
	}
	_, err := b.db.ExecContext(ctx,
		"INSERT INTO metadata(key, value) VALUES(?,?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return errors.Wrap(err, "upsert metadata")
	}
	return nil
}

func (b *SQLiteBackend) GetMeta(ctx context.Context, key string) (string, bool, error) {
	if b.db == nil {
		return "", false, errors.New("sqlite backend not open")
	}
	var value string
	err := b.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "query metadata")
	}
	return value, true, nil
}

func (b *SQLiteBackend) Close() error {
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}
