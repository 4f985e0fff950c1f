package mirror

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkuntong/highlanderhomes-sub002/pkg/logger"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// CollectionInfo describes a mirrored collection.
type CollectionInfo struct {
	Name       string
	Count      int
	MirroredAt time.Time
}

// SQLiteMirror stores mirrored collections in a SQLite database.
type SQLiteMirror struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the mirror database at path with WAL
// journaling and a 5-second busy timeout.
func OpenSQLite(path string) (*SQLiteMirror, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create mirror dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases coherent and
	// serializes writers.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode on %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", path, err)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteMirror{db: db, now: time.Now}, nil
}

// runMigrations applies every embedded migration not yet recorded.
func runMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}
	for _, entry := range entries {
		version := entry.Name()

		var count int
		err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check migration status: %w", err)
		}
		if count > 0 {
			continue
		}

		migrationSQL, err := migrations.ReadFile("migrations/" + version)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", version, err)
		}
		if _, err := db.ExecContext(ctx, string(migrationSQL)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", version, err)
		}
		if _, err := db.ExecContext(ctx, "INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", version, time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", version, err)
		}
		logger.Debugf("mirror: applied migration %s", version)
	}
	return nil
}

// Close closes the database.
func (m *SQLiteMirror) Close() error {
	return m.db.Close()
}

// Replace swaps the stored contents of collection for docs in one
// transaction.
func (m *SQLiteMirror) Replace(ctx context.Context, collection string, docs []Document) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mirror tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM mirror_documents WHERE collection = ?", collection); err != nil {
		return fmt.Errorf("clear %s: %w", collection, err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT OR REPLACE INTO mirror_documents (collection, id, body, mirrored_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := m.now().UnixMilli()
	for _, doc := range docs {
		if _, err := stmt.ExecContext(ctx, collection, doc.ID, string(doc.Body), now); err != nil {
			return fmt.Errorf("insert %s/%s: %w", collection, doc.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO mirror_collections (collection, doc_count, mirrored_at) VALUES (?, ?, ?)
		ON CONFLICT(collection) DO UPDATE SET doc_count = excluded.doc_count, mirrored_at = excluded.mirrored_at
	`, collection, len(docs), now)
	if err != nil {
		return fmt.Errorf("record %s: %w", collection, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mirror tx: %w", err)
	}
	logger.Debugf("mirror: stored %d %s", len(docs), collection)
	return nil
}

// Load returns the mirrored documents of collection ordered by id.
func (m *SQLiteMirror) Load(ctx context.Context, collection string) ([]Document, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT id, body FROM mirror_documents WHERE collection = ? ORDER BY id", collection)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			id   string
			body string
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		docs = append(docs, Document{ID: id, Body: json.RawMessage(body)})
	}
	return docs, rows.Err()
}

// Collections lists the mirrored collections by name.
func (m *SQLiteMirror) Collections(ctx context.Context) ([]CollectionInfo, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT collection, doc_count, mirrored_at FROM mirror_collections ORDER BY collection")
	if err != nil {
		return nil, fmt.Errorf("query collections: %w", err)
	}
	defer rows.Close()

	var out []CollectionInfo
	for rows.Next() {
		var (
			info CollectionInfo
			at   int64
		)
		if err := rows.Scan(&info.Name, &info.Count, &at); err != nil {
			return nil, err
		}
		info.MirroredAt = time.UnixMilli(at)
		out = append(out, info)
	}
	return out, rows.Err()
}
