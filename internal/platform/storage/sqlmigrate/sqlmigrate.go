// Package sqlmigrate applies embedded, forward-only SQL migrations to SQLite
// and PostgreSQL databases opened through database/sql.
package sqlmigrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

const migrationTable = "schema_migrations"

// Dialect captures the few statements that differ between backends.
type Dialect struct {
	Name string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// InsertIgnore prefixes an insert that must not fail on duplicates.
	InsertIgnore string
	// OnConflictIgnore suffixes an insert that must not fail on duplicates.
	OnConflictIgnore string
}

// SQLite is the dialect for modernc.org/sqlite.
var SQLite = Dialect{
	Name:         "sqlite",
	Placeholder:  func(int) string { return "?" },
	InsertIgnore: "INSERT OR IGNORE INTO",
}

// Postgres is the dialect for PostgreSQL via pgx.
var Postgres = Dialect{
	Name:             "postgres",
	Placeholder:      func(n int) string { return fmt.Sprintf("$%d", n) },
	InsertIgnore:     "INSERT INTO",
	OnConflictIgnore: " ON CONFLICT DO NOTHING",
}

// Apply executes every *.sql file under root in migrationFS at most once,
// in lexical order, each inside its own transaction. Applied files are
// recorded in schema_migrations keyed by their path relative to the FS.
func Apply(ctx context.Context, db *sql.DB, dialect Dialect, migrationFS fs.FS, root string) error {
	if db == nil {
		return errors.New("sql db is required")
	}
	if dialect.Placeholder == nil {
		return errors.New("sql dialect is required")
	}

	root = strings.TrimSpace(root)
	if root == "" {
		root = "."
	}
	files, err := listMigrations(migrationFS, root)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    applied_at BIGINT NOT NULL
);
`, migrationTable)); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return err
	}

	for _, name := range files {
		key := name
		if root != "." {
			key = path.Join(root, name)
		}
		if _, done := applied[key]; done {
			continue
		}

		content, err := fs.ReadFile(migrationFS, path.Join(root, name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		upSQL := ExtractUpMigration(string(content))
		if strings.TrimSpace(upSQL) == "" {
			continue
		}
		if err := applyOne(ctx, db, dialect, key, upSQL); err != nil {
			return err
		}
	}
	return nil
}

func applyOne(ctx context.Context, db *sql.DB, dialect Dialect, key string, upSQL string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", key, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, upSQL); err != nil && !IsAlreadyExistsError(err) {
		return fmt.Errorf("exec migration %s: %w", key, err)
	}

	record := fmt.Sprintf("%s %s (name, applied_at) VALUES (%s, %s)%s",
		dialect.InsertIgnore, migrationTable,
		dialect.Placeholder(1), dialect.Placeholder(2),
		dialect.OnConflictIgnore)
	if _, err := tx.ExecContext(ctx, record, key, time.Now().UTC().UnixMilli()); err != nil {
		return fmt.Errorf("record migration %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", key, err)
	}
	return nil
}

func listMigrations(migrationFS fs.FS, root string) ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, root)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func appliedMigrations(ctx context.Context, db *sql.DB) (map[string]struct{}, error) {
	rows, err := db.QueryContext(ctx, "SELECT name FROM "+migrationTable)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

// ExtractUpMigration returns the SQL in the -- +migrate Up section, or the
// whole file when it has no section markers.
func ExtractUpMigration(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	upIdx := strings.Index(content, up)
	if upIdx == -1 {
		return content
	}
	body := content[upIdx+len(up):]
	if downIdx := strings.Index(body, down); downIdx != -1 {
		body = body[:downIdx]
	}
	return body
}

// IsAlreadyExistsError reports whether err indicates idempotent DDL success.
func IsAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "already exists") || strings.Contains(value, "duplicate column name")
}
