package storage

import (
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/arbfeed/paygate/migrations"
	_ "github.com/mattn/go-sqlite3"
)

// Journal wraps the local SQLite reconciliation journal
type Journal struct {
	Conn *sql.DB
}

// OpenJournal opens (and creates if needed) the journal database and applies
// its schema
func OpenJournal(dbPath string) (*Journal, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// sqlite allows one writer at a time.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}

	j := &Journal{Conn: conn}
	if err := j.Migrate(migrations.Journal, "journal"); err != nil {
		conn.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the journal connection
func (j *Journal) Close() error {
	return j.Conn.Close()
}

// Migrate executes every .sql file in dir, in name order
func (j *Journal) Migrate(fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("failed to read journal migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		if _, err := j.Conn.Exec(string(data)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", name, err)
		}
	}

	return nil
}
