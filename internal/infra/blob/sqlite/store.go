// Package sqlite keeps blobs in a single SQLite file through the pure-Go
// modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"collabdir/internal/blob/core"
	"collabdir/internal/infra/blob/sqlstore"
)

const (
	defaultPath = "collabdir.db"
	inMemory    = ":memory:"
)

// Dialect binds positional parameters and stores bodies as BLOB.
var Dialect = sqlstore.Dialect{
	Driver:      core.DriverSQLite,
	BinaryType:  "BLOB",
	Placeholder: func(int) string { return "?" },
}

// New opens the database at path, creating the file and its directory when
// missing. ":memory:" gives a private in-process database.
func New(ctx context.Context, path string) (*sqlstore.Store, error) {
	if path == "" {
		path = defaultPath
	}
	if path != inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("sqlite %s: %w", path, err)
	}
	// One connection: ":memory:" databases are per connection and every
	// table rewrite is a single writer anyway.
	db.SetMaxOpenConns(1)
	store, err := sqlstore.New(ctx, db, Dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// dsn adds a busy timeout so a CLI run next to a live server waits for the
// file lock instead of failing.
func dsn(path string) string {
	if path == inMemory {
		return path
	}
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	return "file:" + path + "?" + q.Encode()
}
