// Package sqlstore implements a blob Store on a single SQL table. Dialects
// supply placeholder syntax and column types; the statements are otherwise shared.
package sqlstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"collabdir/internal/blob/core"
)

// Dialect captures the differences between SQL engines.
type Dialect struct {
	Driver core.Driver
	// BinaryType is the column type used for object bodies.
	BinaryType string
	// Placeholder renders the 1-based bind parameter n.
	Placeholder func(n int) string
}

// Store implements core.Store over a `blobs` table.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// New wraps an open database, creating the blobs table when missing.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS blobs (
		object_key TEXT PRIMARY KEY,
		body %s NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		etag TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`, dialect.BinaryType)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("ensure blobs table: %w", err)
	}
	return &Store{db: db, dialect: dialect, now: time.Now}, nil
}

// DB exposes the underlying handle for lifecycle management.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Driver() core.Driver { return s.dialect.Driver }

func (s *Store) ph(n int) string { return s.dialect.Placeholder(n) }

func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	if strings.TrimSpace(key) == "" {
		return core.Info{}, fmt.Errorf("empty key")
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, err
	}
	md := opts.Metadata
	if md == nil {
		md = map[string]string{}
	}
	mdJSON, err := json.Marshal(md)
	if err != nil {
		return core.Info{}, err
	}
	sum := sha256.Sum256(body)
	etag := hex.EncodeToString(sum[:])
	updated := s.now().UTC()
	stmt := fmt.Sprintf(`INSERT INTO blobs (object_key, body, content_type, metadata, etag, updated_at)
		VALUES (%s, %s, %s, %s, %s, %s)
		ON CONFLICT (object_key) DO UPDATE SET
			body = excluded.body,
			content_type = excluded.content_type,
			metadata = excluded.metadata,
			etag = excluded.etag,
			updated_at = excluded.updated_at`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6))
	if _, err := s.db.ExecContext(ctx, stmt, key, body, opts.ContentType, string(mdJSON), etag, updated.Format(time.RFC3339Nano)); err != nil {
		return core.Info{}, fmt.Errorf("upsert blob %s: %w", key, err)
	}
	return core.Info{
		Key:          key,
		Size:         int64(len(body)),
		ContentType:  opts.ContentType,
		ETag:         etag,
		Metadata:     core.CloneMetadata(opts.Metadata),
		LastModified: updated,
	}, nil
}

func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT body, content_type, metadata, etag, updated_at FROM blobs WHERE object_key = %s`, s.ph(1)), key)
	var body []byte
	info, err := scanInfo(key, row, &body)
	if err != nil {
		return core.Info{}, nil, err
	}
	info.Size = int64(len(body))
	return info, io.NopCloser(bytes.NewReader(body)), nil
}

func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT length(body), content_type, metadata, etag, updated_at FROM blobs WHERE object_key = %s`, s.ph(1)), key)
	var size int64
	info, err := scanInfo(key, row, &size)
	if err != nil {
		return core.Info{}, err
	}
	info.Size = size
	return info, nil
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM blobs WHERE object_key = %s`, s.ph(1)), key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	q := fmt.Sprintf(`SELECT object_key, length(body), content_type, metadata, etag, updated_at FROM blobs
		WHERE substr(object_key, 1, %s) = %s ORDER BY object_key`, s.ph(1), s.ph(2))
	rows, err := s.db.QueryContext(ctx, q, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var infos []core.Info
	for rows.Next() {
		var (
			key, ct, md, etag, updated string
			size                       int64
		)
		if err := rows.Scan(&key, &size, &ct, &md, &etag, &updated); err != nil {
			return nil, fmt.Errorf("scan blob: %w", err)
		}
		info, err := buildInfo(key, ct, md, etag, updated)
		if err != nil {
			return nil, err
		}
		info.Size = size
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func scanInfo(key string, row *sql.Row, first any) (core.Info, error) {
	var ct, md, etag, updated string
	if err := row.Scan(first, &ct, &md, &etag, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
		}
		return core.Info{}, err
	}
	return buildInfo(key, ct, md, etag, updated)
}

func buildInfo(key, ct, md, etag, updated string) (core.Info, error) {
	var meta map[string]string
	if err := json.Unmarshal([]byte(md), &meta); err != nil {
		return core.Info{}, fmt.Errorf("decode metadata for %s: %w", key, err)
	}
	if len(meta) == 0 {
		meta = nil
	}
	ts, _ := time.Parse(time.RFC3339Nano, updated)
	return core.Info{Key: key, ContentType: ct, ETag: etag, Metadata: meta, LastModified: ts}, nil
}
