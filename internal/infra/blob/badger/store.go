// Package badger implements a blob Store inside an embedded badger database.
// Object bodies and their metadata are written in one transaction.
package badger

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"collabdir/internal/blob/core"
)

const (
	metaPrefix = "meta/"
	dataPrefix = "data/"
)

// Config configures the badger driver. An empty Dir with InMemory unset is rejected.
type Config struct {
	Dir      string
	InMemory bool
}

// Store implements core.Store over badger.
type Store struct {
	db *badgerdb.DB
}

type record struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ETag        string            `json:"etag"`
	Size        int64             `json:"size"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// New opens (or creates) the badger database.
func New(cfg Config) (*Store, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badger dir required")
	}
	opts := badgerdb.DefaultOptions(cfg.Dir).WithLogger(nil)
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Driver() core.Driver { return core.DriverBadger }

func (s *Store) Put(_ context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	if strings.TrimSpace(key) == "" {
		return core.Info{}, fmt.Errorf("empty key")
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, err
	}
	sum := sha256.Sum256(body)
	rec := record{
		ContentType: opts.ContentType,
		Metadata:    core.CloneMetadata(opts.Metadata),
		ETag:        hex.EncodeToString(sum[:]),
		Size:        int64(len(body)),
		UpdatedAt:   time.Now().UTC(),
	}
	meta, err := json.Marshal(rec)
	if err != nil {
		return core.Info{}, err
	}
	err = s.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set([]byte(dataPrefix+key), body); err != nil {
			return err
		}
		return txn.Set([]byte(metaPrefix+key), meta)
	})
	if err != nil {
		return core.Info{}, err
	}
	return toInfo(key, rec), nil
}

func (s *Store) Get(_ context.Context, key string) (core.Info, io.ReadCloser, error) {
	var rec record
	var body []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		var err error
		if rec, err = readRecord(txn, key); err != nil {
			return err
		}
		item, err := txn.Get([]byte(dataPrefix + key))
		if err != nil {
			return err
		}
		body, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return core.Info{}, nil, mapErr(key, err)
	}
	return toInfo(key, rec), io.NopCloser(bytes.NewReader(body)), nil
}

func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	var rec record
	err := s.db.View(func(txn *badgerdb.Txn) error {
		var err error
		rec, err = readRecord(txn, key)
		return err
	})
	if err != nil {
		return core.Info{}, mapErr(key, err)
	}
	return toInfo(key, rec), nil
}

func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	existed := true
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		if _, err := txn.Get([]byte(metaPrefix + key)); err != nil {
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				existed = false
				return nil
			}
			return err
		}
		if err := txn.Delete([]byte(dataPrefix + key)); err != nil {
			return err
		}
		return txn.Delete([]byte(metaPrefix + key))
	})
	if err != nil {
		return false, err
	}
	return existed, nil
}

func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	var infos []core.Info
	seek := []byte(metaPrefix + prefix)
	err := s.db.View(func(txn *badgerdb.Txn) error {
		it := txn.NewIterator(badgerdb.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(seek); it.ValidForPrefix(seek); it.Next() {
			item := it.Item()
			key := strings.TrimPrefix(string(item.KeyCopy(nil)), metaPrefix)
			var rec record
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &rec) }); err != nil {
				return err
			}
			infos = append(infos, toInfo(key, rec))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

func readRecord(txn *badgerdb.Txn, key string) (record, error) {
	item, err := txn.Get([]byte(metaPrefix + key))
	if err != nil {
		return record{}, err
	}
	var rec record
	err = item.Value(func(v []byte) error { return json.Unmarshal(v, &rec) })
	return rec, err
}

func toInfo(key string, rec record) core.Info {
	return core.Info{
		Key:          key,
		Size:         rec.Size,
		ContentType:  rec.ContentType,
		ETag:         rec.ETag,
		Metadata:     core.CloneMetadata(rec.Metadata),
		LastModified: rec.UpdatedAt,
	}
}

func mapErr(key string, err error) error {
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	return err
}
