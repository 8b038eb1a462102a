// Package core holds the object-store contract shared by the blob facade
// and its drivers. Tables, admin lists, pictures and data requests are all
// stored as whole objects through it.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"strings"
	"time"
)

// Driver names a storage backend.
type Driver string

// Drivers known to the blob factory.
const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
	DriverGCS        Driver = "gcs"
	DriverBadger     Driver = "badger"
	DriverSQLite     Driver = "sqlite"
	DriverPostgres   Driver = "postgres"
	DriverMemory     Driver = "memory"
)

var drivers = []Driver{DriverFilesystem, DriverS3, DriverGCS, DriverBadger, DriverSQLite, DriverPostgres, DriverMemory}

// ParseDriver resolves a configured driver name. Blank selects S3.
func ParseDriver(name string) (Driver, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return DriverS3, nil
	}
	for _, d := range drivers {
		if string(d) == name {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown blob driver %q", name)
}

// PutOptions carries the attributes stored with an object.
type PutOptions struct {
	ContentType string
	// Metadata is small flat user metadata; keys are compared in lower case.
	Metadata map[string]string
}

// Info describes a stored object. List results may leave ContentType and
// Metadata empty when the backend does not return them with listings.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	URL          string            `json:"url,omitempty"`
}

// Store is a flat key/object store. Put replaces an object whole, so a
// reader sees either the previous or the new body, never a mix. Delete
// reports whether the key existed.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

// ErrNotFound is wrapped by every driver when a key is absent.
var ErrNotFound = errors.New("blob: object not found")

// ReadAll fetches key and returns its info and full body. A missing key is
// returned as ErrNotFound unwrapped by any extra context.
func ReadAll(ctx context.Context, s Store, key string) (Info, []byte, error) {
	info, rc, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return Info{}, nil, ErrNotFound
	}
	if err != nil {
		return Info{}, nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	body, err := io.ReadAll(rc)
	if err != nil {
		return Info{}, nil, fmt.Errorf("read %s: %w", key, err)
	}
	return info, body, nil
}

// CloneMetadata copies m; nil stays nil.
func CloneMetadata(m map[string]string) map[string]string { return maps.Clone(m) }
