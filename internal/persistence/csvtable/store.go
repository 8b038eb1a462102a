// Package csvtable persists the directory tables as CSV objects in a blob
// store. Every save rewrites the whole object in one Put.
package csvtable

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"collabdir/internal/blob"
	"collabdir/internal/core"
)

// Compile-time contract assertions.
var (
	_ core.TableStore  = (*Store)(nil)
	_ core.ObjectStore = (*Store)(nil)
)

// MetaLastIndex is the object metadata key holding the largest index ever
// assigned in the collaborators table.
const MetaLastIndex = "last-index"

const csvContentType = "text/csv; charset=utf-8"

// Keys names the objects holding each table.
type Keys struct {
	Collaborators     string
	DirectoryAdmins   string
	DataRequestAdmins string
}

// DefaultKeys returns the object keys used by existing deployments.
func DefaultKeys() Keys {
	return Keys{
		Collaborators:     "collaborators.csv",
		DirectoryAdmins:   "admins.csv",
		DataRequestAdmins: "data_request_admins.csv",
	}
}

// Store implements core.TableStore and core.ObjectStore over a blob.Store.
type Store struct {
	blobs  blob.Store
	admins blob.Store
	keys   Keys
}

// Option configures a Store.
type Option func(*Store)

// WithAdminBlobs keeps the admin tables in a separate blob store, for
// deployments where they live in their own bucket.
func WithAdminBlobs(admins blob.Store) Option {
	return func(s *Store) {
		if admins != nil {
			s.admins = admins
		}
	}
}

// New returns a store writing to blobs. Empty keys fall back to DefaultKeys.
func New(blobs blob.Store, keys Keys, opts ...Option) *Store {
	def := DefaultKeys()
	if keys.Collaborators == "" {
		keys.Collaborators = def.Collaborators
	}
	if keys.DirectoryAdmins == "" {
		keys.DirectoryAdmins = def.DirectoryAdmins
	}
	if keys.DataRequestAdmins == "" {
		keys.DataRequestAdmins = def.DataRequestAdmins
	}
	s := &Store{blobs: blobs, admins: blobs, keys: keys}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadCollaborators reads and decodes the collaborators table. A missing
// object is an empty table.
func (s *Store) LoadCollaborators(ctx context.Context) (*core.Table, error) {
	info, body, err := s.read(ctx, s.keys.Collaborators)
	if errors.Is(err, blob.ErrNotFound) {
		return core.NewTable(nil, 0), nil
	}
	if err != nil {
		return nil, err
	}
	records, err := ReadCollaborators(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.keys.Collaborators, err)
	}
	return core.NewTable(records, highWater(info.Metadata)), nil
}

// SaveCollaborators encodes t with the complete column schema and overwrites
// the stored object, recording the index high-water mark in its metadata.
func (s *Store) SaveCollaborators(ctx context.Context, t *core.Table) error {
	var buf bytes.Buffer
	if err := WriteCollaborators(&buf, t.Records()); err != nil {
		return fmt.Errorf("encode %s: %w", s.keys.Collaborators, err)
	}
	_, err := s.blobs.Put(ctx, s.keys.Collaborators, &buf, blob.PutOptions{
		ContentType: csvContentType,
		Metadata:    map[string]string{MetaLastIndex: strconv.Itoa(t.HighWater())},
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", s.keys.Collaborators, err)
	}
	return nil
}

// RawCollaborators returns the stored CSV bytes unchanged.
func (s *Store) RawCollaborators(ctx context.Context) ([]byte, error) {
	_, body, err := s.read(ctx, s.keys.Collaborators)
	if errors.Is(err, blob.ErrNotFound) {
		var buf bytes.Buffer
		if err := WriteCollaborators(&buf, nil); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return body, err
}

// LoadAdmins reads one admin table. A missing object is an empty list.
func (s *Store) LoadAdmins(ctx context.Context, list core.AdminList) ([]string, error) {
	key, err := s.adminKey(list)
	if err != nil {
		return nil, err
	}
	_, body, err := blob.ReadAll(ctx, s.admins, key)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	admins, err := ReadAdmins(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return admins, nil
}

// SaveAdmins overwrites one admin table.
func (s *Store) SaveAdmins(ctx context.Context, list core.AdminList, emails []string) error {
	key, err := s.adminKey(list)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := WriteAdmins(&buf, emails); err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if _, err := s.admins.Put(ctx, key, &buf, blob.PutOptions{ContentType: csvContentType}); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *Store) adminKey(list core.AdminList) (string, error) {
	switch list {
	case core.DirectoryAdmins:
		return s.keys.DirectoryAdmins, nil
	case core.DataRequestAdmins:
		return s.keys.DataRequestAdmins, nil
	default:
		return "", fmt.Errorf("unknown admin list %q", list)
	}
}

func (s *Store) read(ctx context.Context, key string) (blob.Info, []byte, error) {
	return blob.ReadAll(ctx, s.blobs, key)
}

func highWater(meta map[string]string) int {
	n, err := strconv.Atoi(strings.TrimSpace(meta[MetaLastIndex]))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// PutObject stores body under key.
func (s *Store) PutObject(ctx context.Context, key string, body []byte, contentType string) (core.ObjectInfo, error) {
	info, err := s.blobs.Put(ctx, key, bytes.NewReader(body), blob.PutOptions{ContentType: contentType})
	if err != nil {
		return core.ObjectInfo{}, fmt.Errorf("put %s: %w", key, err)
	}
	return objectInfo(info), nil
}

// GetObject returns the content stored under key.
func (s *Store) GetObject(ctx context.Context, key string) ([]byte, error) {
	_, body, err := s.read(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, core.ErrNotFound{Entity: core.EntityObject, Key: key}
	}
	return body, err
}

// DeleteObject removes key and reports whether it existed.
func (s *Store) DeleteObject(ctx context.Context, key string) (bool, error) {
	found, err := s.blobs.Delete(ctx, key)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	return found, nil
}

// ListObjects lists the objects under prefix.
func (s *Store) ListObjects(ctx context.Context, prefix string) ([]core.ObjectInfo, error) {
	infos, err := s.blobs.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	out := make([]core.ObjectInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, objectInfo(info))
	}
	return out, nil
}

func objectInfo(info blob.Info) core.ObjectInfo {
	return core.ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		LastModified: info.LastModified,
		URL:          info.URL,
	}
}
