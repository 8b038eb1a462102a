// Package memory keeps blobs in process memory. It backs tests and
// throwaway local runs; nothing survives a restart.
package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"collabdir/internal/blob/core"
)

type object struct {
	body []byte
	info core.Info
}

// Store implements core.Store over a map guarded by a read-write mutex.
// Bodies are copied on the way in and out.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for LastModified.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{objects: make(map[string]object), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Driver implements core.Store.
func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Put implements core.Store.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	if err := ctx.Err(); err != nil {
		return core.Info{}, err
	}
	if strings.TrimSpace(key) == "" {
		return core.Info{}, errors.New("memory: empty key")
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, fmt.Errorf("memory put %s: %w", key, err)
	}
	sum := sha256.Sum256(body)
	info := core.Info{
		Key:          key,
		Size:         int64(len(body)),
		ContentType:  opts.ContentType,
		ETag:         hex.EncodeToString(sum[:]),
		Metadata:     core.CloneMetadata(opts.Metadata),
		LastModified: s.now().UTC(),
		URL:          "memory://" + key,
	}
	s.mu.Lock()
	s.objects[key] = object{body: body, info: info}
	s.mu.Unlock()
	return cloneInfo(info), nil
}

// Get implements core.Store.
func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	obj, err := s.lookup(ctx, key)
	if err != nil {
		return core.Info{}, nil, err
	}
	return cloneInfo(obj.info), io.NopCloser(bytes.NewReader(bytes.Clone(obj.body))), nil
}

// Head implements core.Store.
func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	obj, err := s.lookup(ctx, key)
	if err != nil {
		return core.Info{}, err
	}
	return cloneInfo(obj.info), nil
}

func (s *Store) lookup(ctx context.Context, key string) (object, error) {
	if err := ctx.Err(); err != nil {
		return object{}, err
	}
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return object{}, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	return obj, nil
}

// Delete implements core.Store.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return false, nil
	}
	delete(s.objects, key)
	return true, nil
}

// List implements core.Store. Results are ordered by key.
func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]core.Info, 0, len(s.objects))
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, cloneInfo(obj.info))
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func cloneInfo(in core.Info) core.Info {
	in.Metadata = core.CloneMetadata(in.Metadata)
	return in
}
