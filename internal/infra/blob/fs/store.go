// Package fs keeps blobs as files under a root directory, for local
// development and single-host deployments.
package fs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"collabdir/internal/blob/core"
)

// sidecarExt marks the JSON file holding an object's content type, user
// metadata and checksum next to its body.
const sidecarExt = ".meta"

// Store maps each key to a file under root plus a sidecar. Writers hold mu
// so a body and its sidecar are always replaced together.
type Store struct {
	root    string
	baseURL string
	now     func() time.Time

	mu sync.RWMutex
}

// New returns a store rooted at root, creating the directory when missing.
// Objects are addressed under baseURL when set and as file URLs otherwise.
func New(root, baseURL string) (*Store, error) {
	if root == "" {
		root = "./blobdata"
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("fs root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("fs root: %w", err)
	}
	return &Store{root: abs, baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}, nil
}

// Driver implements core.Store.
func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

type sidecar struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	SHA256      string            `json:"sha256"`
	Size        int64             `json:"size"`
	Modified    time.Time         `json:"modified"`
}

// cleanKey rejects keys that are empty, absolute, climb out of the root or
// collide with sidecar names.
func cleanKey(key string) (string, error) {
	switch {
	case strings.TrimSpace(key) == "":
		return "", errors.New("fs: empty key")
	case strings.HasPrefix(key, "/"):
		return "", fmt.Errorf("fs: absolute key %q", key)
	case strings.HasSuffix(key, sidecarExt):
		return "", fmt.Errorf("fs: key %q uses reserved suffix %s", key, sidecarExt)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("fs: key %q leaves the store root", key)
		}
	}
	return path.Clean(key), nil
}

func (s *Store) files(key string) (body, meta string, err error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", "", err
	}
	body = filepath.Join(s.root, filepath.FromSlash(k))
	return body, body + sidecarExt, nil
}

// Put implements core.Store.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	if err := ctx.Err(); err != nil {
		return core.Info{}, err
	}
	body, meta, err := s.files(key)
	if err != nil {
		return core.Info{}, err
	}
	dir := filepath.Dir(body)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return core.Info{}, fmt.Errorf("fs put %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sum := sha256.New()
	var size int64
	if err := replaceFile(dir, body, func(w io.Writer) error {
		n, err := io.Copy(io.MultiWriter(w, sum), r)
		size = n
		return err
	}); err != nil {
		return core.Info{}, fmt.Errorf("fs put %s: %w", key, err)
	}
	sc := sidecar{
		ContentType: opts.ContentType,
		Metadata:    core.CloneMetadata(opts.Metadata),
		SHA256:      hex.EncodeToString(sum.Sum(nil)),
		Size:        size,
		Modified:    s.now().UTC(),
	}
	raw, err := json.Marshal(sc)
	if err != nil {
		return core.Info{}, err
	}
	if err := replaceFile(dir, meta, func(w io.Writer) error {
		_, err := w.Write(raw)
		return err
	}); err != nil {
		return core.Info{}, fmt.Errorf("fs put %s metadata: %w", key, err)
	}
	return s.info(key, sc), nil
}

// Get implements core.Store. The body is read into memory under the read
// lock so a concurrent Put cannot pair it with a newer sidecar.
func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return core.Info{}, nil, err
	}
	body, meta, err := s.files(key)
	if err != nil {
		return core.Info{}, nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := os.ReadFile(body)
	if errors.Is(err, iofs.ErrNotExist) {
		return core.Info{}, nil, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return core.Info{}, nil, fmt.Errorf("fs get %s: %w", key, err)
	}
	sc, err := loadSidecar(meta)
	if err != nil {
		return core.Info{}, nil, fmt.Errorf("fs get %s: %w", key, err)
	}
	return s.info(key, sc), io.NopCloser(bytes.NewReader(data)), nil
}

// Head implements core.Store.
func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	if err := ctx.Err(); err != nil {
		return core.Info{}, err
	}
	_, meta, err := s.files(key)
	if err != nil {
		return core.Info{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, err := loadSidecar(meta)
	if errors.Is(err, iofs.ErrNotExist) {
		return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return core.Info{}, fmt.Errorf("fs head %s: %w", key, err)
	}
	return s.info(key, sc), nil
}

// Delete implements core.Store.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	body, meta, err := s.files(key)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(body); err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("fs delete %s: %w", key, err)
	}
	if err := os.Remove(meta); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return true, fmt.Errorf("fs delete %s metadata: %w", key, err)
	}
	return true, nil
}

// List implements core.Store. Only the directory named by the prefix is
// walked.
func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := s.root
	if i := strings.LastIndex(prefix, "/"); i > 0 {
		dir, err := cleanKey(prefix[:i])
		if err != nil {
			return nil, err
		}
		start = filepath.Join(s.root, filepath.FromSlash(dir))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Info
	err := filepath.WalkDir(start, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			if p == start && errors.Is(err, iofs.ErrNotExist) {
				return iofs.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, sidecarExt) {
			return nil
		}
		rel, err := filepath.Rel(s.root, strings.TrimSuffix(p, sidecarExt))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		sc, err := loadSidecar(p)
		if err != nil {
			return fmt.Errorf("fs list %s: %w", key, err)
		}
		out = append(out, s.info(key, sc))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) info(key string, sc sidecar) core.Info {
	return core.Info{
		Key:          key,
		Size:         sc.Size,
		ContentType:  sc.ContentType,
		ETag:         sc.SHA256,
		Metadata:     core.CloneMetadata(sc.Metadata),
		LastModified: sc.Modified,
		URL:          s.url(key),
	}
}

func (s *Store) url(key string) string {
	if s.baseURL != "" {
		return s.baseURL + "/" + key
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(s.root, filepath.FromSlash(key)))}).String()
}

// replaceFile writes through a temp file in dir and renames it over target,
// leaving target untouched when fill fails.
func replaceFile(dir, target string, fill func(io.Writer) error) error {
	tmp, err := os.CreateTemp(dir, ".incoming-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer func() { _ = os.Remove(name) }()
	if err := fill(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(name, target)
}

func loadSidecar(p string) (sidecar, error) {
	raw, err := os.ReadFile(p)
	if err != nil {
		return sidecar{}, err
	}
	var sc sidecar
	if err := json.Unmarshal(raw, &sc); err != nil {
		return sidecar{}, fmt.Errorf("decode sidecar: %w", err)
	}
	return sc, nil
}
