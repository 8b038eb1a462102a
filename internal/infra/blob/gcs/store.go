// Package gcs implements a blob Store on a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"collabdir/internal/blob/core"
)

// Config holds construction parameters for the GCS driver.
type Config struct {
	Bucket          string
	CredentialsFile string // optional; default application credentials otherwise
	Endpoint        string // optional; emulator or private endpoint
	PublicBaseURL   string // optional prefix for object URLs handed to clients
}

// Store implements core.Store on one GCS bucket.
type Store struct {
	client  *storage.Client
	bucket  *storage.BucketHandle
	name    string
	baseURL string
}

// New creates a GCS-backed store. STORAGE_EMULATOR_HOST is honoured by the
// client library itself.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		base = "https://storage.googleapis.com/" + cfg.Bucket
	}
	return &Store{client: client, bucket: client.Bucket(cfg.Bucket), name: cfg.Bucket, baseURL: base}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) Driver() core.Driver { return core.DriverGCS }

func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	w := s.bucket.Object(key).NewWriter(ctx)
	w.ContentType = opts.ContentType
	w.Metadata = core.CloneMetadata(opts.Metadata)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return core.Info{}, err
	}
	// The object only becomes visible once Close succeeds.
	if err := w.Close(); err != nil {
		return core.Info{}, err
	}
	return s.fromAttrs(w.Attrs()), nil
}

func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	attrs, err := s.bucket.Object(key).Attrs(ctx)
	if err != nil {
		return core.Info{}, nil, mapErr(key, err)
	}
	rc, err := s.bucket.Object(key).Generation(attrs.Generation).NewReader(ctx)
	if err != nil {
		return core.Info{}, nil, mapErr(key, err)
	}
	return s.fromAttrs(attrs), rc, nil
}

func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	attrs, err := s.bucket.Object(key).Attrs(ctx)
	if err != nil {
		return core.Info{}, mapErr(key, err)
	}
	return s.fromAttrs(attrs), nil
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	err := s.bucket.Object(key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	var infos []core.Info
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		infos = append(infos, s.fromAttrs(attrs))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (s *Store) fromAttrs(a *storage.ObjectAttrs) core.Info {
	if a == nil {
		return core.Info{}
	}
	return core.Info{
		Key:          a.Name,
		Size:         a.Size,
		ContentType:  a.ContentType,
		ETag:         a.Etag,
		Metadata:     core.CloneMetadata(a.Metadata),
		LastModified: a.Updated.UTC(),
		URL:          s.baseURL + "/" + a.Name,
	}
}

func mapErr(key string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	return err
}
