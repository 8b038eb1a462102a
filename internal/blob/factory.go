package blob

import (
	"context"
	"fmt"
	"io"

	"collabdir/internal/infra/blob/badger"
	"collabdir/internal/infra/blob/fs"
	"collabdir/internal/infra/blob/gcs"
	"collabdir/internal/infra/blob/memory"
	"collabdir/internal/infra/blob/postgres"
	"collabdir/internal/infra/blob/s3"
	"collabdir/internal/infra/blob/sqlite"
)

// S3Options configures the S3 driver.
type S3Options struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	PathStyle       bool
}

// GCSOptions configures the Google Cloud Storage driver.
type GCSOptions struct {
	Bucket          string
	CredentialsFile string
	Endpoint        string
}

// Options selects and configures a driver.
type Options struct {
	Driver        Driver
	PublicBaseURL string
	FSRoot        string
	S3            S3Options
	GCS           GCSOptions
	BadgerDir     string
	SQLitePath    string
	PostgresDSN   string
}

// Open constructs the blob.Store named by opts.Driver (default s3).
func Open(ctx context.Context, opts Options) (Store, error) {
	driver, err := ParseDriver(string(opts.Driver))
	if err != nil {
		return nil, err
	}
	switch driver {
	case DriverFilesystem:
		return fs.New(opts.FSRoot, opts.PublicBaseURL)
	case DriverS3:
		return s3.New(ctx, s3.Config{
			Bucket:          opts.S3.Bucket,
			Region:          opts.S3.Region,
			Endpoint:        opts.S3.Endpoint,
			AccessKeyID:     opts.S3.AccessKeyID,
			SecretAccessKey: opts.S3.SecretAccessKey,
			SessionToken:    opts.S3.SessionToken,
			PathStyle:       opts.S3.PathStyle,
			PublicBaseURL:   opts.PublicBaseURL,
		})
	case DriverGCS:
		return gcs.New(ctx, gcs.Config{
			Bucket:          opts.GCS.Bucket,
			CredentialsFile: opts.GCS.CredentialsFile,
			Endpoint:        opts.GCS.Endpoint,
			PublicBaseURL:   opts.PublicBaseURL,
		})
	case DriverBadger:
		return badger.New(badger.Config{Dir: opts.BadgerDir, InMemory: opts.BadgerDir == ":memory:"})
	case DriverSQLite:
		return sqlite.New(ctx, opts.SQLitePath)
	case DriverPostgres:
		return postgres.New(ctx, opts.PostgresDSN)
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("blob driver %s has no constructor", driver)
	}
}

// Close releases driver resources when the store holds any.
func Close(s Store) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// NewMemory returns an in-memory store for tests and local runs.
func NewMemory() Store { return memory.New() }

// NewMockS3 returns an S3 store backed by an in-process fake transport.
func NewMockS3() Store { return s3.NewFake() }
