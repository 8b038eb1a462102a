// Package s3 stores blobs in a single S3 bucket, on AWS or on an
// S3-compatible service such as MinIO.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"collabdir/internal/blob/core"
)

const defaultRegion = "us-east-1"

// Config describes the bucket and how to reach it. Static credentials are
// used only when both key parts are set; otherwise the default AWS chain
// applies.
type Config struct {
	Region          string
	Bucket          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	PathStyle       bool
	// PublicBaseURL replaces the bucket address in object URLs, e.g. a CDN.
	PublicBaseURL string
}

// Store implements core.Store. Keys are used as object keys unchanged.
type Store struct {
	client  *s3.Client
	bucket  string
	baseURL string
	now     func() time.Time
}

// New builds a client for cfg. No request is sent until the first operation.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("s3: bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
		opts = append(opts, config.WithCredentialsProvider(creds))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3 config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newStore(client, cfg.Bucket, publicBase(cfg)), nil
}

func newStore(client *s3.Client, bucket, baseURL string) *Store {
	return &Store{client: client, bucket: bucket, baseURL: baseURL, now: time.Now}
}

// publicBase picks the prefix for object URLs: an explicit public URL, the
// custom endpoint in path style, or the virtual-hosted AWS address.
func publicBase(cfg Config) string {
	if cfg.PublicBaseURL != "" {
		return strings.TrimRight(cfg.PublicBaseURL, "/")
	}
	if cfg.Endpoint != "" {
		return strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com", cfg.Bucket)
}

// Driver implements core.Store.
func (s *Store) Driver() core.Driver { return core.DriverS3 }

// Put implements core.Store. The body is buffered so the request carries
// a length and can be re-sent on retry; stored tables and pictures are
// small enough for that.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, fmt.Errorf("s3 put %s: %w", key, err)
	}
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		Metadata:      core.CloneMetadata(opts.Metadata),
	}
	if opts.ContentType != "" {
		in.ContentType = aws.String(opts.ContentType)
	}
	out, err := s.client.PutObject(ctx, in)
	if err != nil {
		return core.Info{}, fmt.Errorf("s3 put %s: %w", key, err)
	}
	return core.Info{
		Key:          key,
		Size:         int64(len(body)),
		ContentType:  opts.ContentType,
		ETag:         trimETag(out.ETag),
		Metadata:     core.CloneMetadata(opts.Metadata),
		LastModified: s.now().UTC(),
		URL:          s.objectURL(key),
	}, nil
}

// Get implements core.Store.
func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return core.Info{}, nil, notFound(key, "get", err)
	}
	info := s.describe(key, objectAttrs{
		size:        out.ContentLength,
		contentType: out.ContentType,
		etag:        out.ETag,
		metadata:    out.Metadata,
		modified:    out.LastModified,
	})
	return info, out.Body, nil
}

// Head implements core.Store.
func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return core.Info{}, notFound(key, "head", err)
	}
	return s.describe(key, objectAttrs{
		size:        out.ContentLength,
		contentType: out.ContentType,
		etag:        out.ETag,
		metadata:    out.Metadata,
		modified:    out.LastModified,
	}), nil
}

// Delete implements core.Store. S3 accepts deletes of absent keys, so a
// Head decides the reported result.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	_, err := s.Head(ctx, key)
	switch {
	case errors.Is(err, core.ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)}); err != nil {
		return false, fmt.Errorf("s3 delete %s: %w", key, err)
	}
	return true, nil
}

// List implements core.Store, following continuation tokens until the
// listing is complete. Listings carry no user metadata.
func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	var out []core.Info
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			out = append(out, core.Info{
				Key:          key,
				Size:         aws.ToInt64(obj.Size),
				ETag:         trimETag(obj.ETag),
				LastModified: aws.ToTime(obj.LastModified),
				URL:          s.objectURL(key),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) objectURL(key string) string { return s.baseURL + "/" + key }

// objectAttrs is the part of a Get or Head response that feeds core.Info.
type objectAttrs struct {
	size        *int64
	contentType *string
	etag        *string
	metadata    map[string]string
	modified    *time.Time
}

func (s *Store) describe(key string, a objectAttrs) core.Info {
	info := core.Info{
		Key:          key,
		Size:         aws.ToInt64(a.size),
		ContentType:  aws.ToString(a.contentType),
		ETag:         trimETag(a.etag),
		LastModified: aws.ToTime(a.modified),
		URL:          s.objectURL(key),
	}
	if len(a.metadata) > 0 {
		// The SDK hands metadata back with whatever casing the HTTP layer
		// produced; callers look keys up in lower case.
		info.Metadata = make(map[string]string, len(a.metadata))
		for k, v := range a.metadata {
			info.Metadata[strings.ToLower(k)] = v
		}
	}
	return info
}

func trimETag(etag *string) string { return strings.Trim(aws.ToString(etag), `"`) }

// notFound maps the SDK's missing-key errors onto core.ErrNotFound. Head
// responses have no body and some S3-compatible services answer with
// untyped error codes, so both the code and a bare 404 status count.
func notFound(key, op string, err error) error {
	var noKey *types.NoSuchKey
	var missing *types.NotFound
	var apiErr smithy.APIError
	var resp *awshttp.ResponseError
	switch {
	case errors.As(err, &noKey), errors.As(err, &missing):
	case errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound"):
	case errors.As(err, &resp) && resp.HTTPStatusCode() == http.StatusNotFound:
	default:
		return fmt.Errorf("s3 %s %s: %w", op, key, err)
	}
	return fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
}
