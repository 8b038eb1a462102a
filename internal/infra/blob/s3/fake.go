package s3

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // S3 ETags are MD5 digests
	"encoding/hex"
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	fakeEndpoint = "https://fake.s3.local"
	fakeBucket   = "collabdir"
	amzMeta      = "X-Amz-Meta-"
)

// NewFake returns a Store whose client talks to an in-process bucket
// through a fake HTTP transport. It lets the rest of the system run against
// the real SDK request path without network access.
func NewFake() *Store {
	return newFake(0)
}

// newFake caps list pages at pageSize keys when it is positive.
func newFake(pageSize int) *Store {
	bucket := &fakeBucketTransport{objects: make(map[string]fakeObject), pageSize: pageSize}
	cfg, _ := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(defaultRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("fake", "fake", "")),
	)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: bucket}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String(fakeEndpoint)
	})
	return newStore(client, fakeBucket, fakeEndpoint+"/"+fakeBucket)
}

type fakeObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
	modified    time.Time
}

func (o fakeObject) etag() string {
	sum := md5.Sum(o.body) //nolint:gosec
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// fakeBucketTransport answers the path-style object and ListObjectsV2
// requests the Store sends.
type fakeBucketTransport struct {
	mu       sync.Mutex
	objects  map[string]fakeObject
	pageSize int
}

func (b *fakeBucketTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, key, _ := strings.Cut(strings.TrimPrefix(req.URL.Path, "/"), "/")
	switch {
	case req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2":
		return b.list(req.URL.Query()), nil
	case req.Method == http.MethodGet, req.Method == http.MethodHead:
		return b.read(key, req.Method == http.MethodGet), nil
	case req.Method == http.MethodPut:
		return b.write(key, req)
	case req.Method == http.MethodDelete:
		delete(b.objects, key)
		return respond(http.StatusNoContent, nil, nil), nil
	default:
		return respond(http.StatusMethodNotAllowed, nil, nil), nil
	}
}

func (b *fakeBucketTransport) read(key string, withBody bool) *http.Response {
	obj, ok := b.objects[key]
	if !ok {
		return respond(http.StatusNotFound, nil, nil)
	}
	h := http.Header{}
	h.Set("Content-Length", strconv.Itoa(len(obj.body)))
	h.Set("Content-Type", obj.contentType)
	h.Set("ETag", obj.etag())
	h.Set("Last-Modified", obj.modified.Format(http.TimeFormat))
	for k, v := range obj.metadata {
		h.Set(amzMeta+k, v)
	}
	if !withBody {
		return respond(http.StatusOK, h, nil)
	}
	return respond(http.StatusOK, h, obj.body)
}

func (b *fakeBucketTransport) write(key string, req *http.Request) (*http.Response, error) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
		if decoded, ok := decodeChunked(body); ok {
			body = decoded
		}
	}
	obj := fakeObject{
		body:        body,
		contentType: req.Header.Get("Content-Type"),
		metadata:    map[string]string{},
		modified:    time.Now().UTC().Truncate(time.Second),
	}
	for name, values := range req.Header {
		name = http.CanonicalHeaderKey(name)
		if strings.HasPrefix(name, amzMeta) && len(values) > 0 {
			obj.metadata[strings.ToLower(strings.TrimPrefix(name, amzMeta))] = values[0]
		}
	}
	b.objects[key] = obj
	h := http.Header{}
	h.Set("ETag", obj.etag())
	return respond(http.StatusOK, h, nil), nil
}

type listResult struct {
	XMLName     xml.Name `xml:"ListBucketResult"`
	IsTruncated bool     `xml:"IsTruncated"`
	NextToken   string   `xml:"NextContinuationToken,omitempty"`
	KeyCount    int      `xml:"KeyCount"`
	Contents    []listEntry
}

type listEntry struct {
	Key          string `xml:"Key"`
	Size         int    `xml:"Size"`
	ETag         string `xml:"ETag"`
	LastModified string `xml:"LastModified"`
}

// list pages through the sorted keys; the continuation token is the offset
// of the next key.
func (b *fakeBucketTransport) list(q url.Values) *http.Response {
	prefix := q.Get("prefix")
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	start, _ := strconv.Atoi(q.Get("continuation-token"))
	start = min(max(start, 0), len(keys))
	end := len(keys)
	if b.pageSize > 0 {
		end = min(start+b.pageSize, end)
	}
	res := listResult{KeyCount: end - start}
	if end < len(keys) {
		res.IsTruncated = true
		res.NextToken = strconv.Itoa(end)
	}
	for _, k := range keys[start:end] {
		obj := b.objects[k]
		res.Contents = append(res.Contents, listEntry{
			Key:          k,
			Size:         len(obj.body),
			ETag:         obj.etag(),
			LastModified: obj.modified.Format(time.RFC3339),
		})
	}
	raw, _ := xml.Marshal(res)
	h := http.Header{}
	h.Set("Content-Type", "application/xml")
	return respond(http.StatusOK, h, raw)
}

func respond(status int, h http.Header, body []byte) *http.Response {
	if h == nil {
		h = http.Header{}
	}
	return &http.Response{StatusCode: status, Header: h, Body: io.NopCloser(bytes.NewReader(body))}
}

// decodeChunked strips aws-chunked framing (hex size, optional extension,
// CRLF, data, CRLF, repeated until a zero-size chunk).
func decodeChunked(b []byte) ([]byte, bool) {
	var out []byte
	for {
		line, rest, ok := bytes.Cut(b, []byte("\r\n"))
		if !ok {
			return nil, false
		}
		size, _, _ := strings.Cut(string(line), ";")
		n, err := strconv.ParseInt(size, 16, 64)
		if err != nil || n < 0 {
			return nil, false
		}
		if n == 0 {
			return out, true
		}
		if int64(len(rest)) < n+2 || !bytes.Equal(rest[n:n+2], []byte("\r\n")) {
			return nil, false
		}
		out = append(out, rest[:n]...)
		b = rest[n+2:]
	}
}
