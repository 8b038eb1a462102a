package sqlite

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"collabdir/internal/blob/core"
)

func TestStore_RoundTripOverwriteDelete(t *testing.T) {
	ctx := context.Background()
	store, err := New(ctx, filepath.Join(t.TempDir(), "nested", "blobs.db"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = store.Close() }()
	if store.Driver() != core.DriverSQLite {
		t.Fatalf("unexpected driver %s", store.Driver())
	}
	if _, err := store.Put(ctx, "collaborators.csv", bytes.NewReader([]byte("index\n")), core.PutOptions{ContentType: "text/csv", Metadata: map[string]string{"last-index": "0"}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, "collaborators.csv", bytes.NewReader([]byte("index\n1\n")), core.PutOptions{ContentType: "text/csv", Metadata: map[string]string{"last-index": "1"}}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	info, rc, err := store.Get(ctx, "collaborators.csv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "index\n1\n" || info.Metadata["last-index"] != "1" || info.ContentType != "text/csv" {
		t.Fatalf("unexpected object %q %+v", body, info)
	}
	head, err := store.Head(ctx, "collaborators.csv")
	if err != nil || head.Size != int64(len(body)) || head.ETag != info.ETag {
		t.Fatalf("head mismatch: %+v %v", head, err)
	}
	if ok, err := store.Delete(ctx, "collaborators.csv"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, err := store.Delete(ctx, "collaborators.csv"); err != nil || ok {
		t.Fatalf("second delete: %v %v", ok, err)
	}
	if _, _, err := store.Get(ctx, "collaborators.csv"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Head(ctx, "collaborators.csv"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ListPrefix(t *testing.T) {
	ctx := context.Background()
	store, err := New(ctx, ":memory:")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = store.Close() }()
	for _, k := range []string{"profile_pictures/2.png", "profile_pictures/1.png", "admins.csv", "profile_pictures_old/x.png"} {
		if _, err := store.Put(ctx, k, bytes.NewReader([]byte("x")), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	list, err := store.List(ctx, "profile_pictures/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Key != "profile_pictures/1.png" || list[0].Size != 1 {
		t.Fatalf("unexpected list %+v", list)
	}
	all, err := store.List(ctx, "")
	if err != nil || len(all) != 4 {
		t.Fatalf("list all: %v %d", err, len(all))
	}
}

func TestStore_EmptyKeyRejected(t *testing.T) {
	ctx := context.Background()
	store, err := New(ctx, ":memory:")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = store.Close() }()
	if _, err := store.Put(ctx, "", bytes.NewReader(nil), core.PutOptions{}); err == nil {
		t.Fatalf("expected empty key error")
	}
}

func TestDSNSetsBusyTimeout(t *testing.T) {
	if got := dsn(":memory:"); got != ":memory:" {
		t.Fatalf("memory dsn = %s", got)
	}
	if got := dsn("/var/lib/collabdir/blobs.db"); got != "file:/var/lib/collabdir/blobs.db?_pragma=busy_timeout%285000%29" {
		t.Fatalf("file dsn = %s", got)
	}
}
