package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func newTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	return store
}

func putObject(t *testing.T, store *LocalStorage, key, content string) {
	t.Helper()
	path := store.fullPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLocalStorage_ListObjects(t *testing.T) {
	store := newTestStorage(t)
	putObject(t, store, "events/data/events-2024-03-01.csv", "a")
	putObject(t, store, "events/data/events-2024-03-02.csv", "b")
	putObject(t, store, "other/data/events-2024-03-03.csv", "c")

	objects, err := store.ListObjects(context.Background(), "events/data/")
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	if len(objects) != 2 {
		t.Fatalf("got %d objects, want 2: %v", len(objects), objects)
	}
}

func TestLocalStorage_ListObjects_EmptyPrefix(t *testing.T) {
	store := newTestStorage(t)
	objects, err := store.ListObjects(context.Background(), "missing/")
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	if len(objects) != 0 {
		t.Errorf("got %v, want none", objects)
	}
}

func TestLocalStorage_Download(t *testing.T) {
	store := newTestStorage(t)
	putObject(t, store, "events/data/events-2024-03-01.csv", "ts,uid\n1,abc\n")

	rc, err := store.Download(context.Background(), "events/data/events-2024-03-01.csv")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "ts,uid\n1,abc\n" {
		t.Errorf("downloaded content = %q", data)
	}
}

func TestLocalStorage_Download_NotFound(t *testing.T) {
	store := newTestStorage(t)
	_, err := store.Download(context.Background(), "events/missing.csv")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("got %v, want ErrObjectNotFound", err)
	}
}

func TestLocalStorage_URI(t *testing.T) {
	store := newTestStorage(t)
	putObject(t, store, "events/data/events-2024-03-01.csv", "x")
	uri := store.URI("events/data/events-2024-03-01.csv")
	if _, err := os.Stat(uri); err != nil {
		t.Errorf("URI should be a readable path: %v", err)
	}
}

func TestLocalStorage_ContextCancelled(t *testing.T) {
	store := newTestStorage(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.ListObjects(ctx, ""); err == nil {
		t.Error("expected error from cancelled context")
	}
}
