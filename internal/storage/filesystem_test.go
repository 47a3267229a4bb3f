package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteAndURL(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "http://localhost:8080/static")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	key, err := store.Write(context.Background(), "videos/j1/final.mp4", []byte("data"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if key != "videos/j1/final.mp4" {
		t.Fatalf("key = %q", key)
	}
	if got := store.URL(key); got != "http://localhost:8080/static/videos/j1/final.mp4" {
		t.Fatalf("URL = %q", got)
	}
	data, err := os.ReadFile(filepath.Join(store.BasePath(), "videos/j1/final.mp4"))
	if err != nil || string(data) != "data" {
		t.Fatalf("read back: %q %v", data, err)
	}
}

func TestWriteFrom(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	key, err := store.WriteFrom(context.Background(), "videos/out.mp4", strings.NewReader("streamed"))
	if err != nil {
		t.Fatalf("WriteFrom: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(store.BasePath(), key))
	if err != nil || string(data) != "streamed" {
		t.Fatalf("read back: %q %v", data, err)
	}
}

func TestSanitizeKeyRejectsTraversal(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	for _, key := range []string{"", "../escape.mp4", "a/../../b"} {
		if _, err := store.Write(context.Background(), key, []byte("x")); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
}
