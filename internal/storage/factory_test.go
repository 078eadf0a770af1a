package storage_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/gigmarket/marketplace/internal/config"
	"github.com/gigmarket/marketplace/internal/storage"
)

type mockStorage struct{}

func (m *mockStorage) Upload(_ context.Context, _ string, _ io.Reader, _ int64) (*storage.UploadResult, error) {
	return nil, nil
}
func (m *mockStorage) Download(_ context.Context, _ string) (io.ReadCloser, error) { return nil, nil }
func (m *mockStorage) GetURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", nil
}
func (m *mockStorage) Exists(_ context.Context, _ string) (bool, error) { return false, nil }
func (m *mockStorage) GetMetadata(_ context.Context, _ string) (*storage.FileMetadata, error) {
	return nil, nil
}

func TestRegister_AddsFactory(t *testing.T) {
	storage.Register("test-backend", func(_ *config.Config) (storage.Storage, error) {
		return &mockStorage{}, nil
	})

	cfg := &config.Config{}
	cfg.Storage.DefaultBackend = "test-backend"

	s, err := storage.NewStorage(cfg)
	if err != nil {
		t.Fatalf("NewStorage() error: %v", err)
	}
	if s == nil {
		t.Fatal("NewStorage() returned nil")
	}
}

func TestNewStorage_UnknownBackend(t *testing.T) {
	for _, name := range []string{"completely-unknown-backend", ""} {
		cfg := &config.Config{}
		cfg.Storage.DefaultBackend = name

		_, err := storage.NewStorage(cfg)
		if err == nil {
			t.Errorf("NewStorage(%q) = nil error, want error", name)
			continue
		}
		if !strings.Contains(err.Error(), "registered:") {
			t.Errorf("error %q does not list registered backends", err)
		}
	}
}

func TestReadAll(t *testing.T) {
	data, sum, err := storage.ReadAll(strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("data = %q", data)
	}
	const want = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if sum != want {
		t.Errorf("checksum = %s, want %s", sum, want)
	}
}

func TestSentinelWrapping(t *testing.T) {
	if !errors.Is(storage.NotFound("a/b"), storage.ErrObjectNotFound) {
		t.Error("NotFound does not wrap ErrObjectNotFound")
	}
	if !errors.Is(storage.Exists("a/b"), storage.ErrObjectExists) {
		t.Error("Exists does not wrap ErrObjectExists")
	}
}
