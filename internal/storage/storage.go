// Package storage is the object store that audit chain segments are archived to.
//
// Backends register a constructor from their own init() and are picked by
// storage.default_backend. cmd/server blank-imports every backend package, so
// adding one needs no change here:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (storage.Storage, error) {
//	        return New(&cfg.Storage.MyBackend)
//	    })
//	}
//
// Archived objects are write-once. Upload refuses to replace an existing object
// and returns ErrObjectExists, so an export can never overwrite an earlier copy
// of the chain.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gigmarket/marketplace/pkg/checksum"
)

var (
	// ErrObjectExists is returned by Upload when the path is already taken.
	ErrObjectExists = errors.New("object already exists")
	// ErrObjectNotFound is returned by Download and GetMetadata for a missing path.
	ErrObjectNotFound = errors.New("object not found")
)

// ChecksumMetaKey is the object metadata key holding the hex SHA-256 of the content.
const ChecksumMetaKey = "sha256"

// ContentType is the media type archived segments are stored with.
const ContentType = "application/x-ndjson"

// Storage is implemented by every backend.
type Storage interface {
	// Upload stores a new object. It never overwrites.
	Upload(ctx context.Context, path string, reader io.Reader, size int64) (*UploadResult, error)

	// Download opens the object for reading.
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// GetURL returns a download URL. Cloud backends sign it for ttl.
	GetURL(ctx context.Context, path string, ttl time.Duration) (string, error)

	// Exists reports whether an object is stored at path.
	Exists(ctx context.Context, path string) (bool, error)

	// GetMetadata returns size, checksum and modification time without
	// downloading when the backend kept the checksum at upload time.
	GetMetadata(ctx context.Context, path string) (*FileMetadata, error)
}

// UploadResult describes a stored object
type UploadResult struct {
	Path     string
	Size     int64
	Checksum string
}

// FileMetadata describes a stored object without its content
type FileMetadata struct {
	Path         string
	Size         int64
	Checksum     string
	LastModified time.Time
}

// ReadAll buffers reader and returns the content with its hex SHA-256. Cloud
// backends need the checksum before the request is sent, to store it as metadata.
func ReadAll(reader io.Reader) ([]byte, string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read data: %w", err)
	}
	return data, checksum.Sum(data), nil
}

// NotFound wraps ErrObjectNotFound with the path.
func NotFound(path string) error {
	return fmt.Errorf("%w: %s", ErrObjectNotFound, path)
}

// Exists wraps ErrObjectExists with the path.
func Exists(path string) error {
	return fmt.Errorf("%w: %s", ErrObjectExists, path)
}
