// Package storage defines the blob storage abstraction shared by the artifact
// writer and reader. Implementations live in the local, gcs and memory
// subpackages.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by GetObject when no object exists at the path.
var ErrNotFound = errors.New("object not found")

// BlobStore persists opaque objects under slash-separated paths.
type BlobStore interface {
	// PutObject writes the object and returns its URI.
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	// GetObject returns the object's content or an error wrapping ErrNotFound.
	GetObject(ctx context.Context, path string) ([]byte, error)
}
