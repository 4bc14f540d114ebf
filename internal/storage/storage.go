// Package storage provides temporary file handling and public media publishing.
// It defines the Storage interface (port) and implementations for local disk
// and S3.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrInvalidKey is returned when an object key is empty or escapes its root.
var ErrInvalidKey = errors.New("storage: invalid object key")

// Storage defines the interface for temporary files and published media.
type Storage interface {
	// SaveTemp saves data to a temporary file and returns the file path.
	// The name parameter is used as a hint for the filename.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// LoadTemp reads a temporary file and returns a reader.
	// The caller is responsible for closing the returned ReadCloser.
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the specified temporary files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// Publish stores data under key and returns a URL external providers can fetch.
	Publish(ctx context.Context, key, contentType string, data []byte) (url string, err error)
}
