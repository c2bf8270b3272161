// Package storage provides object storage abstractions for the raw
// event partition data consumed by the pipeline.
package storage

import (
	"context"
	"errors"
	"io"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrListFailed     = errors.New("listing failed")
	ErrDownloadFailed = errors.New("download failed")
)

// ObjectStorage abstracts the read side of cloud object storage.
// Implementations include S3 and local filesystem for testing.
type ObjectStorage interface {
	// ListObjects returns all object keys under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)

	// Download opens an object's contents for streaming. The caller
	// closes the returned reader.
	Download(ctx context.Context, objectPath string) (io.ReadCloser, error)

	// URI returns the storage-native URI for an object key, in the
	// form the warehouse's bulk-load statement accepts.
	URI(objectPath string) string
}
