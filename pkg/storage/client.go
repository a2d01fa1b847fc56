// Package storage implements the agent's blob storage on top of the
// warehouse stage.
package storage

import (
	"context"
	"time"
)

// Client reads and writes blobs. The production implementation is the
// stage-backed client, tests inject fakes.
type Client interface {
	// BucketName returns the storage namespace referenced by this client
	BucketName() string
	// Write stores contents at key
	Write(ctx context.Context, key string, contents []byte) error
	// Read returns the contents at key, inflating gzip content when
	// decompress is set
	Read(ctx context.Context, key string, decompress bool) ([]byte, error)
	// Delete removes the blob at key
	Delete(ctx context.Context, key string) error
	// DownloadFile copies the blob at key to a local file
	DownloadFile(ctx context.Context, key, downloadPath string) error
	// UploadFile stores a local file at key
	UploadFile(ctx context.Context, key, localFilePath string) error
	// GeneratePresignedURL returns a URL giving direct access to key
	GeneratePresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error)
	// IsBucketPrivate reports whether public access is disabled
	IsBucketPrivate() bool
}
