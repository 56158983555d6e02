// Package blobstore keeps encrypted file payloads in S3-compatible object
// storage.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// Store is the object storage used for file payloads.
type Store interface {
	// Get opens the object at key and reports its size in bytes.
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Put(ctx context.Context, key string, body io.Reader, size int64) error
	Delete(ctx context.Context, key string) error
}

// NewStorageKey returns a fresh object key for a payload owned by userID.
func NewStorageKey(userID string) string {
	d := time.Now().UTC()
	return fmt.Sprintf("users/%s/%d/%02d/%02d/%v", userID, d.Year(), d.Month(), d.Day(), uuid.New())
}
