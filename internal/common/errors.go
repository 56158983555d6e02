// Package common defines shared constants and sentinel errors used across
// the migration source and target roles. Callers should use errors.Is to
// match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound    = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrValidation     = errors.New("validation error")

	// Migration protocol errors.
	ErrInvalidToken        = errors.New("invalid token")
	ErrInvalidState        = errors.New("invalid state")
	ErrInvalidManifest     = errors.New("invalid manifest")
	ErrChunkNotFound       = errors.New("chunk not found")
	ErrChunkTransferFailed = errors.New("chunk transfer failed")
	ErrSizeMismatch        = errors.New("size mismatch")
	ErrPackaging           = errors.New("packaging error")
	ErrCorruptArchive      = errors.New("corrupt archive")
	ErrRestoreFailed       = errors.New("restore failed")
	ErrNotifyFailed        = errors.New("notify failed")

	// Token lifecycle errors.
	ErrTokenExpired = errors.New("token expired")
)

// ChunkTransferFailedError reports that one chunk could not be downloaded
// and verified within the retry budget. Index is zero-based.
type ChunkTransferFailedError struct {
	Index int
	Err   error
}

func (e *ChunkTransferFailedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("chunk transfer failed: chunk %d", e.Index)
	}
	return fmt.Sprintf("chunk transfer failed: chunk %d: %v", e.Index, e.Err)
}

// Is makes errors.Is(err, ErrChunkTransferFailed) hold for any index.
func (e *ChunkTransferFailedError) Is(target error) bool {
	return target == ErrChunkTransferFailed
}

func (e *ChunkTransferFailedError) Unwrap() error {
	return e.Err
}
