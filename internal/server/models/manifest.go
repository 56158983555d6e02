package models

import (
	"fmt"

	"github.com/dmitrijs2005/gophmove/internal/common"
)

// ChunkInfo describes one piece of a split archive.
type ChunkInfo struct {
	Index int    `json:"index"`
	Size  int64  `json:"size"`
	Hash  string `json:"hash"`
}

// Manifest lists the chunks a prepared archive was split into.
type Manifest struct {
	TotalChunks int         `json:"total_chunks"`
	TotalSize   int64       `json:"total_size"`
	Chunks      []ChunkInfo `json:"chunks"`
}

// Validate checks the manifest structure: the chunk count matches
// TotalChunks, indices run contiguously from zero and the chunk sizes add up
// to TotalSize. A size disagreement is reported as ErrSizeMismatch.
func (m *Manifest) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: empty manifest", common.ErrInvalidManifest)
	}
	if m.TotalChunks != len(m.Chunks) {
		return fmt.Errorf("%w: total_chunks %d but %d chunks listed", common.ErrInvalidManifest, m.TotalChunks, len(m.Chunks))
	}
	if m.TotalSize < 0 {
		return fmt.Errorf("%w: negative total_size", common.ErrInvalidManifest)
	}
	for i, c := range m.Chunks {
		if c.Index != i {
			return fmt.Errorf("%w: chunk at position %d has index %d", common.ErrInvalidManifest, i, c.Index)
		}
		if c.Size < 0 {
			return fmt.Errorf("%w: chunk %d has negative size", common.ErrInvalidManifest, i)
		}
	}
	if sum := m.DeclaredSize(); sum != m.TotalSize {
		return fmt.Errorf("%w: chunks add up to %d bytes, total_size is %d", common.ErrSizeMismatch, sum, m.TotalSize)
	}
	return nil
}

// DeclaredSize returns the sum of the chunk sizes.
func (m *Manifest) DeclaredSize() int64 {
	var n int64
	for _, c := range m.Chunks {
		n += c.Size
	}
	return n
}
