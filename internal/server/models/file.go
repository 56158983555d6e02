// Package models defines server-side data models persisted in the database
// and carried in backup archives.
package models

// Upload states of a file payload.
const (
	UploadPending   = "pending"
	UploadCompleted = "completed"
)

// File describes server-side metadata for a binary payload associated
// with an entry. The encrypted content itself is stored in object storage.
type File struct {
	// EntryID links the file to its parent entry.
	EntryID string `json:"entry_id"`
	UserID  string `json:"user_id"`
	Version int64  `json:"version"`

	// StorageKey is the object-storage key of the ciphertext blob. It is
	// local to one instance and reassigned on restore.
	StorageKey string `json:"storage_key"`
	// EncryptedFileKey is the per-file key, encrypted by the client.
	EncryptedFileKey []byte `json:"encrypted_file_key"`
	Nonce            []byte `json:"nonce"`

	UploadStatus string `json:"upload_status"`
}
