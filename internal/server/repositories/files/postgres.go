// Package files stores metadata of encrypted file payloads. The payload
// bytes live in object storage under StorageKey.
package files

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophmove/internal/common"
	"github.com/dmitrijs2005/gophmove/internal/dbx"
	"github.com/dmitrijs2005/gophmove/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert adds a file record. A record for the same entry yields
// common.ErrAlreadyExists.
func (r *PostgresRepository) Insert(ctx context.Context, file *models.File) error {
	query := `
		INSERT INTO files (entry_id, user_id, version, encrypted_file_key, nonce, upload_status, storage_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		file.EntryID, file.UserID, file.Version, file.EncryptedFileKey, file.Nonce, file.UploadStatus, file.StorageKey)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return fmt.Errorf("file %s: %w", file.EntryID, common.ErrAlreadyExists)
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ListByUser returns all file records owned by userID.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*models.File, error) {
	query := `SELECT entry_id, user_id, version, encrypted_file_key, nonce, upload_status, storage_key FROM files
		WHERE user_id=$1 ORDER BY entry_id`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	var result []*models.File
	for rows.Next() {
		var item models.File
		if err := rows.Scan(&item.EntryID, &item.UserID, &item.Version, &item.EncryptedFileKey, &item.Nonce,
			&item.UploadStatus, &item.StorageKey); err != nil {
			return nil, err
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkUploaded flips the record for entryID to completed once its payload
// is in object storage. Exactly one row must be affected.
func (r *PostgresRepository) MarkUploaded(ctx context.Context, entryID string) error {
	query := `UPDATE files SET upload_status=$2 WHERE entry_id=$1`
	result, err := r.db.ExecContext(ctx, query, entryID, models.UploadCompleted)
	if err != nil {
		return fmt.Errorf("failed to mark uploaded: %w", err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return fmt.Errorf("file %s: %w", entryID, common.ErrorNotFound)
	}
	if ra != 1 {
		return fmt.Errorf("wrong rows affected count: %d", ra)
	}
	return nil
}
