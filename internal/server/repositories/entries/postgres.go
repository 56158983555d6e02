// Package entries provides PostgreSQL-backed storage for encrypted vault
// entries.
package entries

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophmove/internal/common"
	"github.com/dmitrijs2005/gophmove/internal/dbx"
	"github.com/dmitrijs2005/gophmove/internal/server/models"
)

// PostgresRepository implements entry storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert stores entry as is, keeping its ID, tombstone flag and version.
// An existing row with the same ID yields common.ErrAlreadyExists.
func (r *PostgresRepository) Insert(ctx context.Context, entry *models.Entry) error {
	query := `
		INSERT INTO entries (id, user_id, overview, nonce_overview, details, nonce_details, deleted, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	res, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.UserID, entry.Overview, entry.NonceOverview, entry.Details, entry.NonceDetails,
		entry.Deleted, entry.Version)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return fmt.Errorf("entry %s: %w", entry.ID, common.ErrAlreadyExists)
		}
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
	return nil
}

// ListByUser returns every entry of userID, tombstones included, ordered
// by version.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*models.Entry, error) {
	query := `SELECT id, user_id, overview, nonce_overview, details, nonce_details, deleted, version FROM entries
		WHERE user_id=$1 ORDER BY version, id`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select entries: %w", err)
	}
	defer rows.Close()

	var result []*models.Entry
	for rows.Next() {
		var item models.Entry
		if err := rows.Scan(
			&item.ID, &item.UserID, &item.Overview, &item.NonceOverview, &item.Details, &item.NonceDetails,
			&item.Deleted, &item.Version,
		); err != nil {
			return nil, err
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
