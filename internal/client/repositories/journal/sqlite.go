package journal

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophmove/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Append stores rec and sets its ID.
func (r *SQLiteRepository) Append(ctx context.Context, rec *Record) error {
	query := `INSERT INTO journal (at, server, command, request_id, outcome) VALUES (?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, rec.At.UTC(), rec.Server, rec.Command, rec.RequestID, rec.Outcome)
	if err != nil {
		return fmt.Errorf("failed to append journal record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get journal id: %w", err)
	}
	rec.ID = id
	return nil
}

func (r *SQLiteRepository) Latest(ctx context.Context, limit int) ([]*Record, error) {
	query := `SELECT id, at, server, command, request_id, outcome FROM journal ORDER BY id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select journal: %w", err)
	}
	defer rows.Close()

	var result []*Record
	for rows.Next() {
		rec := &Record{}
		if err := rows.Scan(&rec.ID, &rec.At, &rec.Server, &rec.Command, &rec.RequestID, &rec.Outcome); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
