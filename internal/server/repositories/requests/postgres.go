package requests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophmove/internal/common"
	"github.com/dmitrijs2005/gophmove/internal/dbx"
	"github.com/dmitrijs2005/gophmove/internal/server/models"
)

// PostgresRepository stores requests in migration_requests over dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, req *models.MigrationRequest) error {
	query := `
		INSERT INTO migration_requests (id, direction, source_domain, target_domain, username, email, user_id,
			token, token_expires_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7, $8, $9, $10, $11, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		req.ID, req.Direction, req.SourceDomain, req.TargetDomain, req.UserName, req.Email, req.UserID,
		req.Token, req.TokenExpiresAt, req.Status, req.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return fmt.Errorf("migration request: %w", common.ErrAlreadyExists)
		}
		return fmt.Errorf("db error: %w", err)
	}
	req.UpdatedAt = req.CreatedAt
	return nil
}

const selectRequest = `SELECT id, direction, source_domain, COALESCE(target_domain, ''), username, COALESCE(email, ''),
		user_id, token, token_expires_at, status, COALESCE(accepted_by, ''), COALESCE(rejection_reason, ''),
		completed_at, COALESCE(error_message, ''), created_at, updated_at
		FROM migration_requests`

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(s scanner) (*models.MigrationRequest, error) {
	var (
		req       models.MigrationRequest
		completed sql.NullTime
	)
	err := s.Scan(&req.ID, &req.Direction, &req.SourceDomain, &req.TargetDomain, &req.UserName, &req.Email,
		&req.UserID, &req.Token, &req.TokenExpiresAt, &req.Status, &req.AcceptedBy, &req.RejectionReason,
		&completed, &req.ErrorMessage, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if completed.Valid {
		t := completed.Time
		req.CompletedAt = &t
	}
	return &req, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.MigrationRequest, error) {
	return r.getOne(ctx, selectRequest+` WHERE id = $1`, id)
}

func (r *PostgresRepository) FindByToken(ctx context.Context, direction models.Direction, token string) (*models.MigrationRequest, error) {
	return r.getOne(ctx, selectRequest+` WHERE direction = $1 AND token = $2`, direction, token)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, args ...any) (*models.MigrationRequest, error) {
	req, err := scanRequest(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return req, nil
}

// List returns requests matching filter, newest first.
func (r *PostgresRepository) List(ctx context.Context, filter models.RequestFilter) ([]*models.MigrationRequest, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Direction != "" {
		args = append(args, filter.Direction)
		conds = append(conds, fmt.Sprintf("direction = $%d", len(args)))
	}

	query := selectRequest
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select migration requests: %w", err)
	}
	defer rows.Close()

	var result []*models.MigrationRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, upd models.StatusUpdate) error {
	if !upd.From.CanTransitionTo(upd.To) {
		return fmt.Errorf("%w: %s -> %s", common.ErrInvalidState, upd.From, upd.To)
	}

	var completed sql.NullTime
	if upd.CompletedAt != nil {
		completed = sql.NullTime{Time: *upd.CompletedAt, Valid: true}
	}

	query := `
		UPDATE migration_requests SET
			status = $3,
			accepted_by = COALESCE(NULLIF($4, ''), accepted_by),
			rejection_reason = COALESCE(NULLIF($5, ''), rejection_reason),
			error_message = COALESCE(NULLIF($6, ''), error_message),
			completed_at = COALESCE($7, completed_at),
			updated_at = $8
		WHERE id = $1 AND status = $2
	`
	res, err := r.db.ExecContext(ctx, query,
		upd.ID, upd.From, upd.To, upd.AcceptedBy, upd.RejectionReason, upd.ErrorMessage, completed, upd.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("%w: request %s is no longer %s", common.ErrInvalidState, upd.ID, upd.From)
	}
	return nil
}

func (r *PostgresRepository) FailInterrupted(ctx context.Context, now time.Time, message string) ([]string, error) {
	query := `
		UPDATE migration_requests SET status = 'failed', error_message = $1, updated_at = $2
		WHERE direction = 'incoming' AND status = 'transferring'
		RETURNING id
	`
	return r.failMany(ctx, query, message, now)
}

func (r *PostgresRepository) FailExpired(ctx context.Context, now time.Time, message string) ([]string, error) {
	query := `
		UPDATE migration_requests SET status = 'failed', error_message = $1, updated_at = $2
		WHERE token_expires_at <= $2
			AND (status IN ('pending', 'accepted') OR (status = 'transferring' AND direction = 'outgoing'))
		RETURNING id
	`
	return r.failMany(ctx, query, message, now)
}

func (r *PostgresRepository) failMany(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
