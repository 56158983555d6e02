package requests

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/gophmove/internal/common"
	"github.com/dmitrijs2005/gophmove/internal/server/models"
	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db), mock, db
}

var (
	now     = time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	reqCols = []string{"id", "direction", "source_domain", "target_domain", "username", "email", "user_id",
		"token", "token_expires_at", "status", "accepted_by", "rejection_reason", "completed_at",
		"error_message", "created_at", "updated_at"}
)

func sampleRow(rows *sqlmock.Rows, id string, status models.Status, completed any) *sqlmock.Rows {
	return rows.AddRow(id, "incoming", "a.example", "", "alice", "a@a.example", "uid-1",
		"tok", now.Add(time.Hour), string(status), "ops", "", completed, "", now, now)
}

func TestCreate(t *testing.T) {
	q := `(?s)^INSERT\s+INTO\s+migration_requests\s*\(id,\s*direction,.*VALUES`
	req := &models.MigrationRequest{
		ID: "r1", Direction: models.DirectionIncoming, SourceDomain: "a.example", UserName: "alice",
		UserID: "uid-1", Token: "tok", TokenExpiresAt: now.Add(time.Hour), Status: models.StatusPending, CreatedAt: now,
	}

	t.Run("ok", func(t *testing.T) {
		repo, mock, _ := newRepoWithMock(t)
		mock.ExpectExec(q).
			WithArgs("r1", models.DirectionIncoming, "a.example", "", "alice", "", "uid-1", "tok",
				now.Add(time.Hour), models.StatusPending, now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Create(context.Background(), req))
		assert.Equal(t, now, req.UpdatedAt)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate token", func(t *testing.T) {
		repo, mock, _ := newRepoWithMock(t)
		mock.ExpectExec(q).WillReturnError(&pgconn.PgError{Code: "23505"})
		require.ErrorIs(t, repo.Create(context.Background(), req), common.ErrAlreadyExists)
	})

	t.Run("db error", func(t *testing.T) {
		repo, mock, _ := newRepoWithMock(t)
		mock.ExpectExec(q).WillReturnError(errors.New("down"))
		err := repo.Create(context.Background(), req)
		require.Error(t, err)
		assert.Regexp(t, `db error: .*down`, err.Error())
	})
}

func TestGetByID(t *testing.T) {
	q := `FROM\s+migration_requests\s+WHERE\s+id\s*=\s*\$1$`

	t.Run("found with completed_at", func(t *testing.T) {
		repo, mock, _ := newRepoWithMock(t)
		done := now.Add(2 * time.Hour)
		mock.ExpectQuery(q).WithArgs("r1").
			WillReturnRows(sampleRow(sqlmock.NewRows(reqCols), "r1", models.StatusCompleted, done))

		got, err := repo.GetByID(context.Background(), "r1")
		require.NoError(t, err)

		want := &models.MigrationRequest{
			ID: "r1", Direction: models.DirectionIncoming, SourceDomain: "a.example", UserName: "alice",
			Email: "a@a.example", UserID: "uid-1", Token: "tok", TokenExpiresAt: now.Add(time.Hour),
			Status: models.StatusCompleted, AcceptedBy: "ops", CompletedAt: &done, CreatedAt: now, UpdatedAt: now,
		}
		assert.Empty(t, cmp.Diff(want, got))
	})

	t.Run("not found", func(t *testing.T) {
		repo, mock, _ := newRepoWithMock(t)
		mock.ExpectQuery(q).WithArgs("nope").WillReturnError(sql.ErrNoRows)
		_, err := repo.GetByID(context.Background(), "nope")
		require.ErrorIs(t, err, common.ErrorNotFound)
	})
}

func TestFindByToken(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)
	mock.ExpectQuery(`WHERE\s+direction\s*=\s*\$1\s+AND\s+token\s*=\s*\$2$`).
		WithArgs(models.DirectionOutgoing, "tok").
		WillReturnRows(sampleRow(sqlmock.NewRows(reqCols), "r9", models.StatusPending, nil))

	got, err := repo.FindByToken(context.Background(), models.DirectionOutgoing, "tok")
	require.NoError(t, err)
	assert.Equal(t, "r9", got.ID)
	assert.Nil(t, got.CompletedAt)
}

func TestList_BuildsFilter(t *testing.T) {
	tests := []struct {
		name   string
		filter models.RequestFilter
		query  string
		args   []driver.Value
	}{
		{"no filter", models.RequestFilter{}, `FROM migration_requests ORDER BY created_at DESC, id$`, nil},
		{"status", models.RequestFilter{Status: models.StatusPending}, `WHERE status = \$1 ORDER BY`, []driver.Value{models.StatusPending}},
		{"both", models.RequestFilter{Status: models.StatusFailed, Direction: models.DirectionIncoming},
			`WHERE status = \$1 AND direction = \$2 ORDER BY`, []driver.Value{models.StatusFailed, models.DirectionIncoming}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, _ := newRepoWithMock(t)
			rows := sqlmock.NewRows(reqCols)
			sampleRow(rows, "r1", models.StatusPending, nil)
			sampleRow(rows, "r2", models.StatusPending, nil)

			exp := mock.ExpectQuery(tt.query)
			if tt.args != nil {
				exp = exp.WithArgs(tt.args...)
			}
			exp.WillReturnRows(rows)

			got, err := repo.List(context.Background(), tt.filter)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "r2", got[1].ID)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestList_QueryError(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)
	mock.ExpectQuery(`FROM migration_requests`).WillReturnError(errors.New("boom"))

	_, err := repo.List(context.Background(), models.RequestFilter{})
	require.Error(t, err)
	assert.Regexp(t, `failed to select migration requests: .*boom`, err.Error())
}

func TestUpdateStatus(t *testing.T) {
	q := `(?s)UPDATE migration_requests SET.*WHERE id = \$1 AND status = \$2`

	t.Run("applies when status still matches", func(t *testing.T) {
		repo, mock, _ := newRepoWithMock(t)
		mock.ExpectExec(q).
			WithArgs("r1", models.StatusPending, models.StatusAccepted, "ops", "", "", sqlmock.AnyArg(), now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.UpdateStatus(context.Background(), models.StatusUpdate{
			ID: "r1", From: models.StatusPending, To: models.StatusAccepted, AcceptedBy: "ops", UpdatedAt: now,
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lost race is invalid state", func(t *testing.T) {
		repo, mock, _ := newRepoWithMock(t)
		mock.ExpectExec(q).WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.UpdateStatus(context.Background(), models.StatusUpdate{
			ID: "r1", From: models.StatusPending, To: models.StatusAccepted, UpdatedAt: now,
		})
		require.ErrorIs(t, err, common.ErrInvalidState)
	})

	t.Run("illegal edge never reaches the database", func(t *testing.T) {
		repo, mock, _ := newRepoWithMock(t)

		err := repo.UpdateStatus(context.Background(), models.StatusUpdate{
			ID: "r1", From: models.StatusAccepted, To: models.StatusRejected, UpdatedAt: now,
		})
		require.ErrorIs(t, err, common.ErrInvalidState)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("db error", func(t *testing.T) {
		repo, mock, _ := newRepoWithMock(t)
		mock.ExpectExec(q).WillReturnError(errors.New("down"))

		done := now
		err := repo.UpdateStatus(context.Background(), models.StatusUpdate{
			ID: "r1", From: models.StatusTransferring, To: models.StatusCompleted, CompletedAt: &done, UpdatedAt: now,
		})
		require.Error(t, err)
		assert.Regexp(t, regexp.MustCompile(`db error: .*down`), err.Error())
	})
}

func TestFailInterrupted(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)
	mock.ExpectQuery(`(?s)UPDATE migration_requests SET status = 'failed'.*WHERE direction = 'incoming' AND status = 'transferring'\s+RETURNING id`).
		WithArgs("interrupted by server restart", now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("r1").AddRow("r2"))

	ids, err := repo.FailInterrupted(context.Background(), now, "interrupted by server restart")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, ids)
}

func TestFailExpired(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)
	mock.ExpectQuery(`(?s)UPDATE migration_requests SET status = 'failed'.*WHERE token_expires_at <= \$2.*RETURNING id`).
		WithArgs("token expired", now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	ids, err := repo.FailExpired(context.Background(), now, "token expired")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestFailExpired_DBError(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)
	mock.ExpectQuery(`UPDATE migration_requests`).WillReturnError(errors.New("down"))

	_, err := repo.FailExpired(context.Background(), now, "token expired")
	require.Error(t, err)
}
