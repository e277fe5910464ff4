package profiles_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jrsteele09/primehr-session/profiles"
	"github.com/stretchr/testify/require"
)

var profileRowColumns = []string{
	"id", "email", "first_name", "last_name", "user_type", "company_name", "company_size",
	"industry", "job_title", "avatar_url", "created_at", "updated_at",
}

func newMockRepo(t *testing.T) (*profiles.PostgresRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return profiles.NewPostgresRepo(db), mock
}

func TestPostgresRepo_Get(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT (.+) FROM profiles WHERE id = \$1`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(profileRowColumns).AddRow(
			"user-1", "jane@example.com", "Jane", "Doe", "employer", "Acme", "11-50",
			"Software", "Head of People", "", now, now,
		))

	p, err := repo.Get(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, "Jane Doe", p.FullName())
	require.Equal(t, profiles.UserTypeEmployer, p.UserType)
	require.Equal(t, "Acme", p.CompanyName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_GetNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT (.+) FROM profiles`).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	require.ErrorIs(t, err, profiles.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Upsert(t *testing.T) {
	repo, mock := newMockRepo(t)
	p := profiles.New("user-1", "jane@example.com", profiles.Fields{FirstName: "Jane"}, time.Now())

	mock.ExpectExec(`INSERT INTO profiles (.+) ON CONFLICT \(id\) DO UPDATE`).
		WithArgs("user-1", "jane@example.com", "Jane", "", "candidate", "", "", "", "", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Upsert(context.Background(), p))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_DeleteMissing(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`DELETE FROM profiles WHERE id = \$1`).WithArgs("missing").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "missing")
	require.ErrorIs(t, err, profiles.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
