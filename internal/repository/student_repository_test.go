package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/classroom-roster/internal/models"
)

func newStudentMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func studentColumnNames() []string {
	parts := strings.Split(studentColumns, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		names = append(names, strings.TrimSpace(p))
	}
	return names
}

func studentRow(id, name string, created time.Time) []driver.Value {
	return []driver.Value{
		id, "t1", "2024-2025", "7", "A", "1", "Reg", name,
		"S1", "AP1", "PEN1", "123456789012", "140", "35", "female", "2012-03-04", 12, "O+",
		"Father", "Mother", "9876543210", "9876543211", "Marathi", "Hindu", "Maratha", "General",
		"Pune, Maharashtra", "", "", "", created, created,
	}
}

func TestStudentRepositoryLoadAll(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	now := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(studentColumnNames()).
		AddRow(studentRow("s1", "Asha Patil", now)...).
		AddRow(studentRow("s2", "Ravi Kumar", now.Add(time.Minute))...)
	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE owner_id = $1 ORDER BY created_at ASC, id ASC")).
		WithArgs("t1").
		WillReturnRows(rows)

	students, err := repo.LoadAll(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Equal(t, "Asha Patil", students[0].FullName)
	assert.Equal(t, 12, students[0].Age)
	assert.Equal(t, "O+", students[1].BloodGroup)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryLoadAllFailure(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery("FROM students").WillReturnError(errors.New("connection refused"))

	_, err := repo.LoadAll(context.Background(), "t1")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryPut(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec("(?s)INSERT INTO students .* ON CONFLICT \\(id\\) DO UPDATE SET academic_year = EXCLUDED.academic_year").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Put(context.Background(), &models.Student{ID: "s1", OwnerID: "t1", FullName: "Asha", RollNo: "1"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryPutRejectsForeignID(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("WHERE students.owner_id = EXCLUDED.owner_id")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Put(context.Background(), &models.Student{ID: "s1", OwnerID: "t2", FullName: "Hijacked", RollNo: "1"})
	assert.ErrorIs(t, err, ErrStudentOwnedElsewhere)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryPatchBuildsSortedSet(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	birth := "2005-01-01"
	age := 19
	now := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE students SET age = $1, birth_date = $2, updated_at = $3 WHERE id = $4 AND owner_id = $5")).
		WithArgs(19, "2005-01-01", now, "s1", "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Patch(context.Background(), "t1", "s1", models.StudentPatch{BirthDate: &birth, Age: &age, UpdatedAt: now})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryPatchMissing(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	name := "Asha"
	mock.ExpectExec("UPDATE students SET full_name = \\$1 WHERE id = \\$2 AND owner_id = \\$3").
		WithArgs("Asha", "missing", "t1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Patch(context.Background(), "t1", "missing", models.StudentPatch{FullName: &name})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM students WHERE id = $1 AND owner_id = $2")).
		WithArgs("s1", "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM students WHERE id = $1 AND owner_id = $2")).
		WithArgs("s1", "t2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Delete(context.Background(), "t1", "s1"))
	assert.ErrorIs(t, repo.Delete(context.Background(), "t2", "s1"), sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryReplaceAllRollsBack(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM students WHERE owner_id = $1")).
		WithArgs("t1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO students").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO students").WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	err := repo.ReplaceAll(context.Background(), "t1", []models.Student{{ID: "a"}, {ID: "b"}})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryReplaceAllRejectsForeignID(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM students WHERE owner_id").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO students").WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := repo.ReplaceAll(context.Background(), "t2", []models.Student{{ID: "s1", OwnerID: "t2"}})
	assert.ErrorIs(t, err, ErrStudentOwnedElsewhere)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryReplaceAllCommits(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM students WHERE owner_id").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO students").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.ReplaceAll(context.Background(), "t1", []models.Student{{ID: "a"}}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
