package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/classroom-roster/internal/models"
)

const studentColumns = `id, owner_id, academic_year, class_standard, division, roll_no, register_name, full_name,
        saral_id, apar_id, pen_no, aadhaar_no, height_cm, weight_kg, gender, birth_date, age, blood_group,
        father_name, mother_name, father_mobile, mother_mobile, mother_tongue, religion, caste, caste_category,
        address, bank_account_no, notes, photo_ref, created_at, updated_at`

const studentInsert = `INSERT INTO students (` + studentColumns + `)
        VALUES (:id, :owner_id, :academic_year, :class_standard, :division, :roll_no, :register_name, :full_name,
        :saral_id, :apar_id, :pen_no, :aadhaar_no, :height_cm, :weight_kg, :gender, :birth_date, :age, :blood_group,
        :father_name, :mother_name, :father_mobile, :mother_mobile, :mother_tongue, :religion, :caste, :caste_category,
        :address, :bank_account_no, :notes, :photo_ref, :created_at, :updated_at)`

// ErrStudentOwnedElsewhere is returned when a write names a student id that
// already belongs to another owner.
var ErrStudentOwnedElsewhere = errors.New("student id belongs to another owner")

// StudentRepository persists roster records in PostgreSQL.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// LoadAll returns every student owned by ownerID in insertion order.
func (r *StudentRepository) LoadAll(ctx context.Context, ownerID string) ([]models.Student, error) {
	query := "SELECT " + studentColumns + " FROM students WHERE owner_id = $1 ORDER BY created_at ASC, id ASC"
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, ownerID); err != nil {
		return nil, fmt.Errorf("load students: %w", err)
	}
	return students, nil
}

// Put inserts or fully replaces a student. Replacing a row held by another
// owner yields ErrStudentOwnedElsewhere.
func (r *StudentRepository) Put(ctx context.Context, student *models.Student) error {
	query := studentInsert + ` ON CONFLICT (id) DO UPDATE SET ` + upsertAssignments() +
		` WHERE students.owner_id = EXCLUDED.owner_id`
	res, err := r.db.NamedExecContext(ctx, query, student)
	if err != nil {
		return fmt.Errorf("put student: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("put student rows: %w", err)
	}
	if affected == 0 {
		return ErrStudentOwnedElsewhere
	}
	return nil
}

// Patch updates the columns carried by patch on ownerID's student. A missing
// id, or one held by another owner, yields sql.ErrNoRows.
func (r *StudentRepository) Patch(ctx context.Context, ownerID, id string, patch models.StudentPatch) error {
	cols := patch.Columns()
	if len(cols) == 0 {
		return nil
	}
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)

	sets := make([]string, 0, len(names))
	args := make([]interface{}, 0, len(names)+1)
	for _, name := range names {
		args = append(args, cols[name])
		sets = append(sets, fmt.Sprintf("%s = $%d", name, len(args)))
	}
	args = append(args, id, ownerID)
	query := fmt.Sprintf("UPDATE students SET %s WHERE id = $%d AND owner_id = $%d", strings.Join(sets, ", "), len(args)-1, len(args))

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("patch student: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("patch student rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete hard-deletes ownerID's student. A missing id yields sql.ErrNoRows.
func (r *StudentRepository) Delete(ctx context.Context, ownerID, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM students WHERE id = $1 AND owner_id = $2", id, ownerID)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete student rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ReplaceAll swaps the owner's roster for students inside one transaction. An
// id already held by another owner aborts it with ErrStudentOwnedElsewhere.
func (r *StudentRepository) ReplaceAll(ctx context.Context, ownerID string, students []models.Student) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM students WHERE owner_id = $1", ownerID); err != nil {
		return fmt.Errorf("clear students: %w", err)
	}
	for i := range students {
		if _, err = tx.NamedExecContext(ctx, studentInsert, &students[i]); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return fmt.Errorf("insert student %s: %w", students[i].ID, ErrStudentOwnedElsewhere)
			}
			return fmt.Errorf("insert student %s: %w", students[i].ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

func upsertAssignments() string {
	cols := strings.Split(studentColumns, ",")
	sets := make([]string, 0, len(cols))
	for _, col := range cols {
		col = strings.TrimSpace(col)
		if col == "id" || col == "owner_id" || col == "created_at" {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}
	return strings.Join(sets, ", ")
}
