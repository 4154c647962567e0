package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/noah-isme/classroom-roster/internal/models"
	"github.com/noah-isme/classroom-roster/pkg/storage"
)

// keyValueStore is the device-local storage the local repositories write through.
type keyValueStore interface {
	GetItem(key string) ([]byte, error)
	SetItem(key string, data []byte) error
	RemoveItem(key string) error
}

// LocalStudentRepository keeps each owner's roster as one JSON document in
// device-local storage.
type LocalStudentRepository struct {
	store keyValueStore
	mu    sync.Mutex
}

// NewLocalStudentRepository constructs a LocalStudentRepository.
func NewLocalStudentRepository(store keyValueStore) *LocalStudentRepository {
	return &LocalStudentRepository{store: store}
}

func studentsKey(ownerID string) string {
	return "students-" + ownerID
}

// LoadAll returns the owner's students in stored order.
func (r *LocalStudentRepository) LoadAll(ctx context.Context, ownerID string) ([]models.Student, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read(ownerID)
}

// Put inserts or replaces a student in its owner's document. An id held by
// another owner yields ErrStudentOwnedElsewhere.
func (r *LocalStudentRepository) Put(ctx context.Context, student *models.Student) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.claim(ctx, student.OwnerID, []string{student.ID}); err != nil {
		return err
	}
	students, err := r.read(student.OwnerID)
	if err != nil {
		return err
	}
	if idx := indexOf(students, student.ID); idx >= 0 {
		students[idx] = *student
	} else {
		students = append(students, *student)
	}
	return r.write(student.OwnerID, students)
}

// Patch merges patch into ownerID's student. A missing id yields sql.ErrNoRows.
func (r *LocalStudentRepository) Patch(ctx context.Context, ownerID, id string, patch models.StudentPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	students, err := r.read(ownerID)
	if err != nil {
		return err
	}
	idx := indexOf(students, id)
	if idx < 0 {
		return sql.ErrNoRows
	}
	patch.Apply(&students[idx])
	return r.write(ownerID, students)
}

// Delete removes ownerID's student. A missing id yields sql.ErrNoRows.
func (r *LocalStudentRepository) Delete(ctx context.Context, ownerID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	students, err := r.read(ownerID)
	if err != nil {
		return err
	}
	idx := indexOf(students, id)
	if idx < 0 {
		return sql.ErrNoRows
	}
	students = append(students[:idx], students[idx+1:]...)
	return r.write(ownerID, students)
}

// ReplaceAll overwrites the owner's document in a single write. Nothing is
// written when any id is held by another owner.
func (r *LocalStudentRepository) ReplaceAll(ctx context.Context, ownerID string, students []models.Student) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(students))
	for _, st := range students {
		ids = append(ids, st.ID)
	}
	if err := r.claim(ctx, ownerID, ids); err != nil {
		return err
	}
	return r.write(ownerID, students)
}

// claim fails when any of ids is stored in another owner's document.
func (r *LocalStudentRepository) claim(ctx context.Context, ownerID string, ids []string) error {
	owners, err := r.owners()
	if err != nil {
		return err
	}
	for _, other := range owners {
		if other == ownerID {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		students, err := r.read(other)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if indexOf(students, id) >= 0 {
				return fmt.Errorf("student %s: %w", id, ErrStudentOwnedElsewhere)
			}
		}
	}
	return nil
}

func indexOf(students []models.Student, id string) int {
	for i := range students {
		if students[i].ID == id {
			return i
		}
	}
	return -1
}

const ownersKey = "student-owners"

func (r *LocalStudentRepository) owners() ([]string, error) {
	raw, err := r.store.GetItem(ownersKey)
	if err != nil {
		if errors.Is(err, storage.ErrItemNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var owners []string
	if err := json.Unmarshal(raw, &owners); err != nil {
		return nil, fmt.Errorf("decode owner index: %w", err)
	}
	return owners, nil
}

func (r *LocalStudentRepository) read(ownerID string) ([]models.Student, error) {
	raw, err := r.store.GetItem(studentsKey(ownerID))
	if err != nil {
		if errors.Is(err, storage.ErrItemNotFound) {
			return []models.Student{}, nil
		}
		return nil, err
	}
	var students []models.Student
	if err := json.Unmarshal(raw, &students); err != nil {
		return nil, fmt.Errorf("decode students: %w", err)
	}
	return students, nil
}

func (r *LocalStudentRepository) write(ownerID string, students []models.Student) error {
	owners, err := r.owners()
	if err != nil {
		return err
	}
	known := false
	for _, o := range owners {
		if o == ownerID {
			known = true
			break
		}
	}
	if !known {
		payload, err := json.Marshal(append(owners, ownerID))
		if err != nil {
			return fmt.Errorf("encode owner index: %w", err)
		}
		if err := r.store.SetItem(ownersKey, payload); err != nil {
			return err
		}
	}

	if students == nil {
		students = []models.Student{}
	}
	payload, err := json.Marshal(students)
	if err != nil {
		return fmt.Errorf("encode students: %w", err)
	}
	return r.store.SetItem(studentsKey(ownerID), payload)
}
