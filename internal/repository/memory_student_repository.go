package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/noah-isme/classroom-roster/internal/models"
)

type studentSubscriber struct {
	ownerID      string
	academicYear string
	ch           chan []models.Student
}

// MemoryStudentRepository keeps students in process memory and pushes a full
// snapshot to subscribers after every change.
type MemoryStudentRepository struct {
	mu          sync.Mutex
	records     map[string]models.Student
	order       []string
	subscribers map[*studentSubscriber]struct{}
}

// NewMemoryStudentRepository constructs an empty in-memory roster store.
func NewMemoryStudentRepository() *MemoryStudentRepository {
	return &MemoryStudentRepository{
		records:     map[string]models.Student{},
		subscribers: map[*studentSubscriber]struct{}{},
	}
}

// LoadAll returns the students owned by ownerID in insertion order.
func (r *MemoryStudentRepository) LoadAll(ctx context.Context, ownerID string) ([]models.Student, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selectLocked(ownerID, ""), nil
}

// Subscribe streams the owner's students for academicYear. The first value is
// the current state; later values replace it. The channel keeps only the most
// recent snapshot and is closed when ctx is done.
func (r *MemoryStudentRepository) Subscribe(ctx context.Context, ownerID, academicYear string) (<-chan []models.Student, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &studentSubscriber{ownerID: ownerID, academicYear: academicYear, ch: make(chan []models.Student, 1)}

	r.mu.Lock()
	r.subscribers[sub] = struct{}{}
	sub.ch <- r.selectLocked(ownerID, academicYear)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		delete(r.subscribers, sub)
		close(sub.ch)
		r.mu.Unlock()
	}()
	return sub.ch, nil
}

// Put inserts or replaces a student. An id held by another owner yields
// ErrStudentOwnedElsewhere.
func (r *MemoryStudentRepository) Put(ctx context.Context, student *models.Student) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.records[student.ID]
	if ok && existing.OwnerID != student.OwnerID {
		return ErrStudentOwnedElsewhere
	}
	if !ok {
		r.order = append(r.order, student.ID)
	}
	r.records[student.ID] = *student
	r.publishLocked()
	return nil
}

// Patch merges patch into ownerID's student. A missing id yields sql.ErrNoRows.
func (r *MemoryStudentRepository) Patch(ctx context.Context, ownerID, id string, patch models.StudentPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.records[id]
	if !ok || current.OwnerID != ownerID {
		return sql.ErrNoRows
	}
	patch.Apply(&current)
	r.records[id] = current
	r.publishLocked()
	return nil
}

// Delete removes ownerID's student. A missing id yields sql.ErrNoRows.
func (r *MemoryStudentRepository) Delete(ctx context.Context, ownerID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.records[id]; !ok || current.OwnerID != ownerID {
		return sql.ErrNoRows
	}
	delete(r.records, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.publishLocked()
	return nil
}

// ReplaceAll swaps every student of ownerID for students. Nothing changes
// when any id is held by another owner.
func (r *MemoryStudentRepository) ReplaceAll(ctx context.Context, ownerID string, students []models.Student) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range students {
		if existing, ok := r.records[s.ID]; ok && existing.OwnerID != ownerID {
			return fmt.Errorf("replace %s: %w", s.ID, ErrStudentOwnedElsewhere)
		}
	}
	kept := r.order[:0]
	for _, id := range r.order {
		if r.records[id].OwnerID == ownerID {
			delete(r.records, id)
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
	for _, s := range students {
		if _, ok := r.records[s.ID]; !ok {
			r.order = append(r.order, s.ID)
		}
		r.records[s.ID] = s
	}
	r.publishLocked()
	return nil
}

func (r *MemoryStudentRepository) selectLocked(ownerID, academicYear string) []models.Student {
	out := make([]models.Student, 0, len(r.order))
	for _, id := range r.order {
		s := r.records[id]
		if s.OwnerID != ownerID {
			continue
		}
		if academicYear != "" && s.AcademicYear != academicYear {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (r *MemoryStudentRepository) publishLocked() {
	for sub := range r.subscribers {
		snapshot := r.selectLocked(sub.ownerID, sub.academicYear)
		select {
		case <-sub.ch:
		default:
		}
		sub.ch <- snapshot
	}
}
