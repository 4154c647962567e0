package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/noah-isme/classroom-roster/internal/models"
	"github.com/noah-isme/classroom-roster/internal/repository"
	appErrors "github.com/noah-isme/classroom-roster/pkg/errors"
	"github.com/noah-isme/classroom-roster/pkg/format"
	"github.com/noah-isme/classroom-roster/pkg/jobs"
	"github.com/noah-isme/classroom-roster/pkg/storage"
)

type rosterStore interface {
	LoadAll(ctx context.Context, ownerID string) ([]models.Student, error)
	Put(ctx context.Context, student *models.Student) error
	Patch(ctx context.Context, ownerID, id string, patch models.StudentPatch) error
	Delete(ctx context.Context, ownerID, id string) error
}

// rosterSubscriber is implemented by stores that push live snapshots.
type rosterSubscriber interface {
	Subscribe(ctx context.Context, ownerID, academicYear string) (<-chan []models.Student, error)
}

// rosterReplacer is implemented by stores that can swap a roster atomically.
type rosterReplacer interface {
	ReplaceAll(ctx context.Context, ownerID string, students []models.Student) error
}

type photoStore interface {
	UploadPhoto(ctx context.Context, ownerID, studentID string, photo *storage.Photo) (string, error)
	DeletePhoto(ctx context.Context, ref string) error
}

// photoCleanup deletes replaced or orphaned photos in the background.
type photoCleanup interface {
	Enqueue(task jobs.Task) error
}

// TaskDeletePhoto is the background task kind that removes a stored photo.
const TaskDeletePhoto = "delete_photo"

// RosterConfig tunes the roster controller.
type RosterConfig struct {
	// ScopeByClass restricts the view to the teacher's own class and division.
	ScopeByClass  bool
	StoreTimeout  time.Duration
	MaxPhotoBytes int64
	RecentLimit   int
}

// RosterService owns the canonical student list of the active session and the
// filtered, sorted view derived from it.
type RosterService struct {
	store     rosterStore
	photos    photoStore
	cleanup   photoCleanup
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
	cfg       RosterConfig
	now       func() time.Time
	newID     func() string

	// writeMu serialises mutations so they reach the store in issuance order.
	writeMu sync.Mutex

	mu         sync.RWMutex
	session    *models.Session
	students   []models.Student
	filter     models.StudentFilter
	sort       models.SortSpec
	view       []models.Student
	loading    bool
	syncErr    error
	generation uint64
	cancelLoad context.CancelFunc

	watchMu  sync.Mutex
	watchers map[chan models.RosterSnapshot]struct{}
}

// NewRosterService constructs the roster controller. photos and cleanup may be
// nil; without cleanup old photos are deleted inline.
func NewRosterService(store rosterStore, photos photoStore, cleanup photoCleanup, validate *validator.Validate, logger *zap.Logger, metrics *MetricsService, cfg RosterConfig) *RosterService {
	if validate == nil {
		validate = validator.New()
	}
	registerRules(validate)
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 5
	}
	return &RosterService{
		store:     store,
		photos:    photos,
		cleanup:   cleanup,
		validator: validate,
		logger:    logger,
		metrics:   metrics,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		sort:      models.DefaultSort(),
		watchers:  map[chan models.RosterSnapshot]struct{}{},
	}
}

// Activate binds the controller to session and loads its roster. Any previous
// load or subscription is cancelled first.
func (s *RosterService) Activate(ctx context.Context, session *models.Session) error {
	if session == nil || session.Identity == "" {
		return appErrors.Clone(appErrors.ErrNotAuthenticated, "session has no identity")
	}
	copySession := *session

	s.mu.Lock()
	s.stopLoadLocked()
	s.session = &copySession
	s.students = nil
	s.filter = models.StudentFilter{}
	s.sort = models.DefaultSort()
	s.syncErr = nil
	s.recomputeLocked()
	s.mu.Unlock()

	_, err := s.Load(ctx, copySession.Identity, copySession.ActiveAcademicYear)
	return err
}

// Rescope swaps the session details used for scoping without reloading.
func (s *RosterService) Rescope(session *models.Session) {
	if session == nil {
		return
	}
	copySession := *session

	s.mu.Lock()
	if s.session == nil || s.session.Identity != copySession.Identity {
		s.mu.Unlock()
		return
	}
	s.session = &copySession
	s.recomputeLocked()
	s.mu.Unlock()
	s.publish()
}

// Deactivate drops the canonical list and stops any live subscription. After
// it returns nothing of the previous session is addressable.
func (s *RosterService) Deactivate() {
	s.mu.Lock()
	s.stopLoadLocked()
	s.session = nil
	s.students = nil
	s.filter = models.StudentFilter{}
	s.sort = models.DefaultSort()
	s.loading = false
	s.syncErr = nil
	s.recomputeLocked()
	s.mu.Unlock()
	s.publish()
}

// stopLoadLocked cancels the in-flight load and invalidates its results.
func (s *RosterService) stopLoadLocked() {
	if s.cancelLoad != nil {
		s.cancelLoad()
		s.cancelLoad = nil
	}
	s.generation++
}

// Load fetches the owner's roster, or subscribes to it when the store pushes
// live snapshots, and replaces the canonical list wholesale.
func (s *RosterService) Load(ctx context.Context, ownerID, academicYear string) ([]models.Student, error) {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrNotAuthenticated, "no active session")
	}
	if ownerID != s.session.Identity {
		s.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrNotAuthenticated, "roster owner does not match the active session")
	}
	s.stopLoadLocked()
	gen := s.generation
	s.loading = true

	sub, live := s.store.(rosterSubscriber)
	var loadCtx context.Context
	var cancel context.CancelFunc
	if live {
		// The subscription outlives the request that started it.
		loadCtx, cancel = context.WithCancel(context.Background())
	} else {
		loadCtx, cancel = context.WithCancel(ctx)
	}
	s.cancelLoad = cancel
	s.mu.Unlock()
	s.publish()

	if live {
		return s.subscribe(ctx, loadCtx, sub, gen, ownerID, academicYear)
	}

	tctx, done := s.storeCtx(loadCtx)
	defer done()
	start := time.Now()
	students, err := s.store.LoadAll(tctx, ownerID)
	s.metrics.ObserveStoreCall("load_all", time.Since(start), err)
	if err != nil {
		return nil, s.failLoad(gen, err)
	}
	return s.acceptSnapshot(gen, students)
}

// Refresh reloads the roster of the active session.
func (s *RosterService) Refresh(ctx context.Context) ([]models.Student, error) {
	session, err := s.requireSession()
	if err != nil {
		return nil, err
	}
	return s.Load(ctx, session.Identity, session.ActiveAcademicYear)
}

func (s *RosterService) subscribe(ctx, loadCtx context.Context, sub rosterSubscriber, gen uint64, ownerID, academicYear string) ([]models.Student, error) {
	start := time.Now()
	ch, err := sub.Subscribe(loadCtx, ownerID, academicYear)
	if err != nil {
		s.metrics.ObserveStoreCall("subscribe", time.Since(start), err)
		return nil, s.failLoad(gen, err)
	}

	var timeout <-chan time.Time
	if s.cfg.StoreTimeout > 0 {
		timer := time.NewTimer(s.cfg.StoreTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var first []models.Student
	select {
	case snapshot, ok := <-ch:
		if !ok {
			err = errors.New("subscription closed before the first snapshot")
		}
		first = snapshot
	case <-ctx.Done():
		err = ctx.Err()
	case <-timeout:
		err = context.DeadlineExceeded
	}
	s.metrics.ObserveStoreCall("subscribe", time.Since(start), err)
	if err != nil {
		return nil, s.failLoad(gen, err)
	}

	students, err := s.acceptSnapshot(gen, first)
	if err != nil {
		return nil, err
	}
	go s.consume(gen, ch)
	return students, nil
}

// consume applies pushed snapshots until the subscription closes or a newer
// load supersedes it.
func (s *RosterService) consume(gen uint64, ch <-chan []models.Student) {
	for snapshot := range ch {
		s.mu.Lock()
		if gen != s.generation {
			s.mu.Unlock()
			continue
		}
		s.students = cloneStudents(snapshot)
		s.syncErr = nil
		s.recomputeLocked()
		s.mu.Unlock()
		s.metrics.RecordSnapshotPush()
		s.publish()
	}
}

func (s *RosterService) acceptSnapshot(gen uint64, students []models.Student) ([]models.Student, error) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return nil, s.supersededError()
	}
	s.students = cloneStudents(students)
	s.loading = false
	s.syncErr = nil
	s.recomputeLocked()
	out := cloneStudents(s.students)
	s.mu.Unlock()
	s.publish()

	s.logger.Debug("roster loaded", zap.Int("students", len(out)))
	return out, nil
}

func (s *RosterService) failLoad(gen uint64, cause error) error {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return s.supersededError()
	}
	if s.cancelLoad != nil {
		s.cancelLoad()
		s.cancelLoad = nil
	}
	s.loading = false
	s.syncErr = cause
	s.mu.Unlock()
	s.publish()

	s.logger.Warn("roster load failed", zap.Error(cause))
	return appErrors.Wrap(cause, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to load students")
}

func (s *RosterService) supersededError() error {
	s.mu.RLock()
	active := s.session != nil
	s.mu.RUnlock()
	if !active {
		return appErrors.Clone(appErrors.ErrNotAuthenticated, "session ended during load")
	}
	return appErrors.Clone(appErrors.ErrStoreUnavailable, "load superseded by a newer request")
}

// Add validates input, derives age, assigns identity and timestamps and
// persists the new student.
func (s *RosterService) Add(ctx context.Context, input models.CreateStudentInput) (*models.Student, error) {
	session, err := s.requireSession()
	if err != nil {
		return nil, err
	}

	input.AadhaarNo = normaliseDigits(input.AadhaarNo)
	input.FatherMobile = normaliseDigits(input.FatherMobile)
	input.MotherMobile = normaliseDigits(input.MotherMobile)
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	now := s.now()
	age, err := s.ageFor(input.BirthDate, now)
	if err != nil {
		return nil, err
	}

	student := input.ToStudent()
	student.ID = s.newID()
	student.OwnerID = session.Identity
	student.Age = age
	student.CreatedAt = now
	student.UpdatedAt = now

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.storeCall(ctx, "put", func(c context.Context) error { return s.store.Put(c, &student) }); err != nil {
		return nil, storeError(err, "student not found", "failed to save student")
	}

	s.applyLocal(session.Identity, func() { s.upsertLocked(student) })
	s.logger.Info("student added", zap.String("student_id", student.ID))
	return &student, nil
}

// Update merges the patch into an existing student, recomputing age when the
// birth date changes.
func (s *RosterService) Update(ctx context.Context, input models.UpdateStudentInput) (*models.Student, error) {
	session, err := s.requireSession()
	if err != nil {
		return nil, err
	}

	input.AadhaarNo = normaliseDigitsPtr(input.AadhaarNo)
	input.FatherMobile = normaliseDigitsPtr(input.FatherMobile)
	input.MotherMobile = normaliseDigitsPtr(input.MotherMobile)
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	existing, ok := s.GetByID(input.ID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	patch := input.StudentPatch
	if patch.BirthDate != nil {
		age, err := s.ageFor(*patch.BirthDate, s.now())
		if err != nil {
			return nil, err
		}
		patch.Age = &age
	}
	return s.patchLocked(ctx, session.Identity, existing, patch)
}

// patchLocked persists patch and applies it to the canonical list. writeMu must be held.
func (s *RosterService) patchLocked(ctx context.Context, ownerID string, existing models.Student, patch models.StudentPatch) (*models.Student, error) {
	patch.UpdatedAt = s.now()
	if patch.UpdatedAt.Before(existing.CreatedAt) {
		patch.UpdatedAt = existing.CreatedAt
	}

	if err := s.storeCall(ctx, "patch", func(c context.Context) error { return s.store.Patch(c, ownerID, existing.ID, patch) }); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.applyLocal(ownerID, func() { s.removeLocked(existing.ID) })
		}
		return nil, storeError(err, "student not found", "failed to update student")
	}

	merged := existing
	patch.Apply(&merged)
	s.applyLocal(ownerID, func() { s.upsertLocked(merged) })
	return &merged, nil
}

// Delete hard-deletes a student. Deleting an id that is not on the roster is
// reported as not found.
func (s *RosterService) Delete(ctx context.Context, id string) error {
	session, err := s.requireSession()
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	existing, ok := s.GetByID(id)
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	err = s.storeCall(ctx, "delete", func(c context.Context) error { return s.store.Delete(c, session.Identity, id) })
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return storeError(err, "student not found", "failed to delete student")
	}
	s.applyLocal(session.Identity, func() { s.removeLocked(id) })
	if err != nil {
		return appErrors.Clone(appErrors.ErrNotFound, "student already deleted")
	}

	s.dropPhoto(ctx, existing.PhotoRef)
	return nil
}

// GetByID looks id up in the canonical list without touching the store.
func (s *RosterService) GetByID(id string) (models.Student, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return models.Student{}, false
	}
	for _, student := range s.students {
		if student.ID == id {
			return student, true
		}
	}
	return models.Student{}, false
}

// SetFilter replaces the filter criteria and recomputes the view.
func (s *RosterService) SetFilter(filter models.StudentFilter) {
	s.mu.Lock()
	s.filter = filter
	s.recomputeLocked()
	s.mu.Unlock()
	s.publish()
}

// SetSort replaces the sort order and recomputes the view.
func (s *RosterService) SetSort(spec models.SortSpec) error {
	if err := s.validator.Struct(spec); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid sort")
	}
	s.mu.Lock()
	s.sort = spec
	s.recomputeLocked()
	s.mu.Unlock()
	s.publish()
	return nil
}

// RecomputeView rebuilds the visible list from the current inputs and returns it.
func (s *RosterService) RecomputeView() []models.Student {
	s.mu.Lock()
	s.recomputeLocked()
	out := cloneStudents(s.view)
	s.mu.Unlock()
	s.publish()
	return out
}

// View returns the current visible list.
func (s *RosterService) View() []models.Student {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneStudents(s.view)
}

// Students returns the canonical list of the active session.
func (s *RosterService) Students() []models.Student {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneStudents(s.students)
}

// ClearAll deletes every student of the session one at a time. Only deletions
// the store confirmed leave the canonical list; failures are aggregated.
func (s *RosterService) ClearAll(ctx context.Context) (int, error) {
	session, err := s.requireSession()
	if err != nil {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	targets := s.Students()
	deleted := 0
	var failures error
	for _, student := range targets {
		if err := ctx.Err(); err != nil {
			failures = multierr.Append(failures, err)
			break
		}
		id := student.ID
		err := s.storeCall(ctx, "delete", func(c context.Context) error { return s.store.Delete(c, session.Identity, id) })
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			failures = multierr.Append(failures, fmt.Errorf("delete %s: %w", id, err))
			continue
		}
		s.applyLocal(session.Identity, func() { s.removeLocked(id) })
		if err == nil {
			deleted++
			s.dropPhoto(ctx, student.PhotoRef)
		}
	}

	if failures != nil {
		failed := len(multierr.Errors(failures))
		s.logger.Warn("clear roster incomplete", zap.Int("deleted", deleted), zap.Int("failed", failed), zap.Error(failures))
		return deleted, appErrors.Wrap(failures, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status,
			fmt.Sprintf("failed to delete %d of %d students", failed, len(targets)))
	}
	s.logger.Info("roster cleared", zap.Int("deleted", deleted))
	return deleted, nil
}

// ExportAll serialises the canonical list as a JSON array.
func (s *RosterService) ExportAll(ctx context.Context) ([]byte, error) {
	if _, err := s.requireSession(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "export cancelled")
	}
	payload, err := json.MarshalIndent(s.Students(), "", "  ")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode students")
	}
	return payload, nil
}

// ImportAll replaces the session's roster with payload, a JSON array of
// students. The whole batch is rejected if any element is malformed.
func (s *RosterService) ImportAll(ctx context.Context, payload []byte) (int, error) {
	session, err := s.requireSession()
	if err != nil {
		return 0, err
	}
	students, err := decodeImport(payload)
	if err != nil {
		return 0, err
	}

	now := s.now()
	for i := range students {
		st := &students[i]
		st.OwnerID = session.Identity
		if st.AcademicYear == "" {
			st.AcademicYear = session.ActiveAcademicYear
		}
		st.Age = 0
		if st.BirthDate != "" {
			birth, _ := models.ParseBirthDate(st.BirthDate)
			st.Age = models.AgeOn(birth, now)
		}
		if st.CreatedAt.IsZero() {
			st.CreatedAt = now
		}
		if st.UpdatedAt.Before(st.CreatedAt) {
			st.UpdatedAt = st.CreatedAt
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if replacer, ok := s.store.(rosterReplacer); ok {
		err = s.storeCall(ctx, "replace_all", func(c context.Context) error {
			return replacer.ReplaceAll(c, session.Identity, students)
		})
	} else {
		err = s.replaceByRecord(ctx, session.Identity, s.Students(), students)
	}
	if err != nil {
		if errors.Is(err, repository.ErrStudentOwnedElsewhere) {
			return 0, appErrors.Wrap(err, appErrors.ErrInvalidImportData.Code, appErrors.ErrInvalidImportData.Status,
				"import contains a student id that belongs to another teacher")
		}
		return 0, storeError(err, "student not found", "failed to import students")
	}

	s.applyLocal(session.Identity, func() { s.students = cloneStudents(students) })
	s.logger.Info("roster imported", zap.Int("students", len(students)))
	return len(students), nil
}

// replaceByRecord swaps previous for next one record at a time, restoring
// previous on the first failure.
func (s *RosterService) replaceByRecord(ctx context.Context, ownerID string, previous, next []models.Student) error {
	keep := make(map[string]struct{}, len(next))
	for _, st := range next {
		keep[st.ID] = struct{}{}
	}

	var written []string
	rollback := func(cause error) error {
		var errs error = cause
		for _, id := range written {
			id := id
			if err := s.storeCall(ctx, "delete", func(c context.Context) error { return s.store.Delete(c, ownerID, id) }); err != nil && !errors.Is(err, sql.ErrNoRows) {
				errs = multierr.Append(errs, err)
			}
		}
		for i := range previous {
			st := previous[i]
			if err := s.storeCall(ctx, "put", func(c context.Context) error { return s.store.Put(c, &st) }); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
		return errs
	}

	for _, st := range previous {
		if _, ok := keep[st.ID]; ok {
			continue
		}
		id := st.ID
		if err := s.storeCall(ctx, "delete", func(c context.Context) error { return s.store.Delete(c, ownerID, id) }); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return rollback(err)
		}
	}
	for i := range next {
		st := next[i]
		if err := s.storeCall(ctx, "put", func(c context.Context) error { return s.store.Put(c, &st) }); err != nil {
			return rollback(err)
		}
		written = append(written, st.ID)
	}
	return nil
}

func decodeImport(payload []byte) ([]models.Student, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil || raw == nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidImportData, "import must be a JSON array of students")
	}
	students := make([]models.Student, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for i, item := range raw {
		var st models.Student
		if err := json.Unmarshal(item, &st); err != nil {
			return nil, appErrors.Clone(appErrors.ErrInvalidImportData, fmt.Sprintf("record %d is not a student document", i))
		}
		if strings.TrimSpace(st.ID) == "" || strings.TrimSpace(st.FullName) == "" || strings.TrimSpace(st.RollNo) == "" {
			return nil, appErrors.Clone(appErrors.ErrInvalidImportData, fmt.Sprintf("record %d needs id, fullName and rollNo", i))
		}
		if st.BirthDate != "" {
			if _, err := models.ParseBirthDate(st.BirthDate); err != nil {
				return nil, appErrors.Clone(appErrors.ErrInvalidImportData, fmt.Sprintf("record %d has an unreadable birthDate", i))
			}
		}
		if _, dup := seen[st.ID]; dup {
			return nil, appErrors.Clone(appErrors.ErrInvalidImportData, fmt.Sprintf("record %d repeats id %s", i, st.ID))
		}
		seen[st.ID] = struct{}{}
		students = append(students, st)
	}
	return students, nil
}

// Stats summarises the students inside the session scope.
func (s *RosterService) Stats() (models.RosterStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return models.RosterStats{}, appErrors.Clone(appErrors.ErrNotAuthenticated, "no active session")
	}
	return Stats(s.students, s.scopeLocked(), s.cfg.RecentLimit), nil
}

// AttachPhoto stores a student photo and records its reference on the student.
func (s *RosterService) AttachPhoto(ctx context.Context, id string, data []byte) (*models.Student, error) {
	session, err := s.requireSession()
	if err != nil {
		return nil, err
	}
	if s.photos == nil {
		return nil, appErrors.Clone(appErrors.ErrStoreUnavailable, "photo storage is not configured")
	}
	photo, err := storage.PreparePhoto(data, s.cfg.MaxPhotoBytes)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid photo")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	existing, ok := s.GetByID(id)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}

	var ref string
	err = s.storeCall(ctx, "upload_photo", func(c context.Context) error {
		var uploadErr error
		ref, uploadErr = s.photos.UploadPhoto(c, session.Identity, id, photo)
		return uploadErr
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to upload photo")
	}
	if existing.PhotoRef != "" && existing.PhotoRef != ref {
		s.dropPhoto(ctx, existing.PhotoRef)
	}
	return s.patchLocked(ctx, session.Identity, existing, models.StudentPatch{PhotoRef: &ref})
}

func (s *RosterService) dropPhoto(ctx context.Context, ref string) {
	if s.photos == nil || ref == "" {
		return
	}
	if s.cleanup != nil {
		err := s.cleanup.Enqueue(jobs.Task{ID: s.newID(), Kind: TaskDeletePhoto, Ref: ref})
		if err == nil {
			return
		}
		s.logger.Debug("photo cleanup queue unavailable, deleting inline", zap.Error(err))
	}
	if err := s.photos.DeletePhoto(ctx, ref); err != nil {
		s.logger.Warn("failed to delete student photo", zap.String("photo_ref", ref), zap.Error(err))
	}
}

// Snapshot returns what consumers of the roster currently observe.
func (s *RosterService) Snapshot() models.RosterSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := models.RosterSnapshot{
		Active:     s.session != nil,
		Loading:    s.loading,
		Scope:      s.scopeLocked(),
		Filter:     s.filter,
		Sort:       s.sort,
		Total:      len(s.students),
		Visible:    cloneStudents(s.view),
		Generation: s.generation,
	}
	if s.syncErr != nil {
		snap.SyncError = s.syncErr.Error()
	}
	return snap
}

// Watch streams roster snapshots until ctx is done. The current snapshot is
// delivered first; a slow reader only ever sees the latest one.
func (s *RosterService) Watch(ctx context.Context) <-chan models.RosterSnapshot {
	ch := make(chan models.RosterSnapshot, 1)

	s.watchMu.Lock()
	s.watchers[ch] = struct{}{}
	ch <- s.Snapshot()
	s.watchMu.Unlock()

	go func() {
		<-ctx.Done()
		s.watchMu.Lock()
		delete(s.watchers, ch)
		close(ch)
		s.watchMu.Unlock()
	}()
	return ch
}

func (s *RosterService) publish() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if len(s.watchers) == 0 {
		return
	}
	snap := s.Snapshot()
	for ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (s *RosterService) requireSession() (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil, appErrors.Clone(appErrors.ErrNotAuthenticated, "no active session")
	}
	copySession := *s.session
	return &copySession, nil
}

// applyLocal runs fn under the state lock when ownerID is still the active
// session, then recomputes and publishes the view.
func (s *RosterService) applyLocal(ownerID string, fn func()) {
	s.mu.Lock()
	if s.session == nil || s.session.Identity != ownerID {
		s.mu.Unlock()
		return
	}
	fn()
	s.recomputeLocked()
	s.mu.Unlock()
	s.publish()
}

func (s *RosterService) upsertLocked(student models.Student) {
	for i := range s.students {
		if s.students[i].ID == student.ID {
			s.students[i] = student
			return
		}
	}
	s.students = append(s.students, student)
}

func (s *RosterService) removeLocked(id string) {
	for i := range s.students {
		if s.students[i].ID == id {
			s.students = append(s.students[:i], s.students[i+1:]...)
			return
		}
	}
}

func (s *RosterService) scopeLocked() models.Scope {
	scope := s.session.Scope()
	scope.ByClass = s.cfg.ScopeByClass
	return scope
}

func (s *RosterService) recomputeLocked() {
	s.view = BuildView(s.students, s.scopeLocked(), s.filter, s.sort)
	s.metrics.SetRosterSizes(len(s.students), len(s.view))
}

func (s *RosterService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.StoreTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.StoreTimeout)
	}
	return context.WithCancel(ctx)
}

// storeCall runs fn with the store timeout and records its latency.
func (s *RosterService) storeCall(ctx context.Context, op string, fn func(context.Context) error) error {
	c, cancel := s.storeCtx(ctx)
	defer cancel()
	start := time.Now()
	err := fn(c)
	s.metrics.ObserveStoreCall(op, time.Since(start), err)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.logger.Warn("roster store call failed", zap.String("op", op), zap.Error(err))
	}
	return err
}

func (s *RosterService) ageFor(birthDate string, now time.Time) (int, error) {
	birth, err := models.ParseBirthDate(birthDate)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid birth date")
	}
	if birth.After(now) {
		return 0, appErrors.Clone(appErrors.ErrValidation, "birth date is in the future")
	}
	return models.AgeOn(birth, now), nil
}

// storeError maps a store failure onto the roster error taxonomy.
func storeError(err error, notFound, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	return appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, message)
}

func normaliseDigits(raw string) string {
	if d := format.Digits(raw); d != "" {
		return d
	}
	return raw
}

func normaliseDigitsPtr(raw *string) *string {
	if raw == nil {
		return nil
	}
	v := normaliseDigits(*raw)
	return &v
}

func cloneStudents(in []models.Student) []models.Student {
	out := make([]models.Student, len(in))
	copy(out, in)
	return out
}
