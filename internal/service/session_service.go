package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/classroom-roster/internal/models"
	"github.com/noah-isme/classroom-roster/internal/repository"
	appErrors "github.com/noah-isme/classroom-roster/pkg/errors"
)

type accountRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) error
}

type sessionRepository interface {
	GetSession(ctx context.Context) (*models.Session, error)
	SaveSession(ctx context.Context, session *models.Session) error
	ClearSession(ctx context.Context) error
	GetProfile(ctx context.Context, identity string) (*models.TeacherProfile, error)
	SaveProfile(ctx context.Context, identity string, profile *models.TeacherProfile) error
}

type rosterScoper interface {
	Activate(ctx context.Context, session *models.Session) error
	Rescope(session *models.Session)
	Deactivate()
}

// SessionService drives the login and profile-completion state machine and
// keeps the roster bound to whoever is signed in.
type SessionService struct {
	accounts  accountRepository
	sessions  sessionRepository
	roster    rosterScoper
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
	now       func() time.Time
	newID     func() string

	mu      sync.Mutex
	current *models.Session
	// epoch counts roster activations; cancelActivation aborts the latest one.
	epoch            uint64
	cancelActivation context.CancelFunc

	// rosterMu orders activations so a superseded one never rebinds the roster.
	rosterMu sync.Mutex
}

// rosterActivation is a roster binding prepared under s.mu and run after it
// is released.
type rosterActivation struct {
	ctx     context.Context
	cancel  context.CancelFunc
	session models.Session
	epoch   uint64
}

// NewSessionService constructs a SessionService instance.
func NewSessionService(accounts accountRepository, sessions sessionRepository, roster rosterScoper, validate *validator.Validate, logger *zap.Logger, metrics *MetricsService) *SessionService {
	if validate == nil {
		validate = validator.New()
	}
	registerRules(validate)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		accounts:  accounts,
		sessions:  sessions,
		roster:    roster,
		validator: validate,
		logger:    logger,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// Restore resumes a remembered session from the identity store. Sessions that
// were not remembered are discarded and the manager starts anonymous.
func (s *SessionService) Restore(ctx context.Context) (*models.Session, error) {
	return s.transition(ctx, func() (*models.Session, error) {
		return s.restoreLocked(ctx)
	})
}

func (s *SessionService) restoreLocked(ctx context.Context) (*models.Session, error) {
	stored, err := s.sessions.GetSession(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to read session")
	}
	if stored == nil || stored.Identity == "" || !stored.RememberMe {
		if stored != nil {
			if err := s.sessions.ClearSession(ctx); err != nil {
				s.logger.Warn("failed to discard transient session", zap.Error(err))
			}
		}
		s.setCurrent(nil)
		return nil, nil
	}

	profile, err := s.sessions.GetProfile(ctx, stored.Identity)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to read profile")
	}
	session := *stored
	session.Profile = profile
	if profile.IsComplete() {
		session.State = models.SessionAuthenticatedComplete
		if session.ActiveAcademicYear == "" {
			session.ActiveAcademicYear = profile.AcademicYear
		}
	} else {
		session.State = models.SessionAuthenticatedNoProfile
	}

	s.setCurrent(&session)
	s.logger.Info("session restored", zap.String("identity", session.Identity), zap.String("state", string(session.State)))
	return &session, nil
}

// Register creates a teacher account and signs it in without a profile.
func (s *SessionService) Register(ctx context.Context, req models.RegisterRequest) (*models.Session, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	account := &models.Account{
		ID:           s.newID(),
		Email:        req.Email,
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "email already registered")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to create account")
	}

	return s.transition(ctx, func() (*models.Session, error) {
		return s.establish(ctx, account, req.RememberMe)
	})
}

// Login authenticates the teacher and moves to AuthenticatedNoProfile or
// AuthenticatedComplete depending on the stored profile.
func (s *SessionService) Login(ctx context.Context, req models.LoginRequest) (*models.Session, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	account, err := s.accounts.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to fetch account")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}

	return s.transition(ctx, func() (*models.Session, error) {
		return s.establish(ctx, account, req.RememberMe)
	})
}

// establish persists a fresh session for account. s.mu must be held.
func (s *SessionService) establish(ctx context.Context, account *models.Account, remember bool) (*models.Session, error) {
	profile, err := s.sessions.GetProfile(ctx, account.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to read profile")
	}

	now := s.now()
	session := &models.Session{
		Identity:   account.ID,
		Email:      account.Email,
		Profile:    profile,
		LoginTime:  now,
		RememberMe: remember,
	}
	if profile.IsComplete() {
		session.State = models.SessionAuthenticatedComplete
		session.ActiveAcademicYear = profile.AcademicYear
	} else {
		session.State = models.SessionAuthenticatedNoProfile
		session.ActiveAcademicYear = models.CurrentAcademicYear(now)
	}

	if s.current != nil && s.current.Identity != session.Identity {
		s.roster.Deactivate()
	}
	if err := s.sessions.SaveSession(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to save session")
	}
	s.setCurrent(session)

	s.logger.Info("teacher signed in", zap.String("identity", session.Identity), zap.String("state", string(session.State)))
	return session, nil
}

// CompleteProfile stores the first profile of a signed-in teacher. It is only
// valid from AuthenticatedNoProfile.
func (s *SessionService) CompleteProfile(ctx context.Context, input models.ProfileInput) (*models.Session, error) {
	return s.transition(ctx, func() (*models.Session, error) {
		return s.completeProfileLocked(ctx, input)
	})
}

func (s *SessionService) completeProfileLocked(ctx context.Context, input models.ProfileInput) (*models.Session, error) {
	if s.current == nil || s.current.State != models.SessionAuthenticatedNoProfile {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "profile can only be completed right after sign in")
	}
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile payload")
	}

	now := s.now()
	profile := &models.TeacherProfile{
		Name:          strings.TrimSpace(input.Name),
		Email:         s.current.Email,
		Subject:       input.Subject,
		SchoolName:    input.SchoolName,
		ClassStandard: input.ClassStandard,
		Division:      input.Division,
		AcademicYear:  input.AcademicYear,
		PhoneNumber:   input.PhoneNumber,
		PhotoURL:      input.PhotoURL,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.sessions.SaveProfile(ctx, s.current.Identity, profile); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to save profile")
	}

	session := *s.current
	session.Profile = profile
	session.State = models.SessionAuthenticatedComplete
	session.ActiveAcademicYear = profile.AcademicYear
	if err := s.sessions.SaveSession(ctx, &session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to save session")
	}
	s.setCurrent(&session)
	return &session, nil
}

// Logout tears the roster down, then forgets the session. A roster load still
// running for the session is cancelled rather than awaited.
func (s *SessionService) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.abortActivationLocked()
	s.roster.Deactivate()
	s.setCurrent(nil)
	if err := s.sessions.ClearSession(ctx); err != nil {
		return appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to clear session")
	}
	return nil
}

// ChangeAcademicYear switches the active year and reloads the roster for it.
func (s *SessionService) ChangeAcademicYear(ctx context.Context, year string) (*models.Session, error) {
	return s.transition(ctx, func() (*models.Session, error) {
		return s.changeAcademicYearLocked(ctx, year)
	})
}

func (s *SessionService) changeAcademicYearLocked(ctx context.Context, year string) (*models.Session, error) {
	if err := s.requireComplete(); err != nil {
		return nil, err
	}
	year = strings.TrimSpace(year)
	if !ValidAcademicYear(year) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "academic year must look like 2024-2025")
	}

	session := *s.current
	session.ActiveAcademicYear = year
	if err := s.sessions.SaveSession(ctx, &session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to save session")
	}
	s.setCurrent(&session)
	return &session, nil
}

// UpdateProfile merges patch into the stored profile and rescopes the roster.
func (s *SessionService) UpdateProfile(ctx context.Context, patch models.ProfilePatch) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireComplete(); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(patch); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile payload")
	}

	profile := models.TeacherProfile{}
	if s.current.Profile != nil {
		profile = *s.current.Profile
	}
	patch.Apply(&profile)
	profile.UpdatedAt = s.now()
	if err := s.sessions.SaveProfile(ctx, s.current.Identity, &profile); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to save profile")
	}

	session := *s.current
	session.Profile = &profile
	if err := s.sessions.SaveSession(ctx, &session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to save session")
	}
	s.setCurrent(&session)
	s.roster.Rescope(&session)
	return s.snapshot(), nil
}

// Current returns a copy of the active session, anonymous when nobody is signed in.
func (s *SessionService) Current() *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// State returns the current state of the session flow.
func (s *SessionService) State() models.SessionState {
	return s.Current().State
}

func (s *SessionService) requireComplete() error {
	if s.current == nil {
		return appErrors.Clone(appErrors.ErrNotAuthenticated, "no active session")
	}
	if s.current.State != models.SessionAuthenticatedComplete {
		return appErrors.Clone(appErrors.ErrInvalidState, "complete the teacher profile first")
	}
	return nil
}

func (s *SessionService) setCurrent(session *models.Session) {
	s.current = session
	state := models.SessionAnonymous
	if session != nil {
		state = session.State
	}
	s.metrics.RecordSessionTransition(string(state))
}

// transition runs fn under s.mu and then binds the roster to the session fn
// returns, after the lock is released. A nil session leaves the roster alone.
func (s *SessionService) transition(ctx context.Context, fn func() (*models.Session, error)) (*models.Session, error) {
	s.mu.Lock()
	session, err := fn()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	var activation *rosterActivation
	if session != nil {
		activation = s.prepareActivationLocked(ctx, session)
	}
	snap := s.snapshot()
	s.mu.Unlock()

	if activation != nil {
		s.runActivation(activation)
	}
	return snap, nil
}

// abortActivationLocked cancels the in-flight activation and marks it stale.
func (s *SessionService) abortActivationLocked() {
	if s.cancelActivation != nil {
		s.cancelActivation()
		s.cancelActivation = nil
	}
	s.epoch++
}

func (s *SessionService) prepareActivationLocked(ctx context.Context, session *models.Session) *rosterActivation {
	s.abortActivationLocked()
	actx, cancel := context.WithCancel(ctx)
	s.cancelActivation = cancel
	return &rosterActivation{ctx: actx, cancel: cancel, session: *session, epoch: s.epoch}
}

func (s *SessionService) activationCurrent(epoch uint64) (current, anonymous bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch == epoch, s.current == nil
}

// runActivation binds the roster to a complete session. A failed load stays
// visible on the roster snapshot and does not undo the transition. When a
// later transition superseded this one while it loaded, a roster left bound
// to a signed-out teacher is torn down again.
func (s *SessionService) runActivation(a *rosterActivation) {
	defer a.cancel()
	s.rosterMu.Lock()
	defer s.rosterMu.Unlock()

	if current, _ := s.activationCurrent(a.epoch); !current {
		return
	}
	if a.session.State != models.SessionAuthenticatedComplete {
		s.roster.Deactivate()
		return
	}
	err := s.roster.Activate(a.ctx, &a.session)
	if current, anonymous := s.activationCurrent(a.epoch); !current {
		if anonymous {
			s.roster.Deactivate()
		}
		return
	}
	if err != nil {
		s.logger.Warn("roster load after session change failed", zap.String("identity", a.session.Identity), zap.Error(err))
	}
}

func (s *SessionService) snapshot() *models.Session {
	if s.current == nil {
		return &models.Session{State: models.SessionAnonymous}
	}
	session := *s.current
	if session.Profile != nil {
		profile := *session.Profile
		session.Profile = &profile
	}
	return &session
}
