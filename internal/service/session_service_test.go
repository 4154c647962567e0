package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/classroom-roster/internal/models"
	"github.com/noah-isme/classroom-roster/internal/repository"
	appErrors "github.com/noah-isme/classroom-roster/pkg/errors"
	"github.com/noah-isme/classroom-roster/pkg/storage"
)

type recordingRoster struct {
	activated   []models.Session
	rescoped    []models.Session
	deactivated int
}

func (r *recordingRoster) Activate(ctx context.Context, session *models.Session) error {
	r.activated = append(r.activated, *session)
	return nil
}

func (r *recordingRoster) Rescope(session *models.Session) {
	r.rescoped = append(r.rescoped, *session)
}

func (r *recordingRoster) Deactivate() {
	r.deactivated++
}

type sessionFixture struct {
	svc      *SessionService
	sessions *repository.LocalSessionRepository
	roster   *recordingRoster
}

func newSessionFixture(t *testing.T, roster rosterScoper) *sessionFixture {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	sessions := repository.NewLocalSessionRepository(store)
	accounts := repository.NewLocalAccountRepository(store)

	recorder, _ := roster.(*recordingRoster)
	if roster == nil {
		recorder = &recordingRoster{}
		roster = recorder
	}
	svc := NewSessionService(accounts, sessions, roster, NewValidator(), zap.NewNop(), NewMetricsService())
	svc.now = func() time.Time { return time.Date(2024, 8, 1, 10, 0, 0, 0, time.UTC) }
	return &sessionFixture{svc: svc, sessions: sessions, roster: recorder}
}

func completeProfileInput() models.ProfileInput {
	return models.ProfileInput{
		Name:          "Asha Patil",
		Subject:       "Maths",
		SchoolName:    "ZP School",
		ClassStandard: "5",
		Division:      "A",
		AcademicYear:  "2024-2025",
	}
}

func TestSessionServiceRegisterStartsWithoutProfile(t *testing.T) {
	fx := newSessionFixture(t, nil)
	session, err := fx.svc.Register(context.Background(), models.RegisterRequest{Email: " Asha@Example.com ", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, models.SessionAuthenticatedNoProfile, session.State)
	assert.Equal(t, "asha@example.com", session.Email)
	assert.Equal(t, "2024-2025", session.ActiveAcademicYear)
	assert.Empty(t, fx.roster.activated)

	_, err = fx.svc.Register(context.Background(), models.RegisterRequest{Email: "asha@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestSessionServiceLoginRejectsBadCredentials(t *testing.T) {
	fx := newSessionFixture(t, nil)
	_, err := fx.svc.Register(context.Background(), models.RegisterRequest{Email: "asha@example.com", Password: "secret1"})
	require.NoError(t, err)
	require.NoError(t, fx.svc.Logout(context.Background()))

	_, err = fx.svc.Login(context.Background(), models.LoginRequest{Email: "asha@example.com", Password: "wrong-one"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
	_, err = fx.svc.Login(context.Background(), models.LoginRequest{Email: "nobody@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
	assert.Equal(t, models.SessionAnonymous, fx.svc.State())
}

func TestSessionServiceCompleteProfileFlow(t *testing.T) {
	fx := newSessionFixture(t, nil)
	_, err := fx.svc.CompleteProfile(context.Background(), completeProfileInput())
	assert.ErrorIs(t, err, appErrors.ErrInvalidState)

	_, err = fx.svc.Register(context.Background(), models.RegisterRequest{Email: "asha@example.com", Password: "secret1"})
	require.NoError(t, err)

	bad := completeProfileInput()
	bad.AcademicYear = "2024-2026"
	_, err = fx.svc.CompleteProfile(context.Background(), bad)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	session, err := fx.svc.CompleteProfile(context.Background(), completeProfileInput())
	require.NoError(t, err)
	assert.Equal(t, models.SessionAuthenticatedComplete, session.State)
	require.NotNil(t, session.Profile)
	assert.Equal(t, "asha@example.com", session.Profile.Email)
	require.Len(t, fx.roster.activated, 1)
	assert.Equal(t, "2024-2025", fx.roster.activated[0].ActiveAcademicYear)

	_, err = fx.svc.CompleteProfile(context.Background(), completeProfileInput())
	assert.ErrorIs(t, err, appErrors.ErrInvalidState)
}

func TestSessionServiceLoginWithStoredProfileIsComplete(t *testing.T) {
	fx := newSessionFixture(t, nil)
	_, err := fx.svc.Register(context.Background(), models.RegisterRequest{Email: "asha@example.com", Password: "secret1"})
	require.NoError(t, err)
	_, err = fx.svc.CompleteProfile(context.Background(), completeProfileInput())
	require.NoError(t, err)
	require.NoError(t, fx.svc.Logout(context.Background()))

	session, err := fx.svc.Login(context.Background(), models.LoginRequest{Email: "ASHA@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, models.SessionAuthenticatedComplete, session.State)
	assert.Equal(t, "Asha Patil", session.Profile.Name)
}

func TestSessionServiceChangeAcademicYear(t *testing.T) {
	fx := newSessionFixture(t, nil)
	_, err := fx.svc.ChangeAcademicYear(context.Background(), "2023-2024")
	assert.ErrorIs(t, err, appErrors.ErrNotAuthenticated)

	_, err = fx.svc.Register(context.Background(), models.RegisterRequest{Email: "asha@example.com", Password: "secret1"})
	require.NoError(t, err)
	_, err = fx.svc.ChangeAcademicYear(context.Background(), "2023-2024")
	assert.ErrorIs(t, err, appErrors.ErrInvalidState)

	_, err = fx.svc.CompleteProfile(context.Background(), completeProfileInput())
	require.NoError(t, err)
	_, err = fx.svc.ChangeAcademicYear(context.Background(), "2023")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	session, err := fx.svc.ChangeAcademicYear(context.Background(), "2023-2024")
	require.NoError(t, err)
	assert.Equal(t, "2023-2024", session.ActiveAcademicYear)
	assert.Equal(t, "2023-2024", fx.roster.activated[len(fx.roster.activated)-1].ActiveAcademicYear)

	stored, err := fx.sessions.GetSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2023-2024", stored.ActiveAcademicYear)
}

func TestSessionServiceUpdateProfileRescopes(t *testing.T) {
	fx := newSessionFixture(t, nil)
	_, err := fx.svc.Register(context.Background(), models.RegisterRequest{Email: "asha@example.com", Password: "secret1"})
	require.NoError(t, err)
	_, err = fx.svc.CompleteProfile(context.Background(), completeProfileInput())
	require.NoError(t, err)

	division := "B"
	session, err := fx.svc.UpdateProfile(context.Background(), models.ProfilePatch{Division: &division})
	require.NoError(t, err)
	assert.Equal(t, "B", session.Profile.Division)
	assert.Equal(t, "Maths", session.Profile.Subject)
	require.Len(t, fx.roster.rescoped, 1)
	assert.Equal(t, "B", fx.roster.rescoped[0].Profile.Division)

	stored, err := fx.sessions.GetProfile(context.Background(), session.Identity)
	require.NoError(t, err)
	assert.Equal(t, "B", stored.Division)
}

func TestSessionServiceRestoreHonoursRememberMe(t *testing.T) {
	fx := newSessionFixture(t, nil)
	_, err := fx.svc.Register(context.Background(), models.RegisterRequest{Email: "asha@example.com", Password: "secret1", RememberMe: true})
	require.NoError(t, err)
	_, err = fx.svc.CompleteProfile(context.Background(), completeProfileInput())
	require.NoError(t, err)

	restored, err := fx.svc.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SessionAuthenticatedComplete, restored.State)

	forgetful := newSessionFixture(t, nil)
	_, err = forgetful.svc.Register(context.Background(), models.RegisterRequest{Email: "ravi@example.com", Password: "secret1"})
	require.NoError(t, err)
	restored, err = forgetful.svc.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SessionAnonymous, restored.State)

	stored, err := forgetful.sessions.GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestSessionServiceLogoutClearsRoster(t *testing.T) {
	roster := newRosterFixture(t, newFakeRosterStore(), RosterConfig{})
	fx := newSessionFixture(t, roster.svc)
	_, err := fx.svc.Register(context.Background(), models.RegisterRequest{Email: "asha@example.com", Password: "secret1"})
	require.NoError(t, err)
	_, err = fx.svc.CompleteProfile(context.Background(), completeProfileInput())
	require.NoError(t, err)

	created, err := roster.svc.Add(context.Background(), validStudentInput("Priya", "5", "A"))
	require.NoError(t, err)
	_, ok := roster.svc.GetByID(created.ID)
	require.True(t, ok)

	require.NoError(t, fx.svc.Logout(context.Background()))
	assert.Equal(t, models.SessionAnonymous, fx.svc.State())
	_, ok = roster.svc.GetByID(created.ID)
	assert.False(t, ok)
	_, err = roster.svc.Add(context.Background(), validStudentInput("Kiran", "5", "A"))
	assert.ErrorIs(t, err, appErrors.ErrNotAuthenticated)
}

func TestSessionServiceLogoutInterruptsRosterLoad(t *testing.T) {
	store := newBlockingRosterStore()
	roster := NewRosterService(store, nil, nil, NewValidator(), zap.NewNop(), nil, RosterConfig{})
	fx := newSessionFixture(t, roster)
	_, err := fx.svc.Register(context.Background(), models.RegisterRequest{Email: "asha@example.com", Password: "secret1"})
	require.NoError(t, err)

	store.hold.Store(true)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	completed := make(chan error, 1)
	go func() {
		_, err := fx.svc.CompleteProfile(ctx, completeProfileInput())
		completed <- err
	}()
	store.waitStarted(t)

	started := time.Now()
	require.NoError(t, fx.svc.Logout(context.Background()))
	assert.Less(t, time.Since(started), time.Second)

	select {
	case err := <-completed:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("profile completion stayed blocked on the roster load")
	}
	assert.Equal(t, models.SessionAnonymous, fx.svc.State())
	assert.False(t, roster.Snapshot().Active)
	assert.Empty(t, roster.Students())
}
