package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/classroom-roster/internal/models"
	appErrors "github.com/noah-isme/classroom-roster/pkg/errors"
)

func TestTokenServiceIssueAndValidate(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: "test-secret", Expiry: time.Hour})
	session := &models.Session{Identity: "teacher-1", Email: "asha@example.com", LoginTime: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)}

	token, err := svc.Issue(session)
	require.NoError(t, err)
	assert.Equal(t, int64(3600), token.ExpiresIn)

	claims, err := svc.Validate(token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "teacher-1", claims.Identity)
	assert.NoError(t, svc.Matches(claims, session))

	relogin := *session
	relogin.LoginTime = relogin.LoginTime.Add(time.Minute)
	assert.ErrorIs(t, svc.Matches(claims, &relogin), appErrors.ErrNotAuthenticated)
}

func TestTokenServiceRejectsForeignAndExpiredTokens(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: "test-secret", Expiry: time.Minute})
	other := NewTokenService(TokenConfig{Secret: "other-secret"})
	session := &models.Session{Identity: "teacher-1", LoginTime: time.Now()}

	foreign, err := other.Issue(session)
	require.NoError(t, err)
	_, err = svc.Validate(foreign.AccessToken)
	assert.ErrorIs(t, err, appErrors.ErrNotAuthenticated)

	token, err := svc.Issue(session)
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.Validate(token.AccessToken)
	assert.ErrorIs(t, err, appErrors.ErrNotAuthenticated)

	_, err = svc.Issue(nil)
	assert.ErrorIs(t, err, appErrors.ErrNotAuthenticated)
}
