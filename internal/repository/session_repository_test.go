package repository

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/classroom-roster/internal/models"
)

func TestSessionRepositoryWithoutClient(t *testing.T) {
	repo := NewSessionRepository(nil, "", time.Hour, nil)

	session, err := repo.GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, session)

	profile, err := repo.GetProfile(context.Background(), "t1")
	require.NoError(t, err)
	assert.Nil(t, profile)

	assert.Error(t, repo.SaveSession(context.Background(), &models.Session{Identity: "t1"}))
	assert.NoError(t, repo.ClearSession(context.Background()))
	assert.NoError(t, repo.Close())
}

func TestSessionRepositoryKeys(t *testing.T) {
	repo := NewSessionRepository(nil, "dash", time.Hour, nil)
	assert.Equal(t, "dash:session", repo.sessionKey())
	assert.Equal(t, "dash:profile:t1", repo.profileKey("t1"))
}

func TestSessionRepositoryUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	repo := NewSessionRepository(client, "dash", time.Hour, nil)
	defer repo.Close() //nolint:errcheck

	_, err := repo.GetSession(context.Background())
	assert.Error(t, err)
}
