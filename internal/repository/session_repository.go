package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/classroom-roster/internal/models"
	appErrors "github.com/noah-isme/classroom-roster/pkg/errors"
)

// SessionRepository keeps the current session and teacher profiles in Redis.
type SessionRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewSessionRepository constructs a Redis-backed session repository.
func NewSessionRepository(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *SessionRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "classroom_dashboard"
	}
	return &SessionRepository{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (r *SessionRepository) sessionKey() string {
	return r.prefix + ":session"
}

func (r *SessionRepository) profileKey(identity string) string {
	return r.prefix + ":profile:" + identity
}

// GetSession returns the stored session or nil when none is stored.
func (r *SessionRepository) GetSession(ctx context.Context) (*models.Session, error) {
	var session models.Session
	if err := r.get(ctx, r.sessionKey(), &session); err != nil {
		if errors.Is(err, appErrors.ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

// SaveSession stores the session. Sessions without RememberMe expire after the
// configured TTL.
func (r *SessionRepository) SaveSession(ctx context.Context, session *models.Session) error {
	ttl := r.ttl
	if session.RememberMe {
		ttl = 0
	}
	return r.set(ctx, r.sessionKey(), session, ttl)
}

// ClearSession removes the stored session.
func (r *SessionRepository) ClearSession(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Del(ctx, r.sessionKey()).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", r.sessionKey(), err)
	}
	return nil
}

// GetProfile returns the profile stored for identity or nil when none exists.
func (r *SessionRepository) GetProfile(ctx context.Context, identity string) (*models.TeacherProfile, error) {
	var profile models.TeacherProfile
	if err := r.get(ctx, r.profileKey(identity), &profile); err != nil {
		if errors.Is(err, appErrors.ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

// SaveProfile stores the profile for identity without expiry.
func (r *SessionRepository) SaveProfile(ctx context.Context, identity string, profile *models.TeacherProfile) error {
	return r.set(ctx, r.profileKey(identity), profile, 0)
}

func (r *SessionRepository) get(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		return appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return appErrors.ErrCacheMiss
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		r.logger.Warn("discarding unreadable session value", zap.String("key", key), zap.Error(err))
		return appErrors.ErrCacheMiss
	}
	return nil
}

func (r *SessionRepository) set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("redis client not configured")
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying Redis connection if present.
func (r *SessionRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
