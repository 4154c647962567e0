package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/noah-isme/classroom-roster/internal/models"
	"github.com/noah-isme/classroom-roster/pkg/storage"
)

const currentSessionKey = "session"

// LocalSessionRepository persists the current session and teacher profiles in
// device-local storage.
type LocalSessionRepository struct {
	store keyValueStore
}

// NewLocalSessionRepository constructs a LocalSessionRepository.
func NewLocalSessionRepository(store keyValueStore) *LocalSessionRepository {
	return &LocalSessionRepository{store: store}
}

// GetSession returns the stored session or nil when none is stored.
func (r *LocalSessionRepository) GetSession(ctx context.Context) (*models.Session, error) {
	var session models.Session
	found, err := r.get(ctx, currentSessionKey, &session)
	if err != nil || !found {
		return nil, err
	}
	return &session, nil
}

// SaveSession replaces the stored session.
func (r *LocalSessionRepository) SaveSession(ctx context.Context, session *models.Session) error {
	return r.set(ctx, currentSessionKey, session)
}

// ClearSession removes the stored session.
func (r *LocalSessionRepository) ClearSession(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.store.RemoveItem(currentSessionKey)
}

// GetProfile returns the profile stored for identity or nil when none exists.
func (r *LocalSessionRepository) GetProfile(ctx context.Context, identity string) (*models.TeacherProfile, error) {
	var profile models.TeacherProfile
	found, err := r.get(ctx, profileKey(identity), &profile)
	if err != nil || !found {
		return nil, err
	}
	return &profile, nil
}

// SaveProfile stores the profile for identity.
func (r *LocalSessionRepository) SaveProfile(ctx context.Context, identity string, profile *models.TeacherProfile) error {
	return r.set(ctx, profileKey(identity), profile)
}

func profileKey(identity string) string {
	return "profile-" + identity
}

func (r *LocalSessionRepository) get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	raw, err := r.store.GetItem(key)
	if err != nil {
		if errors.Is(err, storage.ErrItemNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (r *LocalSessionRepository) set(ctx context.Context, key string, value interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return r.store.SetItem(key, payload)
}
