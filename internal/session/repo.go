package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/knockme-app/knockme-backend/internal/alerts/domain"
)

const (
	resumeKeyPrefix  = "knockme:user:"    // Last-known signed-in profile: knockme:user:{uid}
	sessionKeyPrefix = "knockme:session:" // Session to uid index: knockme:session:{session_id}
)

var ErrResumeNotFound = errors.New("resume record not found")

// ResumeRepository keeps the small key-value record caching the last-known
// signed-in user's profile for instant-resume display. It is not
// authoritative; the identity provider remains the source of truth.
type ResumeRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewResumeRepository(client *redis.Client, ttl time.Duration) *ResumeRepository {
	return &ResumeRepository{client: client, ttl: ttl}
}

// Save stores the profile record and the session index entry in one
// round-trip.
func (r *ResumeRepository) Save(ctx context.Context, sessionID string, user domain.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal resume record: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.resumeKey(user.ID), data, r.ttl)
	pipe.Set(ctx, r.sessionKey(sessionID), user.ID, r.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save resume record: %w", err)
	}
	return nil
}

// Get returns the cached profile for uid.
func (r *ResumeRepository) Get(ctx context.Context, uid string) (*domain.User, error) {
	data, err := r.client.Get(ctx, r.resumeKey(uid)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrResumeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resume record: %w", err)
	}

	var user domain.User
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal resume record: %w", err)
	}
	return &user, nil
}

// GetBySession resolves the uid bound to a session and returns its cached
// profile.
func (r *ResumeRepository) GetBySession(ctx context.Context, sessionID string) (*domain.User, error) {
	uid, err := r.client.Get(ctx, r.sessionKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrResumeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	return r.Get(ctx, uid)
}

// Clear removes the session index entry. The profile record itself is kept:
// it only caches public display fields and expires with its TTL.
func (r *ResumeRepository) Clear(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

func (r *ResumeRepository) resumeKey(uid string) string {
	return resumeKeyPrefix + uid
}

func (r *ResumeRepository) sessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}
