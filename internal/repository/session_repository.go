package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionRepository keeps the single live session pointer per user.
type SessionRepository interface {
	// Set overwrites the pointer and returns the session id it replaced, if any.
	Set(ctx context.Context, userID int64, sessionID string, ttl time.Duration) (string, error)
	Bump(ctx context.Context, userID int64, ttl time.Duration) (bool, error)
	Get(ctx context.Context, userID int64) (string, bool, error)
	Clear(ctx context.Context, userID int64) error
	Matches(ctx context.Context, userID int64, sessionID string) (bool, error)
}

type sessionRepository struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// NewSessionRepository returns a Redis-backed implementation.
func NewSessionRepository(client redis.UniversalClient, timeout time.Duration) SessionRepository {
	return &sessionRepository{client: client, timeout: timeout}
}

// SessionIndexKey returns the cache key holding a user's session pointer.
func SessionIndexKey(userID int64) string {
	return sessionIndexPrefix + strconv.FormatInt(userID, 10)
}

func (r *sessionRepository) Set(ctx context.Context, userID int64, sessionID string, ttl time.Duration) (string, error) {
	if sessionID == "" {
		return "", errors.New("session id is empty")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("session ttl must be positive, got %s", ttl)
	}

	ctx, cancel := withCacheTimeout(ctx, r.timeout)
	defer cancel()

	key := SessionIndexKey(userID)
	var previous *redis.StringCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		previous = pipe.Get(ctx, key)
		pipe.Set(ctx, key, sessionID, ttl)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", cacheError("set session", err)
	}

	prev, err := previous.Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", cacheError("set session", err)
	}
	return prev, nil
}

func (r *sessionRepository) Bump(ctx context.Context, userID int64, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("session ttl must be positive, got %s", ttl)
	}

	ctx, cancel := withCacheTimeout(ctx, r.timeout)
	defer cancel()

	ok, err := r.client.Expire(ctx, SessionIndexKey(userID), ttl).Result()
	if err != nil {
		return false, cacheError("bump session", err)
	}
	return ok, nil
}

func (r *sessionRepository) Get(ctx context.Context, userID int64) (string, bool, error) {
	ctx, cancel := withCacheTimeout(ctx, r.timeout)
	defer cancel()

	sessionID, err := r.client.Get(ctx, SessionIndexKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, cacheError("get session", err)
	}
	return sessionID, true, nil
}

func (r *sessionRepository) Clear(ctx context.Context, userID int64) error {
	ctx, cancel := withCacheTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.client.Del(ctx, SessionIndexKey(userID)).Err(); err != nil {
		return cacheError("clear session", err)
	}
	return nil
}

func (r *sessionRepository) Matches(ctx context.Context, userID int64, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}
	current, found, err := r.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	return found && current == sessionID, nil
}
