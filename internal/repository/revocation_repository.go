package repository

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationRepository is the denylist of revoked access token ids.
type RevocationRepository interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type revocationRepository struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// NewRevocationRepository returns a Redis-backed implementation.
func NewRevocationRepository(client redis.UniversalClient, timeout time.Duration) RevocationRepository {
	return &revocationRepository{client: client, timeout: timeout}
}

// RevokedTokenKey returns the cache key marking tokenID as revoked.
func RevokedTokenKey(tokenID string) string {
	return revokedTokenPrefix + tokenID
}

// Revoke denylists tokenID for ttl. Entries expire on their own when the token would have;
// a non-positive ttl means the token is already dead and nothing is written.
func (r *revocationRepository) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if tokenID == "" {
		return errors.New("token id is empty")
	}
	if ttl <= 0 {
		return nil
	}

	ctx, cancel := withCacheTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.client.Set(ctx, RevokedTokenKey(tokenID), "1", ttl).Err(); err != nil {
		return cacheError("revoke token", err)
	}
	return nil
}

func (r *revocationRepository) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	ctx, cancel := withCacheTimeout(ctx, r.timeout)
	defer cancel()

	n, err := r.client.Exists(ctx, RevokedTokenKey(tokenID)).Result()
	if err != nil {
		return false, cacheError("check revocation", err)
	}
	return n > 0, nil
}
