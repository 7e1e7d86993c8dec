package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/spec-kit/delivery-auth/internal/domain"
)

const defaultCacheTimeout = 2 * time.Second

// Cache key prefixes. Changing them orphans every live session.
const (
	sessionIndexPrefix = "session:index:"
	revokedTokenPrefix = "session:revoked:"
)

func withCacheTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultCacheTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func cacheError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrCacheUnavailable, op, err)
}
