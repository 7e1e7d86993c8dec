package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/delivery-auth/internal/domain"
)

// RevocationChecker reports whether an access token id has been denylisted.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// SessionToucher extends the TTL of a live session pointer.
type SessionToucher interface {
	Bump(ctx context.Context, userID int64, ttl time.Duration) (bool, error)
}

// OutcomeRecorder counts authentication outcomes.
type OutcomeRecorder interface {
	RecordAuthOutcome(operation, outcome string)
}

// Gate resolves bearer tokens into principals. It never rejects a request itself;
// RequireAuthenticated and RequireRole enforce access downstream.
type Gate struct {
	tokens      *TokenCodec
	revocations RevocationChecker
	sessions    SessionToucher
	keepAlive   time.Duration
	logger      *zap.Logger
	recorder    OutcomeRecorder
}

// GateOption customises a Gate.
type GateOption func(*Gate)

// WithKeepAlive bumps the caller's session pointer to ttl on every authenticated request.
func WithKeepAlive(sessions SessionToucher, ttl time.Duration) GateOption {
	return func(g *Gate) {
		g.sessions = sessions
		g.keepAlive = ttl
	}
}

// WithGateLogger sets the logger used for rejected tokens.
func WithGateLogger(logger *zap.Logger) GateOption {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithOutcomeRecorder reports each resolution outcome.
func WithOutcomeRecorder(recorder OutcomeRecorder) GateOption {
	return func(g *Gate) {
		g.recorder = recorder
	}
}

// NewGate constructs the authentication gate.
func NewGate(tokens *TokenCodec, revocations RevocationChecker, opts ...GateOption) *Gate {
	g := &Gate{tokens: tokens, revocations: revocations, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ResolveIdentity validates an access token and checks it against the denylist.
// A denylist lookup failure is reported as an error, so callers deny.
func (g *Gate) ResolveIdentity(ctx context.Context, token string) (*Principal, error) {
	claims, err := g.tokens.Parse(domain.TokenKindAccess, token)
	if err != nil {
		return nil, err
	}

	revoked, err := g.revocations.IsRevoked(ctx, claims.TokenID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, domain.ErrRevokedToken
	}

	return newPrincipal(claims), nil
}

// Handle binds the resolved principal to the request when a valid bearer token is present.
func (g *Gate) Handle(c *fiber.Ctx) error {
	token, ok := BearerToken(c.Get(fiber.HeaderAuthorization))
	if !ok {
		return c.Next()
	}

	principal, err := g.ResolveIdentity(c.UserContext(), token)
	if err != nil {
		c.Locals(principalKey, nil)
		g.record(outcomeFor(err))
		g.logger.Debug("bearer token rejected",
			zap.String("path", c.Path()),
			zap.Error(err))
		return c.Next()
	}

	g.record("ok")
	c.Locals(principalKey, principal)
	c.SetUserContext(WithPrincipal(c.UserContext(), principal))
	g.touch(c.UserContext(), principal)

	return c.Next()
}

func (g *Gate) touch(ctx context.Context, p *Principal) {
	if g.sessions == nil || g.keepAlive <= 0 {
		return
	}
	if _, err := g.sessions.Bump(ctx, p.UserID, g.keepAlive); err != nil {
		g.logger.Debug("session keep-alive failed", zap.Int64("user_id", p.UserID), zap.Error(err))
	}
}

func (g *Gate) record(outcome string) {
	if g.recorder != nil {
		g.recorder.RecordAuthOutcome("resolve", outcome)
	}
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrExpiredToken):
		return "expired"
	case errors.Is(err, domain.ErrRevokedToken):
		return "revoked"
	case errors.Is(err, domain.ErrCacheUnavailable):
		return "cache_unavailable"
	case errors.Is(err, domain.ErrMissingClaim):
		return "missing_claim"
	default:
		return "malformed"
	}
}

// BearerToken extracts the token from an Authorization header value.
// The scheme is matched case-insensitively and the token is trimmed.
func BearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
