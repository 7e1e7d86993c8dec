package auth

import (
	"context"
	"slices"

	"github.com/gofiber/fiber/v2"
)

const principalKey = "auth_principal"

type principalCtxKey struct{}

// Principal represents the authenticated caller for the lifetime of one request.
type Principal struct {
	UserID      int64
	DisplayName string
	Roles       []string
	SessionID   string
	TokenID     string
}

func newPrincipal(c Claims) *Principal {
	return &Principal{
		UserID:      c.UserID,
		DisplayName: c.DisplayName,
		Roles:       slices.Clone(c.Roles),
		SessionID:   c.SessionID,
		TokenID:     c.TokenID,
	}
}

// HasRole reports whether the principal carries role.
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	return slices.Contains(p.Roles, role)
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, p)
}

// FromContext extracts the principal bound by the gate, if any.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalCtxKey{}).(*Principal)
	return p, ok && p != nil
}

// PrincipalFromContext retrieves the authenticated entity from the fiber request.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok && principal != nil
}
