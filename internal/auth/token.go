package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/spec-kit/delivery-auth/internal/domain"
)

// TokenCodec issues and parses signed bearer tokens. It never touches the cache.
type TokenCodec struct {
	keys   *SigningKeys
	issuer string
	skew   time.Duration
	now    func() time.Time
}

// CodecOption customises a TokenCodec.
type CodecOption func(*TokenCodec)

// WithIssuer stamps and enforces the iss claim.
func WithIssuer(issuer string) CodecOption {
	return func(c *TokenCodec) {
		c.issuer = issuer
	}
}

// WithClockSkew tolerates clocks that disagree by up to d when checking exp.
func WithClockSkew(d time.Duration) CodecOption {
	return func(c *TokenCodec) {
		if d > 0 {
			c.skew = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewTokenCodec builds a codec over previously derived keys.
func NewTokenCodec(keys *SigningKeys, opts ...CodecOption) *TokenCodec {
	c := &TokenCodec{keys: keys, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Claims is the typed view of a validated token.
type Claims struct {
	Kind        domain.TokenKind
	UserID      int64
	DisplayName string
	Roles       []string
	SessionID   string
	TokenID     string
	Issuer      string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Remaining returns the lifetime left at now, floored at zero.
func (c Claims) Remaining(now time.Time) time.Duration {
	left := c.ExpiresAt.Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// IssueParams describes the identity a token is minted for.
type IssueParams struct {
	UserID      int64
	DisplayName string
	Roles       []string
	SessionID   string
	TTL         time.Duration
}

// tokenClaims is the JWT payload.
type tokenClaims struct {
	Kind      domain.TokenKind `json:"typ"`
	Name      string           `json:"name,omitempty"`
	Roles     roleList         `json:"roles,omitempty"`
	SessionID string           `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// roleList accepts either a JSON array or a comma-joined string.
type roleList []string

func (r *roleList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*r = NormalizeRoles(list)
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return fmt.Errorf("roles: %w", err)
	}
	*r = NormalizeRoles(strings.Split(joined, ","))
	return nil
}

// NormalizeRoles trims, drops empty labels, de-duplicates and sorts.
func NormalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		out = append(out, role)
	}
	if len(out) == 0 {
		return nil
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Issue signs a new token of the given kind. A non-positive TTL yields an already expired token.
func (c *TokenCodec) Issue(kind domain.TokenKind, p IssueParams) (string, Claims, error) {
	key, err := c.keys.forKind(kind)
	if err != nil {
		return "", Claims{}, err
	}
	if p.UserID <= 0 {
		return "", Claims{}, fmt.Errorf("%w: user id", domain.ErrMissingClaim)
	}

	now := c.now()
	claims := &tokenClaims{
		Kind:      kind,
		Name:      p.DisplayName,
		Roles:     NormalizeRoles(p.Roles),
		SessionID: p.SessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(p.UserID, 10),
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.TTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign %s token: %w", strings.ToLower(string(kind)), err)
	}

	return signed, toClaims(claims, p.UserID), nil
}

// ClockSkew returns the tolerance applied past exp.
func (c *TokenCodec) ClockSkew() time.Duration {
	return c.skew
}

// validationTime trails the clock by one nanosecond. jwt rejects at now >= exp,
// while a token here stays valid through its exp instant and fails once now > exp.
func (c *TokenCodec) validationTime() time.Time {
	return c.now().Add(-time.Nanosecond)
}

// Parse verifies signature, expiry and kind and returns the typed claims.
func (c *TokenCodec) Parse(kind domain.TokenKind, tokenStr string) (Claims, error) {
	key, err := c.keys.forKind(kind)
	if err != nil {
		return Claims{}, err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(c.skew),
		jwt.WithTimeFunc(c.validationTime),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	parsed, err := jwt.NewParser(opts...).ParseWithClaims(tokenStr, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil {
		return Claims{}, classifyParseError(err)
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return Claims{}, domain.ErrMalformedToken
	}
	if claims.Kind != kind {
		return Claims{}, fmt.Errorf("%w: expected %s token, got %q", domain.ErrMalformedToken, kind, claims.Kind)
	}
	if claims.Subject == "" {
		return Claims{}, fmt.Errorf("%w: sub", domain.ErrMissingClaim)
	}
	if claims.ID == "" {
		return Claims{}, fmt.Errorf("%w: jti", domain.ErrMissingClaim)
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return Claims{}, fmt.Errorf("%w: subject %q is not a user id", domain.ErrMalformedToken, claims.Subject)
	}

	return toClaims(claims, userID), nil
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", domain.ErrExpiredToken, err)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: %v", domain.ErrMissingClaim, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrMalformedToken, err)
	}
}

func toClaims(tc *tokenClaims, userID int64) Claims {
	out := Claims{
		Kind:        tc.Kind,
		UserID:      userID,
		DisplayName: tc.Name,
		Roles:       []string(tc.Roles),
		SessionID:   tc.SessionID,
		TokenID:     tc.ID,
		Issuer:      tc.Issuer,
	}
	if tc.IssuedAt != nil {
		out.IssuedAt = tc.IssuedAt.Time
	}
	if tc.ExpiresAt != nil {
		out.ExpiresAt = tc.ExpiresAt.Time
	}
	return out
}
