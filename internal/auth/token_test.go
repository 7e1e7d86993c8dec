package auth

import (
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/delivery-auth/internal/domain"
)

func newTestCodec(t *testing.T, opts ...CodecOption) (*TokenCodec, time.Time) {
	t.Helper()
	keys, err := NewSigningKeys(testAccessSecret, testRefreshSecret)
	require.NoError(t, err)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	opts = append([]CodecOption{WithIssuer("delivery-auth"), WithClock(func() time.Time { return now })}, opts...)
	return NewTokenCodec(keys, opts...), now
}

func TestIssueAndParseRoundTrip(t *testing.T) {
	codec, now := newTestCodec(t)

	token, issued, err := codec.Issue(domain.TokenKindAccess, IssueParams{
		UserID:      42,
		DisplayName: "Ana",
		Roles:       []string{"USER", " OWNER", "USER"},
		SessionID:   "01HX0000000000000000000000",
		TTL:         time.Hour,
	})
	require.NoError(t, err)
	require.Equal(t, 3, strings.Count(token, ".")+1)

	claims, err := codec.Parse(domain.TokenKindAccess, token)
	require.NoError(t, err)
	require.Equal(t, domain.TokenKindAccess, claims.Kind)
	require.Equal(t, int64(42), claims.UserID)
	require.Equal(t, "Ana", claims.DisplayName)
	require.Equal(t, []string{"OWNER", "USER"}, claims.Roles)
	require.Equal(t, "01HX0000000000000000000000", claims.SessionID)
	require.Equal(t, issued.TokenID, claims.TokenID)
	require.NotEmpty(t, claims.TokenID)
	require.Equal(t, "delivery-auth", claims.Issuer)
	require.True(t, now.Add(time.Hour).Equal(claims.ExpiresAt))
	require.Equal(t, time.Hour, claims.Remaining(now))
}

func TestIssueUsesFreshTokenIDs(t *testing.T) {
	codec, _ := newTestCodec(t)
	params := IssueParams{UserID: 7, TTL: time.Minute}

	_, first, err := codec.Issue(domain.TokenKindAccess, params)
	require.NoError(t, err)
	_, second, err := codec.Issue(domain.TokenKindAccess, params)
	require.NoError(t, err)
	require.NotEqual(t, first.TokenID, second.TokenID)
}

func TestIssueRequiresUserID(t *testing.T) {
	codec, _ := newTestCodec(t)
	_, _, err := codec.Issue(domain.TokenKindAccess, IssueParams{TTL: time.Minute})
	require.ErrorIs(t, err, domain.ErrMissingClaim)
}

func TestParseRejectsExpiredTokens(t *testing.T) {
	codec, _ := newTestCodec(t)

	for _, ttl := range []time.Duration{-time.Second, -time.Hour} {
		token, _, err := codec.Issue(domain.TokenKindRefresh, IssueParams{UserID: 7, TTL: ttl})
		require.NoError(t, err)

		_, err = codec.Parse(domain.TokenKindRefresh, token)
		require.ErrorIs(t, err, domain.ErrExpiredToken)
	}
}

func TestParseAcceptsTokenThroughExpiryInstant(t *testing.T) {
	codec, now := newTestCodec(t)
	token, claims, err := codec.Issue(domain.TokenKindAccess, IssueParams{UserID: 7, TTL: time.Hour})
	require.NoError(t, err)
	require.True(t, now.Add(time.Hour).Equal(claims.ExpiresAt))

	at := func(ts time.Time) *TokenCodec {
		return NewTokenCodec(codec.keys, WithIssuer("delivery-auth"), WithClock(func() time.Time { return ts }))
	}

	_, err = at(claims.ExpiresAt).Parse(domain.TokenKindAccess, token)
	require.NoError(t, err)

	_, err = at(claims.ExpiresAt.Add(time.Nanosecond)).Parse(domain.TokenKindAccess, token)
	require.ErrorIs(t, err, domain.ErrExpiredToken)

	_, err = at(claims.ExpiresAt.Add(time.Second)).Parse(domain.TokenKindAccess, token)
	require.ErrorIs(t, err, domain.ErrExpiredToken)
}

func TestParseToleratesClockSkew(t *testing.T) {
	codec, _ := newTestCodec(t, WithClockSkew(10*time.Second))

	token, _, err := codec.Issue(domain.TokenKindAccess, IssueParams{UserID: 7, TTL: -5 * time.Second})
	require.NoError(t, err)

	claims, err := codec.Parse(domain.TokenKindAccess, token)
	require.NoError(t, err)
	require.Equal(t, int64(7), claims.UserID)
	require.Equal(t, 10*time.Second, codec.ClockSkew())
}

func TestParseKeepsKindsApart(t *testing.T) {
	codec, _ := newTestCodec(t)

	access, _, err := codec.Issue(domain.TokenKindAccess, IssueParams{UserID: 7, TTL: time.Minute})
	require.NoError(t, err)
	refresh, _, err := codec.Issue(domain.TokenKindRefresh, IssueParams{UserID: 7, TTL: time.Minute})
	require.NoError(t, err)

	_, err = codec.Parse(domain.TokenKindRefresh, access)
	require.ErrorIs(t, err, domain.ErrMalformedToken)
	_, err = codec.Parse(domain.TokenKindAccess, refresh)
	require.ErrorIs(t, err, domain.ErrMalformedToken)
}

func TestParseRejectsKindMismatchUnderCorrectKey(t *testing.T) {
	codec, now := newTestCodec(t)

	forged := signWithKey(t, codec.keys.access, jwt.MapClaims{
		"typ": "REFRESH",
		"sub": "7",
		"jti": "abc",
		"iss": "delivery-auth",
		"exp": now.Add(time.Minute).Unix(),
	})
	_, err := codec.Parse(domain.TokenKindAccess, forged)
	require.ErrorIs(t, err, domain.ErrMalformedToken)
}

func TestParseRejectsTamperedAndGarbageTokens(t *testing.T) {
	codec, _ := newTestCodec(t)

	token, _, err := codec.Issue(domain.TokenKindAccess, IssueParams{UserID: 7, TTL: time.Minute})
	require.NoError(t, err)
	parts := strings.Split(token, ".")
	parts[2] = strings.Repeat("A", len(parts[2]))

	for _, candidate := range []string{"", "not-a-token", strings.Join(parts, ".")} {
		_, err := codec.Parse(domain.TokenKindAccess, candidate)
		require.ErrorIs(t, err, domain.ErrMalformedToken, candidate)
	}
}

func TestParseRejectsMissingClaims(t *testing.T) {
	codec, now := newTestCodec(t)
	exp := now.Add(time.Minute).Unix()

	cases := map[string]jwt.MapClaims{
		"no exp": {"typ": "ACCESS", "sub": "7", "jti": "abc", "iss": "delivery-auth"},
		"no sub": {"typ": "ACCESS", "jti": "abc", "iss": "delivery-auth", "exp": exp},
		"no jti": {"typ": "ACCESS", "sub": "7", "iss": "delivery-auth", "exp": exp},
	}
	for name, claims := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := codec.Parse(domain.TokenKindAccess, signWithKey(t, codec.keys.access, claims))
			require.ErrorIs(t, err, domain.ErrMissingClaim)
		})
	}
}

func TestParseRejectsForeignIssuerAndAlgorithm(t *testing.T) {
	codec, now := newTestCodec(t)
	claims := jwt.MapClaims{
		"typ": "ACCESS",
		"sub": "7",
		"jti": "abc",
		"iss": "someone-else",
		"exp": now.Add(time.Minute).Unix(),
	}
	_, err := codec.Parse(domain.TokenKindAccess, signWithKey(t, codec.keys.access, claims))
	require.ErrorIs(t, err, domain.ErrMalformedToken)

	claims["iss"] = "delivery-auth"
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(codec.keys.access)
	require.NoError(t, err)
	_, err = codec.Parse(domain.TokenKindAccess, hs512)
	require.ErrorIs(t, err, domain.ErrMalformedToken)
}

func TestParseAcceptsCommaJoinedRoles(t *testing.T) {
	codec, now := newTestCodec(t)

	token := signWithKey(t, codec.keys.access, jwt.MapClaims{
		"typ":   "ACCESS",
		"sub":   "7",
		"jti":   "abc",
		"iss":   "delivery-auth",
		"exp":   now.Add(time.Minute).Unix(),
		"roles": "USER, OWNER,,USER",
	})
	claims, err := codec.Parse(domain.TokenKindAccess, token)
	require.NoError(t, err)
	require.Equal(t, []string{"OWNER", "USER"}, claims.Roles)
}

func TestParseRejectsNonNumericSubject(t *testing.T) {
	codec, now := newTestCodec(t)
	token := signWithKey(t, codec.keys.access, jwt.MapClaims{
		"typ": "ACCESS",
		"sub": "ana@example.com",
		"jti": "abc",
		"iss": "delivery-auth",
		"exp": now.Add(time.Minute).Unix(),
	})
	_, err := codec.Parse(domain.TokenKindAccess, token)
	require.ErrorIs(t, err, domain.ErrMalformedToken)
}

func signWithKey(t *testing.T, key []byte, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}
