package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/delivery-auth/internal/auth"
	"github.com/spec-kit/delivery-auth/internal/config"
	"github.com/spec-kit/delivery-auth/internal/domain"
	"github.com/spec-kit/delivery-auth/internal/events"
	"github.com/spec-kit/delivery-auth/internal/repository"
)

const testPassword = "s3cret-pass"

type memoryUsers struct {
	byID map[int64]*domain.User
}

func newMemoryUsers(t *testing.T, users ...domain.User) *memoryUsers {
	t.Helper()
	hashed, err := auth.HashPassword(testPassword, bcrypt.MinCost)
	require.NoError(t, err)

	m := &memoryUsers{byID: map[int64]*domain.User{}}
	for i := range users {
		u := users[i]
		if u.PasswordHash == "" {
			u.PasswordHash = hashed
		}
		if u.Status == "" {
			u.Status = domain.UserStatusActive
		}
		m.byID[u.ID] = &u
	}
	return m
}

func (m *memoryUsers) GetByID(_ context.Context, id int64) (*domain.User, error) {
	if u, ok := m.byID[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, pgx.ErrNoRows
}

func (m *memoryUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	for _, u := range m.byID {
		if strings.EqualFold(u.Email, strings.TrimSpace(email)) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) handle(_ context.Context, event events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

func (l *eventLog) ofType(eventType events.EventType) []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.Event
	for _, e := range l.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	svc      *AuthService
	srv      *miniredis.Miniredis
	tokens   *auth.TokenCodec
	gate     *auth.Gate
	sessions repository.SessionRepository
	users    *memoryUsers
	events   *eventLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	keys, err := auth.NewSigningKeys("access-secret-used-only-in-unit-tests!", "refresh-secret-used-only-in-unit-tests!")
	require.NoError(t, err)
	tokens := auth.NewTokenCodec(keys, auth.WithIssuer("delivery-auth"))

	users := newMemoryUsers(t,
		domain.User{ID: 42, Email: "ana@example.com", DisplayName: "Ana", Roles: []string{domain.RoleUser}},
		domain.User{ID: 7, Email: "bo@example.com", Roles: []string{domain.RoleUser, domain.RoleOwner}},
		domain.User{ID: 9, Email: "suspended@example.com", Status: domain.UserStatusSuspended},
	)

	sessions := repository.NewSessionRepository(client, 200*time.Millisecond)
	revocations := repository.NewRevocationRepository(client, 200*time.Millisecond)

	log := &eventLog{}
	dispatcher := events.NewInMemoryDispatcher()
	for _, eventType := range events.SessionEventTypes {
		dispatcher.Subscribe(eventType, log.handle)
	}

	svc := NewAuthService(config.AuthConfig{AccessTTLSeconds: 900, RefreshTTLSeconds: 3600}, AuthDependencies{
		UserRepo:       users,
		SessionRepo:    sessions,
		RevocationRepo: revocations,
		Tokens:         tokens,
		Dispatcher:     dispatcher,
	})

	return &fixture{
		svc:      svc,
		srv:      srv,
		tokens:   tokens,
		gate:     auth.NewGate(tokens, revocations),
		sessions: sessions,
		users:    users,
		events:   log,
	}
}

func TestLoginResolveLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, user, err := f.svc.Login(ctx, "Ana@Example.com", testPassword)
	require.NoError(t, err)
	require.Equal(t, int64(42), user.ID)
	require.NotEmpty(t, pair.SessionID)
	require.True(t, pair.AccessExpiresAt.Before(pair.RefreshExpiresAt))

	current, found, err := f.sessions.Get(ctx, 42)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, pair.SessionID, current)
	require.Equal(t, time.Hour, f.srv.TTL(repository.SessionIndexKey(42)))

	principal, err := f.gate.ResolveIdentity(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, int64(42), principal.UserID)
	require.Equal(t, "Ana", principal.DisplayName)
	require.Equal(t, []string{domain.RoleUser}, principal.Roles)
	require.Equal(t, pair.SessionID, principal.SessionID)

	require.NoError(t, f.svc.Logout(ctx, pair.AccessToken, 42))

	_, err = f.gate.ResolveIdentity(ctx, pair.AccessToken)
	require.ErrorIs(t, err, domain.ErrRevokedToken)

	ttl := f.srv.TTL(repository.RevokedTokenKey(principal.TokenID))
	require.Greater(t, ttl, time.Duration(0))
	require.LessOrEqual(t, ttl, 15*time.Minute)

	_, found, err = f.sessions.Get(ctx, 42)
	require.NoError(t, err)
	require.False(t, found)

	_, err = f.svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, domain.ErrSessionSuperseded)

	revoked := f.events.ofType(events.EventSessionRevoked)
	require.Len(t, revoked, 1)
	require.Equal(t, events.ReasonLogout, revoked[0].Payload.(events.SessionRevokedPayload).Reason)
}

func TestRefreshRotatesStrictly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, _, err := f.svc.Login(ctx, "bo@example.com", testPassword)
	require.NoError(t, err)

	second, err := f.svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, first.SessionID, second.SessionID)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	principal, err := f.gate.ResolveIdentity(ctx, second.AccessToken)
	require.NoError(t, err)
	require.Equal(t, int64(7), principal.UserID)
	require.Equal(t, "bo@example.com", principal.DisplayName)
	require.Equal(t, []string{domain.RoleOwner, domain.RoleUser}, principal.Roles)

	_, err = f.svc.Refresh(ctx, first.RefreshToken)
	require.ErrorIs(t, err, domain.ErrSessionSuperseded)

	third, err := f.svc.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, second.SessionID, third.SessionID)

	rotated := f.events.ofType(events.EventSessionRotated)
	require.Len(t, rotated, 2)
	require.Equal(t, first.SessionID, rotated[0].Payload.(events.SessionRotatedPayload).PreviousSessionID)
}

func TestSecondLoginSupersedesFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, _, err := f.svc.Login(ctx, "bo@example.com", testPassword)
	require.NoError(t, err)
	second, _, err := f.svc.Login(ctx, "bo@example.com", testPassword)
	require.NoError(t, err)
	require.NotEqual(t, first.SessionID, second.SessionID)

	_, err = f.svc.Refresh(ctx, first.RefreshToken)
	require.ErrorIs(t, err, domain.ErrSessionSuperseded)

	_, err = f.svc.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)

	// Access tokens of the superseded session stay usable until they expire.
	_, err = f.gate.ResolveIdentity(ctx, first.AccessToken)
	require.NoError(t, err)

	superseded := f.events.ofType(events.EventSessionSuperseded)
	require.Len(t, superseded, 1)
	require.Equal(t, second.SessionID, superseded[0].SessionID)
	require.Equal(t, first.SessionID, superseded[0].Payload.(events.SessionSupersededPayload).SupersededSessionID)
}

func TestRefreshRejectsBadTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, _, err := f.svc.Login(ctx, "bo@example.com", testPassword)
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, "")
	require.ErrorIs(t, err, domain.ErrInvalidRefreshToken)

	_, err = f.svc.Refresh(ctx, "garbage")
	require.ErrorIs(t, err, domain.ErrInvalidRefreshToken)
	require.ErrorIs(t, err, domain.ErrMalformedToken)

	_, err = f.svc.Refresh(ctx, pair.AccessToken)
	require.ErrorIs(t, err, domain.ErrInvalidRefreshToken)

	expired, _, err := f.tokens.Issue(domain.TokenKindRefresh, auth.IssueParams{
		UserID:    7,
		SessionID: pair.SessionID,
		TTL:       -time.Minute,
	})
	require.NoError(t, err)
	_, err = f.svc.Refresh(ctx, expired)
	require.ErrorIs(t, err, domain.ErrInvalidRefreshToken)
	require.ErrorIs(t, err, domain.ErrExpiredToken)
}

func TestRefreshWithoutSessionIDNeedsLiveSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	legacy, _, err := f.tokens.Issue(domain.TokenKindRefresh, auth.IssueParams{UserID: 42, TTL: time.Hour})
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, legacy)
	require.ErrorIs(t, err, domain.ErrSessionSuperseded)

	_, _, err = f.svc.Login(ctx, "ana@example.com", testPassword)
	require.NoError(t, err)

	pair, err := f.svc.Refresh(ctx, legacy)
	require.NoError(t, err)
	require.NotEmpty(t, pair.SessionID)
}

func TestRefreshAfterPointerExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, _, err := f.svc.Login(ctx, "ana@example.com", testPassword)
	require.NoError(t, err)

	f.srv.FastForward(time.Hour + time.Second)

	_, err = f.svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, domain.ErrSessionSuperseded)
}

func TestRefreshRejectsSuspendedAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, _, err := f.svc.Login(ctx, "ana@example.com", testPassword)
	require.NoError(t, err)

	f.users.byID[42].Status = domain.UserStatusSuspended

	_, err = f.svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, domain.ErrInvalidRefreshToken)

	_, found, err := f.sessions.Get(ctx, 42)
	require.NoError(t, err)
	require.False(t, found)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string][2]string{
		"unknown email":  {"nobody@example.com", testPassword},
		"wrong password": {"ana@example.com", "wrong"},
		"suspended":      {"suspended@example.com", testPassword},
		"empty":          {"", ""},
	}
	for name, creds := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := f.svc.Login(ctx, creds[0], creds[1])
			require.ErrorIs(t, err, domain.ErrInvalidCredentials)
		})
	}
	require.Empty(t, f.events.ofType(events.EventSessionStarted))
}

func TestForceLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, _, err := f.svc.Login(ctx, "ana@example.com", testPassword)
	require.NoError(t, err)

	err = f.svc.ForceLogout(ctx, "ana@example.com", "wrong")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
	ok, err := f.sessions.Matches(ctx, 42, pair.SessionID)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.svc.ForceLogout(ctx, "ana@example.com", testPassword))

	_, err = f.svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, domain.ErrSessionSuperseded)

	revoked := f.events.ofType(events.EventSessionRevoked)
	require.Len(t, revoked, 1)
	require.Equal(t, pair.SessionID, revoked[0].SessionID)
	require.Equal(t, events.ReasonForceLogout, revoked[0].Payload.(events.SessionRevokedPayload).Reason)
}

func TestLogoutToleratesUnparsableToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, _, err := f.svc.Login(ctx, "ana@example.com", testPassword)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, "not-a-token", 42))

	_, err = f.svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, domain.ErrSessionSuperseded)
}

func TestSessionOperationsFailClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, _, err := f.svc.Login(ctx, "ana@example.com", testPassword)
	require.NoError(t, err)

	f.srv.Close()

	_, _, err = f.svc.Login(ctx, "ana@example.com", testPassword)
	require.ErrorIs(t, err, domain.ErrCacheUnavailable)

	_, err = f.svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, domain.ErrCacheUnavailable)

	_, err = f.gate.ResolveIdentity(ctx, pair.AccessToken)
	require.ErrorIs(t, err, domain.ErrCacheUnavailable)

	require.ErrorIs(t, f.svc.Logout(ctx, pair.AccessToken, 42), domain.ErrCacheUnavailable)
}
