package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/delivery-auth/internal/auth"
	"github.com/spec-kit/delivery-auth/internal/config"
	"github.com/spec-kit/delivery-auth/internal/domain"
	"github.com/spec-kit/delivery-auth/internal/events"
	"github.com/spec-kit/delivery-auth/internal/repository"
)

// SessionSubject is the identity a session is opened for.
type SessionSubject struct {
	UserID      int64
	DisplayName string
	Roles       []string
}

// AuthService runs the session use cases: login, refresh, logout and force-logout.
//
// Refresh uses strict rotation. Every login and every refresh mints a new session id, and a
// refresh token is accepted only while its embedded session id is the user's current
// pointer. A replayed refresh token therefore fails with domain.ErrSessionSuperseded.
// Two concurrent refreshes of the same token may both pass the check; the last write of
// the pointer wins and the other pair dies at its next refresh.
type AuthService struct {
	users       repository.UserRepository
	sessions    repository.SessionRepository
	revocations repository.RevocationRepository
	tokens      *auth.TokenCodec
	dispatcher  events.Dispatcher
	logger      *zap.Logger
	recorder    auth.OutcomeRecorder
	accessTTL   time.Duration
	refreshTTL  time.Duration
	now         func() time.Time
}

// AuthDependencies encapsulates collaborators of the auth service.
type AuthDependencies struct {
	UserRepo       repository.UserRepository
	SessionRepo    repository.SessionRepository
	RevocationRepo repository.RevocationRepository
	Tokens         *auth.TokenCodec
	Dispatcher     events.Dispatcher
	Logger         *zap.Logger
	Recorder       auth.OutcomeRecorder
	Now            func() time.Time
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, deps AuthDependencies) *AuthService {
	s := &AuthService{
		users:       deps.UserRepo,
		sessions:    deps.SessionRepo,
		revocations: deps.RevocationRepo,
		tokens:      deps.Tokens,
		dispatcher:  deps.Dispatcher,
		logger:      deps.Logger,
		recorder:    deps.Recorder,
		accessTTL:   cfg.AccessTTL(),
		refreshTTL:  cfg.RefreshTTL(),
		now:         deps.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// AccessTTL returns the lifetime of issued access tokens.
func (s *AuthService) AccessTTL() time.Duration {
	return s.accessTTL
}

// RefreshTTL returns the lifetime of issued refresh tokens.
func (s *AuthService) RefreshTTL() time.Duration {
	return s.refreshTTL
}

// Login verifies the password and opens a new session, superseding any previous one.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.TokenPair, *domain.User, error) {
	user, err := s.authenticate(ctx, email, password)
	if err != nil {
		s.record("login", outcome(err))
		return nil, nil, err
	}

	pair, err := s.StartSession(ctx, SessionSubject{
		UserID:      user.ID,
		DisplayName: user.Name(),
		Roles:       user.Roles,
	})
	if err != nil {
		return nil, nil, err
	}
	return pair, user, nil
}

// StartSession issues an access/refresh pair under a fresh session id and makes it the
// user's only valid session.
func (s *AuthService) StartSession(ctx context.Context, subject SessionSubject) (*domain.TokenPair, error) {
	sessionID := newSessionID()
	pair, err := s.issuePair(subject, sessionID)
	if err != nil {
		s.record("login", "error")
		return nil, err
	}

	previous, err := s.sessions.Set(ctx, subject.UserID, sessionID, s.refreshTTL)
	if err != nil {
		s.record("login", outcome(err))
		return nil, fmt.Errorf("record session: %w", err)
	}

	s.publish(ctx, events.EventSessionStarted, subject.UserID, sessionID, nil)
	if previous != "" && previous != sessionID {
		s.publish(ctx, events.EventSessionSuperseded, subject.UserID, sessionID,
			events.SessionSupersededPayload{SupersededSessionID: previous})
	}
	s.record("login", "ok")
	return pair, nil
}

// Refresh rotates a refresh token into a new pair.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	pair, err := s.refresh(ctx, refreshToken)
	s.record("refresh", outcome(err))
	return pair, err
}

func (s *AuthService) refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, domain.ErrInvalidRefreshToken
	}

	claims, err := s.tokens.Parse(domain.TokenKindRefresh, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidRefreshToken, err)
	}

	live, err := s.sessionIsCurrent(ctx, claims)
	if err != nil {
		return nil, err
	}
	if !live {
		return nil, domain.ErrSessionSuperseded
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: account not found", domain.ErrInvalidRefreshToken)
		}
		return nil, err
	}
	if user.Status != domain.UserStatusActive {
		if clearErr := s.sessions.Clear(ctx, user.ID); clearErr != nil {
			s.logger.Warn("clear session of inactive account", zap.Int64("user_id", user.ID), zap.Error(clearErr))
		}
		return nil, fmt.Errorf("%w: account %s", domain.ErrInvalidRefreshToken, strings.ToLower(string(user.Status)))
	}

	sessionID := newSessionID()
	pair, err := s.issuePair(SessionSubject{
		UserID:      user.ID,
		DisplayName: user.Name(),
		Roles:       user.Roles,
	}, sessionID)
	if err != nil {
		return nil, err
	}

	if _, err := s.sessions.Set(ctx, user.ID, sessionID, s.refreshTTL); err != nil {
		return nil, fmt.Errorf("rotate session: %w", err)
	}

	s.publish(ctx, events.EventSessionRotated, user.ID, sessionID,
		events.SessionRotatedPayload{PreviousSessionID: claims.SessionID})
	return pair, nil
}

// sessionIsCurrent checks the refresh claims against the session pointer. Tokens without a
// session id only require that some session is still live for the user.
func (s *AuthService) sessionIsCurrent(ctx context.Context, claims auth.Claims) (bool, error) {
	if claims.SessionID != "" {
		return s.sessions.Matches(ctx, claims.UserID, claims.SessionID)
	}
	_, found, err := s.sessions.Get(ctx, claims.UserID)
	return found, err
}

// Logout denylists the presented access token for the rest of its lifetime plus the codec's
// clock skew and clears the
// user's session. An unparsable token does not stop the session from being cleared.
func (s *AuthService) Logout(ctx context.Context, accessToken string, userID int64) error {
	var tokenID string
	claims, err := s.tokens.Parse(domain.TokenKindAccess, accessToken)
	if err != nil {
		s.logger.Debug("logout with unparsable access token", zap.Int64("user_id", userID), zap.Error(err))
	} else {
		tokenID = claims.TokenID
		if err := s.revocations.Revoke(ctx, tokenID, claims.Remaining(s.now())+s.tokens.ClockSkew()); err != nil {
			s.record("logout", outcome(err))
			return fmt.Errorf("revoke access token: %w", err)
		}
	}

	if err := s.sessions.Clear(ctx, userID); err != nil {
		s.record("logout", outcome(err))
		return fmt.Errorf("clear session: %w", err)
	}

	s.publish(ctx, events.EventSessionRevoked, userID, claims.SessionID,
		events.SessionRevokedPayload{Reason: events.ReasonLogout, TokenID: tokenID})
	s.record("logout", "ok")
	return nil
}

// ForceLogout re-authenticates by password and kills the user's session regardless of
// which device holds it. Access tokens already issued stay valid until they expire.
func (s *AuthService) ForceLogout(ctx context.Context, email, password string) error {
	user, err := s.authenticate(ctx, email, password)
	if err != nil {
		s.record("force_logout", outcome(err))
		return err
	}

	previous, _, err := s.sessions.Get(ctx, user.ID)
	if err != nil {
		s.record("force_logout", outcome(err))
		return fmt.Errorf("read session: %w", err)
	}
	if err := s.sessions.Clear(ctx, user.ID); err != nil {
		s.record("force_logout", outcome(err))
		return fmt.Errorf("clear session: %w", err)
	}

	s.publish(ctx, events.EventSessionRevoked, user.ID, previous,
		events.SessionRevokedPayload{Reason: events.ReasonForceLogout})
	s.record("force_logout", "ok")
	return nil
}

func (s *AuthService) authenticate(ctx context.Context, email, password string) (*domain.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, domain.ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			auth.BurnPasswordCheck(password)
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	if user.Status != domain.UserStatusActive {
		return nil, fmt.Errorf("%w: account %s", domain.ErrInvalidCredentials, strings.ToLower(string(user.Status)))
	}
	return user, nil
}

func (s *AuthService) issuePair(subject SessionSubject, sessionID string) (*domain.TokenPair, error) {
	access, accessClaims, err := s.tokens.Issue(domain.TokenKindAccess, auth.IssueParams{
		UserID:      subject.UserID,
		DisplayName: subject.DisplayName,
		Roles:       subject.Roles,
		SessionID:   sessionID,
		TTL:         s.accessTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	refresh, refreshClaims, err := s.tokens.Issue(domain.TokenKindRefresh, auth.IssueParams{
		UserID:      subject.UserID,
		DisplayName: subject.DisplayName,
		SessionID:   sessionID,
		TTL:         s.refreshTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	return &domain.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessClaims.ExpiresAt,
		RefreshExpiresAt: refreshClaims.ExpiresAt,
		SessionID:        sessionID,
	}, nil
}

func (s *AuthService) publish(ctx context.Context, eventType events.EventType, userID int64, sessionID string, payload interface{}) {
	if s.dispatcher == nil {
		return
	}
	event := events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		UserID:    userID,
		SessionID: sessionID,
		Timestamp: s.now().UTC(),
		Payload:   payload,
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish session event", zap.String("event_type", string(eventType)), zap.Error(err))
	}
}

func (s *AuthService) record(operation, result string) {
	if s.recorder != nil {
		s.recorder.RecordAuthOutcome(operation, result)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrCacheUnavailable):
		return "cache_unavailable"
	case errors.Is(err, domain.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, domain.ErrSessionSuperseded):
		return "superseded"
	case errors.Is(err, domain.ErrInvalidRefreshToken):
		return "invalid_token"
	default:
		return "error"
	}
}

func newSessionID() string {
	return ulid.Make().String()
}
