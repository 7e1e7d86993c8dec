package dto

import (
	"math"
	"time"

	"github.com/spec-kit/delivery-auth/internal/domain"
)

// LoginRequest payload for login and force-logout.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest carries the refresh token when neither header nor cookie does.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenResponse is returned by login and refresh.
type TokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`
}

// UserResponse is the public view of an account.
type UserResponse struct {
	ID    int64    `json:"id"`
	Email string   `json:"email,omitempty"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

// NewTokenResponse builds the response for pair, measuring expires_in from now.
func NewTokenResponse(pair *domain.TokenPair, now time.Time) TokenResponse {
	expiresIn := int64(math.Ceil(pair.AccessExpiresAt.Sub(now).Seconds()))
	if expiresIn < 0 {
		expiresIn = 0
	}
	return TokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        expiresIn,
		ExpiresAt:        pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		SessionID:        pair.SessionID,
	}
}

// NewUserResponse maps a domain user.
func NewUserResponse(user *domain.User) UserResponse {
	roles := user.Roles
	if roles == nil {
		roles = []string{}
	}
	return UserResponse{ID: user.ID, Email: user.Email, Name: user.Name(), Roles: roles}
}
