package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/delivery-auth/internal/api/dto"
	"github.com/spec-kit/delivery-auth/internal/auth"
	"github.com/spec-kit/delivery-auth/internal/config"
	"github.com/spec-kit/delivery-auth/internal/service"
	"github.com/spec-kit/delivery-auth/pkg/util/errorutil"
)

const refreshCookiePath = "/auth"

// AuthHandler exposes the session endpoints.
type AuthHandler struct {
	auth         *service.AuthService
	cookieName   string
	cookieSecure bool
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService, cfg config.AuthConfig) *AuthHandler {
	name := cfg.RefreshCookieName
	if name == "" {
		name = "refresh_token"
	}
	return &AuthHandler{auth: authService, cookieName: name, cookieSecure: cfg.CookieSecure}
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return errorutil.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return errorutil.NewValidationError("email and password required", map[string]any{"fields": []string{"email", "password"}})
	}

	pair, user, err := h.auth.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}

	h.setRefreshCookie(c, pair.RefreshToken, pair.RefreshExpiresAt)
	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"user": dto.NewUserResponse(user),
			"auth": dto.NewTokenResponse(pair, time.Now()),
		},
	})
}

// Refresh handles POST /auth/refresh. The token is read from the Authorization header,
// then the refresh cookie, then the JSON body.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	token := h.refreshTokenFrom(c)
	if token == "" {
		return errorutil.NewValidationError("refresh token required", nil)
	}

	pair, err := h.auth.Refresh(c.UserContext(), token)
	if err != nil {
		return err
	}

	h.setRefreshCookie(c, pair.RefreshToken, pair.RefreshExpiresAt)
	return c.JSON(fiber.Map{"data": dto.NewTokenResponse(pair, time.Now())})
}

// Logout handles POST /auth/logout.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return errorutil.NewUnauthorized("authentication required")
	}
	token, _ := auth.BearerToken(c.Get(fiber.HeaderAuthorization))

	if err := h.auth.Logout(c.UserContext(), token, principal.UserID); err != nil {
		return err
	}

	h.clearRefreshCookie(c)
	return c.SendStatus(http.StatusNoContent)
}

// ForceLogout handles POST /auth/force-logout.
func (h *AuthHandler) ForceLogout(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return errorutil.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return errorutil.NewValidationError("email and password required", map[string]any{"fields": []string{"email", "password"}})
	}

	if err := h.auth.ForceLogout(c.UserContext(), req.Email, req.Password); err != nil {
		return err
	}

	h.clearRefreshCookie(c)
	return c.SendStatus(http.StatusNoContent)
}

// Me handles GET /auth/me.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return errorutil.NewUnauthorized("authentication required")
	}
	roles := principal.Roles
	if roles == nil {
		roles = []string{}
	}
	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"user":       dto.UserResponse{ID: principal.UserID, Name: principal.DisplayName, Roles: roles},
			"session_id": principal.SessionID,
		},
	})
}

func (h *AuthHandler) refreshTokenFrom(c *fiber.Ctx) string {
	if token, ok := auth.BearerToken(c.Get(fiber.HeaderAuthorization)); ok {
		return token
	}
	if token := strings.TrimSpace(c.Cookies(h.cookieName)); token != "" {
		return token
	}
	var req dto.RefreshRequest
	if len(c.Body()) > 0 && c.BodyParser(&req) == nil {
		return strings.TrimSpace(req.RefreshToken)
	}
	return ""
}

func (h *AuthHandler) setRefreshCookie(c *fiber.Ctx, token string, expires time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     h.cookieName,
		Value:    token,
		Path:     refreshCookiePath,
		Expires:  expires,
		HTTPOnly: true,
		Secure:   h.cookieSecure,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}

func (h *AuthHandler) clearRefreshCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     refreshCookiePath,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HTTPOnly: true,
		Secure:   h.cookieSecure,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}
