package errorutil

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/delivery-auth/internal/domain"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError("VALIDATION_FAILED", message, http.StatusBadRequest, details)
}

func NewUnauthorized(message string) error {
	return NewDomainError("UNAUTHORIZED", message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError("FORBIDDEN", message, http.StatusForbidden, nil)
}

func NewTooManyRequests(message string) error {
	return NewDomainError("RATE_LIMITED", message, http.StatusTooManyRequests, nil)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts errors from the auth core and fiber into a DomainError.
// Unknown errors become INTERNAL_ERROR so their text never reaches the client.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}

	switch {
	case errors.Is(err, domain.ErrCacheUnavailable):
		return &DomainError{Code: "CACHE_UNAVAILABLE", Message: "session store unavailable", HTTPStatus: http.StatusServiceUnavailable, Err: err}
	case errors.Is(err, domain.ErrSessionSuperseded):
		return &DomainError{Code: "SESSION_SUPERSEDED", Message: "session was replaced by a newer login", HTTPStatus: http.StatusConflict, Err: err}
	case errors.Is(err, domain.ErrInvalidRefreshToken) && errors.Is(err, domain.ErrExpiredToken):
		return &DomainError{Code: "REFRESH_TOKEN_EXPIRED", Message: "refresh token expired", HTTPStatus: http.StatusGone, Err: err}
	case errors.Is(err, domain.ErrInvalidRefreshToken):
		return &DomainError{Code: "INVALID_REFRESH_TOKEN", Message: "invalid refresh token", HTTPStatus: http.StatusUnauthorized, Err: err}
	case errors.Is(err, domain.ErrInvalidCredentials):
		return &DomainError{Code: "INVALID_CREDENTIALS", Message: "invalid email or password", HTTPStatus: http.StatusUnauthorized, Err: err}
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fromFiberError(fiberErr)
	}

	return NewInternalError(err).(*DomainError)
}

func fromFiberError(err *fiber.Error) *DomainError {
	code := "HTTP_ERROR"
	switch err.Code {
	case http.StatusBadRequest:
		code = "VALIDATION_FAILED"
	case http.StatusUnauthorized:
		code = "UNAUTHORIZED"
	case http.StatusForbidden:
		code = "FORBIDDEN"
	case http.StatusNotFound:
		code = "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		code = "METHOD_NOT_ALLOWED"
	case http.StatusTooManyRequests:
		code = "RATE_LIMITED"
	case http.StatusRequestTimeout:
		code = "TIMEOUT"
	}
	return &DomainError{Code: code, Message: err.Message, HTTPStatus: err.Code}
}

// MapError converts generic errors to DomainError.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	return ToDomainError(err)
}
