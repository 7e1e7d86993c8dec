package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/delivery-auth/internal/domain"
)

// UserRepository is the credential lookup consumed by the session layer.
// Implementations return pgx.ErrNoRows when no account matches.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

// ErrUserStoreNotConfigured is returned when the repository has no connection pool.
var ErrUserStoreNotConfigured = errors.New("user store not configured")

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

const selectUser = `
        SELECT id, email, display_name, password_hash, roles, status, created_at, updated_at
        FROM users`

func (r *userRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.scanOne(ctx, selectUser+` WHERE id=$1`, id)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.scanOne(ctx, selectUser+` WHERE lower(email)=$1`, strings.ToLower(strings.TrimSpace(email)))
}

func (r *userRepository) scanOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	if r.pool == nil {
		return nil, ErrUserStoreNotConfigured
	}
	var user domain.User
	if err := r.pool.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Email,
		&user.DisplayName,
		&user.PasswordHash,
		&user.Roles,
		&user.Status,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &user, nil
}
