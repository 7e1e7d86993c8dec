package domain

import "time"

// UserStatus represents lifecycle states for a marketplace account.
type UserStatus string

const (
	UserStatusActive    UserStatus = "ACTIVE"
	UserStatusSuspended UserStatus = "SUSPENDED"
)

// Common role labels carried in tokens.
const (
	RoleUser  = "USER"
	RoleOwner = "OWNER"
	RoleAdmin = "ADMIN"
)

// User is the credential record consumed from the account store.
type User struct {
	ID           int64
	Email        string
	DisplayName  string
	PasswordHash string
	Roles        []string
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Name returns the label used as the token display name.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}
