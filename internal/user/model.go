package user

import (
	"time"

	"casetrack/internal/auth"
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	PhoneNo      *string   `json:"phone_no"`
	Role         auth.Role `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedOn    time.Time `json:"created_on"`
	UpdatedOn    time.Time `json:"updated_on"`
}

func (u User) Principal() auth.Principal {
	return auth.Principal{ID: u.ID, Username: u.Username, Role: u.Role}
}

type RegisterInput struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Changes holds a partial profile update. Nil fields are left untouched.
type Changes struct {
	Email     *string `json:"email"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	PhoneNo   *string `json:"phone_no"`
}

func (c Changes) empty() bool {
	return c.Email == nil && c.FirstName == nil && c.LastName == nil && c.PhoneNo == nil
}

type ListFilter struct {
	Role      auth.Role
	CreatedOn *time.Time
}

type LoginAttempt struct {
	Username       string
	FailedAttempts int
	LockedUntil    *time.Time
}

type CleanupResult struct {
	DeletedLoginAttempts int64 `json:"deleted_login_attempts"`
	DeletedIPLimits      int64 `json:"deleted_ip_limits"`
}
