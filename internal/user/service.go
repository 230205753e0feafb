package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"casetrack/internal/auth"
)

const (
	defaultMaxAttempts = 5
	defaultLockWindow  = 15 * time.Minute
)

// Store is the persistence the service needs. Lookups return nil when
// nothing matches.
type Store interface {
	auth.PrincipalStore
	FindByID(ctx context.Context, id string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	Create(ctx context.Context, u User) (User, error)
	List(ctx context.Context, filter ListFilter) ([]User, error)
	Update(ctx context.Context, id string, changes Changes, now time.Time) (*User, error)
	SetRole(ctx context.Context, id string, role auth.Role, now time.Time) (*User, error)
	Delete(ctx context.Context, id string) (*User, error)
	UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error
	UpsertAdmin(ctx context.Context, u User) error

	GetLoginAttempt(ctx context.Context, username string) (LoginAttempt, error)
	RegisterFailedAttempt(ctx context.Context, username string, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error)
	ResetLoginAttempt(ctx context.Context, username string) error
}

type Service struct {
	store        Store
	issuer       *auth.Issuer
	refresher    *auth.Refresher
	maxAttempts  int
	lockDuration time.Duration
	hashCost     int
	now          func() time.Time
}

func NewService(store Store, issuer *auth.Issuer, refresher *auth.Refresher) *Service {
	return &Service{
		store:        store,
		issuer:       issuer,
		refresher:    refresher,
		maxAttempts:  defaultMaxAttempts,
		lockDuration: defaultLockWindow,
		hashCost:     bcrypt.DefaultCost,
		now:          time.Now,
	}
}

func (s *Service) WithLockout(maxAttempts int, lockDuration time.Duration) *Service {
	if maxAttempts > 0 {
		s.maxAttempts = maxAttempts
	}
	if lockDuration > 0 {
		s.lockDuration = lockDuration
	}
	return s
}

func (s *Service) Register(ctx context.Context, input RegisterInput) (User, error) {
	hash, err := s.hash(input.Password)
	if err != nil {
		return User{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	created, err := s.store.Create(ctx, User{
		ID:           id.String(),
		Username:     strings.ToLower(strings.TrimSpace(input.Username)),
		Email:        strings.TrimSpace(input.Email),
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		Role:         auth.RoleUser,
		PasswordHash: hash,
		CreatedOn:    s.now().UTC(),
	})
	if err != nil {
		return User{}, storeError(err)
	}

	return created, nil
}

// Login checks the per-username lockout before the password so a locked
// account answers the same way whether or not the password is right.
func (s *Service) Login(ctx context.Context, username, password string) (auth.TokenPair, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	if username == "" || password == "" {
		return auth.TokenPair{}, ErrInvalidCredentials
	}

	now := s.now().UTC()
	attempt, err := s.store.GetLoginAttempt(ctx, username)
	if err != nil {
		return auth.TokenPair{}, storeError(err)
	}
	if attempt.LockedUntil != nil && now.Before(*attempt.LockedUntil) {
		return auth.TokenPair{}, lockedError(*attempt.LockedUntil, now)
	}

	u, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		return auth.TokenPair{}, storeError(err)
	}
	if u == nil || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return auth.TokenPair{}, s.registerFailure(ctx, username, now)
	}

	if err := s.store.ResetLoginAttempt(ctx, username); err != nil {
		return auth.TokenPair{}, storeError(err)
	}

	return s.issuer.Issue(u.Principal())
}

func (s *Service) registerFailure(ctx context.Context, username string, now time.Time) error {
	lockedUntil, err := s.store.RegisterFailedAttempt(ctx, username, s.maxAttempts, s.lockDuration, now)
	if err != nil {
		return storeError(err)
	}
	if lockedUntil != nil {
		return lockedError(*lockedUntil, now)
	}
	return ErrInvalidCredentials
}

func (s *Service) Refresh(refreshHeader string) (auth.TokenPair, error) {
	return s.refresher.Refresh(refreshHeader)
}

func (s *Service) Get(ctx context.Context, id string) (User, error) {
	u, err := s.store.FindByID(ctx, id)
	if err != nil {
		return User{}, storeError(err)
	}
	if u == nil {
		return User{}, ErrNotFound
	}
	return *u, nil
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]User, error) {
	users, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, storeError(err)
	}
	return users, nil
}

// Update lets callers edit their own profile; admins may edit anyone.
func (s *Service) Update(ctx context.Context, caller auth.Principal, id string, changes Changes) (User, error) {
	if caller.ID != id && !caller.IsAdmin() {
		return User{}, auth.ErrForbidden
	}
	if changes.empty() {
		return User{}, ErrNoChanges
	}

	u, err := s.store.Update(ctx, id, changes, s.now())
	if err != nil {
		return User{}, storeError(err)
	}
	if u == nil {
		return User{}, ErrNotFound
	}
	return *u, nil
}

func (s *Service) Delete(ctx context.Context, id string) (User, error) {
	u, err := s.store.Delete(ctx, id)
	if err != nil {
		return User{}, storeError(err)
	}
	if u == nil {
		return User{}, ErrNotFound
	}
	return *u, nil
}

func (s *Service) AssignRole(ctx context.Context, id, role string) (User, error) {
	parsed, err := auth.ParseRole(role)
	if err != nil {
		return User{}, err
	}

	u, err := s.store.SetRole(ctx, id, parsed, s.now())
	if err != nil {
		return User{}, storeError(err)
	}
	if u == nil {
		return User{}, ErrNotFound
	}
	return *u, nil
}

// ResetPassword always requires the current password. Non-admin callers
// may only reset their own account.
func (s *Service) ResetPassword(ctx context.Context, caller auth.Principal, username, oldPassword, newPassword string) error {
	username = strings.TrimSpace(strings.ToLower(username))
	if username != caller.Username && !caller.IsAdmin() {
		return auth.ErrForbidden
	}

	u, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		return storeError(err)
	}
	if u == nil || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(oldPassword)) != nil {
		return ErrInvalidCredentials
	}
	if newPassword == oldPassword {
		return ErrSamePassword
	}

	hash, err := s.hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePasswordHash(ctx, u.ID, hash, s.now()); err != nil {
		return storeError(err)
	}

	return nil
}

// BootstrapAdmin makes sure an ADMIN account exists for the given
// credentials. Both empty is a no-op.
func (s *Service) BootstrapAdmin(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(strings.ToLower(username))
	if username == "" && password == "" {
		return nil
	}
	if username == "" || password == "" {
		return errors.New("admin username and password are required together")
	}
	if !usernameRegex.MatchString(username) {
		return fmt.Errorf("admin username %q must match %s", username, usernameRegex)
	}
	if !validPassword(password) {
		return fmt.Errorf("admin password must be %d to %d bytes", minPasswordLength, maxPasswordLength)
	}

	hash, err := s.hash(password)
	if err != nil {
		return err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate uuid v7: %w", err)
	}

	return s.store.UpsertAdmin(ctx, User{
		ID:           id.String(),
		Username:     username,
		Email:        username + "@admin.local",
		PasswordHash: hash,
		Role:         auth.RoleAdmin,
		CreatedOn:    s.now().UTC(),
	})
}

func (s *Service) hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", ErrPasswordTooLong
	}
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// storeError passes domain sentinels through and marks everything else as
// a store outage.
func storeError(err error) error {
	for _, sentinel := range []error{ErrUsernameTaken, ErrEmailTaken, ErrUserReferenced, ErrUserHasHistory, ErrNotFound} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", auth.ErrStoreUnavailable, err)
}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotFound           = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username already registered")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUserReferenced     = errors.New("user is referenced by cases")
	ErrUserHasHistory     = errors.New("user is referenced by case status history")
	ErrSamePassword       = errors.New("new password equals old password")
	ErrNoChanges          = errors.New("no fields to update")
	ErrPasswordTooLong    = errors.New("password exceeds 72 bytes")
)

type ErrLoginLocked struct {
	Until      time.Time
	RetryAfter time.Duration
}

func lockedError(until, now time.Time) ErrLoginLocked {
	return ErrLoginLocked{Until: until, RetryAfter: until.Sub(now)}
}

func (e ErrLoginLocked) Error() string {
	return "login temporarily locked"
}
