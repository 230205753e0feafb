package user

import (
	"context"
	"sync"
	"time"

	"casetrack/internal/auth"
)

// memStore is an in-memory Store for service and handler tests.
type memStore struct {
	mu       sync.Mutex
	users    map[string]User
	attempts map[string]LoginAttempt
	failWith error
	// referenced ids cannot be deleted
	referenced map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		users:      make(map[string]User),
		attempts:   make(map[string]LoginAttempt),
		referenced: make(map[string]bool),
	}
}

func (s *memStore) put(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *memStore) FindPrincipal(_ context.Context, id string) (*auth.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	p := u.Principal()
	return &p, nil
}

func (s *memStore) FindByID(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *memStore) FindByUsername(_ context.Context, username string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	for _, u := range s.users {
		if u.Username == username {
			found := u
			return &found, nil
		}
	}
	return nil, nil
}

func (s *memStore) Create(_ context.Context, u User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return User{}, s.failWith
	}
	for _, existing := range s.users {
		if existing.Username == u.Username {
			return User{}, ErrUsernameTaken
		}
		if existing.Email == u.Email {
			return User{}, ErrEmailTaken
		}
	}
	u.UpdatedOn = u.CreatedOn
	s.users[u.ID] = u
	return u, nil
}

func (s *memStore) List(_ context.Context, filter ListFilter) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		if filter.Role != "" && u.Role != filter.Role {
			continue
		}
		if filter.CreatedOn != nil && u.CreatedOn.Format(time.DateOnly) != filter.CreatedOn.Format(time.DateOnly) {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *memStore) Update(_ context.Context, id string, changes Changes, now time.Time) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	if changes.Email != nil {
		u.Email = *changes.Email
	}
	if changes.FirstName != nil {
		u.FirstName = *changes.FirstName
	}
	if changes.LastName != nil {
		u.LastName = *changes.LastName
	}
	if changes.PhoneNo != nil {
		u.PhoneNo = changes.PhoneNo
	}
	u.UpdatedOn = now
	s.users[id] = u
	return &u, nil
}

func (s *memStore) SetRole(_ context.Context, id string, role auth.Role, now time.Time) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	u.Role = role
	u.UpdatedOn = now
	s.users[id] = u
	return &u, nil
}

func (s *memStore) Delete(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	if s.referenced[id] {
		return nil, ErrUserReferenced
	}
	delete(s.users, id)
	return &u, nil
}

func (s *memStore) UpdatePasswordHash(_ context.Context, id, hash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	u.UpdatedOn = now
	s.users[id] = u
	return nil
}

func (s *memStore) UpsertAdmin(_ context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.users {
		if existing.Username == u.Username {
			existing.PasswordHash = u.PasswordHash
			existing.Role = auth.RoleAdmin
			s.users[id] = existing
			return nil
		}
	}
	s.users[u.ID] = u
	return nil
}

func (s *memStore) GetLoginAttempt(_ context.Context, username string) (LoginAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return LoginAttempt{}, s.failWith
	}
	attempt, ok := s.attempts[username]
	if !ok {
		return LoginAttempt{Username: username}, nil
	}
	return attempt, nil
}

func (s *memStore) RegisterFailedAttempt(_ context.Context, username string, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt := s.attempts[username]
	attempt.Username = username
	if attempt.LockedUntil != nil && now.Before(*attempt.LockedUntil) {
		until := *attempt.LockedUntil
		return &until, nil
	}
	attempt.FailedAttempts++
	attempt.LockedUntil = nil
	var lock *time.Time
	if attempt.FailedAttempts >= maxAttempts {
		until := now.Add(lockDuration)
		attempt.LockedUntil = &until
		attempt.FailedAttempts = 0
		lock = &until
	}
	s.attempts[username] = attempt
	return lock, nil
}

func (s *memStore) ResetLoginAttempt(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, username)
	return nil
}
