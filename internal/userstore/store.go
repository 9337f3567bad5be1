// Package userstore manages the in-memory user table.
package userstore

import (
	"context"
	"sync"
	"time"

	"github.com/go-fin/fin-ledger/internal/domain"
)

// Store holds all users keyed by username, with unique emails.
type Store struct {
	mu         sync.RWMutex
	byUsername map[string]domain.User
	byEmail    map[string]string
	order      []string
}

// New returns an empty user store.
func New() *Store {
	return &Store{
		byUsername: make(map[string]domain.User),
		byEmail:    make(map[string]string),
	}
}

// Create creates the user and then returns it.
func (s *Store) Create(ctx context.Context, arg domain.CreateUserParams) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUsername[arg.Username]; ok {
		return domain.User{}, domain.ErrUsernameAlreadyExists
	}

	if _, ok := s.byEmail[arg.Email]; ok {
		return domain.User{}, domain.ErrEmailAlreadyExists
	}

	u := domain.User{
		Username:       arg.Username,
		HashedPassword: arg.HashedPassword,
		FullName:       arg.FullName,
		Email:          arg.Email,
		CreatedAt:      time.Now().UTC(),
	}

	s.byUsername[u.Username] = u
	s.byEmail[u.Email] = u.Username
	s.order = append(s.order, u.Username)

	return u, nil
}

// Get returns the user with the given username.
func (s *Store) Get(ctx context.Context, username string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byUsername[username]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}

	return u, nil
}

// Remove removes the user with the given username. It exists to roll back a
// registration whose snapshot persist failed.
func (s *Store) Remove(ctx context.Context, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byUsername[username]
	if !ok {
		return
	}

	delete(s.byUsername, u.Username)
	delete(s.byEmail, u.Email)

	for i, name := range s.order {
		if name == username {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// All returns every user in creation order.
func (s *Store) All(ctx context.Context) []domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.User, 0, len(s.order))
	for _, username := range s.order {
		items = append(items, s.byUsername[username])
	}

	return items
}

// Restore replaces the store contents with the given users.
func (s *Store) Restore(users []domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byUsername = make(map[string]domain.User, len(users))
	s.byEmail = make(map[string]string, len(users))
	s.order = make([]string, 0, len(users))

	for _, u := range users {
		s.byUsername[u.Username] = u
		s.byEmail[u.Email] = u.Username
		s.order = append(s.order, u.Username)
	}
}
