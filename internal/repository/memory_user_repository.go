package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spec-kit/user-service/internal/domain"
)

type memoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]domain.User
	now   func() time.Time
}

// NewMemoryUserRepository returns a process-local implementation used when no
// Postgres DSN is configured.
func NewMemoryUserRepository() UserRepository {
	return &memoryUserRepository{users: make(map[string]domain.User), now: time.Now}
}

func (r *memoryUserRepository) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.users[user.Username]; exists {
		return ErrUsernameTaken
	}
	now := r.now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.users[user.Username] = *user
	return nil
}

func (r *memoryUserRepository) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

func (r *memoryUserRepository) List(_ context.Context) ([]*domain.User, error) {
	r.mu.RLock()
	users := make([]*domain.User, 0, len(r.users))
	for _, u := range r.users {
		u := u
		users = append(users, &u)
	}
	r.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].Username < users[j].Username
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}
