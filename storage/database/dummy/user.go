// Package dummydb provides in-memory repositories for tests and local
// development without a database.
package dummydb

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/trezcool/shule/core/user"
)

type userRepository struct {
	mu    sync.RWMutex
	users map[string]user.User // id -> user
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository() *userRepository {
	return &userRepository{users: make(map[string]user.User)}
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if usr.Email != "" {
		for _, existing := range repo.users {
			if strings.EqualFold(existing.Email, usr.Email) {
				return user.User{}, user.ErrEmailExists
			}
		}
	}
	usr.ID = uuid.New().String()
	if usr.IsActive == nil {
		active := true
		usr.IsActive = &active
	}
	repo.users[usr.ID] = usr
	return usr, nil
}

func (repo *userRepository) GetUserByID(_ context.Context, id string) (user.User, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	if usr, ok := repo.users[id]; ok {
		return usr, nil
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	for _, usr := range repo.users {
		if strings.EqualFold(usr.Email, email) {
			return usr, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) QueryOrgStudentIDs(_ context.Context, orgID string) ([]string, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	var ids []string
	for _, usr := range repo.users {
		if usr.OrgID == orgID && isActive(usr) && usr.IsStudent() {
			ids = append(ids, usr.ID)
		}
	}
	return ids, nil
}

func (repo *userRepository) QueryUsersByID(_ context.Context, ids ...string) ([]user.User, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	usrs := make([]user.User, 0, len(ids))
	for _, id := range ids {
		if usr, ok := repo.users[id]; ok {
			usrs = append(usrs, usr)
		}
	}
	return usrs, nil
}

func (repo *userRepository) QueryOrgAdmins(_ context.Context, orgID string) ([]user.User, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	var usrs []user.User
	for _, usr := range repo.users {
		if usr.OrgID == orgID && isActive(usr) && usr.IsAdmin() {
			usrs = append(usrs, usr)
		}
	}
	return usrs, nil
}

func isActive(usr user.User) bool {
	return usr.IsActive == nil || *usr.IsActive
}
