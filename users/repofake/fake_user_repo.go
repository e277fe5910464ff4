package fakeuserrepo

import (
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/primehr-session/internal/errors"
	"github.com/jrsteele09/primehr-session/users"
)

var _ users.UserRepo = (*FakeUserRepo)(nil)

type FakeUserRepo struct {
	users    map[string]*users.User
	emailIds map[string]string // email to user id
	lock     sync.RWMutex
}

func NewFakeUserRepo() users.UserRepo {
	return &FakeUserRepo{
		users:    make(map[string]*users.User),
		emailIds: make(map[string]string),
	}
}

func (ur *FakeUserRepo) Upsert(user *users.User) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if existing, ok := ur.users[user.ID]; ok && existing.Email != user.Email {
		delete(ur.emailIds, existing.Email)
	}
	stored := *user
	ur.users[user.ID] = &stored
	ur.emailIds[user.Email] = user.ID
	return nil
}

func (ur *FakeUserRepo) Delete(id string) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	user, ok := ur.users[id]
	if !ok {
		return apperrors.ErrUserNotFound
	}
	delete(ur.emailIds, user.Email)
	delete(ur.users, id)
	return nil
}

func (ur *FakeUserRepo) GetByEmail(email string) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	id, ok := ur.emailIds[email]
	if !ok {
		return nil, apperrors.ErrUserNotFound
	}
	return ur.copyOf(id), nil
}

func (ur *FakeUserRepo) GetByID(id string) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	if _, ok := ur.users[id]; !ok {
		return nil, apperrors.ErrUserNotFound
	}
	return ur.copyOf(id), nil
}

func (ur *FakeUserRepo) GetByIdentity(provider, providerUserID string) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	for id, u := range ur.users {
		if u.HasIdentity(provider, providerUserID) {
			return ur.copyOf(id), nil
		}
	}
	return nil, apperrors.ErrUserNotFound
}

func (ur *FakeUserRepo) SetConfirmed(id string, at time.Time) error {
	return ur.update(id, func(u *users.User) { u.ConfirmedAt = &at })
}

func (ur *FakeUserRepo) SetBlocked(id string, blocked bool) error {
	return ur.update(id, func(u *users.User) { u.Blocked = blocked })
}

func (ur *FakeUserRepo) SetLastLogin(id string, at time.Time) error {
	return ur.update(id, func(u *users.User) { u.LastLogin = at })
}

func (ur *FakeUserRepo) update(id string, fn func(u *users.User)) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	user, ok := ur.users[id]
	if !ok {
		return apperrors.ErrUserNotFound
	}
	fn(user)
	return nil
}

// copyOf must be called with the lock held. Callers get their own copy so that
// mutations go through the repo.
func (ur *FakeUserRepo) copyOf(id string) *users.User {
	u := *ur.users[id]
	u.Identities = append([]users.Identity(nil), u.Identities...)
	if u.Metadata != nil {
		md := make(map[string]string, len(u.Metadata))
		for k, v := range u.Metadata {
			md[k] = v
		}
		u.Metadata = md
	}
	return &u
}
