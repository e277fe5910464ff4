package users

import "time"

type UserRepo interface {
	Upsert(user *User) error
	Delete(id string) error
	GetByEmail(email string) (*User, error)
	GetByID(id string) (*User, error)
	GetByIdentity(provider, providerUserID string) (*User, error)
	SetConfirmed(id string, at time.Time) error
	SetBlocked(id string, blocked bool) error
	SetLastLogin(id string, at time.Time) error
}
