package web

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/Morditux/sessionkit/internal/config"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type User struct {
	ID    string   `json:"id"`
	Login string   `json:"login"`
	Roles []string `json:"roles"`
}

// Authenticator checks a login and password.
type Authenticator interface {
	Authenticate(ctx context.Context, login, password string) (User, error)
}

type staticUser struct {
	user User
	hash []byte
}

// StaticAuthenticator checks credentials against a fixed list of bcrypt
// hashes.
type StaticAuthenticator struct {
	users map[string]staticUser
	// dummy is compared against for unknown logins so that they cost as
	// much as a wrong password.
	dummy []byte
}

func NewStaticAuthenticator(users []config.UserConfig) (*StaticAuthenticator, error) {
	a := &StaticAuthenticator{users: make(map[string]staticUser, len(users))}
	cost := bcrypt.DefaultCost
	for i, u := range users {
		hash := []byte(u.PasswordHash)
		c, err := bcrypt.Cost(hash)
		if err != nil {
			return nil, fmt.Errorf("failed to read password hash of user %q: %w", u.Login, err)
		}
		if i == 0 || c > cost {
			cost = c
		}
		a.users[u.Login] = staticUser{
			user: User{ID: u.ID, Login: u.Login, Roles: append([]string(nil), u.Roles...)},
			hash: hash,
		}
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare authenticator: %w", err)
	}
	a.dummy = dummy
	return a, nil
}

func (a *StaticAuthenticator) Authenticate(ctx context.Context, login, password string) (User, error) {
	u, ok := a.users[login]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(a.dummy, []byte(password))
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.hash, []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return u.user, nil
}
