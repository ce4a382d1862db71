// Package users is the boundary to the external identity collaborators:
// user lookup and password verification. The rotation core never depends
// on it; the HTTP server consumes it only through the Verifier
// interface.
package users

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type User struct {
	ID           string `json:"id,omitempty"`       // Unique identifier for the user
	Email        string `json:"email,omitempty"`    // User's email address
	Username     string `json:"username,omitempty"` // Unique username
	PasswordHash string `json:"-"`                  // Hashed version of the user's password - never serialize
}

// Repo manages user records. Persistent storage is owned externally;
// this repo is the lookup seam the session server needs.
type Repo interface {
	Upsert(user *User) error
	GetByEmail(email string) (*User, error)
	GetByID(id string) (*User, error)
}

// Verifier checks a credential pair against the stored hash and returns
// the authenticated principal.
type Verifier interface {
	Verify(email, password string) (*User, error)
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// Authenticator verifies email/password pairs against a user repo.
type Authenticator struct {
	repo Repo
}

var _ Verifier = (*Authenticator)(nil)

func NewAuthenticator(repo Repo) *Authenticator {
	return &Authenticator{repo: repo}
}

// Verify returns the user when the password matches. Unknown users and
// wrong passwords produce the same error so callers leak nothing.
func (a *Authenticator) Verify(email, password string) (*User, error) {
	user, err := a.repo.GetByEmail(email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if !CheckPasswordHash(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}
