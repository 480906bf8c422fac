// Package auth checks dashboard credentials and manages the login session.
package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/bcrypt"
)

const (
	SessionName = "desvios_session"

	keyLoggedIn  = "logged_in"
	keyWarehouse = "galpao_acesso"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Authenticator verifies usernames against bcrypt hashes.
type Authenticator struct {
	accounts map[string][]byte
	// compared when the username is unknown so both failures cost the same
	dummyHash []byte
}

func NewAuthenticator(accounts map[string]string) (*Authenticator, error) {
	a := &Authenticator{accounts: make(map[string][]byte, len(accounts))}
	for username, hash := range accounts {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("invalid password hash for %q: %w", username, err)
		}
		a.accounts[username] = []byte(hash)
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("desvios"), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	a.dummyHash = dummy
	return a, nil
}

// Verify returns ErrInvalidCredentials for unknown users and wrong passwords alike.
func (a *Authenticator) Verify(username, password string) error {
	hash, ok := a.accounts[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(a.dummyHash, []byte(password))
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// SessionOptions configures the cookie that carries the session.
type SessionOptions struct {
	MaxAge int
	Secure bool
}

func NewSessionStore(secret string, opts SessionOptions) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   opts.MaxAge,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// SessionWarehouse returns the warehouse the session was authorized for, and
// false when the session is not logged in.
func SessionWarehouse(session *sessions.Session) (string, bool) {
	loggedIn, _ := session.Values[keyLoggedIn].(bool)
	if !loggedIn {
		return "", false
	}
	warehouse, _ := session.Values[keyWarehouse].(string)
	return warehouse, true
}

func LogIn(session *sessions.Session, warehouse string) {
	session.Values[keyLoggedIn] = true
	session.Values[keyWarehouse] = warehouse
}

// LogOut clears the session values and expires the cookie on the next save.
func LogOut(session *sessions.Session) {
	delete(session.Values, keyLoggedIn)
	delete(session.Values, keyWarehouse)
	session.Options.MaxAge = -1
}
