// Package identity supplies the signed-in user's id. The id is only used as
// the remote storage path prefix; no authorization decisions are made here.
package identity

import (
	"fmt"
	"strings"
	"sync"
)

// Provider reports the current user
type Provider interface {
	// UserID returns the stable id of the signed-in user, and false when
	// nobody is signed in
	UserID() (string, bool)
}

// Static is a fixed user id; the empty value means signed out
type Static string

// UserID implements Provider
func (s Static) UserID() (string, bool) {
	return string(s), s != ""
}

// Session is a Provider whose user can sign in and out at runtime
type Session struct {
	mu  sync.RWMutex
	uid string
}

// NewSession starts a session signed in as uid, or signed out if uid is empty
func NewSession(uid string) (*Session, error) {
	s := &Session{}
	if uid == "" {
		return s, nil
	}
	if err := s.SignIn(uid); err != nil {
		return nil, err
	}
	return s, nil
}

// SignIn switches the session to uid
func (s *Session) SignIn(uid string) error {
	if err := Validate(uid); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uid = uid
	return nil
}

// SignOut clears the current user
func (s *Session) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uid = ""
}

// UserID implements Provider
func (s *Session) UserID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uid, s.uid != ""
}

// Validate checks that uid can be used as a single path segment
func Validate(uid string) error {
	if uid == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	if uid == "." || uid == ".." || strings.ContainsAny(uid, "/\\") {
		return fmt.Errorf("user id %q is not a valid path segment", uid)
	}
	return nil
}
