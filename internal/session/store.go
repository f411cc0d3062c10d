// Package session owns the single signed-in session: the current user
// identity, the bearer credential and their durable copy. The store is the
// only mutator of the adapter credential.
package session

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/and161185/taskflow/internal/errs"
	"github.com/and161185/taskflow/internal/model"
)

// API is the part of the HTTP adapter the store drives.
type API interface {
	SetToken(string)
	ClearToken()
	BeginLogin()
	EndLogin()
	PostForm(ctx context.Context, path string, form url.Values, out any) error
	GetJSON(ctx context.Context, path string, query url.Values, out any) error
}

// Store is the single source of truth for who is logged in. Exactly one
// Store exists per process.
type Store struct {
	api     API
	storage Storage
	log     *zap.Logger

	mu   sync.Mutex
	sess model.Session
	subs []func(model.Session)
}

// New constructs a Store. The adapter must already exist: Restore installs
// the persisted credential into it.
func New(api API, storage Storage, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{api: api, storage: storage, log: log}
}

// Current returns the session as of now.
func (s *Store) Current() model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

// Subscribe registers fn to run synchronously after every state change.
func (s *Store) Subscribe(fn func(model.Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// commit replaces the session and notifies subscribers outside the lock.
func (s *Store) commit(next model.Session) {
	s.mu.Lock()
	s.sess = next
	subs := append([]func(model.Session){}, s.subs...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(next)
	}
}

// Login exchanges credentials for a token, fetches the account identity and
// commits both together. On any failure the prior session stays untouched.
func (s *Store) Login(ctx context.Context, username, password string) error {
	// Suppress the 401 interceptor for the whole exchange: a stale 401 from
	// a background request must not wipe the session being established.
	s.api.BeginLogin()
	defer s.api.EndLogin()

	prev := s.Current()

	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	var tok model.Tokens
	if err := s.api.PostForm(ctx, "/api/auth/login", form, &tok); err != nil {
		return loginError(err)
	}
	if tok.AccessToken == "" {
		return errs.ErrInvalidCredentials
	}

	// The identity fetch runs with the new token installed; roll it back
	// unless the whole login commits.
	s.api.SetToken(tok.AccessToken)
	var user model.User
	if err := s.api.GetJSON(ctx, "/api/auth/me", nil, &user); err != nil {
		s.api.SetToken(prev.Token)
		return loginError(err)
	}

	next := model.Session{User: &user, Token: tok.AccessToken}
	s.commit(next)
	if err := s.storage.Save(next); err != nil {
		s.log.Warn("persist session", zap.Error(err))
	}
	s.log.Info("logged in", zap.String("username", user.Username))
	return nil
}

// loginError keeps the generic credential message for anything the server
// rejected, but lets network unavailability through as its own kind.
func loginError(err error) error {
	if errors.Is(err, errs.ErrUnavailable) {
		return err
	}
	return errs.ErrInvalidCredentials
}

// Logout clears the session from memory, storage and the adapter header.
func (s *Store) Logout() {
	s.api.ClearToken()
	if err := s.storage.Clear(); err != nil {
		s.log.Warn("clear persisted session", zap.Error(err))
	}
	s.commit(model.Session{})
	s.log.Info("logged out")
}

// Restore rehydrates the persisted session, if any. Missing, malformed or
// expired persisted state degrades to logged out and never fails.
func (s *Store) Restore() {
	sess, err := s.storage.Load()
	if err != nil || !sess.LoggedIn() {
		s.commit(model.Session{})
		return
	}
	if tokenExpired(sess.Token) {
		s.log.Info("persisted token expired")
		_ = s.storage.Clear()
		s.commit(model.Session{})
		return
	}
	s.api.SetToken(sess.Token)
	s.commit(sess)
	s.log.Info("session restored", zap.String("username", sess.User.Username))
}

// Expire drops the session after the adapter saw an authentication failure.
// Safe to call when already logged out.
func (s *Store) Expire() {
	if !s.Current().LoggedIn() {
		return
	}
	s.log.Info("session expired")
	s.api.ClearToken()
	_ = s.storage.Clear()
	s.commit(model.Session{})
}

// tokenExpired parses JWT claims without verifying the signature; the server
// is the authority, this only avoids presenting a token known to be dead.
func tokenExpired(token string) bool {
	var claims jwt.RegisteredClaims
	_, _, err := jwt.NewParser().ParseUnverified(token, &claims)
	if err != nil || claims.ExpiresAt == nil {
		// opaque token: let the server decide
		return false
	}
	return time.Now().After(claims.ExpiresAt.Time)
}
