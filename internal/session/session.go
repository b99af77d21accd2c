// Package session is the authentication layer that drives the connection
// manager: it obtains the credential, persists it, and opens or closes the
// real-time connection as the credential comes and goes.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/crm-console/internal/api"
	"github.com/rickgao/crm-console/internal/auth"
	"github.com/rickgao/crm-console/internal/model"
)

// Connector is the connection lifecycle the session controls.
type Connector interface {
	Open(ctx context.Context, cred auth.Credential)
	Close()
}

// CredentialStore persists the credential.
type CredentialStore interface {
	Load() (auth.Credential, error)
	Save(cred auth.Credential) error
	Clear() error
	Watch(ctx context.Context, onChange func()) error
}

// Backend is the subset of the REST client the session needs.
type Backend interface {
	Login(ctx context.Context, email, password string) (*api.LoginResponse, error)
	Me(ctx context.Context) (*model.User, error)
	SetUnauthorizedHandler(fn func())
}

// Session owns the current credential.
type Session struct {
	store  CredentialStore
	api    Backend
	conn   Connector
	logger *slog.Logger

	mu   sync.Mutex
	cred auth.Credential
	user *model.User
}

// New creates a session and registers it as the backend's 401 handler.
func New(store CredentialStore, backend Backend, conn Connector, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		store:  store,
		api:    backend,
		conn:   conn,
		logger: logger,
	}
	backend.SetUnauthorizedHandler(s.handleUnauthorized)
	return s
}

// Resume opens the connection with the stored credential. It returns
// auth.ErrNoCredential when logged out.
func (s *Session) Resume(ctx context.Context) error {
	cred, err := s.store.Load()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cred = cred
	s.mu.Unlock()

	s.logger.Info("resuming session", "credential", cred)
	s.conn.Open(ctx, cred)
	return nil
}

// Verify checks the current credential against the backend. A rejected
// credential ends the session through the unauthorized handler.
func (s *Session) Verify(ctx context.Context) (*model.User, error) {
	user, err := s.api.Me(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
	return user, nil
}

// Login authenticates, persists the new credential and reopens the connection.
func (s *Session) Login(ctx context.Context, email, password string) (*model.User, error) {
	resp, err := s.api.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}

	cred := auth.Credential{Token: resp.Token, UserID: resp.User.ID}

	// Set before saving so the store watcher sees it as current.
	s.mu.Lock()
	s.cred = cred
	s.user = &resp.User
	s.mu.Unlock()

	if err := s.store.Save(cred); err != nil {
		return nil, fmt.Errorf("save credential: %w", err)
	}

	s.logger.Info("logged in", "user", resp.User.Email, "credential", cred)
	s.conn.Open(ctx, cred)
	return &resp.User, nil
}

// Logout removes the credential and closes the connection.
func (s *Session) Logout() error {
	s.clear()
	s.conn.Close()

	if err := s.store.Clear(); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	s.logger.Info("logged out")
	return nil
}

// Credential returns the current credential.
func (s *Session) Credential() auth.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred
}

// User returns the last known user, or nil.
func (s *Session) User() *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Watch follows external changes to the credential store until ctx is
// cancelled: a new credential reopens the connection, a removed one closes it.
func (s *Session) Watch(ctx context.Context) error {
	return s.store.Watch(ctx, func() {
		s.reload(ctx)
	})
}

func (s *Session) reload(ctx context.Context) {
	cred, err := s.store.Load()
	if err != nil && !errors.Is(err, auth.ErrNoCredential) {
		s.logger.Warn("failed to reload credential", "error", err)
		return
	}

	s.mu.Lock()
	prev := s.cred
	if cred == prev {
		s.mu.Unlock()
		return
	}
	s.cred = cred
	s.user = nil
	s.mu.Unlock()

	if !cred.Valid() {
		s.logger.Info("credential removed externally, closing connection", "previous", prev)
		s.conn.Close()
		return
	}

	s.logger.Info("credential changed externally, reconnecting", "credential", cred)
	s.conn.Open(ctx, cred)
}

// handleUnauthorized ends the session after the backend rejected the credential.
func (s *Session) handleUnauthorized() {
	prev := s.clear()

	s.logger.Warn("credential rejected, ending session", "credential", prev)
	if err := s.store.Clear(); err != nil {
		s.logger.Error("failed to clear credential", "error", err)
	}
	s.conn.Close()
}

func (s *Session) clear() auth.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.cred
	s.cred = auth.Credential{}
	s.user = nil
	return prev
}
