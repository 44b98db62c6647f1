// Package session owns login and the persisted session token of each identity.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"igfeed/pkg/identity"
	"igfeed/pkg/logger"
	"igfeed/pkg/models"
)

// Client is the remote side of authentication
type Client interface {
	Login(ctx context.Context, handle, secret string) error
	ExportSession() []models.Cookie
	ImportSession(cookies []models.Cookie)
}

// Tokens persists session tokens; TokenStore is the production implementation
type Tokens interface {
	Load(handle string) (*Token, error)
	Save(token *Token) error
	Delete(handle string) error
}

type State int

const (
	Unauthenticated State = iota
	Authenticated
	Failed
)

func (s State) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case Failed:
		return "failed"
	default:
		return "unauthenticated"
	}
}

// AuthResult is the outcome of Authenticate. Err holds the classified login
// failure when State is Failed.
type AuthResult struct {
	State     State
	FromToken bool
	Err       error
}

var ErrInactiveIdentity = errors.New("identity is not active")

// Manager authenticates identities, reusing stored tokens when present
type Manager struct {
	tokens     Tokens
	client     Client
	identities identity.Store
	secrets    func(*models.Identity) (string, error)
	now        func() time.Time
	log        logger.Logger
}

// Option configures a Manager
type Option func(*Manager)

// WithSecretResolver overrides how identity secrets are resolved
func WithSecretResolver(fn func(*models.Identity) (string, error)) Option {
	return func(m *Manager) { m.secrets = fn }
}

// WithClock overrides the time source used for last-used timestamps
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(tokens Tokens, client Client, identities identity.Store, log logger.Logger, opts ...Option) *Manager {
	m := &Manager{
		tokens:     tokens,
		client:     client,
		identities: identities,
		secrets:    identity.ResolveSecret,
		now:        time.Now,
		log:        log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Authenticate restores a stored token for id or logs in and stores a new one.
// A restored token causes no network traffic and no token write; a fresh login
// writes exactly one token. On success the identity's last-used time is
// committed before returning. The returned error is reserved for local
// failures (token or identity persistence); login failures are reported in
// AuthResult.
func (m *Manager) Authenticate(ctx context.Context, id *models.Identity) (AuthResult, error) {
	if !id.Active {
		return AuthResult{State: Failed, Err: ErrInactiveIdentity}, fmt.Errorf("%w: %s", ErrInactiveIdentity, id.Handle)
	}
	log := m.log.WithField("identity", id.Handle)

	token, err := m.tokens.Load(id.Handle)
	switch {
	case err == nil:
		m.client.ImportSession(token.Cookies)
		log.WithField("saved_at", token.SavedAt).Info("Restored stored session")
		if err := m.commitUsage(ctx, id); err != nil {
			return AuthResult{State: Authenticated, FromToken: true}, err
		}
		return AuthResult{State: Authenticated, FromToken: true}, nil
	case errors.Is(err, ErrNoToken):
		log.Debug("No stored session, logging in")
	default:
		// unreadable tokens are replaced by the fresh login below
		log.WithError(err).Warn("Stored session unusable, logging in")
	}

	secret, err := m.secrets(id)
	if err != nil {
		return AuthResult{State: Failed}, fmt.Errorf("resolve secret: %w", err)
	}

	if err := m.client.Login(ctx, id.Handle, secret); err != nil {
		log.WithError(err).Warn("Login failed")
		return AuthResult{State: Failed, Err: err}, nil
	}

	if err := m.tokens.Save(&Token{
		Handle:  id.Handle,
		Cookies: m.client.ExportSession(),
		SavedAt: m.now().UTC(),
	}); err != nil {
		return AuthResult{State: Authenticated}, fmt.Errorf("save session token: %w", err)
	}
	log.Info("Logged in and stored session")

	if err := m.commitUsage(ctx, id); err != nil {
		return AuthResult{State: Authenticated}, err
	}
	return AuthResult{State: Authenticated}, nil
}

// Invalidate removes the stored token for handle. A missing token is not an error.
func (m *Manager) Invalidate(handle string) error {
	if err := m.tokens.Delete(handle); err != nil && !errors.Is(err, ErrNoToken) {
		return err
	}
	m.log.WithField("identity", handle).Info("Stored session removed")
	return nil
}

func (m *Manager) commitUsage(ctx context.Context, id *models.Identity) error {
	identity.MarkUsed(id, m.now())
	if err := m.identities.Update(ctx, id); err != nil {
		return fmt.Errorf("record identity usage: %w", err)
	}
	return nil
}
