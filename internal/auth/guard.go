// Package auth issues, validates and destroys login sessions and gates
// protected operations.
//
// Guard is the single entry point: handlers call Authorize explicitly and
// receive a typed Identity instead of reading ambient request state.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"quarantine-drop/internal/errs"
	"quarantine-drop/internal/userstore"
)

// InputError is a validation failure with a client-safe message.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string { return e.Msg }

func (e *InputError) Is(target error) bool { return target == errs.ErrInvalidInput }

// Identity is the result of a successful authorization.
type Identity struct {
	Username  string
	SessionID string
	ExpiresAt time.Time
}

// Session is handed to the transport layer after login. Token is the signed
// value to place in the session cookie.
type Session struct {
	Token     string
	Username  string
	ExpiresAt time.Time
}

// Options configures a Guard.
type Options struct {
	Secret     []byte
	TTL        time.Duration
	BcryptCost int
	// Lockout is optional; nil disables account lockout.
	Lockout *Lockout
	Now     func() time.Time
}

// Guard implements register, login, logout and authorize.
type Guard struct {
	users    userstore.Store
	sessions SessionStore
	codec    tokenCodec
	ttl      time.Duration
	cost     int
	lockout  *Lockout
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewGuard wires a Guard over the user and session stores.
func NewGuard(users userstore.Store, sessions SessionStore, opts Options) *Guard {
	if opts.TTL <= 0 {
		opts.TTL = 12 * time.Hour
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = 12
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Guard{
		users:    users,
		sessions: sessions,
		codec:    tokenCodec{secret: opts.Secret, now: opts.Now},
		ttl:      opts.TTL,
		cost:     opts.BcryptCost,
		lockout:  opts.Lockout,
		now:      opts.Now,
	}
}

// Register creates a user. It returns errs.ErrMissingFields,
// errs.ErrInvalidInput (as *InputError), errs.ErrAlreadyExists, or a
// persistence failure.
func (g *Guard) Register(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return errs.ErrMissingFields
	}
	if ok, msg := validateUsername(username); !ok {
		return &InputError{Msg: msg}
	}
	if ok, msg := validatePassword(password); !ok {
		return &InputError{Msg: msg}
	}

	// Cheap pre-check so a taken name does not cost a bcrypt round.
	if _, err := g.users.Get(ctx, username); err == nil {
		return errs.ErrAlreadyExists
	} else if !errors.Is(err, errs.ErrNotFound) {
		return fmt.Errorf("lookup user: %w", err)
	}

	hash, err := hashPassword(password, g.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return g.users.Create(ctx, userstore.User{
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    g.now().UTC(),
	})
}

// Login verifies credentials and opens a session. Unknown users and wrong
// passwords both yield errs.ErrUnauthorized.
func (g *Guard) Login(ctx context.Context, username, password string) (Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Session{}, errs.ErrUnauthorized
	}

	if g.lockout != nil {
		if locked, _ := g.lockout.Locked(username); locked {
			return Session{}, errs.ErrLocked
		}
	}

	u, err := g.users.Get(ctx, username)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		// Burn the same bcrypt cost so response timing does not reveal
		// which usernames exist.
		verifyPassword(password, g.dummy())
		g.recordFailure(username)
		return Session{}, errs.ErrUnauthorized
	case err != nil:
		return Session{}, fmt.Errorf("lookup user: %w", err)
	}

	if !verifyPassword(password, u.PasswordHash) {
		g.recordFailure(username)
		return Session{}, errs.ErrUnauthorized
	}
	if g.lockout != nil {
		g.lockout.RecordSuccess(username)
	}

	id, err := newSessionID()
	if err != nil {
		return Session{}, fmt.Errorf("session id: %w", err)
	}
	now := g.now()
	rec := SessionRecord{ID: id, Username: u.Username, CreatedAt: now, ExpiresAt: now.Add(g.ttl)}

	tok, err := g.codec.sign(rec.ID, rec.Username, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return Session{}, fmt.Errorf("sign session: %w", err)
	}
	if err := g.sessions.Put(ctx, rec); err != nil {
		return Session{}, fmt.Errorf("store session: %w", err)
	}

	return Session{Token: tok, Username: rec.Username, ExpiresAt: rec.ExpiresAt}, nil
}

// Logout destroys the session named by token. Tokens that are malformed,
// expired or already logged out succeed; a session store failure is returned.
func (g *Guard) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	claims, err := g.codec.verify(token)
	if err != nil {
		return nil
	}
	if err := g.sessions.Delete(ctx, claims.ID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Authorize resolves token to an Identity or errs.ErrUnauthenticated.
// It never mutates state.
func (g *Guard) Authorize(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, errs.ErrUnauthenticated
	}
	claims, err := g.codec.verify(token)
	if err != nil {
		return Identity{}, errs.ErrUnauthenticated
	}
	rec, err := g.sessions.Get(ctx, claims.ID)
	if errors.Is(err, errs.ErrNotFound) {
		return Identity{}, errs.ErrUnauthenticated
	}
	if err != nil {
		return Identity{}, fmt.Errorf("load session: %w", err)
	}
	if rec.Username != claims.Subject {
		return Identity{}, errs.ErrUnauthenticated
	}
	return Identity{Username: rec.Username, SessionID: rec.ID, ExpiresAt: rec.ExpiresAt}, nil
}

// ActiveSessions reports the number of live sessions.
func (g *Guard) ActiveSessions() int {
	return g.sessions.Len()
}

func (g *Guard) recordFailure(username string) {
	if g.lockout != nil {
		g.lockout.RecordFailure(username)
	}
}

func (g *Guard) dummy() string {
	g.dummyOnce.Do(func() {
		h, err := bcrypt.GenerateFromPassword([]byte("quarantine-drop-dummy"), g.cost)
		if err == nil {
			g.dummyHash = string(h)
		}
	})
	return g.dummyHash
}
