package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"quarantine-drop/internal/errs"
	"quarantine-drop/internal/userstore"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

// clock is a manually advanced time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// failingSessions wraps MemoryStore and injects errors.
type failingSessions struct {
	*MemoryStore
	deleteErr error
	getErr    error
}

func (f *failingSessions) Delete(ctx context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.MemoryStore.Delete(ctx, id)
}

func (f *failingSessions) Get(ctx context.Context, id string) (SessionRecord, error) {
	if f.getErr != nil {
		return SessionRecord{}, f.getErr
	}
	return f.MemoryStore.Get(ctx, id)
}

type fixture struct {
	guard    *Guard
	users    *userstore.FileStore
	sessions *MemoryStore
	clock    *clock
}

func newFixture(t *testing.T, lockout *Lockout) fixture {
	t.Helper()
	users, err := userstore.OpenFileStore(afero.NewMemMapFs(), "users.json")
	require.NoError(t, err)

	c := newClock()
	sessions := NewMemoryStore()
	sessions.now = c.Now
	if lockout != nil {
		lockout.now = c.Now
	}

	g := NewGuard(users, sessions, Options{
		Secret:     testSecret,
		TTL:        time.Hour,
		BcryptCost: bcrypt.MinCost,
		Lockout:    lockout,
		Now:        c.Now,
	})
	return fixture{guard: g, users: users, sessions: sessions, clock: c}
}

func TestRegister(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.guard.Register(ctx, "alice", "secret123"))

	u, err := f.users.Get(ctx, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, "secret123", u.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("secret123")))
}

func TestRegister_DuplicateKeepsOriginalHash(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.guard.Register(ctx, "alice", "secret123"))
	before, err := f.users.Get(ctx, "alice")
	require.NoError(t, err)

	err = f.guard.Register(ctx, "alice", "another-password")
	assert.ErrorIs(t, err, errs.ErrAlreadyExists)

	after, err := f.users.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, before.PasswordHash, after.PasswordHash)
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		username string
		password string
		want     error
	}{
		{"missing username", "", "secret123", errs.ErrMissingFields},
		{"blank username", "   ", "secret123", errs.ErrMissingFields},
		{"missing password", "alice", "", errs.ErrMissingFields},
		{"short username", "al", "secret123", errs.ErrInvalidInput},
		{"bad characters", "alice!", "secret123", errs.ErrInvalidInput},
		{"long username", strings.Repeat("a", maxUsernameLen+1), "secret123", errs.ErrInvalidInput},
		{"long password", "alice", strings.Repeat("x", 73), errs.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, f.guard.Register(ctx, tt.username, tt.password), tt.want)
		})
	}
}

func TestValidateUsername_Bounds(t *testing.T) {
	tests := []struct {
		username string
		ok       bool
		msg      string
	}{
		{strings.Repeat("a", minUsernameLen-1), false, "Username must be at least 3 characters long"},
		{strings.Repeat("a", minUsernameLen), true, ""},
		{strings.Repeat("a", maxUsernameLen), true, ""},
		{strings.Repeat("a", maxUsernameLen+1), false, "Username must be at most 50 characters"},
	}
	for _, tt := range tests {
		ok, msg := validateUsername(tt.username)
		assert.Equal(t, tt.ok, ok, "len %d", len(tt.username))
		assert.Equal(t, tt.msg, msg, "len %d", len(tt.username))
	}
}

func TestLogin(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.guard.Register(ctx, "alice", "secret123"))

	_, err := f.guard.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	_, err = f.guard.Login(ctx, "mallory", "secret123")
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	_, err = f.guard.Login(ctx, "alice", "")
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	assert.Zero(t, f.sessions.Len(), "failed logins must not create sessions")

	s, err := f.guard.Login(ctx, "alice", "secret123")
	require.NoError(t, err)
	assert.NotEmpty(t, s.Token)
	assert.Equal(t, "alice", s.Username)
	assert.Equal(t, f.clock.Now().Add(time.Hour), s.ExpiresAt)
	assert.Equal(t, 1, f.guard.ActiveSessions())
}

func TestLogin_DistinctSessions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.guard.Register(ctx, "alice", "secret123"))

	a, err := f.guard.Login(ctx, "alice", "secret123")
	require.NoError(t, err)
	b, err := f.guard.Login(ctx, "alice", "secret123")
	require.NoError(t, err)
	assert.NotEqual(t, a.Token, b.Token)

	require.NoError(t, f.guard.Logout(ctx, a.Token))
	_, err = f.guard.Authorize(ctx, b.Token)
	assert.NoError(t, err, "logging out one session leaves the other intact")
}

func TestLogin_Lockout(t *testing.T) {
	f := newFixture(t, NewLockout(3, 15*time.Minute, 10*time.Minute))
	ctx := context.Background()
	require.NoError(t, f.guard.Register(ctx, "alice", "secret123"))

	for i := 0; i < 3; i++ {
		_, err := f.guard.Login(ctx, "alice", "wrong")
		assert.ErrorIs(t, err, errs.ErrUnauthorized)
	}

	_, err := f.guard.Login(ctx, "alice", "secret123")
	assert.ErrorIs(t, err, errs.ErrLocked)

	f.clock.Advance(16 * time.Minute)
	_, err = f.guard.Login(ctx, "alice", "secret123")
	assert.NoError(t, err)
}

func TestAuthorize(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.guard.Register(ctx, "alice", "secret123"))
	s, err := f.guard.Login(ctx, "alice", "secret123")
	require.NoError(t, err)

	id, err := f.guard.Authorize(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Username)
	assert.NotEmpty(t, id.SessionID)

	for _, tok := range []string{"", "garbage", s.Token + "x", strings.Replace(s.Token, ".", "..", 1)} {
		_, err := f.guard.Authorize(ctx, tok)
		assert.ErrorIs(t, err, errs.ErrUnauthenticated, tok)
	}
}

func TestAuthorize_ForeignSecret(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.guard.Register(ctx, "alice", "secret123"))
	s, err := f.guard.Login(ctx, "alice", "secret123")
	require.NoError(t, err)

	other := NewGuard(f.users, f.sessions, Options{Secret: []byte("another-secret-another-secret-xx"), Now: f.clock.Now})
	_, err = other.Authorize(ctx, s.Token)
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)
}

func TestAuthorize_Expired(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.guard.Register(ctx, "alice", "secret123"))
	s, err := f.guard.Login(ctx, "alice", "secret123")
	require.NoError(t, err)

	f.clock.Advance(time.Hour + time.Second)
	_, err = f.guard.Authorize(ctx, s.Token)
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)
}

func TestAuthorize_StoreError(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.guard.Register(ctx, "alice", "secret123"))
	s, err := f.guard.Login(ctx, "alice", "secret123")
	require.NoError(t, err)

	boom := errors.New("session backend down")
	g := NewGuard(f.users, &failingSessions{MemoryStore: f.sessions, getErr: boom}, Options{Secret: testSecret, Now: f.clock.Now})
	_, err = g.Authorize(ctx, s.Token)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, errs.ErrUnauthenticated)
}

func TestLogout(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.guard.Register(ctx, "alice", "secret123"))
	s, err := f.guard.Login(ctx, "alice", "secret123")
	require.NoError(t, err)

	require.NoError(t, f.guard.Logout(ctx, s.Token))
	_, err = f.guard.Authorize(ctx, s.Token)
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)

	// Idempotent.
	assert.NoError(t, f.guard.Logout(ctx, s.Token))
	assert.NoError(t, f.guard.Logout(ctx, ""))
	assert.NoError(t, f.guard.Logout(ctx, "garbage"))
}

func TestLogout_StoreErrorIsReported(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.guard.Register(ctx, "alice", "secret123"))
	s, err := f.guard.Login(ctx, "alice", "secret123")
	require.NoError(t, err)

	boom := errors.New("teardown failed")
	g := NewGuard(f.users, &failingSessions{MemoryStore: f.sessions, deleteErr: boom}, Options{Secret: testSecret, Now: f.clock.Now})
	assert.ErrorIs(t, g.Logout(ctx, s.Token), boom)
}

func TestHashPassword(t *testing.T) {
	h, err := HashPassword("secret123", bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, verifyPassword("secret123", h))
	assert.False(t, verifyPassword("secret124", h))

	_, err = HashPassword(strings.Repeat("x", 100), bcrypt.MinCost)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}
