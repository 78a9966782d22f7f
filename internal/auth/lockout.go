// lockout.go - Account lockout after repeated failed logins.
package auth

import (
	"context"
	"sync"
	"time"
)

// loginAttempt tracks failed login attempts for one username.
type loginAttempt struct {
	count       int
	lastAttempt time.Time
	lockedUntil time.Time
}

// Lockout locks a username for a fixed duration once maxAttempts failures
// happen within window.
type Lockout struct {
	mu              sync.Mutex
	attempts        map[string]*loginAttempt
	maxAttempts     int
	lockoutDuration time.Duration
	window          time.Duration
	now             func() time.Time
}

// NewLockout creates a lockout tracker, e.g. NewLockout(5, 15*time.Minute, 10*time.Minute).
func NewLockout(maxAttempts int, lockoutDuration, window time.Duration) *Lockout {
	return &Lockout{
		attempts:        make(map[string]*loginAttempt),
		maxAttempts:     maxAttempts,
		lockoutDuration: lockoutDuration,
		window:          window,
		now:             time.Now,
	}
}

// RecordFailure records a failed attempt and reports whether the username is
// now locked.
func (l *Lockout) RecordFailure(username string) (locked bool, until time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	a, ok := l.attempts[username]
	if !ok {
		a = &loginAttempt{}
		l.attempts[username] = a
	}
	if now.Sub(a.lastAttempt) > l.window {
		a.count = 0
	}
	a.count++
	a.lastAttempt = now

	if a.count >= l.maxAttempts {
		a.lockedUntil = now.Add(l.lockoutDuration)
		return true, a.lockedUntil
	}
	return false, time.Time{}
}

// RecordSuccess clears the failure history for username.
func (l *Lockout) RecordSuccess(username string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, username)
}

// Locked reports whether username is currently locked and until when.
func (l *Lockout) Locked(username string) (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.attempts[username]
	if !ok {
		return false, time.Time{}
	}
	if !a.lockedUntil.IsZero() && l.now().Before(a.lockedUntil) {
		return true, a.lockedUntil
	}
	return false, time.Time{}
}

// Run prunes stale entries every interval until ctx is done.
func (l *Lockout) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.prune()
		}
	}
}

func (l *Lockout) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for username, a := range l.attempts {
		if (a.lockedUntil.IsZero() || now.After(a.lockedUntil)) && now.Sub(a.lastAttempt) > 2*l.window {
			delete(l.attempts, username)
		}
	}
}
