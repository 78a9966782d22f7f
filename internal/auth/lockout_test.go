package auth

import (
	"testing"
	"time"
)

func TestLockout(t *testing.T) {
	c := newClock()
	l := NewLockout(3, 15*time.Minute, 10*time.Minute)
	l.now = c.Now

	for i := 0; i < 2; i++ {
		if locked, _ := l.RecordFailure("bob"); locked {
			t.Fatalf("locked after %d failures", i+1)
		}
	}
	locked, until := l.RecordFailure("bob")
	if !locked {
		t.Fatal("expected lock after third failure")
	}
	if want := c.Now().Add(15 * time.Minute); !until.Equal(want) {
		t.Fatalf("until = %v, want %v", until, want)
	}
	if ok, _ := l.Locked("bob"); !ok {
		t.Fatal("Locked() = false")
	}
	if ok, _ := l.Locked("carol"); ok {
		t.Fatal("unrelated user locked")
	}

	c.Advance(15*time.Minute + time.Second)
	if ok, _ := l.Locked("bob"); ok {
		t.Fatal("lock did not expire")
	}
}

func TestLockout_WindowResets(t *testing.T) {
	c := newClock()
	l := NewLockout(3, time.Minute, 10*time.Minute)
	l.now = c.Now

	l.RecordFailure("bob")
	l.RecordFailure("bob")
	c.Advance(11 * time.Minute)
	if locked, _ := l.RecordFailure("bob"); locked {
		t.Fatal("failures outside the window should not accumulate")
	}
}

func TestLockout_SuccessClears(t *testing.T) {
	l := NewLockout(2, time.Minute, time.Minute)
	l.RecordFailure("bob")
	l.RecordSuccess("bob")
	if locked, _ := l.RecordFailure("bob"); locked {
		t.Fatal("success should clear history")
	}
}

func TestLockout_Prune(t *testing.T) {
	c := newClock()
	l := NewLockout(5, time.Minute, time.Minute)
	l.now = c.Now

	l.RecordFailure("bob")
	c.Advance(3 * time.Minute)
	l.prune()

	l.mu.Lock()
	n := len(l.attempts)
	l.mu.Unlock()
	if n != 0 {
		t.Fatalf("attempts = %d, want 0", n)
	}
}
