package auth

import (
	"regexp"

	"golang.org/x/crypto/bcrypt"
)

const (
	// bcrypt ignores input beyond 72 bytes; longer passwords are rejected
	// rather than silently truncated.
	maxPasswordBytes = 72
	minUsernameLen   = 3
	maxUsernameLen   = 50
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// validateUsername checks username requirements.
func validateUsername(username string) (bool, string) {
	if len(username) < minUsernameLen {
		return false, "Username must be at least 3 characters long"
	}
	if len(username) > maxUsernameLen {
		return false, "Username must be at most 50 characters"
	}
	if !usernamePattern.MatchString(username) {
		return false, "Username can only contain letters, numbers, and underscores"
	}
	return true, ""
}

// validatePassword checks password length limits.
func validatePassword(password string) (bool, string) {
	if len(password) > maxPasswordBytes {
		return false, "Password must be at most 72 bytes"
	}
	return true, ""
}

// hashPassword generates a salted bcrypt hash of the password.
func hashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// verifyPassword compares a password with its hash in constant time.
func verifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// HashPassword is the exported form used by operator tooling.
func HashPassword(password string, cost int) (string, error) {
	if ok, msg := validatePassword(password); !ok {
		return "", &InputError{Msg: msg}
	}
	return hashPassword(password, cost)
}
