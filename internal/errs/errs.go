// Package errs contains sentinel errors and typed failures shared by the
// auth, upload, scan and persistence layers for stable HTTP mapping.
package errs

import (
	"errors"
	"fmt"
)

// Authentication and input sentinels.
var (
	// ErrMissingFields indicates a required request field was empty.
	ErrMissingFields = errors.New("missing fields")

	// ErrInvalidInput indicates a field was present but failed validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyExists indicates a unique key collision (username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed credential verification.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnauthenticated indicates a missing, invalid or expired session.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrLocked indicates the account is temporarily locked after repeated failures.
	ErrLocked = errors.New("account locked")
)

// Upload sentinels.
var (
	// ErrNoFile indicates the upload request carried no file part.
	ErrNoFile = errors.New("no file provided")

	// ErrTooLarge indicates the upload exceeded the configured size limit.
	ErrTooLarge = errors.New("file too large")

	// ErrMalicious indicates the scanner classified the file as malicious.
	ErrMalicious = errors.New("malicious content")
)

// ScanErrorKind classifies why a scan did not produce a verdict.
type ScanErrorKind string

const (
	ScanLaunchFailed ScanErrorKind = "launch_failed"
	ScanNonZeroExit  ScanErrorKind = "non_zero_exit"
	ScanTimeout      ScanErrorKind = "timeout"
)

// ScanError reports a scanner invocation that failed to classify a file.
type ScanError struct {
	Kind     ScanErrorKind
	ExitCode int
	Detail   string
	Err      error
}

func (e *ScanError) Error() string {
	switch e.Kind {
	case ScanNonZeroExit:
		return fmt.Sprintf("scan failed: exit status %d: %s", e.ExitCode, e.Detail)
	case ScanTimeout:
		return "scan failed: timed out"
	default:
		if e.Err != nil {
			return fmt.Sprintf("scan failed: %s: %v", e.Kind, e.Err)
		}
		return fmt.Sprintf("scan failed: %s", e.Kind)
	}
}

func (e *ScanError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed write to durable storage (user store save,
// staged file deletion).
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("persistence: %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
