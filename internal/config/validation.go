// validation.go - Startup configuration validation.
//
// Collects every problem in one pass so the process fails fast with a
// complete report instead of erroring on the first bad variable.
package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// ValidationError describes one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validator accumulates configuration errors.
type Validator struct {
	errors []ValidationError
}

// NewValidator creates an empty validator.
func NewValidator() *Validator {
	return &Validator{errors: make([]ValidationError, 0)}
}

// AddError records a validation error.
func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// HasErrors returns true if any error was recorded.
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Err returns nil when valid, otherwise a single error listing every problem.
func (v *Validator) Err() error {
	if !v.HasErrors() {
		return nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d error(s):\n", len(v.errors))
	for i, err := range v.errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return fmt.Errorf("%s", sb.String())
}

// ValidateRequired records an error when value is empty.
func (v *Validator) ValidateRequired(key, value string) {
	if value == "" {
		v.AddError(key, "required environment variable not set")
	}
}

// ValidatePort accepts "host:port" or ":port".
func (v *Validator) ValidatePort(key, value string) {
	if value == "" {
		return
	}
	idx := strings.LastIndex(value, ":")
	if idx < 0 {
		v.AddError(key, "must be in host:port or :port form")
		return
	}
	port, err := strconv.Atoi(value[idx+1:])
	if err != nil {
		v.AddError(key, "port must be a number")
		return
	}
	if port < 1 || port > 65535 {
		v.AddError(key, "port must be between 1 and 65535")
	}
}

// ValidateMinLength records an error for non-empty values shorter than minLen.
func (v *Validator) ValidateMinLength(key, value string, minLen int) {
	if value == "" {
		return
	}
	if len(value) < minLen {
		v.AddError(key, fmt.Sprintf("must be at least %d characters long (got %d)", minLen, len(value)))
	}
}

// ValidateEnum checks value is one of allowed.
func (v *Validator) ValidateEnum(key, value string, allowed []string) {
	for _, opt := range allowed {
		if value == opt {
			return
		}
	}
	v.AddError(key, fmt.Sprintf("must be one of: %s (got: %s)", strings.Join(allowed, ", "), value))
}

// ValidatePositiveInt checks n > 0.
func (v *Validator) ValidatePositiveInt(key string, n int) {
	if n <= 0 {
		v.AddError(key, "must be a positive integer")
	}
}

// ValidateIntRange checks lo <= n <= hi.
func (v *Validator) ValidateIntRange(key string, n, lo, hi int) {
	if n < lo || n > hi {
		v.AddError(key, fmt.Sprintf("must be between %d and %d (got %d)", lo, hi, n))
	}
}

// ParseDuration parses a positive duration, recording an error on failure.
func (v *Validator) ParseDuration(key, value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		v.AddError(key, "must be a valid duration (e.g. 90s, 15m, 12h)")
		return 0
	}
	if d <= 0 {
		v.AddError(key, "must be a positive duration")
	}
	return d
}

// ParseBytes parses a size such as "25MB" or "1048576", recording an error on failure.
func (v *Validator) ParseBytes(key, value string) int64 {
	n, err := humanize.ParseBytes(value)
	if err != nil {
		v.AddError(key, "must be a byte size (e.g. 25MB, 1GiB, 1048576)")
		return 0
	}
	switch {
	case n == 0:
		v.AddError(key, "must be greater than zero")
	case n > math.MaxInt64:
		v.AddError(key, "is too large")
		return 0
	}
	return int64(n)
}
