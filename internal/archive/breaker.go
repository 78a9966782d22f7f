package archive

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the position of a Breaker.
type State int

const (
	// StateClosed lets calls through.
	StateClosed State = iota
	// StateOpen fails fast until the cool-down elapses.
	StateOpen
	// StateHalfOpen admits a single trial call.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTooManyRequests is returned when a half-open breaker already has a trial call in flight.
	ErrTooManyRequests = errors.New("too many requests while circuit is half-open")
)

// Breaker stops calling a failing dependency after maxFailures consecutive
// errors and retries it after timeout.
type Breaker struct {
	mu sync.Mutex

	maxFailures uint32
	timeout     time.Duration
	maxHalfOpen uint32
	logger      *zap.Logger
	now         func() time.Time

	state            State
	failures         uint32
	lastFailureTime  time.Time
	halfOpenRequests uint32

	stats Stats
}

// Stats counts calls seen by a Breaker.
type Stats struct {
	State    State  `json:"state"`
	Total    uint64 `json:"total"`
	Success  uint64 `json:"success"`
	Failed   uint64 `json:"failed"`
	Rejected uint64 `json:"rejected"`
}

func NewBreaker(maxFailures uint32, timeout time.Duration, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		maxFailures: maxFailures,
		timeout:     timeout,
		maxHalfOpen: 1,
		logger:      logger,
		now:         time.Now,
	}
}

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	b.stats.Total++

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailureTime) <= b.timeout {
			b.stats.Rejected++
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.halfOpenRequests = 0
		b.logger.Info("circuit breaker half-open", zap.Duration("timeout", b.timeout))
		fallthrough
	case StateHalfOpen:
		if b.halfOpenRequests >= b.maxHalfOpen {
			b.stats.Rejected++
			b.mu.Unlock()
			return ErrTooManyRequests
		}
		b.halfOpenRequests++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

func (b *Breaker) onSuccess() {
	b.stats.Success++
	b.failures = 0
	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.logger.Info("circuit breaker closed")
	}
}

func (b *Breaker) onFailure() {
	b.stats.Failed++
	b.failures++
	b.lastFailureTime = b.now()

	if b.state == StateHalfOpen || b.failures >= b.maxFailures {
		if b.state != StateOpen {
			b.logger.Warn("circuit breaker opened",
				zap.Uint32("failures", b.failures),
				zap.Uint32("max_failures", b.maxFailures),
			)
		}
		b.state = StateOpen
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot of the counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.State = b.state
	return s
}

// health reports an error while the breaker is open.
func (b *Breaker) health() error {
	s := b.Stats()
	if s.State != StateOpen {
		return nil
	}
	return fmt.Errorf("%w: %d of %d calls failed", ErrCircuitOpen, s.Failed, s.Total)
}
