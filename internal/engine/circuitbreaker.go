package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/thaian1234/sync-service/internal/domain"
)

// Circuit breaker states
const (
	StateClosed   = "CLOSED"
	StateOpen     = "OPEN"
	StateHalfOpen = "HALF_OPEN"
)

// BreakerConfig tunes a single named breaker. Zero values fall back to the
// defaults below.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

const (
	defaultFailureThreshold = 5
	defaultSuccessThreshold = 2
	defaultTimeout          = 60 * time.Second
)

// BreakerStats is a point-in-time snapshot of one breaker.
type BreakerStats struct {
	Name          string     `json:"name"`
	State         string     `json:"state"`
	FailureCount  int        `json:"failure_count"`
	SuccessCount  int        `json:"success_count"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
}

// breaker is the per-name state machine.
// Closed: failures are counted, a success resets the count.
// Open: calls fail fast until the timeout elapses.
// Half-open: probing; enough successes close it, any failure reopens it.
type breaker struct {
	mu           sync.Mutex
	name         string
	config       BreakerConfig
	state        string
	failureCount int
	successCount int
	nextAttempt  time.Time
}

// BreakerRegistry holds all named circuit breakers for the process. State
// is in-memory only and resets on restart. Construct one at startup and
// pass it to call sites; tests inject a fresh registry.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*breaker
	logger   *slog.Logger
	now      func() time.Time
}

func NewBreakerRegistry(logger *slog.Logger) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*breaker),
		logger:   logger,
		now:      time.Now,
	}
}

func (r *BreakerRegistry) get(name string, config BreakerConfig) *breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		if config.FailureThreshold <= 0 {
			config.FailureThreshold = defaultFailureThreshold
		}
		if config.SuccessThreshold <= 0 {
			config.SuccessThreshold = defaultSuccessThreshold
		}
		if config.Timeout <= 0 {
			config.Timeout = defaultTimeout
		}
		b = &breaker{name: name, config: config, state: StateClosed}
		r.breakers[name] = b
		r.logger.Info("circuit breaker created",
			"name", name,
			"failure_threshold", config.FailureThreshold,
			"success_threshold", config.SuccessThreshold,
			"timeout", config.Timeout,
		)
	}
	return b
}

// Execute runs op behind the named breaker, lazily creating it with config
// on first use. When the breaker is open and the timeout has not elapsed,
// op is not invoked and a CircuitOpenError is returned.
func (r *BreakerRegistry) Execute(ctx context.Context, name string, config BreakerConfig, op func(ctx context.Context) error) error {
	b := r.get(name, config)

	if err := b.allow(r.now()); err != nil {
		return err
	}

	err := op(ctx)
	if err != nil {
		if opened := b.recordFailure(r.now()); opened {
			r.logger.Error("circuit breaker opened",
				"name", name,
				"next_attempt_at", b.stats().NextAttemptAt,
			)
		}
		return err
	}

	if closed := b.recordSuccess(); closed {
		r.logger.Info("circuit breaker closed after recovery", "name", name)
	}
	return nil
}

// allow decides whether a call may proceed, transitioning open breakers to
// half-open once their timeout has elapsed.
func (b *breaker) allow(now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if now.Before(b.nextAttempt) {
			return &domain.CircuitOpenError{Name: b.name}
		}
		b.state = StateHalfOpen
		b.successCount = 0
	}
	return nil
}

// recordFailure returns true when this failure tripped the breaker open.
func (b *breaker) recordFailure(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.successCount = 0

	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.nextAttempt = now.Add(b.config.Timeout)
		return true
	}
	if b.failureCount >= b.config.FailureThreshold && b.state == StateClosed {
		b.state = StateOpen
		b.nextAttempt = now.Add(b.config.Timeout)
		return true
	}
	return false
}

// recordSuccess returns true when this success closed a half-open breaker.
func (b *breaker) recordSuccess() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0

	if b.state == StateHalfOpen {
		b.successCount++
		if b.successCount >= b.config.SuccessThreshold {
			b.state = StateClosed
			b.successCount = 0
			return true
		}
	}
	return false
}

func (b *breaker) stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := BreakerStats{
		Name:         b.name,
		State:        b.state,
		FailureCount: b.failureCount,
		SuccessCount: b.successCount,
	}
	if !b.nextAttempt.IsZero() {
		next := b.nextAttempt
		s.NextAttemptAt = &next
	}
	return s
}

func (b *breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failureCount = 0
	b.successCount = 0
	b.nextAttempt = time.Time{}
}

// Stats returns a snapshot of every breaker in the registry.
func (r *BreakerRegistry) Stats() []BreakerStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := make([]BreakerStats, 0, len(r.breakers))
	for _, b := range r.breakers {
		stats = append(stats, b.stats())
	}
	return stats
}

// Reset manually closes the named breaker. Returns false when the name has
// never been used.
func (r *BreakerRegistry) Reset(name string) bool {
	r.mu.Lock()
	b, ok := r.breakers[name]
	r.mu.Unlock()

	if !ok {
		return false
	}
	b.reset()
	r.logger.Info("circuit breaker manually reset", "name", name)
	return true
}
