// Package reliability provides the failure-handling layer every external
// service call in the pipeline goes through: a per-dependency circuit
// breaker and a retry executor with bounded exponential backoff.
package reliability

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"resume-pipeline/internal/telemetry"
)

// Breaker states.
const (
	StateClosed   = "CLOSED"
	StateOpen     = "OPEN"
	StateHalfOpen = "HALF_OPEN"
)

// ErrCircuitOpen is returned without invoking the wrapped function when the
// breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig tunes a single breaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	RecoveryTimeout  time.Duration // wait before allowing a trial call
	SuccessThreshold int           // consecutive HALF_OPEN successes to close
}

// DefaultBreakerConfig mirrors the production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 3,
	}
}

// Breaker is a fault-isolation gate for one named dependency. State mutation
// happens under the mutex; the wrapped call itself runs outside it so slow
// calls do not serialize other callers.
type Breaker struct {
	name string
	cfg  BreakerConfig
	log  *zap.Logger

	mu          sync.Mutex
	state       string
	failures    int
	successes   int
	lastFailure time.Time
	lastSuccess time.Time

	now func() time.Time
}

// NewBreaker builds a CLOSED breaker. State is process-local and resets to
// CLOSED on cold start by construction.
func NewBreaker(name string, cfg BreakerConfig, log *zap.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 3
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	b := &Breaker{
		name:  name,
		cfg:   cfg,
		log:   log.Named("breaker").With(zap.String("dependency", name)),
		state: StateClosed,
		now:   time.Now,
	}
	b.publishState()
	return b
}

// publishState mirrors the current state onto the metrics gauge. Callers hold
// the mutex (or own the breaker exclusively, at construction).
func (b *Breaker) publishState() {
	var v float64
	switch b.state {
	case StateHalfOpen:
		v = 1
	case StateOpen:
		v = 2
	}
	telemetry.BreakerState.WithLabelValues(b.name).Set(v)
}

// Do executes fn under breaker protection. When OPEN it fails fast with
// ErrCircuitOpen; the OPEN to HALF_OPEN transition is checked lazily here,
// not by a timer.
func (b *Breaker) Do(fn func() error) error {
	if err := b.acquire(); err != nil {
		return err
	}
	err := fn()
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.lastFailure) >= b.cfg.RecoveryTimeout {
		b.state = StateHalfOpen
		b.successes = 0
		b.publishState()
		b.log.Info("transitioning to half-open")
	}
	if b.state == StateOpen {
		return ErrCircuitOpen
	}
	return nil
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastSuccess = b.now()
	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.publishState()
			b.log.Info("closed after recovery")
		}
	case StateClosed:
		b.failures = 0
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()
	b.failures++
	switch {
	case b.state == StateClosed && b.failures >= b.cfg.FailureThreshold:
		b.state = StateOpen
		b.publishState()
		b.log.Warn("opened", zap.Int("failures", b.failures))
	case b.state == StateHalfOpen:
		// Any failure during the recovery trial reopens immediately.
		b.state = StateOpen
		b.publishState()
		b.log.Warn("reopened during recovery test")
	}
}

// Status is a read-only snapshot used by health reporting.
type Status struct {
	Name        string        `json:"name"`
	State       string        `json:"state"`
	Failures    int           `json:"failureCount"`
	Successes   int           `json:"successCount"`
	LastFailure time.Time     `json:"lastFailure"`
	LastSuccess time.Time     `json:"lastSuccess"`
	Config      BreakerConfig `json:"config"`
}

// Status returns the current snapshot.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Name:        b.name,
		State:       b.state,
		Failures:    b.failures,
		Successes:   b.successes,
		LastFailure: b.lastFailure,
		LastSuccess: b.lastSuccess,
		Config:      b.cfg,
	}
}

// Registry maps dependency names to breakers. Built once at startup and
// passed by reference to the stages that need it.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

// Register adds a breaker for a named dependency.
func (r *Registry) Register(b *Breaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[b.name] = b
}

// Get returns the breaker for a dependency, or nil when unregistered.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[name]
}

// Do runs fn through the named breaker; unregistered dependencies call
// through directly.
func (r *Registry) Do(name string, fn func() error) error {
	if b := r.Get(name); b != nil {
		return b.Do(fn)
	}
	return fn()
}

// Snapshots returns the status of every registered breaker for health
// reporting.
func (r *Registry) Snapshots() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Status())
	}
	return out
}
