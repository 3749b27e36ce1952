// Package resilience guards calls into the legacy database with retries and
// a circuit breaker so an unhealthy source fails fast instead of stalling a run.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BreakerState is the position of a Breaker.
type BreakerState int

const (
	// Closed lets every call through.
	Closed BreakerState = iota
	// Open rejects calls until the cooldown elapses.
	Open
	// HalfOpen lets a single probe call through.
	HalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned for calls rejected by an open breaker.
var ErrBreakerOpen = eris.New("resilience: breaker open")

const (
	defaultThreshold = 5
	defaultCooldown  = 30 * time.Second
)

// BreakerStats is a snapshot of a Breaker for run reports.
type BreakerStats struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Failures int    `json:"consecutive_failures"`
	Trips    int64  `json:"trips"`
	Rejected int64  `json:"rejected"`
}

// Breaker opens after Threshold consecutive transient failures of the guarded
// resource. Permanent errors (a missing row, a bad query) never count. After
// the cooldown one probe is admitted; its outcome closes or reopens the
// breaker.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
	trips    int64
	rejected int64

	nowFunc func() time.Time
}

// NewBreaker creates a closed breaker for the named resource. Non-positive
// threshold or cooldown keep the defaults (5 failures, 30s).
func NewBreaker(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &Breaker{name: name, threshold: threshold, cooldown: cooldown, nowFunc: time.Now}
}

// Guard runs fn unless b rejects the call.
func Guard[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	probe, err := b.admit()
	if err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	b.record(probe, err)
	return val, err
}

// Stats returns the current breaker snapshot.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	state := b.state
	if state == Open && b.cooled() {
		state = HalfOpen
	}
	return BreakerStats{
		Name:     b.name,
		State:    state.String(),
		Failures: b.failures,
		Trips:    b.trips,
		Rejected: b.rejected,
	}
}

func (b *Breaker) cooled() bool { return b.nowFunc().Sub(b.openedAt) >= b.cooldown }

// admit decides whether a call may run. probe is true for the single call
// let through after the cooldown.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case b.state == Closed:
		return false, nil
	case b.state == Open && b.cooled():
		b.move(HalfOpen)
		b.probing = true
		return true, nil
	case b.state == HalfOpen && !b.probing:
		b.probing = true
		return true, nil
	}
	b.rejected++
	return false, eris.Wrapf(ErrBreakerOpen, "%s after %d consecutive failures", b.name, b.failures)
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probing = false
	}

	if err == nil || !IsTransient(err) {
		b.failures = 0
		if b.state != Closed && probe {
			b.move(Closed)
		}
		return
	}

	b.failures++
	switch {
	case probe, b.state == Closed && b.failures >= b.threshold:
		b.openedAt = b.nowFunc()
		b.trips++
		b.move(Open)
	}
}

func (b *Breaker) move(to BreakerState) {
	if b.state == to {
		return
	}
	zap.L().Warn("breaker state change",
		zap.String("component", "resilience"),
		zap.String("resource", b.name),
		zap.Stringer("from", b.state),
		zap.Stringer("to", to),
		zap.Int("consecutive_failures", b.failures),
	)
	b.state = to
}
