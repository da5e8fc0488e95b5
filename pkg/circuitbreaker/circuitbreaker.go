package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// ErrOpen is returned while the breaker refuses calls.
var ErrOpen = errors.New("circuit breaker is open")

// Breaker trips after maxFailures failures within the sliding window and
// refuses calls until the cooldown passes, then lets one probe through.
type Breaker struct {
	maxFailures int
	cooldown    time.Duration
	window      time.Duration

	mu       sync.Mutex
	state    State
	failures []time.Time
	openedAt time.Time
}

func New(maxFailures int, cooldown time.Duration) *Breaker {
	return &Breaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		window:      60 * time.Second,
		failures:    make([]time.Time, 0),
	}
}

// Execute runs fn unless the breaker is open. The result of fn feeds the
// breaker state.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allow() {
		return ErrOpen
	}
	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if time.Since(b.openedAt) < b.cooldown {
			return false
		}
		b.state = StateHalfOpen
		b.failures = b.failures[:0]
	}
	return true
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if err == nil {
		if b.state == StateHalfOpen {
			b.state = StateClosed
		}
		b.failures = b.failures[:0]
		return
	}

	b.failures = append(b.failures, now)
	b.dropOldFailures(now)
	if b.state == StateHalfOpen || len(b.failures) > b.maxFailures {
		b.state = StateOpen
		b.openedAt = now
	}
}

func (b *Breaker) dropOldFailures(now time.Time) {
	cutoff := now.Add(-b.window)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}
