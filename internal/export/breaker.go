package export

import (
	"errors"
	"sync"
	"time"

	"github.com/openlabels/scanner/internal/monitoring"
)

// errBreakerOpen tells the retry loop to stop immediately instead of
// hammering a sink that is already failing.
var errBreakerOpen = errors.New("export: circuit open")

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// breaker is a per-sink circuit breaker. Consecutive failures trip it
// open; after openTimeout one probe request is allowed through, and its
// outcome decides between closing and re-opening.
type breaker struct {
	name             string
	failureThreshold int
	openTimeout      time.Duration

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
	probing  bool
}

func newBreaker(name string, failureThreshold int, openTimeout time.Duration) *breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if openTimeout <= 0 {
		openTimeout = 60 * time.Second
	}
	return &breaker{
		name:             name,
		failureThreshold: failureThreshold,
		openTimeout:      openTimeout,
	}
}

// Execute runs fn if the breaker admits it, recording the outcome.
func (b *breaker) Execute(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.record(err == nil)
	return err
}

func (b *breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateClosed:
		return nil
	case stateOpen:
		if time.Since(b.openedAt) < b.openTimeout {
			return errBreakerOpen
		}
		b.setState(stateHalfOpen)
		b.probing = true
		return nil
	default: // half-open
		if b.probing {
			return errBreakerOpen
		}
		b.probing = true
		return nil
	}
}

func (b *breaker) record(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	if ok {
		b.failures = 0
		if b.state != stateClosed {
			b.setState(stateClosed)
		}
		return
	}
	b.failures++
	if b.state == stateHalfOpen || b.failures >= b.failureThreshold {
		b.openedAt = time.Now()
		b.setState(stateOpen)
	}
}

func (b *breaker) setState(s breakerState) {
	b.state = s
	open := 0.0
	if s == stateOpen {
		open = 1.0
	}
	monitoring.CircuitOpen.WithLabelValues(b.name).Set(open)
}
