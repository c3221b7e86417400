package dispatcher

import (
	"sync"
	"time"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// MicroBreaker opens after failThreshold consecutive failures and, once
// openFor has elapsed, admits a single probe whose outcome closes or reopens it.
type MicroBreaker struct {
	mu            sync.Mutex
	state         breakerState
	fails         int
	failThreshold int
	openFor       time.Duration
	retryAt       time.Time
	probing       bool

	now func() time.Time
}

func NewMicroBreaker(threshold int, openFor time.Duration) *MicroBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &MicroBreaker{failThreshold: threshold, openFor: openFor, now: time.Now}
}

// probeAllowed must be called with mu held.
func (b *MicroBreaker) probeAllowed() bool {
	switch b.state {
	case stateOpen:
		return !b.probing && b.now().After(b.retryAt)
	case stateHalfOpen:
		return !b.probing
	}
	return true
}

// Ready reports whether a call would currently be admitted.
func (b *MicroBreaker) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.probeAllowed()
}

// TryAcquire admits a call. While not closed only one probe is in flight.
func (b *MicroBreaker) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateClosed {
		return true
	}
	if !b.probeAllowed() {
		return false
	}
	b.state = stateHalfOpen
	b.probing = true
	return true
}

func (b *MicroBreaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = stateClosed
	b.fails = 0
	b.probing = false
}

func (b *MicroBreaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if b.state == stateHalfOpen {
		b.trip()
		return
	}
	b.fails++
	if b.fails >= b.failThreshold {
		b.trip()
	}
}

func (b *MicroBreaker) trip() {
	b.state = stateOpen
	b.retryAt = b.now().Add(b.openFor)
}

func (b *MicroBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}
