package dispatcher

import (
	"sync"
	"time"
)

// BreakerState is the state of a MicroBreaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// MicroBreaker is a consecutive-failure circuit breaker. After threshold
// failures it opens for openFor, then lets a single probe through.
type MicroBreaker struct {
	mu            sync.Mutex
	st            BreakerState
	fails         int
	threshold     int
	openFor       time.Duration
	retryAt       time.Time
	probeInFlight bool
	now           func() time.Time
}

func NewMicroBreaker(threshold int, openFor time.Duration) *MicroBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &MicroBreaker{threshold: threshold, openFor: openFor, now: time.Now}
}

func (b *MicroBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st
}

// Ready reports whether a delivery could be attempted without reserving it.
func (b *MicroBreaker) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.st {
	case BreakerOpen:
		return !b.probeInFlight && b.now().After(b.retryAt)
	case BreakerHalfOpen:
		return !b.probeInFlight
	}
	return true
}

// TryAcquire reserves an attempt. In the open state the first caller after
// retryAt becomes the half-open probe.
func (b *MicroBreaker) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.st {
	case BreakerOpen:
		if b.probeInFlight || !b.now().After(b.retryAt) {
			return false
		}
		b.st = BreakerHalfOpen
		b.probeInFlight = true
		return true
	case BreakerHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	}
	return true
}

func (b *MicroBreaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fails = 0
	b.st = BreakerClosed
	b.probeInFlight = false
}

func (b *MicroBreaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probeInFlight = false
	if b.st == BreakerHalfOpen {
		b.trip()
		return
	}
	b.fails++
	if b.fails >= b.threshold {
		b.trip()
	}
}

func (b *MicroBreaker) trip() {
	b.st = BreakerOpen
	b.retryAt = b.now().Add(b.openFor)
}
