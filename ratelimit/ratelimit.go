// Package ratelimit implements a fixed-window request limiter. Counters are
// kept per namespace and key in process memory; each replica of the service
// enforces its own limits independently.
package ratelimit

import (
	"sync"
	"time"
)

// Result reports the outcome of a single Allow call.
type Result struct {
	// Allowed is false when the caller has exhausted the window's budget.
	Allowed bool
	// Remaining is the number of requests left in the current window.
	Remaining int
	// ResetAt is when the current window ends and the budget refills.
	ResetAt time.Time
}

// LimiterFunc checks one request against a configured namespace. The key
// identifies the caller, typically a client IP or a user ID.
type LimiterFunc func(key string) Result

type window struct {
	count    int
	startsAt time.Time
	span     time.Duration
}

// Service owns the counter table shared by all configured namespaces and the
// background sweep that evicts finished windows.
type Service struct {
	mu      sync.Mutex
	windows map[string]*window

	nowF   func() time.Time
	stopCh chan struct{}
	doneCh chan struct{}
}

// New returns a Service sweeping expired windows every sweepInterval. A zero
// interval disables the sweep; entries are then only replaced on access.
func New(sweepInterval time.Duration) *Service {
	s := &Service{
		windows: make(map[string]*window),
		nowF:    time.Now,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	if sweepInterval > 0 {
		go s.sweepLoop(sweepInterval)
	} else {
		close(s.doneCh)
	}
	return s
}

// Configure returns a LimiterFunc admitting at most max requests per key in
// each span-long window. Namespaces share the Service's table but never
// collide: keys are prefixed with the namespace.
func (s *Service) Configure(namespace string, max int, span time.Duration) LimiterFunc {
	return func(key string) Result {
		return s.allow(namespace+":"+key, max, span)
	}
}

func (s *Service) allow(key string, max int, span time.Duration) Result {
	now := s.nowF()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || !now.Before(w.startsAt.Add(span)) {
		w = &window{startsAt: now, span: span}
		s.windows[key] = w
	}

	resetAt := w.startsAt.Add(span)
	if w.count >= max {
		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt}
	}
	w.count++
	return Result{Allowed: true, Remaining: max - w.count, ResetAt: resetAt}
}

// Close stops the sweep goroutine and waits for it to exit.
func (s *Service) Close() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	<-s.doneCh
}

func (s *Service) sweepLoop(interval time.Duration) {
	defer close(s.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

// sweep removes windows that have ended. Idle keys would otherwise pin an
// entry forever.
func (s *Service) sweep() {
	now := s.nowF()
	s.mu.Lock()
	for key, w := range s.windows {
		if !now.Before(w.startsAt.Add(w.span)) {
			delete(s.windows, key)
		}
	}
	s.mu.Unlock()
}
