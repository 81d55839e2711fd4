package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"golang.org/x/sync/semaphore"
)

var lockTimeouts = metrics.NewCounter("resplink_lock_timeouts_total")

// Monitor lets one synchronous exchange at a time through to the wrapped
// Exchanger. Callers waiting longer than the timeout get ErrLockTimeout and
// nothing is sent.
type Monitor struct {
	inner   Exchanger
	timeout time.Duration

	mu   sync.Mutex
	cond *sync.Cond
	busy bool
}

// NewMonitor wraps inner. A zero timeout waits for as long as ctx allows.
func NewMonitor(inner Exchanger, timeout time.Duration) *Monitor {
	m := &Monitor{inner: inner, timeout: timeout}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *Monitor) Exchange(ctx context.Context, write WriteFunc, read ReadFunc) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	return m.inner.Exchange(ctx, write, read)
}

func (m *Monitor) acquire(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.busy {
		m.busy = true
		return nil
	}

	wake := func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	}

	var deadline time.Time
	if m.timeout > 0 {
		deadline = time.Now().Add(m.timeout)
		timer := time.AfterFunc(m.timeout, wake)
		defer timer.Stop()
	}

	stop := context.AfterFunc(ctx, wake)
	defer stop()

	for m.busy {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !deadline.IsZero() && !time.Now().Before(deadline) {
			lockTimeouts.Inc()
			return ErrLockTimeout
		}

		m.cond.Wait()
	}

	m.busy = true
	return nil
}

func (m *Monitor) release() {
	m.mu.Lock()
	m.busy = false
	m.mu.Unlock()

	// Some waiters may already have given up
	m.cond.Broadcast()
}

// Semaphore is a Monitor that also serves asynchronous callers. The slot
// is not tied to a goroutine, so an exchange may be released from whichever
// goroutine finishes it.
type Semaphore struct {
	inner   Exchanger
	timeout time.Duration
	sem     *semaphore.Weighted

	// waiting counts exchanges that want the slot
	waiting atomic.Int32

	mu    sync.Mutex
	yield context.CancelFunc
}

// NewSemaphore wraps inner. A zero timeout waits for as long as ctx allows.
func NewSemaphore(inner Exchanger, timeout time.Duration) *Semaphore {
	return &Semaphore{
		inner:   inner,
		timeout: timeout,
		sem:     semaphore.NewWeighted(1),
	}
}

func (s *Semaphore) Exchange(ctx context.Context, write WriteFunc, read ReadFunc) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.sem.Release(1)

	return s.inner.Exchange(ctx, write, read)
}

// ExchangeAsync waits for the slot in the background too; the returned
// Call reports ErrLockTimeout if it never got one.
func (s *Semaphore) ExchangeAsync(ctx context.Context, write WriteFunc, read ReadFunc) *Call {
	if err := ctx.Err(); err != nil {
		return completedCall(err)
	}

	call := newCall()

	go func() {
		call.complete(s.Exchange(ctx, write, read))
	}()

	return call
}

// Idle runs fn while the slot is free. fn's context is cancelled as soon
// as an exchange wants the slot, and the slot is released when fn returns.
func (s *Semaphore) Idle(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)

	idleCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.yield = cancel
	wanted := s.waiting.Load() > 0
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.yield = nil
		s.mu.Unlock()
	}()

	if wanted {
		cancel()
	}

	return fn(idleCtx)
}

func (s *Semaphore) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.sem.TryAcquire(1) {
		return nil
	}

	s.waiting.Add(1)
	defer s.waiting.Add(-1)

	s.mu.Lock()
	if s.yield != nil {
		s.yield()
	}
	s.mu.Unlock()

	wait := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := s.sem.Acquire(wait, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lockTimeouts.Inc()
		return ErrLockTimeout
	}

	if err := ctx.Err(); err != nil {
		s.sem.Release(1)
		return err
	}

	return nil
}

var (
	_ Exchanger      = (*Monitor)(nil)
	_ AsyncExchanger = (*Semaphore)(nil)
)
