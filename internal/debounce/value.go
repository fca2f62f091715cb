// Package debounce holds a live value and a settled copy that trails it by a
// fixed delay.
package debounce

import (
	"sync"
	"time"
)

// Timer is the part of *time.Timer the store needs.
type Timer interface {
	Stop() bool
}

// Clock schedules delayed callbacks.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock schedules on the runtime timer heap.
var RealClock Clock = realClock{}

type options struct {
	clock Clock
}

// Option configures a Value.
type Option func(*options)

// WithClock replaces the runtime clock, mainly for tests.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// Value is a trailing-edge debounce: every Set restarts the wait, and the
// settled copy takes the live value once it has been stable for the delay.
// Setting the zero value settles immediately. At most one timer is pending.
type Value[T comparable] struct {
	mu       sync.Mutex
	clock    Clock
	delay    time.Duration
	live     T
	settled  T
	timer    Timer
	gen      uint64
	closed   bool
	onSettle func(T)
}

// New starts with live and settled both equal to initial. onSettle, when not
// nil, runs after every settle, without the lock held, on the goroutine that
// settled the value.
func New[T comparable](initial T, delay time.Duration, onSettle func(T), opts ...Option) *Value[T] {
	o := options{clock: RealClock}
	for _, opt := range opts {
		opt(&o)
	}
	return &Value[T]{
		clock:    o.clock,
		delay:    delay,
		live:     initial,
		settled:  initial,
		onSettle: onSettle,
	}
}

// Set updates the live value and reschedules the settle.
func (v *Value[T]) Set(x T) {
	v.Update(func(T) (T, bool) { return x, true })
}

// Update calls fn with the live value while holding the lock. When fn
// returns true its result is set as by Set, with no other Set in between.
// fn must not call back into v.
func (v *Value[T]) Update(fn func(live T) (T, bool)) bool {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return false
	}
	x, ok := fn(v.live)
	if !ok {
		v.mu.Unlock()
		return false
	}

	v.live = x
	v.cancelLocked()

	var zero T
	if x == zero || v.delay <= 0 {
		v.settled = x
		v.mu.Unlock()
		v.notify(x)
		return true
	}

	gen := v.gen
	v.timer = v.clock.AfterFunc(v.delay, func() {
		v.fire(gen, x)
	})
	v.mu.Unlock()
	return true
}

func (v *Value[T]) fire(gen uint64, x T) {
	v.mu.Lock()
	if v.closed || gen != v.gen {
		v.mu.Unlock()
		return
	}
	v.timer = nil
	v.settled = x
	v.mu.Unlock()
	v.notify(x)
}

// cancelLocked stops the pending timer and invalidates it in case it already
// fired and is waiting on the lock.
func (v *Value[T]) cancelLocked() {
	v.gen++
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
}

func (v *Value[T]) notify(x T) {
	if v.onSettle != nil {
		v.onSettle(x)
	}
}

// Live returns the most recent input.
func (v *Value[T]) Live() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.live
}

// Settled returns the debounced value.
func (v *Value[T]) Settled() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.settled
}

// Pending reports whether a settle is scheduled.
func (v *Value[T]) Pending() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.timer != nil
}

// Close cancels the pending settle. Later calls to Set are ignored.
func (v *Value[T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelLocked()
	v.closed = true
}
