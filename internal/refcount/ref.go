// Package refcount implements the strong/weak reference control block shared
// by every managed object.
//
// A Ref starts with one strong reference (the creator's) and one implicit weak
// reference held by the object on itself. When the strong count drops to zero
// the teardown callback runs exactly once and the implicit weak reference is
// released. The control block stays observable through weak handles until the
// weak count also reaches zero, at which point it is marked freed.
//
// Counter mutations are lock-free: acquisition is a compare-and-swap loop that
// refuses to resurrect a zero count, and release is a single atomic decrement
// whose result decides who runs teardown.
package refcount

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrOverRelease reports a strong release with no strong reference held.
	ErrOverRelease = errors.New("refcount: strong count released below zero")
	// ErrWeakOverRelease reports a weak release with no weak reference held.
	ErrWeakOverRelease = errors.New("refcount: weak count released below zero")
)

// Ref is the control block backing a managed object.
type Ref struct {
	strong atomic.Int64
	weak   atomic.Int64

	teardown func()
	onFree   atomic.Pointer[func()]
	closed   atomic.Bool
}

// New returns a control block holding one strong and one implicit weak
// reference. teardown runs when the last strong reference is released.
func New(teardown func()) *Ref {
	r := &Ref{teardown: teardown}
	r.strong.Store(1)
	r.weak.Store(1)
	return r
}

// OnFree registers fn to run when the weak count reaches zero.
func (r *Ref) OnFree(fn func()) {
	r.onFree.Store(&fn)
}

// TryAcquire adds a strong reference unless the strong count has already
// reached zero or the block is closed. A false result is a closing race, not
// an error.
func (r *Ref) TryAcquire() bool {
	for {
		if r.closed.Load() {
			return false
		}
		n := r.strong.Load()
		if n <= 0 {
			return false
		}
		if r.strong.CompareAndSwap(n, n+1) {
			break
		}
	}
	// Close may have landed between the check and the swap.
	if r.closed.Load() {
		r.Release()
		return false
	}
	return true
}

// Close makes every later TryAcquire fail while the strong count is still
// positive. It is used when the object was destroyed out from under its
// holders; their releases still balance the count.
func (r *Ref) Close() {
	r.closed.Store(true)
}

// Closed reports whether Close was called.
func (r *Ref) Closed() bool { return r.closed.Load() }

// Release drops a strong reference. The caller whose decrement reaches zero
// runs teardown and then releases the implicit weak reference; it alone
// receives true.
func (r *Ref) Release() bool {
	n := r.strong.Add(-1)
	if n > 0 {
		return false
	}
	if n < 0 {
		panic(fmt.Errorf("%w (count=%d)", ErrOverRelease, n))
	}
	if r.teardown != nil {
		r.teardown()
	}
	r.ReleaseWeak()
	return true
}

// AcquireWeak adds a weak reference. It is only valid while the caller
// already holds a strong or weak reference.
func (r *Ref) AcquireWeak() {
	if r.weak.Add(1) <= 1 {
		panic(fmt.Errorf("refcount: weak reference acquired on a freed control block"))
	}
}

// ReleaseWeak drops a weak reference and reports whether the control block
// was freed by this call.
func (r *Ref) ReleaseWeak() bool {
	n := r.weak.Add(-1)
	if n > 0 {
		return false
	}
	if n < 0 {
		panic(fmt.Errorf("%w (count=%d)", ErrWeakOverRelease, n))
	}
	if fn := r.onFree.Load(); fn != nil && *fn != nil {
		(*fn)()
	}
	return true
}

// Strong returns the current strong count.
func (r *Ref) Strong() int64 { return r.strong.Load() }

// Weak returns the current weak count, including the implicit one.
func (r *Ref) Weak() int64 { return r.weak.Load() }

// Expired reports whether promotion can no longer succeed.
func (r *Ref) Expired() bool { return r.closed.Load() || r.strong.Load() <= 0 }

// Freed reports whether both counts have reached zero.
func (r *Ref) Freed() bool { return r.weak.Load() <= 0 }
