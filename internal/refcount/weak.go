package refcount

import "sync/atomic"

// Weak observes a T without keeping it alive. Get promotes it to a strong
// reference when the target is still live.
type Weak[T any] struct {
	ref    atomic.Pointer[Ref]
	target T
}

// NewWeak takes a weak reference on ref for target. The caller must hold a
// strong or weak reference on ref.
func NewWeak[T any](ref *Ref, target T) *Weak[T] {
	ref.AcquireWeak()
	w := &Weak[T]{target: target}
	w.ref.Store(ref)
	return w
}

// Get returns the target with a new strong reference, or the zero value and
// false when the target is gone or being torn down.
func (w *Weak[T]) Get() (T, bool) {
	var zero T
	if w == nil {
		return zero, false
	}
	ref := w.ref.Load()
	if ref == nil || !ref.TryAcquire() {
		return zero, false
	}
	return w.target, true
}

// Expired reports whether promotion can no longer succeed.
func (w *Weak[T]) Expired() bool {
	if w == nil {
		return true
	}
	ref := w.ref.Load()
	return ref == nil || ref.Expired()
}

// References reports whether w observes the object controlled by ref.
func (w *Weak[T]) References(ref *Ref) bool {
	return w != nil && ref != nil && w.ref.Load() == ref
}

// Release drops the weak reference. Further calls are ignored.
func (w *Weak[T]) Release() {
	if w == nil {
		return
	}
	if ref := w.ref.Swap(nil); ref != nil {
		ref.ReleaseWeak()
	}
}
