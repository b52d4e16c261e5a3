// Package collection holds an object's owned children: an insertion-ordered
// set of strong references guarded by the owner's collection mutex.
//
// Mutations copy the backing slice and publish it atomically, so Count, At
// and Snapshot never block and a slice handed out is never mutated. Hooks
// (the owner's child signals) always run after the mutex is released.
package collection

import (
	"sync"
	"sync/atomic"
)

// Child is the contract a collection needs from its elements.
type Child interface {
	comparable
	Name() string
	Active() bool
	Start() bool
	Stop()
	// AddRef acquires a strong reference; false means the child is being
	// destroyed.
	AddRef() bool
	Release()
}

// ForceStopper is implemented by children that can abandon a graceful stop.
type ForceStopper interface {
	ForceStop()
}

// Hooks are invoked outside the mutex, once per child actually affected.
type Hooks[C Child] struct {
	Added   func(C)
	Removed func(C)
	Started func(C)
	Stopped func(C)
}

// Collection is safe for concurrent use.
type Collection[C Child] struct {
	mu    sync.Mutex
	items atomic.Pointer[[]C]
	hooks Hooks[C]
}

// New returns an empty collection.
func New[C Child](hooks Hooks[C]) *Collection[C] {
	c := &Collection[C]{hooks: hooks}
	empty := []C{}
	c.items.Store(&empty)
	return c
}

func (c *Collection[C]) load() []C {
	return *c.items.Load()
}

func (c *Collection[C]) indexOf(items []C, child C) int {
	for i, it := range items {
		if it == child {
			return i
		}
	}
	return -1
}

// Add stores a new strong reference to child. It returns false if child is
// the zero value, already present, or already being destroyed.
func (c *Collection[C]) Add(child C) bool {
	var zero C
	if child == zero {
		return false
	}

	c.mu.Lock()
	items := c.load()
	if c.indexOf(items, child) >= 0 {
		c.mu.Unlock()
		return false
	}
	if !child.AddRef() {
		c.mu.Unlock()
		return false
	}
	next := make([]C, len(items), len(items)+1)
	copy(next, items)
	next = append(next, child)
	c.items.Store(&next)
	c.mu.Unlock()

	if c.hooks.Added != nil {
		c.hooks.Added(child)
	}
	return true
}

// Remove erases child, preserving the order of the rest. An active child is
// stopped first. The collection's reference is released after the Removed
// hook so subscribers can still query the child.
func (c *Collection[C]) Remove(child C) bool {
	c.mu.Lock()
	items := c.load()
	idx := c.indexOf(items, child)
	if idx < 0 {
		c.mu.Unlock()
		return false
	}
	next := make([]C, 0, len(items)-1)
	next = append(next, items[:idx]...)
	next = append(next, items[idx+1:]...)
	c.items.Store(&next)
	c.mu.Unlock()

	if child.Active() {
		child.Stop()
	}
	if c.hooks.Removed != nil {
		c.hooks.Removed(child)
	}
	child.Release()
	return true
}

// Count returns the number of children at the time of the call.
func (c *Collection[C]) Count() int {
	return len(c.load())
}

// At returns the child at idx without taking a reference. The result may be
// stale by the time the caller acts on it.
func (c *Collection[C]) At(idx int) (C, bool) {
	items := c.load()
	if idx < 0 || idx >= len(items) {
		var zero C
		return zero, false
	}
	return items[idx], true
}

// Snapshot returns the current children in insertion order. The slice must
// not be modified.
func (c *Collection[C]) Snapshot() []C {
	return c.load()
}

// Contains reports whether child is currently held.
func (c *Collection[C]) Contains(child C) bool {
	return c.indexOf(c.load(), child) >= 0
}

// StartAt starts the child at idx and fires Started on success.
func (c *Collection[C]) StartAt(idx int) bool {
	child, ok := c.At(idx)
	if !ok {
		return false
	}
	if !child.Start() {
		return false
	}
	if c.hooks.Started != nil {
		c.hooks.Started(child)
	}
	return true
}

// StopAt stops the child at idx and fires Stopped. With force set, children
// implementing ForceStopper skip their graceful stop.
func (c *Collection[C]) StopAt(idx int, force bool) bool {
	child, ok := c.At(idx)
	if !ok {
		return false
	}
	stop(child, force)
	if c.hooks.Stopped != nil {
		c.hooks.Stopped(child)
	}
	return true
}

// StartAll starts every inactive child while holding the mutex for the scan,
// then fires Started for each child that actually started. It returns that
// number.
func (c *Collection[C]) StartAll() int {
	c.mu.Lock()
	var started []C
	for _, child := range c.load() {
		if !child.Active() && child.Start() {
			started = append(started, child)
		}
	}
	c.mu.Unlock()

	if c.hooks.Started != nil {
		for _, child := range started {
			c.hooks.Started(child)
		}
	}
	return len(started)
}

// StopAll stops every active child under the mutex, then fires Stopped for
// each. It returns the number stopped.
func (c *Collection[C]) StopAll(force bool) int {
	c.mu.Lock()
	var stopped []C
	for _, child := range c.load() {
		if child.Active() {
			stop(child, force)
			stopped = append(stopped, child)
		}
	}
	c.mu.Unlock()

	if c.hooks.Stopped != nil {
		for _, child := range stopped {
			c.hooks.Stopped(child)
		}
	}
	return len(stopped)
}

// AnyActive reports whether any child is active.
func (c *Collection[C]) AnyActive() bool {
	for _, child := range c.load() {
		if child.Active() {
			return true
		}
	}
	return false
}

// Drain empties the collection for teardown: every child is stopped if
// active and its reference released. No hooks fire. It returns the number of
// children released.
func (c *Collection[C]) Drain() int {
	c.mu.Lock()
	items := c.load()
	empty := []C{}
	c.items.Store(&empty)
	c.mu.Unlock()

	for _, child := range items {
		if child.Active() {
			child.Stop()
		}
		child.Release()
	}
	return len(items)
}

func stop[C Child](child C, force bool) {
	if force {
		if fs, ok := any(child).(ForceStopper); ok {
			fs.ForceStop()
			return
		}
	}
	child.Stop()
}
