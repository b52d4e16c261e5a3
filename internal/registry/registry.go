// Package registry tracks every live instance of one managed-object category
// in an intrusive doubly-linked list guarded by the registry's own mutex.
//
// Members embed a Link and hand it to the registry, so link and unlink are
// O(1) splices. Callbacks never run under the registry mutex: Enumerate pins
// the live members with strong references while holding the lock, then
// visits them after releasing it. A callback may therefore destroy the member
// it was handed, or any other, without deadlocking or corrupting the walk.
package registry

import (
	"fmt"
	"sync"

	"github.com/TechDevGroup/obs-impl/internal/log"
)

// Member is the contract a registry needs from its entries.
type Member interface {
	Name() string
	// AddRef acquires a strong reference; false means teardown has begun.
	AddRef() bool
	Release()
	// Expired reports whether teardown has begun.
	Expired() bool
}

// Link is the intrusive list node embedded in every member.
type Link[T Member] struct {
	owner *Registry[T]
	prev  *Link[T]
	next  *Link[T]
	value T
}

// Linked reports whether the node is currently in a registry.
func (l *Link[T]) Linked() bool {
	return l.owner != nil
}

// Registry is safe for concurrent use.
type Registry[T Member] struct {
	category string

	mu   sync.Mutex
	head *Link[T]
	n    int
}

// New returns an empty registry; category labels log lines.
func New[T Member](category string) *Registry[T] {
	return &Registry[T]{category: category}
}

// Link inserts v at the head of the list.
func (r *Registry[T]) Link(l *Link[T], v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.linkLocked(l, v)
}

// LinkUnique inserts v unless a live member already carries v's name.
// Members being torn down no longer hold their name.
func (r *Registry[T]) LinkUnique(l *Link[T], v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := v.Name()
	for n := r.head; n != nil; n = n.next {
		if n.value.Name() == name && !n.value.Expired() {
			return false
		}
	}
	r.linkLocked(l, v)
	return true
}

func (r *Registry[T]) linkLocked(l *Link[T], v T) {
	if l.owner != nil {
		panic(fmt.Errorf("registry %s: node already linked", r.category))
	}
	l.owner = r
	l.value = v
	l.prev = nil
	l.next = r.head
	if r.head != nil {
		r.head.prev = l
	}
	r.head = l
	r.n++
}

// Unlink removes the node. It returns false if the node is not linked, which
// happens when Drain already took it.
func (r *Registry[T]) Unlink(l *Link[T]) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unlinkLocked(l)
}

func (r *Registry[T]) unlinkLocked(l *Link[T]) bool {
	if l.owner == nil {
		return false
	}
	if l.owner != r {
		panic(fmt.Errorf("registry %s: node belongs to registry %s", r.category, l.owner.category))
	}
	if l.prev != nil {
		l.prev.next = l.next
	} else {
		r.head = l.next
	}
	if l.next != nil {
		l.next.prev = l.prev
	}
	l.owner, l.prev, l.next = nil, nil, nil
	r.n--
	return true
}

// Len returns the number of linked members.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// pin takes a strong reference on every live member, head to tail.
// Members whose teardown has begun are skipped.
func (r *Registry[T]) pin() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	pinned := make([]T, 0, r.n)
	for n := r.head; n != nil; n = n.next {
		if n.value.AddRef() {
			pinned = append(pinned, n.value)
		}
	}
	return pinned
}

// Enumerate calls fn for every member live at the start of the call until fn
// returns false. Each member is visited at most once and is kept alive for
// the duration of its callback.
func (r *Registry[T]) Enumerate(fn func(T) bool) {
	if fn == nil {
		return
	}
	pinned := r.pin()
	for i, v := range pinned {
		cont := fn(v)
		v.Release()
		if !cont {
			for _, rest := range pinned[i+1:] {
				rest.Release()
			}
			return
		}
	}
}

// Find returns the first member matching pred with a new strong reference.
// The reference is taken under the registry mutex, so the result stays
// valid however the member is released elsewhere. The caller must Release it.
func (r *Registry[T]) Find(pred func(T) bool) (T, bool) {
	var zero T
	if pred == nil {
		return zero, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for n := r.head; n != nil; n = n.next {
		if pred(n.value) && n.value.AddRef() {
			return n.value, true
		}
	}
	return zero, false
}

// FindByName is Find on the member name. An empty name matches nothing.
func (r *Registry[T]) FindByName(name string) (T, bool) {
	if name == "" {
		var zero T
		return zero, false
	}
	return r.Find(func(v T) bool { return v.Name() == name })
}

// Drain unlinks members one at a time and hands each to destroy with the
// registry mutex released. Members linked while draining are drained too.
// It returns the number of members drained.
func (r *Registry[T]) Drain(destroy func(T)) int {
	drained := 0
	for {
		r.mu.Lock()
		l := r.head
		if l == nil {
			r.mu.Unlock()
			break
		}
		v := l.value
		r.unlinkLocked(l)
		r.mu.Unlock()

		drained++
		if destroy != nil {
			destroy(v)
		}
	}
	if drained > 0 {
		log.Debug(log.CatRegistry, "Registry drained", "category", r.category, "count", drained)
	}
	return drained
}
