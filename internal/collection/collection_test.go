package collection

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/TechDevGroup/obs-impl/internal/refcount"
)

type fakeChild struct {
	name      string
	ref       *refcount.Ref
	active    atomic.Bool
	failStart bool
	forced    atomic.Int32
	stops     atomic.Int32
}

func newChild(name string) *fakeChild {
	c := &fakeChild{name: name}
	c.ref = refcount.New(nil)
	return c
}

func (c *fakeChild) Name() string { return c.name }
func (c *fakeChild) Active() bool { return c.active.Load() }
func (c *fakeChild) AddRef() bool { return c.ref.TryAcquire() }
func (c *fakeChild) Release() { c.ref.Release() }
func (c *fakeChild) Refs() int64 { return c.ref.Strong() }

func (c *fakeChild) Start() bool {
	if c.failStart {
		return false
	}
	return c.active.CompareAndSwap(false, true)
}
func (c *fakeChild) Stop() {
	c.stops.Add(1)
	c.active.Store(false)
}

type forceChild struct{ *fakeChild }

func (c forceChild) ForceStop() {
	c.forced.Add(1)
	c.active.Store(false)
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) hook(kind string) func(*fakeChild) {
	return func(c *fakeChild) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, kind+":"+c.name)
	}
}

func (r *recorder) hooks() Hooks[*fakeChild] {
	return Hooks[*fakeChild]{
		Added:   r.hook("add"),
		Removed: r.hook("remove"),
		Started: r.hook("start"),
		Stopped: r.hook("stop"),
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestCollection_AddTwiceRejected(t *testing.T) {
	rec := &recorder{}
	coll := New(rec.hooks())
	c1 := newChild("C1")

	require.True(t, coll.Add(c1))
	require.False(t, coll.Add(c1))
	require.Equal(t, 1, coll.Count())
	require.Equal(t, int64(2), c1.Refs(), "collection holds exactly one reference")
	require.Equal(t, []string{"add:C1"}, rec.snapshot())
}

func TestCollection_AddNilAndDyingRejected(t *testing.T) {
	coll := New(Hooks[*fakeChild]{})
	require.False(t, coll.Add(nil))

	dying := newChild("gone")
	dying.Release()
	require.False(t, coll.Add(dying))
	require.Equal(t, 0, coll.Count())
}

func TestCollection_RemoveStopsAndReleases(t *testing.T) {
	rec := &recorder{}
	coll := New(rec.hooks())
	c1 := newChild("C1")
	require.True(t, coll.Add(c1))
	require.True(t, c1.Start())

	var activeAtRemove bool
	coll.hooks.Removed = func(c *fakeChild) { activeAtRemove = c.Active() }

	require.True(t, coll.Remove(c1))
	require.Equal(t, 0, coll.Count())
	require.False(t, c1.Active())
	require.False(t, activeAtRemove, "child is stopped before child-removed fires")
	require.Equal(t, int64(1), c1.Refs(), "collection reference released")

	require.False(t, coll.Remove(c1))
	require.Equal(t, 0, coll.Count())
}

func TestCollection_RemovePreservesOrder(t *testing.T) {
	coll := New(Hooks[*fakeChild]{})
	children := []*fakeChild{newChild("a"), newChild("b"), newChild("c"), newChild("d")}
	for _, c := range children {
		require.True(t, coll.Add(c))
	}

	require.True(t, coll.Remove(children[1]))

	var names []string
	for _, c := range coll.Snapshot() {
		names = append(names, c.Name())
	}
	require.Equal(t, []string{"a", "c", "d"}, names)

	got, ok := coll.At(2)
	require.True(t, ok)
	require.Same(t, children[3], got)
	_, ok = coll.At(3)
	require.False(t, ok)
	_, ok = coll.At(-1)
	require.False(t, ok)
}

func TestCollection_SnapshotIsStable(t *testing.T) {
	coll := New(Hooks[*fakeChild]{})
	a, b := newChild("a"), newChild("b")
	require.True(t, coll.Add(a))
	snap := coll.Snapshot()

	require.True(t, coll.Add(b))
	require.True(t, coll.Remove(a))

	require.Len(t, snap, 1)
	require.Same(t, a, snap[0])
}

func TestCollection_StartAllOnlyTransitions(t *testing.T) {
	rec := &recorder{}
	coll := New(rec.hooks())
	running, idle, broken := newChild("running"), newChild("idle"), newChild("broken")
	broken.failStart = true
	for _, c := range []*fakeChild{running, idle, broken} {
		require.True(t, coll.Add(c))
	}
	require.True(t, running.Start())

	require.Equal(t, 1, coll.StartAll())
	require.True(t, idle.Active())
	require.True(t, coll.AnyActive())

	require.Equal(t, 2, coll.StopAll(false))
	require.False(t, coll.AnyActive())
	require.Equal(t, 0, coll.StopAll(false))

	require.Equal(t, []string{
		"add:running", "add:idle", "add:broken",
		"start:idle",
		"stop:running", "stop:idle",
	}, rec.snapshot())
}

func TestCollection_StartStopAt(t *testing.T) {
	rec := &recorder{}
	coll := New(rec.hooks())
	c := newChild("C1")
	require.True(t, coll.Add(c))

	require.True(t, coll.StartAt(0))
	require.False(t, coll.StartAt(0), "already active")
	require.False(t, coll.StartAt(5))
	require.True(t, coll.StopAt(0, false))
	require.False(t, coll.StopAt(5, false))

	require.Equal(t, []string{"add:C1", "start:C1", "stop:C1"}, rec.snapshot())
}

func TestCollection_ForceStop(t *testing.T) {
	coll := New(Hooks[forceChild]{})
	c := forceChild{newChild("F")}
	require.True(t, coll.Add(c))

	require.True(t, coll.StartAt(0))
	require.True(t, coll.StopAt(0, true))
	require.Equal(t, int32(1), c.forced.Load())
	require.Equal(t, int32(0), c.stops.Load())

	require.True(t, coll.StartAt(0))
	require.Equal(t, 1, coll.StopAll(false))
	require.Equal(t, int32(1), c.forced.Load())
	require.Equal(t, int32(1), c.stops.Load())
}

func TestCollection_DrainReleasesWithoutHooks(t *testing.T) {
	rec := &recorder{}
	coll := New(rec.hooks())
	a, b := newChild("a"), newChild("b")
	require.True(t, coll.Add(a))
	require.True(t, coll.Add(b))
	require.True(t, a.Start())

	require.Equal(t, 2, coll.Drain())
	require.Equal(t, 0, coll.Count())
	require.False(t, a.Active())
	require.Equal(t, int64(1), a.Refs())
	require.Equal(t, int64(1), b.Refs())
	require.Equal(t, []string{"add:a", "add:b"}, rec.snapshot())
}

func TestCollection_HookMayReenter(t *testing.T) {
	coll := New(Hooks[*fakeChild]{})
	c := newChild("C1")
	coll.hooks.Added = func(child *fakeChild) {
		// A subscriber calling back into the collection must not deadlock.
		require.Equal(t, 1, coll.Count())
		require.True(t, coll.Remove(child))
	}

	require.True(t, coll.Add(c))
	require.Equal(t, 0, coll.Count())
	require.Equal(t, int64(1), c.Refs())
}

func TestCollection_ConcurrentAddSameChild(t *testing.T) {
	for round := 0; round < 100; round++ {
		coll := New(Hooks[*fakeChild]{})
		c := newChild("shared")

		var wins atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if coll.Add(c) {
					wins.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		require.Equal(t, int32(1), wins.Load(), "round %d", round)
		require.Equal(t, 1, coll.Count())
		require.Equal(t, int64(2), c.Refs())
	}
}

func TestCollection_ConcurrentMutationAndReads(t *testing.T) {
	coll := New(Hooks[*fakeChild]{})
	children := make([]*fakeChild, 16)
	for i := range children {
		children[i] = newChild(fmt.Sprintf("c%d", i))
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, c := range children {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 50; j++ {
				coll.Add(c)
				coll.StartAll()
				coll.Remove(c)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		for j := 0; j < 500; j++ {
			n := coll.Count()
			for i := 0; i < n; i++ {
				coll.At(i)
			}
			coll.AnyActive()
		}
	}()
	close(start)
	wg.Wait()

	require.Equal(t, 0, coll.Count())
	for _, c := range children {
		require.Equal(t, int64(1), c.Refs(), c.Name())
	}
}

// TestCollection_Model compares Add/Remove sequences against an ordered slice.
func TestCollection_Model(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		pool := make([]*fakeChild, 6)
		for i := range pool {
			pool[i] = newChild(fmt.Sprintf("c%d", i))
		}
		coll := New(Hooks[*fakeChild]{})
		var model []*fakeChild

		steps := rapid.IntRange(1, 50).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			c := pool[rapid.IntRange(0, len(pool)-1).Draw(rt, "child")]
			idx := -1
			for j, m := range model {
				if m == c {
					idx = j
				}
			}
			if rapid.Bool().Draw(rt, "add") {
				if got := coll.Add(c); got != (idx < 0) {
					rt.Fatalf("Add(%s)=%v, present=%v", c.name, got, idx >= 0)
				}
				if idx < 0 {
					model = append(model, c)
				}
			} else {
				if got := coll.Remove(c); got != (idx >= 0) {
					rt.Fatalf("Remove(%s)=%v, present=%v", c.name, got, idx >= 0)
				}
				if idx >= 0 {
					model = append(model[:idx], model[idx+1:]...)
				}
			}

			snap := coll.Snapshot()
			if len(snap) != len(model) {
				rt.Fatalf("count=%d want %d", len(snap), len(model))
			}
			for j := range model {
				if snap[j] != model[j] {
					rt.Fatalf("order mismatch at %d", j)
				}
			}
		}
		for _, c := range pool {
			want := int64(1)
			if coll.Contains(c) {
				want = 2
			}
			if c.Refs() != want {
				rt.Fatalf("%s refs=%d want %d", c.name, c.Refs(), want)
			}
		}
	})
}
