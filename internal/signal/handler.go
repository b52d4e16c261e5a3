package signal

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/TechDevGroup/obs-impl/internal/log"
	"github.com/TechDevGroup/obs-impl/internal/pubsub"
)

var (
	// ErrUnknownSignal is returned when connecting to an undeclared signal.
	ErrUnknownSignal = errors.New("signal not declared")
	// ErrSchemaMismatch is returned when a name is re-declared with a different schema.
	ErrSchemaMismatch = errors.New("signal already declared with a different schema")
	// ErrHandlerClosed is returned when declaring or connecting on a closed handler.
	ErrHandlerClosed = errors.New("signal handler closed")
)

// Callback receives the parameters of one emission.
type Callback func(cd *Calldata)

// GlobalCallback receives every emission on a handler together with its name.
type GlobalCallback func(signal string, cd *Calldata)

// Emission is the async copy of an emission published on a mirror broker.
// Parameters are rendered to strings so the feed holds no object references.
type Emission struct {
	Source string
	Signal string
	Params map[string]string
}

// Subscription is a connected callback. Disconnect is safe to call from
// inside the callback itself.
type Subscription struct {
	h       *Handler
	signal  string
	cb      Callback
	global  GlobalCallback
	removed atomic.Bool
}

// Signal returns the signal name, or "" for a global subscription.
func (s *Subscription) Signal() string { return s.signal }

// Disconnect removes the subscription. Idempotent.
func (s *Subscription) Disconnect() {
	if s == nil || s.removed.Swap(true) {
		return
	}
	s.h.remove(s)
}

type slot struct {
	decl Decl
	subs []*Subscription
}

// Handler dispatches declared signals to subscribers.
//
// Emit runs every subscriber connected at the moment of the call, in
// connection order, on the calling goroutine. The subscriber list is
// snapshotted under the handler's lock and the lock is released before any
// callback runs, so callbacks may emit, connect or disconnect freely.
// A subscription disconnected mid-emission is skipped if it has not run yet.
type Handler struct {
	owner string

	mu      sync.Mutex
	signals map[string]*slot
	globals []*Subscription
	closed  bool

	mirror atomic.Pointer[pubsub.Broker[Emission]]
}

// NewHandler returns an empty handler. owner labels log lines and mirrored
// emissions.
func NewHandler(owner string) *Handler {
	return &Handler{
		owner:   owner,
		signals: make(map[string]*slot),
	}
}

// Owner returns the handler's label.
func (h *Handler) Owner() string { return h.owner }

// AddSignal declares one signal. Re-declaring the same schema is a no-op.
func (h *Handler) AddSignal(raw string) error {
	d, err := ParseDecl(raw)
	if err != nil {
		return err
	}
	return h.AddDecl(d)
}

// AddDecl declares a parsed signal.
func (h *Handler) AddDecl(d Decl) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHandlerClosed
	}
	if existing, ok := h.signals[d.Name]; ok {
		if existing.decl.Equal(d) {
			return nil
		}
		return fmt.Errorf("%w: %s (have %s)", ErrSchemaMismatch, d, existing.decl)
	}
	h.signals[d.Name] = &slot{decl: d}
	return nil
}

// AddSignals declares every prototype in decls. It stops at the first
// failure; signals declared before it stay declared.
func (h *Handler) AddSignals(decls ...string) error {
	for _, raw := range decls {
		if err := h.AddSignal(raw); err != nil {
			return err
		}
	}
	return nil
}

// Decl returns the declaration of name.
func (h *Handler) Decl(name string) (Decl, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.signals[name]
	if !ok {
		return Decl{}, false
	}
	return s.decl, true
}

// Connect subscribes cb to the named signal.
func (h *Handler) Connect(name string, cb Callback) (*Subscription, error) {
	if cb == nil {
		return nil, fmt.Errorf("callback cannot be nil")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHandlerClosed
	}
	s, ok := h.signals[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSignal, name)
	}
	sub := &Subscription{h: h, signal: name, cb: cb}
	s.subs = append(s.subs, sub)
	return sub, nil
}

// ConnectGlobal subscribes cb to every signal emitted on h.
func (h *Handler) ConnectGlobal(cb GlobalCallback) (*Subscription, error) {
	if cb == nil {
		return nil, fmt.Errorf("callback cannot be nil")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHandlerClosed
	}
	sub := &Subscription{h: h, global: cb}
	h.globals = append(h.globals, sub)
	return sub, nil
}

// SubscriberCount returns the number of connected subscribers for name.
func (h *Handler) SubscriberCount(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.signals[name]; ok {
		return len(s.subs)
	}
	return 0
}

// Mirror publishes every subsequent emission on b after the synchronous
// subscribers ran. A nil broker stops mirroring.
func (h *Handler) Mirror(b *pubsub.Broker[Emission]) {
	h.mirror.Store(b)
}

// Emit dispatches the named signal. Emitting an undeclared signal or emitting
// on a closed handler does nothing.
func (h *Handler) Emit(name string, cd *Calldata) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	s, ok := h.signals[name]
	if !ok {
		h.mu.Unlock()
		log.Debug(log.CatSignal, "Emit of undeclared signal", "owner", h.owner, "signal", name)
		return
	}
	subs := append([]*Subscription(nil), s.subs...)
	globals := append([]*Subscription(nil), h.globals...)
	h.mu.Unlock()

	if cd == nil {
		cd = NewHeap()
	}

	for _, sub := range subs {
		if sub.removed.Load() {
			continue
		}
		sub.cb(cd)
	}
	for _, sub := range globals {
		if sub.removed.Load() {
			continue
		}
		sub.global(name, cd)
	}

	if b := h.mirror.Load(); b != nil {
		params := make(map[string]string, cd.Len())
		cd.Each(func(k string, v Value) { params[k] = v.Render() })
		b.Publish(pubsub.SignalEvent, Emission{Source: h.owner, Signal: name, Params: params})
	}
}

// Close disconnects every subscriber. Later emissions are ignored. Idempotent.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for _, s := range h.signals {
		for _, sub := range s.subs {
			sub.removed.Store(true)
		}
		s.subs = nil
	}
	for _, sub := range h.globals {
		sub.removed.Store(true)
	}
	h.globals = nil
	h.mirror.Store(nil)
}

func (h *Handler) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub.global != nil {
		h.globals = without(h.globals, sub)
		return
	}
	if s, ok := h.signals[sub.signal]; ok {
		s.subs = without(s.subs, sub)
	}
}

// without returns subs minus target in a new slice; snapshots taken by
// in-flight emissions keep their own backing array.
func without(subs []*Subscription, target *Subscription) []*Subscription {
	out := make([]*Subscription, 0, len(subs))
	for _, s := range subs {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}
