// Package lifecycle provides the per-object state machine shared by managed
// objects and the rollback stack used while constructing them.
package lifecycle

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/TechDevGroup/obs-impl/internal/log"
)

// State is a managed object's lifecycle phase.
type State uint32

const (
	// Constructing: allocated, not yet visible to anyone else.
	Constructing State = iota
	// Live: registered and usable by any reference holder.
	Live
	// TearingDown: the last strong reference is gone; teardown is running.
	TearingDown
	// Freed: teardown finished or construction was rolled back.
	Freed
)

// ErrInvalidTransition is returned for a transition the state machine forbids.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// validTransitions defines the allowed state transitions.
// The key is the current state, the value is a set of valid target states.
var validTransitions = map[State]map[State]bool{
	Constructing: {
		Live:  true,
		Freed: true, // construction rolled back
	},
	Live: {
		TearingDown: true,
	},
	TearingDown: {
		Freed: true,
	},
	// Terminal state has no valid transitions
	Freed: {},
}

func (s State) String() string {
	switch s {
	case Constructing:
		return "constructing"
	case Live:
		return "live"
	case TearingDown:
		return "tearing_down"
	case Freed:
		return "freed"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

// IsValid returns true if this is a recognized State value.
func (s State) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// CanTransitionTo reports whether s may move to target.
func (s State) CanTransitionTo(target State) bool {
	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}
	return allowed[target]
}

// Machine holds one object's state. Transitions are compare-and-swap, so of
// two goroutines racing for the same transition exactly one succeeds.
type Machine struct {
	state atomic.Uint32
}

// Current returns the current state.
func (m *Machine) Current() State {
	return State(m.state.Load())
}

// Transition moves from the current state to target.
func (m *Machine) Transition(target State) error {
	for {
		cur := m.Current()
		if !cur.CanTransitionTo(target) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, target)
		}
		if m.state.CompareAndSwap(uint32(cur), uint32(target)) {
			return nil
		}
	}
}

// MustTransition is Transition for invariant paths; a forbidden transition
// means a reference-counting bug and panics.
func (m *Machine) MustTransition(target State) {
	if err := m.Transition(target); err != nil {
		panic(err)
	}
}

// Is reports whether the machine is in s.
func (m *Machine) Is(s State) bool {
	return m.Current() == s
}

type undoStep struct {
	name string
	undo func()
}

// Rollback records the undo action of each completed construction step.
// Unwind runs them in reverse order; Commit discards them once the object is
// fully constructed.
type Rollback struct {
	steps []undoStep
	done  bool
}

// Push records undo for the step just completed.
func (r *Rollback) Push(name string, undo func()) {
	r.steps = append(r.steps, undoStep{name: name, undo: undo})
}

// Len returns the number of recorded steps.
func (r *Rollback) Len() int { return len(r.steps) }

// Commit discards the recorded steps.
func (r *Rollback) Commit() {
	r.steps = nil
	r.done = true
}

// Unwind undoes every recorded step, last first. It is a no-op after Commit
// or a previous Unwind.
func (r *Rollback) Unwind() {
	if r.done {
		return
	}
	r.done = true
	for i := len(r.steps) - 1; i >= 0; i-- {
		s := r.steps[i]
		log.Debug(log.CatCore, "Rolling back construction step", "step", s.name)
		if s.undo != nil {
			s.undo()
		}
	}
	r.steps = nil
}
