package signal

import (
	"errors"
	"fmt"
	"strconv"
)

// FixedCapacity is the number of parameters a fixed Calldata can hold.
const FixedCapacity = 4

var (
	// ErrFixedString is raised when a string is stored in a fixed record.
	ErrFixedString = errors.New("signal: fixed calldata cannot carry strings")
	// ErrFixedFull is raised when a fixed record runs out of slots.
	ErrFixedFull = errors.New("signal: fixed calldata is full")
)

// Value is a tagged parameter value.
type Value struct {
	Type ParamType
	ptr  any
	i    int64
	f    float64
	b    bool
	s    string
}

// Render formats the value for logs and the async signal feed. Pointers that
// carry a name render as that name.
func (v Value) Render() string {
	switch v.Type {
	case TypePtr:
		switch p := v.ptr.(type) {
		case nil:
			return "<nil>"
		case interface{ Name() string }:
			return p.Name()
		case fmt.Stringer:
			return p.String()
		default:
			return fmt.Sprintf("%T", p)
		}
	case TypeInt:
		return strconv.FormatInt(v.i, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypeBool:
		return strconv.FormatBool(v.b)
	case TypeString:
		return v.s
	default:
		return ""
	}
}

type entry struct {
	name string
	val  Value
}

// Calldata is the parameter record passed to subscribers.
//
// A fixed record keeps up to FixedCapacity pointer or primitive parameters
// inline and is meant to live on the emitter's stack. A heap record grows as
// needed and is required for string parameters. Storing a string in, or
// overflowing, a fixed record is a programming error and panics.
type Calldata struct {
	fixed  bool
	n      int
	inline [FixedCapacity]entry
	heap   []entry
}

// NewFixed returns an empty fixed-capacity record.
func NewFixed() Calldata {
	return Calldata{fixed: true}
}

// NewHeap returns an empty growable record.
func NewHeap() *Calldata {
	return &Calldata{}
}

// Fixed reports whether the record is fixed-capacity.
func (c *Calldata) Fixed() bool { return c.fixed }

// Len returns the number of parameters set.
func (c *Calldata) Len() int {
	if c.fixed {
		return c.n
	}
	return len(c.heap)
}

func (c *Calldata) entries() []entry {
	if c.fixed {
		return c.inline[:c.n]
	}
	return c.heap
}

func (c *Calldata) set(name string, v Value) {
	entries := c.entries()
	for i := range entries {
		if entries[i].name == name {
			entries[i].val = v
			return
		}
	}
	if !c.fixed {
		c.heap = append(c.heap, entry{name: name, val: v})
		return
	}
	if v.Type == TypeString {
		panic(fmt.Errorf("%w (param %q)", ErrFixedString, name))
	}
	if c.n == FixedCapacity {
		panic(fmt.Errorf("%w (param %q)", ErrFixedFull, name))
	}
	c.inline[c.n] = entry{name: name, val: v}
	c.n++
}

func (c *Calldata) get(name string, typ ParamType) (Value, bool) {
	for _, e := range c.entries() {
		if e.name == name {
			if e.val.Type != typ {
				return Value{}, false
			}
			return e.val, true
		}
	}
	return Value{}, false
}

func (c *Calldata) SetPtr(name string, p any) { c.set(name, Value{Type: TypePtr, ptr: p}) }

func (c *Calldata) SetInt(name string, i int64) { c.set(name, Value{Type: TypeInt, i: i}) }

func (c *Calldata) SetFloat(name string, f float64) { c.set(name, Value{Type: TypeFloat, f: f}) }

func (c *Calldata) SetBool(name string, b bool) { c.set(name, Value{Type: TypeBool, b: b}) }

func (c *Calldata) SetString(name string, s string) { c.set(name, Value{Type: TypeString, s: s}) }

func (c *Calldata) Ptr(name string) (any, bool) {
	v, ok := c.get(name, TypePtr)
	return v.ptr, ok
}

func (c *Calldata) Int(name string) (int64, bool) {
	v, ok := c.get(name, TypeInt)
	return v.i, ok
}

func (c *Calldata) Float(name string) (float64, bool) {
	v, ok := c.get(name, TypeFloat)
	return v.f, ok
}

func (c *Calldata) Bool(name string) (bool, bool) {
	v, ok := c.get(name, TypeBool)
	return v.b, ok
}

func (c *Calldata) String(name string) (string, bool) {
	v, ok := c.get(name, TypeString)
	return v.s, ok
}

// Each calls fn for every parameter in the order it was first set.
func (c *Calldata) Each(fn func(name string, v Value)) {
	for _, e := range c.entries() {
		fn(e.name, e.val)
	}
}

// PtrAs returns the pointer parameter name asserted to T.
func PtrAs[T any](c *Calldata, name string) (T, bool) {
	var zero T
	if c == nil {
		return zero, false
	}
	p, ok := c.Ptr(name)
	if !ok {
		return zero, false
	}
	t, ok := p.(T)
	return t, ok
}
