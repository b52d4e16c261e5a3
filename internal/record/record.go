// Package record is the flat key/value record stages serialize to.
//
// Values are scalars only. Getters never fail: a missing key or a value of
// an unexpected type yields the zero value, so records written by older or
// newer versions load without error.
package record

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"
)

// Record maps string keys to scalar values.
type Record map[string]any

// New returns an empty record.
func New() Record {
	return make(Record)
}

// SetString sets a string value.
func (r Record) SetString(key, v string) { r[key] = v }

// SetInt sets an integer value.
func (r Record) SetInt(key string, v int64) { r[key] = v }

// SetBool sets a boolean value.
func (r Record) SetBool(key string, v bool) { r[key] = v }

// Has reports whether key is present.
func (r Record) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// String returns the string at key, or "".
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	default:
		return ""
	}
}

// Int returns the integer at key, or 0. Numbers decoded from YAML or JSON
// arrive as int, float64 or json.Number and are all accepted.
func (r Record) Int(key string) int64 {
	switch v := r[key].(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint32:
		return int64(v)
	case uint64:
		if v > math.MaxInt64 {
			return 0
		}
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return n
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// Uint32 returns Int clamped to the uint32 range.
func (r Record) Uint32(key string) uint32 {
	n := r.Int(key)
	if n < 0 || n > math.MaxUint32 {
		return 0
	}
	return uint32(n)
}

// Bool returns the boolean at key, or false.
func (r Record) Bool(key string) bool {
	v, _ := r[key].(bool)
	return v
}

// Keys returns the keys in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Equal reports whether both records hold the same keys with values that
// read back the same as strings or integers.
func (r Record) Equal(o Record) bool {
	if len(r) != len(o) {
		return false
	}
	for k, v := range r {
		if !o.Has(k) {
			return false
		}
		switch v.(type) {
		case string:
			if r.String(k) != o.String(k) {
				return false
			}
		case bool:
			if r.Bool(k) != o.Bool(k) {
				return false
			}
		default:
			if r.Int(k) != o.Int(k) {
				return false
			}
		}
	}
	return true
}

// Marshal encodes the record as JSON.
func (r Record) Marshal() ([]byte, error) {
	return json.Marshal(map[string]any(r))
}

// Unmarshal decodes a JSON record. Numbers are kept as json.Number so
// 64-bit values survive.
func Unmarshal(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	r := New()
	if err := dec.Decode(&r); err != nil {
		return nil, err
	}
	return r, nil
}
