// Package optional distinguishes "not supplied" from a supplied zero value in
// patch requests.
package optional

import (
	"bytes"
	"encoding/json"
)

// Value is either absent or holds a T. The zero Value is absent.
type Value[T any] struct {
	value T
	set   bool
}

func Some[T any](v T) Value[T] {
	return Value[T]{value: v, set: true}
}

func None[T any]() Value[T] {
	return Value[T]{}
}

// Get returns the value and whether it was supplied.
func (v Value[T]) Get() (T, bool) {
	return v.value, v.set
}

func (v Value[T]) IsSet() bool {
	return v.set
}

// OrElse returns the held value, or def when absent.
func (v Value[T]) OrElse(def T) T {
	if !v.set {
		return def
	}
	return v.value
}

// UnmarshalJSON marks the value as supplied whenever the key is present,
// including an explicit null.
func (v *Value[T]) UnmarshalJSON(data []byte) error {
	v.set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		var zero T
		v.value = zero
		return nil
	}
	return json.Unmarshal(data, &v.value)
}

func (v Value[T]) MarshalJSON() ([]byte, error) {
	if !v.set {
		return []byte("null"), nil
	}
	return json.Marshal(v.value)
}
