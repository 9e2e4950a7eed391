package mirror

import (
	"bytes"
	"encoding/json"
)

// Optional distinguishes a field that was not sent from one sent as empty.
//
// Decoding from JSON marks the value as set whenever the key is present,
// including an explicit null, which decodes to the zero value of T.
type Optional[T any] struct {
	value T
	set   bool
}

// Some returns a set Optional holding value.
func Some[T any](value T) Optional[T] {
	return Optional[T]{value: value, set: true}
}

// None returns an unset Optional.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// IsSet reports whether the field was present in the payload.
func (o Optional[T]) IsSet() bool {
	return o.set
}

// Get returns the value and whether it was set.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.set
}

// Value returns the held value, or the zero value when unset.
func (o Optional[T]) Value() T {
	return o.value
}

// Or returns the held value when set, otherwise fallback.
func (o Optional[T]) Or(fallback T) T {
	if o.set {
		return o.value
	}

	return fallback
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		var zero T
		o.value = zero
		return nil
	}

	return json.Unmarshal(data, &o.value)
}

// MarshalJSON implements json.Marshaler. Unset values encode as null.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}

	return json.Marshal(o.value)
}
