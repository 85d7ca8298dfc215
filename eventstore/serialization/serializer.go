package serialization

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"
)

// SerializedType identifies the logical type and revision of a serialized
// payload. The revision distinguishes structural versions of the same
// logical type; upcasters migrate between revisions.
type SerializedType struct {
	Name     string
	Revision string
}

func (t SerializedType) String() string {
	if t.Revision == "" {
		return t.Name
	}
	return fmt.Sprintf("%s (revision %s)", t.Name, t.Revision)
}

// SerializedObject carries a serialized payload together with the type
// information needed to deserialize it again.
type SerializedObject struct {
	Type SerializedType
	Data []byte
}

// Serializer converts payloads and metadata to and from their persisted form.
type Serializer interface {
	// Serialize turns a value into its persisted form.
	Serialize(v interface{}) (SerializedObject, error)

	// Deserialize reconstructs the value a serialized object represents.
	Deserialize(obj SerializedObject) (interface{}, error)

	// ClassForType resolves the Go type a serialized type deserializes
	// into. Returns an UnknownSerializedTypeError when the type name was
	// never registered.
	ClassForType(t SerializedType) (reflect.Type, error)

	// TypeForValue reports the serialized type a value would be stored as.
	TypeForValue(v interface{}) (SerializedType, error)
}

// UnknownSerializedTypeError signals that a stored payload declares a type
// this process cannot resolve.
type UnknownSerializedTypeError struct {
	Type SerializedType
}

func (e *UnknownSerializedTypeError) Error() string {
	return fmt.Sprintf("unknown serialized type %s", e.Type)
}

// IsUnknownSerializedType reports whether err is, or wraps, an
// UnknownSerializedTypeError.
func IsUnknownSerializedType(err error) bool {
	var target *UnknownSerializedTypeError
	return errors.As(err, &target)
}
