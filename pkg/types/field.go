package types

import (
	"io"

	"pagedb/pkg/primitives"
)

// Field is a single typed value inside a tuple.
type Field interface {
	// Serialize writes the fixed-size binary representation of the field.
	Serialize(w io.Writer) error

	// Compare applies op between this field and other.
	Compare(op primitives.Predicate, other Field) (bool, error)

	// Type returns the type tag of this field.
	Type() Type

	String() string

	// Equals reports value equality with another field.
	Equals(other Field) bool

	// Hash returns a stable hash of the field value.
	Hash() primitives.HashCode
}
