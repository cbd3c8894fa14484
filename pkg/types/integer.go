package types

import (
	"encoding/binary"
	"io"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"pagedb/pkg/primitives"
)

// IntField represents a 32-bit signed integer field.
type IntField struct {
	Value int32
}

func NewIntField(value int32) *IntField {
	return &IntField{Value: value}
}

func (f *IntField) Serialize(w io.Writer) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(f.Value))
	_, err := w.Write(buf)
	return err
}

func (f *IntField) Compare(op primitives.Predicate, other Field) (bool, error) {
	otherField, ok := other.(*IntField)
	if !ok {
		return false, nil
	}
	return compareOrdered(f.Value, otherField.Value, op), nil
}

func (f *IntField) Type() Type {
	return IntType
}

func (f *IntField) String() string {
	return strconv.FormatInt(int64(f.Value), 10)
}

func (f *IntField) Equals(other Field) bool {
	otherField, ok := other.(*IntField)
	if !ok {
		return false
	}
	return f.Value == otherField.Value
}

func (f *IntField) Hash() primitives.HashCode {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(f.Value))
	return primitives.HashCode(xxhash.Sum64(buf))
}
