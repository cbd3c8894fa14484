package types

import (
	"encoding/binary"
	"io"
	"strings"

	"github.com/cespare/xxhash/v2"

	"pagedb/pkg/primitives"
)

// StringField represents a fixed-width string field. On disk it is a 4-byte
// big-endian length prefix followed by StringLen payload bytes, the unused
// tail zero-filled.
type StringField struct {
	Value string
}

// NewStringField creates a StringField, truncating the value to StringLen if
// necessary.
func NewStringField(value string) *StringField {
	if len(value) > StringLen {
		value = value[:StringLen]
	}
	return &StringField{Value: value}
}

func (s *StringField) Serialize(w io.Writer) error {
	length := min(len(s.Value), StringLen)

	lengthBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(lengthBytes, uint32(length))
	if _, err := w.Write(lengthBytes); err != nil {
		return err
	}

	if _, err := w.Write([]byte(s.Value[:length])); err != nil {
		return err
	}

	padding := make([]byte, StringLen-length)
	_, err := w.Write(padding)
	return err
}

func (s *StringField) Compare(op primitives.Predicate, other Field) (bool, error) {
	otherField, ok := other.(*StringField)
	if !ok {
		return false, nil
	}

	cmp := strings.Compare(s.Value, otherField.Value)
	return compareOrdered(cmp, 0, op), nil
}

func (s *StringField) Type() Type {
	return StringType
}

func (s *StringField) String() string {
	return s.Value
}

func (s *StringField) Equals(other Field) bool {
	otherField, ok := other.(*StringField)
	if !ok {
		return false
	}
	return s.Value == otherField.Value
}

func (s *StringField) Hash() primitives.HashCode {
	return primitives.HashCode(xxhash.Sum64String(s.Value))
}
