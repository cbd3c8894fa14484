package types

import (
	"encoding/binary"
	"io"

	"pagedb/pkg/dberr"
)

// ParseField reads one field of the given type from the stream. The stream
// must be positioned at the start of the field's fixed-size encoding; exactly
// Type.Size() bytes are consumed.
func ParseField(r io.Reader, fieldType Type) (Field, error) {
	switch fieldType {
	case IntType:
		buf := make([]byte, 4)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, dberr.Wrap(dberr.IoError, err, "failed to read int field")
		}
		return NewIntField(int32(binary.BigEndian.Uint32(buf))), nil

	case StringType:
		lengthBytes := make([]byte, 4)
		if _, err := io.ReadFull(r, lengthBytes); err != nil {
			return nil, dberr.Wrap(dberr.IoError, err, "failed to read string length")
		}
		length := binary.BigEndian.Uint32(lengthBytes)
		if length > StringLen {
			return nil, dberr.New(dberr.IllegalArgument, "string length %d exceeds maximum %d", length, StringLen)
		}

		payload := make([]byte, StringLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, dberr.Wrap(dberr.IoError, err, "failed to read string payload")
		}
		return NewStringField(string(payload[:length])), nil

	default:
		return nil, dberr.New(dberr.IllegalArgument, "unknown field type %v", fieldType)
	}
}
