package tuple

import (
	"io"
	"strings"

	"pagedb/pkg/dberr"
	"pagedb/pkg/types"
)

// Tuple represents a row of data: a sequence of fields conforming to a
// TupleDescription, plus the RecordID of its on-disk home (nil while the
// tuple is not stored on any page).
type Tuple struct {
	TupleDesc *TupleDescription
	fields    []types.Field
	RecordID  *RecordID
}

// NewTuple creates a tuple with the given schema and no field values set.
func NewTuple(td *TupleDescription) *Tuple {
	return &Tuple{
		TupleDesc: td,
		fields:    make([]types.Field, td.NumFields()),
	}
}

// SetField assigns the ith field; the field's type must match the schema.
func (t *Tuple) SetField(i int, field types.Field) error {
	if i < 0 || i >= len(t.fields) {
		return dberr.New(dberr.IllegalArgument, "field index %d out of bounds [0, %d)", i, len(t.fields))
	}

	expectedType, _ := t.TupleDesc.TypeAtIndex(i)
	if field.Type() != expectedType {
		return dberr.New(dberr.DbException, "field type mismatch: expected %v, got %v",
			expectedType, field.Type())
	}

	t.fields[i] = field
	return nil
}

// GetField returns the value of the ith field.
func (t *Tuple) GetField(i int) (types.Field, error) {
	if i < 0 || i >= len(t.fields) {
		return nil, dberr.New(dberr.IllegalArgument, "field index %d out of bounds [0, %d)", i, len(t.fields))
	}
	return t.fields[i], nil
}

// Serialize writes all fields in order. The output occupies exactly
// TupleDesc.GetSize() bytes.
func (t *Tuple) Serialize(w io.Writer) error {
	for i, field := range t.fields {
		if field == nil {
			return dberr.New(dberr.DbException, "cannot serialize tuple with unset field %d", i)
		}
		if err := field.Serialize(w); err != nil {
			return dberr.Wrap(dberr.IoError, err, "failed to serialize field")
		}
	}
	return nil
}

// Equals reports field-by-field equality under matching descriptors. Record
// ids do not participate: two copies of the same logical row are equal.
func (t *Tuple) Equals(other *Tuple) bool {
	if other == nil || !t.TupleDesc.Equals(other.TupleDesc) {
		return false
	}
	for i, field := range t.fields {
		if field == nil || other.fields[i] == nil {
			if field != other.fields[i] {
				return false
			}
			continue
		}
		if !field.Equals(other.fields[i]) {
			return false
		}
	}
	return true
}

// String returns tab-separated field values.
func (t *Tuple) String() string {
	var parts []string
	for _, field := range t.fields {
		if field != nil {
			parts = append(parts, field.String())
		} else {
			parts = append(parts, "null")
		}
	}
	return strings.Join(parts, "\t")
}

// ReadTuple deserializes one tuple from the stream according to td,
// consuming exactly td.GetSize() bytes.
func ReadTuple(r io.Reader, td *TupleDescription) (*Tuple, error) {
	t := NewTuple(td)
	for j := 0; j < td.NumFields(); j++ {
		fieldType, err := td.TypeAtIndex(j)
		if err != nil {
			return nil, err
		}

		field, err := types.ParseField(r, fieldType)
		if err != nil {
			return nil, err
		}

		if err := t.SetField(j, field); err != nil {
			return nil, err
		}
	}
	return t, nil
}
