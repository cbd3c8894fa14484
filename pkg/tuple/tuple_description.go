package tuple

import (
	"strings"

	"pagedb/pkg/dberr"
	"pagedb/pkg/types"
)

// TupleDescription describes the schema of a tuple: the ordered field types
// and optional field names. Two descriptors are interchangeable when their
// type sequences match; names are cosmetic.
type TupleDescription struct {
	// Types contains the data type of each field in order.
	Types []types.Type
	// FieldNames contains the name of each field (optional, may be nil).
	FieldNames []string
}

// NewTupleDesc creates a TupleDescription given field types and optional
// field names.
//
// Returns an error if fieldTypes is empty or fieldNames length doesn't match.
func NewTupleDesc(fieldTypes []types.Type, fieldNames []string) (*TupleDescription, error) {
	if len(fieldTypes) < 1 {
		return nil, dberr.New(dberr.IllegalArgument, "must provide at least one field type")
	}

	typesCopy := make([]types.Type, len(fieldTypes))
	copy(typesCopy, fieldTypes)

	var namesCopy []string
	if fieldNames != nil {
		if len(fieldNames) != len(fieldTypes) {
			return nil, dberr.New(dberr.IllegalArgument,
				"field names length (%d) must match field types length (%d)",
				len(fieldNames), len(fieldTypes))
		}
		namesCopy = make([]string, len(fieldNames))
		copy(namesCopy, fieldNames)
	}

	return &TupleDescription{
		Types:      typesCopy,
		FieldNames: namesCopy,
	}, nil
}

// NumFields returns the number of fields in this descriptor.
func (td *TupleDescription) NumFields() int {
	return len(td.Types)
}

// TypeAtIndex returns the type of the ith field.
func (td *TupleDescription) TypeAtIndex(i int) (types.Type, error) {
	if i < 0 || i >= len(td.Types) {
		return 0, dberr.New(dberr.IllegalArgument, "field index %d out of bounds [0, %d)", i, len(td.Types))
	}
	return td.Types[i], nil
}

// GetSize returns the size in bytes of tuples conforming to this descriptor:
// the sum of all field sizes.
func (td *TupleDescription) GetSize() uint32 {
	var size uint32
	for _, fieldType := range td.Types {
		size += fieldType.Size()
	}
	return size
}

// Equals checks whether two descriptors have the same field types in the
// same order. Field names are not compared.
func (td *TupleDescription) Equals(other *TupleDescription) bool {
	if other == nil {
		return false
	}
	if len(td.Types) != len(other.Types) {
		return false
	}
	for i, fieldType := range td.Types {
		if fieldType != other.Types[i] {
			return false
		}
	}
	return true
}

// String returns "Type1(name1),Type2(name2),..." with "null" for missing
// names.
func (td *TupleDescription) String() string {
	var parts []string
	for i, fieldType := range td.Types {
		fieldName := "null"
		if td.FieldNames != nil && i < len(td.FieldNames) && td.FieldNames[i] != "" {
			fieldName = td.FieldNames[i]
		}
		parts = append(parts, fieldType.String()+"("+fieldName+")")
	}
	return strings.Join(parts, ",")
}
