package tuple

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagedb/pkg/dberr"
	"pagedb/pkg/types"
)

func twoIntDesc(t *testing.T) *TupleDescription {
	t.Helper()
	td, err := NewTupleDesc([]types.Type{types.IntType, types.IntType}, nil)
	require.NoError(t, err)
	return td
}

func TestNewTupleDesc(t *testing.T) {
	_, err := NewTupleDesc(nil, nil)
	assert.Error(t, err, "empty type list must be rejected")

	_, err = NewTupleDesc([]types.Type{types.IntType}, []string{"a", "b"})
	assert.Error(t, err, "name/type length mismatch must be rejected")

	td, err := NewTupleDesc([]types.Type{types.IntType, types.StringType}, []string{"id", "name"})
	require.NoError(t, err)
	assert.Equal(t, 2, td.NumFields())
	assert.Equal(t, uint32(4+4+types.StringLen), td.GetSize())
}

func TestTupleDescEquals(t *testing.T) {
	a := twoIntDesc(t)
	b := twoIntDesc(t)
	named, err := NewTupleDesc([]types.Type{types.IntType, types.IntType}, []string{"x", "y"})
	require.NoError(t, err)
	mixed, err := NewTupleDesc([]types.Type{types.IntType, types.StringType}, nil)
	require.NoError(t, err)

	assert.True(t, a.Equals(b))
	assert.True(t, a.Equals(named), "field names must not affect equality")
	assert.False(t, a.Equals(mixed))
	assert.False(t, a.Equals(nil))
}

func TestTupleSetGetField(t *testing.T) {
	td := twoIntDesc(t)
	tup := NewTuple(td)

	require.NoError(t, tup.SetField(0, types.NewIntField(1)))
	err := tup.SetField(1, types.NewStringField("nope"))
	assert.True(t, dberr.Is(err, dberr.DbException), "type mismatch must be a DbException")

	err = tup.SetField(5, types.NewIntField(1))
	assert.True(t, dberr.Is(err, dberr.IllegalArgument))

	f, err := tup.GetField(0)
	require.NoError(t, err)
	assert.True(t, f.Equals(types.NewIntField(1)))
}

func TestTupleSerializeReadRoundTrip(t *testing.T) {
	td, err := NewTupleDesc([]types.Type{types.IntType, types.StringType}, nil)
	require.NoError(t, err)

	tup := NewTuple(td)
	require.NoError(t, tup.SetField(0, types.NewIntField(42)))
	require.NoError(t, tup.SetField(1, types.NewStringField("answer")))

	var buf bytes.Buffer
	require.NoError(t, tup.Serialize(&buf))
	assert.Equal(t, int(td.GetSize()), buf.Len())

	decoded, err := ReadTuple(&buf, td)
	require.NoError(t, err)
	assert.True(t, tup.Equals(decoded))
}

func TestTupleEqualityIgnoresRecordID(t *testing.T) {
	td := twoIntDesc(t)

	a := NewTuple(td)
	require.NoError(t, a.SetField(0, types.NewIntField(1)))
	require.NoError(t, a.SetField(1, types.NewIntField(2)))

	b := NewTuple(td)
	require.NoError(t, b.SetField(0, types.NewIntField(1)))
	require.NoError(t, b.SetField(1, types.NewIntField(2)))

	assert.True(t, a.Equals(b))

	require.NoError(t, b.SetField(1, types.NewIntField(3)))
	assert.False(t, a.Equals(b))
}

func TestSerializeUnsetFieldFails(t *testing.T) {
	td := twoIntDesc(t)
	tup := NewTuple(td)
	require.NoError(t, tup.SetField(0, types.NewIntField(1)))

	var buf bytes.Buffer
	err := tup.Serialize(&buf)
	assert.True(t, dberr.Is(err, dberr.DbException))
}
