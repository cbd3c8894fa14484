package types

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagedb/pkg/primitives"
)

func TestTypeSizes(t *testing.T) {
	assert.Equal(t, uint32(4), IntType.Size())
	assert.Equal(t, uint32(4+StringLen), StringType.Size())
}

func TestIntFieldSerializeParse(t *testing.T) {
	var buf bytes.Buffer
	f := NewIntField(-12345)
	require.NoError(t, f.Serialize(&buf))
	assert.Equal(t, int(IntType.Size()), buf.Len())

	parsed, err := ParseField(&buf, IntType)
	require.NoError(t, err)
	assert.True(t, f.Equals(parsed))
}

func TestIntFieldCompare(t *testing.T) {
	a, b := NewIntField(3), NewIntField(7)

	tests := []struct {
		op       primitives.Predicate
		expected bool
	}{
		{primitives.LessThan, true},
		{primitives.LessThanOrEqual, true},
		{primitives.GreaterThan, false},
		{primitives.GreaterThanOrEqual, false},
		{primitives.Equals, false},
		{primitives.NotEqual, true},
	}

	for _, tt := range tests {
		got, err := a.Compare(tt.op, b)
		require.NoError(t, err)
		assert.Equal(t, tt.expected, got, "3 %s 7", tt.op)
	}
}

func TestStringFieldSerializeParse(t *testing.T) {
	var buf bytes.Buffer
	f := NewStringField("hello")
	require.NoError(t, f.Serialize(&buf))
	assert.Equal(t, int(StringType.Size()), buf.Len())

	data := buf.Bytes()
	// 4-byte length prefix then payload, zero padded
	assert.Equal(t, []byte{0, 0, 0, 5}, data[:4])
	assert.Equal(t, "hello", string(data[4:9]))
	for _, b := range data[9:] {
		assert.Equal(t, byte(0), b)
	}

	parsed, err := ParseField(bytes.NewReader(data), StringType)
	require.NoError(t, err)
	assert.True(t, f.Equals(parsed))
}

func TestStringFieldTruncation(t *testing.T) {
	long := make([]byte, StringLen+50)
	for i := range long {
		long[i] = 'x'
	}

	f := NewStringField(string(long))
	assert.Len(t, f.Value, StringLen)
}

func TestStringFieldCompare(t *testing.T) {
	a, b := NewStringField("apple"), NewStringField("banana")

	lt, err := a.Compare(primitives.LessThan, b)
	require.NoError(t, err)
	assert.True(t, lt)

	eq, err := a.Compare(primitives.Equals, NewStringField("apple"))
	require.NoError(t, err)
	assert.True(t, eq)
}

func TestCrossTypeComparisons(t *testing.T) {
	i, s := NewIntField(1), NewStringField("1")

	assert.False(t, i.Equals(s))
	match, err := i.Compare(primitives.Equals, s)
	require.NoError(t, err)
	assert.False(t, match)
}
