package dberr

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCarriesKind(t *testing.T) {
	err := New(DbException, "page %d is full", 3)

	assert.True(t, Is(err, DbException))
	assert.False(t, Is(err, IoError))
	assert.Equal(t, DbException, KindOf(err))
	assert.Contains(t, err.Error(), "DbException")
	assert.Contains(t, err.Error(), "page 3 is full")
}

func TestWrapClassifiesCause(t *testing.T) {
	err := Wrap(IoError, io.ErrUnexpectedEOF, "reading page")

	assert.True(t, Is(err, IoError))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Contains(t, err.Error(), "reading page")
}

func TestWrapNilIsNil(t *testing.T) {
	assert.NoError(t, Wrap(IoError, nil, "nothing happened"))
}

func TestWrapPreservesExistingKind(t *testing.T) {
	inner := New(TransactionAborted, "lock timeout")
	outer := Wrap(IoError, inner, "while splitting")

	assert.True(t, Is(outer, TransactionAborted), "the original kind must survive re-wrapping")
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(io.EOF))
	assert.False(t, Is(io.EOF, IoError))
}
