package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitmapLSBFirst(t *testing.T) {
	bitmap := make([]byte, 2)

	SetBit(bitmap, 0)
	assert.Equal(t, byte(0x01), bitmap[0], "slot 0 must be the lowest bit of byte 0")

	SetBit(bitmap, 7)
	assert.Equal(t, byte(0x81), bitmap[0])

	SetBit(bitmap, 8)
	assert.Equal(t, byte(0x01), bitmap[1], "slot 8 must be the lowest bit of byte 1")
}

func TestBitmapSetClearRoundTrip(t *testing.T) {
	bitmap := make([]byte, 4)

	for i := 0; i < 32; i++ {
		assert.False(t, IsSet(bitmap, i))
	}

	for _, i := range []int{0, 3, 8, 15, 31} {
		SetBit(bitmap, i)
		assert.True(t, IsSet(bitmap, i))
	}

	for _, i := range []int{0, 3, 8, 15, 31} {
		ClearBit(bitmap, i)
		assert.False(t, IsSet(bitmap, i))
	}
	for _, b := range bitmap {
		assert.Equal(t, byte(0), b)
	}
}

func TestBitmapOutOfRange(t *testing.T) {
	bitmap := make([]byte, 1)

	assert.False(t, IsSet(bitmap, 8))
	SetBit(bitmap, 8)
	ClearBit(bitmap, 8)
	assert.Equal(t, byte(0), bitmap[0])
}

func TestHeaderBytes(t *testing.T) {
	tests := []struct {
		numSlots int
		expected int
	}{
		{1, 1},
		{8, 1},
		{9, 2},
		{504, 63},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, HeaderBytes(tt.numSlots), "numSlots=%d", tt.numSlots)
	}
}

func TestCreateEmptyPageData(t *testing.T) {
	data := CreateEmptyPageData()
	assert.Len(t, data, PageSize)
	for _, b := range data {
		if b != 0 {
			t.Fatal("empty page data must be zeroed")
		}
	}
}
