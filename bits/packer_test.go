package bits_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/amt-rt/vt/bits"
)

func TestSetGetField(t *testing.T) {
	var word uint64
	idx := bits.Field{Start: 4, Len: 20}
	ctrl := bits.Field{Start: 24, Len: 24}

	bits.SetField(&word, idx, 12345)
	bits.SetField(&word, ctrl, 999)

	assert.EqualValues(t, 12345, bits.GetField(word, idx))
	assert.EqualValues(t, 999, bits.GetField(word, ctrl))
}

func TestSetGetFieldTruncates(t *testing.T) {
	var word uint64
	f := bits.Field{Start: 0, Len: 4}
	bits.SetField(&word, f, 0xFF)
	assert.EqualValues(t, 0xF, bits.GetField(word, f))
}

func TestBoolField(t *testing.T) {
	var word uint64
	f := bits.Field{Start: 7, Len: 1}
	assert.False(t, bits.GetBool(word, f))
	bits.SetBool(&word, f, true)
	assert.True(t, bits.GetBool(word, f))
	bits.SetBool(&word, f, false)
	assert.False(t, bits.GetBool(word, f))
}
