package basic

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComparators(t *testing.T) {
	assert.Negative(t, BytewiseComparator.Compare(Value("a"), Value("b")))
	assert.Zero(t, BytewiseComparator.Compare(Value("a"), Value("a")))

	rev := ReverseComparator(BytewiseComparator)
	assert.Positive(t, rev.Compare(Value("a"), Value("b")))
	assert.Equal(t, "reverse(bitable.bytewise)", rev.Name())

	assert.Negative(t, Uint64Comparator.Compare(Uint64Key(2), Uint64Key(10)))
	assert.Positive(t, Uint64Comparator.Compare(Uint64Key(1<<40), Uint64Key(10)))
}

func TestNewComparatorPassesContext(t *testing.T) {
	type caseFold struct{ calls int }
	ctx := &caseFold{}
	cmp := NewComparator("casefold", func(a, b Value, c interface{}) int {
		c.(*caseFold).calls++
		return bytes.Compare(bytes.ToLower(a), bytes.ToLower(b))
	}, ctx)

	assert.Zero(t, cmp.Compare(Value("ABC"), Value("abc")))
	assert.Equal(t, 1, ctx.calls)
	assert.Equal(t, "casefold", cmp.Name())
}

func TestComparatorByName(t *testing.T) {
	c, ok := ComparatorByName("uint64")
	assert.True(t, ok)
	assert.Equal(t, Uint64Comparator, c)

	_, ok = ComparatorByName("nope")
	assert.False(t, ok)
}

func TestValidateKey(t *testing.T) {
	assert.NoError(t, ValidateKey(bytes.Repeat([]byte{'k'}, MaxKeySize), 0))
	assert.Equal(t, ResultKeyInvalid, ResultOf(ValidateKey(bytes.Repeat([]byte{'k'}, MaxKeySize+1), 0)))
	assert.Equal(t, ResultKeyInvalid, ResultOf(ValidateKey(nil, 0)))
	assert.Equal(t, ResultKeyInvalid, ResultOf(ValidateKey(Value("abcd"), 3)))
}
