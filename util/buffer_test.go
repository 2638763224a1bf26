package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferWrite(t *testing.T) {
	var buff []byte
	buff = WriteUB2(buff, 0x1234)
	buff = WriteUB4(buff, 0xDEADBEEF)
	buff = WriteUB8(buff, 1<<40+7)
	buff = WriteLengthBytes(buff, []byte("key"))
	buff = WriteByte(buff, 9)

	cursor, u2 := ReadUB2(buff, 0)
	assert.Equal(t, uint16(0x1234), u2)
	cursor, u4 := ReadUB4(buff, cursor)
	assert.Equal(t, uint32(0xDEADBEEF), u4)
	cursor, u8 := ReadUB8(buff, cursor)
	assert.Equal(t, uint64(1<<40+7), u8)
	cursor, key := ReadLengthBytes(buff, cursor)
	assert.Equal(t, []byte("key"), key)
	cursor, b := ReadByte(buff, cursor)
	assert.Equal(t, byte(9), b)
	assert.Equal(t, len(buff), cursor)
}

func TestPutUB(t *testing.T) {
	buff := make([]byte, 14)
	PutUB2(buff, 0, 513)
	PutUB4(buff, 2, 70000)
	PutUB8(buff, 6, 1<<33)

	_, u2 := ReadUB2(buff, 0)
	_, u4 := ReadUB4(buff, 2)
	_, u8 := ReadUB8(buff, 6)
	assert.Equal(t, uint16(513), u2)
	assert.Equal(t, uint32(70000), u4)
	assert.Equal(t, uint64(1<<33), u8)
}
