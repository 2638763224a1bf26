package util

func WriteByte(buf []byte, b byte) []byte {
	return append(buf, b)
}

func WriteBytes(buf []byte, from []byte) []byte {
	return append(buf, from...)
}

func WriteUB2(buf []byte, i uint16) []byte {
	buf = append(buf, byte(i&0xFF))
	buf = append(buf, byte((i>>8)&0xFF))
	return buf
}

func WriteUB4(buf []byte, i uint32) []byte {
	buf = append(buf, byte(i&0xFF))
	buf = append(buf, byte((i>>8)&0xFF))
	buf = append(buf, byte((i>>16)&0xFF))
	buf = append(buf, byte((i>>24)&0xFF))
	return buf
}

func WriteUB8(buf []byte, i uint64) []byte {
	buf = append(buf, byte(i&0xFF))
	buf = append(buf, byte((i>>8)&0xFF))
	buf = append(buf, byte((i>>16)&0xFF))
	buf = append(buf, byte((i>>24)&0xFF))
	buf = append(buf, byte((i>>32)&0xFF))
	buf = append(buf, byte((i>>40)&0xFF))
	buf = append(buf, byte((i>>48)&0xFF))
	buf = append(buf, byte((i>>56)&0xFF))
	return buf
}

// WriteLengthBytes 写入 2 字节长度前缀 + 内容
func WriteLengthBytes(buf []byte, from []byte) []byte {
	buf = WriteUB2(buf, uint16(len(from)))
	return append(buf, from...)
}

// 以下为定点写入，用于在已分配好的页面缓冲区中原地修改

func PutUB2(buf []byte, offset int, i uint16) {
	buf[offset] = byte(i & 0xFF)
	buf[offset+1] = byte((i >> 8) & 0xFF)
}

func PutUB4(buf []byte, offset int, i uint32) {
	buf[offset] = byte(i & 0xFF)
	buf[offset+1] = byte((i >> 8) & 0xFF)
	buf[offset+2] = byte((i >> 16) & 0xFF)
	buf[offset+3] = byte((i >> 24) & 0xFF)
}

func PutUB8(buf []byte, offset int, i uint64) {
	for n := 0; n < 8; n++ {
		buf[offset+n] = byte((i >> (8 * uint(n))) & 0xFF)
	}
}
