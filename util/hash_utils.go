package util

import (
	"github.com/OneOfOne/xxhash"
)

// 将一个键进行Hash
func HashCode(key []byte) uint64 {
	h := xxhash.New64()
	h.Write(key)
	return h.Sum64()
}

// PageChecksum 计算页面校验和，trailer 之前的全部字节参与计算
func PageChecksum(page []byte, trailerSize int) uint64 {
	return HashCode(page[:len(page)-trailerSize])
}

// SealPage 将校验和写入页尾
func SealPage(page []byte, trailerSize int) {
	PutUB8(page, len(page)-trailerSize, PageChecksum(page, trailerSize))
}

// VerifyPage 校验页尾的校验和
func VerifyPage(page []byte, trailerSize int) bool {
	_, stored := ReadUB8(page, len(page)-trailerSize)
	return stored == PageChecksum(page, trailerSize)
}
