package buffer_pool

import (
	"time"

	gxbytes "github.com/dubbogo/gost/bytes"
)

// BufferPage 缓存中的一个页面帧，帧内存来自 gost 的字节池，淘汰时归还
type BufferPage struct {
	pageNo     uint32
	frame      *[]byte
	accessTime int64
	young      bool
}

// NewBufferPage 从字节池取出一帧并拷入页面内容
func NewBufferPage(pageNo uint32, content []byte) *BufferPage {
	frame := gxbytes.GetBytes(len(content))
	*frame = (*frame)[:len(content)]
	copy(*frame, content)
	return &BufferPage{
		pageNo:     pageNo,
		frame:      frame,
		accessTime: time.Now().UnixNano(),
	}
}

// GetPageNo 获取页面号
func (bp *BufferPage) GetPageNo() uint32 {
	return bp.pageNo
}

// CopyTo 将帧内容拷贝到调用方的缓冲区，调用方永远拿不到帧本身
func (bp *BufferPage) CopyTo(dst []byte) int {
	return copy(dst, *bp.frame)
}

// Replace 原地替换帧内容
func (bp *BufferPage) Replace(content []byte) {
	if cap(*bp.frame) < len(content) {
		gxbytes.PutBytes(bp.frame)
		bp.frame = gxbytes.GetBytes(len(content))
	}
	*bp.frame = (*bp.frame)[:len(content)]
	copy(*bp.frame, content)
	bp.touch()
}

func (bp *BufferPage) touch() {
	bp.accessTime = time.Now().UnixNano()
}

// IsInYoungRegion returns whether the page is in young region
func (bp *BufferPage) IsInYoungRegion() bool {
	return bp.young
}

// release 归还帧内存
func (bp *BufferPage) release() {
	if bp.frame != nil {
		gxbytes.PutBytes(bp.frame)
		bp.frame = nil
	}
}
