package buffer_pool

import "github.com/zhukovaskychina/bitable/logger"

// PrefetchManager 管理预读。
// 引擎不启动后台协程，预读在触发它的那次游标移动中同步完成。
type PrefetchManager struct {
	bufferPool   *BufferPool
	prefetchSize int // 每次预读的页面数量
}

// NewPrefetchManager 创建预读管理器
func NewPrefetchManager(bufferPool *BufferPool, prefetchSize int) *PrefetchManager {
	if prefetchSize < 0 {
		prefetchSize = 0
	}
	return &PrefetchManager{
		bufferPool:   bufferPool,
		prefetchSize: prefetchSize,
	}
}

// TriggerPrefetch 预读 [startPage, startPage+prefetchSize) 中尚未缓存的页面。
// 预读只是提示，读取失败时停止并记录日志，不向调用方报错。
func (pm *PrefetchManager) TriggerPrefetch(startPage uint32) int {
	if pm.prefetchSize == 0 || startPage == 0 {
		return 0
	}
	loaded := 0
	endPage := startPage + uint32(pm.prefetchSize)
	for pageNo := startPage; pageNo < endPage && pageNo >= startPage; pageNo++ {
		ok, err := pm.bufferPool.prefetchOne(pageNo)
		if err != nil {
			logger.Debugf("read-ahead stopped at page %d: %v", pageNo, err)
			break
		}
		if ok {
			loaded++
		}
	}
	return loaded
}

// PrefetchSize 每次预读的页面数量
func (pm *PrefetchManager) PrefetchSize() int {
	return pm.prefetchSize
}
