package buffer_pool

import (
	"sync/atomic"
	"time"
)

// BufferPoolStats 缓冲池统计信息
type BufferPoolStats struct {
	PageRequests  uint64
	PageHits      uint64
	PageMisses    uint64
	PageReads     uint64
	PageEvictions uint64

	// 预读统计
	ReadAheadPages uint64
	ReadAheadHits  uint64

	LastResetTime time.Time
}

// NewBufferPoolStats 创建新的统计对象
func NewBufferPoolStats() *BufferPoolStats {
	return &BufferPoolStats{
		LastResetTime: time.Now(),
	}
}

// RecordPageRequest 记录页面请求
func (s *BufferPoolStats) RecordPageRequest(hit bool) {
	atomic.AddUint64(&s.PageRequests, 1)
	if hit {
		atomic.AddUint64(&s.PageHits, 1)
	} else {
		atomic.AddUint64(&s.PageMisses, 1)
	}
}

func (s *BufferPoolStats) RecordPageRead() {
	atomic.AddUint64(&s.PageReads, 1)
}

func (s *BufferPoolStats) RecordEviction() {
	atomic.AddUint64(&s.PageEvictions, 1)
}

// RecordReadAhead 记录一次预读载入的页面
func (s *BufferPoolStats) RecordReadAhead() {
	atomic.AddUint64(&s.ReadAheadPages, 1)
}

// RecordReadAheadHit 预读页面随后被真正访问
func (s *BufferPoolStats) RecordReadAheadHit() {
	atomic.AddUint64(&s.ReadAheadHits, 1)
}

// Snapshot 返回统计的一致拷贝
func (s *BufferPoolStats) Snapshot() BufferPoolStats {
	return BufferPoolStats{
		PageRequests:   atomic.LoadUint64(&s.PageRequests),
		PageHits:       atomic.LoadUint64(&s.PageHits),
		PageMisses:     atomic.LoadUint64(&s.PageMisses),
		PageReads:      atomic.LoadUint64(&s.PageReads),
		PageEvictions:  atomic.LoadUint64(&s.PageEvictions),
		ReadAheadPages: atomic.LoadUint64(&s.ReadAheadPages),
		ReadAheadHits:  atomic.LoadUint64(&s.ReadAheadHits),
		LastResetTime:  s.LastResetTime,
	}
}

// GetHitRatio 获取命中率
func (s *BufferPoolStats) GetHitRatio() float64 {
	requests := atomic.LoadUint64(&s.PageRequests)
	if requests == 0 {
		return 0
	}
	return float64(atomic.LoadUint64(&s.PageHits)) / float64(requests)
}

// Reset 重置统计信息
func (s *BufferPoolStats) Reset() {
	atomic.StoreUint64(&s.PageRequests, 0)
	atomic.StoreUint64(&s.PageHits, 0)
	atomic.StoreUint64(&s.PageMisses, 0)
	atomic.StoreUint64(&s.PageReads, 0)
	atomic.StoreUint64(&s.PageEvictions, 0)
	atomic.StoreUint64(&s.ReadAheadPages, 0)
	atomic.StoreUint64(&s.ReadAheadHits, 0)
	s.LastResetTime = time.Now()
}
