package buffer_pool

import (
	"fmt"
	"sync"

	"github.com/zhukovaskychina/bitable/logger"
	"github.com/zhukovaskychina/bitable/server/bitable/basic"
)

// PageLoader 页面来源，缓存未命中时调用
type PageLoader interface {
	// LoadPage 将页面读入 buf，len(buf) 等于页面大小
	LoadPage(pageNo uint32, buf []byte) error
	// PageCount 当前文件中的页面数
	PageCount() uint32
}

// BufferPoolConfig contains configuration for buffer pool
type BufferPoolConfig struct {
	CapacityPages  int     // 缓存的页面数
	PageSize       int     // 页面大小
	OldPercent     float64 // old 段比例
	ReadAheadPages int     // 顺序模式下每次预读的页面数
}

// BufferPool 页面缓存。写入采用直写：存储层先落盘，再调用 PutPage 刷新缓存中的副本。
type BufferPool struct {
	mu sync.Mutex

	config *BufferPoolConfig
	lru    *LRUCache
	stats  *BufferPoolStats
	loader PageLoader

	// 预读进来但尚未被访问的页面
	prefetched map[uint32]struct{}

	prefetchManager *PrefetchManager
	closed          bool
}

// NewBufferPool creates a new buffer pool
func NewBufferPool(config *BufferPoolConfig, loader PageLoader) (*BufferPool, error) {
	if config == nil || config.PageSize <= 0 || loader == nil {
		return nil, ErrInvalidConfig
	}
	if config.CapacityPages <= 0 {
		config.CapacityPages = 256
	}
	bp := &BufferPool{
		config:     config,
		lru:        NewLRUCache(config.CapacityPages, config.OldPercent),
		stats:      NewBufferPoolStats(),
		loader:     loader,
		prefetched: make(map[uint32]struct{}),
	}
	bp.lru.onEvict = func(page *BufferPage) {
		bp.stats.RecordEviction()
		delete(bp.prefetched, page.pageNo)
	}
	bp.prefetchManager = NewPrefetchManager(bp, config.ReadAheadPages)
	return bp, nil
}

// GetPage 将页面内容拷贝到 dst
func (bp *BufferPool) GetPage(pageNo uint32, dst []byte, flags basic.ReadOpenFlags) error {
	if len(dst) != bp.config.PageSize {
		return NewError("get page", pageNo, ErrInvalidPageLen)
	}
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if bp.closed {
		return NewError("get page", pageNo, ErrClosed)
	}

	if page, ok := bp.lru.Get(pageNo); ok {
		bp.stats.RecordPageRequest(true)
		if _, pre := bp.prefetched[pageNo]; pre {
			bp.stats.RecordReadAheadHit()
			delete(bp.prefetched, pageNo)
		}
		page.CopyTo(dst)
		return nil
	}

	bp.stats.RecordPageRequest(false)
	if err := bp.loadLocked(pageNo, dst, flags); err != nil {
		return err
	}
	return nil
}

// loadLocked 从磁盘读入并放入缓存，调用方持有 bp.mu
func (bp *BufferPool) loadLocked(pageNo uint32, dst []byte, flags basic.ReadOpenFlags) error {
	if err := bp.loader.LoadPage(pageNo, dst); err != nil {
		return err
	}
	bp.stats.RecordPageRead()
	page := NewBufferPage(pageNo, dst)
	if flags == basic.ReadRandom {
		bp.lru.SetCold(page)
	} else {
		bp.lru.SetOld(page)
	}
	return nil
}

// PutPage 页面已落盘后刷新缓存副本
func (bp *BufferPool) PutPage(pageNo uint32, content []byte) error {
	if len(content) != bp.config.PageSize {
		return NewError("put page", pageNo, ErrInvalidPageLen)
	}
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if bp.closed {
		return NewError("put page", pageNo, ErrClosed)
	}
	if page, ok := bp.lru.Get(pageNo); ok {
		page.Replace(content)
		return nil
	}
	bp.lru.SetOld(NewBufferPage(pageNo, content))
	return nil
}

// Invalidate 丢弃缓存中的页面
func (bp *BufferPool) Invalidate(pageNo uint32) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.lru.Remove(pageNo)
	delete(bp.prefetched, pageNo)
}

// Purge 丢弃全部缓存页面，只读句柄重新加载文件头后调用
func (bp *BufferPool) Purge() {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.lru.Purge()
	bp.prefetched = make(map[uint32]struct{})
}

// ReadAhead 顺序访问提示：从 startPage 起预读若干页，返回实际载入的页数
func (bp *BufferPool) ReadAhead(startPage uint32) int {
	return bp.prefetchManager.TriggerPrefetch(startPage)
}

// prefetchOne 预读单个页面，已缓存或越界时跳过
func (bp *BufferPool) prefetchOne(pageNo uint32) (bool, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if bp.closed || bp.lru.Has(pageNo) {
		return false, nil
	}
	if pageNo >= bp.loader.PageCount() {
		return false, nil
	}
	buf := make([]byte, bp.config.PageSize)
	if err := bp.loadLocked(pageNo, buf, basic.ReadSequential); err != nil {
		return false, err
	}
	bp.prefetched[pageNo] = struct{}{}
	bp.stats.RecordReadAhead()
	return true, nil
}

// Len 当前缓存的页面数
func (bp *BufferPool) Len() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.lru.Len()
}

// Contains 页面是否在缓存中
func (bp *BufferPool) Contains(pageNo uint32) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.lru.Has(pageNo)
}

// GetStats 返回统计快照
func (bp *BufferPool) GetStats() BufferPoolStats {
	return bp.stats.Snapshot()
}

// Close 清空缓存并归还所有帧，可重复调用
func (bp *BufferPool) Close() {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if bp.closed {
		return
	}
	bp.lru.Purge()
	bp.prefetched = make(map[uint32]struct{})
	bp.closed = true
	logger.Debugf("buffer pool closed: %s", bp.describe())
}

func (bp *BufferPool) describe() string {
	s := bp.stats.Snapshot()
	return fmt.Sprintf("requests=%d hits=%d reads=%d evictions=%d read_ahead=%d",
		s.PageRequests, s.PageHits, s.PageReads, s.PageEvictions, s.ReadAheadPages)
}
