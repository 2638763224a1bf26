package buffer_pool

import (
	"container/list"
)

// LRUCache 分为 young/old 两段的 LRU。
//
// 新载入的页面插入 old 段头部（中点插入），在 old 段被再次命中才晋升到 young 段，
// 顺序扫描因此不会冲掉热点页面。随机访问提示下页面插入 old 段尾部，最先被淘汰。
type LRUCache struct {
	capacity   int
	youngLimit int

	items     map[uint32]*list.Element
	youngList *list.List
	oldList   *list.List

	onEvict func(*BufferPage)
}

// NewLRUCache 创建LRU缓存，oldPercent 为 old 段占总容量的比例
func NewLRUCache(capacity int, oldPercent float64) *LRUCache {
	if capacity < 2 {
		capacity = 2
	}
	if oldPercent <= 0 || oldPercent >= 1 {
		oldPercent = 0.375
	}
	youngLimit := capacity - int(float64(capacity)*oldPercent)
	if youngLimit < 1 {
		youngLimit = 1
	}
	return &LRUCache{
		capacity:   capacity,
		youngLimit: youngLimit,
		items:      make(map[uint32]*list.Element),
		youngList:  list.New(),
		oldList:    list.New(),
	}
}

// Get 查找页面，old 段命中的页面晋升到 young 段头部
func (L *LRUCache) Get(pageNo uint32) (*BufferPage, bool) {
	elem, ok := L.items[pageNo]
	if !ok {
		return nil, false
	}
	page := elem.Value.(*BufferPage)
	page.touch()
	if page.IsInYoungRegion() {
		L.youngList.MoveToFront(elem)
		return page, true
	}
	L.oldList.Remove(elem)
	page.young = true
	L.items[pageNo] = L.youngList.PushFront(page)
	L.balance()
	return page, true
}

// Has returns true if the page exists in the cache, without touching recency.
func (L *LRUCache) Has(pageNo uint32) bool {
	_, ok := L.items[pageNo]
	return ok
}

// SetOld 插入到 old 段头部
func (L *LRUCache) SetOld(page *BufferPage) {
	L.remove(page.pageNo)
	L.makeRoom()
	page.young = false
	L.items[page.pageNo] = L.oldList.PushFront(page)
}

// SetCold 插入到 old 段尾部
func (L *LRUCache) SetCold(page *BufferPage) {
	L.remove(page.pageNo)
	L.makeRoom()
	page.young = false
	L.items[page.pageNo] = L.oldList.PushBack(page)
}

// Remove 删除页面并归还帧
func (L *LRUCache) Remove(pageNo uint32) bool {
	return L.remove(pageNo)
}

func (L *LRUCache) remove(pageNo uint32) bool {
	elem, ok := L.items[pageNo]
	if !ok {
		return false
	}
	page := elem.Value.(*BufferPage)
	if page.IsInYoungRegion() {
		L.youngList.Remove(elem)
	} else {
		L.oldList.Remove(elem)
	}
	delete(L.items, pageNo)
	page.release()
	return true
}

// Purge removes all pages from the cache.
func (L *LRUCache) Purge() {
	for pageNo := range L.items {
		L.remove(pageNo)
	}
}

func (L *LRUCache) Len() int {
	return len(L.items)
}

// balance young 段超限时把尾部降级到 old 段头部
func (L *LRUCache) balance() {
	for L.youngList.Len() > L.youngLimit {
		tail := L.youngList.Back()
		page := tail.Value.(*BufferPage)
		L.youngList.Remove(tail)
		page.young = false
		L.items[page.GetPageNo()] = L.oldList.PushFront(page)
	}
}

// makeRoom 先淘汰 old 段尾部，old 段为空时淘汰 young 段尾部
func (L *LRUCache) makeRoom() {
	for len(L.items) >= L.capacity {
		victim := L.oldList.Back()
		if victim == nil {
			victim = L.youngList.Back()
		}
		page := victim.Value.(*BufferPage)
		if L.onEvict != nil {
			L.onEvict(page)
		}
		L.remove(page.GetPageNo())
	}
}
