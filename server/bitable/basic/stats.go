package basic

import "fmt"

// Stats 引擎状态快照，按需计算，只读
type Stats struct {
	Depth         uint32 // 叶子之上的分支层数
	PageCount     uint32 // 含文件头页
	KeyCount      uint64
	FreePageCount uint32
	PageSize      uint32
	Alignment     uint32
	FileSize      int64

	// 仅在全量遍历时填充
	LeafPages   uint32
	BranchPages uint32
	UsedBytes   uint64 // 所有树页面中已占用的字节数

	// 页面缓存统计
	CacheHits      uint64
	CacheMisses    uint64
	ReadAheadPages uint64
}

// FillRatio 树页面的平均填充率，未做全量遍历时返回 0
func (s Stats) FillRatio() float64 {
	pages := uint64(s.LeafPages) + uint64(s.BranchPages)
	if pages == 0 || s.PageSize == 0 {
		return 0
	}
	return float64(s.UsedBytes) / float64(pages*uint64(s.PageSize))
}

// CacheHitRatio 页面缓存命中率
func (s Stats) CacheHitRatio() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total)
}

func (s Stats) String() string {
	return fmt.Sprintf("depth=%d pages=%d keys=%d free=%d page_size=%d file_size=%d",
		s.Depth, s.PageCount, s.KeyCount, s.FreePageCount, s.PageSize, s.FileSize)
}
