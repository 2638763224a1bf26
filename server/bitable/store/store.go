package store

import (
	"os"
	"sync"
	"sync/atomic"

	gxbytes "github.com/dubbogo/gost/bytes"
	"github.com/juju/errors"

	"github.com/zhukovaskychina/bitable/logger"
	"github.com/zhukovaskychina/bitable/server/bitable/basic"
	"github.com/zhukovaskychina/bitable/server/bitable/buffer_pool"
	"github.com/zhukovaskychina/bitable/server/common"
	"github.com/zhukovaskychina/bitable/util"
)

// Options 打开或创建数据文件的参数
type Options struct {
	ReadOnly bool
	Create   bool // 文件不存在时创建

	// 以下仅在创建时生效，打开已有文件时以文件头为准
	PageSize   int
	Alignment  int
	MaxKeySize int
	MaxDepth   int

	// 比较器名称，创建时写入文件头，打开时必须一致
	Comparator string

	CachePages     int
	ReadAheadPages int
}

func (o *Options) withDefaults() Options {
	opts := Options{}
	if o != nil {
		opts = *o
	}
	if opts.PageSize == 0 {
		opts.PageSize = basic.DefaultPageSize
	}
	if opts.Alignment == 0 {
		opts.Alignment = basic.DefaultAlignment
	}
	if opts.MaxKeySize == 0 {
		opts.MaxKeySize = basic.MaxKeySize
	}
	if opts.MaxDepth == 0 {
		opts.MaxDepth = basic.MaxBranchLevels
	}
	return opts
}

// Store 页面存储，数据文件的唯一持有者。
// 所有页面读写经过这里，读走页面缓存，写为直写。
type Store struct {
	mu     sync.RWMutex
	path   string
	opts   Options
	file   *BlockFile
	pool   *buffer_pool.BufferPool
	header Header

	// 供页面缓存在持锁状态下读取
	pageCount uint32

	// 提交失败后句柄不可再用
	failed error
	closed bool
}

// Open 打开数据文件，opts.Create 为 true 且文件不存在时创建
func Open(path string, o *Options) (*Store, error) {
	if path == "" || util.IsDir(path) {
		return nil, basic.NewError(basic.ResultBadPath, "open store", errors.Errorf("%q", path))
	}
	opts := o.withDefaults()
	exists, err := util.PathExists(path)
	if err != nil {
		return nil, basic.NewError(basic.ResultFileOpenFailed, "open store", err)
	}
	s := &Store{path: path, opts: opts}
	if !exists {
		if !opts.Create || opts.ReadOnly {
			return nil, basic.NewError(basic.ResultFileOpenFailed, "open store", errors.Errorf("%s does not exist", path))
		}
		if err := s.create(); err != nil {
			return nil, err
		}
	} else if err := s.load(); err != nil {
		return nil, err
	}

	pool, err := buffer_pool.NewBufferPool(&buffer_pool.BufferPoolConfig{
		CapacityPages:  opts.CachePages,
		PageSize:       int(s.header.PageSize),
		ReadAheadPages: opts.ReadAheadPages,
	}, s)
	if err != nil {
		s.file.Close()
		return nil, errors.Trace(err)
	}
	s.pool = pool
	logger.WithFields(map[string]interface{}{
		"path":       path,
		"page_size":  s.header.PageSize,
		"alignment":  s.header.Alignment,
		"pages":      s.header.PageCount,
		"read_only":  opts.ReadOnly,
		"comparator": s.header.Comparator,
	}).Debug("store opened")
	return s, nil
}

func (s *Store) create() error {
	opts := s.opts
	if err := ValidateGeometry(opts.PageSize, opts.Alignment); err != nil {
		return err
	}
	if opts.MaxKeySize < 1 || opts.MaxKeySize > basic.MaxKeySize {
		return basic.NewError(basic.ResultKeyInvalid, "create store", errors.Errorf("max key size %d", opts.MaxKeySize))
	}
	if opts.MaxDepth < 0 || opts.MaxDepth > basic.MaxBranchLevels {
		return basic.NewError(basic.ResultMaximumTableTreeDepth, "create store", errors.Errorf("max depth %d", opts.MaxDepth))
	}
	if len(opts.Comparator) > maxComparatorNameLen {
		return basic.NewError(basic.ResultKeyInvalid, "create store", errors.Errorf("comparator name length %d", len(opts.Comparator)))
	}
	if err := util.EnsureParentDir(s.path); err != nil {
		return basic.NewError(basic.ResultFileOpenFailed, "create store", err)
	}

	s.header = Header{
		Version:    common.FILE_FORMAT_VERSION,
		PageSize:   uint32(opts.PageSize),
		Alignment:  uint32(opts.Alignment),
		MaxKeySize: uint32(opts.MaxKeySize),
		MaxDepth:   uint32(opts.MaxDepth),
		PageCount:  1,
		Comparator: opts.Comparator,
	}
	s.pageCount = 1
	s.file = NewBlockFile(s.path, false)
	if err := s.file.Open(true); err != nil {
		return err
	}
	s.file.SetGeometry(opts.PageSize, s.header.Stride())
	err := s.file.WritePage(0, s.header.Encode())
	if err == nil {
		err = s.file.Extend(s.header.MinFileSize())
	}
	if err == nil {
		err = s.file.Sync()
	}
	if err != nil {
		s.file.Close()
		os.Remove(s.path)
		return errors.Annotatef(err, "create %s", s.path)
	}
	logger.Infof("created bitable file %s page_size=%d alignment=%d", s.path, opts.PageSize, opts.Alignment)
	return nil
}

func (s *Store) load() error {
	s.file = NewBlockFile(s.path, s.opts.ReadOnly)
	if err := s.file.Open(false); err != nil {
		return err
	}
	h, err := s.readHeader()
	if err != nil {
		s.file.Close()
		return err
	}
	if s.opts.Comparator != "" && s.opts.Comparator != h.Comparator {
		s.file.Close()
		return basic.NewError(basic.ResultHeaderCorrupt, "open store",
			errors.Errorf("comparator mismatch: file uses %q, handle uses %q", h.Comparator, s.opts.Comparator))
	}
	s.header = *h
	s.pageCount = h.PageCount
	return nil
}

// readHeader 读取并校验文件头，顺序为：长度、魔数与版本、页面几何、校验和、页面数
func (s *Store) readHeader() (*Header, error) {
	size, err := s.file.Size()
	if err != nil {
		return nil, err
	}
	if size > basic.MaxFileSize {
		return nil, basic.NewError(basic.ResultFileTooLarge, "open store", errors.Errorf("%d bytes", size))
	}
	if size < common.FILE_HEADER_FIXED_SIZE {
		return nil, basic.NewError(basic.ResultFileTooSmall, "open store", errors.Errorf("%d bytes", size))
	}

	probe := gxbytes.GetBytes(common.FILE_HEADER_FIXED_SIZE)
	defer gxbytes.PutBytes(probe)
	buf := (*probe)[:common.FILE_HEADER_FIXED_SIZE]
	if err := s.file.ReadAt(buf, 0); err != nil {
		return nil, err
	}
	fields, err := decodeHeaderFields(buf)
	if err != nil {
		return nil, err
	}
	if err := ValidateGeometry(int(fields.PageSize), int(fields.Alignment)); err != nil {
		return nil, err
	}
	if size < int64(fields.PageSize) {
		return nil, basic.NewError(basic.ResultFileTooSmall, "open store", errors.Errorf("%d bytes, page size %d", size, fields.PageSize))
	}

	page := make([]byte, fields.PageSize)
	if err := s.file.ReadAt(page, 0); err != nil {
		return nil, err
	}
	h, err := DecodeHeader(page)
	if err != nil {
		return nil, err
	}
	if size < h.MinFileSize() {
		return nil, basic.NewError(basic.ResultFileTooSmall, "open store", errors.Errorf("%d bytes, %d pages of stride %d", size, h.PageCount, h.Stride()))
	}
	s.file.SetGeometry(int(h.PageSize), h.Stride())
	return h, nil
}

// Refresh 只读句柄重新读取文件头，看到写句柄最近一次提交的内容
func (s *Store) Refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usableLocked(); err != nil {
		return err
	}
	h, err := s.readHeader()
	if err != nil {
		return err
	}
	s.header = *h
	atomic.StoreUint32(&s.pageCount, h.PageCount)
	s.pool.Purge()
	return nil
}

func (s *Store) usableLocked() error {
	if s.closed {
		return basic.NewError(basic.ResultFileOperationFailed, "store", os.ErrClosed)
	}
	if s.failed != nil {
		return s.failed
	}
	return nil
}

// LoadPage 缓存未命中时从文件读取页面并校验
func (s *Store) LoadPage(pageNo uint32, buf []byte) error {
	if err := s.file.ReadPage(pageNo, buf); err != nil {
		return err
	}
	if !util.VerifyPage(buf, common.PAGE_TRAILER_SIZE) {
		return basic.NewError(basic.ResultHeaderCorrupt, "load page", errors.Errorf("page %d checksum mismatch", pageNo))
	}
	return nil
}

// PageCount 已提交的页面数
func (s *Store) PageCount() uint32 {
	return atomic.LoadUint32(&s.pageCount)
}

// ReadPage 读取已提交的页面，返回调用方独占的拷贝
func (s *Store) ReadPage(pageNo uint32, flags basic.ReadOpenFlags) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usableLocked(); err != nil {
		return nil, err
	}
	return s.readPageLocked(pageNo, flags)
}

func (s *Store) readPageLocked(pageNo uint32, flags basic.ReadOpenFlags) ([]byte, error) {
	if pageNo == common.NIL_PAGE_ID || pageNo >= s.header.PageCount {
		return nil, basic.NewError(basic.ResultInvalidCursorLocation, "read page", errors.Errorf("page %d of %d", pageNo, s.header.PageCount))
	}
	buf := make([]byte, s.header.PageSize)
	if err := s.pool.GetPage(pageNo, buf, flags); err != nil {
		if basic.Is(err, basic.ResultHeaderCorrupt) {
			logger.Errorf("page %d of %s failed verification: %v", pageNo, s.path, err)
		}
		return nil, err
	}
	return buf, nil
}

// ReadAhead 顺序访问提示，预读 pageNo 之后的页面
func (s *Store) ReadAhead(pageNo uint32) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.usableLocked() != nil {
		return 0
	}
	return s.pool.ReadAhead(pageNo)
}

// WritePage 直接覆盖一个已存在的页面
func (s *Store) WritePage(pageNo uint32, content []byte) error {
	tx, err := s.Begin()
	if err != nil {
		return err
	}
	if err := tx.Write(pageNo, content); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Allocate 分配一个页面并立即提交
func (s *Store) Allocate() (uint32, error) {
	tx, err := s.Begin()
	if err != nil {
		return 0, err
	}
	pageNo, err := tx.Allocate()
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	return pageNo, tx.Commit()
}

// Free 将页面放回空闲链表并立即提交，文件不会缩短
func (s *Store) Free(pageNo uint32) error {
	tx, err := s.Begin()
	if err != nil {
		return err
	}
	if err := tx.Free(pageNo); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Begin 开始一个页面事务，只读句柄不允许写
func (s *Store) Begin() (*PageTx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usableLocked(); err != nil {
		return nil, err
	}
	if s.opts.ReadOnly {
		return nil, basic.NewError(basic.ResultFileOperationFailed, "begin", errors.New("store opened read-only"))
	}
	return newPageTx(s, s.header), nil
}

// commit 先写数据页，再写文件头。任何一步失败都使句柄不可用。
func (s *Store) commit(header Header, pages map[uint32][]byte, order []uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usableLocked(); err != nil {
		return err
	}
	if err := s.flushLocked(header, pages, order); err != nil {
		s.failed = basic.NewError(basic.ResultFileOperationFailed, "commit", err)
		s.pool.Purge()
		logger.Errorf("commit to %s failed, handle is no longer usable: %v", s.path, err)
		return s.failed
	}
	s.header = header
	atomic.StoreUint32(&s.pageCount, header.PageCount)
	return nil
}

func (s *Store) flushLocked(header Header, pages map[uint32][]byte, order []uint32) error {
	if header.PageCount > s.header.PageCount {
		if err := s.file.Extend(header.MinFileSize()); err != nil {
			return errors.Trace(err)
		}
	}
	for _, pageNo := range order {
		page := pages[pageNo]
		util.SealPage(page, common.PAGE_TRAILER_SIZE)
		if err := s.file.WritePage(pageNo, page); err != nil {
			return errors.Annotatef(err, "page %d", pageNo)
		}
		if err := s.pool.PutPage(pageNo, page); err != nil {
			return errors.Trace(err)
		}
	}
	if err := s.file.WritePage(0, header.Encode()); err != nil {
		return errors.Annotate(err, "header")
	}
	return nil
}

// Header 已提交文件头的拷贝
func (s *Store) Header() Header {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.header
}

// Path 数据文件路径
func (s *Store) Path() string {
	return s.path
}

// ReadOnly 是否只读打开
func (s *Store) ReadOnly() bool {
	return s.opts.ReadOnly
}

// FreePages 遍历空闲链表
func (s *Store) FreePages() ([]uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usableLocked(); err != nil {
		return nil, err
	}
	var ids []uint32
	seen := make(map[uint32]bool)
	for next := s.header.FreeHead; next != common.NIL_PAGE_ID; {
		if seen[next] || uint32(len(ids)) > s.header.FreeCount {
			return nil, basic.NewError(basic.ResultHeaderCorrupt, "free list", errors.Errorf("cycle at page %d", next))
		}
		seen[next] = true
		page, err := s.readPageLocked(next, basic.ReadSequential)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if page[0] != common.FILE_PAGE_TYPE_FREE {
			return nil, basic.NewError(basic.ResultHeaderCorrupt, "free list",
				errors.Errorf("page %d is %s", next, common.PageTypeName(page[0])))
		}
		ids = append(ids, next)
		_, next = util.ReadUB4(page, common.FREE_PAGE_NEXT_OFFSET)
	}
	if uint32(len(ids)) != s.header.FreeCount {
		return nil, basic.NewError(basic.ResultHeaderCorrupt, "free list",
			errors.Errorf("%d pages linked, header says %d", len(ids), s.header.FreeCount))
	}
	return ids, nil
}

// Stats 文件头与缓存部分的统计
func (s *Store) Stats() basic.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := basic.Stats{
		Depth:         s.header.Depth,
		PageCount:     s.header.PageCount,
		KeyCount:      s.header.KeyCount,
		FreePageCount: s.header.FreeCount,
		PageSize:      s.header.PageSize,
		Alignment:     s.header.Alignment,
	}
	if size, err := s.file.Size(); err == nil {
		st.FileSize = size
	}
	if s.pool != nil {
		ps := s.pool.GetStats()
		st.CacheHits = ps.PageHits
		st.CacheMisses = ps.PageMisses
		st.ReadAheadPages = ps.ReadAheadPages
	}
	return st
}

// Sync 刷盘
func (s *Store) Sync() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usableLocked(); err != nil {
		return err
	}
	return s.file.Sync()
}

// Close 刷盘并释放文件，可重复调用
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var err error
	if s.failed == nil {
		err = s.file.Sync()
	}
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.pool.Close()
	logger.Debugf("store %s closed", s.path)
	return err
}
