package engine

import (
	"fmt"
	"os"
	"sync"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"

	"github.com/zhukovaskychina/bitable/logger"
	"github.com/zhukovaskychina/bitable/server/bitable/basic"
	"github.com/zhukovaskychina/bitable/server/bitable/btree"
	"github.com/zhukovaskychina/bitable/server/bitable/store"
	"github.com/zhukovaskychina/bitable/util"
)

// Options 打开引擎的参数，零值表示使用默认值
type Options struct {
	ReadOnly bool
	Create   bool

	// 仅在创建文件时生效
	PageSize   int
	Alignment  int
	MaxKeySize int
	MaxDepth   int

	// 为空时：新文件使用字典序，已有文件按文件头中记录的名称查找内置排序
	Comparator basic.Comparator

	CachePages     int
	ReadAheadPages int
}

// Engine 一个打开的数据文件。
//
// 同一文件同时只允许一个写句柄，写句柄通过辅助锁文件互斥；只读句柄不受限制。
// 方法可以被多个 goroutine 并发调用，读操作之间并行，写操作串行。
type Engine struct {
	mu sync.RWMutex

	paths basic.Paths
	flags basic.ReadOpenFlags
	opts  Options

	store *store.Store
	tree  *btree.BTree

	cursors map[*Cursor]struct{}
	locked  bool
	closed  bool

	// 致命错误之后句柄不可再用，读操作在读锁下记录，单独加锁
	failMu sync.Mutex
	failed error
}

// OpenPath 由基础路径构造文件路径后打开
func OpenPath(base string, flags basic.ReadOpenFlags, opts *Options) (*Engine, error) {
	paths, err := basic.BuildPaths(base)
	if err != nil {
		return nil, err
	}
	return Open(paths, flags, opts)
}

// Open 打开或创建数据文件。flags 为点查询使用的访问提示。
// 未给出 Auxiliary 时锁文件为 Primary 加 .lock 后缀。
func Open(paths basic.Paths, flags basic.ReadOpenFlags, opts *Options) (*Engine, error) {
	if err := paths.Validate(); err != nil {
		return nil, err
	}
	if paths.Auxiliary == "" {
		paths.Auxiliary = paths.Primary + basic.LockFileExt
	}
	e := &Engine{
		paths:   paths,
		flags:   flags,
		cursors: make(map[*Cursor]struct{}),
	}
	if opts != nil {
		e.opts = *opts
	}

	if !e.opts.ReadOnly {
		if err := e.acquireLock(); err != nil {
			return nil, err
		}
	}
	if err := e.open(); err != nil {
		e.releaseLock()
		return nil, err
	}

	h := e.store.Header()
	logger.WithFields(logrus.Fields{
		"path":       paths.Primary,
		"read_only":  e.opts.ReadOnly,
		"flags":      flags.String(),
		"page_size":  h.PageSize,
		"depth":      h.Depth,
		"keys":       h.KeyCount,
		"comparator": e.tree.Comparator().Name(),
	}).Info("bitable opened")
	return e, nil
}

func (e *Engine) open() error {
	cmp := e.opts.Comparator
	storeOpts := &store.Options{
		ReadOnly:       e.opts.ReadOnly,
		Create:         e.opts.Create,
		PageSize:       e.opts.PageSize,
		Alignment:      e.opts.Alignment,
		MaxKeySize:     e.opts.MaxKeySize,
		MaxDepth:       e.opts.MaxDepth,
		CachePages:     e.opts.CachePages,
		ReadAheadPages: e.opts.ReadAheadPages,
	}
	exists, _ := util.PathExists(e.paths.Primary)
	switch {
	case cmp != nil:
		storeOpts.Comparator = cmp.Name()
	case !exists:
		cmp = basic.BytewiseComparator
		storeOpts.Comparator = cmp.Name()
	}

	s, err := store.Open(e.paths.Primary, storeOpts)
	if err != nil {
		return errors.Trace(err)
	}
	if cmp == nil {
		name := s.Header().Comparator
		builtin, ok := basic.ComparatorByName(name)
		if !ok {
			s.Close()
			return basic.NewError(basic.ResultHeaderCorrupt, "open",
				errors.Errorf("file ordered by %q, which is not built in; pass the comparator explicitly", name))
		}
		cmp = builtin
	}

	tree := btree.NewBTree(s, cmp)
	tree.SetReadFlags(e.flags)
	if !e.opts.ReadOnly {
		if err := tree.Init(); err != nil {
			s.Close()
			return errors.Trace(err)
		}
	}
	e.store = s
	e.tree = tree
	return nil
}

// acquireLock 以排他方式创建锁文件。
// 进程异常退出后锁文件会残留，需要确认没有写句柄后手工删除。
func (e *Engine) acquireLock() error {
	if err := util.EnsureParentDir(e.paths.Auxiliary); err != nil {
		return basic.NewError(basic.ResultFileOpenFailed, "lock", err)
	}
	f, err := os.OpenFile(e.paths.Auxiliary, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return basic.NewError(basic.ResultAlreadyOpen, "lock",
				errors.Errorf("%s is held by another writer", e.paths.Auxiliary))
		}
		return basic.NewError(basic.ResultFileOpenFailed, "lock", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()
	e.locked = true
	return nil
}

func (e *Engine) releaseLock() {
	if !e.locked {
		return
	}
	if err := os.Remove(e.paths.Auxiliary); err != nil && !os.IsNotExist(err) {
		logger.Warnf("failed to remove lock file %s: %v", e.paths.Auxiliary, err)
	}
	e.locked = false
}

func (e *Engine) usable() error {
	if e.closed {
		return basic.NewError(basic.ResultFileOperationFailed, "engine", errors.New("handle closed"))
	}
	return e.failure()
}

func (e *Engine) failure() error {
	e.failMu.Lock()
	defer e.failMu.Unlock()
	return e.failed
}

func (e *Engine) writable() error {
	if err := e.usable(); err != nil {
		return err
	}
	if e.opts.ReadOnly {
		return basic.NewError(basic.ResultFileOperationFailed, "engine", errors.New("handle opened read-only"))
	}
	return nil
}

// observe 记录致命错误，之后句柄只允许关闭。
// 只读句柄读到的损坏页面可能只是写句柄改动过的旧页面，不记录。
func (e *Engine) observe(err error) error {
	if err == nil {
		return nil
	}
	result := basic.ResultOf(err)
	if !result.Fatal() {
		return err
	}
	if e.opts.ReadOnly && result == basic.ResultHeaderCorrupt {
		return err
	}
	e.failMu.Lock()
	defer e.failMu.Unlock()
	if e.failed == nil {
		e.failed = err
		logger.Errorf("bitable %s is no longer usable: %v", e.paths.Primary, err)
	}
	return err
}

// retry 只读句柄遇到 results 中的错误时重新读取文件头，再执行一次 fn
func (e *Engine) retry(fn func() error, results ...basic.Result) error {
	err := fn()
	if err == nil || !e.opts.ReadOnly {
		return err
	}
	stale := false
	for _, r := range results {
		if basic.Is(err, r) {
			stale = true
			break
		}
	}
	if !stale {
		return err
	}
	logger.Debugf("bitable %s: %v, re-reading header", e.paths.Primary, err)
	if rerr := e.tree.Refresh(); rerr != nil {
		return err
	}
	return fn()
}

// Paths 文件路径
func (e *Engine) Paths() basic.Paths {
	return e.paths
}

// ReadOnly 是否只读句柄
func (e *Engine) ReadOnly() bool {
	return e.opts.ReadOnly
}

// Comparator 当前排序
func (e *Engine) Comparator() basic.Comparator {
	return e.tree.Comparator()
}

// Get 查找键，不存在时返回 KeyNotFound
func (e *Engine) Get(key basic.Value) (basic.Value, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.usable(); err != nil {
		return nil, err
	}
	var v basic.Value
	err := e.retry(func() (err error) {
		v, err = e.tree.Get(key, e.flags)
		return err
	}, basic.ResultHeaderCorrupt, basic.ResultInvalidCursorLocation)
	return v, e.observe(err)
}

// Has 键是否存在
func (e *Engine) Has(key basic.Value) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.usable(); err != nil {
		return false, err
	}
	var ok bool
	err := e.retry(func() (err error) {
		ok, err = e.tree.Has(key, e.flags)
		return err
	}, basic.ResultHeaderCorrupt, basic.ResultInvalidCursorLocation)
	return ok, e.observe(err)
}

// Put 插入或覆盖
func (e *Engine) Put(key, val basic.Value) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.writable(); err != nil {
		return err
	}
	_, err := e.tree.Put(key, val)
	return e.observe(err)
}

// Update 覆盖已存在的键
func (e *Engine) Update(key, val basic.Value) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.writable(); err != nil {
		return err
	}
	return e.observe(e.tree.Update(key, val))
}

// Delete 删除键，不存在时返回 KeyNotFound
func (e *Engine) Delete(key basic.Value) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.writable(); err != nil {
		return err
	}
	return e.observe(e.tree.Delete(key))
}

// OpenCursor 打开游标，flags 为该游标的访问提示
func (e *Engine) OpenCursor(flags basic.ReadOpenFlags) (*Cursor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usable(); err != nil {
		return nil, err
	}
	c := &Cursor{engine: e, inner: e.tree.OpenCursor(flags)}
	e.cursors[c] = struct{}{}
	return c, nil
}

// Stats 读取文件头与空闲链表；full 为 true 时再遍历整棵树
func (e *Engine) Stats(full bool) (basic.Stats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.usable(); err != nil {
		return basic.Stats{}, err
	}
	var st basic.Stats
	err := e.retry(func() error {
		st = e.store.Stats()
		free, err := e.store.FreePages()
		if err != nil {
			return errors.Trace(err)
		}
		st.FreePageCount = uint32(len(free))
		if !full {
			return nil
		}
		info, err := e.tree.Walk()
		if err != nil {
			return errors.Trace(err)
		}
		st.LeafPages = info.LeafPages
		st.BranchPages = info.BranchPages
		st.UsedBytes = info.UsedBytes
		return nil
	}, basic.ResultHeaderCorrupt, basic.ResultInvalidCursorLocation)
	if err != nil {
		return basic.Stats{}, e.observe(err)
	}
	return st, nil
}

// Check 校验整棵树与空闲链表
func (e *Engine) Check() (btree.TreeInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.usable(); err != nil {
		return btree.TreeInfo{}, err
	}
	info, err := e.tree.Check()
	if err != nil {
		logger.Errorf("check of %s failed: %v", e.paths.Primary, err)
	}
	return info, errors.Trace(err)
}

// Sync 刷盘
func (e *Engine) Sync() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.usable(); err != nil {
		return err
	}
	return e.observe(e.store.Sync())
}

// Refresh 只读句柄重新读取文件头，看到写句柄已提交的修改，已定位的游标全部失效。
// 只读句柄上之前读到的损坏页面在刷新成功后不再影响句柄。
func (e *Engine) Refresh() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return basic.NewError(basic.ResultFileOperationFailed, "engine", errors.New("handle closed"))
	}
	if !e.opts.ReadOnly {
		if err := e.failure(); err != nil {
			return err
		}
	}
	if err := e.tree.Refresh(); err != nil {
		return e.observe(errors.Trace(err))
	}
	if e.opts.ReadOnly {
		e.failMu.Lock()
		e.failed = nil
		e.failMu.Unlock()
	}
	return nil
}

// Close 刷盘、关闭文件并释放写锁，可重复调用
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	for c := range e.cursors {
		c.inner.Close()
	}
	e.cursors = nil
	err := e.store.Close()
	e.releaseLock()
	logger.Infof("bitable %s closed", e.paths.Primary)
	return errors.Trace(err)
}
