package store

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/bitable/server/bitable/basic"
)

// BlockFile 按页读写的数据文件。
// 第 i 页位于 i*stride，stride 为页面大小按对齐粒度向上取整。
type BlockFile struct {
	mu       sync.RWMutex
	file     *os.File
	filePath string
	readOnly bool

	pageSize int
	stride   int64

	readCount  uint64
	writeCount uint64
}

// NewBlockFile creates a new block file
func NewBlockFile(filePath string, readOnly bool) *BlockFile {
	return &BlockFile{
		filePath: filePath,
		readOnly: readOnly,
	}
}

// Open 打开文件，create 为 true 时文件必须不存在
func (bf *BlockFile) Open(create bool) error {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	if bf.file != nil {
		return nil
	}
	flag := os.O_RDWR
	if bf.readOnly {
		flag = os.O_RDONLY
	}
	if create {
		flag = os.O_RDWR | os.O_CREATE | os.O_EXCL
	}
	file, err := os.OpenFile(bf.filePath, flag, 0644)
	if err != nil {
		return basic.NewError(basic.ResultFileOpenFailed, "open "+bf.filePath, err)
	}
	bf.file = file
	return nil
}

// SetGeometry 设置页面大小与页面间距
func (bf *BlockFile) SetGeometry(pageSize int, stride int64) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	bf.pageSize = pageSize
	bf.stride = stride
}

// Close closes the block file
func (bf *BlockFile) Close() error {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	if bf.file != nil {
		err := bf.file.Close()
		bf.file = nil
		if err != nil {
			return basic.NewError(basic.ResultFileOperationFailed, "close", err)
		}
	}
	return nil
}

// ReadAt 读取任意偏移，文件长度不足时返回 FileTooSmall
func (bf *BlockFile) ReadAt(buf []byte, offset int64) error {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.readAtLocked(buf, offset)
}

func (bf *BlockFile) readAtLocked(buf []byte, offset int64) error {
	if bf.file == nil {
		return basic.NewError(basic.ResultFileOperationFailed, "read", os.ErrClosed)
	}
	n, err := bf.file.ReadAt(buf, offset)
	if err == io.EOF && n < len(buf) {
		return basic.NewError(basic.ResultFileTooSmall, "read", errors.Errorf("short read at offset %d: %d of %d bytes", offset, n, len(buf)))
	}
	if err != nil && err != io.EOF {
		return basic.NewError(basic.ResultFileOperationFailed, "read", err)
	}
	atomic.AddUint64(&bf.readCount, 1)
	return nil
}

// ReadPage reads a page from the file
func (bf *BlockFile) ReadPage(pageNo uint32, buf []byte) error {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	if len(buf) != bf.pageSize {
		return basic.NewError(basic.ResultFileOperationFailed, "read page", errors.Errorf("buffer length %d, page size %d", len(buf), bf.pageSize))
	}
	return bf.readAtLocked(buf, int64(pageNo)*bf.stride)
}

// WritePage writes a page to the file
func (bf *BlockFile) WritePage(pageNo uint32, content []byte) error {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	if bf.file == nil {
		return basic.NewError(basic.ResultFileOperationFailed, "write page", os.ErrClosed)
	}
	if bf.readOnly {
		return basic.NewError(basic.ResultFileOperationFailed, "write page", errors.New("file opened read-only"))
	}
	if len(content) != bf.pageSize {
		return basic.NewError(basic.ResultFileOperationFailed, "write page", errors.Errorf("content length %d, page size %d", len(content), bf.pageSize))
	}
	if _, err := bf.file.WriteAt(content, int64(pageNo)*bf.stride); err != nil {
		return basic.NewError(basic.ResultFileOperationFailed, "write page", err)
	}
	atomic.AddUint64(&bf.writeCount, 1)
	return nil
}

// Extend 保证文件至少有 size 字节，不足部分补零
func (bf *BlockFile) Extend(size int64) error {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	if bf.file == nil {
		return basic.NewError(basic.ResultFileOperationFailed, "extend", os.ErrClosed)
	}
	stat, err := bf.file.Stat()
	if err != nil {
		return basic.NewError(basic.ResultFileOperationFailed, "extend", err)
	}
	if stat.Size() >= size {
		return nil
	}
	if err := bf.file.Truncate(size); err != nil {
		return basic.NewError(basic.ResultFileOperationFailed, "extend", err)
	}
	return nil
}

// Size 当前文件长度
func (bf *BlockFile) Size() (int64, error) {
	bf.mu.RLock()
	defer bf.mu.RUnlock()

	if bf.file == nil {
		return 0, basic.NewError(basic.ResultFileOperationFailed, "stat", os.ErrClosed)
	}
	stat, err := bf.file.Stat()
	if err != nil {
		return 0, basic.NewError(basic.ResultFileOperationFailed, "stat", err)
	}
	return stat.Size(), nil
}

// Sync syncs the file to disk
func (bf *BlockFile) Sync() error {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	if bf.file == nil || bf.readOnly {
		return nil
	}
	if err := bf.file.Sync(); err != nil {
		return basic.NewError(basic.ResultFileOperationFailed, "sync", err)
	}
	return nil
}

// Counters 读写次数
func (bf *BlockFile) Counters() (reads, writes uint64) {
	return atomic.LoadUint64(&bf.readCount), atomic.LoadUint64(&bf.writeCount)
}
