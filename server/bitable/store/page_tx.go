package store

import (
	"sort"
	"sync"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/bitable/server/bitable/basic"
	"github.com/zhukovaskychina/bitable/server/common"
	"github.com/zhukovaskychina/bitable/util"
)

// ErrTxFinished 事务已提交或已回滚
var ErrTxFinished = errors.New("page transaction already finished")

// PageTx 页面事务。
// 修改过的页面与文件头都暂存在内存中，Commit 时一次写入，Rollback 时直接丢弃，
// 因此一次树操作中途失败不会留下任何可见的部分修改。
type PageTx struct {
	sync.Mutex

	store  *Store
	header Header
	flags  basic.ReadOpenFlags

	dirty map[uint32][]byte

	committed  bool
	rolledBack bool
}

func newPageTx(s *Store, header Header) *PageTx {
	return &PageTx{
		store:  s,
		header: header,
		dirty:  make(map[uint32][]byte),
	}
}

// SetReadFlags 设置事务内读页时的访问提示
func (tx *PageTx) SetReadFlags(flags basic.ReadOpenFlags) {
	tx.flags = flags
}

// Header 事务内的文件头，修改在提交时生效
func (tx *PageTx) Header() *Header {
	return &tx.header
}

// PageSize 页面大小
func (tx *PageTx) PageSize() int {
	return int(tx.header.PageSize)
}

func (tx *PageTx) finished() error {
	if tx.committed || tx.rolledBack {
		return ErrTxFinished
	}
	return nil
}

func (tx *PageTx) checkPageNo(op string, pageNo uint32) error {
	if pageNo == common.NIL_PAGE_ID || pageNo >= tx.header.PageCount {
		return basic.NewError(basic.ResultInvalidCursorLocation, op, errors.Errorf("page %d of %d", pageNo, tx.header.PageCount))
	}
	return nil
}

// Read 读取页面，优先返回事务内的修改
func (tx *PageTx) Read(pageNo uint32) ([]byte, error) {
	tx.Lock()
	defer tx.Unlock()
	if err := tx.finished(); err != nil {
		return nil, err
	}
	return tx.readLocked(pageNo)
}

func (tx *PageTx) readLocked(pageNo uint32) ([]byte, error) {
	if err := tx.checkPageNo("read page", pageNo); err != nil {
		return nil, err
	}
	if page, ok := tx.dirty[pageNo]; ok {
		out := make([]byte, len(page))
		copy(out, page)
		return out, nil
	}
	return tx.store.ReadPage(pageNo, tx.flags)
}

// Write 暂存页面内容，content 长度必须等于页面大小
func (tx *PageTx) Write(pageNo uint32, content []byte) error {
	tx.Lock()
	defer tx.Unlock()
	if err := tx.finished(); err != nil {
		return err
	}
	if err := tx.checkPageNo("write page", pageNo); err != nil {
		return err
	}
	if len(content) != int(tx.header.PageSize) {
		return basic.NewError(basic.ResultFileOperationFailed, "write page",
			errors.Errorf("content length %d, page size %d", len(content), tx.header.PageSize))
	}
	page := make([]byte, len(content))
	copy(page, content)
	tx.dirty[pageNo] = page
	return nil
}

// Allocate 优先复用空闲链表头部的页面，否则在文件末尾追加一页
func (tx *PageTx) Allocate() (uint32, error) {
	tx.Lock()
	defer tx.Unlock()
	if err := tx.finished(); err != nil {
		return 0, err
	}

	if head := tx.header.FreeHead; head != common.NIL_PAGE_ID {
		page, err := tx.readLocked(head)
		if err != nil {
			return 0, errors.Trace(err)
		}
		if page[0] != common.FILE_PAGE_TYPE_FREE {
			return 0, basic.NewError(basic.ResultHeaderCorrupt, "allocate",
				errors.Errorf("free list head %d is a %s page", head, common.PageTypeName(page[0])))
		}
		_, next := util.ReadUB4(page, common.FREE_PAGE_NEXT_OFFSET)
		tx.header.FreeHead = next
		tx.header.FreeCount--
		tx.dirty[head] = make([]byte, tx.header.PageSize)
		return head, nil
	}

	if tx.header.PageCount >= tx.header.MaxPageCount() {
		return 0, basic.NewError(basic.ResultFileTooLarge, "allocate",
			errors.Errorf("page count %d reached the file size limit", tx.header.PageCount))
	}
	pageNo := tx.header.PageCount
	tx.header.PageCount++
	tx.dirty[pageNo] = make([]byte, tx.header.PageSize)
	return pageNo, nil
}

// Free 将页面压入空闲链表，文件长度不变
func (tx *PageTx) Free(pageNo uint32) error {
	tx.Lock()
	defer tx.Unlock()
	if err := tx.finished(); err != nil {
		return err
	}
	page, err := tx.readLocked(pageNo)
	if err != nil {
		return errors.Trace(err)
	}
	if page[0] == common.FILE_PAGE_TYPE_FREE {
		return basic.NewError(basic.ResultHeaderCorrupt, "free", errors.Errorf("page %d is already free", pageNo))
	}
	free := make([]byte, tx.header.PageSize)
	free[0] = common.FILE_PAGE_TYPE_FREE
	util.PutUB4(free, common.FREE_PAGE_NEXT_OFFSET, tx.header.FreeHead)
	tx.dirty[pageNo] = free
	tx.header.FreeHead = pageNo
	tx.header.FreeCount++
	return nil
}

// DirtyPages 事务中已修改的页面数
func (tx *PageTx) DirtyPages() int {
	tx.Lock()
	defer tx.Unlock()
	return len(tx.dirty)
}

// Commit 按页号顺序写入修改过的页面，最后写文件头
func (tx *PageTx) Commit() error {
	tx.Lock()
	defer tx.Unlock()
	if err := tx.finished(); err != nil {
		return err
	}
	tx.committed = true

	order := make([]uint32, 0, len(tx.dirty))
	for pageNo := range tx.dirty {
		order = append(order, pageNo)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	err := tx.store.commit(tx.header, tx.dirty, order)
	tx.dirty = nil
	return err
}

// Rollback 丢弃事务中的全部修改，重复调用无副作用
func (tx *PageTx) Rollback() {
	tx.Lock()
	defer tx.Unlock()
	if tx.committed || tx.rolledBack {
		return
	}
	tx.rolledBack = true
	tx.dirty = nil
}
