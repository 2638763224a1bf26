package btree

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/bitable/logger"
	"github.com/zhukovaskychina/bitable/server/bitable/basic"
	"github.com/zhukovaskychina/bitable/server/bitable/store"
	"github.com/zhukovaskychina/bitable/server/common"
)

// BTree 建立在页面存储之上的 B+ 树。
//
// 读操作直接读已提交的页面；写操作在一个页面事务中完成，
// 出错时整体回滚，成功时一次提交。写操作之间的互斥由调用方负责。
type BTree struct {
	store *store.Store
	cmp   basic.Comparator

	// 结构性修改计数，游标据此判断位置是否失效
	version uint64

	// 写事务内读页使用的访问提示
	flags basic.ReadOpenFlags
}

// NewBTree creates a tree over an open store
func NewBTree(s *store.Store, cmp basic.Comparator) *BTree {
	if cmp == nil {
		cmp = basic.BytewiseComparator
	}
	return &BTree{store: s, cmp: cmp}
}

// Comparator 当前使用的比较器
func (t *BTree) Comparator() basic.Comparator {
	return t.cmp
}

// Version 结构性修改计数
func (t *BTree) Version() uint64 {
	return atomic.LoadUint64(&t.version)
}

func (t *BTree) bumpVersion() {
	atomic.AddUint64(&t.version, 1)
}

// SetReadFlags 设置写操作读取页面时的访问提示，需在并发使用之前调用
func (t *BTree) SetReadFlags(flags basic.ReadOpenFlags) {
	t.flags = flags
}

func (t *BTree) begin() (*store.PageTx, error) {
	tx, err := t.store.Begin()
	if err != nil {
		return nil, err
	}
	tx.SetReadFlags(t.flags)
	return tx, nil
}

func (t *BTree) commit(tx *store.PageTx, what string) error {
	logger.Debugf("%s: committing %d pages", what, tx.DirtyPages())
	return tx.Commit()
}

// Refresh 重新读取文件头并清空页面缓存，已定位的游标全部失效
func (t *BTree) Refresh() error {
	if err := t.store.Refresh(); err != nil {
		return errors.Wrap(err, "refresh tree")
	}
	t.bumpVersion()
	return nil
}

// Init 为新文件创建空的根叶子
func (t *BTree) Init() error {
	if t.store.Header().Root != common.NIL_PAGE_ID {
		return nil
	}
	tx, err := t.begin()
	if err != nil {
		return errors.Wrap(err, "init tree")
	}
	id, err := tx.Allocate()
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "init tree")
	}
	op := &mutation{tree: t, tx: tx}
	if err := op.write(newLeaf(id)); err != nil {
		tx.Rollback()
		return err
	}
	tx.Header().Root = id
	tx.Header().Depth = 0
	return t.commit(tx, "init tree")
}

// 分裂结果：key 提升到父节点，right 为新页面
type split struct {
	key   basic.Value
	right uint32
}

// 子节点修改后交给父节点处理的结果
type result struct {
	split     *split
	underflow bool
}

type putMode int

const (
	putUpsert putMode = iota
	putUpdate         // 键必须已存在
)

// mutation 一次写操作的上下文
type mutation struct {
	tree *BTree
	tx   *store.PageTx
	mode putMode

	inserted   bool
	structural bool
}

func (op *mutation) pageSize() int {
	return op.tx.PageSize()
}

func (op *mutation) load(pageNo uint32) (*node, error) {
	page, err := op.tx.Read(pageNo)
	if err != nil {
		return nil, errors.Wrapf(err, "read page %d", pageNo)
	}
	return decodeNode(pageNo, page)
}

func (op *mutation) write(n *node) error {
	page, err := n.encode(op.pageSize())
	if err != nil {
		return basic.NewError(basic.ResultFileOperationFailed, "write node", err)
	}
	return errors.Wrapf(op.tx.Write(n.id, page), "write page %d", n.id)
}

func (op *mutation) free(n *node) error {
	op.structural = true
	return errors.Wrapf(op.tx.Free(n.id), "free page %d", n.id)
}

// minFill 低于该字节数的非根节点需要合并或重新分配
func (op *mutation) minFill() int {
	return usableSpace(op.pageSize()) / 2
}

func (t *BTree) validateKey(key basic.Value) error {
	return basic.ValidateKey(key, int(t.store.Header().MaxKeySize))
}

func (t *BTree) validateEntry(key, val basic.Value) error {
	if err := t.validateKey(key); err != nil {
		return err
	}
	pageSize := int(t.store.Header().PageSize)
	if leafEntrySize(key, val) > maxEntrySize(pageSize) {
		return basic.NewError(basic.ResultKeyInvalid, "validate entry",
			errors.Errorf("entry of %d bytes exceeds %d", leafEntrySize(key, val), maxEntrySize(pageSize)))
	}
	return nil
}

// MaxValueSize 给定键长时允许的最大值长度
func (t *BTree) MaxValueSize(keyLen int) int {
	return maxEntrySize(int(t.store.Header().PageSize)) - common.PAGE_SLOT_SIZE - leafCellHeader - keyLen
}

func (t *BTree) readNode(pageNo uint32, flags basic.ReadOpenFlags) (*node, error) {
	page, err := t.store.ReadPage(pageNo, flags)
	if err != nil {
		return nil, errors.Wrapf(err, "read page %d", pageNo)
	}
	return decodeNode(pageNo, page)
}

// findLeaf 从根下降到包含 key 的叶子
func (t *BTree) findLeaf(key basic.Value, flags basic.ReadOpenFlags) (*node, error) {
	h := t.store.Header()
	if h.Root == common.NIL_PAGE_ID {
		return newLeaf(common.NIL_PAGE_ID), nil
	}
	pageNo := h.Root
	for level := 0; level <= basic.MaxBranchLevels; level++ {
		n, err := t.readNode(pageNo, flags)
		if err != nil {
			return nil, err
		}
		if n.leaf {
			return n, nil
		}
		pageNo = n.children[n.childIndex(t.cmp, key)]
	}
	return nil, basic.NewError(basic.ResultHeaderCorrupt, "find leaf", errors.Errorf("no leaf within %d levels", basic.MaxBranchLevels))
}

// Get 查找键对应的值
func (t *BTree) Get(key basic.Value, flags basic.ReadOpenFlags) (basic.Value, error) {
	if err := t.validateKey(key); err != nil {
		return nil, err
	}
	leaf, err := t.findLeaf(key, flags)
	if err != nil {
		return nil, err
	}
	i, found := leaf.search(t.cmp, key)
	if !found {
		return nil, basic.ErrKeyNotFound
	}
	return leaf.vals[i], nil
}

// Has 键是否存在
func (t *BTree) Has(key basic.Value, flags basic.ReadOpenFlags) (bool, error) {
	_, err := t.Get(key, flags)
	if basic.IsKeyNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// Put 插入或覆盖，返回是否新增了键
func (t *BTree) Put(key, val basic.Value) (bool, error) {
	op, err := t.apply(putUpsert, key, val)
	if err != nil {
		return false, err
	}
	return op.inserted, nil
}

// Update 覆盖已存在的键，键不存在时返回 KeyNotFound。
// 值变长放不下时按分裂处理，等价于删除后重新插入。
func (t *BTree) Update(key, val basic.Value) error {
	_, err := t.apply(putUpdate, key, val)
	return err
}

func (t *BTree) apply(mode putMode, key, val basic.Value) (*mutation, error) {
	if err := t.validateEntry(key, val); err != nil {
		return nil, err
	}
	tx, err := t.begin()
	if err != nil {
		return nil, err
	}
	op := &mutation{tree: t, tx: tx, mode: mode}
	if err := t.put(op, key.Clone(), val.Clone()); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := t.commit(tx, "put"); err != nil {
		return nil, err
	}
	if op.structural {
		t.bumpVersion()
	}
	return op, nil
}

func (t *BTree) put(op *mutation, key, val basic.Value) error {
	h := op.tx.Header()
	if h.Root == common.NIL_PAGE_ID {
		return basic.NewError(basic.ResultFileOperationFailed, "put", errors.New("tree not initialized"))
	}
	res, err := t.insert(op, h.Root, key, val)
	if err != nil {
		return err
	}
	if res.split != nil {
		if err := t.growRoot(op, res.split); err != nil {
			return err
		}
	}
	if op.inserted {
		h.KeyCount++
	}
	return nil
}

func (t *BTree) insert(op *mutation, pageNo uint32, key, val basic.Value) (result, error) {
	n, err := op.load(pageNo)
	if err != nil {
		return result{}, err
	}
	if n.leaf {
		i, found := n.search(t.cmp, key)
		switch {
		case found:
			n.vals[i] = val
		case op.mode == putUpdate:
			return result{}, basic.ErrKeyNotFound
		default:
			n.insertEntry(i, key, val)
			op.inserted = true
			op.structural = true
		}
		return t.finish(op, n)
	}

	i := n.childIndex(t.cmp, key)
	res, err := t.insert(op, n.children[i], key, val)
	if err != nil || res.split == nil {
		return result{}, err
	}
	n.insertChild(i, res.split.key, res.split.right)
	return t.finish(op, n)
}

// finish 写回修改后的节点，溢出时分裂
func (t *BTree) finish(op *mutation, n *node) (result, error) {
	if n.size() > usableSpace(op.pageSize()) {
		s, err := t.split(op, n)
		return result{split: s}, err
	}
	if err := op.write(n); err != nil {
		return result{}, err
	}
	return result{underflow: n.size() < op.minFill()}, nil
}

// split 按字节中点把 n 一分为二。叶子提升右半部分的第一个键，分支把中间键上移。
func (t *BTree) split(op *mutation, n *node) (*split, error) {
	op.structural = true
	id, err := op.tx.Allocate()
	if err != nil {
		return nil, errors.Wrapf(err, "split page %d", n.id)
	}

	if n.leaf {
		m := n.splitPoint(1, n.count()-1)
		right := newLeaf(id)
		right.keys = append([]basic.Value(nil), n.keys[m:]...)
		right.vals = append([]basic.Value(nil), n.vals[m:]...)
		n.keys = n.keys[:m:m]
		n.vals = n.vals[:m:m]

		right.prev = n.id
		right.next = n.next
		n.next = id
		if right.next != common.NIL_PAGE_ID {
			sib, err := op.load(right.next)
			if err != nil {
				return nil, err
			}
			sib.prev = id
			if err := op.write(sib); err != nil {
				return nil, err
			}
		}
		if err := op.write(n); err != nil {
			return nil, err
		}
		if err := op.write(right); err != nil {
			return nil, err
		}
		return &split{key: right.keys[0].Clone(), right: id}, nil
	}

	m := n.splitPoint(1, n.count()-2)
	up := n.keys[m]
	right := newBranch(id, n.children[m+1])
	right.keys = append([]basic.Value(nil), n.keys[m+1:]...)
	right.children = append([]uint32(nil), n.children[m+1:]...)
	n.keys = n.keys[:m:m]
	n.children = n.children[: m+1 : m+1]
	if err := op.write(n); err != nil {
		return nil, err
	}
	if err := op.write(right); err != nil {
		return nil, err
	}
	return &split{key: up, right: id}, nil
}

// growRoot 根分裂后新建根，树高加一
func (t *BTree) growRoot(op *mutation, s *split) error {
	h := op.tx.Header()
	if h.Depth+1 > h.MaxDepth {
		logger.Debugf("root split refused at depth %d, limit %d", h.Depth, h.MaxDepth)
		return basic.NewError(basic.ResultMaximumTableTreeDepth, "grow root",
			errors.Errorf("tree would need %d branch levels, limit is %d", h.Depth+1, h.MaxDepth))
	}
	id, err := op.tx.Allocate()
	if err != nil {
		return errors.Wrap(err, "grow root")
	}
	root := newBranch(id, h.Root)
	root.insertChild(0, s.key, s.right)
	if err := op.write(root); err != nil {
		return err
	}
	h.Root = id
	h.Depth++
	return nil
}

// Delete 删除键，不存在时返回 KeyNotFound
func (t *BTree) Delete(key basic.Value) error {
	if err := t.validateKey(key); err != nil {
		return err
	}
	tx, err := t.begin()
	if err != nil {
		return err
	}
	op := &mutation{tree: t, tx: tx, structural: true}
	if err := t.del(op, key); err != nil {
		tx.Rollback()
		return err
	}
	if err := t.commit(tx, "delete"); err != nil {
		return err
	}
	t.bumpVersion()
	return nil
}

func (t *BTree) del(op *mutation, key basic.Value) error {
	h := op.tx.Header()
	if h.Root == common.NIL_PAGE_ID {
		return basic.ErrKeyNotFound
	}
	res, err := t.remove(op, h.Root, key)
	if err != nil {
		return err
	}
	if res.split != nil {
		if err := t.growRoot(op, res.split); err != nil {
			return err
		}
	} else if err := t.shrinkRoot(op); err != nil {
		return err
	}
	h.KeyCount--
	return nil
}

func (t *BTree) remove(op *mutation, pageNo uint32, key basic.Value) (result, error) {
	n, err := op.load(pageNo)
	if err != nil {
		return result{}, err
	}
	if n.leaf {
		i, found := n.search(t.cmp, key)
		if !found {
			return result{}, basic.ErrKeyNotFound
		}
		n.removeEntry(i)
		return t.finish(op, n)
	}

	i := n.childIndex(t.cmp, key)
	res, err := t.remove(op, n.children[i], key)
	if err != nil {
		return result{}, err
	}
	switch {
	case res.split != nil:
		n.insertChild(i, res.split.key, res.split.right)
	case res.underflow:
		if err := t.rebalance(op, n, i); err != nil {
			return result{}, err
		}
	default:
		return result{}, nil
	}
	return t.finish(op, n)
}

// shrinkRoot 根为只剩一个子页面的分支时，子页面成为新根，树高减一
func (t *BTree) shrinkRoot(op *mutation) error {
	h := op.tx.Header()
	root, err := op.load(h.Root)
	if err != nil {
		return err
	}
	if root.leaf || root.count() > 0 {
		return nil
	}
	h.Root = root.children[0]
	h.Depth--
	return op.free(root)
}
