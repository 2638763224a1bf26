package btree

import (
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/bitable/server/bitable/basic"
	"github.com/zhukovaskychina/bitable/server/common"
)

type cursorState int

const (
	cursorUnpositioned cursorState = iota
	cursorPositioned
	cursorInvalidated
	// 定位越过最后一个条目，只能后退或重新定位
	cursorPastEnd
)

func (s cursorState) String() string {
	switch s {
	case cursorUnpositioned:
		return "unpositioned"
	case cursorPositioned:
		return "positioned"
	case cursorInvalidated:
		return "invalidated"
	case cursorPastEnd:
		return "past end"
	}
	return "unknown"
}

// Cursor 树上的有序迭代器。
// 只记录叶子页号与槽位，每次操作重新读取页面；树发生结构性修改后，
// 未重新定位的游标返回 InvalidCursorLocation。
type Cursor struct {
	tree  *BTree
	flags basic.ReadOpenFlags

	state   cursorState
	page    uint32
	slot    int
	version uint64
	closed  bool
}

// OpenCursor 打开游标，flags 只影响预读与缓存策略
func (t *BTree) OpenCursor(flags basic.ReadOpenFlags) *Cursor {
	return &Cursor{tree: t, flags: flags}
}

// Flags 访问提示
func (c *Cursor) Flags() basic.ReadOpenFlags {
	return c.flags
}

// Valid 游标是否停在一个条目上
func (c *Cursor) Valid() bool {
	return c.check() == nil && c.state == cursorPositioned
}

func (c *Cursor) check() error {
	if c.closed {
		return basic.NewError(basic.ResultInvalidCursorLocation, "cursor", errors.New("cursor closed"))
	}
	if c.state == cursorPositioned && c.version != c.tree.Version() {
		c.state = cursorInvalidated
	}
	if c.state == cursorInvalidated {
		return basic.NewError(basic.ResultInvalidCursorLocation, "cursor", errors.New("tree changed since the cursor was positioned"))
	}
	return nil
}

func (c *Cursor) position(page uint32, slot int) {
	c.state = cursorPositioned
	c.page = page
	c.slot = slot
	c.version = c.tree.Version()
}

func (c *Cursor) reset() {
	c.state = cursorUnpositioned
	c.page = common.NIL_PAGE_ID
	c.slot = 0
}

func (c *Cursor) readLeaf(pageNo uint32) (*node, error) {
	n, err := c.tree.readNode(pageNo, c.flags)
	if err != nil {
		return nil, err
	}
	if !n.leaf {
		return nil, basic.NewError(basic.ResultHeaderCorrupt, "cursor", errors.Errorf("page %d is not a leaf", pageNo))
	}
	return n, nil
}

// crossTo 沿兄弟链移动到下一个叶子，顺序模式下触发预读
func (c *Cursor) crossTo(pageNo uint32) (*node, error) {
	if c.flags == basic.ReadSequential {
		c.tree.store.ReadAhead(pageNo)
	}
	return c.readLeaf(pageNo)
}

// Seek 定位到第一个 >= key 的条目，不存在时返回 EndOfSequence，
// 之后 Next 继续返回 EndOfSequence，Previous 移动到最后一个条目
func (c *Cursor) Seek(key basic.Value) error {
	if c.closed {
		return c.check()
	}
	if err := c.tree.validateKey(key); err != nil {
		return err
	}
	c.reset()
	leaf, err := c.tree.findLeaf(key, c.flags)
	if err != nil {
		return err
	}
	i, _ := leaf.search(c.tree.cmp, key)
	for i >= leaf.count() {
		if leaf.next == common.NIL_PAGE_ID {
			c.state = cursorPastEnd
			return basic.ErrEndOfSequence
		}
		if leaf, err = c.crossTo(leaf.next); err != nil {
			return err
		}
		i = 0
	}
	c.position(leaf.id, i)
	return nil
}

// First 定位到最小的条目
func (c *Cursor) First() error {
	return c.edge(true)
}

// Last 定位到最大的条目
func (c *Cursor) Last() error {
	return c.edge(false)
}

func (c *Cursor) edge(first bool) error {
	if c.closed {
		return c.check()
	}
	c.reset()
	h := c.tree.store.Header()
	if h.Root == common.NIL_PAGE_ID {
		return basic.ErrEndOfSequence
	}
	pageNo := h.Root
	for level := 0; ; level++ {
		if level > basic.MaxBranchLevels {
			return basic.NewError(basic.ResultHeaderCorrupt, "cursor", errors.New("no leaf within the depth limit"))
		}
		n, err := c.tree.readNode(pageNo, c.flags)
		if err != nil {
			return err
		}
		if n.leaf {
			if n.count() == 0 {
				return basic.ErrEndOfSequence
			}
			if first {
				c.position(n.id, 0)
			} else {
				c.position(n.id, n.count()-1)
			}
			return nil
		}
		if first {
			pageNo = n.children[0]
		} else {
			pageNo = n.children[len(n.children)-1]
		}
	}
}

// Next 移动到下一个条目并返回它。未定位的游标从第一个条目开始。
// 已经在最后一个条目时返回 EndOfSequence，位置不变。
func (c *Cursor) Next() (basic.Value, basic.Value, error) {
	if err := c.check(); err != nil {
		return nil, nil, err
	}
	if c.state == cursorPastEnd {
		return nil, nil, basic.ErrEndOfSequence
	}
	if c.state == cursorUnpositioned {
		if err := c.First(); err != nil {
			return nil, nil, err
		}
		return c.Current()
	}
	leaf, err := c.readLeaf(c.page)
	if err != nil {
		return nil, nil, err
	}
	if c.slot+1 < leaf.count() {
		c.slot++
		return leaf.keys[c.slot], leaf.vals[c.slot], nil
	}
	for next := leaf.next; next != common.NIL_PAGE_ID; next = leaf.next {
		if leaf, err = c.crossTo(next); err != nil {
			return nil, nil, err
		}
		if leaf.count() > 0 {
			c.position(leaf.id, 0)
			return leaf.keys[0], leaf.vals[0], nil
		}
	}
	return nil, nil, basic.ErrEndOfSequence
}

// Previous 移动到上一个条目并返回它。未定位的游标从最后一个条目开始。
func (c *Cursor) Previous() (basic.Value, basic.Value, error) {
	if err := c.check(); err != nil {
		return nil, nil, err
	}
	if c.state == cursorUnpositioned || c.state == cursorPastEnd {
		if err := c.Last(); err != nil {
			return nil, nil, err
		}
		return c.Current()
	}
	leaf, err := c.readLeaf(c.page)
	if err != nil {
		return nil, nil, err
	}
	if c.slot > 0 && c.slot <= leaf.count() {
		c.slot--
		return leaf.keys[c.slot], leaf.vals[c.slot], nil
	}
	for prev := leaf.prev; prev != common.NIL_PAGE_ID; prev = leaf.prev {
		if leaf, err = c.readLeaf(prev); err != nil {
			return nil, nil, err
		}
		if n := leaf.count(); n > 0 {
			c.position(leaf.id, n-1)
			return leaf.keys[n-1], leaf.vals[n-1], nil
		}
	}
	return nil, nil, basic.ErrEndOfSequence
}

// Current 返回当前条目
func (c *Cursor) Current() (basic.Value, basic.Value, error) {
	if err := c.check(); err != nil {
		return nil, nil, err
	}
	if c.state != cursorPositioned {
		return nil, nil, basic.NewError(basic.ResultInvalidCursorLocation, "cursor", errors.New("cursor is not positioned"))
	}
	leaf, err := c.readLeaf(c.page)
	if err != nil {
		return nil, nil, err
	}
	if c.slot >= leaf.count() {
		c.state = cursorInvalidated
		return nil, nil, basic.NewError(basic.ResultInvalidCursorLocation, "cursor", errors.Errorf("slot %d of %d", c.slot, leaf.count()))
	}
	return leaf.keys[c.slot], leaf.vals[c.slot], nil
}

// Delete 删除当前条目，游标移动到其后的条目；已无后续条目时停在末尾之后。
// 其他游标因此失效。
func (c *Cursor) Delete() error {
	key, _, err := c.Current()
	if err != nil {
		return err
	}
	if err := c.tree.Delete(key); err != nil {
		return err
	}
	if err := c.Seek(key); err != nil && !basic.IsEndOfSequence(err) {
		return err
	}
	return nil
}

// Close 关闭游标，可重复调用
func (c *Cursor) Close() {
	c.closed = true
	c.reset()
}
