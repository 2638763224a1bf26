package btree

import (
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/bitable/server/bitable/basic"
	"github.com/zhukovaskychina/bitable/server/common"
	"github.com/zhukovaskychina/bitable/util"
)

// 节点页布局
//
//	| type(1) | flags(1) | nslots(2) | cellStart(2) | reserved(2) | prev/leftmost(4) | next(4) |
//	| slot[0] slot[1] ... -->                  <-- ... cell[1] cell[0] | checksum(8) |
//
// 叶子 cell: klen(2) vlen(2) key val
// 分支 cell: klen(2) child(4) key，child 为 key 右侧的子页面，最左子页面记录在页头
const (
	leafCellHeader   = 4
	branchCellHeader = 6

	offType      = 0
	offFlags     = 1
	offSlots     = 2
	offCellStart = 4
	offLink1     = 8
	offLink2     = 12
)

// node 页面的逻辑视图，解码后在内存中修改，再整体编码写回
type node struct {
	id   uint32
	leaf bool

	keys []basic.Value
	vals []basic.Value // 叶子

	// 分支，len(children) == len(keys)+1
	children []uint32

	// 叶子兄弟链
	prev uint32
	next uint32
}

func newLeaf(id uint32) *node {
	return &node{id: id, leaf: true}
}

func newBranch(id uint32, leftmost uint32) *node {
	return &node{id: id, children: []uint32{leftmost}}
}

// usableSpace 页头与校验和之外可用于槽位和 cell 的字节数
func usableSpace(pageSize int) int {
	return pageSize - common.PAGE_NODE_HEADER_SIZE - common.PAGE_TRAILER_SIZE
}

// maxEntrySize 单个条目的上限，保证分裂后两半都能放进一页
func maxEntrySize(pageSize int) int {
	return usableSpace(pageSize) / 4
}

func leafEntrySize(key, val basic.Value) int {
	return common.PAGE_SLOT_SIZE + leafCellHeader + len(key) + len(val)
}

func branchEntrySize(key basic.Value) int {
	return common.PAGE_SLOT_SIZE + branchCellHeader + len(key)
}

func (n *node) entrySize(i int) int {
	if n.leaf {
		return leafEntrySize(n.keys[i], n.vals[i])
	}
	return branchEntrySize(n.keys[i])
}

// size 所有条目占用的字节数
func (n *node) size() int {
	total := 0
	for i := range n.keys {
		total += n.entrySize(i)
	}
	return total
}

func (n *node) count() int {
	return len(n.keys)
}

// search 二分查找第一个 >= key 的位置
func (n *node) search(cmp basic.Comparator, key basic.Value) (int, bool) {
	lo, hi := 0, len(n.keys)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if cmp.Compare(n.keys[mid], key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, lo < len(n.keys) && cmp.Compare(n.keys[lo], key) == 0
}

// childIndex 分支中包含 key 的子页面下标：keys[i-1] <= key < keys[i]
func (n *node) childIndex(cmp basic.Comparator, key basic.Value) int {
	lo, hi := 0, len(n.keys)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if cmp.Compare(n.keys[mid], key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (n *node) insertEntry(i int, key, val basic.Value) {
	n.keys = append(n.keys, nil)
	copy(n.keys[i+1:], n.keys[i:])
	n.keys[i] = key
	n.vals = append(n.vals, nil)
	copy(n.vals[i+1:], n.vals[i:])
	n.vals[i] = val
}

func (n *node) removeEntry(i int) {
	n.keys = append(n.keys[:i], n.keys[i+1:]...)
	n.vals = append(n.vals[:i], n.vals[i+1:]...)
}

// insertChild 在分支的 keys[i] 处插入分隔键，right 成为其右侧子页面
func (n *node) insertChild(i int, key basic.Value, right uint32) {
	n.keys = append(n.keys, nil)
	copy(n.keys[i+1:], n.keys[i:])
	n.keys[i] = key
	n.children = append(n.children, 0)
	copy(n.children[i+2:], n.children[i+1:])
	n.children[i+1] = right
}

// removeChild 删除分隔键 keys[i] 及其右侧子页面
func (n *node) removeChild(i int) {
	n.keys = append(n.keys[:i], n.keys[i+1:]...)
	n.children = append(n.children[:i+1], n.children[i+2:]...)
}

// splitPoint 按字节数找中点，返回值保证两侧都非空
func (n *node) splitPoint(lo, hi int) int {
	total := n.size()
	acc := 0
	i := 0
	for ; i < len(n.keys); i++ {
		sz := n.entrySize(i)
		if acc+sz > total/2 {
			break
		}
		acc += sz
	}
	if i < lo {
		i = lo
	}
	if i > hi {
		i = hi
	}
	return i
}

// encode 编码为整页，校验和由存储层在写盘前填写
func (n *node) encode(pageSize int) ([]byte, error) {
	if n.size() > usableSpace(pageSize) {
		return nil, errors.Errorf("node %d overflows page: %d of %d bytes", n.id, n.size(), usableSpace(pageSize))
	}
	page := make([]byte, pageSize)
	cellEnd := pageSize - common.PAGE_TRAILER_SIZE
	if n.leaf {
		page[offType] = common.FILE_PAGE_TYPE_LEAF
		util.PutUB4(page, offLink1, n.prev)
		util.PutUB4(page, offLink2, n.next)
	} else {
		page[offType] = common.FILE_PAGE_TYPE_BRANCH
		util.PutUB4(page, offLink1, n.children[0])
	}
	util.PutUB2(page, offSlots, uint16(len(n.keys)))

	cell := make([]byte, 0, 64)
	for i, key := range n.keys {
		cell = cell[:0]
		cell = util.WriteUB2(cell, uint16(len(key)))
		if n.leaf {
			cell = util.WriteUB2(cell, uint16(len(n.vals[i])))
			cell = util.WriteBytes(cell, key)
			cell = util.WriteBytes(cell, n.vals[i])
		} else {
			cell = util.WriteUB4(cell, n.children[i+1])
			cell = util.WriteBytes(cell, key)
		}
		cellEnd -= len(cell)
		copy(page[cellEnd:], cell)
		util.PutUB2(page, common.PAGE_NODE_HEADER_SIZE+i*common.PAGE_SLOT_SIZE, uint16(cellEnd))
	}
	util.PutUB2(page, offCellStart, uint16(cellEnd))
	return page, nil
}

func corruptNode(id uint32, format string, args ...interface{}) error {
	return basic.NewError(basic.ResultHeaderCorrupt, "decode node", errors.Errorf("page %d: "+format, append([]interface{}{id}, args...)...))
}

// decodeNode 解析节点页，所有偏移都做越界检查
func decodeNode(id uint32, page []byte) (*node, error) {
	pageSize := len(page)
	n := &node{id: id}
	switch page[offType] {
	case common.FILE_PAGE_TYPE_LEAF:
		n.leaf = true
	case common.FILE_PAGE_TYPE_BRANCH:
	default:
		return nil, corruptNode(id, "unexpected %s page", common.PageTypeName(page[offType]))
	}

	_, nslots := util.ReadUB2(page, offSlots)
	_, cellStart := util.ReadUB2(page, offCellStart)
	_, link1 := util.ReadUB4(page, offLink1)
	_, link2 := util.ReadUB4(page, offLink2)
	cellEnd := pageSize - common.PAGE_TRAILER_SIZE
	slotEnd := common.PAGE_NODE_HEADER_SIZE + int(nslots)*common.PAGE_SLOT_SIZE
	if slotEnd > int(cellStart) || int(cellStart) > cellEnd {
		return nil, corruptNode(id, "%d slots, cells start at %d", nslots, cellStart)
	}

	n.keys = make([]basic.Value, nslots)
	if n.leaf {
		n.vals = make([]basic.Value, nslots)
		n.prev, n.next = link1, link2
	} else {
		n.children = make([]uint32, nslots+1)
		n.children[0] = link1
	}
	header := leafCellHeader
	if !n.leaf {
		header = branchCellHeader
	}
	for i := 0; i < int(nslots); i++ {
		_, off := util.ReadUB2(page, common.PAGE_NODE_HEADER_SIZE+i*common.PAGE_SLOT_SIZE)
		pos := int(off)
		if pos < int(cellStart) || pos+header > cellEnd {
			return nil, corruptNode(id, "slot %d points at %d", i, pos)
		}
		pos, klen := util.ReadUB2(page, pos)
		if n.leaf {
			var vlen uint16
			pos, vlen = util.ReadUB2(page, pos)
			if pos+int(klen)+int(vlen) > cellEnd {
				return nil, corruptNode(id, "cell %d overruns page", i)
			}
			var key, val []byte
			pos, key = util.ReadBytes(page, pos, int(klen))
			_, val = util.ReadBytes(page, pos, int(vlen))
			n.keys[i] = basic.Value(key).Clone()
			n.vals[i] = basic.Value(val).Clone()
		} else {
			var child uint32
			pos, child = util.ReadUB4(page, pos)
			if pos+int(klen) > cellEnd {
				return nil, corruptNode(id, "cell %d overruns page", i)
			}
			_, key := util.ReadBytes(page, pos, int(klen))
			n.keys[i] = basic.Value(key).Clone()
			n.children[i+1] = child
		}
	}
	return n, nil
}
